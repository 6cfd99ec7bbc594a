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

package output

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// tarOutput is directoryOutput's sibling that streams the tree into a single
// (optionally compressed) tar archive, base-spec §10.7's "tar streaming
// reuses the xz/lz4 plumbing" from the tar Bootstrap variant, mirrored here
// for the writer side.
type tarOutput struct{}

func (t *tarOutput) Assemble(bc *buildctx.BuildContext) error {
	pushChrootCleanup(bc)
	err := populateAndScript(bc)
	if err == nil {
		if bc.Manifest.Output.Path == "" {
			err = katsuerrors.New("output.path is required for a tar output", katsuerrors.ManifestInvalid)
		} else {
			// Archive the chroot root before unwind removes it.
			err = writeTarArchive(bc.Manifest.Output.Path, bc.ChrootPath())
		}
	}
	return finish(bc, err)
}

// writeTarArchive streams srcRoot into a tar archive at destPath, choosing a
// compressor from destPath's extension the same way
// pkg/bootstrap.decompressStream chooses a decompressor.
func writeTarArchive(destPath, srcRoot string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating output directory for %s: %w", destPath, err), katsuerrors.BlockOrMountFailure)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating %s: %w", destPath, err), katsuerrors.BlockOrMountFailure)
	}
	defer f.Close()

	w, closeCompressor, err := compressWriter(destPath, f)
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}

	tw := tar.NewWriter(w)
	if err := tarWalk(tw, srcRoot); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}
	if err := tw.Close(); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}
	if closeCompressor != nil {
		if err := closeCompressor(); err != nil {
			return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
		}
	}
	return nil
}

// compressWriter wraps w with the compressor matching destPath's extension,
// returning an optional close func for compressors that buffer (xz).
func compressWriter(destPath string, w io.Writer) (io.Writer, func() error, error) {
	switch {
	case strings.HasSuffix(destPath, ".tar.xz"), strings.HasSuffix(destPath, ".txz"):
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, fmt.Errorf("opening xz stream: %w", err)
		}
		return xw, xw.Close, nil
	case strings.HasSuffix(destPath, ".tar.lz4"):
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	default:
		return w, nil, nil
	}
}

// tarWalk writes every entry under srcRoot into tw, archive-relative to
// srcRoot itself.
func tarWalk(tw *tar.Writer, srcRoot string) error {
	return filepath.Walk(srcRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == srcRoot {
			return nil
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			link, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			if _, err := io.Copy(tw, f); err != nil {
				return err
			}
		}
		return nil
	})
}
