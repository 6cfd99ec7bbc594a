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
	"fmt"
	"path/filepath"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// squashfsOutput bootstraps a root, scripts it, then compresses the tree
// into a single squashfs image, base-spec §4.7's squashfs variant.
type squashfsOutput struct{}

func (s *squashfsOutput) Assemble(bc *buildctx.BuildContext) error {
	err := s.assemble(bc)
	if err == nil {
		// Moved before the stack unwinds, since unwind may remove the
		// working directory the image was staged in.
		err = moveArtifact(bc, filepath.Join(bc.ImageDir(), "rootfs.squashfs"), bc.Manifest.Output.Path)
	}
	return finish(bc, err)
}

func (s *squashfsOutput) assemble(bc *buildctx.BuildContext) error {
	pushChrootCleanup(bc)
	if err := populateAndScript(bc); err != nil {
		return err
	}
	if err := bc.FS.MkdirAll(bc.ImageDir(), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating image directory: %w", err), katsuerrors.BlockOrMountFailure)
	}
	return compressSquashfs(bc, bc.ChrootPath(), filepath.Join(bc.ImageDir(), "rootfs.squashfs"))
}

// compressSquashfs shells out to mksquashfs, honoring
// OutputSpec.SquashFsNoCompress/SquashFsCompression overrides over the
// teacher's own constants.GetDefaultSquashfsOptions default.
func compressSquashfs(bc *buildctx.BuildContext, srcRoot, destPath string) error {
	if !bc.Runner.CommandExists("mksquashfs") {
		return katsuerrors.New("mksquashfs binary not found on host", katsuerrors.HostCapability)
	}

	args := []string{srcRoot, destPath, "-noappend"}
	out := bc.Manifest.Output
	switch {
	case out.SquashFsNoCompress:
		args = append(args, constants.GetSquashfsNoCompressionOptions()...)
	case len(out.SquashFsCompression) > 0:
		args = append(args, out.SquashFsCompression...)
	default:
		args = append(args, constants.GetDefaultSquashfsOptions(bc.Manifest.Arch)...)
	}

	res, err := bc.Runner.Run("mksquashfs", args...)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("mksquashfs %s: %w", srcRoot, err), res, katsuerrors.BlockOrMountFailure)
	}
	return nil
}
