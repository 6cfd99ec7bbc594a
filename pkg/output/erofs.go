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
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// erofsOutput is squashfsOutput's sibling for the erofs image format,
// base-spec §4.7's "squashfs/erofs" variant pair.
type erofsOutput struct{}

func (e *erofsOutput) Assemble(bc *buildctx.BuildContext) error {
	err := e.assemble(bc)
	if err == nil {
		// Moved before the stack unwinds, since unwind may remove the
		// working directory the image was staged in.
		err = moveArtifact(bc, filepath.Join(bc.ImageDir(), "rootfs.erofs"), bc.Manifest.Output.Path)
	}
	return finish(bc, err)
}

func (e *erofsOutput) assemble(bc *buildctx.BuildContext) error {
	pushChrootCleanup(bc)
	if err := populateAndScript(bc); err != nil {
		return err
	}
	if err := bc.FS.MkdirAll(bc.ImageDir(), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating image directory: %w", err), katsuerrors.BlockOrMountFailure)
	}
	return compressErofs(bc, bc.ChrootPath(), filepath.Join(bc.ImageDir(), "rootfs.erofs"))
}

// compressErofs shells out to mkfs.erofs. Unlike mksquashfs, mkfs.erofs
// takes the image path before the source directory.
func compressErofs(bc *buildctx.BuildContext, srcRoot, destPath string) error {
	if !bc.Runner.CommandExists("mkfs.erofs") {
		return katsuerrors.New("mkfs.erofs binary not found on host", katsuerrors.HostCapability)
	}

	args := []string{"-zlz4hc"}
	if bc.Manifest.Output.SquashFsNoCompress {
		args = []string{}
	}
	args = append(args, destPath, srcRoot)

	out, err := bc.Runner.Run("mkfs.erofs", args...)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("mkfs.erofs %s: %w", srcRoot, err), out, katsuerrors.BlockOrMountFailure)
	}
	return nil
}
