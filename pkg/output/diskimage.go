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

	"github.com/katsu-project/katsu/pkg/block"
	"github.com/katsu-project/katsu/pkg/bootloader"
	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/mount"
	"github.com/katsu-project/katsu/pkg/types"
)

// diskImage implements base-spec §4.7's disk-image pipeline: allocate →
// attach loop → partition → mkfs → mount (ordered) → bootstrap →
// pre-scripts (host) → bind kernel fs → post-scripts (chroot) →
// bootloader → move the sparse file to the output path → release
// bindings → unmount → detach loop.
type diskImage struct{}

func (d *diskImage) Assemble(bc *buildctx.BuildContext) error {
	err := d.assemble(bc)
	if err == nil {
		// Move the finished image out of the working directory before the
		// stack unwinds: AllocateImage pushed the sparse file's own removal,
		// and by the time it runs the rename below has already made it a
		// no-op (or, with no output path, the build is relying on
		// keep-chroot to retain it, same as the chroot root itself).
		err = moveArtifact(bc, bc.ImagePath(), bc.Manifest.Output.Path)
	}
	return finish(bc, err)
}

func (d *diskImage) assemble(bc *buildctx.BuildContext) error {
	disk := bc.Manifest.Disk
	if err := disk.Validate(bc.Manifest.Bootloader); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
	}

	size := disk.TotalSize
	if size == 0 {
		size = disk.MinDiskSize()
	}

	backend := block.New(bc.Runner, bc.FS, bc.Stack)
	if err := bc.FS.MkdirAll(bc.ImageDir(), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating image directory: %w", err), katsuerrors.BlockOrMountFailure)
	}

	img, err := backend.AllocateImage(bc.ImagePath(), size)
	if err != nil {
		return err
	}

	loopDevice, err := backend.AttachLoop(bc.ImagePath())
	if err != nil {
		return err
	}

	devices, err := backend.WritePartitionTable(img, loopDevice, bc.Manifest.Arch, disk.Table, disk.Partitions)
	if err != nil {
		return err
	}

	for _, part := range disk.Partitions {
		dev, ok := devices[part.Label]
		if !ok {
			continue
		}
		if part.Filesystem != types.FSNone {
			id, err := backend.MakeFilesystem(dev, part.Filesystem, part.Label)
			if err != nil {
				return err
			}
			bc.UUIDs[part.Label] = id
		}
		if part.RawPayload != "" {
			if err := backend.DDBlocks(dev, part.RawPayload); err != nil {
				return err
			}
		}
	}

	if err := bc.FS.MkdirAll(bc.ChrootPath(), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating chroot root: %w", err), katsuerrors.BlockOrMountFailure)
	}
	// Pushed before any mount lands on it, so unwind releases the real and
	// bind mounts first and removes the now-empty directory last.
	pushChrootCleanup(bc)

	planner := mount.New(bc.Mount, bc.Stack)
	if err := planner.MountPartitions(bc.ChrootPath(), disk.Partitions, devices); err != nil {
		return err
	}

	if err := populateAndScript(bc); err != nil {
		return err
	}

	installer, err := bootloader.New(bc.Manifest.Bootloader)
	if err != nil {
		return err
	}
	if err := installer.Install(bootloader.InstallParams{
		BuildCtx:   bc,
		LoopDevice: loopDevice,
		Devices:    devices,
		UUIDs:      bc.UUIDs,
	}); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}

	return nil
}
