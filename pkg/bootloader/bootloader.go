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

// Package bootloader implements BootloaderInstaller (base-spec §4.6): one
// variant per {GRUB2-BIOS, GRUB2-EFI, Limine-BIOS, Limine-UEFI, U-Boot},
// each writing stage1/stage2, configuration, and UUID-referencing boot
// entries. Grounded on the teacher's own EFI dependency declaration and on
// SUSE/elemental's pkg/bootloader/grub.go (installGrub, installKernelInitrd,
// writeGrubConfig, EFI-entry copy-and-template pattern), generalized from
// elemental's snapshot-ID boot-entry model to a plain UUID-referencing one.
package bootloader

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// InstallParams carries everything an Installer needs: the build context
// (chroot path, manifest, FS/Runner), the whole-disk loop device, the
// per-partition device map, and the UUID map BlockBackend assembled after
// mkfs — base-spec §4.6's "Uses the UUID map from §4.2."
type InstallParams struct {
	BuildCtx   *buildctx.BuildContext
	LoopDevice string
	Devices    map[string]string
	UUIDs      map[string]uuid.UUID
}

// Installer is the common operation contract every bootloader variant
// implements; base-spec §9's "tagged union over variants sharing a common
// operation contract."
type Installer interface {
	Install(p InstallParams) error
}

// New selects the Installer for kind. Architecture-appropriate selection is
// derived from the manifest, not the host, per base-spec §4.6.
func New(kind types.BootloaderKind) (Installer, error) {
	switch kind {
	case types.BootloaderGrub2BIOS:
		return &grub2BIOS{}, nil
	case types.BootloaderGrub2EFI:
		return &grub2EFI{}, nil
	case types.BootloaderLimineBIOS:
		return &limine{efi: false}, nil
	case types.BootloaderLimineUEFI:
		return &limine{efi: true}, nil
	case types.BootloaderUBoot:
		return &uboot{}, nil
	default:
		return nil, katsuerrors.New(fmt.Sprintf("unknown bootloader kind %q", kind), katsuerrors.ManifestInvalid)
	}
}

// findPartition returns the first PartitionDescriptor with the given tag.
func findPartition(m *types.Manifest, tag types.PartitionTypeTag) (types.PartitionDescriptor, bool) {
	for _, p := range m.Disk.Partitions {
		if p.Type == tag {
			return p, true
		}
	}
	return types.PartitionDescriptor{}, false
}

// rootUUID returns the discovered UUID of the root partition, failing with
// BootloaderFailure if mkfs never ran against one (manifest invariant
// violation base-spec §3 should already have rejected upstream, but the
// installer does not trust that silently).
func rootUUID(m *types.Manifest, uuids map[string]uuid.UUID) (uuid.UUID, error) {
	root, ok := findPartition(m, types.PartitionRoot)
	if !ok {
		return uuid.UUID{}, katsuerrors.New("manifest has no root partition", katsuerrors.BootloaderFailure)
	}
	id, ok := uuids[root.Label]
	if !ok {
		return uuid.UUID{}, katsuerrors.New(fmt.Sprintf("no discovered UUID for root partition %q", root.Label), katsuerrors.BootloaderFailure)
	}
	return id, nil
}

// kernelEntry is one discovered kernel in /boot, used to populate the grub
// and limine config templates.
type kernelEntry struct {
	KernelVersion string
	Linux         string
	Initrd        string
}

// discoverKernels scans bootDir for vmlinuz-* files and pairs each with its
// initramfs-*, base-spec §4.6's "entries for every discovered kernel in
// /boot".
func discoverKernels(fs types.FS, bootDir string) ([]kernelEntry, error) {
	entries, err := fs.ReadDir(bootDir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", bootDir, err)
	}

	var kernels []kernelEntry
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "vmlinuz-") {
			continue
		}
		version := strings.TrimPrefix(name, "vmlinuz-")
		initrd := "initramfs-" + version + ".img"
		if _, err := fs.Stat(filepath.Join(bootDir, initrd)); err != nil {
			continue
		}
		kernels = append(kernels, kernelEntry{
			KernelVersion: version,
			Linux:         "/" + name,
			Initrd:        "/" + initrd,
		})
	}
	sort.Slice(kernels, func(i, j int) bool { return kernels[i].KernelVersion > kernels[j].KernelVersion })
	if len(kernels) == 0 {
		return nil, fmt.Errorf("no kernel found under %s", bootDir)
	}
	return kernels, nil
}

// copyFile copies src to dst through the FS abstraction, creating parent
// directories as needed, the same shape as elemental's vfs.CopyFile used by
// installEFIEntry.
func copyFile(fs types.FS, src, dst string) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}
