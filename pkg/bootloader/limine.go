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

package bootloader

import (
	_ "embed"
	"fmt"
	"path/filepath"

	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

//go:embed templates/limine.conf.tmpl
var limineCfgTemplate string

// limine writes the limine binary and a limine.conf naming the kernel,
// initramfs and command line, base-spec §4.6's Limine-BIOS/Limine-UEFI
// variant, for disk images. pkg/output's ISO pipeline does not call this
// installer: it writes the El Torito record with xorriso and stages GRUB
// boot code only, so no limine binary or config goes into an ISO.
type limine struct {
	efi bool
}

func (l *limine) Install(p InstallParams) error {
	m := p.BuildCtx.Manifest
	chroot := p.BuildCtx.ChrootPath()

	var targetDir, binName string
	if l.efi {
		esp, ok := findPartition(m, types.PartitionESP)
		if !ok {
			return katsuerrors.New("limine-uefi requires an esp partition", katsuerrors.ManifestInvalid)
		}
		targetDir = filepath.Join(chroot, esp.MountPoint, constants.EfiBootPath)
		binName = "BOOTX64.EFI"
		if m.Arch == types.ArchAarch64 {
			binName = "BOOTAA64.EFI"
		}
	} else {
		targetDir = filepath.Join(chroot, "boot", "limine")
		binName = "limine-bios.sys"
	}

	src := filepath.Join(chroot, "usr", "share", "limine", binName)
	if err := copyFile(p.BuildCtx.FS, src, filepath.Join(targetDir, binName)); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("copying limine binary: %w", err), katsuerrors.BootloaderFailure)
	}

	rootID, err := rootUUID(m, p.UUIDs)
	if err != nil {
		return err
	}
	kernels, err := discoverKernels(p.BuildCtx.FS, filepath.Join(chroot, "boot"))
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}

	data := grubCfgData{DisplayName: m.Distro, RootUUID: rootID.String(), Entries: kernels}
	cfgPath := filepath.Join(targetDir, "limine.conf")
	if err := renderTemplate(p.BuildCtx.FS, limineCfgTemplate, cfgPath, data); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	return nil
}
