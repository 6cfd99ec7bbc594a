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
	"fmt"
	"path/filepath"

	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// uboot copies the architecture-specific U-Boot binary to the ESP and
// leaves device-tree provisioning to post-scripts, base-spec §4.6's U-Boot
// (aarch64 image targets) variant.
type uboot struct{}

func (u *uboot) Install(p InstallParams) error {
	m := p.BuildCtx.Manifest
	if m.Arch != types.ArchAarch64 {
		return katsuerrors.New(fmt.Sprintf("u-boot bootloader is only supported for aarch64, manifest requests %q", m.Arch), katsuerrors.ManifestInvalid)
	}

	esp, ok := findPartition(m, types.PartitionESP)
	if !ok {
		return katsuerrors.New("u-boot requires an esp partition", katsuerrors.ManifestInvalid)
	}

	chroot := p.BuildCtx.ChrootPath()
	src := filepath.Join(chroot, "usr", "share", "u-boot", string(m.Arch), "u-boot.bin")
	dst := filepath.Join(chroot, esp.MountPoint, "u-boot.bin")
	if err := copyFile(p.BuildCtx.FS, src, dst); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("copying u-boot binary: %w", err), katsuerrors.BootloaderFailure)
	}
	return nil
}
