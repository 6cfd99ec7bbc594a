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

package constants

import (
	"fmt"
	"path/filepath"

	"github.com/katsu-project/katsu/pkg/types"
)

const (
	// WorkChroot, WorkImageDir and WorkIsoRoot are the fixed layout of the
	// working directory base-spec §6 names.
	WorkChroot   = "chroot"
	WorkImageDir = "image"
	WorkIsoRoot  = "iso-root"
	ImageName    = "katsu.img"

	LockFile = ".katsu.lock"

	// Default directory and file modes.
	DirPerm  = 0755
	FilePerm = 0644

	// EFI/GRUB boot tree layout, mirrored across GRUB2-EFI and the ISO
	// pipeline since both stage an EFI System Partition tree.
	EfiBootPath    = "/EFI/BOOT"
	EfiImgX86      = "bootx64.efi"
	EfiImgArm64    = "bootaa64.efi"
	EfiImgRiscv64  = "bootriscv64.efi"
	GrubCfgName    = "grub.cfg"
	GrubPrefixDir  = "/boot/grub2"
	IsoBootCatalog = "/boot/boot.catalog"
	IsoLoaderPath  = "/boot/x86_64/loader"
	IsoHybridMBR   = IsoLoaderPath + "/boot_hybrid.img"
	IsoBootFile    = IsoLoaderPath + "/eltorito.img"
	IsoSquashImage = "/LiveOS/squashfs.img"

	// RunnerEnv keys injected into every script, per base-spec §4.5.
	EnvChroot = "CHROOT"
	EnvArch   = "ARCH"
	EnvDistro = "DISTRO"

	// Environment variables consumed directly (base-spec §6).
	EnvLogLevel   = "KATSU_LOG"
	EnvKeepChroot = "KATSU_KEEP_CHROOT"
)

// Canonical GPT partition type GUIDs, base-spec §4.2's "Edge cases".
const (
	GUIDESP      = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	GUIDXBootLdr = "BC13C2FF-59E6-4262-A352-B275FD6F7172"
	GUIDBiosGrub = "21686148-6449-6E6F-744E-656564454649"
	GUIDRootX86  = "4F68BCE3-E8CD-4DB1-96E7-FBCAF984B709"
	GUIDRootArm  = "B921B045-1DF0-41C3-AF44-4C6F280D3FAE"
	// GUIDRootRiscv is not named in base-spec §4.2, cross-checked against
	// osbuild-images' partition_tables.go riscv64 entry.
	GUIDRootRiscv = "72EC70A6-CF74-40E6-BD49-4BDA08E8F224"
	GUIDSwap      = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
	GUIDLinuxData = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
)

// RootGUID returns the canonical GPT type GUID for a root partition on the
// given architecture, base-spec §4.2's architecture-conditional mapping.
func RootGUID(arch types.Architecture) (string, error) {
	switch arch {
	case types.ArchX86_64:
		return GUIDRootX86, nil
	case types.ArchAarch64:
		return GUIDRootArm, nil
	case types.ArchRiscv64:
		return GUIDRootRiscv, nil
	default:
		return "", fmt.Errorf("no canonical root GUID for architecture %q", arch)
	}
}

// PartitionGUID resolves the canonical GPT type GUID for a PartitionDescriptor,
// honoring an explicit CustomGUID override first.
func PartitionGUID(p types.PartitionDescriptor, arch types.Architecture) (string, error) {
	if p.CustomGUID != "" {
		return p.CustomGUID, nil
	}
	switch p.Type {
	case types.PartitionESP:
		return GUIDESP, nil
	case types.PartitionXBootLdr:
		return GUIDXBootLdr, nil
	case types.PartitionBiosGrub:
		return GUIDBiosGrub, nil
	case types.PartitionRoot:
		return RootGUID(arch)
	case types.PartitionSwap:
		return GUIDSwap, nil
	case types.PartitionRaw:
		return GUIDLinuxData, nil
	default:
		return "", fmt.Errorf("unknown partition type tag %q", p.Type)
	}
}

// MBRTypeCode resolves the 1-byte MBR partition type code for a
// PartitionDescriptor, base-spec §4.2's "For MBR, the table uses 1-byte type
// codes".
func MBRTypeCode(p types.PartitionDescriptor) byte {
	switch p.Type {
	case types.PartitionSwap:
		return 0x82
	case types.PartitionESP:
		return 0xef
	default:
		switch p.Filesystem {
		case types.FSVfat:
			return 0x0c
		case types.FSBtrfs, types.FSXFS, types.FSExt4, types.FSF2FS:
			return 0x83
		default:
			return 0x83
		}
	}
}

// GetCloudInitPaths returns the default paths scanned for declarative
// user/group/file imports, mirroring the teacher's own default set.
func GetCloudInitPaths() []string {
	return []string{"/system/oem", "/oem/", "/usr/local/cloud-config/"}
}

// GetDefaultSquashfsOptions returns the default mksquashfs options, with an
// arch-conditional BCJ filter for best compression, exactly as the teacher's
// constants.GetDefaultSquashfsOptions does.
func GetDefaultSquashfsOptions(arch types.Architecture) []string {
	options := []string{"-b", "1024k", "-comp", "xz", "-Xbcj"}
	switch arch {
	case types.ArchAarch64:
		options = append(options, "arm")
	case types.ArchRiscv64:
		// xz has no riscv64 BCJ filter; omit rather than pass a wrong one.
		return []string{"-b", "1024k", "-comp", "xz"}
	default:
		options = append(options, "x86")
	}
	return options
}

// GetSquashfsNoCompressionOptions returns the override used when the
// manifest sets OutputSpec.SquashFsNoCompress.
func GetSquashfsNoCompressionOptions() []string {
	return []string{"-noI", "-noD", "-noF", "-noX"}
}

// XorrisoBootloaderArgs builds the El Torito (BIOS) and EFI argument sets for
// the iso OutputAssembler pipeline, generalized from the teacher's
// constants.GetDefaultXorrisoBooloaderArgs / live.XorrisoBooloaderArgs split
// into a single function switching on firmware.
func XorrisoBootloaderArgs(root string, firmware types.BootloaderKind, efiImagePath string) []string {
	if firmware.IsUEFI() {
		return []string{
			"-append_partition", "2", "0xef", efiImagePath,
			"-boot_image", "any", fmt.Sprintf("cat_path=%s", IsoBootCatalog),
			"-boot_image", "any", "cat_hidden=on",
			"-boot_image", "any", "efi_path=--interval:appended_partition_2:all::",
			"-boot_image", "any", "platform_id=0xef",
			"-boot_image", "any", "appended_part_as=gpt",
			"-boot_image", "any", "partition_offset=16",
		}
	}
	return []string{
		"-boot_image", "grub", fmt.Sprintf("bin_path=%s", IsoBootFile),
		"-boot_image", "grub", fmt.Sprintf("grub2_mbr=%s", filepath.Join(root, IsoHybridMBR)),
		"-boot_image", "grub", "grub2_boot_info=on",
		"-boot_image", "any", "partition_offset=16",
		"-boot_image", "any", fmt.Sprintf("cat_path=%s", IsoBootCatalog),
		"-boot_image", "any", "cat_hidden=on",
		"-boot_image", "any", "boot_info_table=on",
		"-boot_image", "any", "platform_id=0x00",
	}
}

// EfiBootFileName returns the architecture-specific removable-media EFI boot
// stub name installed under EfiBootPath.
func EfiBootFileName(arch types.Architecture) (string, error) {
	switch arch {
	case types.ArchX86_64:
		return EfiImgX86, nil
	case types.ArchAarch64:
		return EfiImgArm64, nil
	case types.ArchRiscv64:
		return EfiImgRiscv64, nil
	default:
		return "", fmt.Errorf("no EFI boot stub name for architecture %q", arch)
	}
}
