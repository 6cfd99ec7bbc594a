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

package types

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Architecture identifies the target architecture, independent of the host
// running katsu.
type Architecture string

const (
	ArchX86_64  Architecture = "x86_64"
	ArchAarch64 Architecture = "aarch64"
	ArchRiscv64 Architecture = "riscv64"
)

// BuilderKind selects a Bootstrap variant.
type BuilderKind string

const (
	BuilderDnf      BuilderKind = "dnf"
	BuilderDnf5     BuilderKind = "dnf5"
	BuilderOCI      BuilderKind = "oci"
	BuilderTar      BuilderKind = "tar"
	BuilderSquashfs BuilderKind = "squashfs"
	BuilderDir      BuilderKind = "dir"
)

// BootloaderKind selects a BootloaderInstaller variant.
type BootloaderKind string

const (
	BootloaderGrub2BIOS  BootloaderKind = "grub2-bios"
	BootloaderGrub2EFI   BootloaderKind = "grub2-efi"
	BootloaderLimineBIOS BootloaderKind = "limine-bios"
	BootloaderLimineUEFI BootloaderKind = "limine-uefi"
	BootloaderUBoot      BootloaderKind = "u-boot"
)

// IsUEFI reports whether the bootloader kind targets UEFI firmware.
func (b BootloaderKind) IsUEFI() bool {
	return b == BootloaderGrub2EFI || b == BootloaderLimineUEFI || b == BootloaderUBoot
}

// IsBIOS reports whether the bootloader kind targets legacy BIOS firmware.
func (b BootloaderKind) IsBIOS() bool {
	return b == BootloaderGrub2BIOS || b == BootloaderLimineBIOS
}

// OutputKind selects an OutputAssembler pipeline.
type OutputKind string

const (
	OutputDiskImage OutputKind = "disk-image"
	OutputISO       OutputKind = "iso"
	OutputSquashfs  OutputKind = "squashfs"
	OutputErofs     OutputKind = "erofs"
	OutputDirectory OutputKind = "directory"
	OutputTar       OutputKind = "tar"
)

// PartitionTableKind selects GPT or MBR partitioning.
type PartitionTableKind string

const (
	TableGPT PartitionTableKind = "gpt"
	TableMBR PartitionTableKind = "mbr"
)

// PartitionTypeTag names the role of a partition. Custom GUIDs are carried
// in CustomGUID when Tag is PartitionRaw and a specific GPT type is wanted.
type PartitionTypeTag string

const (
	PartitionESP       PartitionTypeTag = "esp"
	PartitionXBootLdr  PartitionTypeTag = "xbootldr"
	PartitionBiosGrub  PartitionTypeTag = "bios-grub"
	PartitionRoot      PartitionTypeTag = "root"
	PartitionSwap      PartitionTypeTag = "swap"
	PartitionRaw       PartitionTypeTag = "raw"
)

// FilesystemKind names a filesystem creation mechanism.
type FilesystemKind string

const (
	FSExt4     FilesystemKind = "ext4"
	FSXFS      FilesystemKind = "xfs"
	FSBtrfs    FilesystemKind = "btrfs"
	FSVfat     FilesystemKind = "vfat"
	FSF2FS     FilesystemKind = "f2fs"
	FSNone     FilesystemKind = "none"
)

// GrowFS is the sentinel size value meaning "consume all remaining space".
const GrowFS = "grow-fs"

// PartitionFlag names a partition property independent of its type tag.
type PartitionFlag string

const (
	FlagGrowFS PartitionFlag = "grow-fs"
	FlagBoot   PartitionFlag = "boot"
)

// PartitionDescriptor is one ordered entry of Manifest.Disk.Partitions.
type PartitionDescriptor struct {
	Index      int              `yaml:"index" mapstructure:"index"`
	Label      string           `yaml:"label" mapstructure:"label"`
	Type       PartitionTypeTag `yaml:"type" mapstructure:"type"`
	CustomGUID string           `yaml:"guid,omitempty" mapstructure:"guid"`
	Filesystem FilesystemKind   `yaml:"filesystem" mapstructure:"filesystem"`
	// SizeBytes is ignored when Grow is true.
	SizeBytes  uint64          `yaml:"size,omitempty" mapstructure:"size"`
	Grow       bool            `yaml:"grow,omitempty" mapstructure:"grow"`
	MountPoint string          `yaml:"mount-point,omitempty" mapstructure:"mount-point"`
	Flags      []PartitionFlag `yaml:"flags,omitempty" mapstructure:"flags"`
	// RawPayload, if set, is dd'd into the partition after mkfs (or instead
	// of mkfs when Filesystem is FSNone).
	RawPayload string `yaml:"raw-payload,omitempty" mapstructure:"raw-payload"`
}

// Mounted reports whether the partition is mounted within the chroot.
func (p PartitionDescriptor) Mounted() bool {
	return p.MountPoint != "" && p.MountPoint != "-"
}

// HasFlag reports whether the partition carries the given flag.
func (p PartitionDescriptor) HasFlag(f PartitionFlag) bool {
	for _, fl := range p.Flags {
		if fl == f {
			return true
		}
	}
	return false
}

// DiskSpec describes the disk sizing and partition layout for disk-image and
// iso outputs.
type DiskSpec struct {
	TotalSize  uint64                `yaml:"size" mapstructure:"size"`
	Table      PartitionTableKind    `yaml:"table" mapstructure:"table"`
	Partitions []PartitionDescriptor `yaml:"partitions" mapstructure:"partitions"`
}

// alignmentMargin is the 1 MiB head/tail alignment slack base-spec §3
// invariant 2 requires.
const alignmentMargin uint64 = 1 << 20

// MinDiskSize returns the minimum disk size the layout requires: the sum of
// every fixed-size partition plus the alignment margin. A grow-fs partition
// contributes nothing of its own since it consumes what remains.
func (d DiskSpec) MinDiskSize() uint64 {
	var total uint64 = alignmentMargin
	for _, p := range d.Partitions {
		if !p.Grow {
			total += p.SizeBytes
		}
	}
	return total
}

// Validate checks DiskSpec and PartitionDescriptor invariants from base-spec
// §3. It does not fill defaults; the manifest loader (an external
// collaborator) is responsible for that before the core ever sees a Manifest.
func (d DiskSpec) Validate(bootloader BootloaderKind) error {
	growCount := 0
	hasESP := false
	hasBiosGrub := false
	mountPoints := map[string]bool{"/": true}

	for i, p := range d.Partitions {
		if p.Grow {
			growCount++
			if i != len(d.Partitions)-1 {
				return fmt.Errorf("manifest invalid: grow-fs partition %q must be last in the table", p.Label)
			}
		}
		switch p.Type {
		case PartitionESP:
			hasESP = true
		case PartitionBiosGrub:
			hasBiosGrub = true
		}
		if p.Mounted() {
			if !path.IsAbs(p.MountPoint) {
				return fmt.Errorf("manifest invalid: partition %q mount-point %q is not absolute", p.Label, p.MountPoint)
			}
			mountPoints[path.Clean(p.MountPoint)] = true
		}
	}

	if growCount > 1 {
		return fmt.Errorf("manifest invalid: exactly one partition may have size %s, found %d", GrowFS, growCount)
	}

	if d.TotalSize != 0 && d.MinDiskSize() > d.TotalSize {
		return fmt.Errorf("manifest invalid: disk size %d is smaller than the minimum required %d", d.TotalSize, d.MinDiskSize())
	}

	for mp := range mountPoints {
		if mp == "/" {
			continue
		}
		parent := path.Dir(mp)
		if !mountPoints[parent] {
			return fmt.Errorf("manifest invalid: mount-point %q has no mounted parent %q", mp, parent)
		}
	}

	if hasESP && !bootloader.IsUEFI() {
		return fmt.Errorf("manifest invalid: an esp partition requires a UEFI bootloader, got %q", bootloader)
	}
	if hasBiosGrub && !bootloader.IsBIOS() {
		return fmt.Errorf("manifest invalid: a bios-grub partition requires a BIOS bootloader, got %q", bootloader)
	}

	return nil
}

// PartitionsByMountDepth returns the partitions that are mounted, ordered by
// ascending mount-point depth (lexicographic slash count), so "/" precedes
// "/boot" precedes "/boot/efi" — the order base-spec §4.3 requires.
func (d DiskSpec) PartitionsByMountDepth() []PartitionDescriptor {
	var mounted []PartitionDescriptor
	for _, p := range d.Partitions {
		if p.Mounted() {
			mounted = append(mounted, p)
		}
	}
	depth := func(mountPoint string) int {
		clean := path.Clean(mountPoint)
		if clean == "/" {
			return 0
		}
		return strings.Count(clean, "/")
	}
	sort.SliceStable(mounted, func(i, j int) bool {
		return depth(mounted[i].MountPoint) < depth(mounted[j].MountPoint)
	})
	return mounted
}

// ScriptPhase selects when a script runs relative to Bootstrap.
type ScriptPhase string

const (
	PhasePre  ScriptPhase = "pre"
	PhasePost ScriptPhase = "post"
)

// ScriptContext selects whether a script runs on the host or inside the
// mounted chroot.
type ScriptContext string

const (
	ContextHost   ScriptContext = "host"
	ContextChroot ScriptContext = "chroot"
)

// ScriptDescriptor is one entry of Manifest.Scripts.
type ScriptDescriptor struct {
	ID       string            `yaml:"id" mapstructure:"id"`
	Name     string            `yaml:"name,omitempty" mapstructure:"name"`
	Phase    ScriptPhase       `yaml:"phase" mapstructure:"phase"`
	Context  ScriptContext     `yaml:"context" mapstructure:"context"`
	Body     string            `yaml:"body,omitempty" mapstructure:"body"`
	Path     string            `yaml:"path,omitempty" mapstructure:"path"`
	Priority int               `yaml:"priority,omitempty" mapstructure:"priority"`
	Exports  map[string]string `yaml:"exports,omitempty" mapstructure:"exports"`

	// declarationIndex is filled by Manifest.Validate and breaks priority
	// ties in listed order, per base-spec §4.5.
	declarationIndex int
}

// DeclarationIndex returns the position this script had in the manifest's
// script list, used as the ScriptRunner ordering tie-break.
func (s ScriptDescriptor) DeclarationIndex() int { return s.declarationIndex }

// UserAccount is one manifest-declared account to create during bootstrap.
type UserAccount struct {
	Name         string   `yaml:"name" mapstructure:"name"`
	PasswordHash string   `yaml:"password-hash,omitempty" mapstructure:"password-hash"`
	Groups       []string `yaml:"groups,omitempty" mapstructure:"groups"`
	Shell        string   `yaml:"shell,omitempty" mapstructure:"shell"`
	Home         string   `yaml:"home,omitempty" mapstructure:"home"`
	SSHKeys      []string `yaml:"ssh-keys,omitempty" mapstructure:"ssh-keys"`
	UID          int      `yaml:"uid,omitempty" mapstructure:"uid"`
}

// ImportSpec names a pre-resolved manifest fragment merged before the core
// ever sees the Manifest (base-spec §3: "optional imports merged before
// reaching the core").
type ImportSpec struct {
	Source string `yaml:"source" mapstructure:"source"`
}

// BootstrapSpec parameterizes the selected BuilderKind.
type BootstrapSpec struct {
	Kind         BuilderKind `yaml:"kind" mapstructure:"kind"`
	ReleaseVer   string      `yaml:"releasever,omitempty" mapstructure:"releasever"`
	RepoDir      string      `yaml:"repo-dir,omitempty" mapstructure:"repo-dir"`
	Packages     []string    `yaml:"packages,omitempty" mapstructure:"packages"`
	Excludes     []string    `yaml:"excludes,omitempty" mapstructure:"excludes"`
	GPGCheck     bool        `yaml:"gpgcheck,omitempty" mapstructure:"gpgcheck"`
	SourcePath   string      `yaml:"source,omitempty" mapstructure:"source"`
	OCIReference string      `yaml:"oci-reference,omitempty" mapstructure:"oci-reference"`
	CosignVerify bool        `yaml:"cosign-verify,omitempty" mapstructure:"cosign-verify"`
	CosignPubKey string      `yaml:"cosign-key,omitempty" mapstructure:"cosign-key"`
}

// OutputSpec describes the requested artifact.
type OutputSpec struct {
	Kind              OutputKind `yaml:"kind" mapstructure:"kind"`
	Path              string     `yaml:"path,omitempty" mapstructure:"path"`
	VolumeID          string     `yaml:"volid,omitempty" mapstructure:"volid"`
	ChainedInputPath  string     `yaml:"chained-input,omitempty" mapstructure:"chained-input"`
	SquashFsNoCompress bool      `yaml:"squash-no-compression,omitempty" mapstructure:"squash-no-compression"`
	SquashFsCompression []string `yaml:"squash-compression,omitempty" mapstructure:"squash-compression"`
}

// Manifest is the fully-resolved, read-only configuration value consumed by
// every component (base-spec §3, §6). The manifest loader — an external
// collaborator — performs schema validation, import resolution and default
// filling before constructing this value.
type Manifest struct {
	Distro      string             `yaml:"distro" mapstructure:"distro"`
	Arch        Architecture       `yaml:"arch" mapstructure:"arch"`
	Bootloader  BootloaderKind     `yaml:"bootloader" mapstructure:"bootloader"`
	Bootstrap   BootstrapSpec      `yaml:"bootstrap" mapstructure:"bootstrap"`
	Accounts    []UserAccount      `yaml:"accounts,omitempty" mapstructure:"accounts"`
	Disk        DiskSpec           `yaml:"disk" mapstructure:"disk"`
	Scripts     []ScriptDescriptor `yaml:"scripts,omitempty" mapstructure:"scripts"`
	Output      OutputSpec         `yaml:"output" mapstructure:"output"`
	Imports     []ImportSpec       `yaml:"imports,omitempty" mapstructure:"imports"`
}

// Validate runs every base-spec §3 invariant the core itself depends on
// (§8's boundary-behavior properties expect these rejections to originate
// from the core, not just the external loader).
func (m *Manifest) Validate() error {
	if m.Distro == "" {
		return fmt.Errorf("manifest invalid: distro name is required")
	}
	switch m.Arch {
	case ArchX86_64, ArchAarch64, ArchRiscv64:
	default:
		return fmt.Errorf("manifest invalid: unsupported architecture %q", m.Arch)
	}

	if m.Output.Kind == OutputDiskImage || m.Output.Kind == OutputISO {
		if err := m.Disk.Validate(m.Bootloader); err != nil {
			return err
		}
	}

	for i := range m.Scripts {
		m.Scripts[i].declarationIndex = i
		if m.Scripts[i].ID == "" {
			return fmt.Errorf("manifest invalid: script at index %d has no id", i)
		}
	}

	return nil
}

// OrderedScripts returns Scripts sorted per base-spec §4.5: all pre-scripts
// before all post-scripts, ties within a phase broken by ascending priority
// then ascending declaration index.
func (m Manifest) OrderedScripts(phase ScriptPhase) []ScriptDescriptor {
	var out []ScriptDescriptor
	for _, s := range m.Scripts {
		if s.Phase == phase {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].declarationIndex < out[j].declarationIndex
	})
	return out
}
