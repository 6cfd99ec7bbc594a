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

package types_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/types"
)

func TestManifest(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Manifest Suite")
}

func gptDisk(parts ...types.PartitionDescriptor) types.DiskSpec {
	return types.DiskSpec{TotalSize: 8 << 30, Table: types.TableGPT, Partitions: parts}
}

var _ = Describe("DiskSpec.Validate", func() {
	It("accepts a partition sum exactly equal to disk size", func() {
		d := types.DiskSpec{
			TotalSize: (1 << 20) + (100 << 20),
			Table:     types.TableGPT,
			Partitions: []types.PartitionDescriptor{
				{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, SizeBytes: 100 << 20, MountPoint: "/"},
			},
		}
		Expect(d.Validate(types.BootloaderGrub2EFI)).To(Succeed())
	})

	It("rejects a partition sum exceeding disk size", func() {
		d := types.DiskSpec{
			TotalSize: 100 << 20,
			Table:     types.TableGPT,
			Partitions: []types.PartitionDescriptor{
				{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, SizeBytes: 200 << 20, MountPoint: "/"},
			},
		}
		err := d.Validate(types.BootloaderGrub2EFI)
		Expect(err).To(HaveOccurred())
	})

	It("rejects more than one grow-fs partition", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
			types.PartitionDescriptor{Label: "data", Type: types.PartitionRaw, Filesystem: types.FSExt4, Grow: true, MountPoint: "/data"},
		)
		err := d.Validate(types.BootloaderGrub2EFI)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a mount-point set that is not a tree", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "efi", Type: types.PartitionESP, Filesystem: types.FSVfat, SizeBytes: 512 << 20, MountPoint: "/boot/efi"},
			types.PartitionDescriptor{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
		)
		err := d.Validate(types.BootloaderGrub2EFI)
		Expect(err).To(HaveOccurred())
	})

	It("accepts a mount-point whose parent is also mounted", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "boot", Type: types.PartitionXBootLdr, Filesystem: types.FSExt4, SizeBytes: 1 << 30, MountPoint: "/boot"},
			types.PartitionDescriptor{Label: "efi", Type: types.PartitionESP, Filesystem: types.FSVfat, SizeBytes: 512 << 20, MountPoint: "/boot/efi"},
			types.PartitionDescriptor{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
		)
		Expect(d.Validate(types.BootloaderGrub2EFI)).To(Succeed())
	})

	It("rejects an esp partition with a BIOS bootloader", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "efi", Type: types.PartitionESP, Filesystem: types.FSVfat, SizeBytes: 512 << 20, MountPoint: "/boot/efi"},
			types.PartitionDescriptor{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
		)
		err := d.Validate(types.BootloaderGrub2BIOS)
		Expect(err).To(HaveOccurred())
	})

	It("rejects a bios-grub partition with a UEFI bootloader", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "bios", Type: types.PartitionBiosGrub, Filesystem: types.FSNone, SizeBytes: 1 << 20},
			types.PartitionDescriptor{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
		)
		err := d.Validate(types.BootloaderGrub2EFI)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("DiskSpec.PartitionsByMountDepth", func() {
	It("orders shallower mount-points first", func() {
		d := gptDisk(
			types.PartitionDescriptor{Label: "efi", MountPoint: "/boot/efi"},
			types.PartitionDescriptor{Label: "root", MountPoint: "/"},
			types.PartitionDescriptor{Label: "boot", MountPoint: "/boot"},
		)
		ordered := d.PartitionsByMountDepth()
		Expect(ordered).To(HaveLen(3))
		Expect(ordered[0].Label).To(Equal("root"))
		Expect(ordered[1].Label).To(Equal("boot"))
		Expect(ordered[2].Label).To(Equal("efi"))
	})
})

var _ = Describe("Manifest.OrderedScripts", func() {
	It("sorts by priority then declaration order within a phase", func() {
		m := &types.Manifest{
			Distro: "test", Arch: types.ArchX86_64, Bootloader: types.BootloaderGrub2EFI,
			Output: types.OutputSpec{Kind: types.OutputDirectory},
			Scripts: []types.ScriptDescriptor{
				{ID: "a", Phase: types.PhasePost, Priority: 10},
				{ID: "b", Phase: types.PhasePre, Priority: 0},
				{ID: "c", Phase: types.PhasePost, Priority: 5},
				{ID: "d", Phase: types.PhasePre, Priority: 0},
			},
		}
		Expect(m.Validate()).To(Succeed())

		pre := m.OrderedScripts(types.PhasePre)
		Expect(pre).To(HaveLen(2))
		Expect(pre[0].ID).To(Equal("b"))
		Expect(pre[1].ID).To(Equal("d"))

		post := m.OrderedScripts(types.PhasePost)
		Expect(post).To(HaveLen(2))
		Expect(post[0].ID).To(Equal("c"))
		Expect(post[1].ID).To(Equal("a"))
	})
})
