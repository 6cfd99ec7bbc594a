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

package bootloader_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/google/uuid"

	"github.com/katsu-project/katsu/pkg/bootloader"
	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/osfs"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestBootloader(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bootloader Suite")
}

type fakeRunner struct{ calls [][]string }

func (f *fakeRunner) Run(command string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	return nil, nil
}
func (f *fakeRunner) RunContext(_ types.ChildContext, command string, args ...string) ([]byte, error) {
	return f.Run(command, args...)
}
func (f *fakeRunner) CommandExists(string) bool { return true }

var _ = Describe("New", func() {
	It("rejects an unknown bootloader kind", func() {
		_, err := bootloader.New("plan9-boot")
		Expect(err).To(HaveOccurred())
	})

	It("returns one installer per known kind", func() {
		for _, kind := range []types.BootloaderKind{
			types.BootloaderGrub2BIOS, types.BootloaderGrub2EFI,
			types.BootloaderLimineBIOS, types.BootloaderLimineUEFI, types.BootloaderUBoot,
		} {
			inst, err := bootloader.New(kind)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst).NotTo(BeNil())
		}
	})
})

var _ = Describe("grub2-efi Install", func() {
	It("copies EFI binaries and renders a chainloading grub.cfg", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-bootloader-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		manifest := &types.Manifest{
			Distro: "katsulinux",
			Arch:   types.ArchX86_64,
			Disk: types.DiskSpec{Partitions: []types.PartitionDescriptor{
				{Label: "esp", Type: types.PartitionESP, MountPoint: "/boot/efi"},
				{Label: "root", Type: types.PartitionRoot, MountPoint: "/"},
			}},
		}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{}, osfs.New(), nil)

		efiSrc := filepath.Join(bc.ChrootPath(), "usr", "share", "efi", "x86_64")
		Expect(os.MkdirAll(efiSrc, 0755)).To(Succeed())
		for _, name := range []string{"grub.efi", "shim.efi", "MokManager.efi"} {
			Expect(os.WriteFile(filepath.Join(efiSrc, name), []byte("stub"), 0644)).To(Succeed())
		}

		rootID := uuid.New()
		inst, err := bootloader.New(types.BootloaderGrub2EFI)
		Expect(err).NotTo(HaveOccurred())

		err = inst.Install(bootloader.InstallParams{
			BuildCtx: bc,
			UUIDs:    map[string]uuid.UUID{"root": rootID},
		})
		Expect(err).NotTo(HaveOccurred())

		distroDir := filepath.Join(bc.ChrootPath(), "boot", "efi", "EFI", "katsulinux")
		Expect(filepath.Join(distroDir, "grub.efi")).To(BeAnExistingFile())

		cfg, err := os.ReadFile(filepath.Join(distroDir, "grub.cfg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(cfg)).To(ContainSubstring(rootID.String()))

		Expect(filepath.Join(distroDir, "boot-entry.efivar")).To(BeAnExistingFile())
	})

	It("fails with ManifestInvalid when no esp partition exists", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-bootloader-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		manifest := &types.Manifest{Distro: "katsulinux", Arch: types.ArchX86_64}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{}, osfs.New(), nil)

		inst, _ := bootloader.New(types.BootloaderGrub2EFI)
		err = inst.Install(bootloader.InstallParams{BuildCtx: bc})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("u-boot Install", func() {
	It("rejects a manifest targeting a non-aarch64 architecture", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-bootloader-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		manifest := &types.Manifest{Distro: "katsulinux", Arch: types.ArchX86_64}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{}, osfs.New(), nil)

		inst, _ := bootloader.New(types.BootloaderUBoot)
		err = inst.Install(bootloader.InstallParams{BuildCtx: bc})
		Expect(err).To(HaveOccurred())
	})
})
