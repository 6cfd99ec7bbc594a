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
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// iso stages a live root, compresses it to squashfs, lays out BIOS/EFI
// bootcode and invokes xorriso to produce a hybrid-bootable ISO, base-spec
// §4.7's iso variant. Grounded on the xorriso argument assembly the teacher's
// own constants.GetDefaultXorrisoBooloaderArgs / live.XorrisoBooloaderArgs
// split captures, generalized into constants.XorrisoBootloaderArgs.
type iso struct{}

func (i *iso) Assemble(bc *buildctx.BuildContext) error {
	err := i.assemble(bc)
	if fErr := finish(bc, err); fErr != nil {
		return fErr
	}
	return err
}

func (i *iso) assemble(bc *buildctx.BuildContext) error {
	root := bc.IsoRootPath()
	if err := bc.FS.MkdirAll(root, 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating iso staging root: %w", err), katsuerrors.BlockOrMountFailure)
	}
	bc.Stack.Push("iso-root:"+root, func() error {
		if err := bc.FS.RemoveAll(root); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	if bc.Manifest.Output.ChainedInputPath != "" {
		if err := stageChainedSquashfs(bc, root); err != nil {
			return err
		}
	} else {
		pushChrootCleanup(bc)
		if err := populateAndScript(bc); err != nil {
			return err
		}
		squashPath := filepath.Join(root, constants.IsoSquashImage)
		if err := bc.FS.MkdirAll(filepath.Dir(squashPath), 0755); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("creating %s: %w", filepath.Dir(squashPath), err), katsuerrors.BlockOrMountFailure)
		}
		if err := compressSquashfs(bc, bc.ChrootPath(), squashPath); err != nil {
			return err
		}
	}

	if err := stageBootcode(bc, root); err != nil {
		return err
	}

	if bc.Manifest.Output.Path == "" {
		return katsuerrors.New("output.path is required for an iso output", katsuerrors.ManifestInvalid)
	}
	return invokeXorriso(bc, root)
}

// stageChainedSquashfs copies a previously-assembled squashfs artifact into
// this ISO's staging tree rather than bootstrapping a fresh root, base-spec
// §4.7's "Composition" paragraph: "an iso output consumes a prior squashfs
// output's artifact as a file input."
func stageChainedSquashfs(bc *buildctx.BuildContext, root string) error {
	squashPath := filepath.Join(root, constants.IsoSquashImage)
	if err := bc.FS.MkdirAll(filepath.Dir(squashPath), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating %s: %w", filepath.Dir(squashPath), err), katsuerrors.BlockOrMountFailure)
	}
	return copyFilePlain(bc.Manifest.Output.ChainedInputPath, squashPath)
}

func copyFilePlain(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("opening chained input %s: %w", src, err), katsuerrors.ManifestInvalid)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating %s: %w", dst, err), katsuerrors.BlockOrMountFailure)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("copying %s to %s: %w", src, dst, err), katsuerrors.BlockOrMountFailure)
	}
	return nil
}

// grubIsoCfgTemplate is a minimal grub.cfg for a live squashfs boot,
// referencing the volume label rather than a partition UUID since the ISO
// has no mkfs-discovered root UUID, grounded on elemental's
// live.grubCfgTemplate (other_examples' pkg-live-common.go.go) CDLABEL
// pattern, generalized to katsu's own kernel-discovery template data.
const grubIsoCfgTemplate = `set default=0
set timeout=5

menuentry "{{.DisplayName}}" {
	search --no-floppy --set=root --label {{.VolumeID}}
	linux {{.Linux}} root=live:CDLABEL={{.VolumeID}} rd.live.dir=/LiveOS rd.live.squashimg=squashfs.img
	initrd {{.Initrd}}
}
`

type isoGrubCfgData struct {
	DisplayName string
	VolumeID    string
	Linux       string
	Initrd      string
}

// stageBootcode builds the BIOS El Torito image and the EFI FAT image, and
// renders grub.cfg, mirroring the shape of jimed-rand-kagami's createISO
// (other_examples' pkg-builder-helpers.go.go) but driven through
// types.Runner instead of os/exec directly.
func stageBootcode(bc *buildctx.BuildContext, root string) error {
	loaderDir := filepath.Join(root, constants.IsoLoaderPath)
	if err := bc.FS.MkdirAll(loaderDir, 0755); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}

	cfgPath := filepath.Join(root, constants.GrubPrefixDir, constants.GrubCfgName)
	if err := bc.FS.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}
	volID := bc.Manifest.Output.VolumeID
	if volID == "" {
		volID = strings.ToUpper(bc.Manifest.Distro)
	}
	data := isoGrubCfgData{
		DisplayName: bc.Manifest.Distro,
		VolumeID:    volID,
		Linux:       "/boot/vmlinuz",
		Initrd:      "/boot/initrd",
	}
	if err := renderIsoTemplate(bc, cfgPath, data); err != nil {
		return err
	}

	if bc.Manifest.Bootloader.IsBIOS() {
		if err := stageBIOSImage(bc, root, loaderDir); err != nil {
			return err
		}
	}
	if bc.Manifest.Bootloader.IsUEFI() {
		if err := stageEFIImage(bc, root); err != nil {
			return err
		}
	}
	return nil
}

func renderIsoTemplate(bc *buildctx.BuildContext, path string, data isoGrubCfgData) error {
	t, err := template.New(filepath.Base(path)).Parse(grubIsoCfgTemplate)
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	f, err := bc.FS.Create(path)
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	defer f.Close()
	if err := t.Execute(f, data); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	return nil
}

// stageBIOSImage builds the GRUB2 standalone core image and concatenates it
// with the distro's cdboot.img to produce the El Torito boot file, the same
// two-step grub2-mkstandalone + cat pipeline createISO uses.
func stageBIOSImage(bc *buildctx.BuildContext, root, loaderDir string) error {
	if !bc.Runner.CommandExists("grub2-mkstandalone") {
		return katsuerrors.New("grub2-mkstandalone binary not found on host", katsuerrors.HostCapability)
	}
	coreImg := filepath.Join(loaderDir, "core.img")
	out, err := bc.Runner.Run("grub2-mkstandalone",
		"--format=i386-pc",
		"--output="+coreImg,
		"--install-modules=linux16 linux normal iso9660 biosdisk search",
		"boot/grub2/grub.cfg="+filepath.Join(root, constants.GrubPrefixDir, constants.GrubCfgName),
	)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("grub2-mkstandalone: %w", err), out, katsuerrors.BootloaderFailure)
	}

	eltorito := filepath.Join(root, constants.IsoBootFile)
	if err := bc.FS.MkdirAll(filepath.Dir(eltorito), 0755); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}
	out, err = bc.Runner.Run("sh", "-c", fmt.Sprintf("cat /usr/lib/grub/i386-pc/cdboot.img %q > %q", coreImg, eltorito))
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("assembling el torito image: %w", err), out, katsuerrors.BootloaderFailure)
	}

	hybridMBR := filepath.Join(root, constants.IsoHybridMBR)
	out, err = bc.Runner.Run("cp", "/usr/lib/grub/i386-pc/boot_hybrid.img", hybridMBR)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("copying hybrid MBR image: %w", err), out, katsuerrors.BootloaderFailure)
	}
	return nil
}

// stageEFIImage builds a FAT-formatted EFI System Partition image carrying
// the removable-media boot stub and grub.cfg, mirroring createISO's
// dd + mkfs.vfat + mcopy pipeline.
func stageEFIImage(bc *buildctx.BuildContext, root string) error {
	if !bc.Runner.CommandExists("mkfs.vfat") {
		return katsuerrors.New("mkfs.vfat binary not found on host", katsuerrors.HostCapability)
	}

	efiImgDir := filepath.Join(root, "EFI-tools")
	if err := bc.FS.MkdirAll(efiImgDir, 0755); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BlockOrMountFailure)
	}
	efiImg := filepath.Join(efiImgDir, "efiboot.img")

	if out, err := bc.Runner.Run("dd", "if=/dev/zero", "of="+efiImg, "bs=1M", "count=8"); err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("allocating efi image: %w", err), out, katsuerrors.BlockOrMountFailure)
	}
	if out, err := bc.Runner.Run("mkfs.vfat", "-F", "16", efiImg); err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("formatting efi image: %w", err), out, katsuerrors.BlockOrMountFailure)
	}

	bootStub, err := constants.EfiBootFileName(bc.Manifest.Arch)
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
	}
	srcStub := filepath.Join(bc.ChrootPath(), "usr", "share", "efi", string(bc.Manifest.Arch), "shim.efi")
	cfgPath := filepath.Join(root, constants.GrubPrefixDir, constants.GrubCfgName)

	bc.Runner.Run("mmd", "-i", efiImg, "::EFI", "::EFI/BOOT")
	if out, err := bc.Runner.Run("mcopy", "-i", efiImg, srcStub, "::EFI/BOOT/"+bootStub); err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("copying efi boot stub: %w", err), out, katsuerrors.BootloaderFailure)
	}
	if out, err := bc.Runner.Run("mcopy", "-i", efiImg, cfgPath, "::EFI/BOOT/"+constants.GrubCfgName); err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("copying efi grub.cfg: %w", err), out, katsuerrors.BootloaderFailure)
	}
	return nil
}

// invokeXorriso builds the mkisofs-compatible argument list and shells out
// to xorriso, combining the base args every ISO needs with
// constants.XorrisoBootloaderArgs' firmware-specific El Torito/EFI entries.
func invokeXorriso(bc *buildctx.BuildContext, root string) error {
	if !bc.Runner.CommandExists("xorriso") {
		return katsuerrors.New("xorriso binary not found on host", katsuerrors.HostCapability)
	}

	volID := bc.Manifest.Output.VolumeID
	if volID == "" {
		volID = strings.ToUpper(bc.Manifest.Distro)
	}

	args := []string{
		"-as", "mkisofs",
		"-iso-level", "3",
		"-full-iso9660-filenames",
		"-volid", volID,
		"-output", bc.Manifest.Output.Path,
	}

	efiImagePath := filepath.Join(root, "EFI-tools", "efiboot.img")
	args = append(args, constants.XorrisoBootloaderArgs(root, bc.Manifest.Bootloader, efiImagePath)...)
	args = append(args, root)

	out, err := bc.Runner.Run("xorriso", args...)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("xorriso: %w", err), out, katsuerrors.BootloaderFailure)
	}
	return nil
}
