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
	"text/template"

	efi "github.com/canonical/go-efilib"

	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

//go:embed templates/grub.cfg.tmpl
var grubCfgTemplate string

//go:embed templates/grub_efi.cfg.tmpl
var grubEfiCfgTemplate string

// grubCfgData is the template data shared by the BIOS and EFI grub.cfg
// renderers.
type grubCfgData struct {
	DisplayName string
	RootUUID    string
	CmdLine     string
	PrefixDir   string
	Entries     []kernelEntry
}

func renderTemplate(fs types.FS, tmplText, path string, data any) error {
	t, err := template.New(filepath.Base(path)).Parse(tmplText)
	if err != nil {
		return fmt.Errorf("parsing %s template: %w", path, err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := t.Execute(f, data); err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return nil
}

// grub2BIOS writes stage1 to the MBR boot area and stage1.5 to the
// bios-grub partition via grub2-install, then renders /boot/grub2/grub.cfg,
// base-spec §4.6's GRUB2-BIOS variant.
type grub2BIOS struct{}

func (g *grub2BIOS) Install(p InstallParams) error {
	m := p.BuildCtx.Manifest
	if _, ok := findPartition(m, types.PartitionBiosGrub); !ok {
		return katsuerrors.New("grub2-bios requires a bios-grub partition", katsuerrors.ManifestInvalid)
	}

	chroot := p.BuildCtx.ChrootPath()
	out, err := p.BuildCtx.Runner.Run("chroot", chroot, "grub2-install",
		"--target=i386-pc", "--boot-directory=/boot", p.LoopDevice)
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("grub2-install: %w", err), out, katsuerrors.BootloaderFailure)
	}

	rootID, err := rootUUID(m, p.UUIDs)
	if err != nil {
		return err
	}

	kernels, err := discoverKernels(p.BuildCtx.FS, filepath.Join(chroot, "boot"))
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}

	data := grubCfgData{
		DisplayName: m.Distro,
		RootUUID:    rootID.String(),
		Entries:     kernels,
	}
	cfgPath := filepath.Join(chroot, constants.GrubPrefixDir, constants.GrubCfgName)
	if err := renderTemplate(p.BuildCtx.FS, grubCfgTemplate, cfgPath, data); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	return nil
}

// grub2EFI copies signed EFI binaries into the ESP, writes a chainloading
// grub.cfg, and records the intended boot entry as a serialized go-efilib
// LoadOption for the firmware (or a post-script invoking efibootmgr) to
// register — base-spec §4.6's GRUB2-EFI variant.
type grub2EFI struct{}

func (g *grub2EFI) Install(p InstallParams) error {
	m := p.BuildCtx.Manifest
	esp, ok := findPartition(m, types.PartitionESP)
	if !ok {
		return katsuerrors.New("grub2-efi requires an esp partition", katsuerrors.ManifestInvalid)
	}

	chroot := p.BuildCtx.ChrootPath()
	espDir := filepath.Join(chroot, esp.MountPoint)
	distroDir := filepath.Join(espDir, "EFI", m.Distro)

	srcDir := filepath.Join(chroot, "usr", "share", "efi", string(m.Arch))
	for _, name := range []string{"grub.efi", "shim.efi", "MokManager.efi"} {
		if err := copyFile(p.BuildCtx.FS, filepath.Join(srcDir, name), filepath.Join(distroDir, name)); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("copying %s: %w", name, err), katsuerrors.BootloaderFailure)
		}
	}

	bootStub, err := constants.EfiBootFileName(m.Arch)
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
	}
	fallbackDir := filepath.Join(espDir, constants.EfiBootPath)
	if err := copyFile(p.BuildCtx.FS, filepath.Join(srcDir, "shim.efi"), filepath.Join(fallbackDir, bootStub)); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("copying removable-media fallback: %w", err), katsuerrors.BootloaderFailure)
	}

	rootID, err := rootUUID(m, p.UUIDs)
	if err != nil {
		return err
	}

	data := grubCfgData{RootUUID: rootID.String(), PrefixDir: constants.GrubPrefixDir}
	if err := renderTemplate(p.BuildCtx.FS, grubEfiCfgTemplate, filepath.Join(distroDir, constants.GrubCfgName), data); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}

	if err := writeEFILoadOption(p.BuildCtx.FS, distroDir, m.Distro); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.BootloaderFailure)
	}
	return nil
}

// writeEFILoadOption serializes a go-efilib LoadOption describing the boot
// entry this build installs, so a later firmware-setup or post-script step
// can register it with efibootmgr without having to re-derive the EFI file
// path or description itself.
func writeEFILoadOption(fs types.FS, distroDir, description string) error {
	opt := &efi.LoadOption{
		Attributes:  efi.LoadOptionActive,
		Description: description,
		FilePath:    efi.DevicePath{efi.FilePathDevicePathNode(`\EFI\` + description + `\grub.efi`)},
	}

	f, err := fs.Create(filepath.Join(distroDir, "boot-entry.efivar"))
	if err != nil {
		return fmt.Errorf("creating EFI load option record: %w", err)
	}
	defer f.Close()

	if err := opt.Write(f); err != nil {
		return fmt.Errorf("serializing EFI load option: %w", err)
	}
	return nil
}
