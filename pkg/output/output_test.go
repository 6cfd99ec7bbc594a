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

package output_test

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/output"
	"github.com/katsu-project/katsu/pkg/osfs"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestOutput(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Output Suite")
}

type fakeRunner struct {
	known map[string]bool
	calls [][]string
}

func (f *fakeRunner) Run(command string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	return nil, nil
}
func (f *fakeRunner) RunContext(_ types.ChildContext, command string, args ...string) ([]byte, error) {
	return f.Run(command, args...)
}
func (f *fakeRunner) CommandExists(command string) bool { return f.known[command] }

type fakeMounter struct{}

func (f *fakeMounter) Mount(source, target, fstype string, options []string) error { return nil }
func (f *fakeMounter) Unmount(target string) error                                 { return nil }
func (f *fakeMounter) IsLikelyNotMountPoint(string) (bool, error)                   { return false, nil }

func newManifest() *types.Manifest {
	return &types.Manifest{Distro: "katsulinux", Arch: types.ArchX86_64}
}

var _ = Describe("New", func() {
	It("rejects an unknown output kind", func() {
		_, err := output.New("qcow2")
		Expect(err).To(HaveOccurred())
	})

	It("returns one variant per known kind", func() {
		for _, kind := range []types.OutputKind{
			types.OutputDiskImage, types.OutputISO, types.OutputSquashfs,
			types.OutputErofs, types.OutputDirectory, types.OutputTar,
		} {
			a, err := output.New(kind)
			Expect(err).NotTo(HaveOccurred())
			Expect(a).NotTo(BeNil())
		}
	})
})

var _ = Describe("Run", func() {
	It("fails with a working-directory-locked error when another build holds the lock", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-output-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		manifest := newManifest()
		manifest.Output = types.OutputSpec{Kind: types.OutputDirectory, Path: filepath.Join(tmpDir, "out")}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{known: map[string]bool{}}, osfs.New(), &fakeMounter{})

		holder := flock.New(bc.LockPath())
		locked, err := holder.TryLock()
		Expect(err).NotTo(HaveOccurred())
		Expect(locked).To(BeTrue())
		defer holder.Unlock()

		Expect(output.Run(bc)).To(HaveOccurred())
	})
})

var _ = Describe("directoryOutput.Assemble", func() {
	It("bootstraps a directory source and moves the result to the output path", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-output-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		srcDir := filepath.Join(tmpDir, "src")
		Expect(os.MkdirAll(filepath.Join(srcDir, "etc"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(srcDir, "etc", "motd"), []byte("hello\n"), 0644)).To(Succeed())

		outPath := filepath.Join(tmpDir, "rootfs-out")
		manifest := newManifest()
		manifest.Bootstrap = types.BootstrapSpec{Kind: types.BuilderDir, SourcePath: srcDir}
		manifest.Output = types.OutputSpec{Kind: types.OutputDirectory, Path: outPath}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{known: map[string]bool{}}, osfs.New(), &fakeMounter{})

		asm, err := output.New(types.OutputDirectory)
		Expect(err).NotTo(HaveOccurred())
		Expect(asm.Assemble(bc)).To(Succeed())

		data, err := os.ReadFile(filepath.Join(outPath, "etc", "motd"))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("hello\n"))
	})
})

var _ = Describe("squashfsOutput.Assemble", func() {
	It("fails with a host-capability error when mksquashfs is missing", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-output-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		srcDir := filepath.Join(tmpDir, "src")
		Expect(os.MkdirAll(srcDir, 0755)).To(Succeed())

		manifest := newManifest()
		manifest.Bootstrap = types.BootstrapSpec{Kind: types.BuilderDir, SourcePath: srcDir}
		manifest.Output = types.OutputSpec{Kind: types.OutputSquashfs, Path: filepath.Join(tmpDir, "out.sqfs")}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{known: map[string]bool{}}, osfs.New(), &fakeMounter{})

		asm, err := output.New(types.OutputSquashfs)
		Expect(err).NotTo(HaveOccurred())
		Expect(asm.Assemble(bc)).To(HaveOccurred())
	})
})

var _ = Describe("tarOutput.Assemble", func() {
	It("streams the bootstrapped tree into a tar archive", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-output-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		srcDir := filepath.Join(tmpDir, "src")
		Expect(os.MkdirAll(filepath.Join(srcDir, "etc"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(srcDir, "etc", "hostname"), []byte("katsu\n"), 0644)).To(Succeed())

		outPath := filepath.Join(tmpDir, "rootfs.tar")
		manifest := newManifest()
		manifest.Bootstrap = types.BootstrapSpec{Kind: types.BuilderDir, SourcePath: srcDir}
		manifest.Output = types.OutputSpec{Kind: types.OutputTar, Path: outPath}
		bc := buildctx.New(manifest, tmpDir, nil, &fakeRunner{known: map[string]bool{}}, osfs.New(), &fakeMounter{})

		asm, err := output.New(types.OutputTar)
		Expect(err).NotTo(HaveOccurred())
		Expect(asm.Assemble(bc)).To(Succeed())

		f, err := os.Open(outPath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		tr := tar.NewReader(f)
		found := false
		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				break
			}
			Expect(err).NotTo(HaveOccurred())
			if hdr.Name == "etc/hostname" {
				found = true
				data, err := io.ReadAll(tr)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("katsu\n"))
			}
		}
		Expect(found).To(BeTrue())
	})
})
