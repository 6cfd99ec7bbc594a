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

package hostcheck

import (
	"errors"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/zcalusic/sysinfo"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestHostcheck(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Hostcheck Suite")
}

type fakeFS struct {
	types.FS
	statErr map[string]error
}

func (f *fakeFS) Stat(name string) (os.FileInfo, error) {
	if err, ok := f.statErr[name]; ok {
		return nil, err
	}
	return os.Stat(os.DevNull)
}

var _ = Describe("Checker.Check", func() {
	var manifest *types.Manifest
	var fs *fakeFS

	BeforeEach(func() {
		manifest = &types.Manifest{Distro: "katsulinux", Arch: types.ArchX86_64}
		fs = &fakeFS{statErr: map[string]error{}}
		euid = func() int { return 0 }
		hostArch = func() string { return "x86_64" }
	})

	AfterEach(func() {
		euid = os.Geteuid
		hostArch = func() string {
			var si sysinfo.SysInfo
			si.GetSysInfo()
			return si.OS.Architecture
		}
	})

	It("fails with HostCapability when not running as root", func() {
		euid = func() int { return 1000 }
		bc := buildctx.New(manifest, "", nil, nil, fs, nil)
		c := New(nil, fs)

		err := c.Check(bc)
		Expect(err).To(HaveOccurred())
		kind, ok := katsuerrors.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(katsuerrors.HostCapability))
	})

	It("fails with HostCapability when /dev/loop-control is missing for a disk image output", func() {
		manifest.Output = types.OutputSpec{Kind: types.OutputDiskImage}
		fs.statErr[loopControlPath] = errors.New("no such file")
		bc := buildctx.New(manifest, "", nil, nil, fs, nil)
		c := New(nil, fs)

		err := c.Check(bc)
		Expect(err).To(HaveOccurred())
		kind, ok := katsuerrors.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(katsuerrors.HostCapability))
	})

	It("does not probe for loop support on non disk-image outputs", func() {
		manifest.Output = types.OutputSpec{Kind: types.OutputTar}
		fs.statErr[loopControlPath] = errors.New("no such file")
		bc := buildctx.New(manifest, "", nil, nil, fs, nil)
		c := New(nil, fs)

		Expect(c.Check(bc)).To(Succeed())
	})

	It("succeeds as root with loop support present", func() {
		manifest.Output = types.OutputSpec{Kind: types.OutputDiskImage}
		bc := buildctx.New(manifest, "", nil, nil, fs, nil)
		c := New(nil, fs)

		Expect(c.Check(bc)).To(Succeed())
	})
})

var _ = Describe("checkArch", func() {
	AfterEach(func() {
		hostArch = func() string {
			var si sysinfo.SysInfo
			si.GetSysInfo()
			return si.OS.Architecture
		}
	})

	It("accepts a host architecture alias of the requested target", func() {
		hostArch = func() string { return "amd64" }
		c := New(nil, nil)
		Expect(c.checkArch(types.ArchX86_64)).To(Succeed())
	})

	It("rejects a mismatched architecture", func() {
		hostArch = func() string { return "aarch64" }
		c := New(nil, nil)
		err := c.checkArch(types.ArchX86_64)
		Expect(err).To(HaveOccurred())
		kind, ok := katsuerrors.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(katsuerrors.HostCapability))
	})
})
