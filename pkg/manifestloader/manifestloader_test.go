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

package manifestloader_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/manifestloader"
	"github.com/katsu-project/katsu/pkg/osfs"
)

func TestManifestloader(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Manifestloader Suite")
}

var _ = Describe("Load", func() {
	var tmpDir string
	var fs = osfs.New()

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "katsu-manifestloader-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })
	})

	write := func(name, content string) string {
		p := filepath.Join(tmpDir, name)
		Expect(os.WriteFile(p, []byte(content), 0644)).To(Succeed())
		return p
	}

	It("loads a standalone manifest with no imports", func() {
		path := write("root.yaml", `
distro: katsulinux
arch: x86_64
bootloader: grub2-bios
bootstrap:
  kind: dnf
output:
  kind: directory
  path: /tmp/out
`)
		m, err := manifestloader.Load(fs, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Distro).To(Equal("katsulinux"))
	})

	It("merges imported fragments, accumulating accounts and scripts", func() {
		write("users.yaml", `
accounts:
  - name: admin
    uid: 1000
`)
		write("motd-script.yaml", `
scripts:
  - id: motd
    name: write motd
    phase: post
    context: chroot
    body: "echo hi > /etc/motd"
`)
		path := write("root.yaml", `
distro: katsulinux
arch: x86_64
bootloader: grub2-bios
bootstrap:
  kind: dnf
output:
  kind: directory
  path: /tmp/out
imports:
  - source: users.yaml
  - source: motd-script.yaml
`)
		m, err := manifestloader.Load(fs, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Accounts).To(HaveLen(1))
		Expect(m.Accounts[0].Name).To(Equal("admin"))
		Expect(m.Scripts).To(HaveLen(1))
		Expect(m.Scripts[0].ID).To(Equal("motd"))
		Expect(m.Imports).To(BeEmpty())
	})

	It("lets the root manifest's own fields win over an import's", func() {
		write("base.yaml", `
distro: imported-distro
`)
		path := write("root.yaml", `
distro: katsulinux
arch: x86_64
bootloader: grub2-bios
bootstrap:
  kind: dnf
output:
  kind: directory
  path: /tmp/out
imports:
  - source: base.yaml
`)
		m, err := manifestloader.Load(fs, path)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Distro).To(Equal("katsulinux"))
	})

	It("fails with ManifestInvalid when the manifest can't be read", func() {
		_, err := manifestloader.Load(fs, filepath.Join(tmpDir, "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("fails validation when the merged manifest is incomplete", func() {
		path := write("root.yaml", `
arch: x86_64
`)
		_, err := manifestloader.Load(fs, path)
		Expect(err).To(HaveOccurred())
	})
})
