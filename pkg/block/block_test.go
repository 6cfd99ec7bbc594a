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

package block_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	diskfspkg "github.com/diskfs/go-diskfs"

	"github.com/katsu-project/katsu/pkg/block"
	"github.com/katsu-project/katsu/pkg/osfs"
	"github.com/katsu-project/katsu/pkg/resourcestack"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestBlock(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Block Suite")
}

// fakeRunner records invocations and returns canned output per command,
// standing in for real losetup/mkfs/blkid child processes in tests.
type fakeRunner struct {
	calls   [][]string
	outputs map[string][]byte
}

func (f *fakeRunner) Run(command string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{command}, args...))
	if out, ok := f.outputs[command]; ok {
		return out, nil
	}
	return nil, nil
}

func (f *fakeRunner) RunContext(_ types.ChildContext, command string, args ...string) ([]byte, error) {
	return f.Run(command, args...)
}

func (f *fakeRunner) CommandExists(string) bool { return true }

var _ = Describe("Backend", func() {
	var (
		runner *fakeRunner
		stack  *resourcestack.ResourceStack
		backend *block.Backend
		tmpDir  string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "katsu-block-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		runner = &fakeRunner{outputs: map[string][]byte{
			"losetup": []byte("/dev/loop7\n"),
			"blkid":   []byte("UUID=11111111-1111-1111-1111-111111111111\n"),
		}}
		stack = resourcestack.New(nil)
		backend = block.New(runner, osfs.New(), stack)
	})

	It("allocates a sparse image of exactly the requested size", func() {
		path := filepath.Join(tmpDir, "disk.img")
		d, err := backend.AllocateImage(path, 64<<20)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.Size).To(Equal(int64(64 << 20)))

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(64 << 20)))
	})

	It("pushes a removal action onto the stack on allocate", func() {
		path := filepath.Join(tmpDir, "disk.img")
		_, err := backend.AllocateImage(path, 16<<20)
		Expect(err).NotTo(HaveOccurred())
		Expect(stack.Len()).To(Equal(1))

		Expect(stack.Unwind()).To(Succeed())
		_, statErr := os.Stat(path)
		Expect(os.IsNotExist(statErr)).To(BeTrue())
	})

	It("pushes a detach action onto the stack on loop attach", func() {
		dev, err := backend.AttachLoop(filepath.Join(tmpDir, "disk.img"))
		Expect(err).NotTo(HaveOccurred())
		Expect(dev).To(Equal("/dev/loop7"))
		Expect(stack.Len()).To(Equal(1))

		Expect(stack.Unwind()).To(Succeed())
		found := false
		for _, call := range runner.calls {
			if call[0] == "losetup" && call[1] == "--detach" {
				found = true
			}
		}
		Expect(found).To(BeTrue())
	})

	It("writes a GPT table with grow-fs consuming all remaining space", func() {
		path := filepath.Join(tmpDir, "disk.img")
		const diskSize = 256 << 20
		d, err := diskfspkg.Create(path, diskSize, diskfspkg.Raw, 512)
		Expect(err).NotTo(HaveOccurred())

		parts := []types.PartitionDescriptor{
			{Label: "esp", Type: types.PartitionESP, Filesystem: types.FSVfat, SizeBytes: 64 << 20, MountPoint: "/boot/efi"},
			{Label: "root", Type: types.PartitionRoot, Filesystem: types.FSExt4, Grow: true, MountPoint: "/"},
		}
		devices, err := backend.WritePartitionTable(d, "/dev/loop7", types.ArchX86_64, types.TableGPT, parts)
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(HaveKeyWithValue("esp", "/dev/loop7p1"))
		Expect(devices).To(HaveKeyWithValue("root", "/dev/loop7p2"))
	})

	It("discovers a UUID after making a filesystem", func() {
		id, err := backend.MakeFilesystem("/dev/loop7p2", types.FSExt4, "root")
		Expect(err).NotTo(HaveOccurred())
		Expect(id.String()).To(Equal("11111111-1111-1111-1111-111111111111"))
	})
})
