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

package mount_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	katsumount "github.com/katsu-project/katsu/pkg/mount"
	"github.com/katsu-project/katsu/pkg/resourcestack"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestMount(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Mount Suite")
}

type fakeMounter struct {
	mounts   []string
	unmounts []string
}

func (f *fakeMounter) Mount(source, target, fstype string, options []string) error {
	f.mounts = append(f.mounts, target)
	return nil
}

func (f *fakeMounter) Unmount(target string) error {
	f.unmounts = append(f.unmounts, target)
	return nil
}

func (f *fakeMounter) IsLikelyNotMountPoint(string) (bool, error) { return false, nil }

var _ = Describe("Planner.MountPartitions", func() {
	It("mounts in ascending mount-point depth order", func() {
		tmpDir, err := os.MkdirTemp("", "katsu-mount-test")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(tmpDir) })

		mounter := &fakeMounter{}
		stack := resourcestack.New(nil)
		planner := katsumount.New(mounter, stack)

		parts := []types.PartitionDescriptor{
			{Label: "efi", MountPoint: "/boot/efi", Filesystem: types.FSVfat},
			{Label: "root", MountPoint: "/", Filesystem: types.FSExt4},
			{Label: "boot", MountPoint: "/boot", Filesystem: types.FSExt4},
		}
		devices := map[string]string{"efi": "/dev/loop0p1", "root": "/dev/loop0p2", "boot": "/dev/loop0p3"}

		Expect(planner.MountPartitions(tmpDir, parts, devices)).To(Succeed())
		Expect(mounter.mounts).To(Equal([]string{
			filepath.Join(tmpDir, "/"),
			filepath.Join(tmpDir, "/boot"),
			filepath.Join(tmpDir, "/boot/efi"),
		}))
		Expect(stack.Len()).To(Equal(3))
	})
})

var _ = Describe("MountOrderIsTopologicalExtension", func() {
	It("accepts an order where every parent precedes its child", func() {
		ordered := []types.PartitionDescriptor{
			{MountPoint: "/"},
			{MountPoint: "/boot"},
			{MountPoint: "/boot/efi"},
		}
		Expect(katsumount.MountOrderIsTopologicalExtension(ordered)).To(BeTrue())
	})

	It("rejects an order where a child precedes its parent", func() {
		ordered := []types.PartitionDescriptor{
			{MountPoint: "/boot/efi"},
			{MountPoint: "/"},
		}
		Expect(katsumount.MountOrderIsTopologicalExtension(ordered)).To(BeFalse())
	})
})
