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

// Package mount implements MountPlanner (base-spec §4.3): mount ordering by
// mount-point depth, ordered apply/reverse, and the kernel-filesystem bind
// mounts chroot execution needs.
package mount

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"

	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/resourcestack"
	"github.com/katsu-project/katsu/pkg/types"
)

// chrootBinds is the fixed set of kernel filesystems bound into a chroot for
// in-chroot script execution and bootloader installation, base-spec §4.3.
var chrootBinds = []string{"/proc", "/sys", "/dev", "/dev/pts", "/run"}

// Planner applies and reverses mounts against a target root, pushing every
// mount onto a ResourceStack so release always runs in reverse order.
type Planner struct {
	Mounter types.Mounter
	Stack   *resourcestack.ResourceStack
}

// New returns a Planner.
func New(mounter types.Mounter, stack *resourcestack.ResourceStack) *Planner {
	return &Planner{Mounter: mounter, Stack: stack}
}

// MountPartitions mounts every partition with a mount-point under root, in
// ascending mount-point depth order (DiskSpec.PartitionsByMountDepth), and
// pushes an unmount release for each.
func (p *Planner) MountPartitions(root string, partitions []types.PartitionDescriptor, devices map[string]string) error {
	diskSpec := types.DiskSpec{Partitions: partitions}
	for _, part := range diskSpec.PartitionsByMountDepth() {
		dev, ok := devices[part.Label]
		if !ok {
			return katsuerrors.New(fmt.Sprintf("no device known for partition %q", part.Label), katsuerrors.BlockOrMountFailure)
		}
		target := filepath.Join(root, part.MountPoint)
		if err := os.MkdirAll(target, 0755); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("creating mount-point %s: %w", target, err), katsuerrors.BlockOrMountFailure)
		}
		if err := p.Mounter.Mount(dev, target, string(part.Filesystem), nil); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("mounting %s at %s: %w", dev, target, err), katsuerrors.BlockOrMountFailure)
		}
		p.Stack.Push("mount:"+target, p.releaseFunc(target))
	}
	return nil
}

// BindChroot binds /proc, /sys, /dev, /dev/pts and /run under chrootRoot for
// in-chroot execution, pushing one release action per binding so bindings
// are released strictly before the filesystem mounts that contain them
// (base-spec §4.3: pushed after, so unwound first).
func (p *Planner) BindChroot(chrootRoot string) error {
	for _, bind := range chrootBinds {
		target := filepath.Join(chrootRoot, bind)
		if err := os.MkdirAll(target, 0755); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("creating bind target %s: %w", target, err), katsuerrors.BlockOrMountFailure)
		}
		if err := p.Mounter.Mount(bind, target, "", []string{"bind"}); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("bind mounting %s at %s: %w", bind, target, err), katsuerrors.BlockOrMountFailure)
		}
		p.Stack.Push("bind:"+target, p.releaseFunc(target))
	}
	return nil
}

// releaseFunc returns an idempotent-safe unmount action: if the target is
// already not a mount point (because a previous partial unwind got to it, or
// the mount never completed), release succeeds without error, matching
// base-spec §4.1's "a release that discovers the resource already gone
// succeeds".
func (p *Planner) releaseFunc(target string) resourcestack.Release {
	return func() error {
		mounted, err := mountinfo.Mounted(target)
		if err == nil && !mounted {
			return nil
		}
		if err := p.Mounter.Unmount(target); err != nil {
			return fmt.Errorf("unmounting %s: %w", target, err)
		}
		return nil
	}
}

// MountOrderIsTopologicalExtension reports whether the given ordering of
// mounted partitions is a valid topological extension of path-prefix order,
// base-spec §8's quantified invariant. Exposed for tests.
func MountOrderIsTopologicalExtension(ordered []types.PartitionDescriptor) bool {
	seen := map[string]bool{"/": true}
	for _, p := range ordered {
		parent := filepath.Dir(filepath.Clean(p.MountPoint))
		if parent != "/" && !seen[parent] {
			return false
		}
		seen[filepath.Clean(p.MountPoint)] = true
	}
	return true
}
