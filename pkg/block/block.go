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

// Package block implements BlockBackend (base-spec §4.2): sparse file
// allocation, loop-device attach/detach, partition-table writes, per-
// partition mkfs and UUID discovery.
package block

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	diskfspkg "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/disk"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/google/uuid"
	"github.com/itchyny/gojq"

	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/resourcestack"
	"github.com/katsu-project/katsu/pkg/types"
)

const sectorSize = 512

// Backend implements BlockBackend against a types.Runner for everything
// go-diskfs doesn't cover itself (loop attachment, mkfs binaries, blkid
// UUID discovery), grounded on canonical/snapd's sfdisk/lsblk dump-and-parse
// shape (partition/sfdisk.go).
type Backend struct {
	Runner types.Runner
	FS     types.FS
	Stack  *resourcestack.ResourceStack
}

// New returns a Backend pushing every acquired resource onto stack.
func New(runner types.Runner, fs types.FS, stack *resourcestack.ResourceStack) *Backend {
	return &Backend{Runner: runner, FS: fs, Stack: stack}
}

// AllocateImage creates a sparse file of exactly size bytes at path, via
// go-diskfs's Create (which seeks-and-writes a single trailing byte rather
// than zero-filling, producing a sparse extent on filesystems that support
// one). The file is pushed onto the stack so it is removed on unwind;
// base-spec §4.2's "the sparse file remains only if keep-chroot is set"
// is handled by releaseResources disarming the whole stack on keep-chroot
// rather than by this release being conditional. A caller that wants the
// file to survive a successful build (the disk-image output path) must
// move it out before the stack unwinds; by then the rename has already
// made this release a no-op.
func (b *Backend) AllocateImage(path string, size uint64) (*disk.Disk, error) {
	d, err := diskfspkg.Create(path, int64(size), diskfspkg.Raw, sectorSize)
	if err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("allocating sparse image %s: %w", path, err), katsuerrors.BlockOrMountFailure)
	}
	b.Stack.Push("sparse-image:"+path, func() error {
		if err := b.FS.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
	return d, nil
}

// AttachLoop binds path to a free loop device via losetup, returning its
// device node (e.g. /dev/loop0). Detach is pushed onto the stack.
func (b *Backend) AttachLoop(path string) (string, error) {
	out, err := b.Runner.Run("losetup", "--find", "--show", "--partscan", path)
	if err != nil {
		return "", katsuerrors.NewChildProcessError(fmt.Errorf("losetup attach %s: %w", path, err), out, katsuerrors.BlockOrMountFailure)
	}
	dev := strings.TrimSpace(string(out))
	b.Stack.Push("loop-device:"+dev, func() error {
		_, err := b.Runner.Run("losetup", "--detach", dev)
		return err
	})
	return dev, nil
}

// partitionPlan is the resolved, arch-aware partition list used to build
// both GPT and MBR tables.
type partitionPlan struct {
	desc types.PartitionDescriptor
	size uint64
}

// resolveSizes fills in the size of the grow-fs partition (if any) so the
// concrete table writer never has to special-case it, per base-spec §4.2's
// "the final grow-fs partition...extends to the end".
func resolveSizes(diskSize uint64, parts []types.PartitionDescriptor) []partitionPlan {
	var fixed uint64
	for _, p := range parts {
		if !p.Grow {
			fixed += p.SizeBytes
		}
	}
	plans := make([]partitionPlan, len(parts))
	remaining := diskSize - fixed
	for i, p := range parts {
		if p.Grow {
			plans[i] = partitionPlan{desc: p, size: remaining}
		} else {
			plans[i] = partitionPlan{desc: p, size: p.SizeBytes}
		}
	}
	return plans
}

// WritePartitionTable writes a GPT or MBR table (per table kind) onto d with
// 1 MiB alignment for every partition, returning the partition device node
// for each partition label (e.g. /dev/loop0p1). Base-spec §4.2's GUID/type
// mapping is resolved via pkg/constants.
func (b *Backend) WritePartitionTable(d *disk.Disk, loopDevice string, arch types.Architecture, table types.PartitionTableKind, parts []types.PartitionDescriptor) (map[string]string, error) {
	plans := resolveSizes(uint64(d.Size), parts)

	switch table {
	case types.TableGPT:
		gptParts := make([]*gpt.Partition, len(plans))
		for i, p := range plans {
			guid, err := constants.PartitionGUID(p.desc, arch)
			if err != nil {
				return nil, katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
			}
			gptParts[i] = &gpt.Partition{
				Start: 0, // go-diskfs computes Start/End from Size when 0
				Size:  p.size,
				Type:  gpt.Type(guid),
				Name:  p.desc.Label,
			}
		}
		if err := d.Partition(&gpt.Table{
			Partitions:         gptParts,
			ProtectiveMBR:      true,
			LogicalSectorSize:  sectorSize,
			PhysicalSectorSize: sectorSize,
		}); err != nil {
			return nil, katsuerrors.NewFromError(fmt.Errorf("writing gpt table: %w", err), katsuerrors.BlockOrMountFailure)
		}
	case types.TableMBR:
		mbrParts := make([]*mbr.Partition, len(plans))
		for i, p := range plans {
			mbrParts[i] = &mbr.Partition{
				Size: p.size,
				Type: mbr.Type(constants.MBRTypeCode(p.desc)),
			}
		}
		if err := d.Partition(&mbr.Table{
			Partitions:         mbrParts,
			LogicalSectorSize:  sectorSize,
			PhysicalSectorSize: sectorSize,
		}); err != nil {
			return nil, katsuerrors.NewFromError(fmt.Errorf("writing mbr table: %w", err), katsuerrors.BlockOrMountFailure)
		}
	default:
		return nil, katsuerrors.New(fmt.Sprintf("unknown partition table kind %q", table), katsuerrors.ManifestInvalid)
	}

	// Re-read the kernel's partition map for the loop device so the node
	// names (…p1, …p2, …) are authoritative rather than assumed.
	if _, err := b.Runner.Run("partx", "-u", loopDevice); err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("reloading partition table: %w", err), katsuerrors.BlockOrMountFailure)
	}
	if _, err := b.Runner.Run("udevadm", "settle"); err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("udevadm settle: %w", err), katsuerrors.BlockOrMountFailure)
	}

	devices := map[string]string{}
	for i, p := range plans {
		devices[p.desc.Label] = fmt.Sprintf("%sp%d", loopDevice, i+1)
	}
	return devices, nil
}

// MakeFilesystem invokes the appropriate mkfs.* binary and returns the new
// filesystem's discovered UUID via blkid, base-spec §4.2's make_filesystem.
func (b *Backend) MakeFilesystem(partitionDevice string, fs types.FilesystemKind, label string) (uuid.UUID, error) {
	if fs == types.FSNone {
		return uuid.UUID{}, nil
	}
	args := []string{}
	var cmd string
	switch fs {
	case types.FSExt4:
		cmd = "mkfs.ext4"
		if label != "" {
			args = append(args, "-L", label)
		}
	case types.FSXFS:
		cmd = "mkfs.xfs"
		args = append(args, "-f")
		if label != "" {
			args = append(args, "-L", label)
		}
	case types.FSBtrfs:
		cmd = "mkfs.btrfs"
		args = append(args, "-f")
		if label != "" {
			args = append(args, "-L", label)
		}
	case types.FSVfat:
		cmd = "mkfs.vfat"
		if label != "" {
			args = append(args, "-n", label)
		}
	case types.FSF2FS:
		cmd = "mkfs.f2fs"
		if label != "" {
			args = append(args, "-l", label)
		}
	default:
		return uuid.UUID{}, katsuerrors.New(fmt.Sprintf("unknown filesystem kind %q", fs), katsuerrors.ManifestInvalid)
	}
	args = append(args, partitionDevice)

	out, err := b.Runner.Run(cmd, args...)
	if err != nil {
		return uuid.UUID{}, katsuerrors.NewChildProcessError(fmt.Errorf("%s %s: %w", cmd, partitionDevice, err), out, katsuerrors.BlockOrMountFailure)
	}

	return b.discoverUUID(partitionDevice)
}

// discoverUUID shells out to blkid --output export and takes the UUID from
// its UUID= line, grounded on canonical/snapd's sfdisk/lsblk JSON dump-and-query
// pattern (partition/sfdisk.go) generalized from sfdisk JSON to blkid
// key=value export format (parsed here rather than queried, since blkid's
// export mode is not JSON; the JSON+gojq path is used for lsblk below).
func (b *Backend) discoverUUID(partitionDevice string) (uuid.UUID, error) {
	out, err := b.Runner.Run("blkid", "--output", "export", partitionDevice)
	if err != nil {
		return uuid.UUID{}, katsuerrors.NewChildProcessError(fmt.Errorf("blkid %s: %w", partitionDevice, err), out, katsuerrors.BlockOrMountFailure)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "UUID=") {
			id, err := uuid.Parse(strings.TrimPrefix(line, "UUID="))
			if err != nil {
				return uuid.UUID{}, katsuerrors.NewFromError(fmt.Errorf("parsing discovered UUID: %w", err), katsuerrors.BlockOrMountFailure)
			}
			return id, nil
		}
	}
	return uuid.UUID{}, katsuerrors.New(fmt.Sprintf("no UUID reported by blkid for %s", partitionDevice), katsuerrors.BlockOrMountFailure)
}

// LsblkPartitions queries `lsblk --json` for the partition nodes of a loop
// device, giving the kernel's view of the table without re-deriving device
// names from the plan; nothing in the build path calls it. Grounded on
// canonical/snapd's sfdiskDeviceDump / lsblk --fs --json parsing, narrowed
// with gojq instead of a bespoke struct per lsblk version.
func (b *Backend) LsblkPartitions(loopDevice string) ([]string, error) {
	out, err := b.Runner.Run("lsblk", "--json", "--output", "NAME,PATH", loopDevice)
	if err != nil {
		return nil, katsuerrors.NewChildProcessError(fmt.Errorf("lsblk %s: %w", loopDevice, err), out, katsuerrors.BlockOrMountFailure)
	}

	var doc interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("parsing lsblk output: %w", err), katsuerrors.BlockOrMountFailure)
	}

	query, err := gojq.Parse(".blockdevices[0].children[]?.path")
	if err != nil {
		return nil, err
	}
	iter := query.Run(doc)
	var paths []string
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		if s, ok := v.(string); ok {
			paths = append(paths, s)
		}
	}
	return paths, nil
}

// DDBlocks copies sourcePath's contents directly into partitionDevice,
// base-spec §4.2's dd_blocks, used for PartitionDescriptor.RawPayload.
func (b *Backend) DDBlocks(partitionDevice, sourcePath string) error {
	out, err := b.Runner.Run("dd", "if="+sourcePath, "of="+partitionDevice, "bs=4M", "conv=fsync")
	if err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("dd %s -> %s: %w", sourcePath, partitionDevice, err), out, katsuerrors.BlockOrMountFailure)
	}
	return nil
}
