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

// Package hostcheck runs the preflight base-spec §5 requires: fail early
// with a HostCapability error if the host can't actually do what the
// manifest asks for, rather than discovering it mid-build with half the
// ResourceStack already acquired.
package hostcheck

import (
	"fmt"
	"os"

	"github.com/jaypipes/ghw"
	"github.com/zcalusic/sysinfo"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// archAliases maps a manifest Architecture to the strings a host may report
// it as, since uname-style and sysinfo/ghw reporting don't always agree on
// "x86_64" vs "amd64" etc.
var archAliases = map[types.Architecture][]string{
	types.ArchX86_64:  {"x86_64", "amd64"},
	types.ArchAarch64: {"aarch64", "arm64"},
	types.ArchRiscv64: {"riscv64"},
}

// euid is overridden in tests; os.Geteuid is not mockable otherwise.
var euid = os.Geteuid

// loopControlPath is overridden in tests.
var loopControlPath = "/dev/loop-control"

// hostArch is overridden in tests; wraps sysinfo so checkArch doesn't need
// to probe the real host to be exercised.
var hostArch = func() string {
	var si sysinfo.SysInfo
	si.GetSysInfo()
	return si.OS.Architecture
}

// Checker runs the host preflight described in base-spec §5.
type Checker struct {
	Logger types.Logger
	FS     types.FS
}

// New constructs a Checker.
func New(logger types.Logger, fs types.FS) *Checker {
	return &Checker{Logger: logger, FS: fs}
}

// Check runs every applicable probe for bc.Manifest, returning the first
// HostCapability failure encountered. Probes that are merely informative
// (block inventory) are logged at debug level and never fail the build.
func (c *Checker) Check(bc *buildctx.BuildContext) error {
	if err := c.checkRoot(); err != nil {
		return err
	}
	if err := c.checkArch(bc.Manifest.Arch); err != nil {
		return err
	}
	if bc.Manifest.Output.Kind == types.OutputDiskImage {
		if err := c.checkLoopSupport(); err != nil {
			return err
		}
	}
	c.logInventory()
	return nil
}

// checkRoot requires CAP_SYS_ADMIN-equivalent access. katsu mounts, loop-
// attaches and chroots, none of which an unprivileged process can do, so
// there is no privilege-dropping path to fall back to (base-spec §5).
func (c *Checker) checkRoot() error {
	if euid() != 0 {
		return katsuerrors.New("katsu must run as root: mounting, loop-device and chroot operations require it", katsuerrors.HostCapability)
	}
	return nil
}

// checkArch compares the manifest's target architecture against the host's
// reported architecture. katsu does not perform cross-arch emulation setup
// itself, so a mismatch is a fail-fast host-capability error rather than a
// silent best-effort build.
func (c *Checker) checkArch(want types.Architecture) error {
	host := hostArch()
	if host == "" {
		c.debugf("host architecture could not be determined, skipping architecture check")
		return nil
	}

	for _, alias := range archAliases[want] {
		if alias == host {
			return nil
		}
	}
	return katsuerrors.New(fmt.Sprintf("manifest targets %q but host reports architecture %q", want, host), katsuerrors.HostCapability)
}

// checkLoopSupport verifies /dev/loop-control exists, since disk-image
// outputs attach a loop device before partitioning (pkg/block.Backend).
func (c *Checker) checkLoopSupport() error {
	if _, err := c.FS.Stat(loopControlPath); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("loop device support unavailable: %w", err), katsuerrors.HostCapability)
	}
	return nil
}

// logInventory is a best-effort, non-fatal block-device inventory dump used
// to aid debugging disk-image builds; a ghw failure here never fails Check.
func (c *Checker) logInventory() {
	block, err := ghw.Block()
	if err != nil {
		c.debugf("block inventory unavailable: %v", err)
		return
	}
	c.debugf("host reports %d disk(s), %d total bytes", len(block.Disks), block.TotalPhysicalBytes)
}

func (c *Checker) debugf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Debugf(format, args...)
	}
}
