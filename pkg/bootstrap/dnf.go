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

package bootstrap

import (
	"fmt"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// packageManager runs dnf or dnf5 with --installroot against the chroot,
// base-spec §4.4's package-manager variant.
type packageManager struct {
	binary string
}

func (p *packageManager) PopulateRoot(bc *buildctx.BuildContext) error {
	spec := bc.Manifest.Bootstrap
	root := bc.ChrootPath()

	if !bc.Runner.CommandExists(p.binary) {
		return katsuerrors.New(fmt.Sprintf("%s binary not found on host", p.binary), katsuerrors.HostCapability)
	}
	if err := bc.FS.MkdirAll(root, 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating chroot root: %w", err), katsuerrors.BootstrapFailure)
	}

	args := []string{
		"--installroot=" + root,
		"--assumeyes",
	}
	if spec.ReleaseVer != "" {
		args = append(args, "--releasever="+spec.ReleaseVer)
	}
	args = append(args, "--setopt=install_weak_deps=False")
	if spec.RepoDir != "" {
		args = append(args, "--setopt=reposdir="+spec.RepoDir)
	}
	if !spec.GPGCheck {
		args = append(args, "--nogpgcheck")
	}
	args = append(args, "--forcearch="+string(bc.Manifest.Arch))

	args = append(args, "install")
	for _, pkg := range spec.Packages {
		args = append(args, pkg)
	}
	for _, ex := range spec.Excludes {
		args = append(args, "--exclude="+ex)
	}

	if out, err := bc.Runner.Run(p.binary, args...); err != nil {
		return katsuerrors.NewChildProcessError(fmt.Errorf("%s install failed: %w", p.binary, err), out, katsuerrors.BootstrapFailure)
	}

	return applyAccounts(bc)
}
