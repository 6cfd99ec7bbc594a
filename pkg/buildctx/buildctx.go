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

// Package buildctx defines BuildContext, the per-invocation value base-spec
// §3 describes: the Manifest, the working directory, the ResourceStack, the
// discovered-UUID map and the keep-chroot policy flag.
package buildctx

import (
	"path/filepath"

	"github.com/google/uuid"

	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/resourcestack"
	"github.com/katsu-project/katsu/pkg/types"
)

// BuildContext is constructed once per invocation and threaded through every
// component. It is not safe for concurrent use from multiple builds, which
// matches base-spec §5's single build per working directory assumption.
type BuildContext struct {
	Manifest *types.Manifest
	WorkDir  string

	Stack *resourcestack.ResourceStack

	// UUIDs maps partition label to discovered filesystem UUID, filled by the
	// disk-image pipeline from BlockBackend.MakeFilesystem's results and
	// consulted by BootloaderInstaller. ScriptEnv does not inject these
	// UUIDs into the script environment.
	UUIDs map[string]uuid.UUID

	// KeepChroot mirrors KATSU_KEEP_CHROOT: when set, the stack is disarmed
	// instead of unwound, so no release action runs and the working
	// directory, its mounts, the loop device and the sparse image are all
	// left in place, per the base-spec §9 open question resolution
	// (preserve-on-success too).
	KeepChroot bool

	Logger types.Logger
	Runner types.Runner
	FS     types.FS
	Mount  types.Mounter
}

// New constructs a BuildContext for a fresh build rooted at workDir.
func New(manifest *types.Manifest, workDir string, logger types.Logger, runner types.Runner, fs types.FS, mounter types.Mounter) *BuildContext {
	return &BuildContext{
		Manifest: manifest,
		WorkDir:  workDir,
		Stack:    resourcestack.New(logger),
		UUIDs:    map[string]uuid.UUID{},
		Logger:   logger,
		Runner:   runner,
		FS:       fs,
		Mount:    mounter,
	}
}

// ChrootPath is <work>/chroot, the target root populated by Bootstrap.
func (b *BuildContext) ChrootPath() string {
	return filepath.Join(b.WorkDir, constants.WorkChroot)
}

// ImageDir is <work>/image, holding the disk image and other intermediate
// artifacts.
func (b *BuildContext) ImageDir() string {
	return filepath.Join(b.WorkDir, constants.WorkImageDir)
}

// ImagePath is <work>/image/katsu.img, the disk output path base-spec §6
// fixes.
func (b *BuildContext) ImagePath() string {
	return filepath.Join(b.ImageDir(), constants.ImageName)
}

// IsoRootPath is <work>/iso-root, the ISO staging directory.
func (b *BuildContext) IsoRootPath() string {
	return filepath.Join(b.WorkDir, constants.WorkIsoRoot)
}

// LockPath is the advisory exclusivity lock file for the working directory.
func (b *BuildContext) LockPath() string {
	return filepath.Join(b.WorkDir, constants.LockFile)
}

// ScriptEnv returns the environment variables injected into every script
// per base-spec §4.5: CHROOT, ARCH, DISTRO plus any declared exports.
func (b *BuildContext) ScriptEnv(exports map[string]string) []string {
	env := []string{
		constants.EnvChroot + "=" + b.ChrootPath(),
		constants.EnvArch + "=" + string(b.Manifest.Arch),
		constants.EnvDistro + "=" + b.Manifest.Distro,
	}
	for k, v := range exports {
		env = append(env, k+"="+v)
	}
	return env
}
