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

package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/katsu-project/katsu/pkg/bootstrap"
	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/mount"
	"github.com/katsu-project/katsu/pkg/scripts"
	"github.com/katsu-project/katsu/pkg/types"
)

// pushChrootCleanup registers bc.ChrootPath()'s removal on the stack, base-
// spec §4.4's "the ResourceStack will clean it up on unwind unless keep-
// chroot is set". Callers must push this before anything is mounted or
// bound onto the chroot root, so those releases run first and the
// directory is removed only once it is empty again.
func pushChrootCleanup(bc *buildctx.BuildContext) {
	path := bc.ChrootPath()
	bc.Stack.Push("chroot:"+path, func() error {
		if err := bc.FS.RemoveAll(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})
}

// populateAndScript runs the middle of every pipeline base-spec §4.7
// describes, shared by every output kind that bootstraps a root and scripts
// it: bootstrap → pre-scripts (host) → bind kernel filesystems → post-
// scripts (chroot). disk-image additionally mounts real partitions onto
// bc.ChrootPath() before calling this; every other output bootstraps
// directly onto it.
func populateAndScript(bc *buildctx.BuildContext) error {
	builder, err := bootstrap.New(bc.Manifest.Bootstrap.Kind)
	if err != nil {
		return err
	}
	if err := builder.PopulateRoot(bc); err != nil {
		return err
	}

	runner := scripts.New(bc.Logger, bc.Runner)
	if err := runner.RunPhase(bc.Manifest.OrderedScripts(types.PhasePre), bc.ChrootPath(), bc.ScriptEnv(nil)); err != nil {
		return err
	}

	planner := mount.New(bc.Mount, bc.Stack)
	if err := planner.BindChroot(bc.ChrootPath()); err != nil {
		return err
	}

	if err := runner.RunPhase(bc.Manifest.OrderedScripts(types.PhasePost), bc.ChrootPath(), bc.ScriptEnv(nil)); err != nil {
		return err
	}
	return nil
}

// moveArtifact relocates the built artifact from its working-directory
// staging path to the manifest-declared output path, when one was given
// (OutputSpec.Path is optional: base-spec §6 leaves the artifact under the
// working directory when absent).
func moveArtifact(bc *buildctx.BuildContext, stagingPath, outputPath string) error {
	if outputPath == "" {
		return nil
	}
	if err := bc.FS.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating output directory for %s: %w", outputPath, err), katsuerrors.BlockOrMountFailure)
	}
	if err := bc.FS.Rename(stagingPath, outputPath); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("moving artifact to %s: %w", outputPath, err), katsuerrors.BlockOrMountFailure)
	}
	return nil
}
