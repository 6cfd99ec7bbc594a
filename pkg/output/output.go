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

// Package output implements OutputAssembler (base-spec §4.7): a pipeline
// selector over {disk-image, iso, squashfs, erofs, directory, tar}, each
// composing BlockBackend, MountPlanner, Bootstrap, ScriptRunner and
// BootloaderInstaller into the sequence base-spec §4.7 names.
package output

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// Assembler is the common operation contract every output variant
// implements: assemble the final artifact from a populated BuildContext.
type Assembler interface {
	Assemble(bc *buildctx.BuildContext) error
}

// New selects the Assembler variant for kind.
func New(kind types.OutputKind) (Assembler, error) {
	switch kind {
	case types.OutputDiskImage:
		return &diskImage{}, nil
	case types.OutputISO:
		return &iso{}, nil
	case types.OutputSquashfs:
		return &squashfsOutput{}, nil
	case types.OutputErofs:
		return &erofsOutput{}, nil
	case types.OutputDirectory:
		return &directoryOutput{}, nil
	case types.OutputTar:
		return &tarOutput{}, nil
	default:
		return nil, katsuerrors.New(fmt.Sprintf("unknown output kind %q", kind), katsuerrors.ManifestInvalid)
	}
}

// Run is the single entry point cmd/katsu calls: it takes the working
// directory's exclusivity lock for the duration of the build (base-spec §5's
// "two concurrent builds in the same working directory are unsupported"
// turned into a fast, explicit failure rather than undefined behavior), then
// dispatches to the Assembler the manifest's Output.Kind names.
func Run(bc *buildctx.BuildContext) error {
	lock := flock.New(bc.LockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("acquiring working-directory lock: %w", err), katsuerrors.HostCapability)
	}
	if !locked {
		return katsuerrors.New(fmt.Sprintf("working directory %q is locked by another build", bc.WorkDir), katsuerrors.HostCapability)
	}
	defer lock.Unlock()

	asm, err := New(bc.Manifest.Output.Kind)
	if err != nil {
		return err
	}
	return asm.Assemble(bc)
}

// releaseResources runs the ResourceStack's unwind policy at the end of a
// build: KeepChroot preserves the chroot and every mount onto it by
// disarming the stack (consumed without releasing) rather than unwinding it,
// base-spec §9's "preserve-on-success too" resolution recorded in
// buildctx.BuildContext.KeepChroot's own doc comment.
func releaseResources(bc *buildctx.BuildContext) error {
	if bc.KeepChroot {
		bc.Stack.Disarm()
		return nil
	}
	if err := bc.Stack.Unwind(); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.UnwindPartial)
	}
	return nil
}

// finish wraps buildErr with releaseResources's own result, per base-spec
// §4.1: "On any exit path from a build, unwind() runs... Release failures
// are logged and aggregated; they do not mask the original error but are
// attached to it."
func finish(bc *buildctx.BuildContext, buildErr error) error {
	releaseErr := releaseResources(bc)
	if buildErr != nil {
		if releaseErr != nil {
			return fmt.Errorf("%w (additionally, during unwind: %v)", buildErr, releaseErr)
		}
		return buildErr
	}
	return releaseErr
}
