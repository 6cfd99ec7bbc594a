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
	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

// directoryOutput bootstraps a root, scripts it, and emits the resulting
// tree at the output path verbatim, base-spec §4.7's directory variant.
type directoryOutput struct{}

func (d *directoryOutput) Assemble(bc *buildctx.BuildContext) error {
	pushChrootCleanup(bc)
	err := populateAndScript(bc)
	if err == nil {
		if bc.Manifest.Output.Path == "" {
			err = katsuerrors.New("output.path is required for a directory output", katsuerrors.ManifestInvalid)
		} else {
			// Rename the chroot root out before unwind removes it: the
			// removal pushed above becomes a no-op once this succeeds.
			err = moveArtifact(bc, bc.ChrootPath(), bc.Manifest.Output.Path)
		}
	}
	return finish(bc, err)
}
