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

// Package bootstrap implements Bootstrap (base-spec §4.4): one variant per
// BuilderKind, each populating a target root from a different source.
package bootstrap

import (
	"fmt"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// Bootstrap is the common operation contract every builder variant
// implements: populate target root from whatever source the manifest names.
type Bootstrap interface {
	PopulateRoot(bc *buildctx.BuildContext) error
}

// New selects the Bootstrap variant for kind.
func New(kind types.BuilderKind) (Bootstrap, error) {
	switch kind {
	case types.BuilderDnf:
		return &packageManager{binary: "dnf"}, nil
	case types.BuilderDnf5:
		return &packageManager{binary: "dnf5"}, nil
	case types.BuilderOCI:
		return &ociBootstrap{}, nil
	case types.BuilderTar:
		return &tarBootstrap{}, nil
	case types.BuilderSquashfs:
		return &squashfsBootstrap{}, nil
	case types.BuilderDir:
		return &dirBootstrap{}, nil
	default:
		return nil, katsuerrors.New(fmt.Sprintf("unknown builder kind %q", kind), katsuerrors.ManifestInvalid)
	}
}
