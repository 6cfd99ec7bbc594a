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

// Package manifestloader is the boundary base-spec §3 describes as
// "optional imports merged before reaching the core": it reads a manifest
// file plus every fragment its imports name, merges them into a single
// types.Manifest, and hands the result to the caller already validated.
// Bootstrap and every other core component never sees an ImportSpec.
package manifestloader

import (
	"fmt"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// Load reads the manifest at path, merges every fragment named by its
// imports (resolved relative to path's directory, one level deep — imports
// of imports are not followed), and validates the merged result.
func Load(fs types.FS, path string) (*types.Manifest, error) {
	root, err := readManifest(fs, path)
	if err != nil {
		return nil, err
	}

	merged := &types.Manifest{}
	dir := filepath.Dir(path)
	for _, imp := range root.Imports {
		fragPath := imp.Source
		if !filepath.IsAbs(fragPath) {
			fragPath = filepath.Join(dir, fragPath)
		}
		frag, err := readManifest(fs, fragPath)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, frag)
	}
	mergeInto(merged, root)
	merged.Imports = nil

	if err := merged.Validate(); err != nil {
		return nil, katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
	}
	return merged, nil
}

func readManifest(fs types.FS, path string) (*types.Manifest, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("reading manifest %s: %w", path, err), katsuerrors.ManifestInvalid)
	}
	var m types.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, katsuerrors.NewFromError(fmt.Errorf("parsing manifest %s: %w", path, err), katsuerrors.ManifestInvalid)
	}
	return &m, nil
}

// mergeInto layers src over dst: scalar/struct fields replace dst's when
// src sets them, slice fields (Accounts, Scripts) accumulate since imports
// contribute additional declarations rather than replacing the base's.
func mergeInto(dst, src *types.Manifest) {
	if src.Distro != "" {
		dst.Distro = src.Distro
	}
	if src.Arch != "" {
		dst.Arch = src.Arch
	}
	if src.Bootloader != "" {
		dst.Bootloader = src.Bootloader
	}
	if src.Bootstrap.Kind != "" {
		dst.Bootstrap = src.Bootstrap
	}
	if len(src.Disk.Partitions) > 0 {
		dst.Disk = src.Disk
	}
	if src.Output.Kind != "" {
		dst.Output = src.Output
	}
	dst.Accounts = append(dst.Accounts, src.Accounts...)
	dst.Scripts = append(dst.Scripts, src.Scripts...)
}
