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

// Package resourcestack implements the ordered LIFO release discipline
// base-spec §4.1 describes: every acquired resource (tempdir, loop
// attachment, mount, bind mount) is pushed here with a release action, and
// the whole stack unwinds in reverse order on every exit path.
package resourcestack

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/katsu-project/katsu/pkg/types"
)

// Release is one unit of teardown work. It must be idempotent-safe: a
// release that discovers its resource already gone must succeed.
type Release func() error

// entry pairs a release action with a label used in unwind reporting.
type entry struct {
	label   string
	release Release
}

// ResourceStack is the single owner of teardown authority for a build. No
// component should release a resource outside of a push onto this stack.
type ResourceStack struct {
	mu      sync.Mutex
	entries []entry
	logger  types.Logger
}

// New returns an empty ResourceStack. logger may be nil, in which case
// unwind reporting is silent.
func New(logger types.Logger) *ResourceStack {
	return &ResourceStack{logger: logger}
}

// Push records a newly acquired resource and its release action. Resources
// must be pushed in acquisition order; Unwind releases them in the reverse
// order, matching the tempdir → loop → partition table → mounts → binds
// dependency chain base-spec §4.1 describes.
func (r *ResourceStack) Push(label string, release Release) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{label: label, release: release})
}

// Len reports how many resources are currently outstanding.
func (r *ResourceStack) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Disarm removes every pushed entry without running its release action, used
// when ownership of the acquired resources is handed off to a longer-lived
// context (base-spec §4.1's disarm()).
func (r *ResourceStack) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// Unwind releases every outstanding resource in reverse insertion order,
// continuing past individual release failures rather than stopping at the
// first one. Release failures are aggregated with multierror and wrapped as
// katsuerrors.UnwindPartial by the caller, which attaches them to the
// build's own error rather than replacing it. Unwind empties the stack, so
// repeated calls after the
// first are no-ops, matching base-spec §8's idempotence property.
func (r *ResourceStack) Unwind() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	var result *multierror.Error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if err := e.release(); err != nil {
			if r.logger != nil {
				r.logger.Errorf("release failed for %q: %v", e.label, err)
			}
			result = multierror.Append(result, errLabel{label: e.label, err: err})
		}
	}
	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}

// errLabel associates a release failure with the label of the resource that
// produced it, so an UnwindPartial report names what leaked.
type errLabel struct {
	label string
	err   error
}

func (e errLabel) Error() string { return e.label + ": " + e.err.Error() }
func (e errLabel) Unwrap() error { return e.err }
