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

// Package katsuerrors gives every component a common vocabulary for what
// went wrong, matching the error kind set in base-spec §7 and the exit codes
// in §6.
package katsuerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a build failure. Each Kind maps to one exit code; some
// Kinds share a code (HostCapability with ManifestInvalid,
// ChildProcessFailure with BootstrapFailure).
type Kind int

const (
	ManifestInvalid Kind = iota + 1
	BootstrapFailure
	BlockOrMountFailure
	ScriptFailure
	BootloaderFailure
	UnwindPartial
	HostCapability
	ChildProcessFailure
)

// ExitCode returns the process exit code base-spec §6 assigns to this Kind.
func (k Kind) ExitCode() int {
	switch k {
	case ManifestInvalid:
		return 1
	case BootstrapFailure:
		return 2
	case BlockOrMountFailure:
		return 3
	case ScriptFailure:
		return 4
	case BootloaderFailure:
		return 5
	case UnwindPartial:
		return 6
	case HostCapability:
		return 1
	case ChildProcessFailure:
		return 2
	default:
		return 1
	}
}

func (k Kind) String() string {
	switch k {
	case ManifestInvalid:
		return "ManifestInvalid"
	case BootstrapFailure:
		return "BootstrapFailure"
	case BlockOrMountFailure:
		return "BlockOrMountFailure"
	case ScriptFailure:
		return "ScriptFailure"
	case BootloaderFailure:
		return "BootloaderFailure"
	case UnwindPartial:
		return "UnwindPartial"
	case HostCapability:
		return "HostCapability"
	case ChildProcessFailure:
		return "ChildProcessFailure"
	default:
		return "Unknown"
	}
}

// Error wraps a build failure with the Kind that determines its exit code
// and, when built via NewChildProcessError, the captured output of the
// process that failed.
type Error struct {
	Kind   Kind
	cause  error
	Output []byte
}

func (e *Error) Error() string {
	if len(e.Output) > 0 {
		return fmt.Sprintf("%s: %v\n--- captured output ---\n%s", e.Kind, e.cause, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a katsuerrors.Error from a message and a Kind.
func New(msg string, kind Kind) *Error {
	return &Error{Kind: kind, cause: errors.New(msg)}
}

// NewFromError wraps an existing error with a Kind, preserving its stack via
// github.com/pkg/errors.
func NewFromError(err error, kind Kind) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, cause: errors.WithStack(err)}
}

// NewChildProcessError wraps a failed child-process invocation, capturing
// its combined output per base-spec §7's "ChildProcess (non-zero exit...,
// with stdout/stderr captured)". kind is the calling subsystem's own Kind
// (e.g. BlockOrMountFailure for a losetup/mkfs/blkid failure,
// BootloaderFailure for a grub2-install failure) so the resulting exit code
// matches base-spec §6 instead of collapsing every child-process failure
// onto the bootstrap exit code.
func NewChildProcessError(err error, output []byte, kind Kind) *Error {
	return &Error{Kind: kind, cause: errors.WithStack(err), Output: output}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a
// *katsuerrors.Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return 0, false
}
