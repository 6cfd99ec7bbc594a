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

package katsuerrors_test

import (
	"errors"
	"fmt"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/katsuerrors"
)

func TestKatsuErrors(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Katsuerrors Suite")
}

var _ = Describe("Kind", func() {
	It("maps every kind to the exit code base-spec §6 assigns", func() {
		Expect(katsuerrors.ManifestInvalid.ExitCode()).To(Equal(1))
		Expect(katsuerrors.BootstrapFailure.ExitCode()).To(Equal(2))
		Expect(katsuerrors.BlockOrMountFailure.ExitCode()).To(Equal(3))
		Expect(katsuerrors.ScriptFailure.ExitCode()).To(Equal(4))
		Expect(katsuerrors.BootloaderFailure.ExitCode()).To(Equal(5))
		Expect(katsuerrors.UnwindPartial.ExitCode()).To(Equal(6))
		Expect(katsuerrors.HostCapability.ExitCode()).To(Equal(1))
		Expect(katsuerrors.ChildProcessFailure.ExitCode()).To(Equal(2))
	})
})

var _ = Describe("KindOf", func() {
	It("extracts the Kind from a katsuerrors.Error", func() {
		err := katsuerrors.New("disk too small", katsuerrors.ManifestInvalid)
		kind, ok := katsuerrors.KindOf(err)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(katsuerrors.ManifestInvalid))
	})

	It("extracts the Kind through wrapping with fmt.Errorf(%w)", func() {
		inner := katsuerrors.New("losetup failed", katsuerrors.BlockOrMountFailure)
		wrapped := fmt.Errorf("attaching loop device: %w", inner)
		kind, ok := katsuerrors.KindOf(wrapped)
		Expect(ok).To(BeTrue())
		Expect(kind).To(Equal(katsuerrors.BlockOrMountFailure))
	})

	It("reports false for a plain error", func() {
		_, ok := katsuerrors.KindOf(errors.New("not a katsu error"))
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("NewChildProcessError", func() {
	It("captures the child process's output in Error()", func() {
		err := katsuerrors.NewChildProcessError(errors.New("exit status 1"), []byte("mkfs.ext4: device busy"), katsuerrors.BlockOrMountFailure)
		Expect(err.Kind).To(Equal(katsuerrors.BlockOrMountFailure))
		Expect(err.Error()).To(ContainSubstring("mkfs.ext4: device busy"))
	})

	It("tags the Kind the calling subsystem passes, not a fixed default", func() {
		err := katsuerrors.NewChildProcessError(errors.New("exit status 1"), nil, katsuerrors.BootloaderFailure)
		Expect(err.Kind).To(Equal(katsuerrors.BootloaderFailure))
		Expect(err.Kind.ExitCode()).To(Equal(5))
	})
})

var _ = Describe("NewFromError", func() {
	It("returns nil when wrapping a nil error", func() {
		Expect(katsuerrors.NewFromError(nil, katsuerrors.ScriptFailure)).To(BeNil())
	})

	It("preserves the original error in Unwrap", func() {
		original := errors.New("script exited nonzero")
		err := katsuerrors.NewFromError(original, katsuerrors.ScriptFailure)
		Expect(errors.Is(err, original)).To(BeTrue())
	})
})
