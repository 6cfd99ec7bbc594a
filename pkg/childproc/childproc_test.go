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

package childproc_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/childproc"
	"github.com/katsu-project/katsu/pkg/types"
)

func TestChildproc(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Childproc Suite")
}

var _ = Describe("Runner", func() {
	r := childproc.New()

	It("captures stdout from a successful command", func() {
		out, err := r.Run("echo", "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("hello"))
	})

	It("returns an error for a failing command", func() {
		_, err := r.Run("false")
		Expect(err).To(HaveOccurred())
	})

	It("honors the working directory in RunContext", func() {
		out, err := r.RunContext(types.ChildContext{Dir: "/tmp"}, "pwd")
		Expect(err).NotTo(HaveOccurred())
		Expect(string(out)).To(ContainSubstring("/tmp"))
	})

	It("reports a known command as existing", func() {
		Expect(r.CommandExists("echo")).To(BeTrue())
	})

	It("reports an unknown command as not existing", func() {
		Expect(r.CommandExists("katsu-definitely-not-a-real-command")).To(BeFalse())
	})
})
