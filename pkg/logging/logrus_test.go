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

package logging_test

import (
	"bytes"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/katsu-project/katsu/pkg/logging"
)

func TestLogging(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logging Suite")
}

var _ = Describe("New", func() {
	It("accepts a valid level name", func() {
		l := logging.New()
		Expect(l.SetLevel("debug")).To(Succeed())
	})

	It("rejects an unknown level name", func() {
		l := logging.New()
		Expect(l.SetLevel("verbose")).To(HaveOccurred())
	})

	It("writes formatted output to the configured writer", func() {
		var buf bytes.Buffer
		l := logging.New()
		l.SetOutput(&buf)
		l.Info("hello")
		Expect(buf.String()).To(ContainSubstring("hello"))
	})
})
