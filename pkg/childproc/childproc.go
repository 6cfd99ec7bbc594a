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

// Package childproc is the one types.Runner implementation backed by a real
// os/exec child process; every other package depends only on types.Runner,
// matching the teacher's own posture of locating binaries with
// exec.LookPath at the command layer (cmd/build-iso.go.go's "path, err :=
// exec.LookPath(\"mount\")") rather than scattering os/exec through the
// domain packages.
package childproc

import (
	"bytes"
	"os/exec"

	"github.com/katsu-project/katsu/pkg/types"
)

// Runner shells out via os/exec, capturing combined stdout+stderr so callers
// can attach it via katsuerrors.NewChildProcessError under their own Kind.
type Runner struct{}

// New returns a Runner.
func New() *Runner {
	return &Runner{}
}

// Run executes command with args in the current working directory and
// environment.
func (r *Runner) Run(command string, args ...string) ([]byte, error) {
	return r.RunContext(types.ChildContext{}, command, args...)
}

// RunContext executes command with args, optionally overriding the working
// directory and environment via ctx.
func (r *Runner) RunContext(ctx types.ChildContext, command string, args ...string) ([]byte, error) {
	cmd := exec.Command(command, args...)
	if ctx.Dir != "" {
		cmd.Dir = ctx.Dir
	}
	if len(ctx.Env) > 0 {
		cmd.Env = ctx.Env
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// CommandExists reports whether command is resolvable on PATH.
func (r *Runner) CommandExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}
