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

// Package scripts implements ScriptRunner (base-spec §4.5): ordered
// execution of pre/post scripts in host or chroot context, with environment
// injection and failure propagation. Built directly on the teacher's own
// declarative stage executor, github.com/rancher/yip, generalized from
// yip's named cloud-init-style stages to the phase×context matrix the
// manifest describes.
package scripts

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rancher/yip/pkg/executor"
	"github.com/rancher/yip/pkg/logger"
	"github.com/rancher/yip/pkg/schema"
	"github.com/twpayne/go-vfs/v4"

	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/types"
)

// stageName is the yip stage every katsu script runs under; katsu owns
// ordering itself (base-spec §4.5), so every invocation uses one fixed stage
// name rather than mapping phase/context onto yip's own stage vocabulary.
const stageName = "katsu"

// Runner executes ScriptDescriptors in the order Manifest.OrderedScripts
// produces, via one yip executor shared by every invocation.
type Runner struct {
	Logger   types.Logger
	Runner   types.Runner
	executor *executor.Executor
}

// New returns a Runner. The yip executor is constructed once since it is
// stateless across stage runs.
func New(log types.Logger, runner types.Runner) *Runner {
	return &Runner{
		Logger:   log,
		Runner:   runner,
		executor: executor.NewExecutor(logger.NewYipLogger()),
	}
}

// RunPhase executes every script in phase, in Manifest.OrderedScripts order,
// for the given chroot path and environment. Host-context scripts run
// directly against the real filesystem; chroot-context scripts run as
// `chroot <path> sh -c ...` so the body executes inside the mounted chroot
// (the caller is responsible for having bound the kernel
// filesystems first, per base-spec §4.6's "after Bootstrap...before chroot
// mounts are released").
func (r *Runner) RunPhase(scripts []types.ScriptDescriptor, chrootPath string, env []string) error {
	for _, s := range scripts {
		if err := r.runOne(s, chrootPath, env); err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("script %q (%s): %w", s.ID, s.Name, err), katsuerrors.ScriptFailure)
		}
	}
	return nil
}

func (r *Runner) runOne(s types.ScriptDescriptor, chrootPath string, env []string) error {
	body, err := r.resolveBody(s)
	if err != nil {
		return err
	}

	if s.Context == types.ContextChroot && !r.Runner.CommandExists("chroot") {
		return fmt.Errorf("chroot binary not found on host")
	}

	envHostPath, envExecPath, err := r.writeEnvFile(s, env, chrootPath)
	if err != nil {
		return err
	}
	defer os.Remove(envHostPath)

	cfg := schema.YipConfig{
		Name: s.Name,
		Stages: map[string][]schema.Stage{
			stageName: {
				{Name: s.ID},
			},
		},
	}

	switch s.Context {
	case types.ContextHost:
		cfg.Stages[stageName][0].Commands = []string{fmt.Sprintf(". %s; %s", envExecPath, body)}
		return r.executor.Run(stageName, vfs.OSFS, nil, cfg)
	case types.ContextChroot:
		cfg.Stages[stageName][0].Commands = []string{
			fmt.Sprintf("chroot %s sh -c '. %s; %s'", chrootPath, envExecPath, body),
		}
		return r.executor.Run(stageName, vfs.OSFS, nil, cfg)
	default:
		return fmt.Errorf("unknown script context %q", s.Context)
	}
}

// resolveBody returns the literal shell body for a script, reading Path if
// Body is empty.
func (r *Runner) resolveBody(s types.ScriptDescriptor) (string, error) {
	if s.Body != "" {
		return s.Body, nil
	}
	if s.Path == "" {
		return "", fmt.Errorf("script has neither an inline body nor a path")
	}
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", fmt.Errorf("reading script file %s: %w", s.Path, err)
	}
	return string(data), nil
}

// writeEnvFile formats the injected CHROOT/ARCH/DISTRO plus the script's own
// declared exports as a sourceable env file, using godotenv the same way the
// teacher's bootloader package uses it to parse grubenv (here to format
// rather than parse, the inverse operation of the same library).
//
// A chroot-context script only sees chrootPath's own filesystem, so the file
// is written under <chrootPath>/tmp rather than the host's global tmpdir
// (chrootBinds never mounts /tmp into the chroot). It returns both the
// host-visible path, for the caller to remove, and the path the script
// itself should source: the same host path for a host-context script, or
// the chroot-relative /tmp/... path for a chroot-context one.
func (r *Runner) writeEnvFile(s types.ScriptDescriptor, env []string, chrootPath string) (hostPath, execPath string, err error) {
	merged := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				merged[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	for k, v := range s.Exports {
		merged[k] = v
	}

	var f *os.File
	if s.Context == types.ContextChroot {
		tmpDir := filepath.Join(chrootPath, "tmp")
		if err := os.MkdirAll(tmpDir, 0755); err != nil {
			return "", "", fmt.Errorf("creating %s: %w", tmpDir, err)
		}
		f, err = os.CreateTemp(tmpDir, "katsu-env-*.env")
	} else {
		f, err = os.CreateTemp("", "katsu-env-*.env")
	}
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	if err := godotenv.Write(merged, f.Name()); err != nil {
		return "", "", fmt.Errorf("writing script env file: %w", err)
	}

	if s.Context == types.ContextChroot {
		return f.Name(), filepath.Join("/tmp", filepath.Base(f.Name())), nil
	}
	return f.Name(), f.Name(), nil
}

// ValidateContext is a defensive check used by cmd/katsu before a build
// starts, rejecting a manifest with a script context neither "host" nor
// "chroot" before any resource is acquired.
func ValidateContext(scripts []types.ScriptDescriptor) error {
	for _, s := range scripts {
		if s.Context != types.ContextHost && s.Context != types.ContextChroot {
			return fmt.Errorf("script %q: unknown context %q", s.ID, s.Context)
		}
		if s.Phase != types.PhasePre && s.Phase != types.PhasePost {
			return fmt.Errorf("script %q: unknown phase %q", s.ID, s.Phase)
		}
	}
	return nil
}
