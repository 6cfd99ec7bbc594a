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

// Package main wires the katsu binary: a single cobra root command that
// loads a manifest, runs the host preflight, and hands off to pkg/output,
// mirroring the teacher's own cmd/build-iso.go.go shape (a root-checked
// RunE that resolves config via viper/pflag and then calls into the
// domain packages) collapsed to katsu's single build operation.
package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/mount-utils"

	"github.com/katsu-project/katsu/pkg/buildctx"
	"github.com/katsu-project/katsu/pkg/childproc"
	"github.com/katsu-project/katsu/pkg/constants"
	"github.com/katsu-project/katsu/pkg/hostcheck"
	"github.com/katsu-project/katsu/pkg/katsuerrors"
	"github.com/katsu-project/katsu/pkg/logging"
	"github.com/katsu-project/katsu/pkg/manifestloader"
	"github.com/katsu-project/katsu/pkg/osfs"
	"github.com/katsu-project/katsu/pkg/output"
	"github.com/katsu-project/katsu/pkg/scripts"
)

// NewRootCmd builds the katsu root command. Split out from Execute so tests
// can exercise flag parsing without touching os.Exit.
func NewRootCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "katsu MANIFEST",
		Short: "Build bootable OS artifacts from a declarative manifest",
		Long: "katsu turns a declarative manifest into a bootable OS artifact:\n" +
			"a raw disk image, an ISO, a squashfs/erofs image, a directory tree or a\n" +
			"tar archive, with full control over partitioning, bootloaders and\n" +
			"chroot-based customization.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBuild,
	}

	flags := c.Flags()
	flags.String("work-dir", "", "working directory for the build (defaults to a fresh temporary directory)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides "+constants.EnvLogLevel+")")
	flags.Bool("keep-chroot", false, "preserve the working directory and its mounts after the build (overrides "+constants.EnvKeepChroot+")")
	flags.Bool("debug", false, "dump the resolved manifest and build context before starting")

	viper.BindPFlag("work-dir", flags.Lookup("work-dir"))
	viper.BindPFlag("log-level", flags.Lookup("log-level"))
	viper.BindPFlag("keep-chroot", flags.Lookup("keep-chroot"))
	viper.BindPFlag("debug", flags.Lookup("debug"))
	viper.BindEnv("log-level", constants.EnvLogLevel)
	viper.BindEnv("keep-chroot", constants.EnvKeepChroot)

	return c
}

// Execute runs the root command and returns the process exit code base-spec
// §6 assigns to whatever error (if any) it returns.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if kind, ok := katsuerrors.KindOf(err); ok {
			return kind.ExitCode()
		}
		return 1
	}
	return 0
}

func runBuild(cmd *cobra.Command, args []string) error {
	logger := logging.New()
	if level := viper.GetString("log-level"); level != "" {
		if err := logger.SetLevel(level); err != nil {
			return katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
		}
	}

	fs := osfs.New()
	manifest, err := manifestloader.Load(fs, args[0])
	if err != nil {
		return err
	}
	if err := scripts.ValidateContext(manifest.Scripts); err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.ManifestInvalid)
	}

	workDir := viper.GetString("work-dir")
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "katsu-")
		if err != nil {
			return katsuerrors.NewFromError(fmt.Errorf("creating working directory: %w", err), katsuerrors.BlockOrMountFailure)
		}
	}
	if err := fs.MkdirAll(workDir, constants.DirPerm); err != nil {
		return katsuerrors.NewFromError(fmt.Errorf("creating working directory %s: %w", workDir, err), katsuerrors.BlockOrMountFailure)
	}

	mounterPath, err := exec.LookPath("mount")
	if err != nil {
		return katsuerrors.NewFromError(err, katsuerrors.HostCapability)
	}

	runner := childproc.New()
	mounter := mount.New(mounterPath)

	bc := buildctx.New(manifest, workDir, logger, runner, fs, mounter)
	bc.KeepChroot = viper.GetBool("keep-chroot")

	// Registered before anything else acquires a resource under workDir, so
	// it releases last: unwind empties the working directory entirely
	// unless keep-chroot disarms the stack first.
	bc.Stack.Push("workdir:"+workDir, func() error {
		if err := fs.RemoveAll(workDir); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	})

	if viper.GetBool("debug") {
		logger.Debugf("resolved manifest:\n%s", litter.Sdump(manifest))
		logger.Debugf("build context:\n%s", litter.Sdump(bc))
	}

	checker := hostcheck.New(logger, fs)
	if err := checker.Check(bc); err != nil {
		return err
	}

	logger.Infof("building %s output for %s at %s", manifest.Output.Kind, manifest.Distro, workDir)
	if err := output.Run(bc); err != nil {
		return err
	}
	logger.Info("build complete")
	return nil
}
