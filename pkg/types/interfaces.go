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

package types

import (
	"io"
	"io/fs"
	"os"
	"time"

	"k8s.io/mount-utils"
)

// Logger is the logging surface every package depends on. Call sites never
// import logrus directly; cmd/katsu wires the concrete implementation.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	SetLevel(level string) error
	SetOutput(w io.Writer)
}

// FS is the subset of filesystem operations the core performs. Production
// code and tests share one code path through this interface rather than
// branching on a "real build" flag: tests construct the same osfs.New()
// implementation rooted at a disposable os.MkdirTemp directory instead of a
// fixed path.
type FS interface {
	Create(name string) (*os.File, error)
	Open(name string) (*os.File, error)
	Mkdir(name string, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	ReadFile(filename string) ([]byte, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadDir(dirname string) ([]os.DirEntry, error)
	RemoveAll(path string) error
	Remove(name string) error
	Rename(oldpath, newpath string) error
	Stat(name string) (os.FileInfo, error)
	Lstat(name string) (os.FileInfo, error)
	Symlink(oldname, newname string) error
	Readlink(name string) (string, error)
	Chmod(name string, mode os.FileMode) error
	Chown(name string, uid, gid int) error
	Chtimes(name string, atime, mtime time.Time) error
}

var _ fs.FS = fsWrapper{}

// fsWrapper lets an FS satisfy io/fs.FS for callers (e.g. archive/tar
// extraction) that want the standard walking helpers.
type fsWrapper struct{ FS }

func (w fsWrapper) Open(name string) (fs.File, error) { return w.FS.Open(name) }

// AsIOFS adapts an FS to io/fs.FS.
func AsIOFS(f FS) fs.FS { return fsWrapper{f} }

// Runner executes child processes. Every BlockBackend/Bootstrap/ScriptRunner/
// BootloaderInstaller/OutputAssembler shellout goes through this interface so
// tests can substitute a recording fake instead of forking real binaries.
type Runner interface {
	Run(command string, args ...string) ([]byte, error)
	RunContext(ctx ChildContext, command string, args ...string) ([]byte, error)
	CommandExists(command string) bool
}

// ChildContext carries the environment and working directory a Runner
// invocation needs.
type ChildContext struct {
	Dir string
	Env []string
}

// Mounter wraps k8s.io/mount-utils' mount.Interface so MountPlanner and
// ScriptRunner never import it directly.
type Mounter interface {
	Mount(source, target, fstype string, options []string) error
	Unmount(target string) error
	IsLikelyNotMountPoint(file string) (bool, error)
}

// KubernetesMounter adapts a mount-utils mount.Interface to Mounter.
type KubernetesMounter struct {
	Interface mount.Interface
}

func (k KubernetesMounter) Mount(source, target, fstype string, options []string) error {
	return k.Interface.Mount(source, target, fstype, options)
}

func (k KubernetesMounter) Unmount(target string) error {
	return k.Interface.Unmount(target)
}

func (k KubernetesMounter) IsLikelyNotMountPoint(file string) (bool, error) {
	return k.Interface.IsLikelyNotMountPoint(file)
}

// SyscallInterface is the narrow set of raw syscalls BlockBackend/MountPlanner
// need that cannot be expressed through Runner (bind mounts, loop-control
// ioctls happen via Runner-invoked losetup instead, so this stays small).
type SyscallInterface interface {
	Mount(source string, target string, fstype string, flags uintptr, data string) error
	Unmount(target string, flags int) error
}
