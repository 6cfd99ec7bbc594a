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

// Package osfs implements types.FS directly against the real filesystem,
// the concrete collaborator cmd/katsu wires into every other package.
package osfs

import (
	"os"
	"time"
)

// OSFS implements types.FS with direct os calls. It carries no state.
type OSFS struct{}

// New returns an OSFS.
func New() OSFS { return OSFS{} }

func (OSFS) Create(name string) (*os.File, error) { return os.Create(name) }
func (OSFS) Open(name string) (*os.File, error)    { return os.Open(name) }
func (OSFS) Mkdir(name string, perm os.FileMode) error {
	return os.Mkdir(name, perm)
}
func (OSFS) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}
func (OSFS) ReadFile(filename string) ([]byte, error) { return os.ReadFile(filename) }
func (OSFS) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}
func (OSFS) ReadDir(dirname string) ([]os.DirEntry, error) { return os.ReadDir(dirname) }
func (OSFS) RemoveAll(path string) error                   { return os.RemoveAll(path) }
func (OSFS) Remove(name string) error                      { return os.Remove(name) }
func (OSFS) Rename(oldpath, newpath string) error          { return os.Rename(oldpath, newpath) }
func (OSFS) Stat(name string) (os.FileInfo, error)         { return os.Stat(name) }
func (OSFS) Lstat(name string) (os.FileInfo, error)        { return os.Lstat(name) }
func (OSFS) Symlink(oldname, newname string) error         { return os.Symlink(oldname, newname) }
func (OSFS) Readlink(name string) (string, error)          { return os.Readlink(name) }
func (OSFS) Chmod(name string, mode os.FileMode) error     { return os.Chmod(name, mode) }
func (OSFS) Chown(name string, uid, gid int) error         { return os.Chown(name, uid, gid) }
func (OSFS) Chtimes(name string, atime, mtime time.Time) error {
	return os.Chtimes(name, atime, mtime)
}
