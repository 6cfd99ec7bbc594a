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

package bootstrap

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mauromorales/xpasswd/pkg/group"
	"github.com/mauromorales/xpasswd/pkg/passwd"
	"github.com/mauromorales/xpasswd/pkg/shadow"

	"github.com/katsu-project/katsu/pkg/buildctx"
)

// applyAccounts edits /etc/passwd, /etc/shadow and /etc/group inside the
// target root for every Manifest.Accounts entry, run once the root
// populated by PopulateRoot exists — a Go-native editor rather than
// shelling out to useradd, matching the teacher's own preference for
// xpasswd over chpasswd.
func applyAccounts(bc *buildctx.BuildContext) error {
	accounts := bc.Manifest.Accounts
	if len(accounts) == 0 {
		return nil
	}

	root := bc.ChrootPath()
	passwdPath := filepath.Join(root, "etc", "passwd")
	shadowPath := filepath.Join(root, "etc", "shadow")
	groupPath := filepath.Join(root, "etc", "group")

	pw, err := passwd.ParseFile(passwdPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", passwdPath, err)
	}
	sh, err := shadow.ParseFile(shadowPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", shadowPath, err)
	}
	gr, err := group.ParseFile(groupPath)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", groupPath, err)
	}

	nextUID := 1000
	for _, acc := range accounts {
		uid := acc.UID
		if uid == 0 {
			uid = nextUID
			nextUID++
		}
		home := acc.Home
		if home == "" {
			home = "/home/" + acc.Name
		}
		shell := acc.Shell
		if shell == "" {
			shell = "/bin/bash"
		}
		passwordHash := acc.PasswordHash
		if passwordHash == "" {
			passwordHash = "!"
		}

		pw.Entries = append(pw.Entries, &passwd.Entry{
			Username: acc.Name,
			UID:      strconv.Itoa(uid),
			GID:      strconv.Itoa(uid),
			Home:     home,
			Shell:    shell,
		})
		sh.Entries = append(sh.Entries, &shadow.Entry{
			Username: acc.Name,
			Password: passwordHash,
		})
		for _, groupName := range acc.Groups {
			g := gr.FindByName(groupName)
			if g == nil {
				continue
			}
			if !strings.Contains(g.Users, acc.Name) {
				if g.Users != "" {
					g.Users += ","
				}
				g.Users += acc.Name
			}
		}

		if err := writeSSHKeys(bc, home, acc.Name, acc.SSHKeys); err != nil {
			return err
		}
	}

	if err := pw.WriteFile(passwdPath); err != nil {
		return fmt.Errorf("writing %s: %w", passwdPath, err)
	}
	if err := sh.WriteFile(shadowPath); err != nil {
		return fmt.Errorf("writing %s: %w", shadowPath, err)
	}
	if err := gr.WriteFile(groupPath); err != nil {
		return fmt.Errorf("writing %s: %w", groupPath, err)
	}
	return nil
}

// writeSSHKeys writes acc's declared public keys to ~/.ssh/authorized_keys
// inside the target root, when any are declared.
func writeSSHKeys(bc *buildctx.BuildContext, home, name string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	sshDir := filepath.Join(bc.ChrootPath(), home, ".ssh")
	if err := bc.FS.MkdirAll(sshDir, 0700); err != nil {
		return fmt.Errorf("creating %s for %s: %w", sshDir, name, err)
	}
	data := strings.Join(keys, "\n") + "\n"
	if err := bc.FS.WriteFile(filepath.Join(sshDir, "authorized_keys"), []byte(data), 0600); err != nil {
		return fmt.Errorf("writing authorized_keys for %s: %w", name, err)
	}
	return nil
}
