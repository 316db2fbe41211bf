// Package sshkeycommand implements the read side of the supplemented
// sshkey map: sshd's AuthorizedKeysCommand calls a small helper binary with
// a username argument and expects authorized_keys-formatted lines on
// stdout. This package provides the lookup the helper needs against the
// sshkey cache written by internal/updater; the helper binary itself
// (registered with sshd_config) is the external collaborator spec.md §1
// scopes out of nsscache proper.
package sshkeycommand

import (
	"fmt"
	"strings"

	"github.com/nsscache/nsscache-go/internal/cache/files"
	"github.com/nsscache/nsscache-go/internal/maps"
)

// Lookup resolves one user's authorized keys from the flat-file sshkey
// cache at dir/sshkey, returning them newline-joined and ready to write to
// stdout verbatim.
func Lookup(dir, username string) (string, error) {
	w := &files.Writer[*maps.SSHKeyEntry]{Dir: dir, Filename: "sshkey", Codec: files.SSHKeyCodec{}, Kind: maps.KindSSHKey}
	m, err := w.Load()
	if err != nil {
		return "", fmt.Errorf("loading sshkey cache: %w", err)
	}
	entry, ok := m.Get(username)
	if !ok {
		return "", nil
	}
	return strings.Join(entry.Keys, "\n"), nil
}
