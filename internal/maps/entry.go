// Package maps implements the in-memory representation of an NSS map: an
// ordered collection of typed entries keyed by a per-kind primary key, plus
// the modify/update timestamps that track its freshness against a source.
package maps

import (
	"fmt"
	"strings"
)

// Kind identifies one of the six NSS map schemas nsscache understands.
type Kind string

const (
	KindPasswd    Kind = "passwd"
	KindGroup     Kind = "group"
	KindShadow    Kind = "shadow"
	KindNetgroup  Kind = "netgroup"
	KindAutomount Kind = "automount"
	KindSSHKey    Kind = "sshkey"
)

// Entry is the contract every map entry schema satisfies. Implementations
// are closed structs, not dynamic attribute bags: the Python original's
// _VerifyAttr/_VerifyObj dynamic dispatch is replaced by a compile-time
// Verify method per kind.
type Entry interface {
	// Key returns the entry's primary key within its map.
	Key() string
	// Kind identifies which of the six schemas this entry implements.
	Kind() Kind
	// Verify checks the entry's required fields and rejects values that
	// cannot round-trip through the colon-delimited on-disk formats.
	Verify() error
	// Equal reports whether two entries of the same kind carry identical
	// field values (used by Map.Merge to detect no-op updates).
	Equal(other Entry) bool
}

// noColon rejects any field value that would corrupt a colon-delimited
// line format, mirroring the original's per-kind _VerifyAttr overrides.
func noColon(field, value string) error {
	if strings.Contains(value, ":") {
		return fmt.Errorf("field %s contains ':' : %q", field, value)
	}
	return nil
}

// PasswdEntry is one passwd(5) record.
type PasswdEntry struct {
	Name     string
	Passwd   string
	UID      int
	GID      int
	GECOS    string
	Dir      string
	Shell    string
}

func (e *PasswdEntry) Key() string  { return e.Name }
func (e *PasswdEntry) Kind() Kind   { return KindPasswd }

func (e *PasswdEntry) Verify() error {
	if e.Name == "" {
		return fmt.Errorf("passwd entry missing name")
	}
	for field, val := range map[string]string{
		"name": e.Name, "passwd": e.Passwd, "gecos": e.GECOS,
		"dir": e.Dir, "shell": e.Shell,
	} {
		if err := noColon(field, val); err != nil {
			return err
		}
	}
	return nil
}

func (e *PasswdEntry) Equal(other Entry) bool {
	o, ok := other.(*PasswdEntry)
	if !ok {
		return false
	}
	return *e == *o
}

// GroupEntry is one group(5) record.
type GroupEntry struct {
	Name    string
	Passwd  string
	GID     int
	Members []string
}

func (e *GroupEntry) Key() string { return e.Name }
func (e *GroupEntry) Kind() Kind  { return KindGroup }

func (e *GroupEntry) Verify() error {
	if e.Name == "" {
		return fmt.Errorf("group entry missing name")
	}
	if err := noColon("name", e.Name); err != nil {
		return err
	}
	if err := noColon("passwd", e.Passwd); err != nil {
		return err
	}
	for _, m := range e.Members {
		if err := noColon("member", m); err != nil {
			return err
		}
	}
	return nil
}

func (e *GroupEntry) Equal(other Entry) bool {
	o, ok := other.(*GroupEntry)
	if !ok || e.Name != o.Name || e.Passwd != o.Passwd || e.GID != o.GID {
		return false
	}
	if len(e.Members) != len(o.Members) {
		return false
	}
	for i := range e.Members {
		if e.Members[i] != o.Members[i] {
			return false
		}
	}
	return true
}

// ShadowEntry is one shadow(5) record. Numeric fields use pointers so an
// unset value serializes as an empty field, matching the original's
// optional-int handling.
type ShadowEntry struct {
	Name   string
	Passwd string
	Lstchg *int
	Min    *int
	Max    *int
	Warn   *int
	Inact  *int
	Expire *int
	Flag   *int
}

func (e *ShadowEntry) Key() string { return e.Name }
func (e *ShadowEntry) Kind() Kind  { return KindShadow }

func (e *ShadowEntry) Verify() error {
	if e.Name == "" {
		return fmt.Errorf("shadow entry missing name")
	}
	if err := noColon("name", e.Name); err != nil {
		return err
	}
	return noColon("passwd", e.Passwd)
}

func (e *ShadowEntry) Equal(other Entry) bool {
	o, ok := other.(*ShadowEntry)
	if !ok {
		return false
	}
	if e.Name != o.Name || e.Passwd != o.Passwd {
		return false
	}
	return intPtrEqual(e.Lstchg, o.Lstchg) && intPtrEqual(e.Min, o.Min) &&
		intPtrEqual(e.Max, o.Max) && intPtrEqual(e.Warn, o.Warn) &&
		intPtrEqual(e.Inact, o.Inact) && intPtrEqual(e.Expire, o.Expire) &&
		intPtrEqual(e.Flag, o.Flag)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// NetgroupEntry is one netgroup(5) record. Entries holds the raw,
// space-separated triple/netgroup-reference list exactly as retrieved,
// since the original preserves it verbatim rather than parsing it.
type NetgroupEntry struct {
	Name    string
	Entries string
}

func (e *NetgroupEntry) Key() string { return e.Name }
func (e *NetgroupEntry) Kind() Kind  { return KindNetgroup }

func (e *NetgroupEntry) Verify() error {
	if e.Name == "" {
		return fmt.Errorf("netgroup entry missing name")
	}
	return nil
}

func (e *NetgroupEntry) Equal(other Entry) bool {
	o, ok := other.(*NetgroupEntry)
	return ok && *e == *o
}

// AutomountEntry is one entry of an automount map (either the master map
// or a per-mountpoint indirect/direct map).
type AutomountEntry struct {
	KeyName  string
	Location string
	Options  string
}

func (e *AutomountEntry) Key() string { return e.KeyName }
func (e *AutomountEntry) Kind() Kind  { return KindAutomount }

func (e *AutomountEntry) Verify() error {
	if e.KeyName == "" {
		return fmt.Errorf("automount entry missing key")
	}
	if e.Location == "" {
		return fmt.Errorf("automount entry %q missing location", e.KeyName)
	}
	return nil
}

func (e *AutomountEntry) Equal(other Entry) bool {
	o, ok := other.(*AutomountEntry)
	return ok && *e == *o
}

// SSHKeyEntry is one entry of the supplemented sshkey map (user ->
// authorized public keys), serving the AuthorizedKeysCommand helper.
type SSHKeyEntry struct {
	Name string
	Keys []string
}

func (e *SSHKeyEntry) Key() string { return e.Name }
func (e *SSHKeyEntry) Kind() Kind  { return KindSSHKey }

func (e *SSHKeyEntry) Verify() error {
	if e.Name == "" {
		return fmt.Errorf("sshkey entry missing name")
	}
	return nil
}

func (e *SSHKeyEntry) Equal(other Entry) bool {
	o, ok := other.(*SSHKeyEntry)
	if !ok || e.Name != o.Name || len(e.Keys) != len(o.Keys) {
		return false
	}
	for i := range e.Keys {
		if e.Keys[i] != o.Keys[i] {
			return false
		}
	}
	return true
}
