// Package files implements the POSIX flat-file cache backend: one
// colon-delimited text file per map, in the traditional /etc/passwd,
// /etc/group, /etc/shadow, and netgroup(5) formats. Grounded on
// nss_cache/caches/files.py's per-kind FilesMapHandler subclasses.
package files

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nsscache/nsscache-go/internal/maps"
)

// Codec encodes and decodes one map kind's on-disk line format.
type Codec[T maps.Entry] interface {
	Encode(entry T) string
	Decode(line string) (T, error)
}

// readLines parses r into entries via codec, skipping blank lines and
// '#'-prefixed comments, matching files.py GetMap's line filter.
func readLines[T maps.Entry](r io.Reader, codec Codec[T]) (*maps.Map[T], error) {
	m := maps.NewMap[T]()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		entry, err := codec.Decode(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := m.Add(entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// writeEntries drains m via PopItem and writes one encoded line per entry,
// matching files.py's streaming Write.
func writeEntries[T maps.Entry](w io.Writer, m *maps.Map[T], codec Codec[T]) error {
	bw := bufio.NewWriter(w)
	for {
		entry, ok := m.PopItem()
		if !ok {
			break
		}
		if _, err := bw.WriteString(codec.Encode(entry) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// PasswdCodec implements the name:passwd:uid:gid:gecos:dir:shell format.
type PasswdCodec struct{}

func (PasswdCodec) Encode(e *maps.PasswdEntry) string {
	return strings.Join([]string{
		e.Name, orDefault(e.Passwd, "x"), strconv.Itoa(e.UID), strconv.Itoa(e.GID),
		e.GECOS, e.Dir, e.Shell,
	}, ":")
}

func (PasswdCodec) Decode(line string) (*maps.PasswdEntry, error) {
	f := strings.Split(line, ":")
	if len(f) != 7 {
		return nil, fmt.Errorf("passwd line has %d fields, want 7: %q", len(f), line)
	}
	uid, err := strconv.Atoi(f[2])
	if err != nil {
		return nil, fmt.Errorf("passwd uid: %w", err)
	}
	gid, err := strconv.Atoi(f[3])
	if err != nil {
		return nil, fmt.Errorf("passwd gid: %w", err)
	}
	return &maps.PasswdEntry{
		Name: f[0], Passwd: f[1], UID: uid, GID: gid, GECOS: f[4], Dir: f[5], Shell: f[6],
	}, nil
}

// GroupCodec implements the name:passwd:gid:member1,member2 format.
type GroupCodec struct{}

func (GroupCodec) Encode(e *maps.GroupEntry) string {
	return strings.Join([]string{
		e.Name, orDefault(e.Passwd, "x"), strconv.Itoa(e.GID), strings.Join(e.Members, ","),
	}, ":")
}

func (GroupCodec) Decode(line string) (*maps.GroupEntry, error) {
	f := strings.SplitN(line, ":", 4)
	if len(f) != 4 {
		return nil, fmt.Errorf("group line has %d fields, want 4: %q", len(f), line)
	}
	gid, err := strconv.Atoi(f[2])
	if err != nil {
		return nil, fmt.Errorf("group gid: %w", err)
	}
	var members []string
	if f[3] != "" {
		members = strings.Split(f[3], ",")
	}
	return &maps.GroupEntry{Name: f[0], Passwd: f[1], GID: gid, Members: members}, nil
}

// ShadowCodec implements the shadow(5) format, rendering unset optional
// fields as empty strings rather than "0".
type ShadowCodec struct{}

func (ShadowCodec) Encode(e *maps.ShadowEntry) string {
	return strings.Join([]string{
		e.Name, orDefault(e.Passwd, "!!"),
		intPtrStr(e.Lstchg), intPtrStr(e.Min), intPtrStr(e.Max),
		intPtrStr(e.Warn), intPtrStr(e.Inact), intPtrStr(e.Expire), intPtrStr(e.Flag),
	}, ":")
}

func (ShadowCodec) Decode(line string) (*maps.ShadowEntry, error) {
	f := strings.Split(line, ":")
	if len(f) != 9 {
		return nil, fmt.Errorf("shadow line has %d fields, want 9: %q", len(f), line)
	}
	parse := func(s string) (*int, error) {
		if s == "" {
			return nil, nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}
	lstchg, err := parse(f[2])
	if err != nil {
		return nil, fmt.Errorf("shadow lstchg: %w", err)
	}
	min, err := parse(f[3])
	if err != nil {
		return nil, fmt.Errorf("shadow min: %w", err)
	}
	max, err := parse(f[4])
	if err != nil {
		return nil, fmt.Errorf("shadow max: %w", err)
	}
	warn, err := parse(f[5])
	if err != nil {
		return nil, fmt.Errorf("shadow warn: %w", err)
	}
	inact, err := parse(f[6])
	if err != nil {
		return nil, fmt.Errorf("shadow inact: %w", err)
	}
	expire, err := parse(f[7])
	if err != nil {
		return nil, fmt.Errorf("shadow expire: %w", err)
	}
	flag, err := parse(f[8])
	if err != nil {
		return nil, fmt.Errorf("shadow flag: %w", err)
	}
	return &maps.ShadowEntry{
		Name: f[0], Passwd: f[1], Lstchg: lstchg, Min: min, Max: max,
		Warn: warn, Inact: inact, Expire: expire, Flag: flag,
	}, nil
}

// NetgroupCodec implements the "name entry1 entry2 ..." format, splitting
// only on the first space and preserving the remainder verbatim, matching
// files.py's line.find(' ') handling.
type NetgroupCodec struct{}

func (NetgroupCodec) Encode(e *maps.NetgroupEntry) string {
	if e.Entries == "" {
		return e.Name
	}
	return e.Name + " " + e.Entries
}

func (NetgroupCodec) Decode(line string) (*maps.NetgroupEntry, error) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return &maps.NetgroupEntry{Name: line}, nil
	}
	return &maps.NetgroupEntry{Name: line[:idx], Entries: line[idx+1:]}, nil
}

// AutomountCodec implements automount(5)'s "key [options] location" format,
// used for both the master map and per-mountpoint submaps. Options is
// written and read back verbatim (it already carries its own leading '-'
// when the entry has one, same as entry.options in files.py's
// FilesAutomountMapParser); the codec never adds or strips the dash itself.
type AutomountCodec struct{}

func (AutomountCodec) Encode(e *maps.AutomountEntry) string {
	if e.Options == "" {
		return e.KeyName + " " + e.Location
	}
	return e.KeyName + " " + e.Options + " " + e.Location
}

func (AutomountCodec) Decode(line string) (*maps.AutomountEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("automount line has %d fields, want at least 2: %q", len(fields), line)
	}
	entry := &maps.AutomountEntry{KeyName: fields[0]}
	if len(fields) > 2 {
		entry.Options = fields[1]
		entry.Location = strings.Join(fields[2:], " ")
	} else {
		entry.Location = fields[1]
	}
	return entry, nil
}

// SSHKeyCodec implements "name key1,key2,..." for the supplemented sshkey
// map, serving internal/sshkeycommand.
type SSHKeyCodec struct{}

func (SSHKeyCodec) Encode(e *maps.SSHKeyEntry) string {
	return e.Name + " " + strings.Join(e.Keys, ",")
}

func (SSHKeyCodec) Decode(line string) (*maps.SSHKeyEntry, error) {
	idx := strings.IndexByte(line, ' ')
	if idx < 0 {
		return &maps.SSHKeyEntry{Name: line}, nil
	}
	name, rest := line[:idx], line[idx+1:]
	var keys []string
	if rest != "" {
		keys = strings.Split(rest, ",")
	}
	return &maps.SSHKeyEntry{Name: name, Keys: keys}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func intPtrStr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}
