// Package lock implements nsscache's per-host update lock: a pid file
// guarded by an advisory flock, with an optional forced takeover of a
// stale holder. This is deliberately NOT a distributed lock — spec.md is
// explicit that nsscache coordinates writers on a single host only, never
// across hosts. Grounded on nss_cache/lock.py's PidFile.
package lock

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/nsscache/nsscache-go/internal/nsserror"
	"golang.org/x/sys/unix"
)

// programName is matched against /proc/<pid>/cmdline before a forced
// takeover sends SIGTERM, so a stale pid file never kills an unrelated
// process that happens to have reused the pid.
const programName = "nsscache"

// PidFile is a single-host cross-process lock backed by a pid file and an
// advisory flock on it.
type PidFile struct {
	path string
	file *os.File
}

// New opens (creating if necessary) the pid file at path without locking
// it yet.
func New(path string) (*PidFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %v", nsserror.ErrPermissionDenied, err)
		}
		return nil, err
	}
	if err := os.Chmod(path, 0644); err != nil {
		f.Close()
		return nil, err
	}
	return &PidFile{path: path, file: f}, nil
}

// Lock attempts to take the lock. If the lock is already held and force is
// false, it returns nsserror.ErrLockHeld. If force is true, it attempts to
// identify the current holder via /proc/<pid>/cmdline, sends SIGTERM if the
// holder looks like an nsscache process, clears the stale pid file, and
// retries once.
func (p *PidFile) Lock(force bool) error {
	err := unix.Flock(int(p.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return p.writePid()
	}
	if err != unix.EWOULDBLOCK {
		return err
	}
	if !force {
		return nsserror.ErrLockHeld
	}

	if sendErr := p.sendTerm(); sendErr != nil {
		return fmt.Errorf("%w: forced takeover failed: %v", nsserror.ErrLockHeld, sendErr)
	}
	// ClearLock in the original closes the stale fd and removes the file
	// before retrying, so the retry opens a fresh inode at the same path
	// rather than re-locking a descriptor whose directory entry is gone.
	if err := p.reopen(); err != nil {
		return fmt.Errorf("%w: reopening lock file after forced takeover: %v", nsserror.ErrLockHeld, err)
	}

	if err := unix.Flock(int(p.file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("%w: still held after forced takeover", nsserror.ErrLockHeld)
	}
	return p.writePid()
}

// Unlock releases the flock. It deliberately does not remove the pid file,
// matching lock.py's Unlock (ClearLock is a separate, explicit operation).
func (p *PidFile) Unlock() error {
	return unix.Flock(int(p.file.Fd()), unix.LOCK_UN)
}

// Close releases the underlying file handle.
func (p *PidFile) Close() error {
	return p.file.Close()
}

func (p *PidFile) writePid() error {
	if err := p.file.Truncate(0); err != nil {
		return err
	}
	if _, err := p.file.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		return err
	}
	return p.file.Sync()
}

// reopen closes the current file handle, removes the pid file on disk, and
// opens a fresh one at the same path, matching lock.py's ClearLock followed
// by the retried Lock()'s self._Open().
func (p *PidFile) reopen() error {
	p.file.Close()
	os.Remove(p.path)

	f, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if err := os.Chmod(p.path, 0644); err != nil {
		f.Close()
		return err
	}
	p.file = f
	return nil
}

// cmdlineProgramRe matches the leading program name component of a
// /proc/<pid>/cmdline entry, ignoring any path prefix.
var cmdlineProgramRe = regexp.MustCompile(`([^/\x00]+)\x00?$`)

func (p *PidFile) sendTerm() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	pidStr := strings.TrimSpace(string(data))
	if pidStr == "" {
		return nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return fmt.Errorf("invalid pid in lock file: %w", err)
	}

	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		// Holder process no longer exists; nothing to signal.
		return nil
	}
	if !looksLikeNsscache(string(cmdline)) {
		return fmt.Errorf("pid %d does not look like an nsscache process, refusing to signal it", pid)
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

func looksLikeNsscache(cmdline string) bool {
	args := strings.Split(cmdline, "\x00")
	if len(args) == 0 {
		return false
	}
	m := cmdlineProgramRe.FindStringSubmatch(args[0])
	if m == nil {
		return strings.Contains(args[0], programName)
	}
	return strings.Contains(m[1], programName)
}
