// Package store implements the single persistent state file (§3, §6)
// that survives between invocations: the last fully-processed VCS
// revision and the failed-package record. Writes are atomic via
// github.com/google/renameio for crash-safe file replacement,
// cmd/autobuilder's symlink update). The single-instance lock is a
// golang.org/x/sys/unix flock, used directly as
// unix syscalls for POSIX primitives it needs beyond the standard
// library (internal/batch's ioctl, cmd/autobuilder's statfs).
package store

import (
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// EmptyTree is re-exported for convenience; callers compare State.LastCommit
// against it the same way they would against vcs.EmptyTree.
const EmptyTree = ""

// State is the single serialized persistent value.
type State struct {
	LastCommit string            `json:"last_commit"`
	Failed     map[string]string `json:"failed"`
}

// Load reads the persistent store from path. A missing file is not an
// error: it represents the first-ever run (empty-tree sentinel, no
// failures).
func Load(path string) (*State, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Failed: make(map[string]string)}, nil
		}
		return nil, xerrors.Errorf("reading store: %w", err)
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, xerrors.Errorf("parsing store: %w", err)
	}
	if s.Failed == nil {
		s.Failed = make(map[string]string)
	}
	return &s, nil
}

// Save atomically writes the store to path (written atomically on
// clean exit").
func Save(path string, s *State) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, b, 0644)
}

// Lock guards the whole invocation against concurrent instances of
// itself (the persistent store file is guarded by a filesystem lock).
type Lock struct {
	f *os.File
}

// Acquire takes an exclusive, non-blocking flock at path. Lock
// contention is a whole-invocation, non-recoverable error.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, xerrors.Errorf("acquiring lock %s: %w", path, err)
	}
	return &Lock{f: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
