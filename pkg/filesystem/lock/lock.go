// Package lock implements the replica lock file: a file within the local
// replica root holding the ASCII decimal pid of its holder, acquired via
// a mkstemp-then-link pattern so that two processes racing to acquire the
// same lock see exactly one link() succeed, with stale-lock recovery when
// the recorded pid is no longer alive.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DefaultFileName is the lock file's name within a local replica root.
const DefaultFileName = ".csync_lock"

// Lock represents a held lock on a replica. Release must be called to
// remove the lock file once the synchronization cycle completes.
type Lock struct {
	path string
}

// PathFor joins a replica root with the default lock filename.
func PathFor(replicaRoot string) string {
	return filepath.Join(replicaRoot, DefaultFileName)
}

// Acquire attempts to acquire the lock file at path: a unique temporary
// file is written with the current pid, then linked to the target path.
// Exactly
// one of two racing processes will see its link() call succeed, since
// link() fails with EEXIST if the target already exists. A stale lock
// (whose recorded pid is no longer alive) is removed once before retrying.
func Acquire(path string) (*Lock, error) {
	if lock, err := tryAcquire(path); err == nil {
		return lock, nil
	} else if !os.IsExist(err) {
		return nil, err
	}

	if removeIfStale(path) {
		if lock, err := tryAcquire(path); err == nil {
			return lock, nil
		}
	}

	return nil, errors.Errorf("lock file %q is held by another process", path)
}

// tryAcquire performs a single mkstemp+link attempt.
func tryAcquire(path string) (*Lock, error) {
	dir := filepath.Dir(path)
	tmpName := filepath.Join(dir, fmt.Sprintf(".csync_lock.%s.tmp", uuid.NewString()))

	pid := os.Getpid()
	if err := os.WriteFile(tmpName, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return nil, errors.Wrap(err, "writing temporary lock file failed")
	}
	defer os.Remove(tmpName)

	if err := os.Link(tmpName, path); err != nil {
		return nil, err
	}
	return &Lock{path: path}, nil
}

// removeIfStale reads the pid recorded in the lock file at path and, if
// that process is no longer alive, removes the lock file so a subsequent
// acquisition attempt can succeed. Reports whether it removed the file.
func removeIfStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	if processAlive(pid) {
		return false
	}
	return os.Remove(path) == nil
}

// processAlive reports whether pid refers to a live process, using the
// POSIX convention of sending signal 0 (which performs permission and
// existence checks without actually delivering a signal).
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, os.ErrPermission)
}

// Release removes the lock file, freeing it for the next cycle.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
