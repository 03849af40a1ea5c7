package lock

import (
	"os"
	"strconv"
	"testing"
)

func TestAcquireCreatesLockFileWithPid(t *testing.T) {
	path := PathFor(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(string(data[:len(data)-1]))
	if err != nil {
		t.Fatalf("lock file content %q is not a pid: %v", data, err)
	}
	if pid != os.Getpid() {
		t.Fatalf("expected pid %d, got %d", os.Getpid(), pid)
	}
}

func TestAcquireFailsWhenAlreadyHeldByLiveProcess(t *testing.T) {
	path := PathFor(t.TempDir())
	first, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	if _, err := Acquire(path); err == nil {
		t.Fatal("expected second Acquire to fail while first is held")
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir)

	// A pid that is virtually guaranteed not to be alive.
	if err := os.WriteFile(path, []byte("999999999\n"), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed: %v", err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "999999999\n" {
		t.Fatal("expected lock file to be rewritten with the new holder's pid")
	}
}

func TestReleaseRemovesLockFile(t *testing.T) {
	path := PathFor(t.TempDir())
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock file to be removed after Release")
	}
}

func TestReleaseOnNilLockIsNoop(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatalf("expected nil receiver Release to be a no-op, got %v", err)
	}
}
