package vio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStatAndOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(dir)
	ctx := context.Background()

	stat, err := backend.Stat(ctx, "file.txt")
	if err != nil {
		t.Fatal(err)
	}
	if stat.Size != 5 {
		t.Fatalf("expected size 5, got %d", stat.Size)
	}
	if stat.Type != EntryFile {
		t.Fatalf("expected EntryFile, got %v", stat.Type)
	}

	handle, err := backend.Open(ctx, "file.txt", OpenRead, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()
	buf := make([]byte, 5)
	if _, err := handle.Read(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello" {
		t.Fatalf("expected 'hello', got %q", buf)
	}
}

func TestLocalMkdirRenameUnlink(t *testing.T) {
	dir := t.TempDir()
	backend := NewLocal(dir)
	ctx := context.Background()

	if err := backend.Mkdir(ctx, "sub", 0755); err != nil {
		t.Fatal(err)
	}
	if err := backend.Rename(ctx, "sub", "sub2"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub2")); err != nil {
		t.Fatal("expected renamed directory to exist")
	}
	if err := backend.Rmdir(ctx, "sub2"); err != nil {
		t.Fatal(err)
	}
}

func TestLocalOpenDirLists(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	backend := NewLocal(dir)
	ctx := context.Background()
	handle, err := backend.OpenDir(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	defer handle.Close()

	seen := map[string]EntryType{}
	for {
		entry, err := handle.Next(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if entry == nil {
			break
		}
		seen[entry.Name] = entry.Stat.Type
	}
	if seen["a.txt"] != EntryFile {
		t.Fatalf("expected a.txt to be a file entry, got %v", seen["a.txt"])
	}
	if seen["sub"] != EntryDirectory {
		t.Fatalf("expected sub to be a directory entry, got %v", seen["sub"])
	}
}

func TestLocalCapabilities(t *testing.T) {
	backend := NewLocal(t.TempDir())
	caps := backend.Capabilities()
	if caps.TimeSyncRequired {
		t.Fatal("local backend should not require time sync")
	}
	if caps.UnixExtensions != UnixExtensionsEnabled {
		t.Fatal("local backend should enable unix extensions")
	}
}
