package hbf

import "testing"

func TestURLSingleBlockIsPlain(t *testing.T) {
	got := URL("https://host/dav/file.txt", 999, 1, 0)
	if got != "https://host/dav/file.txt" {
		t.Fatalf("expected plain base URL, got %q", got)
	}
}

func TestURLMultiBlockUsesChunkingScheme(t *testing.T) {
	got := URL("https://host/dav/file.txt", 999, 3, 1)
	want := "https://host/dav/file.txt-chunking-999-3-1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestTransferIDDistinctAcrossInodes(t *testing.T) {
	a := TransferID(1000, 5, 0)
	b := TransferID(1000, 6, 0)
	if a == b {
		t.Fatal("expected different inodes to yield different transfer ids")
	}
}
