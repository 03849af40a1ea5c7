package vio

import "testing"

func TestSplitScheme(t *testing.T) {
	scheme, rest, ok := splitScheme("https://example.com/remote")
	if !ok || scheme != "https" || rest != "example.com/remote" {
		t.Fatalf("unexpected split: %q %q %v", scheme, rest, ok)
	}
	if _, _, ok := splitScheme("example.com/remote"); ok {
		t.Fatal("expected scheme-less URI to report ok=false")
	}
}

func TestRegistryRejectsUnknownScheme(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve(nil, "ftp://example.com"); err == nil {
		t.Fatal("expected unknown scheme to be rejected")
	}
}

func TestRegistryResolvesKnownScheme(t *testing.T) {
	r := NewRegistry()
	backend, err := r.Resolve(nil, "https://example.com/remote")
	if err != nil {
		t.Fatal(err)
	}
	if backend == nil {
		t.Fatal("expected a non-nil backend")
	}
	remote, ok := backend.(*Remote)
	if !ok {
		t.Fatalf("expected *Remote, got %T", backend)
	}
	if remote.BaseURL != "https://example.com/remote" {
		t.Fatalf("unexpected base URL: %s", remote.BaseURL)
	}
}
