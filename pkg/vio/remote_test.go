package vio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChunkedPutSetsHeaderAndStripsETag(t *testing.T) {
	var gotChunked string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotChunked = r.Header.Get("OC-Chunked")
		w.Header().Set("ETag", "\"abc123\"")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	remote := NewRemote(server.URL)
	status, etag, err := remote.ChunkedPut(context.Background(), server.URL+"/f-chunking-1-2-0", []byte("data"), true)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatalf("unexpected status %d", status)
	}
	if gotChunked != "1" {
		t.Fatalf("expected OC-Chunked header on a multi-block PUT, got %q", gotChunked)
	}
	if etag != "abc123" {
		t.Fatalf("expected quotes stripped from etag, got %q", etag)
	}
}

func TestChunkedPutOmitsHeaderForSingleBlock(t *testing.T) {
	var sawHeader bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawHeader = r.Header.Get("OC-Chunked") != ""
	}))
	defer server.Close()

	remote := NewRemote(server.URL)
	if _, _, err := remote.ChunkedPut(context.Background(), server.URL+"/f", []byte("data"), false); err != nil {
		t.Fatal(err)
	}
	if sawHeader {
		t.Fatal("did not expect OC-Chunked header on a single-block PUT")
	}
}

func TestRemoteAuthCallbackSuppliesBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
	}))
	defer server.Close()

	remote := NewRemote(server.URL)
	if err := remote.SetProperty("auth_callback", func() (string, string, bool) {
		return "alice", "secret", true
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := remote.Stat(context.Background(), "f.txt"); err != nil {
		t.Fatal(err)
	}
	if gotUser != "alice" || gotPass != "secret" {
		t.Fatalf("expected credentials from the auth callback, got %q/%q", gotUser, gotPass)
	}
}
