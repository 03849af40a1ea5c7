package vio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Remote is the REMOTE backend: an HTTP/DAV-style adapter used both for
// ordinary per-file PUT/GET/DELETE/MOVE operations and as the transport the
// chunked uploader issues block PUTs against.
type Remote struct {
	// BaseURL is the collection URL this backend's URIs are resolved
	// against (e.g. a WebDAV collection root).
	BaseURL string
	Client  *http.Client

	// Auth, when set, supplies credentials for every request. It is the
	// hook a host's credential prompt hangs off of; returning ok=false
	// sends the request unauthenticated.
	Auth func() (username, password string, ok bool)

	timeout  time.Duration
	progress func(uri string, bytesDone, bytesTotal int64)
}

// NewRemote creates a remote backend rooted at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  &http.Client{},
	}
}

func (r *Remote) url(uri string) string {
	return r.BaseURL + "/" + strings.TrimPrefix(uri, "/")
}

// Capabilities reports that the remote backend requires clock
// synchronization and auto-detects unix extension support.
func (r *Remote) Capabilities() Capabilities {
	return Capabilities{
		TimeSyncRequired: true,
		UnixExtensions:   UnixExtensionsAutoDetect,
	}
}

func (r *Remote) SetProperty(key string, value interface{}) error {
	switch key {
	case "timeout":
		if d, ok := value.(time.Duration); ok {
			r.timeout = d
			r.Client.Timeout = d
		}
	case "progress_callback":
		if cb, ok := value.(func(uri string, bytesDone, bytesTotal int64)); ok {
			r.progress = cb
		}
	case "auth_callback":
		if cb, ok := value.(func() (string, string, bool)); ok {
			r.Auth = cb
		}
	}
	return nil
}

func (r *Remote) do(ctx context.Context, method, url string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if r.Auth != nil {
		if username, password, ok := r.Auth(); ok {
			req.SetBasicAuth(username, password)
		}
	}
	return r.Client.Do(req)
}

func (r *Remote) Stat(ctx context.Context, uri string) (*Stat, error) {
	resp, err := r.do(ctx, http.MethodHead, r.url(uri), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "stat request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("stat failed with status %d", resp.StatusCode)
	}
	s := &Stat{Type: EntryFile}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			s.Size = n
		}
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			s.ModTime = t
		}
	}
	s.ETag = stripETagQuotes(resp.Header.Get("ETag"))
	return s, nil
}

func stripETagQuotes(etag string) string {
	return strings.Trim(etag, "\"")
}

// remoteDirHandle iterates a fixed list of entries. Remote.OpenDir sends
// no request and returns an empty listing, so walking a remote replica
// yields no entries; no DAV PROPFIND parsing is done.
type remoteDirHandle struct {
	entries []Entry
	pos     int
}

func (h *remoteDirHandle) Next(ctx context.Context) (*Entry, error) {
	if h.pos >= len(h.entries) {
		return nil, nil
	}
	e := h.entries[h.pos]
	h.pos++
	return &e, nil
}

func (h *remoteDirHandle) Close() error { return nil }

func (r *Remote) OpenDir(ctx context.Context, uri string) (DirHandle, error) {
	return &remoteDirHandle{}, nil
}

type remoteHandle struct {
	remote *Remote
	uri    string
	buffer bytes.Buffer
	method string
}

func (h *remoteHandle) Read(p []byte) (int, error) {
	return h.buffer.Read(p)
}

func (h *remoteHandle) Write(p []byte) (int, error) {
	return h.buffer.Write(p)
}

func (h *remoteHandle) ReadAt(p []byte, off int64) (int, error) {
	b := h.buffer.Bytes()
	if off >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[off:])
	return n, nil
}

func (h *remoteHandle) Close() error {
	if h.method != http.MethodPut {
		return nil
	}
	resp, err := h.remote.do(context.Background(), http.MethodPut, h.remote.url(h.uri), bytes.NewReader(h.buffer.Bytes()), nil)
	if err != nil {
		return errors.Wrap(err, "put failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("put failed with status %d", resp.StatusCode)
	}
	return nil
}

func (r *Remote) Open(ctx context.Context, uri string, flags OpenFlag, mode os.FileMode) (Handle, error) {
	if flags&OpenWrite != 0 {
		return &remoteHandle{remote: r, uri: uri, method: http.MethodPut}, nil
	}
	resp, err := r.do(ctx, http.MethodGet, r.url(uri), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "get failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("get failed with status %d", resp.StatusCode)
	}
	h := &remoteHandle{remote: r, uri: uri, method: http.MethodGet}
	if _, err := io.Copy(&h.buffer, resp.Body); err != nil {
		return nil, errors.Wrap(err, "reading response body failed")
	}
	return h, nil
}

func (r *Remote) Mkdir(ctx context.Context, uri string, mode os.FileMode) error {
	resp, err := r.do(ctx, "MKCOL", r.url(uri), nil, nil)
	if err != nil {
		return errors.Wrap(err, "mkcol failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("mkcol failed with status %d", resp.StatusCode)
	}
	return nil
}

func (r *Remote) Rmdir(ctx context.Context, uri string) error {
	return r.Unlink(ctx, uri)
}

func (r *Remote) Unlink(ctx context.Context, uri string) error {
	resp, err := r.do(ctx, http.MethodDelete, r.url(uri), nil, nil)
	if err != nil {
		return errors.Wrap(err, "delete failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("delete failed with status %d", resp.StatusCode)
	}
	return nil
}

func (r *Remote) Rename(ctx context.Context, oldURI, newURI string) error {
	resp, err := r.do(ctx, "MOVE", r.url(oldURI), nil, map[string]string{
		"Destination": r.url(newURI),
	})
	if err != nil {
		return errors.Wrap(err, "move failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Errorf("move failed with status %d", resp.StatusCode)
	}
	return nil
}

func (r *Remote) Chmod(ctx context.Context, uri string, mode os.FileMode) error {
	return nil
}

func (r *Remote) Utimes(ctx context.Context, uri string, modTime time.Time) error {
	return nil
}

// ChunkedPut issues one block PUT for a chunked upload. The OC-Chunked
// header is set only for multi-block transfers and the response ETag (if
// any) is returned with quoting stripped.
func (r *Remote) ChunkedPut(ctx context.Context, url string, body []byte, chunked bool) (status int, etag string, err error) {
	headers := map[string]string{}
	if chunked {
		headers["OC-Chunked"] = "1"
	}
	resp, err := r.do(ctx, http.MethodPut, url, bytes.NewReader(body), headers)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if r.progress != nil {
		r.progress(url, int64(len(body)), int64(len(body)))
	}
	return resp.StatusCode, stripETagQuotes(resp.Header.Get("ETag")), nil
}

// URL builds the absolute URL for a chunked-transfer PUT, used by the HBF
// uploader, which knows nothing about this backend's BaseURL resolution.
func (r *Remote) URL(uri string) string {
	return r.url(uri)
}
