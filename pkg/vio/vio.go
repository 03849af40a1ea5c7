// Package vio defines the virtual I/O backend contract: the uniform
// filesystem-like interface the synchronization core consumes, with two
// concrete implementations (local POSIX and remote HTTP/DAV-style) living
// in sibling files.
package vio

import (
	"context"
	"io"
	"os"
	"time"
)

// UnixExtensions describes a backend's support for preserving POSIX
// ownership and permission bits. AutoDetect means the core should probe
// the backend itself.
type UnixExtensions int

const (
	UnixExtensionsAutoDetect UnixExtensions = -1
	UnixExtensionsDisabled   UnixExtensions = 0
	UnixExtensionsEnabled    UnixExtensions = 1
)

// Capabilities reports the per-backend traits the core branches on.
type Capabilities struct {
	// TimeSyncRequired indicates the backend's clock must be checked
	// against the local clock at initialization (see max_time_difference
	// in config.Options).
	TimeSyncRequired bool
	// UnixExtensions indicates whether uid/gid/mode should be preserved.
	UnixExtensions UnixExtensions
}

// EntryType classifies a directory entry the way Stat.Type does.
type EntryType int

const (
	EntryUnknown EntryType = iota
	EntryFile
	EntryDirectory
	EntrySymlink
)

// Stat is the uniform metadata record a backend's Stat and DirHandle.Next
// calls populate.
type Stat struct {
	Type    EntryType
	Size    int64
	ModTime time.Time
	UID     uint32
	GID     uint32
	Mode    os.FileMode
	// Inode is the file-identity value; only meaningful for local
	// backends (remote backends leave it zero).
	Inode uint64
	// ETag is the remote content fingerprint, when applicable.
	ETag string
}

// Entry is one result of a DirHandle.Next call: a name plus its stat
// record.
type Entry struct {
	Name string
	Stat Stat
}

// Handle is an open file reference returned by Open. Callers are expected
// to loop on short reads/writes; ReaderAt provides the random access
// chunked transfers need.
type Handle interface {
	io.Reader
	io.Writer
	io.ReaderAt
	io.Closer
}

// DirHandle is an open directory reference returned by OpenDir.
type DirHandle interface {
	// Next yields the next entry, or (nil, nil) at end of stream.
	Next(ctx context.Context) (*Entry, error)
	Close() error
}

// OpenFlag mirrors the open() flags a backend must honor.
type OpenFlag int

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenCreate
	OpenTruncate
)

// Backend is the contract every VIO implementation (local or remote)
// satisfies.
type Backend interface {
	// OpenDir returns a directory handle, failing with an access or
	// not-found error.
	OpenDir(ctx context.Context, uri string) (DirHandle, error)

	// Stat returns metadata for uri.
	Stat(ctx context.Context, uri string) (*Stat, error)

	// Open returns a file handle for uri under the given flags/mode.
	Open(ctx context.Context, uri string, flags OpenFlag, mode os.FileMode) (Handle, error)

	Mkdir(ctx context.Context, uri string, mode os.FileMode) error
	Rmdir(ctx context.Context, uri string) error
	Unlink(ctx context.Context, uri string) error
	Rename(ctx context.Context, oldURI, newURI string) error
	Chmod(ctx context.Context, uri string, mode os.FileMode) error
	Utimes(ctx context.Context, uri string, modTime time.Time) error

	// SetProperty configures a backend property. Local recognizes
	// "timeout"; Remote recognizes "timeout", "progress_callback", and
	// "auth_callback". Neither backend handles "csync_context", and
	// unrecognized keys are ignored.
	SetProperty(key string, value interface{}) error

	// Capabilities reports the backend's declared traits.
	Capabilities() Capabilities
}
