package vio

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Local is the LOCAL POSIX backend: a thin adapter from the Backend
// contract onto the os package plus golang.org/x/sys/unix for the fields
// os.FileInfo doesn't expose directly (inode, uid, gid).
type Local struct {
	// Root is the filesystem path the replica's URIs are resolved against.
	Root string

	timeout time.Duration
}

// NewLocal creates a local backend rooted at root.
func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) resolve(uri string) string {
	return filepath.Join(l.Root, filepath.FromSlash(uri))
}

// Capabilities reports that the local backend never needs clock
// synchronization and always preserves unix ownership/permission bits.
func (l *Local) Capabilities() Capabilities {
	return Capabilities{
		TimeSyncRequired: false,
		UnixExtensions:   UnixExtensionsEnabled,
	}
}

// SetProperty recognizes "timeout"; other keys are ignored the way an
// irrelevant property would be on a backend that doesn't use it.
func (l *Local) SetProperty(key string, value interface{}) error {
	if key == "timeout" {
		if d, ok := value.(time.Duration); ok {
			l.timeout = d
		}
	}
	return nil
}

func (l *Local) Stat(ctx context.Context, uri string) (*Stat, error) {
	var sys unix.Stat_t
	if err := unix.Lstat(l.resolve(uri), &sys); err != nil {
		return nil, errors.Wrap(err, "lstat failed")
	}
	modTime := time.Unix(sys.Mtim.Sec, sys.Mtim.Nsec)
	s := &Stat{
		Size:    sys.Size,
		ModTime: modTime,
		Mode:    os.FileMode(sys.Mode & 0777),
		Inode:   uint64(sys.Ino),
		UID:     sys.Uid,
		GID:     sys.Gid,
	}
	switch sys.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		s.Type = EntrySymlink
	case unix.S_IFDIR:
		s.Type = EntryDirectory
	default:
		s.Type = EntryFile
	}
	return s, nil
}

type localDirHandle struct {
	root string
	file *os.File
	uri  string
}

func (l *Local) OpenDir(ctx context.Context, uri string) (DirHandle, error) {
	path := l.resolve(uri)
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opendir failed")
	}
	return &localDirHandle{root: l.Root, file: f, uri: uri}, nil
}

func (h *localDirHandle) Next(ctx context.Context) (*Entry, error) {
	names, err := h.file.Readdirnames(1)
	if err != nil {
		return nil, nil
	}
	if len(names) == 0 {
		return nil, nil
	}
	name := names[0]
	childURI := h.uri + "/" + name
	if h.uri == "" {
		childURI = name
	}
	var sys unix.Stat_t
	if err := unix.Lstat(filepath.Join(h.root, filepath.FromSlash(childURI)), &sys); err != nil {
		return nil, errors.Wrapf(err, "lstat failed for %s", name)
	}
	stat := Stat{
		Size:    sys.Size,
		ModTime: time.Unix(sys.Mtim.Sec, sys.Mtim.Nsec),
		Mode:    os.FileMode(sys.Mode & 0777),
		Inode:   uint64(sys.Ino),
		UID:     sys.Uid,
		GID:     sys.Gid,
	}
	switch sys.Mode & unix.S_IFMT {
	case unix.S_IFLNK:
		stat.Type = EntrySymlink
	case unix.S_IFDIR:
		stat.Type = EntryDirectory
	default:
		stat.Type = EntryFile
	}
	return &Entry{Name: name, Stat: stat}, nil
}

func (h *localDirHandle) Close() error {
	return h.file.Close()
}

type localHandle struct {
	file *os.File
}

func (h *localHandle) Read(p []byte) (int, error)             { return h.file.Read(p) }
func (h *localHandle) Write(p []byte) (int, error)            { return h.file.Write(p) }
func (h *localHandle) ReadAt(p []byte, off int64) (int, error) { return h.file.ReadAt(p, off) }
func (h *localHandle) Close() error                           { return h.file.Close() }

func (l *Local) Open(ctx context.Context, uri string, flags OpenFlag, mode os.FileMode) (Handle, error) {
	var osFlags int
	switch {
	case flags&OpenRead != 0 && flags&OpenWrite != 0:
		osFlags = os.O_RDWR
	case flags&OpenWrite != 0:
		osFlags = os.O_WRONLY
	default:
		osFlags = os.O_RDONLY
	}
	if flags&OpenCreate != 0 {
		osFlags |= os.O_CREATE
	}
	if flags&OpenTruncate != 0 {
		osFlags |= os.O_TRUNC
	}
	f, err := os.OpenFile(l.resolve(uri), osFlags, mode)
	if err != nil {
		return nil, errors.Wrap(err, "open failed")
	}
	return &localHandle{file: f}, nil
}

func (l *Local) Mkdir(ctx context.Context, uri string, mode os.FileMode) error {
	return errors.Wrap(os.Mkdir(l.resolve(uri), mode), "mkdir failed")
}

func (l *Local) Rmdir(ctx context.Context, uri string) error {
	return errors.Wrap(os.Remove(l.resolve(uri)), "rmdir failed")
}

func (l *Local) Unlink(ctx context.Context, uri string) error {
	return errors.Wrap(os.Remove(l.resolve(uri)), "unlink failed")
}

func (l *Local) Rename(ctx context.Context, oldURI, newURI string) error {
	return errors.Wrap(os.Rename(l.resolve(oldURI), l.resolve(newURI)), "rename failed")
}

func (l *Local) Chmod(ctx context.Context, uri string, mode os.FileMode) error {
	return errors.Wrap(os.Chmod(l.resolve(uri), mode), "chmod failed")
}

func (l *Local) Utimes(ctx context.Context, uri string, modTime time.Time) error {
	return errors.Wrap(os.Chtimes(l.resolve(uri), modTime, modTime), "utimes failed")
}
