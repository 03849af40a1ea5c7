// Package journal implements the durable state database: a
// per-replica-pair record of the last observed file state, keyed by
// phash and secondarily by inode, enabling change detection and rename
// detection across synchronization cycles.
package journal

import (
	"context"

	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
)

// Progress is one row of the progress table: resumable chunked-transfer
// state keyed by phash.
type Progress struct {
	PHash      uint64
	TransferID uint64
	BlockCount int
	StartID    int
	TmpFile    string
	ETag       string
}

// Journal is the interface the updater, reconciler, and commit step
// consume.
type Journal interface {
	// ByHash looks up a persisted record by phash.
	ByHash(phash uint64) (*core.Record, bool)
	// ByInode looks up a persisted record by inode, used for local-replica
	// rename detection.
	ByInode(inode uint64) (*core.Record, bool)
	// Empty reports whether the journal has zero rows, in which case the
	// updater classifies every entry as NEW.
	Empty() bool

	// Progress returns the resumable-transfer state for phash, if any.
	Progress(phash uint64) (*Progress, bool)
	// SaveProgress persists resumable-transfer state for phash.
	SaveProgress(ctx context.Context, p *Progress) error
	// ClearProgress removes resumable-transfer state for phash (called on
	// successful transfer completion).
	ClearProgress(ctx context.Context, phash uint64) error

	// Merge performs the commit-time write: every record passed is
	// written, atomically replacing the live journal. Selecting the
	// records to keep (NONE, UPDATED, applied RENAME; no ERROR) is done by
	// the caller, propagate.Merge.
	Merge(ctx context.Context, records []*core.Record) error

	// Close releases the underlying storage handle.
	Close() error
}
