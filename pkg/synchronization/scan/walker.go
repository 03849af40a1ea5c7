// Package scan implements the updater: a recursive, depth-bounded tree
// walk over a replica that classifies each non-excluded
// entry against the journal and, for the local replica, detects renames by
// inode.
package scan

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync/atomic"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/ignore"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
	"github.com/opendataspace/csyncgo/pkg/vio"
)

// DefaultMaxDepth is the conservative default recursion bound; a few
// hundred levels covers any realistic tree, and MaxDepth overrides it.
const DefaultMaxDepth = 256

// Walker performs one replica's update pass.
type Walker struct {
	Backend  vio.Backend
	Journal  journal.Journal
	Excludes *ignore.List
	// IsLocal enables inode-based rename detection, which only applies to
	// the local replica.
	IsLocal bool
	// MaxDepth bounds recursion; zero means DefaultMaxDepth.
	MaxDepth int
	// Abort is checked at the top of each per-entry operation; a
	// non-zero value unwinds the walk with a USER_ABORT error.
	Abort *int32
	// ComputeDigest, when true, computes an MD5 digest for every regular
	// file visited. Remote backends instead use the ETag already present
	// on Stat.
	ComputeDigest bool
}

// renameCandidate pairs a freshly classified record with the prior path the
// journal has on file for its inode; resolved once the whole walk completes
// and we know whether that prior path is truly gone (and not, say, a hard
// link that still exists elsewhere in the tree).
type renameCandidate struct {
	record  *core.Record
	oldPath string
}

// Walk performs the recursive tree walk and returns the resulting tree.
// A detected rename keeps its record at the new path's phash with
// Instruction promoted to RENAME; the reconciler locates the peer by
// re-deriving the old path from the journal via inode.
func (w *Walker) Walk(ctx context.Context) (*core.Tree, error) {
	maxDepth := w.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	tree := core.NewTree()
	seenPaths := make(map[string]bool)
	var candidates []renameCandidate

	if err := w.walkDir(ctx, "", 0, maxDepth, tree, seenPaths, &candidates); err != nil {
		return nil, err
	}

	if w.IsLocal {
		for _, c := range candidates {
			if seenPaths[c.oldPath] {
				// The old path still exists in the new walk (e.g. a hard
				// link, or a different file reusing the inode); not a
				// rename.
				continue
			}
			c.record.Instruction = core.InstructionRename
			c.record.DestPath = c.record.Path
		}
	}

	return tree, nil
}

func (w *Walker) aborted() bool {
	return w.Abort != nil && atomic.LoadInt32(w.Abort) != 0
}

func (w *Walker) walkDir(ctx context.Context, dirPath string, depth, maxDepth int, tree *core.Tree, seenPaths map[string]bool, candidates *[]renameCandidate) error {
	if depth > maxDepth {
		return nil
	}
	if w.aborted() {
		return csyncerrors.New(csyncerrors.UserAbort, "walk aborted at %q", dirPath)
	}

	handle, err := w.Backend.OpenDir(ctx, dirPath)
	if err != nil {
		// EACCES-equivalent failures are tolerated: the walk at this
		// directory is simply skipped, not fatal.
		return nil
	}
	defer handle.Close()

	for {
		if w.aborted() {
			return csyncerrors.New(csyncerrors.UserAbort, "walk aborted at %q", dirPath)
		}

		entry, err := handle.Next(ctx)
		if err != nil {
			return csyncerrors.Wrap(csyncerrors.Update, err, "reading directory entry failed")
		}
		if entry == nil {
			return nil
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		childPath := entry.Name
		if dirPath != "" {
			childPath = dirPath + "/" + entry.Name
		}

		if w.Excludes.Matches(childPath) {
			continue
		}

		record := w.classify(ctx, childPath, entry.Stat)
		seenPaths[childPath] = true

		if w.IsLocal && record.Instruction == core.InstructionNew && record.Inode != 0 {
			if journalRecord, ok := w.Journal.ByInode(record.Inode); ok && journalRecord.Path != childPath {
				*candidates = append(*candidates, renameCandidate{record: record, oldPath: journalRecord.Path})
			}
		}

		tree.Insert(record)

		if entry.Stat.Type == vio.EntryDirectory {
			if err := w.walkDir(ctx, childPath, depth+1, maxDepth, tree, seenPaths, candidates); err != nil {
				return err
			}
		}
	}
}

func (w *Walker) classify(ctx context.Context, path string, stat vio.Stat) *core.Record {
	record := &core.Record{
		PHash:   core.PathHash(path),
		Path:    path,
		Inode:   stat.Inode,
		UID:     stat.UID,
		GID:     stat.GID,
		Mode:    uint32(stat.Mode),
		ModTime: stat.ModTime.Unix(),
		Size:    stat.Size,
		MD5:     stat.ETag,
	}

	switch stat.Type {
	case vio.EntryDirectory:
		record.Type = core.KindDirectory
	case vio.EntrySymlink:
		record.Type = core.KindSymlink
	case vio.EntryFile:
		record.Type = core.KindFile
	default:
		record.Type = core.KindSkip
	}

	if w.ComputeDigest && record.Type == core.KindFile && record.MD5 == "" {
		if digest, err := w.digest(ctx, path); err == nil {
			record.MD5 = digest
		}
	}

	if journalRecord, ok := w.Journal.ByHash(record.PHash); ok {
		if record.Size == journalRecord.Size && record.ModTime == journalRecord.ModTime {
			record.Instruction = core.InstructionNone
		} else {
			record.Instruction = core.InstructionEval
		}
	} else {
		record.Instruction = core.InstructionNew
	}

	return record
}

func (w *Walker) digest(ctx context.Context, path string) (string, error) {
	handle, err := w.Backend.Open(ctx, path, vio.OpenRead, 0)
	if err != nil {
		return "", err
	}
	defer handle.Close()

	h := md5.New()
	if _, err := io.Copy(h, handle); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
