// Package propagate applies the instructions the reconciler computed to both replicas'
// backends, renaming directories first, then visiting the remainder of
// each tree in an order safe for creations and deletions, and rewriting
// each record's instruction in place to reflect the outcome for the
// journal merge step.
//
// Direction is derived from the instruction, not fixed per call: a
// content-bearing record (NEW, SYNC, CONFLICT) already has its content on
// the replica whose tree holds it, so content always flows owner ->
// opposite; CONFLICT first sets the opposite side's original aside under
// a conflict-copy name. REMOVE and RENAME mirror a change that already
// happened on the opposite side and need no content, only a VIO call
// against the owning replica itself.
package propagate

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alitto/pond"
	"github.com/dustin/go-humanize"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/logging"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/hbf"
	"github.com/opendataspace/csyncgo/pkg/vio"
)

// DefaultMaxConcurrency bounds how many file creates/syncs a single
// propagateCreates pass runs at once when MaxConcurrency is unset.
const DefaultMaxConcurrency = 8

// ProgressCallback reports per-file and per-byte progress to the host.
type ProgressCallback func(path string, bytesDone, bytesTotal int64)

// Uploader abstracts the chunked uploader so a Propagator can be tested
// without a real remote backend; *hbf.Transfer satisfies it.
type Uploader interface {
	Run(ctx context.Context, phash uint64, inode uint64) (*hbf.Result, error)
}

// Propagator applies both replicas' reconciled trees to their respective
// VIO backends.
type Propagator struct {
	Local  vio.Backend
	Remote vio.Backend

	// NewUploader builds the chunked uploader for one file transfer whose
	// target is the remote backend. When it is nil, or returns nil, the
	// content is copied through the backends' Open/Write instead.
	NewUploader func(sourceURI, destURI string) Uploader

	Log      *logging.Logger
	Progress ProgressCallback

	// Abort is checked at the top of each per-file operation; a
	// non-zero value unwinds the phase with a USER_ABORT error.
	Abort *int32

	// MaxConcurrency bounds how many file creates/syncs run at once within
	// one propagateCreates pass; zero means DefaultMaxConcurrency. Each
	// record's VIO calls and journal writes are independent of every
	// other's, so fanning them out behind a bounded pool shortens a cycle
	// with many small files without the unbounded goroutine growth plain
	// "go func()" fan-out would produce.
	MaxConcurrency int
}

func (p *Propagator) aborted() bool {
	return p.Abort != nil && atomic.LoadInt32(p.Abort) != 0
}

// Propagate applies localTree's and remoteTree's instructions to the
// local/remote backend pair in a dependency-safe order. Each sub-pass
// runs over localTree and then remoteTree before the next sub-pass
// starts: directory renames first (shallowest source path first), then
// the remaining file operations (ascending path for creates, descending
// path for deletes).
func (p *Propagator) Propagate(ctx context.Context, localTree, remoteTree *core.Tree) error {
	if err := p.propagateDirectoryRenames(ctx, localTree, p.Local); err != nil {
		return err
	}
	if err := p.propagateDirectoryRenames(ctx, remoteTree, p.Remote); err != nil {
		return err
	}

	if err := p.propagateCreates(ctx, localTree, p.Local, p.Remote, false); err != nil {
		return err
	}
	if err := p.propagateCreates(ctx, remoteTree, p.Remote, p.Local, true); err != nil {
		return err
	}

	if err := p.propagateRemoves(ctx, localTree, p.Local); err != nil {
		return err
	}
	return p.propagateRemoves(ctx, remoteTree, p.Remote)
}

// propagateDirectoryRenames performs sub-pass 1 for one tree: every
// RENAME instruction on a DIRECTORY record, sorted ascending by source
// path length so that shallower renames are applied first, renamed on
// owner (the backend that owns this tree).
func (p *Propagator) propagateDirectoryRenames(ctx context.Context, tree *core.Tree, owner vio.Backend) error {
	var dirs []*core.Record
	for _, rec := range tree.RecordsByPath() {
		if rec.Instruction == core.InstructionRename && rec.Type == core.KindDirectory {
			dirs = append(dirs, rec)
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return len(dirs[i].Path) < len(dirs[j].Path)
	})

	for _, rec := range dirs {
		if p.aborted() {
			return csyncerrors.New(csyncerrors.UserAbort, "propagation aborted")
		}
		if err := owner.Rename(ctx, rec.Path, rec.DestPath); err != nil {
			p.markSubtreeError(tree, rec.Path, err)
			continue
		}
		rec.Instruction = core.InstructionUpdated
	}
	return nil
}

// markSubtreeError marks prefix and everything beneath it as ERROR, so
// operations depending on a failed directory rename are skipped rather
// than applied against a path that no longer exists.
func (p *Propagator) markSubtreeError(tree *core.Tree, prefix string, cause error) {
	for _, rec := range tree.Records() {
		if rec.Path == prefix || strings.HasPrefix(rec.Path, prefix+"/") {
			rec.Instruction = core.InstructionError
			rec.ErrorString = cause.Error()
		}
	}
	p.Log.Warn("directory rename failed, subtree %q marked ERROR: %v", prefix, cause)
}

// propagateCreates applies the content-bearing instructions, a directory
// pass in ascending path order followed by a bounded-parallel file pass:
// every NEW directory is created before any file pass begins, so a
// file's parent is always guaranteed to already exist once its job runs.
// NEW, SYNC, and CONFLICT all copy owner -> opposite (the content lives on
// the replica whose tree carries the record); a file RENAME (directories
// are handled in the earlier sub-pass) renames within owner.
func (p *Propagator) propagateCreates(ctx context.Context, tree *core.Tree, owner, opposite vio.Backend, ownerIsRemote bool) error {
	var files []*core.Record
	for _, rec := range tree.RecordsByPath() {
		if p.aborted() {
			return csyncerrors.New(csyncerrors.UserAbort, "propagation aborted")
		}
		if rec.Instruction == core.InstructionError {
			continue
		}

		if rec.Type == core.KindDirectory {
			if rec.Instruction == core.InstructionNew {
				p.applyNew(ctx, rec, owner, opposite, !ownerIsRemote)
			}
			continue
		}
		switch rec.Instruction {
		case core.InstructionNew, core.InstructionSync, core.InstructionConflict, core.InstructionRename:
			files = append(files, rec)
		}
	}

	maxConcurrency := p.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	pool := pond.New(maxConcurrency, 0, pond.MinWorkers(1))
	group := pool.Group()
	for _, rec := range files {
		rec := rec
		group.Submit(func() {
			if p.aborted() {
				rec.Instruction = core.InstructionError
				rec.ErrorString = "propagation aborted"
				return
			}
			switch rec.Instruction {
			case core.InstructionNew:
				p.applyNew(ctx, rec, owner, opposite, !ownerIsRemote)
			case core.InstructionSync, core.InstructionConflict:
				p.applyContent(ctx, rec, owner, opposite, !ownerIsRemote)
			case core.InstructionRename:
				p.applyRename(ctx, rec, owner)
			}
		})
	}
	group.Wait()
	pool.StopAndWait()

	if p.aborted() {
		return csyncerrors.New(csyncerrors.UserAbort, "propagation aborted")
	}
	return nil
}

// propagateRemoves applies REMOVE instructions against owner in
// descending path order, so a directory's children are unlinked/rmdir'd
// before the directory itself.
func (p *Propagator) propagateRemoves(ctx context.Context, tree *core.Tree, owner vio.Backend) error {
	for _, rec := range tree.RecordsByPathDescending() {
		if p.aborted() {
			return csyncerrors.New(csyncerrors.UserAbort, "propagation aborted")
		}
		if rec.Instruction != core.InstructionRemove {
			continue
		}
		var err error
		if rec.Type == core.KindDirectory {
			err = owner.Rmdir(ctx, rec.Path)
		} else {
			err = owner.Unlink(ctx, rec.Path)
		}
		if err != nil {
			rec.Instruction = core.InstructionError
			rec.ErrorString = err.Error()
			p.Log.Warn("remove failed for %q: %v", rec.Path, err)
			continue
		}
		rec.Instruction = core.InstructionDeleted
	}
	return nil
}

// applyNew creates rec on target (the replica missing it), copying
// content from source (the replica that already has it, i.e. the tree's
// owner). targetIsRemote selects the chunked-upload path for files.
func (p *Propagator) applyNew(ctx context.Context, rec *core.Record, source, target vio.Backend, targetIsRemote bool) {
	switch rec.Type {
	case core.KindDirectory:
		if err := target.Mkdir(ctx, rec.Path, 0755); err != nil {
			rec.Instruction = core.InstructionError
			rec.ErrorString = err.Error()
			p.Log.Warn("mkdir failed for %q: %v", rec.Path, err)
			return
		}
		rec.Instruction = core.InstructionUpdated
	case core.KindFile:
		p.applyContent(ctx, rec, source, target, targetIsRemote)
	default:
		rec.Instruction = core.InstructionIgnore
	}
}

func (p *Propagator) applyRename(ctx context.Context, rec *core.Record, owner vio.Backend) {
	if err := owner.Rename(ctx, rec.Path, rec.DestPath); err != nil {
		rec.Instruction = core.InstructionError
		rec.ErrorString = err.Error()
		p.Log.Warn("rename failed for %q -> %q: %v", rec.Path, rec.DestPath, err)
		return
	}
	rec.Instruction = core.InstructionUpdated
}

// applyContent copies rec's content from source to target, taking a
// conflict copy of target's existing content first when Instruction is
// CONFLICT.
func (p *Propagator) applyContent(ctx context.Context, rec *core.Record, source, target vio.Backend, targetIsRemote bool) {
	if rec.Instruction == core.InstructionConflict {
		if err := p.takeConflictCopy(ctx, rec, target); err != nil {
			rec.Instruction = core.InstructionError
			rec.ErrorString = err.Error()
			p.Log.Warn("conflict copy failed for %q: %v", rec.Path, err)
			return
		}
	}

	var err error
	var etag string
	var uploader Uploader
	if targetIsRemote && p.NewUploader != nil {
		uploader = p.NewUploader(rec.Path, rec.Path)
	}
	if uploader != nil {
		etag, err = p.uploadContent(ctx, rec, uploader)
	} else {
		err = p.copyContent(ctx, rec, source, target)
	}
	if err != nil {
		rec.Instruction = core.InstructionError
		rec.ErrorString = err.Error()
		p.Log.Warn("content copy failed for %q: %v", rec.Path, err)
		return
	}
	if etag != "" {
		rec.MD5 = etag
	}
	rec.Instruction = core.InstructionUpdated
	if p.Log != nil {
		p.Log.Debug("propagated %s (%s)", rec.Path, humanize.Bytes(uint64(rec.Size)))
	}
}

// takeConflictCopy renames target's current content to
// "<name>_conflict-<timestamp>.<ext>" before the caller overwrites the
// original path, so neither side's version of a conflicted file is lost.
func (p *Propagator) takeConflictCopy(ctx context.Context, rec *core.Record, target vio.Backend) error {
	dir, base := path.Split(rec.Path)
	ext := path.Ext(base)
	name := strings.TrimSuffix(base, ext)
	conflictName := fmt.Sprintf("%s_conflict-%d%s", name, time.Now().Unix(), ext)
	return target.Rename(ctx, rec.Path, dir+conflictName)
}

func (p *Propagator) copyContent(ctx context.Context, rec *core.Record, source, target vio.Backend) error {
	src, err := source.Open(ctx, rec.Path, vio.OpenRead, 0)
	if err != nil {
		return csyncerrors.Wrap(csyncerrors.Propagate, err, "opening source failed")
	}
	defer src.Close()

	dst, err := target.Open(ctx, rec.Path, vio.OpenWrite|vio.OpenCreate|vio.OpenTruncate, 0644)
	if err != nil {
		return csyncerrors.Wrap(csyncerrors.Propagate, err, "opening target failed")
	}

	buf := make([]byte, 64*1024)
	var done int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				dst.Close()
				return csyncerrors.Wrap(csyncerrors.Propagate, werr, "writing target failed")
			}
			done += int64(n)
			if p.Progress != nil {
				p.Progress(rec.Path, done, rec.Size)
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			dst.Close()
			return csyncerrors.Wrap(csyncerrors.Propagate, rerr, "reading source failed")
		}
	}
	if err := dst.Close(); err != nil {
		return csyncerrors.Wrap(csyncerrors.Propagate, err, "closing target failed")
	}
	if err := target.Utimes(ctx, rec.Path, time.Unix(rec.ModTime, 0)); err != nil {
		p.Log.Debug("utimes failed for %q: %v", rec.Path, err)
	}
	return nil
}

// uploadContent drives a chunked upload for a remote target, returning
// the server-assigned ETag on success.
func (p *Propagator) uploadContent(ctx context.Context, rec *core.Record, uploader Uploader) (string, error) {
	result, err := uploader.Run(ctx, rec.PHash, rec.Inode)
	if err != nil {
		return "", err
	}
	return result.ETag, nil
}

// Merge builds the list of records eligible for the journal's commit-time
// merge: the union of NONE and UPDATED records across the given
// trees, excluding ERROR. An applied rename is recorded under its
// destination path, and the two trees' entries for the same path collapse
// to a single record: the side that actually wrote (UPDATED) carries the
// authoritative size/modtime, borrowing the inode and content fingerprint
// from its counterpart when it lacks them (a remote record has no inode,
// a local one may have no etag).
func Merge(trees ...*core.Tree) []*core.Record {
	byHash := make(map[uint64]*core.Record)
	var order []uint64
	for _, t := range trees {
		for _, rec := range t.Records() {
			switch rec.Instruction {
			case core.InstructionNone, core.InstructionUpdated:
			default:
				continue
			}
			c := rec.Copy()
			if c.Instruction == core.InstructionUpdated && c.DestPath != "" {
				c.Path = c.DestPath
				c.PHash = core.PathHash(c.Path)
				c.DestPath = ""
			}
			existing, ok := byHash[c.PHash]
			if !ok {
				byHash[c.PHash] = c
				order = append(order, c.PHash)
				continue
			}
			preferred, other := existing, c
			if c.Instruction == core.InstructionUpdated && existing.Instruction != core.InstructionUpdated {
				preferred, other = c, existing
			}
			if preferred.Inode == 0 {
				preferred.Inode = other.Inode
			}
			if preferred.MD5 == "" {
				preferred.MD5 = other.MD5
			}
			byHash[preferred.PHash] = preferred
		}
	}
	merged := make([]*core.Record, 0, len(order))
	for _, phash := range order {
		merged = append(merged, byHash[phash])
	}
	return merged
}
