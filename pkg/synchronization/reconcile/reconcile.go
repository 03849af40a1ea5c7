// Package reconcile implements the merge algorithm: for each record on
// one replica, find its peer on the other by phash and decide an
// instruction for both, using inode-based rename resolution and a
// conflict policy.
package reconcile

import (
	"sync/atomic"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
)

// Replica identifies which side of a pairing is currently being
// reconciled.
type Replica int

const (
	Local Replica = iota
	Remote
)

// Reconciler merges one replica's tree against the opposite tree. The
// same Reconciler (with Current flipped) is invoked twice per cycle, once
// per replica, against the single journal shared by the pairing.
type Reconciler struct {
	Current Replica
	Journal journal.Journal
	// WithConflictCopys selects the conflict policy: true preserves both
	// versions via a conflict-copy rename, false applies last-writer-wins.
	WithConflictCopys bool
	// Abort is checked at the top of each per-record decision; a non-zero
	// value unwinds the pass with a USER_ABORT error.
	Abort *int32
}

func (r *Reconciler) aborted() bool {
	return r.Abort != nil && atomic.LoadInt32(r.Abort) != 0
}

// Reconcile walks cur's tree in phash order and decides an instruction for
// each record, consulting and mutating opposite's tree in place.
func (r *Reconciler) Reconcile(cur *core.Tree, opposite *core.Tree) error {
	for _, rec := range cur.Records() {
		if r.aborted() {
			return csyncerrors.New(csyncerrors.UserAbort, "reconciliation aborted at %q", rec.Path)
		}

		peer, found := opposite.ByHash(rec.PHash)
		if !found && r.Current == Remote {
			if adjusted, ok := r.renameAdjustedPeer(rec, opposite); ok {
				peer, found = adjusted, true
			}
		}

		if !found {
			r.resolveMissingPeer(rec, opposite)
			continue
		}

		r.resolveWithPeer(rec, peer)
	}
	return nil
}

// renameAdjustedPeer retries a REMOTE-side peer lookup by discovering,
// via the shared journal, the inode the current path used to have, then
// finding whatever record now owns that inode in the opposite (local)
// tree, which a same-cycle local rename may have moved to a different
// path and phash.
func (r *Reconciler) renameAdjustedPeer(rec *core.Record, opposite *core.Tree) (*core.Record, bool) {
	priorState, ok := r.Journal.ByHash(rec.PHash)
	if !ok || priorState.Inode == 0 {
		return nil, false
	}
	peer, ok := opposite.ByInode(priorState.Inode)
	if !ok || peer.Path == rec.Path {
		return nil, false
	}
	return peer, true
}

// resolveMissingPeer handles the "file only found on current replica"
// branch of the merge.
func (r *Reconciler) resolveMissingPeer(rec *core.Record, opposite *core.Tree) {
	switch rec.Instruction {
	case core.InstructionEval:
		rec.Instruction = core.InstructionNew
	case core.InstructionNone:
		rec.Instruction = core.InstructionRemove
	case core.InstructionRename:
		if r.Current != Local {
			return
		}
		r.resolveLocalRename(rec, opposite)
	}
}

// resolveLocalRename handles a RENAME whose new path has no peer: the
// old path is recovered from the journal by inode, hashed, and used to
// find the opposite tree's peer.
func (r *Reconciler) resolveLocalRename(rec *core.Record, opposite *core.Tree) {
	priorState, ok := r.Journal.ByInode(rec.Inode)
	if !ok {
		rec.Instruction = core.InstructionNew
		return
	}
	oldHash := core.PathHash(priorState.Path)
	other, ok := opposite.ByHash(oldHash)
	if !ok {
		rec.Instruction = core.InstructionNew
		return
	}
	if other.Instruction == core.InstructionNone || rec.Type == core.KindDirectory {
		other.Instruction = core.InstructionRename
		other.DestPath = rec.Path
		rec.Instruction = core.InstructionNone
	} else {
		rec.Instruction = core.InstructionNone
		other.Instruction = core.InstructionSync
	}
}

// resolveWithPeer handles the "file found on the other replica" branch.
func (r *Reconciler) resolveWithPeer(rec *core.Record, peer *core.Record) {
	if rec.Instruction == core.InstructionRename {
		if r.Current != Local {
			return
		}
		// The file already exists on the other side: abort the rename
		// and treat it as a conflicting new file.
		rec.Instruction = core.InstructionNew
	}

	switch rec.Instruction {
	case core.InstructionEval, core.InstructionNew:
		r.resolveChangeVsChange(rec, peer)
	}
}

func (r *Reconciler) resolveChangeVsChange(rec *core.Record, peer *core.Record) {
	switch peer.Instruction {
	case core.InstructionNew, core.InstructionEval:
		if core.EqualContent(rec, peer) {
			rec.Instruction = core.InstructionNone
			peer.Instruction = core.InstructionNone
			if rec.MD5 == "" && peer.MD5 != "" {
				rec.MD5 = peer.MD5
			}
			return
		}
		r.resolveConflict(rec, peer)
	case core.InstructionNone:
		rec.Instruction = core.InstructionSync
	case core.InstructionIgnore:
		rec.Instruction = core.InstructionIgnore
	}
}

// resolveConflict applies the conflict policy. Without conflict
// copies the remote side wins: its record is marked SYNC, pushing remote
// content over the local file. With conflict copies the local side keeps
// its content: its record is marked CONFLICT, which pushes local content
// to the remote side after the remote original is set aside under a
// conflict-copy name.
func (r *Reconciler) resolveConflict(rec *core.Record, peer *core.Record) {
	localRec, remoteRec := rec, peer
	if r.Current == Remote {
		localRec, remoteRec = peer, rec
	}
	if r.WithConflictCopys {
		localRec.Instruction = core.InstructionConflict
		remoteRec.Instruction = core.InstructionNone
	} else {
		remoteRec.Instruction = core.InstructionSync
		localRec.Instruction = core.InstructionNone
	}
}
