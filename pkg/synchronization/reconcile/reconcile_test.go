package reconcile

import (
	"context"
	"testing"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
)

type fakeJournal struct {
	byHash  map[uint64]*core.Record
	byInode map[uint64]*core.Record
}

func newFakeJournalAdapter() *fakeJournal {
	return &fakeJournal{byHash: map[uint64]*core.Record{}, byInode: map[uint64]*core.Record{}}
}

func (j *fakeJournal) put(r *core.Record) {
	j.byHash[r.PHash] = r
	if r.Inode != 0 {
		j.byInode[r.Inode] = r
	}
}

func (j *fakeJournal) ByHash(phash uint64) (*core.Record, bool)  { r, ok := j.byHash[phash]; return r, ok }
func (j *fakeJournal) ByInode(inode uint64) (*core.Record, bool) { r, ok := j.byInode[inode]; return r, ok }
func (j *fakeJournal) Empty() bool                               { return len(j.byHash) == 0 }
func (j *fakeJournal) Progress(phash uint64) (*journal.Progress, bool) { return nil, false }
func (j *fakeJournal) SaveProgress(ctx context.Context, p *journal.Progress) error { return nil }
func (j *fakeJournal) ClearProgress(ctx context.Context, phash uint64) error { return nil }
func (j *fakeJournal) Merge(ctx context.Context, records []*core.Record) error { return nil }
func (j *fakeJournal) Close() error { return nil }

func tree(records ...*core.Record) *core.Tree {
	t := core.NewTree()
	for _, r := range records {
		t.Insert(r)
	}
	return t
}

// S2: both sides unchanged and equal — everything stays NONE.
func TestReconcileUnchangedBothSidesStayNone(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 5, ModTime: 100, Instruction: core.InstructionNone})
	remote := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 5, ModTime: 100, Instruction: core.InstructionNone})

	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter()}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	rec, _ := local.ByPath("a.txt")
	if rec.Instruction != core.InstructionNone {
		t.Fatalf("expected NONE, got %v", rec.Instruction)
	}
}

// S3: local modified, remote unchanged -> local record becomes SYNC,
// pushing its content to remote.
func TestReconcileLocalChangeSyncsToRemote(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 6, ModTime: 200, Instruction: core.InstructionEval})
	remote := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 5, ModTime: 100, Instruction: core.InstructionNone})

	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter()}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	localRec, _ := local.ByPath("a.txt")
	if localRec.Instruction != core.InstructionSync {
		t.Fatalf("expected local record SYNC (push to remote), got %v", localRec.Instruction)
	}
}

// New-on-both-sides with identical content reconciles to NONE on both.
func TestReconcileEqualContentBothNone(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 5, ModTime: 100, Instruction: core.InstructionNew})
	remote := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 5, ModTime: 102, Instruction: core.InstructionNew, MD5: "abc"})

	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter()}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	localRec, _ := local.ByPath("a.txt")
	remoteRec, _ := remote.ByPath("a.txt")
	if localRec.Instruction != core.InstructionNone || remoteRec.Instruction != core.InstructionNone {
		t.Fatalf("expected both NONE, got local=%v remote=%v", localRec.Instruction, remoteRec.Instruction)
	}
	if localRec.MD5 != "abc" {
		t.Fatalf("expected local to adopt remote's md5, got %q", localRec.MD5)
	}
}

// S4 with with_conflict_copys=false: remote wins; the remote record
// becomes SYNC (pushing its content to local) and the local peer NONE.
func TestReconcileConflictLastWriterWins(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 6, ModTime: 200, Instruction: core.InstructionEval})
	remote := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 7, ModTime: 9999, Instruction: core.InstructionEval})

	r := &Reconciler{Current: Remote, Journal: newFakeJournalAdapter(), WithConflictCopys: false}
	if err := r.Reconcile(remote, local); err != nil {
		t.Fatal(err)
	}

	remoteRec, _ := remote.ByPath("a.txt")
	localRec, _ := local.ByPath("a.txt")
	if remoteRec.Instruction != core.InstructionSync {
		t.Fatalf("expected remote record SYNC, got %v", remoteRec.Instruction)
	}
	if localRec.Instruction != core.InstructionNone {
		t.Fatalf("expected local peer NONE, got %v", localRec.Instruction)
	}
}

// S4 with with_conflict_copys=true: the local side keeps its content and
// its record becomes CONFLICT, so the push to remote sets the remote
// original aside under a conflict-copy name first.
func TestReconcileConflictWithCopies(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 6, ModTime: 200, Instruction: core.InstructionEval})
	remote := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Size: 7, ModTime: 9999, Instruction: core.InstructionEval})

	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter(), WithConflictCopys: true}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	localRec, _ := local.ByPath("a.txt")
	remoteRec, _ := remote.ByPath("a.txt")
	if localRec.Instruction != core.InstructionConflict {
		t.Fatalf("expected local record CONFLICT, got %v", localRec.Instruction)
	}
	if remoteRec.Instruction != core.InstructionNone {
		t.Fatalf("expected remote peer NONE, got %v", remoteRec.Instruction)
	}
}

// Peer missing and cur was NONE -> REMOVE.
func TestReconcileMissingPeerWithNoneBecomesRemove(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("gone.txt"), Path: "gone.txt", Instruction: core.InstructionNone})
	remote := tree()

	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter()}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	rec, _ := local.ByPath("gone.txt")
	if rec.Instruction != core.InstructionRemove {
		t.Fatalf("expected REMOVE, got %v", rec.Instruction)
	}
}

// S5: local rename propagates to the opposite side as RENAME.
func TestReconcileLocalRenamePropagates(t *testing.T) {
	j := newFakeJournalAdapter()
	j.put(&core.Record{PHash: core.PathHash("old.txt"), Path: "old.txt", Inode: 42})

	local := tree(&core.Record{PHash: core.PathHash("new.txt"), Path: "new.txt", Inode: 42, Instruction: core.InstructionRename})
	remote := tree(&core.Record{PHash: core.PathHash("old.txt"), Path: "old.txt", Instruction: core.InstructionNone})

	r := &Reconciler{Current: Local, Journal: j}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	localRec, _ := local.ByPath("new.txt")
	if localRec.Instruction != core.InstructionNone {
		t.Fatalf("expected local rename record to settle at NONE, got %v", localRec.Instruction)
	}
	remoteRec, _ := remote.ByPath("old.txt")
	if remoteRec.Instruction != core.InstructionRename || remoteRec.DestPath != "new.txt" {
		t.Fatalf("expected remote peer RENAME to new.txt, got instruction=%v destpath=%q", remoteRec.Instruction, remoteRec.DestPath)
	}
}

// A raised abort flag unwinds the pass with USER_ABORT before any
// decision is made.
func TestReconcileObservesAbortFlag(t *testing.T) {
	local := tree(&core.Record{PHash: core.PathHash("a.txt"), Path: "a.txt", Instruction: core.InstructionEval})
	remote := tree()

	abort := int32(1)
	r := &Reconciler{Current: Local, Journal: newFakeJournalAdapter(), Abort: &abort}
	err := r.Reconcile(local, remote)
	if err == nil {
		t.Fatal("expected an aborted reconcile to fail")
	}
	if csyncerrors.CodeOf(err) != csyncerrors.UserAbort {
		t.Fatalf("expected USER_ABORT, got %v", csyncerrors.CodeOf(err))
	}
	rec, _ := local.ByPath("a.txt")
	if rec.Instruction != core.InstructionEval {
		t.Fatalf("expected no decision after abort, got %v", rec.Instruction)
	}
}

// Rename whose peer no longer exists downgrades to NEW.
func TestReconcileRenameWithNoPeerBecomesNew(t *testing.T) {
	j := newFakeJournalAdapter()
	j.put(&core.Record{PHash: core.PathHash("old.txt"), Path: "old.txt", Inode: 42})

	local := tree(&core.Record{PHash: core.PathHash("new.txt"), Path: "new.txt", Inode: 42, Instruction: core.InstructionRename})
	remote := tree()

	r := &Reconciler{Current: Local, Journal: j}
	if err := r.Reconcile(local, remote); err != nil {
		t.Fatal(err)
	}

	rec, _ := local.ByPath("new.txt")
	if rec.Instruction != core.InstructionNew {
		t.Fatalf("expected NEW, got %v", rec.Instruction)
	}
}
