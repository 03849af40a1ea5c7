// Package synchronization implements the session context and state
// machine: the object that owns a replica pairing's
// backends, journal, and options, drives the update/reconcile/propagate
// cycle in order, and enforces that each phase only runs once its
// predecessor has completed.
package synchronization

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendataspace/csyncgo/pkg/config"
	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/logging"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/hbf"
	"github.com/opendataspace/csyncgo/pkg/synchronization/ignore"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
	"github.com/opendataspace/csyncgo/pkg/synchronization/metrics"
	"github.com/opendataspace/csyncgo/pkg/synchronization/propagate"
	"github.com/opendataspace/csyncgo/pkg/synchronization/reconcile"
	"github.com/opendataspace/csyncgo/pkg/synchronization/scan"
	"github.com/opendataspace/csyncgo/pkg/vio"
)

// State is a combinable bitmask describing how far the current cycle has
// progressed.
type State uint8

const (
	StateNone      State = 0
	StateInit      State = 1 << 0
	StateUpdate    State = 1 << 1
	StateReconcile State = 1 << 2
	StatePropagate State = 1 << 3
	// StateDone is set only once Propagate completes without a structural
	// error; Commit refuses to write the journal unless it is set, so an
	// aborted or failed cycle never persists a half-applied tree.
	StateDone State = 1 << 4
)

// Replica identifies a side of the pairing; re-exported from reconcile so
// callers outside this package never need to import it directly.
type Replica = reconcile.Replica

const (
	Local  = reconcile.Local
	Remote = reconcile.Remote
)

// Session owns one replica pairing and drives it through one cycle at a
// time. All exported methods are safe for concurrent use; Abort may be
// called from a different goroutine than the one driving Run.
type Session struct {
	mu    sync.Mutex
	state State
	abort int32

	firstErr error

	Local  vio.Backend
	Remote vio.Backend

	Journal  journal.Journal
	Options  *config.Options
	Excludes *ignore.List
	Metrics  *metrics.Metrics
	Log      *logging.Logger

	// Progress, when set, receives per-file byte-level progress callbacks
	// during Propagate.
	Progress propagate.ProgressCallback

	// disableLocalStatedb and disableRemoteStatedb force every entry on
	// the named replica to be classified NEW without a journal lookup.
	disableLocalStatedb  bool
	disableRemoteStatedb bool

	localTree  *core.Tree
	remoteTree *core.Tree
}

// New creates a Session for one replica pairing. log may be nil.
func New(local, remote vio.Backend, j journal.Journal, opts *config.Options, log *logging.Logger) *Session {
	if opts == nil {
		opts = config.Default()
	}
	return &Session{
		Local:   local,
		Remote:  remote,
		Journal: j,
		Options: opts,
		Log:     log,
	}
}

// State reports the current cycle's progress.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Abort raises the cooperative cancellation flag. Every phase checks it
// at per-file granularity and unwinds with a USER_ABORT error as soon as
// it is observed.
func (s *Session) Abort() {
	atomic.StoreInt32(&s.abort, 1)
}

// Aborted reports whether Abort has been called for the current cycle.
func (s *Session) Aborted() bool {
	return atomic.LoadInt32(&s.abort) != 0
}

// ResetAbort clears the cooperative cancellation flag, allowing the
// session to be reused for a subsequent cycle after an abort.
func (s *Session) ResetAbort() {
	atomic.StoreInt32(&s.abort, 0)
}

// FirstError returns the first structural error observed across Init,
// Update, Reconcile, and Propagate, or nil if none has occurred. Run stops
// at the first phase that fails; when phases are called directly after a
// failure, their later errors are returned to the caller but FirstError
// keeps reporting the earliest one.
func (s *Session) FirstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Session) recordError(err error) error {
	if err == nil {
		return nil
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	return err
}

// SetStatedbEnabled toggles whether Update consults the journal for the
// given replica. Disabling it forces every entry to be classified as if
// the journal were empty (NEW).
func (s *Session) SetStatedbEnabled(replica Replica, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if replica == Local {
		s.disableLocalStatedb = !enabled
	} else {
		s.disableRemoteStatedb = !enabled
	}
}

// ResolveLocalOnly reports whether this cycle should treat both replicas
// as local filesystems, skipping the clock-skew check and chunked
// uploads entirely. It is fallible because, absent an explicit
// Options.LocalOnly, it probes the remote backend's capabilities to
// auto-detect whether time synchronization applies.
func (s *Session) ResolveLocalOnly() (bool, error) {
	if s.Options.LocalOnly {
		return true, nil
	}
	caps := s.Remote.Capabilities()
	return !caps.TimeSyncRequired, nil
}

// SetLogLevel adjusts the session's logger verbosity.
func (s *Session) SetLogLevel(level logging.Level) {
	s.Log.SetLevel(level)
}

// LogLevel reports the session's logger verbosity.
func (s *Session) LogLevel() logging.Level {
	return s.Log.Level()
}

// Init prepares the session for a cycle: it checks clock skew between
// the two replicas (unless running local-only) and resets per-cycle
// state. It has no phase precondition and may be called at the start of
// every cycle.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	s.state = StateInit
	s.firstErr = nil
	s.localTree = nil
	s.remoteTree = nil
	s.mu.Unlock()
	atomic.StoreInt32(&s.abort, 0)

	if s.Options.Timeout > 0 {
		_ = s.Remote.SetProperty("timeout", s.Options.Timeout)
	}

	localOnly, err := s.ResolveLocalOnly()
	if err != nil {
		return s.recordError(err)
	}
	if localOnly {
		return nil
	}

	if err := s.checkClockSkew(ctx); err != nil {
		return s.recordError(err)
	}
	return nil
}

// checkClockSkew stats each replica's root and compares the remote root's
// reported modification time against the local root's, failing with
// TimeSkew if the two diverge by more than Options.MaxTimeDifference.
func (s *Session) checkClockSkew(ctx context.Context) error {
	maxDiff := s.Options.MaxTimeDifference
	if maxDiff <= 0 {
		maxDiff = config.DefaultMaxTimeDifference
	}

	localStat, err := s.Local.Stat(ctx, "")
	if err != nil {
		return csyncerrors.Wrap(csyncerrors.TimeSkew, err, "statting local replica root")
	}
	remoteStat, err := s.Remote.Stat(ctx, "")
	if err != nil {
		return csyncerrors.Wrap(csyncerrors.TimeSkew, err, "statting remote replica root")
	}
	if remoteStat.ModTime.IsZero() {
		// The backend reports no root modification time; there is nothing
		// to compare the local clock against.
		return nil
	}

	diff := localStat.ModTime.Sub(remoteStat.ModTime)
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDiff {
		return csyncerrors.New(csyncerrors.TimeSkew, "replica clocks differ by %s, exceeding %s", diff, maxDiff)
	}
	return nil
}

// Update walks both replicas and builds their in-memory trees. Requires
// StateInit.
func (s *Session) Update(ctx context.Context) error {
	if s.State()&StateInit == 0 {
		return s.recordError(csyncerrors.New(csyncerrors.Update, "Update called before Init"))
	}

	localWalker := &scan.Walker{
		Backend:       s.Local,
		Journal:       s.statedbFor(Local),
		Excludes:      s.Excludes,
		IsLocal:       true,
		MaxDepth:      s.Options.MaxDepth,
		Abort:         &s.abort,
		ComputeDigest: true,
	}
	localTree, err := localWalker.Walk(ctx)
	if err != nil {
		return s.recordError(err)
	}

	remoteWalker := &scan.Walker{
		Backend:       s.Remote,
		Journal:       s.statedbFor(Remote),
		Excludes:      s.Excludes,
		IsLocal:       false,
		MaxDepth:      s.Options.MaxDepth,
		Abort:         &s.abort,
		ComputeDigest: false,
	}
	remoteTree, err := remoteWalker.Walk(ctx)
	if err != nil {
		return s.recordError(err)
	}

	s.mu.Lock()
	s.localTree = localTree
	s.remoteTree = remoteTree
	s.state |= StateUpdate
	s.mu.Unlock()
	return nil
}

// statedbFor returns j, unless the named replica has had its statedb
// disabled via SetStatedbEnabled, in which case it returns a journal that
// reports every lookup as a miss.
func (s *Session) statedbFor(replica Replica) journal.Journal {
	s.mu.Lock()
	disabled := s.disableLocalStatedb
	if replica == Remote {
		disabled = s.disableRemoteStatedb
	}
	s.mu.Unlock()
	if disabled {
		return emptyJournal{}
	}
	return s.Journal
}

// Reconcile runs the merge algorithm over both trees. Requires
// StateUpdate.
func (s *Session) Reconcile(ctx context.Context) error {
	if s.State()&StateUpdate == 0 {
		return s.recordError(csyncerrors.New(csyncerrors.Reconcile, "Reconcile called before Update"))
	}

	localRecon := &reconcile.Reconciler{Current: Local, Journal: s.Journal, WithConflictCopys: s.Options.WithConflictCopys, Abort: &s.abort}
	if err := localRecon.Reconcile(s.localTree, s.remoteTree); err != nil {
		return s.recordError(err)
	}

	remoteRecon := &reconcile.Reconciler{Current: Remote, Journal: s.Journal, WithConflictCopys: s.Options.WithConflictCopys, Abort: &s.abort}
	if err := remoteRecon.Reconcile(s.remoteTree, s.localTree); err != nil {
		return s.recordError(err)
	}

	s.mu.Lock()
	s.state |= StateReconcile
	s.mu.Unlock()
	return nil
}

// Propagate applies the computed instructions to both backends, using
// chunked uploads for file content written to a remote destination.
// Requires StateReconcile. On
// success it also sets StateDone, the guard Commit checks before writing
// the journal.
func (s *Session) Propagate(ctx context.Context) error {
	if s.State()&StateReconcile == 0 {
		return s.recordError(csyncerrors.New(csyncerrors.Propagate, "Propagate called before Reconcile"))
	}

	if s.Progress != nil {
		_ = s.Remote.SetProperty("progress_callback", func(uri string, bytesDone, bytesTotal int64) {
			s.Progress(uri, bytesDone, bytesTotal)
		})
	}

	p := &propagate.Propagator{
		Local:       s.Local,
		Remote:      s.Remote,
		NewUploader: s.newUploader,
		Log:         s.Log,
		Progress:    s.Progress,
		Abort:       &s.abort,
	}
	if err := p.Propagate(ctx, s.localTree, s.remoteTree); err != nil {
		return s.recordError(err)
	}

	if s.Metrics != nil {
		for _, rec := range s.localTree.Records() {
			s.Metrics.ObserveInstruction("local", rec.Instruction.String())
		}
		for _, rec := range s.remoteTree.Records() {
			s.Metrics.ObserveInstruction("remote", rec.Instruction.String())
		}
	}

	s.mu.Lock()
	s.state |= StatePropagate | StateDone
	s.mu.Unlock()
	return nil
}

// newUploader builds the chunked uploader for one file transfer destined
// for the remote backend. Returns nil when Remote doesn't
// implement the HTTP PUT contract chunked upload requires (e.g. in
// local-only mode), in which case Propagator falls back to a plain copy.
func (s *Session) newUploader(sourceURI, destURI string) propagate.Uploader {
	putter, ok := s.Remote.(hbf.Putter)
	if !ok {
		return nil
	}
	return &hbf.Transfer{
		Source:    s.Local,
		Remote:    putter,
		Journal:   s.Journal,
		Clock:     wallClock{},
		SourceURI: sourceURI,
		DestURI:   destURI,
		BlockSize: s.Options.BlockSize,
		Metrics:   s.Metrics,
	}
}

// Commit persists the cycle's outcome to the journal. It refuses to
// write unless Propagate completed successfully
// (StateDone set), so an aborted or partially failed cycle never
// persists a half-applied tree. On success the session's state resets to
// StateNone, ready for the next cycle.
func (s *Session) Commit(ctx context.Context) error {
	if s.State()&StateDone == 0 {
		return s.recordError(csyncerrors.New(csyncerrors.StatedbWrite, "Commit called before a completed Propagate"))
	}

	merged := propagate.Merge(s.localTree, s.remoteTree)
	if err := s.Journal.Merge(ctx, merged); err != nil {
		return s.recordError(csyncerrors.Wrap(csyncerrors.StatedbWrite, err, "committing journal"))
	}

	s.mu.Lock()
	s.state = StateNone
	s.localTree = nil
	s.remoteTree = nil
	s.mu.Unlock()
	return nil
}

// Run drives one full cycle (Init, Update, Reconcile, Propagate, Commit)
// in order, stopping at the first phase that fails, and records the
// cycle's outcome and duration in Metrics.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	err := s.runPhases(ctx)

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if csyncerrors.IsUserAbort(err) {
			outcome = "aborted"
		}
	}
	if s.Metrics != nil {
		s.Metrics.ObserveCycle(outcome, time.Since(start).Seconds())
	}
	return err
}

func (s *Session) runPhases(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if err := s.Update(ctx); err != nil {
		return err
	}
	if err := s.Reconcile(ctx); err != nil {
		return err
	}
	if err := s.Propagate(ctx); err != nil {
		return err
	}
	return s.Commit(ctx)
}

// Walk visits every record matching filter across the named replica's
// most recently computed tree, in ascending-phash order. Returns an
// error immediately if visit does.
func (s *Session) Walk(replica Replica, filter core.InstructionSet, visit func(*core.Record) error) error {
	s.mu.Lock()
	tree := s.localTree
	if replica == Remote {
		tree = s.remoteTree
	}
	s.mu.Unlock()
	if tree == nil {
		return nil
	}
	for _, rec := range tree.Records() {
		if !filter.Matches(rec.Instruction) {
			continue
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}

// emptyJournal reports every lookup as a miss, used to force NEW
// classification for a replica whose statedb has been disabled.
type emptyJournal struct{}

func (emptyJournal) ByHash(uint64) (*core.Record, bool)  { return nil, false }
func (emptyJournal) ByInode(uint64) (*core.Record, bool) { return nil, false }
func (emptyJournal) Empty() bool                         { return true }
func (emptyJournal) Progress(uint64) (*journal.Progress, bool) {
	return nil, false
}
func (emptyJournal) SaveProgress(context.Context, *journal.Progress) error { return nil }
func (emptyJournal) ClearProgress(context.Context, uint64) error          { return nil }
func (emptyJournal) Merge(context.Context, []*core.Record) error          { return nil }
func (emptyJournal) Close() error                                         { return nil }

// wallClock supplies TransferID's clock components from the real wall
// clock, the production Clock implementation for hbf.Transfer (test code
// uses a deterministic fake instead).
type wallClock struct{}

func (wallClock) Now() (epochSecs int64, microseconds int64) {
	now := time.Now()
	return now.Unix(), int64(now.Nanosecond() / 1000)
}
