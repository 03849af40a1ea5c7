package hbf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
	"github.com/opendataspace/csyncgo/pkg/vio"
)

// fakeClock yields a fixed, test-controlled time so transfer ids are
// deterministic across a test run.
type fakeClock struct {
	epoch  int64
	micros int64
}

func (c fakeClock) Now() (int64, int64) { return c.epoch, c.micros }

// fakeJournal is a minimal in-memory journal.Journal sufficient for
// exercising Transfer's progress save/load/clear calls.
type fakeJournal struct {
	progress map[uint64]*journal.Progress
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{progress: make(map[uint64]*journal.Progress)}
}

func (j *fakeJournal) ByHash(uint64) (*core.Record, bool)  { return nil, false }
func (j *fakeJournal) ByInode(uint64) (*core.Record, bool) { return nil, false }
func (j *fakeJournal) Empty() bool                         { return true }

func (j *fakeJournal) Progress(phash uint64) (*journal.Progress, bool) {
	p, ok := j.progress[phash]
	return p, ok
}

func (j *fakeJournal) SaveProgress(_ context.Context, p *journal.Progress) error {
	j.progress[p.PHash] = p
	return nil
}

func (j *fakeJournal) ClearProgress(_ context.Context, phash uint64) error {
	delete(j.progress, phash)
	return nil
}

func (j *fakeJournal) Merge(context.Context, []*core.Record) error { return nil }
func (j *fakeJournal) Close() error                                { return nil }

// fakePutter records every block PUT it receives and can be configured to
// fail a specific block index exactly once, or to mutate the source file
// out from under an in-progress transfer. Like a real chunking server, it
// only responds with an ETag once every block of the transfer has arrived
// (an unchunked single PUT always gets one).
type fakePutter struct {
	base      string
	received  []receivedBlock
	have      map[int]bool
	failSeq   map[int]int // seq -> http status to fail with, consumed once
	onReceive func(seq int)
}

type receivedBlock struct {
	seq  int
	body []byte
}

func newFakePutter(base string) *fakePutter {
	return &fakePutter{base: base, have: make(map[int]bool), failSeq: make(map[int]int)}
}

func (p *fakePutter) URL(uri string) string { return p.base }

func (p *fakePutter) ChunkedPut(ctx context.Context, url string, body []byte, chunked bool) (int, string, error) {
	seq := seqFromURL(url, chunked)
	if p.onReceive != nil {
		p.onReceive(seq)
	}
	p.received = append(p.received, receivedBlock{seq: seq, body: append([]byte(nil), body...)})
	if status, shouldFail := p.failSeq[seq]; shouldFail {
		delete(p.failSeq, seq)
		return status, "", nil
	}
	if !chunked {
		return 200, fmt.Sprintf("\"etag-%d\"", seq), nil
	}
	p.have[seq] = true
	if len(p.have) == blockCountFromURL(url) {
		return 200, fmt.Sprintf("\"etag-%d\"", seq), nil
	}
	return 200, "", nil
}

// blockCountFromURL recovers the block count from a chunked-transfer URL
// of the form "<base>-chunking-<tid>-<n>-<i>".
func blockCountFromURL(url string) int {
	parts := strings.Split(url, "-")
	n, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0
	}
	return n
}

// seqFromURL recovers the block index from a chunked-transfer URL of the
// form "<base>-chunking-<tid>-<n>-<i>"; an unchunked (single-block) PUT
// always targets seq 0.
func seqFromURL(url string, chunked bool) int {
	if !chunked {
		return 0
	}
	parts := strings.Split(url, "-")
	idx, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return idx
}

func writeSourceFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return name
}

func TestTransferSingleBlockUsesOrdinaryURL(t *testing.T) {
	dir := t.TempDir()
	name := writeSourceFile(t, dir, "small.txt", 128)

	source := vio.NewLocal(dir)
	putter := newFakePutter("https://remote/small.txt")
	tr := &Transfer{
		Source:    source,
		Remote:    putter,
		Journal:   newFakeJournal(),
		Clock:     fakeClock{epoch: 1000, micros: 1},
		SourceURI: name,
		DestURI:   name,
		BlockSize: DefaultBlockSize,
	}

	result, err := tr.Run(context.Background(), core.PathHash(name), 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(result.Blocks))
	}
	if len(putter.received) != 1 || putter.received[0].seq != 0 {
		t.Fatalf("expected a single seq-0 PUT, got %+v", putter.received)
	}
	if result.ETag != "etag-0" {
		t.Fatalf("unexpected etag: %q", result.ETag)
	}
}

func TestTransferMultiBlockSendsAllBlocksInOrder(t *testing.T) {
	dir := t.TempDir()
	size := int(DefaultBlockSize*2 + 10)
	name := writeSourceFile(t, dir, "large.bin", size)

	source := vio.NewLocal(dir)
	putter := newFakePutter("https://remote/large.bin")
	tr := &Transfer{
		Source:    source,
		Remote:    putter,
		Journal:   newFakeJournal(),
		Clock:     fakeClock{epoch: 2000, micros: 7},
		SourceURI: name,
		DestURI:   name,
	}

	result, err := tr.Run(context.Background(), core.PathHash(name), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(result.Blocks))
	}
	for i, b := range result.Blocks {
		if b.State != BlockSuccess {
			t.Fatalf("block %d not SUCCESS: %+v", i, b)
		}
	}
	var seqs []int
	for _, r := range putter.received {
		seqs = append(seqs, r.seq)
	}
	if len(seqs) != 3 || seqs[0] != 0 || seqs[1] != 1 || seqs[2] != 2 {
		t.Fatalf("expected blocks sent in order 0,1,2 on a clean run, got %v", seqs)
	}
}

func TestTransferResumesFromRecordedStartID(t *testing.T) {
	dir := t.TempDir()
	size := int(DefaultBlockSize * 3)
	name := writeSourceFile(t, dir, "resumable.bin", size)
	phash := core.PathHash(name)

	source := vio.NewLocal(dir)
	j := newFakeJournal()

	// First run: fail block 1 (0-indexed) with a 503, simulating S6.
	failingPutter := newFakePutter("https://remote/resumable.bin")
	failingPutter.failSeq[1] = 503
	tr1 := &Transfer{
		Source:    source,
		Remote:    failingPutter,
		Journal:   j,
		Clock:     fakeClock{epoch: 3000, micros: 3},
		SourceURI: name,
		DestURI:   name,
	}
	if _, err := tr1.Run(context.Background(), phash, 9); err == nil {
		t.Fatal("expected first run to fail")
	} else if csyncerrors.CodeOf(err) != csyncerrors.HTTP {
		t.Fatalf("expected an HTTP error code, got %v", csyncerrors.CodeOf(err))
	}

	prog, ok := j.Progress(phash)
	if !ok {
		t.Fatal("expected progress to be recorded after failure")
	}
	if prog.StartID != 1 {
		t.Fatalf("expected start_id=1 after failing block 1, got %d", prog.StartID)
	}

	// Second run: same journal, a putter that now succeeds on every block.
	resumePutter := newFakePutter("https://remote/resumable.bin")
	tr2 := &Transfer{
		Source:    source,
		Remote:    resumePutter,
		Journal:   j,
		Clock:     fakeClock{epoch: 3001, micros: 4},
		SourceURI: name,
		DestURI:   name,
	}
	result, err := tr2.Run(context.Background(), phash, 9)
	if err != nil {
		t.Fatalf("expected resumed run to succeed, got %v", err)
	}
	var seqs []int
	for _, r := range resumePutter.received {
		seqs = append(seqs, r.seq)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 0 {
		t.Fatalf("expected ring order starting at 1 (1,2,0), got %v", seqs)
	}
	for i, b := range result.Blocks {
		if b.State != BlockSuccess {
			t.Fatalf("block %d not SUCCESS after resume: %+v", i, b)
		}
	}
	if _, stillPending := j.Progress(phash); stillPending {
		t.Fatal("expected progress to be cleared after a successful resume")
	}
}

func TestTransferAbortsOnSourceFileChangeBetweenBlocks(t *testing.T) {
	dir := t.TempDir()
	size := int(DefaultBlockSize * 2)
	name := writeSourceFile(t, dir, "changing.bin", size)
	path := filepath.Join(dir, name)

	source := vio.NewLocal(dir)
	putter := newFakePutter("https://remote/changing.bin")
	// After the first block is sent, grow the source file so the
	// mid-transfer re-stat before block 2 observes a size change.
	putter.onReceive = func(seq int) {
		if seq == 0 {
			if err := os.Truncate(path, int64(size+1)); err != nil {
				t.Fatal(err)
			}
		}
	}

	tr := &Transfer{
		Source:    source,
		Remote:    putter,
		Journal:   newFakeJournal(),
		Clock:     fakeClock{epoch: 4000, micros: 1},
		SourceURI: name,
		DestURI:   name,
	}

	_, err := tr.Run(context.Background(), core.PathHash(name), 11)
	if err == nil {
		t.Fatal("expected transfer to abort on source change")
	}
	if csyncerrors.CodeOf(err) != csyncerrors.SourceFileChange {
		t.Fatalf("expected SOURCE_FILE_CHANGE, got %v", csyncerrors.CodeOf(err))
	}
	// Only the first block should have reached the server; the server's
	// state for subsequent blocks must be untouched.
	if len(putter.received) != 1 {
		t.Fatalf("expected exactly 1 block sent before abort, got %d", len(putter.received))
	}
}
