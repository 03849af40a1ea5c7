package hbf

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/opendataspace/csyncgo/pkg/csyncerrors"
	"github.com/opendataspace/csyncgo/pkg/identifier"
	"github.com/opendataspace/csyncgo/pkg/synchronization/journal"
	"github.com/opendataspace/csyncgo/pkg/synchronization/metrics"
	"github.com/opendataspace/csyncgo/pkg/vio"
)

// Putter is the subset of the remote backend the uploader needs: issuing
// one block PUT and reporting its outcome. Satisfied by *vio.Remote.
type Putter interface {
	ChunkedPut(ctx context.Context, url string, body []byte, chunked bool) (status int, etag string, err error)
	URL(uri string) string
}

// Clock supplies the current time components TransferID needs, abstracted
// so tests can make transfer ids deterministic.
type Clock interface {
	Now() (epochSecs int64, microseconds int64)
}

// Transfer drives one chunked upload of a local source file to a remote
// destination: split into blocks, PUT each in ring order starting from
// any previously recorded resume point,
// re-validating the source hasn't changed between blocks, and persisting
// progress after every block so a later run can resume.
type Transfer struct {
	Source  vio.Backend
	Remote  Putter
	Journal journal.Journal
	Clock   Clock

	// SourceURI is the source-side path used for re-stat checks.
	SourceURI string
	// DestURI is the destination URI the final (non-chunked) PUT targets.
	DestURI string
	// BlockSize overrides DefaultBlockSize when non-zero.
	BlockSize int64
	// Metrics, when set, records per-block outcomes.
	Metrics *metrics.Metrics
}

// Result is the outcome of a completed or partially completed transfer.
type Result struct {
	Blocks     []Block
	ETag       string
	TransferID uint64
}

// Run executes the transfer against the current contents of SourceURI,
// resuming from any progress previously recorded in the journal for this
// file's phash.
func (t *Transfer) Run(ctx context.Context, phash uint64, inode uint64) (*Result, error) {
	stat, err := t.Source.Stat(ctx, t.SourceURI)
	if err != nil {
		return nil, csyncerrors.Wrap(csyncerrors.Update, err, "statting source file")
	}

	blocks := Split(stat.Size, t.BlockSize)
	numBlocks := len(blocks)

	var transferID uint64
	startID := 0
	tmpFile := ""
	if prog, ok := t.Journal.Progress(phash); ok && prog.BlockCount == numBlocks {
		transferID = prog.TransferID
		startID = prog.StartID
		tmpFile = prog.TmpFile
	} else {
		epoch, micros := t.Clock.Now()
		transferID = TransferID(epoch, inode, micros)
	}
	if tmpFile == "" {
		token, err := identifier.New(identifier.PrefixTransfer)
		if err != nil {
			return nil, csyncerrors.Wrap(csyncerrors.Unspec, err, "generating transfer token")
		}
		tmpFile = token + ".ctmp"
	}

	handle, err := t.Source.Open(ctx, t.SourceURI, vio.OpenRead, 0)
	if err != nil {
		return nil, csyncerrors.Wrap(csyncerrors.Update, err, "opening source file")
	}
	defer handle.Close()

	var lastETag string
	for cnt := 0; cnt < numBlocks; cnt++ {
		idx := (cnt + startID) % numBlocks
		block := &blocks[idx]

		// The initial Stat already covers the first block; re-validate
		// the source between blocks after that.
		if cnt > 0 {
			if err := t.checkSourceUnchanged(ctx, stat); err != nil {
				return nil, err
			}
		}

		buf := make([]byte, block.Size)
		if block.Size > 0 {
			if _, err := io.ReadFull(&offsetReader{r: handle, off: block.Start}, buf); err != nil {
				return nil, csyncerrors.Wrap(csyncerrors.Update, err, "reading source block")
			}
		}

		url := URL(t.Remote.URL(t.DestURI), transferID, numBlocks, block.Seq)
		status, etag, err := t.Remote.ChunkedPut(ctx, url, buf, numBlocks > 1)
		etag = stripETagQuotes(etag)
		if err != nil {
			block.State = BlockFailed
			block.Err = err
			return nil, classifyTransportError(err)
		}
		block.HTTPCode = status
		if status < 200 || status >= 300 {
			block.State = BlockFailed
			block.Err = statusError(block.Seq, status)
			t.Metrics.ObserveUploadBlock("failed", 0)
			_ = t.Journal.SaveProgress(ctx, &journal.Progress{
				PHash:      phash,
				TransferID: transferID,
				BlockCount: numBlocks,
				StartID:    idx,
				TmpFile:    tmpFile,
			})
			return nil, block.Err
		}

		block.State = BlockSuccess
		block.ETag = etag
		t.Metrics.ObserveUploadBlock("success", block.Size)

		if err := t.Journal.SaveProgress(ctx, &journal.Progress{
			PHash:      phash,
			TransferID: transferID,
			BlockCount: numBlocks,
			StartID:    (idx + 1) % numBlocks,
			TmpFile:    tmpFile,
			ETag:       etag,
		}); err != nil {
			return nil, csyncerrors.Wrap(csyncerrors.StatedbWrite, err, "persisting transfer progress")
		}

		// A non-empty ETag means the server assembled the whole file; any
		// blocks not re-sent this run are already on the server.
		if etag != "" {
			lastETag = etag
			break
		}
	}

	// Re-validate once more after the final block before declaring
	// success.
	if err := t.checkSourceUnchanged(ctx, stat); err != nil {
		return nil, err
	}

	if err := t.Journal.ClearProgress(ctx, phash); err != nil {
		return nil, csyncerrors.Wrap(csyncerrors.StatedbWrite, err, "clearing transfer progress")
	}

	return &Result{Blocks: blocks, ETag: lastETag, TransferID: transferID}, nil
}

// checkSourceUnchanged re-stats the source file and aborts the transfer if
// its size or modification time moved since the transfer began.
func (t *Transfer) checkSourceUnchanged(ctx context.Context, original *vio.Stat) error {
	current, err := t.Source.Stat(ctx, t.SourceURI)
	if err != nil {
		return csyncerrors.Wrap(csyncerrors.Update, err, "re-statting source file")
	}
	if current.Size != original.Size || !current.ModTime.Equal(original.ModTime) {
		return csyncerrors.New(csyncerrors.SourceFileChange, "source file changed during transfer")
	}
	return nil
}

// offsetReader adapts a vio.Handle's ReaderAt to the io.Reader ReadFull
// needs for one block, without disturbing the handle's own read cursor.
type offsetReader struct {
	r   vio.Handle
	off int64
}

func (o *offsetReader) Read(p []byte) (int, error) {
	n, err := o.r.ReadAt(p, o.off)
	o.off += int64(n)
	if err != nil && err != io.EOF {
		return n, errors.Wrap(err, "reading block")
	}
	return n, err
}
