package journal

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/opendataspace/csyncgo/pkg/synchronization/core"
)

// SQLite is a single-file embedded journal implementation: a local
// SQL store holding the metadata and progress tables, with a snapshot of
// the live metadata rows held in memory for O(1) phash/inode lookups
// during a cycle.
type SQLite struct {
	path string

	mu      sync.RWMutex
	db      *sql.DB
	byHash  map[uint64]*core.Record
	byInode map[uint64]*core.Record
	prog    map[uint64]*Progress
}

// Open opens (creating if necessary) the journal file at path. A missing
// file and a metadata table with zero rows both mean "treat everything as
// NEW".
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening journal failed")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating journal schema failed")
	}

	j := &SQLite{
		path:    path,
		db:      db,
		byHash:  make(map[uint64]*core.Record),
		byInode: make(map[uint64]*core.Record),
		prog:    make(map[uint64]*Progress),
	}
	if err := j.load(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *SQLite) load() error {
	rows, err := j.db.Query(`SELECT phash, path, pathlen, inode, uid, gid, mode, modtime, size, type, md5 FROM metadata`)
	if err != nil {
		return errors.Wrap(err, "reading journal metadata failed")
	}
	defer rows.Close()

	for rows.Next() {
		var r core.Record
		var pathlen int
		var kind int
		if err := rows.Scan(&r.PHash, &r.Path, &pathlen, &r.Inode, &r.UID, &r.GID, &r.Mode, &r.ModTime, &r.Size, &kind, &r.MD5); err != nil {
			return errors.Wrap(err, "scanning journal row failed")
		}
		r.Type = core.Kind(kind)
		j.byHash[r.PHash] = &r
		if r.Inode != 0 {
			j.byInode[r.Inode] = &r
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterating journal rows failed")
	}

	progRows, err := j.db.Query(`SELECT phash, transfer_id, block_count, start_id, tmpfile, etag FROM progress`)
	if err != nil {
		return errors.Wrap(err, "reading journal progress failed")
	}
	defer progRows.Close()
	for progRows.Next() {
		var p Progress
		if err := progRows.Scan(&p.PHash, &p.TransferID, &p.BlockCount, &p.StartID, &p.TmpFile, &p.ETag); err != nil {
			return errors.Wrap(err, "scanning progress row failed")
		}
		j.prog[p.PHash] = &p
	}
	return progRows.Err()
}

// Empty reports whether the metadata table has zero rows.
func (j *SQLite) Empty() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.byHash) == 0
}

// ByHash looks up a persisted record by phash.
func (j *SQLite) ByHash(phash uint64) (*core.Record, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	r, ok := j.byHash[phash]
	return r, ok
}

// ByInode looks up a persisted record by inode.
func (j *SQLite) ByInode(inode uint64) (*core.Record, bool) {
	if inode == 0 {
		return nil, false
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	r, ok := j.byInode[inode]
	return r, ok
}

// Progress returns resumable-transfer state for phash.
func (j *SQLite) Progress(phash uint64) (*Progress, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	p, ok := j.prog[phash]
	return p, ok
}

// SaveProgress persists resumable-transfer state immediately (not deferred
// to commit), since a crash mid-transfer must still be resumable from the
// progress table.
func (j *SQLite) SaveProgress(ctx context.Context, p *Progress) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO progress(phash, transfer_id, block_count, start_id, tmpfile, etag)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phash) DO UPDATE SET
			transfer_id=excluded.transfer_id,
			block_count=excluded.block_count,
			start_id=excluded.start_id,
			tmpfile=excluded.tmpfile,
			etag=excluded.etag
	`, p.PHash, p.TransferID, p.BlockCount, p.StartID, p.TmpFile, p.ETag)
	if err != nil {
		return errors.Wrap(err, "saving transfer progress failed")
	}
	j.prog[p.PHash] = p
	return nil
}

// ClearProgress removes resumable-transfer state for phash.
func (j *SQLite) ClearProgress(ctx context.Context, phash uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.db.ExecContext(ctx, `DELETE FROM progress WHERE phash = ?`, phash); err != nil {
		return errors.Wrap(err, "clearing transfer progress failed")
	}
	delete(j.prog, phash)
	return nil
}

// Merge writes the commit-time merged tree to a temporary sibling file and
// atomically renames it over the live journal, so a crash mid-write
// leaves the prior journal intact. Progress rows survive the merge
// unchanged, since resumable transfers are independent of the metadata
// snapshot.
func (j *SQLite) Merge(ctx context.Context, records []*core.Record) error {
	tmpPath := j.path + ".ctmp"
	os.Remove(tmpPath)

	tmpDB, err := sql.Open("sqlite3", tmpPath)
	if err != nil {
		return errors.Wrap(err, "opening temporary journal failed")
	}
	if _, err := tmpDB.ExecContext(ctx, schemaSQL); err != nil {
		tmpDB.Close()
		return errors.Wrap(err, "creating temporary journal schema failed")
	}

	tx, err := tmpDB.BeginTx(ctx, nil)
	if err != nil {
		tmpDB.Close()
		return errors.Wrap(err, "beginning journal merge transaction failed")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metadata(phash, path, pathlen, inode, uid, gid, mode, modtime, size, type, md5)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		tmpDB.Close()
		return errors.Wrap(err, "preparing journal insert failed")
	}
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.PHash, r.Path, r.PathLen(), r.Inode, r.UID, r.GID, r.Mode, r.ModTime, r.Size, int(r.Type), r.MD5); err != nil {
			stmt.Close()
			tx.Rollback()
			tmpDB.Close()
			return errors.Wrap(err, "writing journal record failed")
		}
	}
	stmt.Close()

	j.mu.RLock()
	for _, p := range j.prog {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO progress(phash, transfer_id, block_count, start_id, tmpfile, etag)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.PHash, p.TransferID, p.BlockCount, p.StartID, p.TmpFile, p.ETag); err != nil {
			j.mu.RUnlock()
			tx.Rollback()
			tmpDB.Close()
			return errors.Wrap(err, "writing journal progress failed")
		}
	}
	j.mu.RUnlock()

	if err := tx.Commit(); err != nil {
		tmpDB.Close()
		return errors.Wrap(err, "committing journal merge failed")
	}
	if err := tmpDB.Close(); err != nil {
		return errors.Wrap(err, "closing temporary journal failed")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.db.Close(); err != nil {
		return errors.Wrap(err, "closing live journal before replace failed")
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return errors.Wrap(err, "replacing live journal failed")
	}

	db, err := sql.Open("sqlite3", j.path)
	if err != nil {
		return errors.Wrap(err, "reopening journal after merge failed")
	}
	j.db = db
	j.byHash = make(map[uint64]*core.Record, len(records))
	j.byInode = make(map[uint64]*core.Record, len(records))
	for _, r := range records {
		c := r.Copy()
		j.byHash[c.PHash] = c
		if c.Inode != 0 {
			j.byInode[c.Inode] = c
		}
	}
	return nil
}

// Close releases the underlying SQL handle.
func (j *SQLite) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// DefaultFileName is the journal's filename within a local replica root.
const DefaultFileName = ".csync_journal.db"

// PathFor joins a replica root with the default journal filename.
func PathFor(replicaRoot string) string {
	return filepath.Join(replicaRoot, DefaultFileName)
}
