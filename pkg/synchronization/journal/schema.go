package journal

const schemaSQL = `
CREATE TABLE IF NOT EXISTS metadata (
	phash        INTEGER PRIMARY KEY,
	path         TEXT NOT NULL,
	pathlen      INTEGER NOT NULL,
	inode        INTEGER NOT NULL,
	uid          INTEGER NOT NULL,
	gid          INTEGER NOT NULL,
	mode         INTEGER NOT NULL,
	modtime      INTEGER NOT NULL,
	size         INTEGER NOT NULL,
	type         INTEGER NOT NULL,
	md5          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS metadata_inode_idx ON metadata(inode);

CREATE TABLE IF NOT EXISTS progress (
	phash         INTEGER PRIMARY KEY,
	transfer_id   INTEGER NOT NULL,
	block_count   INTEGER NOT NULL,
	start_id      INTEGER NOT NULL,
	tmpfile       TEXT NOT NULL,
	etag          TEXT NOT NULL
);
`
