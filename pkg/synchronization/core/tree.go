package core

import "sort"

// Tree is an ordered mapping from phash to Record for one replica. Go
// maps have no iteration order, so Tree keeps the
// phash-indexed map for O(1) lookup alongside a secondary inode index (used
// only for local-replica rename detection) and produces phash-ascending
// slices on demand for any code that needs tree-order iteration.
type Tree struct {
	byHash  map[uint64]*Record
	byInode map[uint64]*Record
}

// NewTree creates an empty Tree.
func NewTree() *Tree {
	return &Tree{
		byHash:  make(map[uint64]*Record),
		byInode: make(map[uint64]*Record),
	}
}

// Insert adds or replaces a record in the tree, indexing it by phash and
// (if non-zero) by inode. Within a single tree, PHash must be unique;
// Insert enforces this by panicking on a colliding PHash that maps to a
// different path, a hard bug rather than a recoverable condition.
func (t *Tree) Insert(r *Record) {
	if existing, ok := t.byHash[r.PHash]; ok && existing.Path != r.Path {
		panic("phash collision between distinct paths: " + existing.Path + " vs " + r.Path)
	}
	t.byHash[r.PHash] = r
	if r.Inode != 0 {
		t.byInode[r.Inode] = r
	}
}

// Delete removes a record from the tree by phash.
func (t *Tree) Delete(phash uint64) {
	if r, ok := t.byHash[phash]; ok {
		if existing := t.byInode[r.Inode]; existing == r {
			delete(t.byInode, r.Inode)
		}
		delete(t.byHash, phash)
	}
}

// ByHash looks up a record by its path hash.
func (t *Tree) ByHash(phash uint64) (*Record, bool) {
	r, ok := t.byHash[phash]
	return r, ok
}

// ByPath looks up a record by path, hashing it first.
func (t *Tree) ByPath(path string) (*Record, bool) {
	return t.ByHash(PathHash(path))
}

// ByInode looks up a record by inode. Only meaningful for local-replica
// trees, where inode values are genuine filesystem identities.
func (t *Tree) ByInode(inode uint64) (*Record, bool) {
	if inode == 0 {
		return nil, false
	}
	r, ok := t.byInode[inode]
	return r, ok
}

// Len reports the number of records in the tree.
func (t *Tree) Len() int {
	return len(t.byHash)
}

// Records returns every record in the tree ordered by ascending phash
// (unsigned numeric), the order the updater and reconciler iterate in.
func (t *Tree) Records() []*Record {
	records := make([]*Record, 0, len(t.byHash))
	for _, r := range t.byHash {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].PHash < records[j].PHash
	})
	return records
}

// RecordsByPath returns every record ordered ascending by path, the order
// the propagator uses for directory-before-contents creation.
func (t *Tree) RecordsByPath() []*Record {
	records := make([]*Record, 0, len(t.byHash))
	for _, r := range t.byHash {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Path < records[j].Path
	})
	return records
}

// RecordsByPathDescending returns every record ordered descending by path,
// the order the propagator uses for deletions (children removed before
// their parent directory).
func (t *Tree) RecordsByPathDescending() []*Record {
	records := t.RecordsByPath()
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}
