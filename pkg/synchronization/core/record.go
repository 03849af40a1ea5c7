package core

// Record is the per-entry, per-replica file record: everything one
// synchronization cycle knows about a single path on one side.
type Record struct {
	// PHash is the 64-bit hash of Path, used as the primary key both in
	// the in-memory Tree and in the journal's metadata table.
	PHash uint64
	// Path is the UTF-8 relative path from the replica root, forward-slash
	// separated, with no trailing slash.
	Path string
	// Inode is the file-identity value from the underlying replica, used
	// for rename detection. Only meaningful on the local replica.
	Inode uint64
	// UID, GID, and Mode are POSIX-style ownership/permission bits,
	// preserved only when the replica's unix_extensions capability is
	// enabled.
	UID, GID uint32
	Mode     uint32
	// ModTime is the modification time in whole seconds (remote replicas
	// may round to whole seconds).
	ModTime int64
	// Size is the byte length of the content.
	Size int64
	// Type classifies the entry.
	Type Kind
	// MD5 is a content fingerprint: a remote ETag or a locally computed
	// digest.
	MD5 string
	// Instruction is the propagation instruction computed for this record
	// during the current cycle.
	Instruction Instruction
	// DestPath is the rename target path, set when Instruction is
	// InstructionRename.
	DestPath string
	// ErrorString is an optional diagnostic set by the propagator when
	// Instruction is InstructionError.
	ErrorString string
}

// PathLen returns the byte length of Path, persisted alongside it in the
// journal.
func (r *Record) PathLen() int {
	return len(r.Path)
}

// Copy returns a deep copy of the record (Record has no reference fields
// requiring special handling beyond the struct itself, but Copy exists so
// that callers never accidentally alias records across trees).
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// EqualContent reports whether two records represent equal content for
// the purposes of the reconciler's "files are considered equal" fast
// path: matching size and modtime, tolerating up to AcceptedTimeDiff of
// clock skew.
func EqualContent(a, b *Record) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Size != b.Size {
		return false
	}
	diff := a.ModTime - b.ModTime
	if diff < 0 {
		diff = -diff
	}
	return diff <= AcceptedTimeDiff
}

// AcceptedTimeDiff is the maximum absolute modtime difference (in
// seconds) that the reconciler treats as "the same time", absorbing the
// clock skew two independent replicas accumulate between cycles.
const AcceptedTimeDiff = 5
