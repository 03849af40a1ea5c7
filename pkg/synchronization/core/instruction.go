package core

// Instruction is a tagged enum describing what the propagator should do
// with a Record. Values are individual bits so that a set of
// instructions can be expressed as a bitmask filter for the tree-walk
// visitor.
type Instruction uint16

const (
	// InstructionNone indicates no action: the record is unchanged and
	// already in agreement between replicas.
	InstructionNone Instruction = 1 << iota
	// InstructionEval indicates the record changed relative to the journal
	// and awaits a reconciliation decision.
	InstructionEval
	// InstructionRemove indicates the record disappeared on the opposite
	// replica and should be removed here.
	InstructionRemove
	// InstructionRename indicates the record should be (or was) renamed;
	// Record.DestPath carries the target path.
	InstructionRename
	// InstructionNew indicates the record has no journal entry and should
	// be created on the opposite replica.
	InstructionNew
	// InstructionSync indicates the record's content should overwrite the
	// opposite replica's content.
	InstructionSync
	// InstructionConflict indicates both replicas changed the same path;
	// a conflict copy should be made before overwriting.
	InstructionConflict
	// InstructionIgnore indicates the record is excluded from
	// synchronization.
	InstructionIgnore
	// InstructionError indicates propagation failed for this record;
	// Record.ErrorString carries the diagnostic.
	InstructionError
	// InstructionDeleted indicates the propagator successfully deleted the
	// target.
	InstructionDeleted
	// InstructionUpdated indicates the propagator successfully wrote new
	// content or metadata to the target.
	InstructionUpdated
)

// String renders the Instruction for logs and diagnostics.
func (i Instruction) String() string {
	switch i {
	case InstructionNone:
		return "NONE"
	case InstructionEval:
		return "EVAL"
	case InstructionRemove:
		return "REMOVE"
	case InstructionRename:
		return "RENAME"
	case InstructionNew:
		return "NEW"
	case InstructionSync:
		return "SYNC"
	case InstructionConflict:
		return "CONFLICT"
	case InstructionIgnore:
		return "IGNORE"
	case InstructionError:
		return "ERROR"
	case InstructionDeleted:
		return "DELETED"
	case InstructionUpdated:
		return "UPDATED"
	default:
		return "UNKNOWN"
	}
}

// InstructionSet is a bitmask of Instruction values, used to filter a
// tree-walk visitor.
type InstructionSet Instruction

// AllInstructions matches every instruction (an unfiltered walk).
const AllInstructions InstructionSet = 0

// Matches reports whether i is included in the set. A zero-value set
// matches everything.
func (s InstructionSet) Matches(i Instruction) bool {
	if s == 0 {
		return true
	}
	return Instruction(s)&i != 0
}

// With returns a new InstructionSet including the given instructions.
func With(instructions ...Instruction) InstructionSet {
	var s InstructionSet
	for _, i := range instructions {
		s |= InstructionSet(i)
	}
	return s
}
