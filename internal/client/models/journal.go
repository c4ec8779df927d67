package models

// Operation is the kind of a pending local mutation.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// JournalEntry records one coalesced pending mutation for an entity. The
// journal holds at most one entry per entity id; repeated edits collapse
// into the entry representing the latest state.
type JournalEntry struct {
	EntityID string
	Op       Operation
	Stamp    Stamp
}

// CoalesceOp folds a new operation into an existing pending one and reports
// the surviving op. ok=false means the pending entry should be removed
// entirely: a create followed by a delete never leaves the device.
func CoalesceOp(existing, next Operation) (op Operation, ok bool) {
	switch existing {
	case "":
		return next, true
	case OpCreate:
		if next == OpDelete {
			return "", false
		}
		return OpCreate, true
	case OpDelete:
		// Tombstones stick locally too; later edits cannot resurrect.
		return OpDelete, true
	default: // OpUpdate
		if next == OpDelete {
			return OpDelete, true
		}
		return OpUpdate, true
	}
}
