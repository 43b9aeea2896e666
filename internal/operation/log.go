package operation

import "github.com/roach88/crepo/internal/itempath"

// Entry is a queued operation with its creation sequence number.
type Entry struct {
	Seq int64
	Op  Operation
}

// Log is the ordered queue of pending operations for one session.
//
// Not safe for concurrent use; a Log belongs to exactly one session.
type Log struct {
	seq     int64
	entries []Entry
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append queues op and returns its entry.
func (l *Log) Append(op Operation) Entry {
	l.seq++
	e := Entry{Seq: l.seq, Op: op}
	l.entries = append(l.entries, e)
	return e
}

// Entries returns the queued entries in creation order. The returned slice
// is a copy.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of queued operations.
func (l *Log) Len() int {
	return len(l.entries)
}

// Clear discards all queued operations. Sequence numbers keep increasing.
func (l *Log) Clear() {
	l.entries = nil
}

// BackendPath maps a node path as the session currently sees it to the path
// the backend knows it by, undoing pending moves newest first.
//
// It reports false when the path does not exist in the backend yet or no
// longer does: the node (or an ancestor) was added, removed, or moved away
// by a pending operation.
func (l *Log) BackendPath(p string) (string, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		switch op := l.entries[i].Op.(type) {
		case MoveNode:
			if itempath.IsSelfOrDescendant(p, op.DstPath) {
				p, _ = itempath.Rebase(p, op.DstPath, op.SrcPath)
				continue
			}
			if itempath.IsSelfOrDescendant(p, op.SrcPath) {
				return "", false
			}
		case AddNode:
			if itempath.IsSelfOrDescendant(p, op.SrcPath) {
				return "", false
			}
		case RemoveNode:
			if itempath.IsSelfOrDescendant(p, op.SrcPath) {
				return "", false
			}
		}
	}
	return p, true
}

// CurrentPath follows p forward through the operations queued after seq and
// returns where that item lives now. It reports false when a later removal
// deleted it.
func (l *Log) CurrentPath(p string, seq int64) (string, bool) {
	for _, e := range l.entries {
		if e.Seq <= seq {
			continue
		}
		switch op := e.Op.(type) {
		case MoveNode:
			p, _ = itempath.Rebase(p, op.SrcPath, op.DstPath)
		case RemoveNode:
			if itempath.IsSelfOrDescendant(p, op.SrcPath) {
				return "", false
			}
		}
	}
	return p, true
}

// Touches reports whether any queued operation addresses p or its subtree.
func (l *Log) Touches(p string) bool {
	for _, e := range l.entries {
		if itempath.IsSelfOrDescendant(e.Op.Path(), p) {
			return true
		}
		if mv, ok := e.Op.(MoveNode); ok && itempath.IsSelfOrDescendant(mv.DstPath, p) {
			return true
		}
	}
	return false
}
