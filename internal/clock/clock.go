package clock

import (
	"fmt"
)

// MonotonicID is a (counter, node index) pair.
type MonotonicID struct {
	Counter int64
	NodeID  int64
}

// Empty returns the identifier that orders before every generated one.
func Empty() MonotonicID {
	return MonotonicID{Counter: -1, NodeID: -1}
}

// New creates an identifier for the given counter and node index.
func New(counter, nodeID int64) MonotonicID {
	return MonotonicID{Counter: counter, NodeID: nodeID}
}

// IsEmpty reports whether id is the Empty identifier.
func (id MonotonicID) IsEmpty() bool {
	return id.Counter < 0
}

// Compare returns -1, 0 or +1 as id orders before, equal to or after other.
// Empty identifiers order before everything else and equal each other.
func (id MonotonicID) Compare(other MonotonicID) int {
	switch {
	case id.IsEmpty() && other.IsEmpty():
		return 0
	case id.IsEmpty():
		return -1
	case other.IsEmpty():
		return 1
	}

	if id.Counter != other.Counter {
		if id.Counter < other.Counter {
			return -1
		}
		return 1
	}
	if id.NodeID != other.NodeID {
		if id.NodeID < other.NodeID {
			return -1
		}
		return 1
	}
	return 0
}

// IsAfter reports whether id orders strictly after other.
// An Empty identifier is never after anything.
func (id MonotonicID) IsAfter(other MonotonicID) bool {
	return id.Compare(other) > 0
}

// IsBefore reports whether id orders strictly before other.
func (id MonotonicID) IsBefore(other MonotonicID) bool {
	return id.Compare(other) < 0
}

// Equal reports whether both identifiers are the same.
func (id MonotonicID) Equal(other MonotonicID) bool {
	return id.Compare(other) == 0
}

// Next returns an identifier for nodeID whose counter is one past id's.
// Next of Empty starts the counter at 1.
func (id MonotonicID) Next(nodeID int64) MonotonicID {
	if id.IsEmpty() {
		return MonotonicID{Counter: 1, NodeID: nodeID}
	}
	return MonotonicID{Counter: id.Counter + 1, NodeID: nodeID}
}

// String returns a string representation of the identifier.
func (id MonotonicID) String() string {
	if id.IsEmpty() {
		return "(empty)"
	}
	return fmt.Sprintf("(%d,%d)", id.Counter, id.NodeID)
}

// Max returns the greatest of ids, or Empty if ids is empty.
func Max(ids ...MonotonicID) MonotonicID {
	max := Empty()
	for _, id := range ids {
		if id.IsAfter(max) {
			max = id
		}
	}
	return max
}
