package protocol

import (
	"strconv"
	"time"

	"google.golang.org/protobuf/reflect/protoreflect"
)

// PendingRequest is what a Request leaves behind for its Response.
type PendingRequest struct {
	Method    string
	Response  protoreflect.MessageDescriptor
	CreatedAt time.Time
}

// PendingTable correlates request ids with the response type expected for
// them. It has no capacity bound and never expires entries on its own; use
// EvictOlderThan or Remove to drop requests that will never be answered.
// It is not safe for concurrent use.
type PendingTable struct {
	entries map[uint16]PendingRequest
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[uint16]PendingRequest)}
}

// Insert records entry under id, replacing any previous entry.
func (t *PendingTable) Insert(id uint16, entry PendingRequest) {
	t.entries[id] = entry
}

// Take removes and returns the entry for id.
func (t *PendingTable) Take(id uint16) (PendingRequest, error) {
	entry, ok := t.entries[id]
	if !ok {
		return PendingRequest{}, &NotFoundError{Kind: KindRequest, Name: strconv.Itoa(int(id))}
	}
	delete(t.entries, id)
	return entry, nil
}

// Remove drops the entry for id and reports whether it existed.
func (t *PendingTable) Remove(id uint16) bool {
	_, ok := t.entries[id]
	delete(t.entries, id)
	return ok
}

// EvictOlderThan drops entries created before cutoff and returns how many
// were removed.
func (t *PendingTable) EvictOlderThan(cutoff time.Time) int {
	removed := 0
	for id, entry := range t.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of outstanding requests.
func (t *PendingTable) Len() int {
	return len(t.entries)
}
