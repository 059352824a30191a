// Package stream defines the tagged Stream variant (list or invoke) and
// StreamTable, the per-link rid -> stream registry. Grounded on the C
// broker's Responder.open_streams map (original_source/sdk/include/
// dslink/dslink.h) and, for the Go map-keyed-registry idiom, on
// endpoint_stream_dispatcher.go's views map in the teacher.
package stream

import (
	"fmt"

	"github.com/dsabroker/broker/internal/hub"
	"github.com/dsabroker/broker/internal/link"
)

// Kind tags which variant a Stream is.
type Kind int

const (
	ListKind Kind = iota
	InvokeKind
)

// Stream is the tagged union of ListStream and InvokeStream. Table only
// needs to know a value's Kind to route responses correctly; the
// concrete fields live on the two variant types below.
type Stream interface {
	Kind() Kind
}

// ListStream ties a local rid to the shared Hub multiplexing one remote
// list-stream to every interested requester.
type ListStream struct {
	Path string
	Hub  *hub.Hub
}

func (*ListStream) Kind() Kind { return ListKind }

// InvokeStream represents one in-flight invocation and its (possibly
// multi-message) result.
type InvokeStream struct {
	RemoteRID     uint32
	RequesterLink *link.Link
	RequesterRID  uint32
	Open          bool
}

func (*InvokeStream) Kind() Kind { return InvokeKind }

// Table is the per-link rid -> Stream registry. It owns the Stream
// values it holds; Remove returns ownership to the caller so cascading
// cleanup (subscriber unregistration, requester notification) can run
// before the entry is discarded.
//
// Table is not safe for concurrent use — see the note on Hub in
// internal/hub for why: everything here runs on the single EventLoop
// thread.
type Table struct {
	byRID map[uint32]Stream
}

func NewTable() *Table {
	return &Table{byRID: make(map[uint32]Stream)}
}

// Insert adds a new stream under rid. It fails if rid is already
// present, preserving invariant 1 from the data model (at most one
// stream per rid per link).
func (t *Table) Insert(rid uint32, s Stream) error {
	if _, exists := t.byRID[rid]; exists {
		return fmt.Errorf("stream table: rid %d already in use", rid)
	}
	t.byRID[rid] = s
	return nil
}

func (t *Table) Get(rid uint32) (Stream, bool) {
	s, ok := t.byRID[rid]
	return s, ok
}

// Remove deletes and returns the stream at rid, or (nil, false) if absent.
func (t *Table) Remove(rid uint32) (Stream, bool) {
	s, ok := t.byRID[rid]
	if !ok {
		return nil, false
	}
	delete(t.byRID, rid)
	return s, true
}

// Len reports the number of live streams.
func (t *Table) Len() int {
	return len(t.byRID)
}

// Iter calls fn for every (rid, stream) pair. fn must not mutate the
// table; collect rids to remove and call Remove afterward instead.
func (t *Table) Iter(fn func(rid uint32, s Stream)) {
	for rid, s := range t.byRID {
		fn(rid, s)
	}
}

// Rids returns a snapshot of the current keys, safe to range over while
// mutating the table (e.g. during teardown).
func (t *Table) Rids() []uint32 {
	out := make([]uint32, 0, len(t.byRID))
	for rid := range t.byRID {
		out = append(out, rid)
	}
	return out
}
