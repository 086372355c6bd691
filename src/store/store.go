package store

import (
	"github.com/mosaicnetworks/weave/src/event"
)

// Store is the durable, content-addressed persistence of a node. Events are
// written once with all their indices in a single transaction; existing
// entries are never mutated, so reads are safe concurrently with writes.
type Store interface {
	// PutEvent stores an admitted event (Lamport set) and its indices. It
	// returns false if the event was already present.
	PutEvent(*event.Event) (bool, error)
	GetEvent(string) (*event.Event, error)
	GetRecord(string) (*Record, error)
	HasEvent(string) (bool, error)
	LastNonce(string) (uint64, error)
	Heads(string) ([]string, error)
	Authors() ([]string, error)
	LastSeq() uint64

	Query(Query, string, int) (*Page, error)
	Iterate(Query, string) *Iterator
	Since(uint64, int) ([]*Record, error)

	PutBlob(string, []byte) error
	GetBlob(string) ([]byte, error)
	HasBlob(string) (bool, error)
	DeleteBlob(string) error
	Blobs() ([]string, error)

	PutFragment(string, []byte) error
	GetFragment(string) ([]byte, error)
	HasFragment(string) (bool, error)
	DeleteFragment(string) error
	Fragments() ([]string, error)

	AddHolder(string, string, []int) error
	RemoveHolder(string, string) error
	Holders(string) (map[string]*Holder, error)

	Pin(string) error
	Unpin(string) error
	IsPinned(string) (bool, error)

	PutSnapshot(uint64, []byte) error
	LastSnapshot() (uint64, []byte, error)

	UsedBytes() uint64
	Quota() uint64
	Close() error
}

// Record is the stored form of an event.
type Record struct {
	Envelope []byte // JSON wire envelope
	Lamport  uint64
	Seq      uint64 // insertion order, local to this node
	Received int64  // unix millis
}

// Event decodes the envelope and restores the derived Lamport value.
func (r *Record) Event() (*event.Event, error) {
	ev, err := event.Unmarshal(r.Envelope)
	if err != nil {
		return nil, err
	}
	ev.Lamport = r.Lamport
	return ev, nil
}

// Holder is an entry of the availability table: a peer known to hold some
// fragments of a manifest.
type Holder struct {
	Peer      string
	Fragments []int
	Seen      int64 // unix millis of the last announcement or proof
}

// Has reports whether the holder announced fragment i.
func (h *Holder) Has(i int) bool {
	for _, f := range h.Fragments {
		if f == i {
			return true
		}
	}
	return false
}

// Query selects events through the secondary indices. Zero fields do not
// filter. When several filters are set, the most selective index (Ref, then
// Author, then Type, then time) drives the scan and the others are applied to
// its results.
type Query struct {
	Author string
	Type   string
	Ref    string
	// From and To bound the timestamp, in unix millis, inclusive. To == 0 is
	// unbounded.
	From int64
	To   int64
}

// Match reports whether an event satisfies every filter of the query.
func (q Query) Match(ev *event.Event) bool {
	if q.Author != "" && ev.Author != q.Author {
		return false
	}
	if q.Type != "" && ev.Type != q.Type {
		return false
	}
	if q.From != 0 && ev.Timestamp < q.From {
		return false
	}
	if q.To != 0 && ev.Timestamp > q.To {
		return false
	}
	if q.Ref != "" {
		found := false
		for _, r := range ev.References() {
			if r == q.Ref {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Page is one page of query results. Cursor resumes the query after the last
// examined index entry; it is empty when the scan is exhausted. Cursors[i]
// resumes right after Events[i].
type Page struct {
	Events  []*event.Event
	Cursors []string
	Cursor  string
}
