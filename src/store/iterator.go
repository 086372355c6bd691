package store

import "github.com/mosaicnetworks/weave/src/event"

const defaultBatchSize = 64

type pager interface {
	Query(Query, string, int) (*Page, error)
}

// Iterator is a lazy, order-stable sequence of query results. It fetches
// events in batches, each in its own short read transaction, so holding an
// Iterator never blocks writers.
//
//	it := s.Iterate(q, "")
//	for it.Next() {
//		ev := it.Event()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	src       pager
	query     Query
	batchSize int

	batch   []*event.Event
	cursors []string
	pos     int
	next    string
	done    bool

	current *event.Event
	cursor  string
	err     error
}

// NewIterator ...
func NewIterator(src pager, q Query, cursor string, batchSize int) *Iterator {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Iterator{
		src:       src,
		query:     q,
		batchSize: batchSize,
		next:      cursor,
		cursor:    cursor,
		pos:       -1,
	}
}

// Next advances to the next event. It returns false at the end of the
// sequence or on error.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}

	it.pos++

	for it.pos >= len(it.batch) {
		if it.done {
			return false
		}

		page, err := it.src.Query(it.query, it.next, it.batchSize)
		if err != nil {
			it.err = err
			return false
		}

		it.batch = page.Events
		it.cursors = page.Cursors
		it.pos = 0
		it.next = page.Cursor
		it.done = page.Cursor == ""
	}

	it.current = it.batch[it.pos]
	it.cursor = it.cursors[it.pos]

	return true
}

// Event returns the current event.
func (it *Iterator) Event() *event.Event {
	return it.current
}

// Cursor returns a cursor that restarts the sequence right after the current
// event.
func (it *Iterator) Cursor() string {
	return it.cursor
}

// Err returns the error that stopped the iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}
