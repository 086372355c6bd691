package node

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
)

// ErrSubscriptionClosed is returned by Next after Close or node shutdown.
var ErrSubscriptionClosed = errors.New("subscription closed")

const subscriptionBatch = 256

// Subscription is a lazy, live view of the accepted events matching a filter,
// in local acceptance order. It reads the log from the store, so a slow reader
// never holds events in memory and a reader that stops can resume later from
// its cursor.
type Subscription struct {
	ID string

	filter store.Query
	store  store.Store
	cursor uint64
	buf    []*store.Record

	wake   chan struct{}
	closed chan struct{}
	once   sync.Once
	hub    *hub
}

// Next returns the next matching event, waiting for one to be accepted if
// the log is exhausted.
func (s *Subscription) Next(ctx context.Context) (*event.Event, error) {
	for {
		for len(s.buf) > 0 {
			rec := s.buf[0]
			s.buf = s.buf[1:]
			s.cursor = rec.Seq

			ev, err := rec.Event()
			if err != nil {
				return nil, err
			}
			if s.filter.Match(ev) {
				return ev, nil
			}
		}

		select {
		case <-s.closed:
			return nil, ErrSubscriptionClosed
		default:
		}

		recs, err := s.store.Since(s.cursor, subscriptionBatch)
		if err != nil {
			return nil, err
		}
		if len(recs) > 0 {
			s.buf = recs
			continue
		}

		select {
		case <-s.wake:
		case <-s.closed:
			return nil, ErrSubscriptionClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Cursor returns the position of the last examined event. Subscribing again
// from it resumes right after that event.
func (s *Subscription) Cursor() uint64 {
	return s.cursor
}

// Close ...
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.closed)
		s.hub.remove(s.ID)
	})
}

func (s *Subscription) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// hub wakes the subscriptions when events are accepted.
type hub struct {
	lock sync.Mutex
	subs map[string]*Subscription
}

func newHub() *hub {
	return &hub{subs: make(map[string]*Subscription)}
}

func (h *hub) subscribe(s store.Store, filter store.Query, cursor uint64) *Subscription {
	sub := &Subscription{
		ID:     uuid.New().String(),
		filter: filter,
		store:  s,
		cursor: cursor,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		hub:    h,
	}

	h.lock.Lock()
	h.subs[sub.ID] = sub
	h.lock.Unlock()

	return sub
}

func (h *hub) remove(id string) {
	h.lock.Lock()
	delete(h.subs, id)
	h.lock.Unlock()
}

func (h *hub) notify(*event.Event) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for _, s := range h.subs {
		s.notify()
	}
}

func (h *hub) len() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subs)
}

func (h *hub) closeAll() {
	h.lock.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.lock.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
