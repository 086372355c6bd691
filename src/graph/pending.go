package graph

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mosaicnetworks/weave/src/event"
)

type pendingEntry struct {
	ev      *event.Event
	missing map[string]bool
	source  string
	added   time.Time
}

// Pending buffers events whose parents are not all known yet, keyed by the
// missing ids. It is bounded in size, the least recently touched entry being
// evicted first, and entries older than the TTL are dropped by Expire.
type Pending struct {
	lock    sync.Mutex
	entries *lru.Cache
	waiting map[string]map[string]bool // missing id => ids of waiting children
	ttl     time.Duration
	evicted int
}

// NewPending ...
func NewPending(size int, ttl time.Duration) (*Pending, error) {
	p := &Pending{
		waiting: make(map[string]map[string]bool),
		ttl:     ttl,
	}

	// The eviction callback runs inside Add and Remove, which are only called
	// with p.lock held.
	cache, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
		p.forget(key.(string), value.(*pendingEntry))
	})
	if err != nil {
		return nil, err
	}
	p.entries = cache

	return p, nil
}

// Add buffers ev until every id in missing is released. It returns false if
// the event was already buffered, in which case its missing set is refreshed.
func (p *Pending) Add(ev *event.Event, missing []string, source string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	fresh := true
	if old, ok := p.entries.Peek(ev.ID); ok {
		fresh = false
		p.entries.Remove(ev.ID)
		ev = old.(*pendingEntry).ev
	}

	entry := &pendingEntry{
		ev:      ev,
		missing: make(map[string]bool, len(missing)),
		source:  source,
		added:   time.Now(),
	}

	for _, m := range missing {
		entry.missing[m] = true
		children, ok := p.waiting[m]
		if !ok {
			children = make(map[string]bool)
			p.waiting[m] = children
		}
		children[ev.ID] = true
	}

	if p.entries.Add(ev.ID, entry) {
		p.evicted++
	}

	return fresh
}

// Release marks id as known and returns the children that no longer miss
// anything, removed from the buffer and ordered by author then nonce.
func (p *Pending) Release(id string) []*event.Event {
	p.lock.Lock()
	defer p.lock.Unlock()

	children, ok := p.waiting[id]
	if !ok {
		return nil
	}
	delete(p.waiting, id)

	var res []*event.Event
	for child := range children {
		v, ok := p.entries.Peek(child)
		if !ok {
			continue
		}
		entry := v.(*pendingEntry)
		delete(entry.missing, id)
		if len(entry.missing) == 0 {
			p.entries.Remove(child)
			res = append(res, entry.ev)
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].Author != res[j].Author {
			return res[i].Author < res[j].Author
		}
		if res[i].Nonce != res[j].Nonce {
			return res[i].Nonce < res[j].Nonce
		}
		return res[i].ID < res[j].ID
	})

	return res
}

// Expire drops the entries older than the TTL and returns them.
func (p *Pending) Expire(now time.Time) []*event.Event {
	p.lock.Lock()
	defer p.lock.Unlock()

	var res []*event.Event
	for _, k := range p.entries.Keys() {
		v, ok := p.entries.Peek(k)
		if !ok {
			continue
		}
		entry := v.(*pendingEntry)
		if now.Sub(entry.added) >= p.ttl {
			p.entries.Remove(k)
			res = append(res, entry.ev)
		}
	}

	return res
}

// Has reports whether the event is buffered.
func (p *Pending) Has(id string) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.entries.Contains(id)
}

// Missing returns the ids some buffered event is waiting for, excluding ids
// that are themselves buffered.
func (p *Pending) Missing() []string {
	p.lock.Lock()
	defer p.lock.Unlock()

	res := []string{}
	for id := range p.waiting {
		if !p.entries.Contains(id) {
			res = append(res, id)
		}
	}
	sort.Strings(res)
	return res
}

// Sources returns, for each missing id, a peer that delivered a child waiting
// for it.
func (p *Pending) Sources() map[string]string {
	p.lock.Lock()
	defer p.lock.Unlock()

	res := make(map[string]string)
	for id, children := range p.waiting {
		for child := range children {
			if v, ok := p.entries.Peek(child); ok && v.(*pendingEntry).source != "" {
				res[id] = v.(*pendingEntry).source
				break
			}
		}
	}
	return res
}

// Len ...
func (p *Pending) Len() int {
	return p.entries.Len()
}

// Evicted returns the number of entries dropped because the buffer was full.
func (p *Pending) Evicted() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.evicted
}

func (p *Pending) forget(id string, entry *pendingEntry) {
	for m := range entry.missing {
		if children, ok := p.waiting[m]; ok {
			delete(children, id)
			if len(children) == 0 {
				delete(p.waiting, m)
			}
		}
	}
}
