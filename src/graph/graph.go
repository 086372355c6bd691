// Package graph maintains the causal structure of the event log: lamport
// values, per-author heads, and the buffer of events waiting for parents.
//
// Parent links are plain ids resolved through the store, so the in-memory
// graph holds no pointers between events.
package graph

import (
	"fmt"
	"sort"
	"time"

	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
)

// Graph is the causal graph engine.
type Graph struct {
	store   store.Store
	pending *Pending
	logger  *logrus.Entry
}

// NewGraph ...
func NewGraph(s store.Store, pendingSize int, pendingTTL time.Duration, logger *logrus.Entry) (*Graph, error) {
	pending, err := NewPending(pendingSize, pendingTTL)
	if err != nil {
		return nil, err
	}

	return &Graph{
		store:   s,
		pending: pending,
		logger:  logger.WithField("prefix", "graph"),
	}, nil
}

// Admit assigns the lamport value of a validated event, stores it, and returns
// the pending children it releases. Released children have not been validated
// or admitted yet. Admitting a known event is a no-op returning
// DuplicateEvent.
func (g *Graph) Admit(ev *event.Event) ([]*event.Event, error) {
	lamport, err := g.lamport(ev)
	if err != nil {
		return nil, err
	}
	ev.Lamport = lamport

	isNew, err := g.store.PutEvent(ev)
	if err != nil {
		return nil, err
	}
	if !isNew {
		return nil, cm.NewRejectionErr(cm.DuplicateEvent, ev.ID, "")
	}

	g.logger.WithFields(logrus.Fields{
		"id":      ev.ID,
		"type":    ev.Type,
		"lamport": ev.Lamport,
	}).Debug("Admitted event")

	return g.pending.Release(ev.ID), nil
}

// lamport computes 1 + max(lamport(p)) over the parents, or 0 for a genesis
// event. Parents must already be stored, so the only cycle left to rule out is
// an event listing itself.
func (g *Graph) lamport(ev *event.Event) (uint64, error) {
	if ev.IsGenesis() {
		return 0, nil
	}

	var (
		max     uint64
		missing []string
	)

	for _, p := range ev.Prev {
		if p == ev.ID {
			return 0, cm.NewRejectionErr(cm.SchemaInvalid, ev.ID, "event references itself")
		}
		parent, err := g.store.GetEvent(p)
		if cm.IsStore(err, cm.KeyNotFound) {
			missing = append(missing, p)
			continue
		}
		if err != nil {
			return 0, err
		}
		if parent.Lamport >= max {
			max = parent.Lamport
		}
	}

	if len(missing) > 0 {
		return 0, cm.NewParentMissingErr(ev.ID, missing)
	}

	lamport := max + 1
	if lamport <= max {
		return 0, fmt.Errorf("lamport overflow for %s", ev.ID)
	}

	return lamport, nil
}

// MissingParents returns the parents of ev that are not in the store.
func (g *Graph) MissingParents(ev *event.Event) ([]string, error) {
	var missing []string
	for _, p := range ev.Prev {
		ok, err := g.store.HasEvent(p)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, p)
		}
	}
	return missing, nil
}

// Buffer parks an event until its missing parents are admitted. It returns
// false if the event was already buffered.
func (g *Graph) Buffer(ev *event.Event, missing []string, source string) bool {
	fresh := g.pending.Add(ev, missing, source)
	if fresh {
		g.logger.WithFields(logrus.Fields{
			"id":      ev.ID,
			"missing": len(missing),
			"source":  source,
		}).Debug("Buffered event")
	}
	return fresh
}

// Resolve releases the children waiting for id, which must already be stored.
// Admit does this itself; Resolve covers a child that was buffered after its
// parent got admitted by a concurrent delivery.
func (g *Graph) Resolve(id string) []*event.Event {
	return g.pending.Release(id)
}

// IsPending ...
func (g *Graph) IsPending(id string) bool {
	return g.pending.Has(id)
}

// Expire drops buffered events whose parents did not arrive in time.
func (g *Graph) Expire() []*event.Event {
	dropped := g.pending.Expire(time.Now())
	for _, ev := range dropped {
		g.logger.WithField("id", ev.ID).Debug("Dropped pending event")
	}
	return dropped
}

// Missing returns the ids the pending buffer is waiting for.
func (g *Graph) Missing() []string {
	return g.pending.Missing()
}

// MissingSources maps missing ids to a peer likely to have them.
func (g *Graph) MissingSources() map[string]string {
	return g.pending.Sources()
}

// PendingLen ...
func (g *Graph) PendingLen() int {
	return g.pending.Len()
}

// PendingEvicted ...
func (g *Graph) PendingEvicted() int {
	return g.pending.Evicted()
}

// LocalPrev returns the prev set for a new event of author: every current head
// of the author, merging concurrent local branches, plus the acknowledged
// foreign heads, sorted and deduplicated. Foreign ids must be known.
func (g *Graph) LocalPrev(author string, foreign []string) ([]string, error) {
	heads, err := g.store.Heads(author)
	if err != nil {
		return nil, err
	}

	set := make(map[string]bool, len(heads)+len(foreign))
	for _, h := range heads {
		set[h] = true
	}

	var missing []string
	for _, f := range foreign {
		ok, err := g.store.HasEvent(f)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, f)
			continue
		}
		set[f] = true
	}

	if len(missing) > 0 {
		return nil, cm.NewParentMissingErr("", missing)
	}

	res := make([]string, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	sort.Strings(res)

	return res, nil
}

// Heads returns the heads of every known author.
func (g *Graph) Heads() (map[string][]string, error) {
	authors, err := g.store.Authors()
	if err != nil {
		return nil, err
	}

	res := make(map[string][]string, len(authors))
	for _, a := range authors {
		h, err := g.store.Heads(a)
		if err != nil {
			return nil, err
		}
		res[a] = h
	}

	return res, nil
}
