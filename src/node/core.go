package node

import (
	"sync"

	"github.com/btcsuite/btcd/btcec"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/graph"
	"github.com/mosaicnetworks/weave/src/ledger"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/mosaicnetworks/weave/src/validation"
	"github.com/sirupsen/logrus"
)

// Core is the admission pipeline shared by local submissions and gossip.
// Validation and admission of an event run under the lock of its author, so
// nonce and genesis checks hold until the event is stored. Events of other
// authors proceed in parallel. Accepted events are then applied to the ledger
// and passed to the observers.
type Core struct {
	key    *btcec.PrivateKey
	pubKey string

	store     store.Store
	validator *validation.Validator
	graph     *graph.Graph
	sequencer *validation.Sequencer
	ledger    *ledger.Ledger

	observers []func(*event.Event)
	metrics   *metrics

	publishLock sync.Mutex

	logger *logrus.Entry
}

// NewCore ...
func NewCore(key *btcec.PrivateKey,
	s store.Store,
	validator *validation.Validator,
	g *graph.Graph,
	l *ledger.Ledger,
	shards int,
	logger *logrus.Entry) *Core {

	return &Core{
		key:       key,
		pubKey:    keys.PublicKeyHex(key.PubKey()),
		store:     s,
		validator: validator,
		graph:     g,
		sequencer: validation.NewSequencer(shards),
		ledger:    l,
		logger:    logger.WithField("prefix", "core"),
	}
}

// Observe registers f to be called with every accepted event. Observers run
// outside the author lock and must not block.
func (c *Core) Observe(f func(*event.Event)) {
	c.observers = append(c.observers, f)
}

// Deliver implements gossip.Sink. It admits ev and every buffered descendant
// it releases, and returns the events accepted, ev first.
func (c *Core) Deliver(ev *event.Event, source string) ([]*event.Event, error) {
	released, err := c.admit(ev, source)

	var accepted []*event.Event
	if err == nil {
		accepted = append(accepted, ev)
	}

	queue := released
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		r, rerr := c.admit(next, source)
		queue = append(queue, r...)
		if rerr != nil {
			continue
		}

		if next.ID == ev.ID {
			// ev was buffered and released by a concurrent delivery of its
			// parent.
			err = nil
			accepted = append([]*event.Event{next}, accepted...)
			continue
		}
		accepted = append(accepted, next)
	}

	return accepted, err
}

// admit validates and admits one event. A ParentMissing rejection buffers the
// event; the returned events are children released meanwhile.
func (c *Core) admit(ev *event.Event, source string) ([]*event.Event, error) {
	var released []*event.Event

	err := c.sequencer.Do(ev.Author, func() error {
		if err := c.validator.Validate(ev); err != nil {
			return err
		}
		r, err := c.graph.Admit(ev)
		released = r
		return err
	})

	if err == nil {
		c.accepted(ev, source)
		return released, nil
	}

	c.rejected(ev, source, err)

	rej, ok := cm.AsRejection(err)
	if !ok || rej.Kind() != cm.ParentMissing {
		return nil, err
	}

	c.graph.Buffer(ev, rej.Missing(), source)

	// A parent admitted between the validation and the buffering did not
	// see ev waiting for it.
	for _, p := range rej.Missing() {
		if ok, _ := c.store.HasEvent(p); ok {
			released = append(released, c.graph.Resolve(p)...)
		}
	}

	return released, err
}

func (c *Core) accepted(ev *event.Event, source string) {
	origin := "remote"
	if source == "" {
		origin = "local"
	}
	if c.metrics != nil {
		c.metrics.accepted.WithLabelValues(origin).Inc()
	}

	if ev.Type == event.TypeBlob {
		c.storeInlineBlob(ev)
	}

	if err := c.ledger.Apply(ev); err != nil {
		c.logger.WithError(err).WithField("id", ev.ID).Error("Applying event to ledger")
	}

	for _, f := range c.observers {
		f(ev)
	}
}

func (c *Core) rejected(ev *event.Event, source string, err error) {
	reason := "error"
	if rej, ok := cm.AsRejection(err); ok {
		reason = rej.Kind().String()
		if rej.Kind() == cm.DuplicateEvent {
			return
		}
	}
	if c.metrics != nil {
		c.metrics.rejected.WithLabelValues(reason).Inc()
	}

	c.logger.WithFields(logrus.Fields{
		"id":     ev.ID,
		"type":   ev.Type,
		"source": source,
		"error":  err,
	}).Debug("Event not admitted")
}

// storeInlineBlob keeps the content of a blob:v1 event in the blob store,
// keyed by its hash like any other blob.
func (c *Core) storeInlineBlob(ev *event.Event) {
	p, err := ev.DecodePayload()
	if err != nil {
		return
	}
	data, err := p.(*event.BlobPayload).Bytes()
	if err != nil {
		return
	}
	if err := c.store.PutBlob(crypto.SHA256Hex(data), data); err != nil {
		c.logger.WithError(err).WithField("id", ev.ID).Error("Storing inline blob")
	}
}

// Known implements gossip.Sink.
func (c *Core) Known(id string) bool {
	ok, err := c.store.HasEvent(id)
	if err != nil {
		c.logger.WithError(err).Error("HasEvent")
	}
	return ok || c.graph.IsPending(id)
}

// Heads implements gossip.Sink.
func (c *Core) Heads() (map[string][]string, error) {
	return c.graph.Heads()
}

// Create builds and admits a new event authored by the local key. Its prev
// set holds every local head plus the foreign ids, and nonce-bearing types
// get the next nonce. Local events are created one at a time.
func (c *Core) Create(typ string, payload event.Payload, foreign []string) (*event.Event, []*event.Event, error) {
	c.publishLock.Lock()
	defer c.publishLock.Unlock()

	prev, err := c.graph.LocalPrev(c.pubKey, foreign)
	if err != nil {
		return nil, nil, err
	}

	last, err := c.store.LastNonce(c.pubKey)
	if err != nil {
		return nil, nil, err
	}

	ev, err := event.New(typ, payload, prev, last+1, c.key)
	if err != nil {
		return nil, nil, err
	}

	accepted, err := c.Deliver(ev, "")
	if err != nil {
		return nil, accepted, err
	}

	return ev, accepted, nil
}
