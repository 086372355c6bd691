// Package gossip replicates the event log between peers.
//
// Newly accepted local events are pushed to every peer in good standing.
// Inbound events are handed to the node's admission pipeline and only those it
// accepts are relayed further, so an invalid event never travels more than one
// hop. Events whose parents are unknown are buffered by the node while gossip
// backfills the ancestors, from the sender first and then from any other peer:
// ids are content hashes, so the source does not matter.
//
// Nothing here assumes ordered or exactly-once delivery. Duplicates are
// filtered by a rotating bloom filter in front of the store and otherwise
// resolve to DuplicateEvent.
package gossip

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/mosaicnetworks/weave/src/validation"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned to peers sending faster than allowed.
	ErrRateLimited = errors.New("rate limited")
	// ErrDisconnected is returned to peers whose score got them disconnected.
	ErrDisconnected = errors.New("peer disconnected")
)

// Sink is the admission pipeline of the node.
type Sink interface {
	// Deliver validates and admits ev received from source. It returns the
	// events accepted as a result: ev followed by any buffered descendants it
	// released. A ParentMissing rejection means ev was buffered.
	Deliver(ev *event.Event, source string) ([]*event.Event, error)
	// Known reports whether id is stored or waiting for its parents.
	Known(id string) bool
	// Heads returns the heads of every known author.
	Heads() (map[string][]string, error)
}

type peerConn struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Gossip ...
type Gossip struct {
	conf   Config
	self   string
	trans  net.Transport
	store  store.Store
	sink   Sink
	peers  *peers.PeerSet
	scores *Scoreboard
	seen   *SeenSet

	lock     sync.Mutex
	limiters map[string]*rate.Limiter
	conns    map[string]*peerConn
	inflight map[string]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Entry
}

// NewGossip ...
func NewGossip(conf Config, trans net.Transport, s store.Store, sink Sink, ps *peers.PeerSet, logger *logrus.Entry) *Gossip {
	ctx, cancel := context.WithCancel(context.Background())

	return &Gossip{
		conf:     conf,
		self:     trans.AdvertiseAddr(),
		trans:    trans,
		store:    s,
		sink:     sink,
		peers:    ps,
		scores:   NewScoreboard(conf.Score),
		seen:     NewSeenSet(conf.SeenCapacity, conf.SeenFPRate),
		limiters: make(map[string]*rate.Limiter),
		conns:    make(map[string]*peerConn),
		inflight: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithField("prefix", "gossip"),
	}
}

// Close cancels every outstanding request and waits for background sends.
func (g *Gossip) Close() {
	g.cancel()
	g.wg.Wait()
}

// Scores returns the current peer scores.
func (g *Gossip) Scores() map[string]Score {
	return g.scores.Scores()
}

// State returns the standing of peer.
func (g *Gossip) State(peer string) PeerState {
	return g.scores.State(peer)
}

// PeerContext derives a context from ctx that is also cancelled when peer is
// disconnected. The returned function must be called to release it.
func (g *Gossip) PeerContext(ctx context.Context, peer string) (context.Context, context.CancelFunc) {
	pctx := g.peerConn(peer).ctx
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(pctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (g *Gossip) peerConn(peer string) *peerConn {
	g.lock.Lock()
	defer g.lock.Unlock()

	pc, ok := g.conns[peer]
	if !ok {
		ctx, cancel := context.WithCancel(g.ctx)
		pc = &peerConn{ctx: ctx, cancel: cancel}
		g.conns[peer] = pc
	}
	return pc
}

// Disconnect cancels every in-flight operation with peer and drops its
// connections. The peer stays known and is contacted again once its score has
// decayed.
func (g *Gossip) Disconnect(peer string) {
	g.lock.Lock()
	pc, ok := g.conns[peer]
	delete(g.conns, peer)
	g.lock.Unlock()

	if ok {
		pc.cancel()
	}
	g.trans.Disconnect(peer)

	g.logger.WithField("peer", peer).Warn("Disconnected peer")
}

func (g *Gossip) limiter(peer string) *rate.Limiter {
	g.lock.Lock()
	defer g.lock.Unlock()

	l, ok := g.limiters[peer]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.conf.RateLimit), g.conf.RateBurst)
		g.limiters[peer] = l
	}
	return l
}

func (g *Gossip) addPeer(addr string) {
	if addr == "" || addr == g.self {
		return
	}
	if g.peers.Add(peers.NewPeer("", addr, "")) {
		g.logger.WithField("peer", addr).Debug("Learned peer")
	}
}

// Targets returns the peers in the given states, excluding ourselves and
// exclude, in random order.
func (g *Gossip) Targets(exclude string, states ...PeerState) []string {
	var res []string
	for _, addr := range g.peers.Addrs() {
		if addr == g.self || addr == exclude {
			continue
		}
		st := g.scores.State(addr)
		for _, s := range states {
			if st == s {
				res = append(res, addr)
				break
			}
		}
	}
	rand.Shuffle(len(res), func(i, j int) { res[i], res[j] = res[j], res[i] })
	return res
}

func (g *Gossip) goFunc(f func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		f()
	}()
}

// observe updates the score of peer with the outcome of an event it sent.
func (g *Gossip) observe(peer string, err error) {
	var state PeerState
	switch {
	case err == nil:
		state = g.scores.Valid(peer)
	case validation.Penalize(err):
		state = g.scores.Invalid(peer)
		g.logger.WithFields(logrus.Fields{
			"peer":  peer,
			"error": err,
		}).Debug("Invalid event from peer")
	default:
		return
	}

	if state == StateDisconnected {
		g.Disconnect(peer)
	}
}

// Misbehaved counts evidence against peer gathered outside event relay, such
// as a fragment that does not match its content id.
func (g *Gossip) Misbehaved(peer string) {
	if g.scores.Invalid(peer) == StateDisconnected {
		g.Disconnect(peer)
	}
}

/*******************************************************************************
Publish and relay
*******************************************************************************/

// Publish pushes events to every peer in good standing. It returns without
// waiting for the peers.
func (g *Gossip) Publish(events []*event.Event) {
	for _, ev := range events {
		g.seen.Add(ev.ID)
	}
	g.push(events, "")
}

func (g *Gossip) push(events []*event.Event, exclude string) {
	if len(events) == 0 {
		return
	}

	envelopes, err := net.EncodeEvents(events)
	if err != nil {
		g.logger.WithError(err).Error("Encoding events")
		return
	}

	batches := batch(envelopes, g.conf.RateBurst)

	for _, peer := range g.Targets(exclude, StateOK) {
		peer := peer
		g.goFunc(func() {
			ctx, done := g.PeerContext(g.ctx, peer)
			defer done()

			for _, b := range batches {
				req := &net.PublishRequest{From: g.self, Events: b}
				var resp net.PublishResponse
				if err := g.trans.Publish(ctx, peer, req, &resp); err != nil {
					g.logger.WithFields(logrus.Fields{
						"peer":  peer,
						"error": err,
					}).Debug("Publish failed")
					return
				}
				g.logger.WithFields(logrus.Fields{
					"peer":     peer,
					"events":   len(b),
					"accepted": resp.Accepted,
				}).Debug("Published")
			}
		})
	}
}

// batch splits envelopes into slices of at most size elements, in order.
func batch(envelopes [][]byte, size int) [][][]byte {
	if size <= 0 || len(envelopes) <= size {
		return [][][]byte{envelopes}
	}
	var res [][][]byte
	for len(envelopes) > size {
		res = append(res, envelopes[:size])
		envelopes = envelopes[size:]
	}
	return append(res, envelopes)
}

// HandlePublish processes events pushed by a peer. Events that the node
// accepts are relayed to the other peers; rejected events go no further.
func (g *Gossip) HandlePublish(req *net.PublishRequest) (*net.PublishResponse, error) {
	return g.handlePublish(req, true)
}

// handlePublish serves HandlePublish. The sender is added to the peer set
// only when learn is set.
func (g *Gossip) handlePublish(req *net.PublishRequest, learn bool) (*net.PublishResponse, error) {
	from := req.From

	if g.scores.State(from) == StateDisconnected {
		return nil, ErrDisconnected
	}

	// A batch larger than the burst costs the whole burst.
	l := g.limiter(from)
	n := len(req.Events)
	if n > l.Burst() {
		n = l.Burst()
	}
	if !l.AllowN(time.Now(), n) {
		g.logger.WithField("peer", from).Debug("Rate limited")
		return nil, ErrRateLimited
	}

	if learn {
		g.addPeer(from)
	}

	events, errs := net.DecodeEvents(req.Events)
	for _, err := range errs {
		g.observe(from, err)
	}

	var relay []*event.Event
	accepted := 0

	for _, ev := range events {
		if !g.seen.Add(ev.ID) && g.sink.Known(ev.ID) {
			continue
		}

		res, err := g.sink.Deliver(ev, from)
		g.observe(from, err)

		if err != nil {
			if rej, ok := common.AsRejection(err); ok && rej.Kind() == common.ParentMissing {
				g.RequestMissing(rej.Missing(), from)
			}
			continue
		}

		accepted++
		relay = append(relay, res...)
	}

	g.push(relay, from)

	return &net.PublishResponse{Accepted: accepted}, nil
}

/*******************************************************************************
Backfill
*******************************************************************************/

// RequestMissing backfills ids in the background, asking source first. Ids
// already being fetched are skipped.
func (g *Gossip) RequestMissing(ids []string, source string) {
	g.lock.Lock()
	var todo []string
	for _, id := range ids {
		if !g.inflight[id] {
			g.inflight[id] = true
			todo = append(todo, id)
		}
	}
	g.lock.Unlock()

	if len(todo) == 0 {
		return
	}

	g.goFunc(func() {
		defer func() {
			g.lock.Lock()
			for _, id := range todo {
				delete(g.inflight, id)
			}
			g.lock.Unlock()
		}()

		ctx, cancel := context.WithTimeout(g.ctx, g.conf.BackfillTimeout)
		defer cancel()

		if err := g.Backfill(ctx, todo, source); err != nil {
			g.logger.WithFields(logrus.Fields{
				"ids":   len(todo),
				"error": err,
			}).Debug("Backfill incomplete")
		}
	})
}

// unknown returns the deduplicated ids that are neither stored nor pending.
func (g *Gossip) unknown(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var res []string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !g.sink.Known(id) {
			res = append(res, id)
		}
	}
	return res
}

// Backfill fetches ids and their unknown ancestors. preferred, if not empty,
// is asked first; the other peers are tried in turn, those in good standing
// before deprioritized ones, until everything is found.
func (g *Gossip) Backfill(ctx context.Context, ids []string, preferred string) error {
	wanted := g.unknown(ids)
	if len(wanted) == 0 {
		return nil
	}

	candidates := g.Targets(preferred, StateOK)
	candidates = append(candidates, g.Targets(preferred, StateDeprioritized)...)
	if preferred != "" && preferred != g.self && g.scores.State(preferred) != StateDisconnected {
		candidates = append([]string{preferred}, candidates...)
	}

	for _, peer := range candidates {
		var err error
		wanted, err = g.backfillFrom(ctx, peer, wanted)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			g.logger.WithFields(logrus.Fields{
				"peer":  peer,
				"error": err,
			}).Debug("Backfill from peer failed")
		}
		if len(wanted) == 0 {
			return nil
		}
	}

	if len(wanted) > 0 {
		return common.NewParentMissingErr("", wanted)
	}

	return nil
}

func (g *Gossip) backfillFrom(ctx context.Context, peer string, wanted []string) ([]string, error) {
	ctx, done := g.PeerContext(ctx, peer)
	defer done()

	for round := 0; round < g.conf.BackfillRounds && len(wanted) > 0; round++ {
		req := &net.BackfillRequest{
			From:  g.self,
			IDs:   wanted,
			Depth: g.conf.BackfillDepth,
			Limit: g.conf.BackfillLimit,
		}

		var resp net.BackfillResponse
		err := retry(ctx, g.conf.BackfillRetries, func() error {
			resp = net.BackfillResponse{}
			return g.trans.Backfill(ctx, peer, req, &resp)
		})
		if err != nil {
			return wanted, err
		}

		events, errs := net.DecodeEvents(resp.Events)
		for _, err := range errs {
			g.observe(peer, err)
		}

		progress := false
		var next []string

		for _, ev := range events {
			if g.sink.Known(ev.ID) {
				continue
			}
			g.seen.Add(ev.ID)

			_, err := g.sink.Deliver(ev, peer)
			g.observe(peer, err)

			if err == nil {
				progress = true
				continue
			}
			if rej, ok := common.AsRejection(err); ok && rej.Kind() == common.ParentMissing {
				progress = true
				next = append(next, rej.Missing()...)
			}
		}

		wanted = g.unknown(append(wanted, next...))

		if !progress {
			break
		}
	}

	return wanted, nil
}

// HandleBackfill serves the requested events plus their ancestors up to the
// requested depth, parents before children.
func (g *Gossip) HandleBackfill(req *net.BackfillRequest) (*net.BackfillResponse, error) {
	return g.handleBackfill(req, true)
}

func (g *Gossip) handleBackfill(req *net.BackfillRequest, learn bool) (*net.BackfillResponse, error) {
	if g.scores.State(req.From) == StateDisconnected {
		return nil, ErrDisconnected
	}

	if learn {
		g.addPeer(req.From)
	}

	limit := g.conf.BackfillLimit
	if req.Limit > 0 && req.Limit < limit {
		limit = req.Limit
	}
	depth := g.conf.BackfillDepth
	if req.Depth >= 0 && req.Depth < depth {
		depth = req.Depth
	}

	known := make(map[string]bool, len(req.Known))
	for _, id := range req.Known {
		known[id] = true
	}

	collected := make(map[string]*event.Event)
	var missing []string

	frontier := req.IDs
	for level := 0; level <= depth && len(frontier) > 0 && len(collected) < limit; level++ {
		var next []string
		for _, id := range frontier {
			if len(collected) >= limit {
				break
			}
			if known[id] || collected[id] != nil {
				continue
			}

			ev, err := g.store.GetEvent(id)
			if err != nil {
				if !common.IsStore(err, common.KeyNotFound) {
					return nil, err
				}
				if level == 0 {
					missing = append(missing, id)
				}
				continue
			}

			collected[id] = ev
			next = append(next, ev.Prev...)
		}
		frontier = next
	}

	events := make([]*event.Event, 0, len(collected))
	for _, ev := range collected {
		events = append(events, ev)
	}
	event.Sort(events)

	envelopes, err := net.EncodeEvents(events)
	if err != nil {
		return nil, err
	}

	return &net.BackfillResponse{Events: envelopes, Missing: missing}, nil
}

/*******************************************************************************
Anti-entropy
*******************************************************************************/

// SyncHeads compares heads with peer and backfills whatever it has that we do
// not.
func (g *Gossip) SyncHeads(ctx context.Context, peer string) error {
	pctx, done := g.PeerContext(ctx, peer)
	defer done()

	var resp net.HeadsResponse
	if err := g.trans.Heads(pctx, peer, &net.HeadsRequest{From: g.self}, &resp); err != nil {
		return err
	}

	authors := make([]string, 0, len(resp.Heads))
	for a := range resp.Heads {
		authors = append(authors, a)
	}
	sort.Strings(authors)

	var ids []string
	for _, a := range authors {
		ids = append(ids, resp.Heads[a]...)
	}

	wanted := g.unknown(ids)
	if len(wanted) == 0 {
		return nil
	}

	g.logger.WithFields(logrus.Fields{
		"peer":    peer,
		"missing": len(wanted),
	}).Debug("Anti-entropy found unknown heads")

	return g.Backfill(ctx, wanted, peer)
}

// AntiEntropy syncs heads with one random peer in good standing.
func (g *Gossip) AntiEntropy(ctx context.Context) error {
	targets := g.Targets("", StateOK)
	if len(targets) == 0 {
		return nil
	}
	return g.SyncHeads(ctx, targets[0])
}

// HandleHeads ...
func (g *Gossip) HandleHeads(req *net.HeadsRequest) (*net.HeadsResponse, error) {
	return g.handleHeads(req, true)
}

func (g *Gossip) handleHeads(req *net.HeadsRequest, learn bool) (*net.HeadsResponse, error) {
	if g.scores.State(req.From) == StateDisconnected {
		return nil, ErrDisconnected
	}

	if learn {
		g.addPeer(req.From)
	}

	heads, err := g.sink.Heads()
	if err != nil {
		return nil, err
	}

	return &net.HeadsResponse{Heads: heads, LastSeq: g.store.LastSeq()}, nil
}

// Handle serves rpc if it is a gossip command and reports whether it did.
func (g *Gossip) Handle(rpc net.RPC) bool {
	switch cmd := rpc.Command.(type) {
	case *net.PublishRequest:
		learn := g.attribute(rpc.Source, &cmd.From)
		resp, err := g.handlePublish(cmd, learn)
		rpc.Respond(resp, err)
	case *net.BackfillRequest:
		learn := g.attribute(rpc.Source, &cmd.From)
		resp, err := g.handleBackfill(cmd, learn)
		rpc.Respond(resp, err)
	case *net.HeadsRequest:
		learn := g.attribute(rpc.Source, &cmd.From)
		resp, err := g.handleHeads(cmd, learn)
		rpc.Respond(resp, err)
	default:
		return false
	}
	return true
}

// attribute points from at the connection address when the address the
// sender claims is on another host. It reports whether the claim held.
func (g *Gossip) attribute(source string, from *string) bool {
	addr := net.Sender(source, *from)
	if addr == *from {
		return true
	}
	g.logger.WithFields(logrus.Fields{
		"claimed": *from,
		"source":  source,
	}).Debug("Sender does not match connection")
	*from = addr
	return false
}
