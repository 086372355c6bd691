package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/mosaicnetworks/weave/src/graph"
	"github.com/mosaicnetworks/weave/src/ledger"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/replication"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/mosaicnetworks/weave/src/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Node ties the event pipeline, gossip, replication and the ledger together
// and exposes the application API.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	key    *btcec.PrivateKey
	pubKey string

	core        *Core
	store       store.Store
	ledger      *ledger.Ledger
	peers       *peers.PeerSet
	gossip      *gossip.Gossip
	replication *replication.Manager
	subs        *hub
	metrics     *metrics

	trans net.Transport
	netCh <-chan net.RPC

	ctx    context.Context
	cancel context.CancelFunc

	sigintCh     chan os.Signal
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	tasksLock    sync.Mutex
	tasksStarted bool
	timers       []*ControlTimer
	tasksWG      sync.WaitGroup

	start time.Time
}

// NewNode is a factory method that returns a Node instance. The node owns the
// store and the transport and closes them on Shutdown.
func NewNode(conf *Config,
	key *btcec.PrivateKey,
	ps *peers.PeerSet,
	s store.Store,
	trans net.Transport,
) (*Node, error) {

	logger := conf.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	pubKey := keys.PublicKeyHex(key.PubKey())
	logger = logger.WithField("addr", trans.AdvertiseAddr())

	validator := validation.NewValidator(s)
	policy, err := validation.NewMintPolicy(conf.MintPolicy, conf.Minters)
	if err != nil {
		return nil, err
	}
	validator.AddRule(event.TypeToken, policy)

	g, err := graph.NewGraph(s, conf.PendingSize, conf.PendingTTL, logger)
	if err != nil {
		return nil, err
	}

	l, err := ledger.NewLedger(s, key, logger)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGTERM)

	n := &Node{
		conf:       conf,
		logger:     logger,
		key:        key,
		pubKey:     pubKey,
		core:       NewCore(key, s, validator, g, l, conf.SequencerShards, logger),
		store:      s,
		ledger:     l,
		peers:      ps,
		subs:       newHub(),
		trans:      trans,
		netCh:      trans.Consumer(),
		ctx:        ctx,
		cancel:     cancel,
		sigintCh:   sigintCh,
		shutdownCh: make(chan struct{}),
	}

	n.gossip = gossip.NewGossip(conf.Gossip, trans, s, n.core, ps, logger)
	n.replication = replication.NewManager(conf.Replication, key, trans, s, ps, n.gossip, n, logger)
	n.metrics = newMetrics(n)
	n.core.metrics = n.metrics

	n.core.Observe(n.replication.Observe)
	n.core.Observe(n.subs.notify)
	if conf.FlagExclusions {
		n.core.Observe(n.flagExclusion)
	}

	return n, nil
}

// Init restores the in-memory views that are not persisted. The peer
// directory is rebuilt from the presence events in the log.
func (n *Node) Init() error {
	it := n.store.Iterate(store.Query{Type: event.TypePresence}, "")
	count := 0
	for it.Next() {
		n.replication.Observe(it.Event())
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}

	if n.conf.Maintenance {
		n.setState(Suspended)
	} else {
		n.setState(Running)
	}

	n.logger.WithFields(logrus.Fields{
		"pub_key":  n.pubKey,
		"events":   n.store.LastSeq(),
		"presence": count,
		"peers":    n.peers.Len(),
		"state":    n.getState().String(),
	}).Debug("Initialised node")

	return nil
}

// RunAsync calls Run in a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// Run serves RPCs and runs the background tasks until Shutdown.
func (n *Node) Run() {
	n.start = time.Now()

	go n.doBackgroundWork()

	if n.getState() == Running {
		n.startTasks()
	}

	<-n.shutdownCh
}

// Resume starts the background tasks of a suspended node.
func (n *Node) Resume() {
	if n.getState() != Suspended {
		return
	}
	n.setState(Running)
	n.startTasks()
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			if !n.goFunc(func() { n.processRPC(rpc) }) {
				rpc.Respond(nil, ErrBusy)
			}
		case <-n.shutdownCh:
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to signal - shutting down")
			n.Shutdown()
			return
		}
	}
}

// Shutdown stops the background work and closes the transport and the store.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)
		close(n.shutdownCh)
		n.cancel()

		n.tasksLock.Lock()
		for _, t := range n.timers {
			t.Shutdown()
		}
		n.tasksLock.Unlock()
		n.tasksWG.Wait()

		n.subs.closeAll()
		n.gossip.Close()

		// Routines must finish before the transport and store close under
		// them.
		n.waitRoutines()

		signal.Stop(n.sigintCh)
		n.trans.Close()
		n.store.Close()
	})
}

/*******************************************************************************
Application API
*******************************************************************************/

// Status is the outcome of a submission.
type Status string

const (
	// StatusAccepted means the event was added to the log.
	StatusAccepted Status = "accepted"
	// StatusDuplicate means the event was already in the log.
	StatusDuplicate Status = "duplicate"
	// StatusPending means the event waits for parents that are being
	// fetched.
	StatusPending Status = "pending"
)

// Result describes a submission that was not rejected.
type Result struct {
	ID      string   `json:"id"`
	Status  Status   `json:"status"`
	Missing []string `json:"missing,omitempty"`
}

// Submit admits an event signed elsewhere and gossips it. A rejected event
// returns its RejectionErr; unknown parents are not an error but leave the
// event pending while they are fetched.
func (n *Node) Submit(ev *event.Event) (Result, error) {
	res := Result{ID: ev.ID}

	accepted, err := n.core.Deliver(ev, "")
	n.gossip.Publish(accepted)

	if err == nil {
		res.Status = StatusAccepted
		return res, nil
	}

	rej, ok := cm.AsRejection(err)
	switch {
	case ok && rej.Kind() == cm.DuplicateEvent:
		res.Status = StatusDuplicate
		return res, nil
	case ok && rej.Kind() == cm.ParentMissing:
		n.gossip.RequestMissing(rej.Missing(), "")
		res.Status = StatusPending
		res.Missing = rej.Missing()
		return res, nil
	}

	return res, err
}

// Publish creates an event of the local key and gossips it. foreign lists
// events of other authors the new event acknowledges. It implements
// replication.Publisher.
func (n *Node) Publish(typ string, payload event.Payload, foreign []string) (*event.Event, error) {
	ev, accepted, err := n.core.Create(typ, payload, foreign)
	n.gossip.Publish(accepted)
	if err != nil {
		return nil, err
	}

	n.logger.WithFields(logrus.Fields{
		"id":   ev.ID,
		"type": typ,
	}).Debug("Published event")

	return ev, nil
}

// Subscribe returns the accepted events matching filter, starting after
// cursor. Cursor 0 starts from the beginning of the log.
func (n *Node) Subscribe(filter store.Query, cursor uint64) *Subscription {
	return n.subs.subscribe(n.store, filter, cursor)
}

// GetEvent ...
func (n *Node) GetEvent(id string) (*event.Event, error) {
	return n.store.GetEvent(id)
}

// Query returns one page of events matching q. limit is capped by the
// QueryLimit setting.
func (n *Node) Query(q store.Query, cursor string, limit int) (*store.Page, error) {
	if limit <= 0 || limit > n.conf.QueryLimit {
		limit = n.conf.QueryLimit
	}
	return n.store.Query(q, cursor, limit)
}

// Balance ...
func (n *Node) Balance(author string) uint64 {
	return n.ledger.Balance(author)
}

// PendingTransfers returns the burns targeting author that it has not claimed
// yet.
func (n *Node) PendingTransfers(author string) []ledger.Burn {
	return n.ledger.PendingTransfers(author)
}

// Excluded ...
func (n *Node) Excluded() []ledger.Exclusion {
	return n.ledger.Excluded()
}

// UploadBlob stores data as erasure-coded fragments and returns its CID.
func (n *Node) UploadBlob(ctx context.Context, data []byte) (string, []*event.Event, error) {
	cid, manifests, err := n.replication.Upload(ctx, data)
	if err == nil {
		n.metrics.uploads.Inc()
	}
	return cid, manifests, err
}

// FetchBlob streams the blob identified by cid to w.
func (n *Node) FetchBlob(ctx context.Context, cid string, w io.Writer) error {
	err := n.replication.FetchBlob(ctx, cid, w)
	n.metrics.fetches.WithLabelValues(outcome(err)).Inc()
	return err
}

// WebPage returns the latest web:v1 event for url in total order.
func (n *Node) WebPage(url string) (*event.Event, *event.WebPayload, error) {
	ev, p, err := n.latest(event.TypeWeb, event.WebRef(url), func(p event.Payload) bool {
		return p.(*event.WebPayload).URL == url
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, p.(*event.WebPayload), nil
}

// NameRecord returns the latest name:v1 event for name in total order.
func (n *Node) NameRecord(name string) (*event.Event, *event.NamePayload, error) {
	ev, p, err := n.latest(event.TypeName, event.NameRef(name), func(p event.Payload) bool {
		return p.(*event.NamePayload).Name == name
	})
	if err != nil {
		return nil, nil, err
	}
	return ev, p.(*event.NamePayload), nil
}

func (n *Node) latest(typ, ref string, match func(event.Payload) bool) (*event.Event, event.Payload, error) {
	var (
		best    *event.Event
		payload event.Payload
	)

	it := n.store.Iterate(store.Query{Type: typ, Ref: ref}, "")
	for it.Next() {
		ev := it.Event()
		p, err := ev.DecodePayload()
		if err != nil || !match(p) {
			continue
		}
		if best == nil || event.Less(best, ev) {
			best, payload = ev, p
		}
	}
	if err := it.Err(); err != nil {
		return nil, nil, err
	}

	if best == nil {
		return nil, nil, cm.NewStoreErr(typ, cm.KeyNotFound, "")
	}

	return best, payload, nil
}

// PubKey returns the hex public key of the node.
func (n *Node) PubKey() string {
	return n.pubKey
}

// GetPeers returns the known peers.
func (n *Node) GetPeers() []*peers.Peer {
	return n.peers.Peers()
}

// Scores returns the gossip score of every peer seen.
func (n *Node) Scores() map[string]gossip.Score {
	return n.gossip.Scores()
}

// Registry returns the prometheus registry of the node.
func (n *Node) Registry() *prometheus.Registry {
	return n.metrics.registry
}

// GetState ...
func (n *Node) GetState() State {
	return n.getState()
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	fragments, _ := n.store.Fragments()
	tip := n.ledger.Tip()

	return map[string]string{
		"pub_key":            n.pubKey,
		"addr":               n.trans.AdvertiseAddr(),
		"moniker":            n.conf.Moniker,
		"state":              n.getState().String(),
		"uptime":             time.Since(n.start).Round(time.Second).String(),
		"events":             strconv.FormatUint(n.store.LastSeq(), 10),
		"pending_events":     strconv.Itoa(n.core.graph.PendingLen()),
		"evicted_pending":    strconv.Itoa(n.core.graph.PendingEvicted()),
		"num_peers":          strconv.Itoa(n.peers.Len()),
		"connected_peers":    strconv.Itoa(len(n.gossip.Targets("", gossip.StateOK))),
		"subscriptions":      strconv.Itoa(n.subs.len()),
		"local_fragments":    strconv.Itoa(len(fragments)),
		"storage_used":       strconv.FormatUint(n.store.UsedBytes(), 10),
		"storage_quota":      strconv.FormatUint(n.store.Quota(), 10),
		"degraded_manifests": strconv.Itoa(len(n.replication.Degraded())),
		"ledger_applied":     strconv.FormatUint(n.ledger.Applied(), 10),
		"ledger_tip":         fmt.Sprintf("%d/%s", tip.Lamport, tip.ID),
		"ledger_replays":     strconv.Itoa(n.ledger.Replays()),
	}
}

func (n *Node) logStats() {
	stats := n.GetStats()
	fields := make(logrus.Fields, len(stats))
	for k, v := range stats {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}
