// Package replication stores large payloads as erasure-coded fragments spread
// over the network.
//
// A blob is cut into chunks and every chunk is coded into m fragments, any k
// of which rebuild it. Each chunk is described by a manifest:v1 event. Peers
// that accept a fragment announce it with a holding:v1 event, which feeds the
// availability table of every node. The repair loop watches that table and
// regenerates fragments when too few holders remain, while periodic storage
// challenges check that holders still have what they announced.
//
// Holders are identified by network address. Announcements are signed by
// keys, so they are mapped to addresses through the presence:v1 events that
// peers publish.
package replication

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Publisher creates, admits and gossips events authored by the local node.
type Publisher interface {
	Publish(typ string, payload event.Payload, foreign []string) (*event.Event, error)
}

// Manager ...
type Manager struct {
	conf      Config
	key       *btcec.PrivateKey
	pubKey    string
	self      string
	trans     net.Transport
	store     store.Store
	peers     *peers.PeerSet
	gossip    *gossip.Gossip
	publisher Publisher
	coders    *coders

	lock        sync.Mutex
	busy        map[string]int
	unreachable map[string]time.Time
	quotas      map[string]event.PresencePayload
	failures    map[string]int
	degraded    map[string]bool

	logger *logrus.Entry
}

// NewManager ...
func NewManager(conf Config,
	key *btcec.PrivateKey,
	trans net.Transport,
	s store.Store,
	ps *peers.PeerSet,
	g *gossip.Gossip,
	publisher Publisher,
	logger *logrus.Entry) *Manager {

	return &Manager{
		conf:        conf,
		key:         key,
		pubKey:      keys.PublicKeyHex(key.PubKey()),
		self:        trans.AdvertiseAddr(),
		trans:       trans,
		store:       s,
		peers:       ps,
		gossip:      g,
		publisher:   publisher,
		coders:      newCoders(),
		busy:        make(map[string]int),
		unreachable: make(map[string]time.Time),
		quotas:      make(map[string]event.PresencePayload),
		failures:    make(map[string]int),
		degraded:    make(map[string]bool),
		logger:      logger.WithField("prefix", "replication"),
	}
}

// Observe updates the availability table and the peer directory from an
// accepted event. The node calls it for every event it admits.
func (m *Manager) Observe(ev *event.Event) {
	switch ev.Type {
	case event.TypePresence:
		p, err := ev.DecodePayload()
		if err != nil {
			return
		}
		pres := p.(*event.PresencePayload)
		if ev.Author == m.pubKey {
			return
		}
		m.peers.Add(peers.NewPeer(ev.Author, pres.NetAddr, ""))
		m.lock.Lock()
		m.quotas[pres.NetAddr] = *pres
		m.lock.Unlock()

	case event.TypeHolding:
		p, err := ev.DecodePayload()
		if err != nil {
			return
		}
		hold := p.(*event.HoldingPayload)
		addr := m.addrOf(ev.Author)
		if addr == "" {
			m.logger.WithField("author", ev.Author).Debug("Holding from peer without presence")
			return
		}
		if err := m.store.AddHolder(hold.Manifest, addr, hold.Fragments); err != nil {
			m.logger.WithError(err).Error("Recording holder")
		}
	}
}

func (m *Manager) addrOf(author string) string {
	if author == m.pubKey {
		return m.self
	}
	if p, ok := m.peers.ByPubKey(author); ok {
		return p.NetAddr
	}
	return ""
}

/*******************************************************************************
Pins and peer liveness
*******************************************************************************/

// hold pins cids against garbage collection until the returned function is
// called.
func (m *Manager) hold(cids ...string) func() {
	m.lock.Lock()
	for _, c := range cids {
		m.busy[c]++
	}
	m.lock.Unlock()

	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		for _, c := range cids {
			m.busy[c]--
			if m.busy[c] <= 0 {
				delete(m.busy, c)
			}
		}
	}
}

func (m *Manager) isBusy(cid string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.busy[cid] > 0
}

func (m *Manager) reached(peer string, err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if err == nil {
		delete(m.unreachable, peer)
		return
	}
	if _, ok := m.unreachable[peer]; !ok {
		m.unreachable[peer] = time.Now()
	}
}

// available reports whether holder h can currently be counted on.
func (m *Manager) available(h *store.Holder) bool {
	if h.Peer == m.self {
		return true
	}
	if m.gossip.State(h.Peer) == gossip.StateDisconnected {
		return false
	}
	if m.conf.HolderTTL > 0 && time.Since(time.Unix(0, h.Seen*int64(time.Millisecond))) > m.conf.HolderTTL {
		return false
	}
	m.lock.Lock()
	_, down := m.unreachable[h.Peer]
	m.lock.Unlock()
	return !down
}

// availableHolders returns the usable holders of a manifest, sorted by
// address.
func (m *Manager) availableHolders(manifest string) ([]*store.Holder, error) {
	all, err := m.store.Holders(manifest)
	if err != nil {
		return nil, err
	}
	res := make([]*store.Holder, 0, len(all))
	for _, h := range all {
		if m.available(h) {
			res = append(res, h)
		}
	}
	sortHolders(res)
	return res, nil
}

// Degraded returns the manifests that failed repair DegradedAfter times in a
// row.
func (m *Manager) Degraded() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := make([]string, 0, len(m.degraded))
	for id := range m.degraded {
		res = append(res, id)
	}
	return res
}

/*******************************************************************************
Candidate selection
*******************************************************************************/

// candidates picks up to n peers to receive fragments of size bytes. Peers in
// exclude and peers sharing a network prefix with them are skipped, as are
// peers whose declared quota has no room. With strict false, prefixes already
// picked in this call are avoided first and reused only if peers run out.
func (m *Manager) candidates(n int, size int, exclude map[string]bool, strict bool) []string {
	if n <= 0 {
		return nil
	}

	usedPrefix := make(map[string]bool)
	for addr := range exclude {
		usedPrefix[peers.NetworkPrefix(addr)] = true
	}

	var eligible []string
	for _, addr := range m.gossip.Targets(m.self, gossip.StateOK) {
		if exclude[addr] || !m.hasRoom(addr, size) {
			continue
		}
		m.lock.Lock()
		_, down := m.unreachable[addr]
		m.lock.Unlock()
		if down {
			continue
		}
		eligible = append(eligible, addr)
	}
	rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })

	var res []string
	picked := make(map[string]bool)
	for _, addr := range eligible {
		if len(res) == n {
			return res
		}
		prefix := peers.NetworkPrefix(addr)
		if usedPrefix[prefix] {
			continue
		}
		usedPrefix[prefix] = true
		picked[addr] = true
		res = append(res, addr)
	}

	if strict {
		return res
	}

	for _, addr := range eligible {
		if len(res) == n {
			break
		}
		if !picked[addr] {
			picked[addr] = true
			res = append(res, addr)
		}
	}

	return res
}

func (m *Manager) hasRoom(addr string, size int) bool {
	m.lock.Lock()
	q, ok := m.quotas[addr]
	m.lock.Unlock()
	if !ok || q.QuotaBytes == 0 {
		return true
	}
	return q.UsedBytes+uint64(size) <= q.QuotaBytes
}

// push sends fragment i of a manifest to peer and records the holder on
// success.
func (m *Manager) push(ctx context.Context, manifest string, i int, cid string, data []byte, peer string) error {
	ctx, cancel := m.gossip.PeerContext(ctx, peer)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, m.conf.Timeout)
	defer cancelTimeout()

	req := &net.StoreFragmentRequest{
		From:     m.self,
		Manifest: manifest,
		Index:    i,
		CID:      cid,
		Data:     data,
	}

	var resp net.StoreFragmentResponse
	err := gossip.Retry(ctx, m.conf.FetchRetries, func() error {
		return m.trans.StoreFragment(ctx, peer, req, &resp)
	})
	m.reached(peer, err)
	if err != nil {
		return err
	}
	if !resp.Stored {
		return errors.Errorf("peer %s refused fragment %s", peer, cid)
	}

	return m.store.AddHolder(manifest, peer, []int{i})
}

/*******************************************************************************
RPC handlers
*******************************************************************************/

// Handle serves rpc if it is a fragment command and reports whether it did.
func (m *Manager) Handle(rpc net.RPC) bool {
	switch cmd := rpc.Command.(type) {
	case *net.StoreFragmentRequest:
		cmd.From = net.Sender(rpc.Source, cmd.From)
		resp, err := m.HandleStoreFragment(cmd)
		rpc.Respond(resp, err)
	case *net.FetchFragmentRequest:
		cmd.From = net.Sender(rpc.Source, cmd.From)
		resp, err := m.HandleFetchFragment(cmd)
		rpc.Respond(resp, err)
	case *net.ChallengeRequest:
		cmd.From = net.Sender(rpc.Source, cmd.From)
		resp, err := m.HandleChallenge(cmd)
		rpc.Respond(resp, err)
	default:
		return false
	}
	return true
}

// HandleStoreFragment accepts a fragment if it matches its manifest, stores it
// and announces the holding. The manifest is backfilled from the sender when
// unknown.
func (m *Manager) HandleStoreFragment(req *net.StoreFragmentRequest) (*net.StoreFragmentResponse, error) {
	mf, err := m.manifest(req.Manifest)
	if cm.IsStore(err, cm.KeyNotFound) {
		ctx, cancel := context.WithTimeout(context.Background(), m.conf.Timeout)
		err = m.gossip.Backfill(ctx, []string{req.Manifest}, req.From)
		cancel()
		if err != nil {
			return nil, errors.Wrap(err, "unknown manifest")
		}
		mf, err = m.manifest(req.Manifest)
	}
	if err != nil {
		return nil, err
	}

	if req.Index < 0 || req.Index >= len(mf.Fragments) || mf.Fragments[req.Index].CID != req.CID {
		return nil, errors.Errorf("fragment %s is not %d of %s", req.CID, req.Index, req.Manifest)
	}
	if err := checkFragment(mf, req.Index, req.Data, req.From); err != nil {
		return nil, err
	}

	release := m.hold(req.CID)
	defer release()

	if err := m.store.PutFragment(req.CID, req.Data); err != nil {
		return &net.StoreFragmentResponse{Stored: false}, err
	}

	if err := m.announce(req.Manifest, []int{req.Index}); err != nil {
		m.logger.WithError(err).Error("Announcing holding")
	}

	m.logger.WithFields(logrus.Fields{
		"manifest": req.Manifest,
		"index":    req.Index,
		"from":     req.From,
	}).Debug("Stored fragment")

	return &net.StoreFragmentResponse{Stored: true}, nil
}

// HandleFetchFragment serves a byte range of a local fragment.
func (m *Manager) HandleFetchFragment(req *net.FetchFragmentRequest) (*net.FetchFragmentResponse, error) {
	data, err := m.store.GetFragment(req.CID)
	if err != nil {
		return nil, err
	}

	if req.Offset < 0 || req.Offset > len(data) || req.Length < 0 {
		return nil, errors.Errorf("invalid range %d+%d for %d bytes", req.Offset, req.Length, len(data))
	}

	end := len(data)
	if req.Length > 0 && req.Length < len(data)-req.Offset {
		end = req.Offset + req.Length
	}

	return &net.FetchFragmentResponse{Data: data[req.Offset:end], Total: len(data)}, nil
}

// HandleChallenge answers a storage challenge.
func (m *Manager) HandleChallenge(req *net.ChallengeRequest) (*net.ChallengeResponse, error) {
	proof, err := m.Prove(req.Fragment, req.Segment, req.Nonce)
	if err != nil {
		return nil, err
	}
	return &net.ChallengeResponse{Proof: *proof}, nil
}

// announce records the local holding and publishes it.
func (m *Manager) announce(manifest string, fragments []int) error {
	if err := m.store.AddHolder(manifest, m.self, fragments); err != nil {
		return err
	}
	_, err := m.publisher.Publish(event.TypeHolding, &event.HoldingPayload{
		Manifest:  manifest,
		Fragments: fragments,
	}, []string{manifest})
	return err
}

// manifest loads and decodes a manifest event.
func (m *Manager) manifest(id string) (*event.ManifestPayload, error) {
	ev, err := m.store.GetEvent(id)
	if err != nil {
		return nil, err
	}
	if ev.Type != event.TypeManifest {
		return nil, errors.Errorf("%s is a %s event", id, ev.Type)
	}
	p, err := ev.DecodePayload()
	if err != nil {
		return nil, err
	}
	return p.(*event.ManifestPayload), nil
}
