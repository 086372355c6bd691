package replication

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/mosaicnetworks/weave/src/graph"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/peers"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/mosaicnetworks/weave/src/validation"
	"github.com/stretchr/testify/require"
)

// testNode wires the admission pipeline, gossip and a Manager over an inmem
// transport. It publishes its own events like the node does.
type testNode struct {
	addr   string
	key    *btcec.PrivateKey
	pub    string
	trans  *net.InmemTransport
	store  store.Store
	graph  *graph.Graph
	valid  *validation.Validator
	peers  *peers.PeerSet
	gossip *gossip.Gossip
	mgr    *Manager

	sinkLock sync.Mutex
	pubLock  sync.Mutex
}

func (n *testNode) Deliver(ev *event.Event, source string) ([]*event.Event, error) {
	n.sinkLock.Lock()
	defer n.sinkLock.Unlock()

	var accepted []*event.Event
	queue := []*event.Event{ev}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		err := n.valid.Validate(next)
		if err == nil {
			var released []*event.Event
			released, err = n.graph.Admit(next)
			if err == nil {
				accepted = append(accepted, next)
				n.mgr.Observe(next)
				queue = append(queue, released...)
				continue
			}
		}

		if rej, ok := common.AsRejection(err); ok && rej.Kind() == common.ParentMissing {
			n.graph.Buffer(next, rej.Missing(), source)
		}
		if next == ev {
			return nil, err
		}
	}

	return accepted, nil
}

func (n *testNode) Known(id string) bool {
	ok, _ := n.store.HasEvent(id)
	return ok || n.graph.IsPending(id)
}

func (n *testNode) Heads() (map[string][]string, error) {
	return n.graph.Heads()
}

func (n *testNode) Publish(typ string, payload event.Payload, foreign []string) (*event.Event, error) {
	n.pubLock.Lock()
	defer n.pubLock.Unlock()

	prev, err := n.graph.LocalPrev(n.pub, foreign)
	if err != nil {
		return nil, err
	}

	ev, err := event.New(typ, payload, prev, 0, n.key)
	if err != nil {
		return nil, err
	}

	accepted, err := n.Deliver(ev, "")
	if err != nil {
		return nil, err
	}
	n.gossip.Publish(accepted)

	return ev, nil
}

func testConfig() Config {
	conf := DefaultConfig()
	conf.ChunkSize = 8192
	conf.K = 2
	conf.M = 4
	conf.TargetHolders = 4
	conf.DegradedAfter = 2
	conf.HolderTTL = 0
	conf.Retention = time.Hour
	conf.ProofMaxAge = time.Minute
	conf.FetchBlockSize = 1000
	conf.FetchRetries = 0
	conf.Timeout = 2 * time.Second
	return conf
}

func newTestNode(t *testing.T, i int, conf Config) *testNode {
	logger := common.NewTestEntry(t, common.TestLogLevel)

	s, err := store.NewBadgerStore(t.TempDir(), 100, 0, logger)
	require.NoError(t, err)

	g, err := graph.NewGraph(s, 100, time.Minute, logger)
	require.NoError(t, err)

	key, err := keys.GenerateKey()
	require.NoError(t, err)

	addr, trans := net.NewInmemTransport(fmt.Sprintf("10.%d.0.1:1337", i))

	n := &testNode{
		addr:  addr,
		key:   key,
		pub:   keys.PublicKeyHex(key.PubKey()),
		trans: trans,
		store: s,
		graph: g,
		valid: validation.NewValidator(s),
		peers: peers.NewPeerSet(nil),
	}

	gconf := gossip.DefaultConfig()
	gconf.BackfillTimeout = 2 * time.Second
	n.gossip = gossip.NewGossip(gconf, trans, s, n, n.peers, logger)
	n.mgr = NewManager(conf, key, trans, s, n.peers, n.gossip, n, logger)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case rpc := <-trans.Consumer():
				go func() {
					if !n.gossip.Handle(rpc) && !n.mgr.Handle(rpc) {
						rpc.Respond(nil, fmt.Errorf("unexpected command %T", rpc.Command))
					}
				}()
			case <-done:
				return
			}
		}
	}()

	t.Cleanup(func() {
		n.gossip.Close()
		close(done)
		trans.Close()
		s.Close()
	})

	return n
}

// newNetwork creates count fully connected nodes that know each other's
// presence.
func newNetwork(t *testing.T, count int, conf Config) []*testNode {
	nodes := make([]*testNode, count)
	for i := range nodes {
		nodes[i] = newTestNode(t, i, conf)
	}

	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.trans.Connect(b.addr, b.trans)
				a.peers.Add(peers.NewPeer("", b.addr, ""))
			}
		}
	}

	for _, n := range nodes {
		_, err := n.Publish(event.TypePresence, &event.PresencePayload{NetAddr: n.addr}, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for _, a := range nodes {
			for _, b := range nodes {
				if a == b {
					continue
				}
				if p, ok := a.peers.ByPubKey(b.pub); !ok || p.NetAddr != b.addr {
					return false
				}
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	return nodes
}

func byAddr(nodes []*testNode, addr string) *testNode {
	for _, n := range nodes {
		if n.addr == addr {
			return n
		}
	}
	return nil
}

func randomBlob(size int) []byte {
	b := make([]byte, size)
	rand.Read(b)
	return b
}

func countType(t *testing.T, s store.Store, typ string) int {
	page, err := s.Query(store.Query{Type: typ}, "", 1000)
	require.NoError(t, err)
	return len(page.Events)
}

// holderOf returns the remote holder of fragment i of a manifest as seen by n.
func holderOf(t *testing.T, n *testNode, manifest string, i int) string {
	holders, err := n.store.Holders(manifest)
	require.NoError(t, err)
	for _, h := range holders {
		if h.Peer != n.addr && h.Has(i) {
			return h.Peer
		}
	}
	t.Fatalf("no holder for fragment %d", i)
	return ""
}

func corruptFragment(t *testing.T, n *testNode, cid string) {
	data, err := n.store.GetFragment(cid)
	require.NoError(t, err)
	bad := make([]byte, len(data))
	copy(bad, data)
	bad[0] ^= 0xff
	require.NoError(t, n.store.DeleteFragment(cid))
	require.NoError(t, n.store.PutFragment(cid, bad))
}

func TestUploadFetch(t *testing.T) {
	nodes := newNetwork(t, 5, testConfig())
	up := nodes[0]

	data := randomBlob(20000)
	cid, manifests, err := up.mgr.Upload(context.Background(), data)
	require.NoError(t, err)
	require.Len(t, manifests, 3)

	// every fragment found a holder, so the uploader kept none
	local, err := up.store.Fragments()
	require.NoError(t, err)
	require.Empty(t, local)

	for _, ev := range manifests {
		holders, err := up.store.Holders(ev.ID)
		require.NoError(t, err)
		require.Len(t, holders, 4)
	}

	// uploading again reuses the manifests
	again, manifests2, err := up.mgr.Upload(context.Background(), data)
	require.NoError(t, err)
	require.Equal(t, cid, again)
	require.Equal(t, manifests[0].ID, manifests2[0].ID)

	reader := nodes[4]
	require.Eventually(t, func() bool {
		evs, _, err := reader.mgr.chunks(cid)
		return err == nil && evs != nil
	}, 5*time.Second, 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(t, reader.mgr.FetchBlob(context.Background(), cid, &buf))
	require.Equal(t, data, buf.Bytes())

	var missing bytes.Buffer
	err = reader.mgr.FetchBlob(context.Background(), randomCID(), &missing)
	require.Equal(t, ErrBlobNotFound, err)

	_, _, err = up.mgr.Upload(context.Background(), nil)
	require.Equal(t, ErrEmptyBlob, err)
}

func TestFetchLocalBlob(t *testing.T) {
	n := newTestNode(t, 0, testConfig())

	data := []byte("inline blob")
	cid := crypto.SHA256Hex(data)
	require.NoError(t, n.store.PutBlob(cid, data))

	var buf bytes.Buffer
	require.NoError(t, n.mgr.FetchBlob(context.Background(), cid, &buf))
	require.Equal(t, data, buf.Bytes())
}

func TestFetchCorruptFragment(t *testing.T) {
	nodes := newNetwork(t, 5, testConfig())
	up := nodes[0]

	data := randomBlob(5000)
	cid, manifests, err := up.mgr.Upload(context.Background(), data)
	require.NoError(t, err)
	manifest := manifests[0].ID

	require.Eventually(t, func() bool {
		return countType(t, up.store, event.TypeHolding) == 4
	}, 5*time.Second, 10*time.Millisecond)

	p, err := manifests[0].DecodePayload()
	require.NoError(t, err)
	mf := p.(*event.ManifestPayload)

	bad := holderOf(t, up, manifest, 0)
	corruptFragment(t, byAddr(nodes, bad), mf.Fragments[0].CID)

	var buf bytes.Buffer
	require.NoError(t, up.mgr.FetchBlob(context.Background(), cid, &buf))
	require.Equal(t, data, buf.Bytes())

	holders, err := up.store.Holders(manifest)
	require.NoError(t, err)
	require.NotContains(t, holders, bad)
	require.InDelta(t, 1, up.gossip.Scores()[bad].Invalid, 0.01)
}

func TestRepair(t *testing.T) {
	nodes := newNetwork(t, 6, testConfig())
	up := nodes[0]

	data := randomBlob(5000)
	_, manifests, err := up.mgr.Upload(context.Background(), data)
	require.NoError(t, err)
	manifest := manifests[0].ID

	p, err := manifests[0].DecodePayload()
	require.NoError(t, err)
	mf := p.(*event.ManifestPayload)

	// nothing to do while every holder answers
	report, err := up.mgr.RepairOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RepairReport{Checked: 1}, report)

	holders, err := up.store.Holders(manifest)
	require.NoError(t, err)
	var spare *testNode
	for _, n := range nodes[1:] {
		if _, ok := holders[n.addr]; !ok {
			spare = n
		}
	}
	require.NotNil(t, spare)

	lost := []string{holderOf(t, up, manifest, 0), holderOf(t, up, manifest, 1)}
	for _, addr := range lost {
		up.trans.Disconnect(addr)
	}

	audit, err := up.mgr.Audit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, audit.Challenged)
	require.Equal(t, 2, audit.Failed)

	report, err = up.mgr.RepairOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, RepairReport{Checked: 1, Repaired: 1}, report)

	// the spare peer took the fragment with the fewest holders
	ok, err := spare.store.HasFragment(mf.Fragments[0].CID)
	require.NoError(t, err)
	require.True(t, ok)

	available, err := up.mgr.availableHolders(manifest)
	require.NoError(t, err)
	require.Len(t, available, 4)

	// the fragment no peer could take stays with the uploader
	ok, err = up.store.HasFragment(mf.Fragments[1].CID)
	require.NoError(t, err)
	require.True(t, ok)

	report, err = up.mgr.RepairOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Repaired)
}

func TestRepairInsufficientDonors(t *testing.T) {
	nodes := newNetwork(t, 6, testConfig())
	up := nodes[0]

	_, manifests, err := up.mgr.Upload(context.Background(), randomBlob(5000))
	require.NoError(t, err)
	manifest := manifests[0].ID

	for i := 0; i < 3; i++ {
		up.trans.Disconnect(holderOf(t, up, manifest, i))
	}

	_, err = up.mgr.Audit(context.Background())
	require.NoError(t, err)

	for pass := 1; pass <= 2; pass++ {
		report, err := up.mgr.RepairOnce(context.Background())
		require.NoError(t, err)
		require.Equal(t, RepairReport{Checked: 1, Failed: 1}, report)
	}

	require.Equal(t, []string{manifest}, up.mgr.Degraded())

	// a failed repair writes nothing
	local, err := up.store.Fragments()
	require.NoError(t, err)
	require.Empty(t, local)

	holders, err := up.store.Holders(manifest)
	require.NoError(t, err)
	require.Len(t, holders, 4)
}

func TestCandidates(t *testing.T) {
	n := newTestNode(t, 0, testConfig())

	for _, addr := range []string{"10.1.0.1:1", "10.1.0.2:1", "10.2.0.1:1", "10.3.0.1:1", "10.4.0.1:1"} {
		n.peers.Add(peers.NewPeer("", addr, ""))
	}

	n.mgr.lock.Lock()
	n.mgr.quotas["10.4.0.1:1"] = event.PresencePayload{NetAddr: "10.4.0.1:1", QuotaBytes: 1000, UsedBytes: 950}
	n.mgr.lock.Unlock()

	res := n.mgr.candidates(10, 100, nil, true)
	require.Len(t, res, 3)
	prefixes := make(map[string]bool)
	for _, addr := range res {
		require.NotEqual(t, "10.4.0.1:1", addr)
		prefixes[peers.NetworkPrefix(addr)] = true
	}
	require.Len(t, prefixes, 3)

	res = n.mgr.candidates(10, 100, map[string]bool{"10.2.0.7:1": true}, true)
	require.Len(t, res, 2)
	require.NotContains(t, res, "10.2.0.1:1")

	// relaxed selection reuses prefixes once distinct ones run out
	res = n.mgr.candidates(10, 100, nil, false)
	require.Len(t, res, 4)

	res = n.mgr.candidates(10, 10, nil, false)
	require.Len(t, res, 5)
}

func randomCID() string {
	return crypto.SHA256Hex(randomBlob(32))
}

func TestFetchFragmentRange(t *testing.T) {
	n := newTestNode(t, 0, testConfig())

	data := []byte("0123456789")
	cid := FragmentCID(data)
	require.NoError(t, n.store.PutFragment(cid, data))

	cases := []struct {
		offset, length int
		want           string
	}{
		{0, 0, "0123456789"},
		{2, 3, "234"},
		{8, 5, "89"},
		{1, math.MaxInt, "123456789"},
		{10, 0, ""},
	}
	for _, c := range cases {
		resp, err := n.mgr.HandleFetchFragment(&net.FetchFragmentRequest{CID: cid, Offset: c.offset, Length: c.length})
		require.NoError(t, err)
		require.Equal(t, c.want, string(resp.Data), "offset %d length %d", c.offset, c.length)
		require.Equal(t, len(data), resp.Total)
	}

	for _, bad := range [][2]int{{-1, 1}, {11, 0}, {0, -1}, {math.MaxInt, math.MaxInt}} {
		_, err := n.mgr.HandleFetchFragment(&net.FetchFragmentRequest{CID: cid, Offset: bad[0], Length: bad[1]})
		require.Error(t, err)
	}
}
