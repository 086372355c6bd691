package graph

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func initGraph(t *testing.T, pendingSize int, ttl time.Duration) *Graph {
	logger := common.NewTestEntry(t, logrus.DebugLevel)
	s, err := store.NewBadgerStore(t.TempDir(), 100, 0, logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	g, err := NewGraph(s, pendingSize, ttl, logger)
	require.NoError(t, err)
	return g
}

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := keys.GenerateKey()
	require.NoError(t, err)
	return key
}

func post(t *testing.T, key *btcec.PrivateKey, content string, prev ...string) *event.Event {
	ev, err := event.New(event.TypePost, &event.PostPayload{Content: content}, prev, 0, key)
	require.NoError(t, err)
	return ev
}

func TestAdmitLamport(t *testing.T) {
	g := initGraph(t, 10, time.Minute)
	alice, bob := newKey(t), newKey(t)

	a0 := post(t, alice, "a0")
	b0 := post(t, bob, "b0")
	a1 := post(t, alice, "a1", a0.ID)
	b1 := post(t, bob, "b1", a1.ID, b0.ID)

	for _, ev := range []*event.Event{a0, b0, a1, b1} {
		_, err := g.Admit(ev)
		require.NoError(t, err)
	}

	require.Equal(t, uint64(0), a0.Lamport)
	require.Equal(t, uint64(0), b0.Lamport)
	require.Equal(t, uint64(1), a1.Lamport)
	require.Equal(t, uint64(2), b1.Lamport)

	_, err := g.Admit(a1)
	require.True(t, common.IsRejection(err, common.DuplicateEvent), "got %v", err)
}

func TestAdmitParentMissing(t *testing.T) {
	g := initGraph(t, 10, time.Minute)
	alice := newKey(t)

	a0 := post(t, alice, "a0")
	a1 := post(t, alice, "a1", a0.ID)

	_, err := g.Admit(a1)
	rej, ok := common.AsRejection(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, common.ParentMissing, rej.Kind())
	require.Equal(t, []string{a0.ID}, rej.Missing())
}

func TestPendingRelease(t *testing.T) {
	g := initGraph(t, 10, time.Minute)
	alice := newKey(t)

	a0 := post(t, alice, "a0")
	a1 := post(t, alice, "a1", a0.ID)
	a2 := post(t, alice, "a2", a1.ID)

	// a2 arrives first, then a1: both wait.
	missing, err := g.MissingParents(a2)
	require.NoError(t, err)
	require.True(t, g.Buffer(a2, missing, "peer1"))
	require.False(t, g.Buffer(a2, missing, "peer1"), "buffering twice is a no-op")

	missing, err = g.MissingParents(a1)
	require.NoError(t, err)
	g.Buffer(a1, missing, "peer2")

	require.Equal(t, []string{a0.ID}, g.Missing())
	require.Equal(t, "peer2", g.MissingSources()[a0.ID])
	require.Equal(t, 2, g.PendingLen())

	released, err := g.Admit(a0)
	require.NoError(t, err)
	require.Len(t, released, 1)
	require.Equal(t, a1.ID, released[0].ID)

	released, err = g.Admit(released[0])
	require.NoError(t, err)
	require.Len(t, released, 1)
	require.Equal(t, a2.ID, released[0].ID)

	_, err = g.Admit(released[0])
	require.NoError(t, err)
	require.Equal(t, 0, g.PendingLen())
	require.Equal(t, uint64(2), a2.Lamport)
}

func TestPendingBoundsAndTTL(t *testing.T) {
	p, err := NewPending(2, time.Second)
	require.NoError(t, err)

	key := newKey(t)
	var evs []*event.Event
	for i := 0; i < 3; i++ {
		ev := post(t, key, string(rune('a'+i)), post(t, key, "missing "+string(rune('a'+i))).ID)
		evs = append(evs, ev)
		p.Add(ev, ev.Prev, "")
	}

	require.Equal(t, 2, p.Len())
	require.Equal(t, 1, p.Evicted())
	require.False(t, p.Has(evs[0].ID), "oldest entry is evicted")
	require.Len(t, p.Missing(), 2, "evicted entry no longer waits")

	dropped := p.Expire(time.Now().Add(2 * time.Second))
	require.Len(t, dropped, 2)
	require.Equal(t, 0, p.Len())
	require.Empty(t, p.Missing())
}

func TestLocalPrev(t *testing.T) {
	g := initGraph(t, 10, time.Minute)
	alice, bob := newKey(t), newKey(t)

	a0 := post(t, alice, "a0")
	a1 := post(t, alice, "a1", a0.ID)
	a2 := post(t, alice, "a2", a0.ID)
	b0 := post(t, bob, "b0")

	for _, ev := range []*event.Event{a0, a1, a2, b0} {
		_, err := g.Admit(ev)
		require.NoError(t, err)
	}

	prev, err := g.LocalPrev(keys.PublicKeyHex(alice.PubKey()), []string{b0.ID, b0.ID})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a1.ID, a2.ID, b0.ID}, prev)

	// merging both branches leaves a single head
	a3 := post(t, alice, "a3", prev...)
	_, err = g.Admit(a3)
	require.NoError(t, err)

	heads, err := g.Heads()
	require.NoError(t, err)
	require.Equal(t, []string{a3.ID}, heads[keys.PublicKeyHex(alice.PubKey())])
	require.Equal(t, []string{b0.ID}, heads[keys.PublicKeyHex(bob.PubKey())])

	_, err = g.LocalPrev(keys.PublicKeyHex(alice.PubKey()), []string{post(t, bob, "unknown").ID})
	require.True(t, common.IsRejection(err, common.ParentMissing))
}
