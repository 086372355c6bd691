package store

import (
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func initBadgerStore(t *testing.T, quota uint64) *BadgerStore {
	store, err := NewBadgerStore(t.TempDir(), 100, quota, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type author struct {
	key   *btcec.PrivateKey
	hex   string
	nonce uint64
}

func newAuthor(t *testing.T) *author {
	key, err := keys.GenerateKey()
	require.NoError(t, err)
	return &author{key: key, hex: keys.PublicKeyHex(key.PubKey())}
}

func (a *author) post(t *testing.T, content string, lamport uint64, prev ...string) *event.Event {
	ev, err := event.New(event.TypePost, &event.PostPayload{Content: content}, prev, 0, a.key)
	require.NoError(t, err)
	ev.Lamport = lamport
	return ev
}

func (a *author) comment(t *testing.T, parent string, lamport uint64, prev ...string) *event.Event {
	ev, err := event.New(event.TypeComment, &event.CommentPayload{ParentID: parent, Content: "re"}, prev, 0, a.key)
	require.NoError(t, err)
	ev.Lamport = lamport
	return ev
}

func (a *author) mint(t *testing.T, amount uint64, lamport uint64, prev ...string) *event.Event {
	a.nonce++
	ev, err := event.New(event.TypeToken, &event.TokenPayload{Action: event.TokenMint, Amount: amount}, prev, a.nonce, a.key)
	require.NoError(t, err)
	ev.Lamport = lamport
	return ev
}

func TestPutGetEvent(t *testing.T) {
	store := initBadgerStore(t, 0)
	alice := newAuthor(t)

	ev := alice.post(t, "hello", 0)

	isNew, err := store.PutEvent(ev)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = store.PutEvent(ev)
	require.NoError(t, err)
	require.False(t, isNew, "second put must be a no-op")
	require.Equal(t, uint64(1), store.LastSeq())

	got, err := store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, ev.ID, got.ID)
	require.Equal(t, uint64(0), got.Lamport)
	require.NoError(t, got.Verify())

	has, err := store.HasEvent(ev.ID)
	require.NoError(t, err)
	require.True(t, has)

	_, err = store.GetEvent(alice.post(t, "unknown", 0).ID)
	require.True(t, common.IsStore(err, common.KeyNotFound), "got %v", err)
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	alice := newAuthor(t)

	store, err := NewBadgerStore(dir, 10, 0, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)

	genesis := alice.post(t, "genesis", 0)
	second := alice.mint(t, 5, 1, genesis.ID)

	for _, ev := range []*event.Event{genesis, second} {
		_, err := store.PutEvent(ev)
		require.NoError(t, err)
	}
	require.NoError(t, store.PutFragment(second.ID, []byte("abc")))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir, 10, 0, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)
	defer store.Close()

	require.Equal(t, uint64(2), store.LastSeq())
	require.Equal(t, uint64(3), store.UsedBytes())

	got, err := store.GetEvent(second.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), got.Lamport)

	nonce, err := store.LastNonce(alice.hex)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestHeads(t *testing.T) {
	store := initBadgerStore(t, 0)
	alice := newAuthor(t)
	bob := newAuthor(t)

	a0 := alice.post(t, "a0", 0)
	b0 := bob.post(t, "b0", 0)
	a1 := alice.post(t, "a1", 1, a0.ID)
	a2 := alice.post(t, "a2", 1, a0.ID)
	b1 := bob.post(t, "b1", 2, b0.ID, a1.ID)

	for _, ev := range []*event.Event{a0, b0, a1, a2, b1} {
		_, err := store.PutEvent(ev)
		require.NoError(t, err)
	}

	heads, err := store.Heads(alice.hex)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{a1.ID, a2.ID}, heads, "a foreign child does not retire a head")

	heads, err = store.Heads(bob.hex)
	require.NoError(t, err)
	require.Equal(t, []string{b1.ID}, heads)

	authors, err := store.Authors()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{alice.hex, bob.hex}, authors)
}

func TestLastNonce(t *testing.T) {
	store := initBadgerStore(t, 0)
	alice := newAuthor(t)

	nonce, err := store.LastNonce(alice.hex)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)

	g := alice.post(t, "g", 0)
	m1 := alice.mint(t, 1, 1, g.ID)
	m2 := alice.mint(t, 1, 2, m1.ID)
	p := alice.post(t, "not nonce bearing", 3, m2.ID)

	for _, ev := range []*event.Event{g, m1, m2, p} {
		_, err := store.PutEvent(ev)
		require.NoError(t, err)
	}

	nonce, err = store.LastNonce(alice.hex)
	require.NoError(t, err)
	require.Equal(t, uint64(2), nonce)
}

func TestQuery(t *testing.T) {
	store := initBadgerStore(t, 0)
	alice := newAuthor(t)
	bob := newAuthor(t)

	root := alice.post(t, "root", 0)
	_, err := store.PutEvent(root)
	require.NoError(t, err)

	prev := root.ID
	var comments []string
	for i := 0; i < 7; i++ {
		c := bob.comment(t, root.ID, uint64(i+1), prev)
		_, err := store.PutEvent(c)
		require.NoError(t, err)
		comments = append(comments, c.ID)
		prev = c.ID
	}

	t.Run("by ref", func(t *testing.T) {
		var got []string
		cursor := ""
		for {
			page, err := store.Query(Query{Ref: root.ID}, cursor, 3)
			require.NoError(t, err)
			for _, ev := range page.Events {
				got = append(got, ev.ID)
			}
			if page.Cursor == "" {
				break
			}
			cursor = page.Cursor
		}
		require.Equal(t, comments, got)
	})

	t.Run("by author and type", func(t *testing.T) {
		page, err := store.Query(Query{Author: alice.hex}, "", 0)
		require.NoError(t, err)
		require.Len(t, page.Events, 1)

		page, err = store.Query(Query{Author: bob.hex, Type: event.TypePost}, "", 0)
		require.NoError(t, err)
		require.Empty(t, page.Events)

		page, err = store.Query(Query{Type: event.TypeComment}, "", 0)
		require.NoError(t, err)
		require.Len(t, page.Events, 7)
	})

	t.Run("by time", func(t *testing.T) {
		page, err := store.Query(Query{From: root.Timestamp, To: root.Timestamp + 60000}, "", 0)
		require.NoError(t, err)
		require.Len(t, page.Events, 8)

		page, err = store.Query(Query{From: 1, To: 2}, "", 0)
		require.NoError(t, err)
		require.Empty(t, page.Events)
	})

	t.Run("iterator restart", func(t *testing.T) {
		it := store.Iterate(Query{Type: event.TypeComment}, "")
		require.True(t, it.Next())
		require.True(t, it.Next())
		require.Equal(t, comments[1], it.Event().ID)

		resumed := NewIterator(store, Query{Type: event.TypeComment}, it.Cursor(), 2)
		var rest []string
		for resumed.Next() {
			rest = append(rest, resumed.Event().ID)
		}
		require.NoError(t, resumed.Err())
		require.Equal(t, comments[2:], rest)
	})

	t.Run("bad cursor", func(t *testing.T) {
		_, err := store.Query(Query{}, "zz", 1)
		require.Error(t, err)
	})
}

func TestSince(t *testing.T) {
	store := initBadgerStore(t, 0)
	alice := newAuthor(t)

	prev := []string{}
	for i := 0; i < 5; i++ {
		ev := alice.post(t, "x", uint64(i), prev...)
		_, err := store.PutEvent(ev)
		require.NoError(t, err)
		prev = []string{ev.ID}
	}

	recs, err := store.Since(2, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, uint64(3), recs[0].Seq)

	recs, err = store.Since(0, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = store.Since(5, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestFragmentsAndQuota(t *testing.T) {
	store := initBadgerStore(t, 10)

	require.NoError(t, store.PutFragment("f1", []byte("123456")))
	require.NoError(t, store.PutFragment("f1", []byte("123456")), "same cid twice is a no-op")
	require.Equal(t, uint64(6), store.UsedBytes())

	err := store.PutFragment("f2", []byte("123456"))
	require.True(t, common.IsStore(err, common.QuotaExceeded), "got %v", err)

	require.NoError(t, store.PutBlob("b1", []byte("1234")))

	frags, err := store.Fragments()
	require.NoError(t, err)
	require.Equal(t, []string{"f1"}, frags)

	require.NoError(t, store.DeleteFragment("f1"))
	require.Equal(t, uint64(4), store.UsedBytes())

	_, err = store.GetFragment("f1")
	require.True(t, common.IsStore(err, common.KeyNotFound))

	data, err := store.GetBlob("b1")
	require.NoError(t, err)
	require.Equal(t, []byte("1234"), data)
}

func TestHoldersPinsSnapshots(t *testing.T) {
	store := initBadgerStore(t, 0)

	require.NoError(t, store.AddHolder("m1", "p1", []int{3, 1}))
	require.NoError(t, store.AddHolder("m1", "p1", []int{2, 3}))
	require.NoError(t, store.AddHolder("m1", "p2", []int{0}))
	require.NoError(t, store.AddHolder("m10", "p3", []int{0}))

	holders, err := store.Holders("m1")
	require.NoError(t, err)
	require.Len(t, holders, 2)
	require.Equal(t, []int{1, 2, 3}, holders["p1"].Fragments)
	require.True(t, holders["p2"].Has(0))

	require.NoError(t, store.RemoveHolder("m1", "p1"))
	holders, err = store.Holders("m1")
	require.NoError(t, err)
	require.Len(t, holders, 1)

	pinned, err := store.IsPinned("c")
	require.NoError(t, err)
	require.False(t, pinned)
	require.NoError(t, store.Pin("c"))
	pinned, err = store.IsPinned("c")
	require.NoError(t, err)
	require.True(t, pinned)
	require.NoError(t, store.Unpin("c"))

	_, _, err = store.LastSnapshot()
	require.True(t, common.IsStore(err, common.Empty))

	require.NoError(t, store.PutSnapshot(5, []byte("five")))
	require.NoError(t, store.PutSnapshot(12, []byte("twelve")))

	index, data, err := store.LastSnapshot()
	require.NoError(t, err)
	require.Equal(t, uint64(12), index)
	require.Equal(t, []byte("twelve"), data)
}
