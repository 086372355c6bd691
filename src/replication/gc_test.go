package replication

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/weave/src/event"
	"github.com/stretchr/testify/require"
)

func TestCollectGarbage(t *testing.T) {
	n := newTestNode(t, 0, testConfig())
	ctx := context.Background()

	orphan := randomBlob(100)
	orphanCID := FragmentCID(orphan)
	require.NoError(t, n.store.PutFragment(orphanCID, orphan))

	// without peers every fragment stays local
	_, manifests, err := n.mgr.Upload(ctx, randomBlob(3000))
	require.NoError(t, err)
	p, err := manifests[0].DecodePayload()
	require.NoError(t, err)
	unused := p.(*event.ManifestPayload)

	usedCID, used, err := n.mgr.Upload(ctx, randomBlob(3000))
	require.NoError(t, err)
	_, err = n.Publish(event.TypeFile, &event.FilePayload{
		Name:     "report.pdf",
		Size:     3000,
		MimeType: "application/pdf",
		BlobCID:  usedCID,
	}, nil)
	require.NoError(t, err)

	holders, err := n.store.Holders(manifests[0].ID)
	require.NoError(t, err)
	require.Contains(t, holders, n.addr)

	deleted, err := n.mgr.CollectGarbage(time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{orphanCID}, deleted)

	require.NoError(t, n.store.Pin(unused.Fragments[0].CID))
	release := n.mgr.hold(unused.Fragments[1].CID)

	deleted, err = n.mgr.CollectGarbage(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{unused.Fragments[2].CID, unused.Fragments[3].CID}, deleted)

	release()
	deleted, err = n.mgr.CollectGarbage(time.Now().Add(2 * time.Hour))
	require.NoError(t, err)
	require.Equal(t, []string{unused.Fragments[1].CID}, deleted)

	// the referenced blob is intact
	p, err = used[0].DecodePayload()
	require.NoError(t, err)
	for _, f := range p.(*event.ManifestPayload).Fragments {
		ok, err := n.store.HasFragment(f.CID)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// only the pinned fragment is still held
	holders, err = n.store.Holders(manifests[0].ID)
	require.NoError(t, err)
	require.Equal(t, []int{0}, holders[n.addr].Fragments)
}

func TestCollectGarbageRespectsHold(t *testing.T) {
	n := newTestNode(t, 0, testConfig())

	data := randomBlob(100)
	cid := FragmentCID(data)
	require.NoError(t, n.store.PutFragment(cid, data))

	release := n.mgr.hold(cid)
	ok, err := n.mgr.deleteIdle(cid)
	require.NoError(t, err)
	require.False(t, ok)
	release()

	ok, err = n.mgr.deleteIdle(cid)
	require.NoError(t, err)
	require.True(t, ok)

	// A fragment held by a concurrent repair survives every collection that
	// runs while it is held.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := n.mgr.CollectGarbage(time.Now()); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		release := n.mgr.hold(cid)
		require.NoError(t, n.store.PutFragment(cid, data))
		has, err := n.store.HasFragment(cid)
		require.NoError(t, err)
		require.True(t, has)
		release()
	}

	close(stop)
	wg.Wait()
}
