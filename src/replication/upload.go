package replication

import (
	"context"
	"sync"

	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
)

// Upload erasure-codes data, publishes one manifest per chunk and seeds the
// fragments to peers. Fragments no peer accepted stay on the local node,
// which announces itself as their holder. Uploading a blob whose manifests
// are already known returns them unchanged.
func (m *Manager) Upload(ctx context.Context, data []byte) (string, []*event.Event, error) {
	if len(data) == 0 {
		return "", nil, ErrEmptyBlob
	}

	blobCID := crypto.SHA256Hex(data)

	existing, _, err := m.chunks(blobCID)
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return blobCID, existing, nil
	}

	size := m.conf.ChunkSize
	count := (len(data) + size - 1) / size

	manifests := make([]*event.Event, 0, count)
	for i := 0; i < count; i++ {
		end := (i + 1) * size
		if end > len(data) {
			end = len(data)
		}

		ev, err := m.uploadChunk(ctx, blobCID, i, count, len(data), data[i*size:end])
		if err != nil {
			return "", nil, err
		}
		manifests = append(manifests, ev)
	}

	m.logger.WithFields(logrus.Fields{
		"blob":   blobCID,
		"size":   len(data),
		"chunks": count,
	}).Info("Uploaded blob")

	return blobCID, manifests, nil
}

func (m *Manager) uploadChunk(ctx context.Context, blobCID string, index, count, blobSize int, chunk []byte) (*event.Event, error) {
	mf, shards, err := m.coders.buildManifest(m.conf, blobCID, index, count, blobSize, chunk)
	if err != nil {
		return nil, err
	}

	cids := fragmentCIDs(mf)
	release := m.hold(cids...)
	defer release()

	for i, s := range shards {
		if err := m.store.PutFragment(cids[i], s); err != nil {
			return nil, err
		}
	}

	ev, err := m.publisher.Publish(event.TypeManifest, mf, nil)
	if err != nil {
		return nil, err
	}

	acked := m.seed(ctx, ev.ID, mf, shards)

	var kept []int
	for i, cid := range cids {
		if acked[i] {
			if err := m.store.DeleteFragment(cid); err != nil {
				return nil, err
			}
			continue
		}
		kept = append(kept, i)
	}

	if len(kept) > 0 {
		if err := m.announce(ev.ID, kept); err != nil {
			return nil, err
		}
	}

	m.logger.WithFields(logrus.Fields{
		"manifest": ev.ID,
		"chunk":    index,
		"seeded":   len(cids) - len(kept),
		"kept":     len(kept),
	}).Debug("Uploaded chunk")

	return ev, nil
}

// seed pushes every fragment to one of the selected peers, spreading them
// round robin over peers from distinct network prefixes where possible. It
// returns the fragments that at least one peer accepted.
func (m *Manager) seed(ctx context.Context, manifest string, mf *event.ManifestPayload, shards [][]byte) map[int]bool {
	n := mf.TargetHolders
	if n > mf.M {
		n = mf.M
	}

	targets := m.candidates(n, int(mf.FragmentSize), map[string]bool{m.self: true}, false)
	if len(targets) == 0 {
		m.logger.WithField("manifest", manifest).Warn("No peers to seed fragments to")
		return nil
	}

	var (
		lock  sync.Mutex
		acked = make(map[int]bool)
		wg    sync.WaitGroup
	)

	for i := range shards {
		peer := targets[i%len(targets)]
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			err := m.push(ctx, manifest, i, mf.Fragments[i].CID, shards[i], peer)
			if err != nil {
				m.logger.WithError(err).WithFields(logrus.Fields{
					"peer":  peer,
					"index": i,
				}).Debug("Seeding fragment failed")
				return
			}
			lock.Lock()
			acked[i] = true
			lock.Unlock()
		}(i, peer)
	}
	wg.Wait()

	return acked
}

// chunks returns the manifest events of a blob ordered by chunk index, or nil
// if some chunk has no known manifest. When a chunk was described more than
// once, the manifest first in the total order wins.
func (m *Manager) chunks(blobCID string) ([]*event.Event, []*event.ManifestPayload, error) {
	var (
		evs   []*event.Event
		mfs   []*event.ManifestPayload
		count uint32
	)

	it := m.store.Iterate(store.Query{Ref: blobCID, Type: event.TypeManifest}, "")
	for it.Next() {
		ev := it.Event()
		p, err := ev.DecodePayload()
		if err != nil {
			continue
		}
		mf := p.(*event.ManifestPayload)
		if mf.BlobCID != blobCID {
			continue
		}
		if evs == nil {
			count = mf.ChunkCount
			evs = make([]*event.Event, count)
			mfs = make([]*event.ManifestPayload, count)
		}
		if mf.ChunkCount != count {
			continue
		}
		i := mf.ChunkIndex
		if evs[i] == nil || event.Less(ev, evs[i]) {
			evs[i] = ev
			mfs[i] = mf
		}
	}
	if err := it.Err(); err != nil {
		return nil, nil, err
	}

	for _, ev := range evs {
		if ev == nil {
			return nil, nil, nil
		}
	}

	return evs, mfs, nil
}
