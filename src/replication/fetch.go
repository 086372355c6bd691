package replication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FetchBlob writes the blob identified by cid to w. Blobs stored locally are
// copied directly; others are rebuilt chunk by chunk from fragments held
// across the network, so w receives data before the whole blob is fetched.
// It returns ErrBlobNotFound while the manifests have not reached this node.
func (m *Manager) FetchBlob(ctx context.Context, cid string, w io.Writer) error {
	ok, err := m.store.HasBlob(cid)
	if err != nil {
		return err
	}
	if ok {
		data, err := m.store.GetBlob(cid)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	evs, mfs, err := m.chunks(cid)
	if err != nil {
		return err
	}
	if evs == nil {
		return ErrBlobNotFound
	}

	h := sha256.New()
	out := io.MultiWriter(w, h)

	for i, ev := range evs {
		if err := m.fetchChunk(ctx, ev.ID, mfs[i], out); err != nil {
			return errors.Wrapf(err, "chunk %d", i)
		}
	}

	if got := hex.EncodeToString(h.Sum(nil)); got != cid {
		return errors.Errorf("blob %s reassembled to %s", cid, got)
	}

	return nil
}

func (m *Manager) fetchChunk(ctx context.Context, manifest string, mf *event.ManifestPayload, w io.Writer) error {
	release := m.hold(fragmentCIDs(mf)...)
	defer release()

	shards, err := m.gather(ctx, manifest, mf, mf.K)
	if err != nil {
		return err
	}

	return m.coders.join(w, mf, shards)
}

// gather collects need verified fragments of a chunk: local ones first, then
// from announced holders, then from any peer. Corrupt fragments are dropped
// and their holder is penalised. Missing entries of the result are nil.
func (m *Manager) gather(ctx context.Context, manifest string, mf *event.ManifestPayload, need int) ([][]byte, error) {
	shards := make([][]byte, mf.M)
	have := 0

	for i, f := range mf.Fragments {
		data, err := m.store.GetFragment(f.CID)
		if err != nil {
			continue
		}
		if err := checkFragment(mf, i, data, ""); err != nil {
			m.logger.WithField("cid", f.CID).Warn("Dropping corrupt local fragment")
			m.store.DeleteFragment(f.CID)
			continue
		}
		shards[i] = data
		if have++; have >= need {
			return shards, nil
		}
	}

	holders, err := m.availableHolders(manifest)
	if err != nil {
		return nil, err
	}

	for i := range mf.Fragments {
		if shards[i] != nil {
			continue
		}

		var partial []byte
		for _, h := range holders {
			if h.Peer == m.self || !h.Has(i) {
				continue
			}
			data, err := m.fetchFragment(ctx, h.Peer, mf, i, partial, m.conf.FetchRetries)
			if err == nil {
				shards[i] = data
				break
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			partial = data
			if IsFragmentCorrupt(err) {
				m.corrupt(manifest, h.Peer, err)
			}
		}

		if shards[i] != nil {
			if have++; have >= need {
				return shards, nil
			}
		}
	}

	// Content addressing lets any peer serve a fragment, announced or not.
	for _, peer := range m.gossip.Targets(m.self, gossip.StateOK) {
		for i := range mf.Fragments {
			if shards[i] != nil {
				continue
			}
			data, err := m.fetchFragment(ctx, peer, mf, i, nil, 0)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				if IsFragmentCorrupt(err) {
					m.corrupt(manifest, peer, err)
				}
				continue
			}
			shards[i] = data
			if err := m.store.AddHolder(manifest, peer, []int{i}); err != nil {
				return nil, err
			}
			if have++; have >= need {
				return shards, nil
			}
		}
	}

	m.logger.WithFields(logrus.Fields{
		"manifest": manifest,
		"have":     have,
		"need":     need,
	}).Debug("Not enough fragments")

	return nil, ErrInsufficientDonors
}

// fetchFragment reads fragment i of mf from peer in FetchBlockSize ranges,
// resuming after partial. On a transport error it returns the bytes received
// so far, which another holder can complete.
func (m *Manager) fetchFragment(ctx context.Context, peer string, mf *event.ManifestPayload, i int, partial []byte, retries uint64) ([]byte, error) {
	ctx, cancel := m.gossip.PeerContext(ctx, peer)
	defer cancel()

	cid := mf.Fragments[i].CID
	size := int(mf.FragmentSize)

	buf := make([]byte, len(partial), size)
	copy(buf, partial)

	for len(buf) < size {
		req := &net.FetchFragmentRequest{
			From:   m.self,
			CID:    cid,
			Offset: len(buf),
			Length: m.conf.FetchBlockSize,
		}

		var resp net.FetchFragmentResponse
		err := gossip.Retry(ctx, retries, func() error {
			rctx, cancel := context.WithTimeout(ctx, m.conf.Timeout)
			defer cancel()
			return m.trans.FetchFragment(rctx, peer, req, &resp)
		})
		if err != nil {
			return buf, err
		}
		m.reached(peer, nil)

		if resp.Total != size || len(resp.Data) == 0 || len(buf)+len(resp.Data) > size {
			return nil, NewFragmentCorruptErr(cid, peer)
		}
		buf = append(buf, resp.Data...)
	}

	if err := checkFragment(mf, i, buf, peer); err != nil {
		return nil, err
	}

	return buf, nil
}

// corrupt forgets peer as a holder of manifest and counts it against the
// peer's score.
func (m *Manager) corrupt(manifest, peer string, err error) {
	m.logger.WithError(err).WithField("peer", peer).Warn("Corrupt fragment")
	if err := m.store.RemoveHolder(manifest, peer); err != nil {
		m.logger.WithError(err).Error("Removing holder")
	}
	m.gossip.Misbehaved(peer)
}

func fragmentCIDs(mf *event.ManifestPayload) []string {
	res := make([]string, len(mf.Fragments))
	for i, f := range mf.Fragments {
		res[i] = f.CID
	}
	return res
}
