package replication

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/merkle"
	"github.com/mosaicnetworks/weave/src/net"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Prove builds a signed inclusion proof of one segment of a local fragment.
func (m *Manager) Prove(cid string, segment int, nonce string) (*net.StorageProof, error) {
	data, err := m.store.GetFragment(cid)
	if err != nil {
		return nil, err
	}

	segs := merkle.Segments(data, SegmentSize)
	if segment < 0 || segment >= len(segs) {
		return nil, errors.Errorf("segment %d out of range for %d segments", segment, len(segs))
	}

	path, err := merkle.Build(segs).Proof(segment)
	if err != nil {
		return nil, err
	}

	proof := &net.StorageProof{
		Fragment:  cid,
		Segment:   segment,
		Data:      segs[segment],
		Path:      path,
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		Holder:    m.pubKey,
	}

	b, err := proofBytes(proof)
	if err != nil {
		return nil, err
	}

	proof.Sig, err = keys.SignHex(m.key, b)
	if err != nil {
		return nil, err
	}

	return proof, nil
}

// VerifyProof checks that p answers the challenge (cid, segment, nonce), that
// the segment belongs to the fragment, that the holder signed it, and that it
// is no older than maxAge at now.
func VerifyProof(p *net.StorageProof, cid string, segment int, nonce string, maxAge time.Duration, now time.Time) error {
	if p.Fragment != cid || p.Segment != segment || p.Nonce != nonce {
		return errors.New("proof does not answer the challenge")
	}

	if maxAge > 0 {
		age := now.Sub(time.Unix(0, p.Timestamp*int64(time.Millisecond)))
		if age > maxAge || age < -maxAge {
			return errors.Errorf("proof timestamp off by %v", age)
		}
	}

	if !merkle.VerifyHex(p.Data, p.Path, cid) {
		return NewFragmentCorruptErr(cid, "")
	}

	b, err := proofBytes(p)
	if err != nil {
		return err
	}
	if !keys.VerifyHex(p.Holder, b, p.Sig) {
		return errors.New("invalid proof signature")
	}

	return nil
}

func proofBytes(p *net.StorageProof) ([]byte, error) {
	c := *p
	c.Sig = ""
	return event.Canonicalize(&c)
}

// Challenge asks peer to prove it still holds fragment i of a manifest. A
// wrong proof removes the peer from the holders and counts against its score;
// a good one refreshes its entry.
func (m *Manager) Challenge(ctx context.Context, peer, manifest string, i int) error {
	mf, err := m.manifest(manifest)
	if err != nil {
		return err
	}
	if i < 0 || i >= len(mf.Fragments) {
		return errors.Errorf("fragment %d out of range", i)
	}

	cid := mf.Fragments[i].CID
	segments := (int(mf.FragmentSize) + SegmentSize - 1) / SegmentSize

	req := &net.ChallengeRequest{
		From:     m.self,
		Fragment: cid,
		Segment:  rand.Intn(segments),
		Nonce:    uuid.New().String(),
	}

	ctx, cancel := m.gossip.PeerContext(ctx, peer)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, m.conf.Timeout)
	defer cancelTimeout()

	var resp net.ChallengeResponse
	err = m.trans.Challenge(ctx, peer, req, &resp)
	m.reached(peer, err)
	if err != nil {
		return err
	}

	err = VerifyProof(&resp.Proof, cid, req.Segment, req.Nonce, m.conf.ProofMaxAge, time.Now())
	if err == nil {
		if p, ok := m.peers.Get(peer); ok && p.PubKeyHex != "" && p.PubKeyHex != resp.Proof.Holder {
			err = errors.Errorf("proof signed by %s", resp.Proof.Holder)
		}
	}
	if err != nil {
		m.corrupt(manifest, peer, err)
		return err
	}

	return m.store.AddHolder(manifest, peer, []int{i})
}

// AuditReport summarises one audit pass.
type AuditReport struct {
	Challenged int
	Failed     int
}

// Audit challenges one random fragment of every remote holder of the
// manifests this node is responsible for.
func (m *Manager) Audit(ctx context.Context) (AuditReport, error) {
	var report AuditReport

	ids, err := m.responsibleManifests()
	if err != nil {
		return report, err
	}

	for _, id := range ids {
		holders, err := m.store.Holders(id)
		if err != nil {
			return report, err
		}
		for _, h := range holders {
			if h.Peer == m.self || len(h.Fragments) == 0 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return report, err
			}

			report.Challenged++
			i := h.Fragments[rand.Intn(len(h.Fragments))]
			if err := m.Challenge(ctx, h.Peer, id, i); err != nil {
				report.Failed++
				m.logger.WithError(err).WithFields(logrus.Fields{
					"peer":     h.Peer,
					"manifest": id,
				}).Debug("Challenge failed")
			}
		}
	}

	return report, nil
}

func (m *Manager) responsibleManifests() ([]string, error) {
	var ids []string
	it := m.store.Iterate(store.Query{Type: event.TypeManifest}, "")
	for it.Next() {
		ok, err := m.responsible(it.Event())
		if err != nil {
			return nil, err
		}
		if ok {
			ids = append(ids, it.Event().ID)
		}
	}
	return ids, it.Err()
}
