package replication

import (
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/reedsolomon"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/merkle"
)

// FragmentCID is the content id of a fragment: the merkle root over its
// SegmentSize segments. Storage proofs are checked against it.
func FragmentCID(data []byte) string {
	return merkle.RootHex(merkle.Segments(data, SegmentSize))
}

// ChunkRoot is the merkle root over the fragment CIDs of a chunk.
func ChunkRoot(cids []string) (string, error) {
	leaves := make([][]byte, len(cids))
	for i, c := range cids {
		b, err := hex.DecodeString(c)
		if err != nil {
			return "", fmt.Errorf("fragment cid %d: %v", i, err)
		}
		leaves[i] = b
	}
	return merkle.RootHex(leaves), nil
}

// coders caches one encoder per (k, m) pair. Manifests from other nodes may
// use parameters different from ours.
type coders struct {
	lock sync.Mutex
	encs map[[2]int]reedsolomon.Encoder
}

func newCoders() *coders {
	return &coders{encs: make(map[[2]int]reedsolomon.Encoder)}
}

func (c *coders) get(k, m int) (reedsolomon.Encoder, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	key := [2]int{k, m}
	if enc, ok := c.encs[key]; ok {
		return enc, nil
	}

	enc, err := reedsolomon.New(k, m-k)
	if err != nil {
		return nil, err
	}
	c.encs[key] = enc

	return enc, nil
}

// encode splits chunk into k data fragments and m-k parity fragments.
func (c *coders) encode(k, m int, chunk []byte) ([][]byte, error) {
	enc, err := c.get(k, m)
	if err != nil {
		return nil, err
	}

	// Split reuses the input buffer for the data shards.
	buf := make([]byte, len(chunk))
	copy(buf, chunk)

	shards, err := enc.Split(buf)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}

	return shards, nil
}

// reconstruct fills the nil entries of shards. At least k entries must be
// present.
func (c *coders) reconstruct(mf *event.ManifestPayload, shards [][]byte) error {
	enc, err := c.get(mf.K, mf.M)
	if err != nil {
		return err
	}
	return enc.Reconstruct(shards)
}

// join writes the original chunk, recovering data shards as needed.
func (c *coders) join(w io.Writer, mf *event.ManifestPayload, shards [][]byte) error {
	enc, err := c.get(mf.K, mf.M)
	if err != nil {
		return err
	}
	if err := enc.ReconstructData(shards); err != nil {
		return err
	}
	return enc.Join(w, shards, int(mf.ChunkSize))
}

// buildManifest encodes one chunk and describes it. The returned fragments are
// in manifest order.
func (c *coders) buildManifest(conf Config, blobCID string, index, count int, blobSize int, chunk []byte) (*event.ManifestPayload, [][]byte, error) {
	shards, err := c.encode(conf.K, conf.M, chunk)
	if err != nil {
		return nil, nil, err
	}

	cids := make([]string, len(shards))
	refs := make([]event.FragmentRef, len(shards))
	for i, s := range shards {
		cids[i] = FragmentCID(s)
		refs[i] = event.FragmentRef{CID: cids[i]}
	}

	root, err := ChunkRoot(cids)
	if err != nil {
		return nil, nil, err
	}

	mf := &event.ManifestPayload{
		BlobCID:       blobCID,
		ChunkIndex:    uint32(index),
		ChunkCount:    uint32(count),
		ChunkSize:     uint32(len(chunk)),
		FragmentSize:  uint32(len(shards[0])),
		BlobSize:      uint64(blobSize),
		ChunkRoot:     root,
		Fragments:     refs,
		K:             conf.K,
		M:             conf.M,
		TargetHolders: conf.TargetHolders,
	}

	return mf, shards, nil
}

// checkFragment verifies that data is fragment i of mf.
func checkFragment(mf *event.ManifestPayload, i int, data []byte, peer string) error {
	cid := mf.Fragments[i].CID
	if len(data) != int(mf.FragmentSize) || FragmentCID(data) != cid {
		return NewFragmentCorruptErr(cid, peer)
	}
	return nil
}
