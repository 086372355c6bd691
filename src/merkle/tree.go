// Package merkle implements binary merkle trees over byte leaves with inclusion
// proofs. Leaves and inner nodes are hashed with distinct prefixes so that a
// leaf can never be passed off as an inner node. Odd levels duplicate their
// last node.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Tree keeps every level of the tree, leaf hashes first, so proofs can be
// produced without rehashing.
type Tree struct {
	levels [][][]byte
}

// Build constructs the tree over leaves. An empty input is treated as a single
// empty leaf.
func Build(leaves [][]byte) *Tree {
	if len(leaves) == 0 {
		leaves = [][]byte{{}}
	}

	level := make([][]byte, len(leaves))
	for i, l := range leaves {
		level[i] = LeafHash(l)
	}

	t := &Tree{}
	for len(level) > 1 {
		t.levels = append(t.levels, level)
		level = nextLevel(level)
	}
	t.levels = append(t.levels, level)

	return t
}

// Root ...
func (t *Tree) Root() []byte {
	return t.levels[len(t.levels)-1][0]
}

// RootHex ...
func (t *Tree) RootHex() string {
	return hex.EncodeToString(t.Root())
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Proof returns the path from leaf i to the root.
func (t *Tree) Proof(i int) ([]Step, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("leaf %d out of range [0,%d)", i, t.Len())
	}

	var path []Step
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling >= len(level) {
			sibling = i
		}
		path = append(path, Step{
			Left: sibling < i,
			Hash: level[sibling],
		})
		i /= 2
	}

	return path, nil
}

// LeafHash ...
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

// NodeHash ...
func NodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func nextLevel(level [][]byte) [][]byte {
	if len(level)%2 != 0 {
		level = append(level, level[len(level)-1])
	}
	next := make([][]byte, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = NodeHash(level[i], level[i+1])
	}
	return next
}
