package merkle

import (
	"bytes"
	"encoding/hex"
)

// Step is one sibling on the path from a leaf to the root. Left is true when
// the sibling sits on the left of the running hash.
type Step struct {
	Left bool
	Hash []byte
}

// Verify checks that leaf is included in the tree with the given root.
func Verify(leaf []byte, path []Step, root []byte) bool {
	current := LeafHash(leaf)
	for _, s := range path {
		if s.Left {
			current = NodeHash(s.Hash, current)
		} else {
			current = NodeHash(current, s.Hash)
		}
	}
	return bytes.Equal(current, root)
}

// VerifyHex is Verify with a hex encoded root.
func VerifyHex(leaf []byte, path []Step, root string) bool {
	r, err := hex.DecodeString(root)
	if err != nil {
		return false
	}
	return Verify(leaf, path, r)
}

// Segments splits data into consecutive pieces of at most size bytes. The
// pieces share the backing array of data.
func Segments(data []byte, size int) [][]byte {
	var res [][]byte
	for len(data) > size {
		res = append(res, data[:size])
		data = data[size:]
	}
	return append(res, data)
}

// RootHex is a shortcut for Build(leaves).RootHex().
func RootHex(leaves [][]byte) string {
	return Build(leaves).RootHex()
}
