package event

import (
	"encoding/json"

	"github.com/gowebpki/jcs"
	"github.com/mosaicnetworks/weave/src/crypto"
)

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// CanonicalizeRaw canonicalizes an already encoded JSON document.
func CanonicalizeRaw(raw []byte) ([]byte, error) {
	return jcs.Transform(raw)
}

// Hash returns the hex encoded SHA256 of canonical bytes.
func Hash(canonical []byte) string {
	return crypto.SHA256Hex(canonical)
}
