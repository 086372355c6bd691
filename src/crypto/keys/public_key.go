package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// FromPublicKey outputs the public key in compressed form.
func FromPublicKey(pub *btcec.PublicKey) []byte {
	if pub == nil || pub.X == nil || pub.Y == nil {
		return nil
	}
	return pub.SerializeCompressed()
}

// ToPublicKey parses a compressed or uncompressed public key.
func ToPublicKey(pub []byte) (*btcec.PublicKey, error) {
	if len(pub) == 0 {
		return nil, fmt.Errorf("empty public key")
	}
	return btcec.ParsePubKey(pub, Curve())
}

// PublicKeyHex returns the lowercase hexadecimal representation of the
// compressed public key. This is the author identifier of events.
func PublicKeyHex(pub *btcec.PublicKey) string {
	return hex.EncodeToString(FromPublicKey(pub))
}

// ParsePublicKeyHex is the inverse of PublicKeyHex. It is strict about the
// encoding so that a given key has exactly one textual form.
func ParsePublicKeyHex(s string) (*btcec.PublicKey, error) {
	if len(s) != 2*PublicKeySize || strings.ToLower(s) != s {
		return nil, fmt.Errorf("public key must be %d lowercase hex characters", 2*PublicKeySize)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return ToPublicKey(raw)
}
