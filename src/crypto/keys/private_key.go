package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
)

// PrivateKeySize is the length of a raw private key scalar.
const PrivateKeySize = 32

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*btcec.PrivateKey, error) {
	return btcec.NewPrivateKey(Curve())
}

// DumpPrivateKey exports a private key into a binary dump of its scalar.
func DumpPrivateKey(priv *btcec.PrivateKey) []byte {
	if priv == nil {
		return nil
	}
	return priv.Serialize()
}

// ParsePrivateKey creates a private key from the raw scalar produced by
// DumpPrivateKey.
func ParsePrivateKey(d []byte) (*btcec.PrivateKey, error) {
	if len(d) != PrivateKeySize {
		return nil, fmt.Errorf("invalid length, need %d bytes", PrivateKeySize)
	}

	priv, _ := btcec.PrivKeyFromBytes(Curve(), d)

	if priv.D.Sign() <= 0 || priv.D.Cmp(Curve().N) >= 0 {
		return nil, fmt.Errorf("invalid private key, out of range")
	}

	return priv, nil
}

// PrivateKeyHex returns the hexadecimal representation of a raw private key as
// returned by DumpPrivateKey
func PrivateKeyHex(key *btcec.PrivateKey) string {
	return hex.EncodeToString(DumpPrivateKey(key))
}
