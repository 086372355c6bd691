package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/crypto"
)

// Sign signs the SHA256 digest of data with the private key.
func Sign(priv *btcec.PrivateKey, data []byte) ([]byte, error) {
	sig, err := priv.Sign(crypto.SHA256(data))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// Verify verifies that sig is a valid DER signature of the SHA256 digest of
// data by the owner of pub.
func Verify(pub *btcec.PublicKey, data []byte, sig []byte) bool {
	s, err := btcec.ParseDERSignature(sig, Curve())
	if err != nil {
		return false
	}
	return s.Verify(crypto.SHA256(data), pub)
}

// EncodeSignature returns a string representation of a signature.
func EncodeSignature(sig []byte) string {
	return hex.EncodeToString(sig)
}

// DecodeSignature parses a string representation of a signature as produced by
// EncodeSignature.
func DecodeSignature(sig string) ([]byte, error) {
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %v", err)
	}
	return raw, nil
}

// SignHex signs data and returns the hex encoded signature.
func SignHex(priv *btcec.PrivateKey, data []byte) (string, error) {
	sig, err := Sign(priv, data)
	if err != nil {
		return "", err
	}
	return EncodeSignature(sig), nil
}

// VerifyHex verifies a hex encoded signature of data against a hex encoded
// public key.
func VerifyHex(pubHex string, data []byte, sigHex string) bool {
	pub, err := ParsePublicKeyHex(pubHex)
	if err != nil {
		return false
	}
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return false
	}
	return Verify(pub, data, sig)
}
