// Package keys implements the public key cryptography used throughout Weave.
//
// Every participant owns a secp256k1 key-pair. The public key, in compressed
// form and hex encoded, is the author identifier carried by events. The private
// key signs events, storage proofs and ledger snapshots.
//
// We chose the secp256k1 curve because it is also used by Bitcoin and Ethereum,
// which means that existing keys can be reused to operate a Weave node.
package keys
