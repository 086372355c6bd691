// Package event implements the Event Codec: the signed, content-addressed
// envelope replicated by every node, its canonical byte form, and the typed
// payload schemas that ride on it.
//
// An Event is identified by the SHA256 hash of its canonical header. The header
// commits to the type, the SHA256 hash of the canonical payload, the parents,
// the author, the nonce and the timestamp. Canonical bytes follow RFC 8785
// (JSON Canonicalization Scheme), so the id does not depend on field order,
// whitespace or number formatting in the wire payload. The author signs the id
// with its secp256k1 key.
//
// Payloads are a tagged variant keyed by the Type field. Each tag has a
// registered schema which decodes strictly and validates its own fields; adding
// a payload type only requires a new schema and a call to Register.
package event
