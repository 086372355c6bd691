package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
)

/*******************************************************************************
Header
*******************************************************************************/

// Header is the part of an Event that is hashed to obtain its id. The payload
// is represented by the hash of its canonical bytes so that the signature
// covers the payload without the header growing with it.
type Header struct {
	Type        string   `json:"type"`
	PayloadHash string   `json:"payload_hash"`
	Prev        []string `json:"prev"`
	Author      string   `json:"author"`
	Nonce       uint64   `json:"nonce"`
	Timestamp   int64    `json:"timestamp"`
}

/*******************************************************************************
Event
*******************************************************************************/

// Event is the wire envelope {type, id, payload, prev[], author, nonce,
// timestamp, sig}. Timestamp is in unix milliseconds and is informational only;
// ordering never relies on it.
type Event struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Prev      []string        `json:"prev"`
	Author    string          `json:"author"`
	Nonce     uint64          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Sig       string          `json:"sig"`

	// Lamport is derived by the causal graph when the event is admitted. It is
	// not covered by the id or the signature.
	Lamport uint64 `json:"-"`

	payload Payload
}

// New creates and signs an event. The payload is validated against the schema
// of typ before anything is signed.
func New(typ string, payload Payload, prev []string, nonce uint64, key *btcec.PrivateKey) (*Event, error) {
	schema, ok := lookup(typ)
	if !ok {
		return nil, common.NewRejectionErr(common.SchemaInvalid, "", fmt.Sprintf("unknown type %s", typ))
	}

	if err := payload.Validate(); err != nil {
		return nil, common.NewRejectionErr(common.SchemaInvalid, "", err.Error())
	}

	if sample := schema.factory(); fmt.Sprintf("%T", sample) != fmt.Sprintf("%T", payload) {
		return nil, common.NewRejectionErr(common.SchemaInvalid, "", fmt.Sprintf("%T is not a %s payload", payload, typ))
	}

	raw, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}

	if prev == nil {
		prev = []string{}
	}

	ev := &Event{
		Type:      typ,
		Payload:   raw,
		Prev:      prev,
		Author:    keys.PublicKeyHex(key.PubKey()),
		Nonce:     nonce,
		Timestamp: time.Now().UnixNano() / int64(time.Millisecond),
		payload:   payload,
	}

	if err := ev.Sign(key); err != nil {
		return nil, err
	}

	return ev, nil
}

// Header returns the hashed part of the event.
func (e *Event) Header() (*Header, error) {
	canonicalPayload, err := CanonicalizeRaw(e.Payload)
	if err != nil {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, fmt.Sprintf("payload is not canonicalizable: %v", err))
	}

	prev := e.Prev
	if prev == nil {
		prev = []string{}
	}

	return &Header{
		Type:        e.Type,
		PayloadHash: Hash(canonicalPayload),
		Prev:        prev,
		Author:      e.Author,
		Nonce:       e.Nonce,
		Timestamp:   e.Timestamp,
	}, nil
}

// CanonicalBytes returns the canonical encoding of the header. Its SHA256 is
// the event id.
func (e *Event) CanonicalBytes() ([]byte, error) {
	header, err := e.Header()
	if err != nil {
		return nil, err
	}
	return Canonicalize(header)
}

// ComputeID recomputes the id from the content of the event.
func (e *Event) ComputeID() (string, error) {
	b, err := e.CanonicalBytes()
	if err != nil {
		return "", err
	}
	return Hash(b), nil
}

// Sign sets the id and signs it with the private key. The key must belong to
// the author.
func (e *Event) Sign(key *btcec.PrivateKey) error {
	if author := keys.PublicKeyHex(key.PubKey()); e.Author != author {
		return fmt.Errorf("cannot sign event of %s with key of %s", e.Author, author)
	}

	b, err := e.CanonicalBytes()
	if err != nil {
		return err
	}

	sig, err := keys.SignHex(key, b)
	if err != nil {
		return err
	}

	e.ID = Hash(b)
	e.Sig = sig

	return nil
}

// CheckID returns a HashMismatch rejection if the declared id differs from the
// recomputed one.
func (e *Event) CheckID() error {
	id, err := e.ComputeID()
	if err != nil {
		return err
	}
	if id != e.ID {
		return common.NewRejectionErr(common.HashMismatch, e.ID, fmt.Sprintf("recomputed %s", id))
	}
	return nil
}

// CheckSignature returns a SignatureInvalid rejection if the signature does not
// verify against the author over the canonical header.
func (e *Event) CheckSignature() error {
	b, err := e.CanonicalBytes()
	if err != nil {
		return err
	}
	if !keys.VerifyHex(e.Author, b, e.Sig) {
		return common.NewRejectionErr(common.SignatureInvalid, e.ID, "")
	}
	return nil
}

// Verify checks the id and the signature.
func (e *Event) Verify() error {
	if err := e.CheckID(); err != nil {
		return err
	}
	return e.CheckSignature()
}

// IsGenesis reports whether the event has no parents.
func (e *Event) IsGenesis() bool {
	return len(e.Prev) == 0
}

// NonceBearing reports whether the nonce of this event is subject to the
// per-author monotonicity rule.
func (e *Event) NonceBearing() bool {
	return NonceBearing(e.Type)
}

// Position returns the position of the event in the total order. Lamport must
// have been set.
func (e *Event) Position() Position {
	return Position{Lamport: e.Lamport, Author: e.Author, ID: e.ID}
}

/*******************************************************************************
Schema
*******************************************************************************/

// CheckSchema verifies the structure of the envelope and decodes the payload
// against the schema of the declared type. Any failure is a SchemaInvalid
// rejection.
func (e *Event) CheckSchema() error {
	reject := func(format string, args ...interface{}) error {
		return common.NewRejectionErr(common.SchemaInvalid, e.ID, fmt.Sprintf(format, args...))
	}

	if !crypto.IsHexID(e.ID) {
		return reject("malformed id")
	}

	if e.Sig == "" {
		return reject("missing signature")
	}

	if _, err := keys.ParsePublicKeyHex(e.Author); err != nil {
		return reject("malformed author: %v", err)
	}

	seen := make(map[string]bool, len(e.Prev))
	for _, p := range e.Prev {
		if !crypto.IsHexID(p) {
			return reject("malformed parent %q", p)
		}
		if p == e.ID {
			return reject("event references itself")
		}
		if seen[p] {
			return reject("duplicate parent %s", p)
		}
		seen[p] = true
	}

	_, err := e.DecodePayload()
	return err
}

// DecodePayload decodes and validates the payload. The result is cached.
func (e *Event) DecodePayload() (Payload, error) {
	if e.payload != nil {
		return e.payload, nil
	}

	schema, ok := lookup(e.Type)
	if !ok {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, fmt.Sprintf("unknown type %q", e.Type))
	}

	if len(e.Payload) == 0 {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, "empty payload")
	}

	p := schema.factory()

	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, err.Error())
	}

	if dec.More() {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, "trailing data after payload")
	}

	if err := p.Validate(); err != nil {
		return nil, common.NewRejectionErr(common.SchemaInvalid, e.ID, err.Error())
	}

	e.payload = p

	return p, nil
}

// References returns the ids, keys or names the payload points at. They feed
// the referenced-id index of the store.
func (e *Event) References() []string {
	p, err := e.DecodePayload()
	if err != nil {
		return nil
	}
	return dedup(p.References())
}

/*******************************************************************************
Wire
*******************************************************************************/

// Marshal returns the JSON wire envelope.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses a JSON wire envelope. It does not validate anything.
func Unmarshal(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, common.NewRejectionErr(common.SchemaInvalid, "", err.Error())
	}
	return &ev, nil
}

// Clone returns a copy of the event that shares no slices with the original.
func (e *Event) Clone() *Event {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	c.Prev = append([]string{}, e.Prev...)
	c.payload = nil
	return &c
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
