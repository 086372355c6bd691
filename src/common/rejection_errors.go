package common

import (
	"fmt"
	"strings"
)

// RejectionType classifies why an event was not accepted.
type RejectionType uint32

const (
	// SchemaInvalid means the payload does not match the schema of its
	// declared type, or the envelope itself is malformed.
	SchemaInvalid RejectionType = iota
	// HashMismatch means the declared id differs from the recomputed one.
	HashMismatch
	// SignatureInvalid means the signature does not verify against the author.
	SignatureInvalid
	// NonceStale means the nonce is not greater than the last accepted nonce
	// of the author for a nonce-bearing type.
	NonceStale
	// ParentMissing means one or more parents are unknown. It is transient.
	ParentMissing
	// DuplicateEvent means the event was already accepted. Callers treat it as
	// success.
	DuplicateEvent
	// PolicyViolation means a pluggable rule, like the minting policy, refused
	// the event, or that it conflicts with the local view of its author, as a
	// second genesis does.
	PolicyViolation
)

// String ...
func (t RejectionType) String() string {
	switch t {
	case SchemaInvalid:
		return "SchemaInvalid"
	case HashMismatch:
		return "HashMismatch"
	case SignatureInvalid:
		return "SignatureInvalid"
	case NonceStale:
		return "NonceStale"
	case ParentMissing:
		return "ParentMissing"
	case DuplicateEvent:
		return "DuplicateEvent"
	case PolicyViolation:
		return "PolicyViolation"
	default:
		return "Unknown"
	}
}

// RejectionErr is returned by the validation pipeline.
type RejectionErr struct {
	kind    RejectionType
	id      string
	reason  string
	missing []string
}

// NewRejectionErr ...
func NewRejectionErr(kind RejectionType, id string, reason string) RejectionErr {
	return RejectionErr{
		kind:   kind,
		id:     id,
		reason: reason,
	}
}

// NewParentMissingErr creates a ParentMissing rejection listing the unknown
// parents.
func NewParentMissingErr(id string, missing []string) RejectionErr {
	return RejectionErr{
		kind:    ParentMissing,
		id:      id,
		reason:  strings.Join(missing, ","),
		missing: missing,
	}
}

// Error ...
func (e RejectionErr) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("%s, %s", e.id, e.kind)
	}
	return fmt.Sprintf("%s, %s, %s", e.id, e.kind, e.reason)
}

// Kind returns the RejectionType.
func (e RejectionErr) Kind() RejectionType {
	return e.kind
}

// Missing returns the unknown parents of a ParentMissing rejection.
func (e RejectionErr) Missing() []string {
	return e.missing
}

// Permanent reports whether the event can never be accepted.
func (e RejectionErr) Permanent() bool {
	switch e.kind {
	case ParentMissing, DuplicateEvent:
		return false
	default:
		return true
	}
}

// Penalize reports whether relaying the event is evidence of misbehaviour by
// the sending peer. A stale nonce can result from legitimate reordering, and a
// policy refusal from a difference in local configuration, so neither counts.
func (e RejectionErr) Penalize() bool {
	switch e.kind {
	case SchemaInvalid, HashMismatch, SignatureInvalid:
		return true
	default:
		return false
	}
}

// IsRejection checks that an error is a RejectionErr of the given type.
func IsRejection(err error, t RejectionType) bool {
	rejErr, ok := err.(RejectionErr)
	return ok && rejErr.kind == t
}

// AsRejection returns the RejectionErr wrapped in err, if any.
func AsRejection(err error) (RejectionErr, bool) {
	rejErr, ok := err.(RejectionErr)
	return rejErr, ok
}
