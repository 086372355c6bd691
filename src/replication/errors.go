package replication

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientDonors is returned when fewer than k healthy fragments
	// of a chunk could be gathered. The repair is retried on the next cycle.
	ErrInsufficientDonors = errors.New("replication: insufficient donors")
	// ErrBlobNotFound means no local copy and no manifest is known for a
	// blob yet. Callers surface it as pending.
	ErrBlobNotFound = errors.New("replication: blob not found")
	// ErrEmptyBlob ...
	ErrEmptyBlob = errors.New("replication: empty blob")
)

// FragmentCorruptErr is returned when fragment bytes do not hash to the
// expected merkle root.
type FragmentCorruptErr struct {
	CID  string
	Peer string
}

// NewFragmentCorruptErr ...
func NewFragmentCorruptErr(cid, peer string) FragmentCorruptErr {
	return FragmentCorruptErr{CID: cid, Peer: peer}
}

// Error ...
func (e FragmentCorruptErr) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("fragment %s corrupt", e.CID)
	}
	return fmt.Sprintf("fragment %s from %s corrupt", e.CID, e.Peer)
}

// IsFragmentCorrupt ...
func IsFragmentCorrupt(err error) bool {
	_, ok := err.(FragmentCorruptErr)
	return ok
}
