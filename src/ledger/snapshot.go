package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
)

// Snapshot is a signed copy of the derived state at a position of the total
// order. Applied counts the token events at or before Tip; a snapshot whose
// count no longer matches the log is stale and ignored.
type Snapshot struct {
	Tip      event.Position    `json:"tip"`
	Applied  uint64            `json:"applied"`
	Balances map[string]uint64 `json:"balances"`
	Burns    map[string]*Burn  `json:"burns"`
	Excluded map[string]string `json:"excluded"`
	Signer   string            `json:"signer"`
	Sig      string            `json:"sig,omitempty"`
}

// NewSnapshot signs a copy of st with key.
func NewSnapshot(st *State, key *btcec.PrivateKey) (*Snapshot, error) {
	c := st.Clone()

	snap := &Snapshot{
		Tip:      c.Tip,
		Applied:  c.Applied,
		Balances: c.Balances,
		Burns:    c.Burns,
		Excluded: c.Excluded,
		Signer:   keys.PublicKeyHex(key.PubKey()),
	}

	b, err := snap.signedBytes()
	if err != nil {
		return nil, err
	}

	snap.Sig, err = keys.SignHex(key, b)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// Verify checks the signature against the declared signer.
func (s *Snapshot) Verify() error {
	b, err := s.signedBytes()
	if err != nil {
		return err
	}
	if !keys.VerifyHex(s.Signer, b, s.Sig) {
		return fmt.Errorf("invalid snapshot signature")
	}
	return nil
}

// State returns a copy of the state held by the snapshot.
func (s *Snapshot) State() *State {
	st := &State{
		Balances: s.Balances,
		Burns:    s.Burns,
		Excluded: s.Excluded,
		Tip:      s.Tip,
		Applied:  s.Applied,
	}
	if st.Balances == nil {
		st.Balances = make(map[string]uint64)
	}
	if st.Burns == nil {
		st.Burns = make(map[string]*Burn)
	}
	if st.Excluded == nil {
		st.Excluded = make(map[string]string)
	}
	return st.Clone()
}

// Marshal ...
func (s *Snapshot) Marshal() ([]byte, error) {
	return cm.EncodeMsgpack(s)
}

// UnmarshalSnapshot ...
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	s := &Snapshot{}
	if err := cm.DecodeMsgpack(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) signedBytes() ([]byte, error) {
	c := *s
	c.Sig = ""
	return event.Canonicalize(&c)
}
