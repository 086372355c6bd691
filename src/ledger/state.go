// Package ledger derives token balances from the accepted event log. The
// derived state is never signed or gossiped as truth; any node replaying the
// same events in total order obtains the same balances.
package ledger

import (
	"fmt"
	"sort"

	"github.com/mosaicnetworks/weave/src/event"
)

// Exclusion reasons.
const (
	ReasonInsufficientFunds = "insufficient funds"
	ReasonOverflow          = "balance overflow"
	ReasonUnknownBurn       = "claim references an unknown burn"
	ReasonClaimed           = "burn already claimed"
	ReasonAmountMismatch    = "claim amount differs from burn"
	ReasonWrongRecipient    = "burn targets another account"
	ReasonNotParty          = "claimant is neither burner nor recipient"
	ReasonBadPayload        = "undecodable token payload"
)

// Burn is a debit that may be claimed once by its recipient.
type Burn struct {
	ID        string
	Author    string
	Target    string
	Amount    uint64
	Escrow    bool
	ClaimedBy string
}

// State is the derived account state after applying a prefix of the total
// order.
type State struct {
	Balances map[string]uint64
	Burns    map[string]*Burn
	Excluded map[string]string
	Tip      event.Position
	Applied  uint64
}

// NewState ...
func NewState() *State {
	return &State{
		Balances: make(map[string]uint64),
		Burns:    make(map[string]*Burn),
		Excluded: make(map[string]string),
	}
}

// Replay computes the state of a set of admitted token events. The input is
// not modified; events are applied in total order.
func Replay(events []*event.Event) *State {
	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	event.Sort(sorted)

	st := NewState()
	for _, ev := range sorted {
		st.Apply(ev)
	}
	return st
}

// Apply applies the next event of the total order. Events that are not token
// events are ignored. Invalid ledger operations are recorded as exclusions and
// contribute nothing.
func (s *State) Apply(ev *event.Event) {
	if ev.Type != event.TypeToken {
		return
	}

	s.Tip = ev.Position()
	s.Applied++

	payload, err := ev.DecodePayload()
	if err != nil {
		s.Excluded[ev.ID] = ReasonBadPayload
		return
	}
	tok := payload.(*event.TokenPayload)

	account := ev.Author
	if tok.Target != "" {
		account = tok.Target
	}

	switch {
	case tok.IsMint():
		if !s.credit(account, tok.Amount) {
			s.Excluded[ev.ID] = ReasonOverflow
		}

	case tok.Action == event.TokenBurn, tok.Action == event.TokenEscrow:
		if s.Balances[ev.Author] < tok.Amount {
			s.Excluded[ev.ID] = ReasonInsufficientFunds
			return
		}
		s.Balances[ev.Author] -= tok.Amount
		s.Burns[ev.ID] = &Burn{
			ID:     ev.ID,
			Author: ev.Author,
			Target: tok.Target,
			Amount: tok.Amount,
			Escrow: tok.Action == event.TokenEscrow,
		}

	case tok.IsClaim():
		if reason := s.checkClaim(ev, tok, account); reason != "" {
			s.Excluded[ev.ID] = reason
			return
		}
		if !s.credit(account, tok.Amount) {
			s.Excluded[ev.ID] = ReasonOverflow
			return
		}
		s.Burns[tok.Ref].ClaimedBy = ev.ID
	}
}

func (s *State) checkClaim(ev *event.Event, tok *event.TokenPayload, account string) string {
	burn, ok := s.Burns[tok.Ref]
	switch {
	case !ok:
		return ReasonUnknownBurn
	case burn.ClaimedBy != "":
		return ReasonClaimed
	case burn.Amount != tok.Amount:
		return ReasonAmountMismatch
	case burn.Target != "" && burn.Target != account:
		return ReasonWrongRecipient
	case ev.Author != burn.Author && ev.Author != account:
		return ReasonNotParty
	}
	return ""
}

func (s *State) credit(account string, amount uint64) bool {
	b := s.Balances[account]
	if b+amount < b {
		return false
	}
	s.Balances[account] = b + amount
	return true
}

// Balance ...
func (s *State) Balance(account string) uint64 {
	return s.Balances[account]
}

// PendingTransfers returns the unclaimed burns targeting account, sorted by id.
func (s *State) PendingTransfers(account string) []Burn {
	res := []Burn{}
	for _, b := range s.Burns {
		if b.Target == account && b.ClaimedBy == "" {
			res = append(res, *b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := NewState()
	for k, v := range s.Balances {
		c.Balances[k] = v
	}
	for k, v := range s.Burns {
		b := *v
		c.Burns[k] = &b
	}
	for k, v := range s.Excluded {
		c.Excluded[k] = v
	}
	c.Tip = s.Tip
	c.Applied = s.Applied
	return c
}

// String ...
func (s *State) String() string {
	return fmt.Sprintf("accounts=%d burns=%d excluded=%d applied=%d", len(s.Balances), len(s.Burns), len(s.Excluded), s.Applied)
}
