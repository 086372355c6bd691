package validation

import (
	"fmt"

	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
)

// StateView is the read access rules have to accepted state.
type StateView interface {
	GetEvent(string) (*event.Event, error)
	HasEvent(string) (bool, error)
	LastNonce(string) (uint64, error)
}

// Rule is a pluggable check run on events of one type after the structural
// and cryptographic checks passed. A refusal should be a PolicyViolation
// rejection.
type Rule interface {
	Check(*event.Event, StateView) error
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc func(*event.Event, StateView) error

// Check implements Rule.
func (f RuleFunc) Check(ev *event.Event, view StateView) error {
	return f(ev, view)
}

// MintPolicy decides who may create token units.
type MintPolicy interface {
	Rule
	Name() string
}

// OpenMintPolicy lets any author mint. This is the self-issued basic income
// model.
type OpenMintPolicy struct{}

// Name implements MintPolicy.
func (OpenMintPolicy) Name() string { return "open" }

// Check implements Rule.
func (OpenMintPolicy) Check(ev *event.Event, view StateView) error {
	return nil
}

// AuthorizedMintPolicy only accepts mint and mint_reward events authored by
// one of the listed minters. Burns and claims are unaffected.
type AuthorizedMintPolicy struct {
	minters map[string]bool
}

// NewAuthorizedMintPolicy ...
func NewAuthorizedMintPolicy(minters []string) *AuthorizedMintPolicy {
	m := make(map[string]bool, len(minters))
	for _, k := range minters {
		m[k] = true
	}
	return &AuthorizedMintPolicy{minters: m}
}

// Name implements MintPolicy.
func (p *AuthorizedMintPolicy) Name() string { return "authorized" }

// Check implements Rule.
func (p *AuthorizedMintPolicy) Check(ev *event.Event, view StateView) error {
	payload, err := ev.DecodePayload()
	if err != nil {
		return err
	}

	tok, ok := payload.(*event.TokenPayload)
	if !ok || !tok.IsMint() {
		return nil
	}

	if !p.minters[ev.Author] {
		return cm.NewRejectionErr(cm.PolicyViolation, ev.ID, fmt.Sprintf("%s is not an authorized minter", ev.Author))
	}

	return nil
}

// NewMintPolicy returns the policy named by the configuration.
func NewMintPolicy(name string, minters []string) (MintPolicy, error) {
	switch name {
	case "", "open":
		return OpenMintPolicy{}, nil
	case "authorized":
		return NewAuthorizedMintPolicy(minters), nil
	default:
		return nil, fmt.Errorf("unknown mint policy %q", name)
	}
}
