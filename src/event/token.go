package event

import "fmt"

// Token actions.
const (
	TokenMint          = "mint"
	TokenBurn          = "burn"
	TokenTransferClaim = "transfer_claim"
	TokenEscrow        = "escrow"
	TokenMintReward    = "mint_reward"
)

// TokenPayload is the only payload the ledger reads. A transfer is a burn
// targeting the recipient followed by a claim of that burn: a transfer_claim,
// or a mint, whose Ref is the burn.
type TokenPayload struct {
	Action string `json:"action"`
	Amount uint64 `json:"amount"`
	Target string `json:"target,omitempty"`
	Memo   string `json:"memo,omitempty"`
	Ref    string `json:"ref,omitempty"`
}

// Validate ...
func (p *TokenPayload) Validate() error {
	if err := oneOf("action", p.Action, TokenMint, TokenBurn, TokenTransferClaim, TokenEscrow, TokenMintReward); err != nil {
		return err
	}

	if p.Amount == 0 {
		return fmt.Errorf("amount must be positive")
	}

	if p.Target != "" {
		if err := pubKey("target", p.Target); err != nil {
			return err
		}
	}

	if err := maxLen("memo", p.Memo, MaxTitleLength); err != nil {
		return err
	}

	switch p.Action {
	case TokenTransferClaim:
		return eventID("ref", p.Ref)
	default:
		return optionalEventID("ref", p.Ref)
	}
}

// References ...
func (p *TokenPayload) References() []string {
	return []string{p.Target, p.Ref}
}

// Credits reports whether the action adds to a balance.
func (p *TokenPayload) Credits() bool {
	switch p.Action {
	case TokenMint, TokenMintReward, TokenTransferClaim:
		return true
	}
	return false
}

// IsMint reports whether the action creates new units. A mint with a Ref
// claims an existing burn instead.
func (p *TokenPayload) IsMint() bool {
	return (p.Action == TokenMint || p.Action == TokenMintReward) && p.Ref == ""
}

// IsClaim reports whether the action credits the amount of the burn in Ref.
func (p *TokenPayload) IsClaim() bool {
	switch p.Action {
	case TokenTransferClaim:
		return true
	case TokenMint, TokenMintReward:
		return p.Ref != ""
	}
	return false
}
