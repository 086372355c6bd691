// Package validation admits or rejects candidate events. Checks run in a fixed
// order and the first failure wins:
//
//	schema, hash, duplicate, signature, nonce, parents, type rules
//
// Duplicates are detected as soon as the id is proven to be the content hash,
// so a redelivered event is reported as DuplicateEvent rather than NonceStale.
package validation

import (
	"sync"

	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
)

// Validator runs the validation pipeline against a store.
type Validator struct {
	store store.Store

	rulesLock sync.RWMutex
	rules     map[string][]Rule
}

// NewValidator ...
func NewValidator(s store.Store) *Validator {
	return &Validator{
		store: s,
		rules: make(map[string][]Rule),
	}
}

// AddRule registers a rule for events of type typ.
func (v *Validator) AddRule(typ string, r Rule) {
	v.rulesLock.Lock()
	defer v.rulesLock.Unlock()
	v.rules[typ] = append(v.rules[typ], r)
}

// Validate returns nil if ev can be admitted, or a RejectionErr. A
// ParentMissing rejection carries the missing ids. Callers must hold the
// Sequencer lock of the author so that the nonce and genesis checks stay valid
// until the event is stored.
func (v *Validator) Validate(ev *event.Event) error {
	if err := ev.CheckSchema(); err != nil {
		return err
	}

	if err := ev.CheckID(); err != nil {
		return err
	}

	known, err := v.store.HasEvent(ev.ID)
	if err != nil {
		return err
	}
	if known {
		return cm.NewRejectionErr(cm.DuplicateEvent, ev.ID, "")
	}

	if err := ev.CheckSignature(); err != nil {
		return err
	}

	if ev.NonceBearing() {
		last, err := v.store.LastNonce(ev.Author)
		if err != nil {
			return err
		}
		if ev.Nonce <= last {
			return cm.NewRejectionErr(cm.NonceStale, ev.ID, "")
		}
	}

	if err := v.checkParents(ev); err != nil {
		return err
	}

	v.rulesLock.RLock()
	rules := v.rules[ev.Type]
	v.rulesLock.RUnlock()

	for _, r := range rules {
		if err := r.Check(ev, v.store); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) checkParents(ev *event.Event) error {
	if ev.IsGenesis() {
		heads, err := v.store.Heads(ev.Author)
		if err != nil {
			return err
		}
		if len(heads) > 0 {
			return cm.NewRejectionErr(cm.PolicyViolation, ev.ID, "author already has a genesis event")
		}
		return nil
	}

	var missing []string
	for _, p := range ev.Prev {
		ok, err := v.store.HasEvent(p)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		return cm.NewParentMissingErr(ev.ID, missing)
	}

	return nil
}

// Penalize reports whether err is evidence of misbehaviour by the peer that
// relayed the event.
func Penalize(err error) bool {
	rej, ok := cm.AsRejection(err)
	return ok && rej.Penalize()
}
