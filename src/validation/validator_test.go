package validation

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store     *store.BadgerStore
	validator *Validator
	key       *btcec.PrivateKey
	author    string
}

func newFixture(t *testing.T) *fixture {
	s, err := store.NewBadgerStore(t.TempDir(), 100, 0, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key, err := keys.GenerateKey()
	require.NoError(t, err)

	return &fixture{
		store:     s,
		validator: NewValidator(s),
		key:       key,
		author:    keys.PublicKeyHex(key.PubKey()),
	}
}

// accept validates and stores ev with a lamport value good enough for these
// tests.
func (f *fixture) accept(t *testing.T, ev *event.Event) {
	require.NoError(t, f.validator.Validate(ev))
	ev.Lamport = uint64(len(ev.Prev))
	_, err := f.store.PutEvent(ev)
	require.NoError(t, err)
}

func (f *fixture) token(t *testing.T, action string, nonce uint64, prev ...string) *event.Event {
	ev, err := event.New(event.TypeToken, &event.TokenPayload{Action: action, Amount: 10}, prev, nonce, f.key)
	require.NoError(t, err)
	return ev
}

func requireRejection(t *testing.T, err error, kind common.RejectionType) {
	t.Helper()
	rej, ok := common.AsRejection(err)
	require.True(t, ok, "expected a rejection, got %v", err)
	require.Equal(t, kind, rej.Kind(), "got %v", err)
}

func TestValidateOrder(t *testing.T) {
	f := newFixture(t)

	genesis, err := event.New(event.TypeProfile, &event.ProfilePayload{Name: "alice"}, nil, 0, f.key)
	require.NoError(t, err)
	f.accept(t, genesis)

	mint := f.token(t, event.TokenMint, 1, genesis.ID)

	t.Run("schema", func(t *testing.T) {
		ev := mint.Clone()
		ev.Payload = json.RawMessage(`{"action":"mint"}`)
		requireRejection(t, f.validator.Validate(ev), common.SchemaInvalid)
	})

	t.Run("hash", func(t *testing.T) {
		ev := mint.Clone()
		ev.Timestamp++
		requireRejection(t, f.validator.Validate(ev), common.HashMismatch)
	})

	t.Run("signature", func(t *testing.T) {
		other, err := keys.GenerateKey()
		require.NoError(t, err)
		forged, err := event.New(event.TypeToken, &event.TokenPayload{Action: event.TokenMint, Amount: 10}, []string{genesis.ID}, 1, other)
		require.NoError(t, err)
		ev := mint.Clone()
		ev.Sig = forged.Sig
		requireRejection(t, f.validator.Validate(ev), common.SignatureInvalid)
	})

	f.accept(t, mint)

	t.Run("duplicate before nonce", func(t *testing.T) {
		requireRejection(t, f.validator.Validate(mint.Clone()), common.DuplicateEvent)
	})

	t.Run("nonce", func(t *testing.T) {
		requireRejection(t, f.validator.Validate(f.token(t, event.TokenBurn, 1, mint.ID)), common.NonceStale)
		requireRejection(t, f.validator.Validate(f.token(t, event.TokenBurn, 0, mint.ID)), common.NonceStale)
	})

	t.Run("parents", func(t *testing.T) {
		orphan := f.token(t, event.TokenBurn, 2, mint.ID)
		child := f.token(t, event.TokenBurn, 3, orphan.ID, mint.ID)
		err := f.validator.Validate(child)
		requireRejection(t, err, common.ParentMissing)
		rej, _ := common.AsRejection(err)
		require.Equal(t, []string{orphan.ID}, rej.Missing())
		require.False(t, rej.Permanent())
	})

	// A peer that never saw the first genesis accepts the second one, so
	// relaying it is not misbehaviour.
	t.Run("second genesis", func(t *testing.T) {
		ev, err := event.New(event.TypePost, &event.PostPayload{Content: "again"}, nil, 0, f.key)
		require.NoError(t, err)
		err = f.validator.Validate(ev)
		requireRejection(t, err, common.PolicyViolation)
		require.False(t, Penalize(err))
	})
}

func TestNonceRace(t *testing.T) {
	f := newFixture(t)
	seq := NewSequencer(8)

	genesis, err := event.New(event.TypeProfile, &event.ProfilePayload{Name: "alice"}, nil, 0, f.key)
	require.NoError(t, err)
	f.accept(t, genesis)

	// two different events with the same nonce from different peers
	a := f.token(t, event.TokenMint, 5, genesis.ID)
	b := f.token(t, event.TokenBurn, 5, genesis.ID)

	var (
		wg      sync.WaitGroup
		results = make([]error, 4)
	)
	for i, ev := range []*event.Event{a, b, a.Clone(), b.Clone()} {
		wg.Add(1)
		go func(i int, ev *event.Event) {
			defer wg.Done()
			results[i] = seq.Do(ev.Author, func() error {
				if err := f.validator.Validate(ev); err != nil {
					return err
				}
				ev.Lamport = 1
				_, err := f.store.PutEvent(ev)
				return err
			})
		}(i, ev)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
			continue
		}
		rej, ok := common.AsRejection(err)
		require.True(t, ok, "got %v", err)
		require.Contains(t, []common.RejectionType{common.NonceStale, common.DuplicateEvent}, rej.Kind())
	}
	require.Equal(t, 1, accepted)
}

func TestMintPolicy(t *testing.T) {
	f := newFixture(t)

	genesis, err := event.New(event.TypeProfile, &event.ProfilePayload{Name: "alice"}, nil, 0, f.key)
	require.NoError(t, err)
	f.accept(t, genesis)

	policy, err := NewMintPolicy("authorized", []string{"someone-else"})
	require.NoError(t, err)
	f.validator.AddRule(event.TypeToken, policy)

	err = f.validator.Validate(f.token(t, event.TokenMint, 1, genesis.ID))
	requireRejection(t, err, common.PolicyViolation)
	require.False(t, Penalize(err))

	require.NoError(t, f.validator.Validate(f.token(t, event.TokenBurn, 1, genesis.ID)))

	// A mint claiming a burn creates nothing and needs no minter.
	claim, err := event.New(event.TypeToken, &event.TokenPayload{Action: event.TokenMint, Amount: 10, Ref: genesis.ID}, []string{genesis.ID}, 1, f.key)
	require.NoError(t, err)
	require.NoError(t, f.validator.Validate(claim))

	open, err := NewMintPolicy("open", nil)
	require.NoError(t, err)
	require.NoError(t, open.Check(f.token(t, event.TokenMint, 1, genesis.ID), f.store))

	authorized := NewAuthorizedMintPolicy([]string{f.author})
	require.NoError(t, authorized.Check(f.token(t, event.TokenMintReward, 1, genesis.ID), f.store))

	_, err = NewMintPolicy("weird", nil)
	require.Error(t, err)
}

func TestPenalize(t *testing.T) {
	require.True(t, Penalize(common.NewRejectionErr(common.SignatureInvalid, "x", "")))
	require.False(t, Penalize(common.NewRejectionErr(common.NonceStale, "x", "")))
	require.False(t, Penalize(common.NewParentMissingErr("x", []string{"y"})))
	require.False(t, Penalize(nil))
}
