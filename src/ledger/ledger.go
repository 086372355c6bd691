package ledger

import (
	"sort"
	"sync"

	"github.com/btcsuite/btcd/btcec"
	cm "github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/sirupsen/logrus"
)

// Exclusion is a token event that contributes nothing to balances.
type Exclusion struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Ledger maintains the State incrementally as events are admitted. An event
// that sorts after the current tip is applied directly; one that sorts before
// it triggers a replay, from the last valid snapshot when possible.
type Ledger struct {
	lock    sync.RWMutex
	state   *State
	store   store.Store
	key     *btcec.PrivateKey
	logger  *logrus.Entry
	replays int
}

// NewLedger loads the state from the store. key signs snapshots and is the
// only snapshot signer trusted on load; it may be nil to disable snapshots.
func NewLedger(s store.Store, key *btcec.PrivateKey, logger *logrus.Entry) (*Ledger, error) {
	l := &Ledger{
		state:  NewState(),
		store:  s,
		key:    key,
		logger: logger.WithField("prefix", "ledger"),
	}

	if err := l.rebuild(); err != nil {
		return nil, err
	}

	return l, nil
}

// Apply folds a newly admitted event into the state. Non-token events are
// ignored.
func (l *Ledger) Apply(ev *event.Event) error {
	if ev.Type != event.TypeToken {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()

	if l.state.Tip.IsZero() || l.state.Tip.Less(ev.Position()) {
		l.state.Apply(ev)
		if reason, ok := l.state.Excluded[ev.ID]; ok {
			l.logger.WithFields(logrus.Fields{"id": ev.ID, "reason": reason}).Info("Excluded token event")
		}
		return nil
	}

	l.logger.WithFields(logrus.Fields{
		"id":      ev.ID,
		"lamport": ev.Lamport,
		"tip":     l.state.Tip.Lamport,
	}).Debug("Late token event, replaying")

	return l.rebuild()
}

// rebuild recomputes the state from the store. Callers hold the lock or own
// the ledger exclusively.
func (l *Ledger) rebuild() error {
	var events []*event.Event

	it := l.store.Iterate(store.Query{Type: event.TypeToken}, "")
	for it.Next() {
		events = append(events, it.Event())
	}
	if err := it.Err(); err != nil {
		return err
	}

	event.Sort(events)

	st := NewState()
	start := 0

	if snap := l.loadSnapshot(); snap != nil {
		before := sort.Search(len(events), func(i int) bool {
			return snap.Tip.Less(events[i].Position())
		})
		if uint64(before) == snap.Applied {
			st = snap.State()
			start = before
		} else {
			l.logger.WithFields(logrus.Fields{
				"snapshot": snap.Applied,
				"log":      before,
			}).Debug("Snapshot is stale")
		}
	}

	for _, ev := range events[start:] {
		st.Apply(ev)
	}

	l.state = st
	l.replays++

	l.logger.WithFields(logrus.Fields{
		"from":  start,
		"state": st.String(),
	}).Debug("Replayed ledger")

	return nil
}

func (l *Ledger) loadSnapshot() *Snapshot {
	if l.key == nil {
		return nil
	}

	_, data, err := l.store.LastSnapshot()
	if err != nil {
		if !cm.IsStore(err, cm.Empty) {
			l.logger.WithError(err).Warn("Reading snapshot")
		}
		return nil
	}

	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		l.logger.WithError(err).Warn("Decoding snapshot")
		return nil
	}

	if snap.Signer != keys.PublicKeyHex(l.key.PubKey()) {
		l.logger.WithField("signer", snap.Signer).Warn("Ignoring snapshot signed by another key")
		return nil
	}

	if err := snap.Verify(); err != nil {
		l.logger.WithError(err).Warn("Ignoring snapshot")
		return nil
	}

	return snap
}

// Snapshot signs the current state and persists it.
func (l *Ledger) Snapshot() (*Snapshot, error) {
	l.lock.RLock()
	snap, err := NewSnapshot(l.state, l.key)
	l.lock.RUnlock()
	if err != nil {
		return nil, err
	}

	data, err := snap.Marshal()
	if err != nil {
		return nil, err
	}

	if err := l.store.PutSnapshot(snap.Applied, data); err != nil {
		return nil, err
	}

	l.logger.WithField("applied", snap.Applied).Debug("Saved ledger snapshot")

	return snap, nil
}

// CanSnapshot reports whether the ledger has a key to sign snapshots with.
func (l *Ledger) CanSnapshot() bool {
	return l.key != nil
}

// Balance ...
func (l *Ledger) Balance(account string) uint64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state.Balance(account)
}

// Balances returns a copy of every balance.
func (l *Ledger) Balances() map[string]uint64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	res := make(map[string]uint64, len(l.state.Balances))
	for k, v := range l.state.Balances {
		res[k] = v
	}
	return res
}

// PendingTransfers returns the unclaimed burns targeting account.
func (l *Ledger) PendingTransfers(account string) []Burn {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state.PendingTransfers(account)
}

// Excluded returns the excluded token events sorted by id.
func (l *Ledger) Excluded() []Exclusion {
	l.lock.RLock()
	defer l.lock.RUnlock()

	res := make([]Exclusion, 0, len(l.state.Excluded))
	for id, reason := range l.state.Excluded {
		res = append(res, Exclusion{ID: id, Reason: reason})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// ExclusionReason reports why a token event contributes nothing, if it is
// excluded.
func (l *Ledger) ExclusionReason(id string) (string, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()
	reason, ok := l.state.Excluded[id]
	return reason, ok
}

// Tip returns the position of the last applied event.
func (l *Ledger) Tip() event.Position {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state.Tip
}

// Applied returns the number of token events applied.
func (l *Ledger) Applied() uint64 {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.state.Applied
}

// Replays returns how many full or partial replays happened.
func (l *Ledger) Replays() int {
	l.lock.RLock()
	defer l.lock.RUnlock()
	return l.replays
}
