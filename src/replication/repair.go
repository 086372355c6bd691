package replication

import (
	"context"
	"sort"

	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// RepairReport summarises one repair pass.
type RepairReport struct {
	Checked  int
	Repaired int
	Failed   int
}

// RepairOnce checks every manifest this node is responsible for, the ones it
// authored or holds fragments of, and repairs those with too few available
// holders. Failed repairs are retried on the next pass; a manifest failing
// DegradedAfter passes in a row is reported as degraded.
func (m *Manager) RepairOnce(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	it := m.store.Iterate(store.Query{Type: event.TypeManifest}, "")
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		ev := it.Event()
		ok, err := m.responsible(ev)
		if err != nil {
			return report, err
		}
		if !ok {
			continue
		}

		report.Checked++

		repaired, err := m.repair(ctx, ev)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			m.repairFailed(ev.ID, err)
			continue
		}

		if repaired {
			report.Repaired++
		}
		m.repairSucceeded(ev.ID)
	}

	return report, it.Err()
}

func (m *Manager) responsible(ev *event.Event) (bool, error) {
	if ev.Author == m.pubKey {
		return true, nil
	}
	holders, err := m.store.Holders(ev.ID)
	if err != nil {
		return false, err
	}
	_, ok := holders[m.self]
	return ok, nil
}

// repair restores the holder count of one manifest. It reports whether any
// fragment was regenerated.
func (m *Manager) repair(ctx context.Context, ev *event.Event) (bool, error) {
	p, err := ev.DecodePayload()
	if err != nil {
		return false, err
	}
	mf := p.(*event.ManifestPayload)

	holders, err := m.availableHolders(ev.ID)
	if err != nil {
		return false, err
	}

	counts := make([]int, mf.M)
	for _, h := range holders {
		for _, i := range h.Fragments {
			if i < mf.M {
				counts[i]++
			}
		}
	}
	covered := 0
	for _, c := range counts {
		if c > 0 {
			covered++
		}
	}

	threshold := m.conf.repairBelow(mf.TargetHolders)
	minCovered := threshold
	if minCovered > mf.M {
		minCovered = mf.M
	}

	if len(holders) >= threshold && covered >= minCovered {
		return false, nil
	}

	logger := m.logger.WithFields(logrus.Fields{
		"manifest":  ev.ID,
		"holders":   len(holders),
		"covered":   covered,
		"threshold": threshold,
	})
	logger.Debug("Repairing manifest")

	release := m.hold(fragmentCIDs(mf)...)
	defer release()

	shards, err := m.gather(ctx, ev.ID, mf, mf.K)
	if err != nil {
		return false, err
	}
	if err := m.coders.reconstruct(mf, shards); err != nil {
		return false, err
	}
	for i, s := range shards {
		if err := checkFragment(mf, i, s, ""); err != nil {
			return false, errors.Wrap(err, "regenerated fragment does not match manifest")
		}
	}

	// Fragments with the fewest holders go first.
	order := make([]int, mf.M)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return counts[order[a]] < counts[order[b]]
	})

	exclude := map[string]bool{m.self: true}
	for _, h := range holders {
		exclude[h.Peer] = true
	}

	want := mf.TargetHolders - len(holders)
	if uncovered := minCovered - covered; want < uncovered {
		want = uncovered
	}

	pushed := 0
	for j, peer := range m.candidates(want, int(mf.FragmentSize), exclude, true) {
		i := order[j%len(order)]
		if err := m.push(ctx, ev.ID, i, mf.Fragments[i].CID, shards[i], peer); err != nil {
			logger.WithError(err).WithField("peer", peer).Debug("Pushing fragment failed")
			continue
		}
		counts[i]++
		pushed++
	}

	// Nobody else has these, so the local node keeps them.
	var kept []int
	for i, c := range counts {
		if c > 0 {
			continue
		}
		if err := m.store.PutFragment(mf.Fragments[i].CID, shards[i]); err != nil {
			return false, err
		}
		kept = append(kept, i)
	}
	if len(kept) > 0 {
		if err := m.announce(ev.ID, kept); err != nil {
			return false, err
		}
	}

	logger.WithFields(logrus.Fields{
		"pushed": pushed,
		"kept":   len(kept),
	}).Info("Repaired manifest")

	return pushed > 0 || len(kept) > 0, nil
}

func (m *Manager) repairFailed(manifest string, err error) {
	m.lock.Lock()
	m.failures[manifest]++
	n := m.failures[manifest]
	escalate := n >= m.conf.DegradedAfter && !m.degraded[manifest]
	if escalate {
		m.degraded[manifest] = true
	}
	m.lock.Unlock()

	logger := m.logger.WithError(err).WithFields(logrus.Fields{
		"manifest": manifest,
		"failures": n,
	})
	if escalate {
		logger.Warn("Availability degraded")
		return
	}
	logger.Debug("Repair failed")
}

func (m *Manager) repairSucceeded(manifest string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.failures, manifest)
	delete(m.degraded, manifest)
}

func sortHolders(hs []*store.Holder) {
	sort.Slice(hs, func(i, j int) bool { return hs[i].Peer < hs[j].Peer })
}
