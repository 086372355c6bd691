package node

import (
	"context"
	"time"

	"github.com/mosaicnetworks/weave/src/event"
	"github.com/sirupsen/logrus"
)

// task is a periodic background job. Runs of one task never overlap: a tick
// that fires while the previous run is busy is dropped.
type task struct {
	name   string
	period time.Duration
	run    func(context.Context) error
}

func (n *Node) tasks() []task {
	return []task{
		{"anti-entropy", n.conf.AntiEntropyInterval, n.antiEntropy},
		{"sweep", n.conf.SweepInterval, n.sweep},
		{"repair", n.conf.RepairInterval, n.repair},
		{"audit", n.conf.AuditInterval, n.audit},
		{"gc", n.conf.GCInterval, n.collectGarbage},
		{"snapshot", n.conf.SnapshotInterval, n.snapshot},
		{"presence", n.conf.PresenceInterval, n.publishPresence},
	}
}

func (n *Node) startTasks() {
	n.tasksLock.Lock()
	defer n.tasksLock.Unlock()

	if n.tasksStarted || n.getState() == Shutdown {
		return
	}
	n.tasksStarted = true

	if n.conf.PresenceInterval > 0 {
		n.runTask(task{"presence", 0, n.publishPresence})
	}

	for _, t := range n.tasks() {
		if t.period <= 0 {
			continue
		}

		timer := NewRandomControlTimer()
		n.timers = append(n.timers, timer)
		go timer.Run(t.period)

		t := t
		n.tasksWG.Add(1)
		go func() {
			defer n.tasksWG.Done()
			for {
				select {
				case <-timer.tickCh:
					n.runTask(t)
				case <-n.shutdownCh:
					return
				}
			}
		}()
	}
}

func (n *Node) runTask(t task) {
	start := time.Now()
	err := t.run(n.ctx)

	entry := n.logger.WithFields(logrus.Fields{
		"task":     t.name,
		"duration": time.Since(start).String(),
	})
	if err != nil && n.ctx.Err() == nil {
		entry.WithError(err).Warn("Background task failed")
		return
	}
	entry.Debug("Background task done")
}

func (n *Node) antiEntropy(ctx context.Context) error {
	defer n.logStats()
	return n.gossip.AntiEntropy(ctx)
}

// sweep drops the buffered events whose parents never arrived and asks again
// for the parents of the others.
func (n *Node) sweep(ctx context.Context) error {
	if dropped := n.core.graph.Expire(); len(dropped) > 0 {
		n.logger.WithField("dropped", len(dropped)).Info("Dropped events missing parents")
	}

	bySource := make(map[string][]string)
	for id, source := range n.core.graph.MissingSources() {
		bySource[source] = append(bySource[source], id)
	}
	for source, ids := range bySource {
		n.gossip.RequestMissing(ids, source)
	}

	return nil
}

func (n *Node) repair(ctx context.Context) error {
	report, err := n.replication.RepairOnce(ctx)
	n.metrics.repairs.WithLabelValues("repaired").Add(float64(report.Repaired))
	n.metrics.repairs.WithLabelValues("failed").Add(float64(report.Failed))
	return err
}

func (n *Node) audit(ctx context.Context) error {
	report, err := n.replication.Audit(ctx)
	if report.Failed > 0 {
		n.logger.WithFields(logrus.Fields{
			"challenged": report.Challenged,
			"failed":     report.Failed,
		}).Info("Storage audit found missing fragments")
	}
	return err
}

func (n *Node) collectGarbage(ctx context.Context) error {
	_, err := n.replication.CollectGarbage(time.Now())
	return err
}

// snapshot signs the ledger state when it changed since the last snapshot.
func (n *Node) snapshot(ctx context.Context) error {
	if !n.ledger.CanSnapshot() {
		return nil
	}
	if index, _, err := n.store.LastSnapshot(); err == nil && index == n.ledger.Applied() {
		return nil
	}
	_, err := n.ledger.Snapshot()
	return err
}

// publishPresence announces the address and storage capacity of the node.
func (n *Node) publishPresence(ctx context.Context) error {
	_, err := n.Publish(event.TypePresence, &event.PresencePayload{
		NetAddr:    n.trans.AdvertiseAddr(),
		QuotaBytes: n.store.Quota(),
		UsedBytes:  n.store.UsedBytes(),
	}, nil)
	return err
}

// flagExclusion publishes an invalidation:v1 event for a token event of ours
// that the ledger excluded.
func (n *Node) flagExclusion(ev *event.Event) {
	if ev.Type != event.TypeToken || ev.Author != n.pubKey {
		return
	}
	reason, ok := n.ledger.ExclusionReason(ev.ID)
	if !ok {
		return
	}

	// Observers may run inside Publish, which is not reentrant.
	n.goFunc(func() {
		_, err := n.Publish(event.TypeInvalidation, &event.InvalidationPayload{
			Target: ev.ID,
			Reason: reason,
		}, nil)
		if err != nil {
			n.logger.WithError(err).WithField("target", ev.ID).Error("Flagging excluded event")
		}
	})
}
