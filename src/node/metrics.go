package node

import (
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "weave"

// metrics are registered on a registry owned by the node, so several nodes can
// live in one process.
type metrics struct {
	registry *prometheus.Registry

	accepted *prometheus.CounterVec
	rejected *prometheus.CounterVec
	repairs  *prometheus.CounterVec
	uploads  prometheus.Counter
	fetches  *prometheus.CounterVec
}

func newMetrics(n *Node) *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Events admitted to the log, by origin.",
		}, []string{"origin"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Events not admitted, by rejection reason.",
		}, []string{"reason"}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Chunk repairs, by outcome.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_uploads_total",
			Help:      "Blobs uploaded through this node.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_fetches_total",
			Help:      "Blob fetches, by outcome.",
		}, []string{"outcome"}),
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_events",
			Help:      "Events waiting for their parents.",
		}, func() float64 { return float64(n.core.graph.PendingLen()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Peers in good standing.",
		}, func() float64 { return float64(len(n.gossip.Targets("", gossip.StateOK))) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "local_fragments",
			Help:      "Fragments held by this node.",
		}, func() float64 {
			cids, err := n.store.Fragments()
			if err != nil {
				return 0
			}
			return float64(len(cids))
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_used_bytes",
			Help:      "Bytes used by blobs and fragments.",
		}, func() float64 { return float64(n.store.UsedBytes()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "degraded_manifests",
			Help:      "Manifests whose repair failed repeatedly.",
		}, func() float64 { return float64(len(n.replication.Degraded())) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_seq",
			Help:      "Number of events in the local log.",
		}, func() float64 { return float64(n.store.LastSeq()) }),
	}

	m.registry.MustRegister(
		m.accepted,
		m.rejected,
		m.repairs,
		m.uploads,
		m.fetches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.registry.MustRegister(gauges...)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
