package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/gossip"
	"github.com/mosaicnetworks/weave/src/replication"
	"github.com/sirupsen/logrus"
)

// Config holds the node level settings. A zero interval disables the
// corresponding background task.
type Config struct {
	// AntiEntropyInterval is the period of the heads comparison with a random
	// peer.
	AntiEntropyInterval time.Duration
	// SweepInterval is the period of the pending buffer expiry.
	SweepInterval time.Duration
	RepairInterval time.Duration
	AuditInterval  time.Duration
	GCInterval     time.Duration
	// SnapshotInterval is the period of signed ledger snapshots.
	SnapshotInterval time.Duration
	// PresenceInterval is the period at which the node republishes its
	// presence:v1 event. The first one is published on start.
	PresenceInterval time.Duration

	PendingSize     int
	PendingTTL      time.Duration
	SequencerShards int

	// MintPolicy is "open" or "authorized". Minters lists the public keys
	// allowed to mint under the authorized policy.
	MintPolicy string
	Minters    []string

	// FlagExclusions makes the node publish an invalidation:v1 event for
	// every token event of its own that the ledger excludes.
	FlagExclusions bool

	// QueryLimit bounds the page size of event queries.
	QueryLimit int

	// Maintenance starts the node suspended: it serves requests but runs
	// no background task.
	Maintenance bool

	Moniker string

	Gossip      gossip.Config
	Replication replication.Config

	Logger *logrus.Entry
}

// DefaultConfig ...
func DefaultConfig() *Config {
	logger := logrus.New()
	logger.Level = logrus.DebugLevel

	return &Config{
		AntiEntropyInterval: 5 * time.Second,
		SweepInterval:       30 * time.Second,
		RepairInterval:      time.Minute,
		AuditInterval:       10 * time.Minute,
		GCInterval:          time.Hour,
		SnapshotInterval:    10 * time.Minute,
		PresenceInterval:    time.Hour,
		PendingSize:         10000,
		PendingTTL:          10 * time.Minute,
		SequencerShards:     64,
		MintPolicy:          "open",
		QueryLimit:          1000,
		Gossip:              gossip.DefaultConfig(),
		Replication:         replication.DefaultConfig(),
		Logger:              logrus.NewEntry(logger),
	}
}

// TestConfig returns a configuration without background tasks, apart from
// presence, logging through t.
func TestConfig(t testing.TB) *Config {
	conf := DefaultConfig()
	conf.AntiEntropyInterval = 0
	conf.SweepInterval = 0
	conf.RepairInterval = 0
	conf.AuditInterval = 0
	conf.GCInterval = 0
	conf.SnapshotInterval = 0
	conf.PresenceInterval = time.Hour
	conf.PendingTTL = time.Minute
	conf.Gossip.BackfillTimeout = 2 * time.Second

	rc := conf.Replication
	rc.ChunkSize = 8192
	rc.K = 2
	rc.M = 4
	rc.TargetHolders = 4
	rc.HolderTTL = 0
	rc.FetchRetries = 0
	rc.Timeout = 2 * time.Second
	conf.Replication = rc

	conf.Logger = common.NewTestEntry(t, common.TestLogLevel)
	return conf
}
