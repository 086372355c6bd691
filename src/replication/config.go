package replication

import "time"

// SegmentSize is the leaf size of the merkle tree over a fragment. Fragment
// CIDs and storage proofs depend on it, so every node must use the same value.
const SegmentSize = 1024

// Config ...
type Config struct {
	// ChunkSize is the size of the pieces a blob is split into before coding.
	ChunkSize int
	// K fragments out of M reconstruct a chunk.
	K int
	M int
	// TargetHolders is the number of distinct peers that should hold
	// fragments of each chunk.
	TargetHolders int
	// RepairThreshold triggers repair when fewer than
	// RepairThreshold*TargetHolders holders are available.
	RepairThreshold float64
	// DegradedAfter consecutive failed repairs flag a manifest as degraded.
	DegradedAfter int
	// HolderTTL ages out holders that were neither announced nor proven
	// for that long. Zero disables ageing.
	HolderTTL time.Duration
	// Retention is how long a manifest survives without any application
	// event referencing its blob.
	Retention time.Duration
	// ProofMaxAge bounds the age of the timestamp in a storage proof.
	ProofMaxAge time.Duration
	// FetchBlockSize is the length of one ranged fragment read.
	FetchBlockSize int
	// FetchRetries is the number of retries per peer for fragment RPCs.
	FetchRetries uint64
	// Timeout bounds one fragment operation against one peer.
	Timeout time.Duration
}

// DefaultConfig ...
func DefaultConfig() Config {
	return Config{
		ChunkSize:       1 << 20,
		K:               10,
		M:               30,
		TargetHolders:   30,
		RepairThreshold: 0.8,
		DegradedAfter:   3,
		HolderTTL:       24 * time.Hour,
		Retention:       7 * 24 * time.Hour,
		ProofMaxAge:     5 * time.Minute,
		FetchBlockSize:  64 * 1024,
		FetchRetries:    2,
		Timeout:         30 * time.Second,
	}
}

// repairBelow is the number of available holders under which a manifest is
// repaired.
func (c Config) repairBelow(target int) int {
	n := int(c.RepairThreshold*float64(target) + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}
