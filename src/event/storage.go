package event

import (
	"fmt"
	"net"
)

// Storage and audit event types.
const (
	TypeManifest     = "manifest:v1"
	TypeHolding      = "holding:v1"
	TypePresence     = "presence:v1"
	TypeInvalidation = "invalidation:v1"
)

// MaxFragments bounds the m parameter of a manifest.
const MaxFragments = 255

func init() {
	Register(TypeManifest, false, func() Payload { return &ManifestPayload{} })
	Register(TypeHolding, false, func() Payload { return &HoldingPayload{} })
	Register(TypePresence, false, func() Payload { return &PresencePayload{} })
	Register(TypeInvalidation, false, func() Payload { return &InvalidationPayload{} })
}

// FragmentRef names one fragment of a chunk.
type FragmentRef struct {
	CID string `json:"cid"`
}

// ManifestPayload describes one erasure-coded chunk of a blob. A blob of n
// chunks is published as n manifests sharing BlobCID.
type ManifestPayload struct {
	BlobCID       string        `json:"blob_cid"`
	ChunkIndex    uint32        `json:"chunk_index"`
	ChunkCount    uint32        `json:"chunk_count"`
	ChunkSize     uint32        `json:"chunk_size"`
	FragmentSize  uint32        `json:"fragment_size"`
	BlobSize      uint64        `json:"blob_size"`
	ChunkRoot     string        `json:"chunk_root"`
	Fragments     []FragmentRef `json:"fragments"`
	K             int           `json:"k"`
	M             int           `json:"m"`
	TargetHolders int           `json:"target_holders"`
}

// Validate ...
func (p *ManifestPayload) Validate() error {
	if err := firstErr(
		eventID("blob_cid", p.BlobCID),
		eventID("chunk_root", p.ChunkRoot),
	); err != nil {
		return err
	}
	if p.ChunkCount == 0 || p.ChunkIndex >= p.ChunkCount {
		return fmt.Errorf("chunk_index %d out of range for %d chunks", p.ChunkIndex, p.ChunkCount)
	}
	if p.ChunkSize == 0 || p.FragmentSize == 0 {
		return fmt.Errorf("chunk_size and fragment_size must be positive")
	}
	if p.K <= 0 || p.M <= p.K || p.M > MaxFragments {
		return fmt.Errorf("invalid coding parameters k=%d m=%d", p.K, p.M)
	}
	if len(p.Fragments) != p.M {
		return fmt.Errorf("manifest lists %d fragments, expected %d", len(p.Fragments), p.M)
	}
	for i, f := range p.Fragments {
		if err := eventID(fmt.Sprintf("fragments[%d].cid", i), f.CID); err != nil {
			return err
		}
	}
	if p.TargetHolders < p.K {
		return fmt.Errorf("target_holders must be at least k")
	}
	return nil
}

// References ...
func (p *ManifestPayload) References() []string {
	refs := []string{p.BlobCID, p.ChunkRoot}
	for _, f := range p.Fragments {
		refs = append(refs, f.CID)
	}
	return refs
}

// FragmentIndex returns the position of cid in the manifest or -1.
func (p *ManifestPayload) FragmentIndex(cid string) int {
	for i, f := range p.Fragments {
		if f.CID == cid {
			return i
		}
	}
	return -1
}

// HoldingPayload announces that the author holds fragments of a manifest.
type HoldingPayload struct {
	Manifest  string `json:"manifest"`
	Fragments []int  `json:"fragments"`
}

// Validate ...
func (p *HoldingPayload) Validate() error {
	if err := eventID("manifest", p.Manifest); err != nil {
		return err
	}
	if len(p.Fragments) > MaxFragments {
		return fmt.Errorf("too many fragments")
	}
	for _, f := range p.Fragments {
		if f < 0 || f >= MaxFragments {
			return fmt.Errorf("fragment index %d out of range", f)
		}
	}
	return nil
}

// References ...
func (p *HoldingPayload) References() []string {
	return []string{p.Manifest}
}

// PresencePayload advertises how to reach the author and how much it is
// willing to store for others.
type PresencePayload struct {
	NetAddr    string `json:"net_addr"`
	QuotaBytes uint64 `json:"quota_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
}

// Validate ...
func (p *PresencePayload) Validate() error {
	if err := required("net_addr", p.NetAddr, MaxTitleLength); err != nil {
		return err
	}
	if _, _, err := net.SplitHostPort(p.NetAddr); err != nil {
		return fmt.Errorf("net_addr: %v", err)
	}
	return nil
}

// References ...
func (p *PresencePayload) References() []string {
	return nil
}

// InvalidationPayload flags a prior event as invalid, with evidence. It never
// removes the target from the log.
type InvalidationPayload struct {
	Target   string   `json:"target"`
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

// Validate ...
func (p *InvalidationPayload) Validate() error {
	return firstErr(
		eventID("target", p.Target),
		required("reason", p.Reason, MaxTextLength),
		idList("evidence", p.Evidence, MaxListLength),
	)
}

// References ...
func (p *InvalidationPayload) References() []string {
	return append([]string{p.Target}, p.Evidence...)
}
