// Package node implements the reactive component of a Weave node.
//
// A Node owns the local log and connects the components that feed it. Every
// event, whether created locally, submitted by an application or received
// through gossip, goes through the same admission pipeline (Core):
//
//	validate -> admit to the graph -> apply to the ledger -> observers
//
// Validation and admission run under a lock of the event author, so the nonce
// and genesis checks of an author hold until its event is stored, while events
// of different authors are processed in parallel. An event whose parents are
// unknown is buffered by the graph and released, with its descendants, when
// the parents arrive.
//
// Gossip
//
// Accepted events are pushed to a few peers and, periodically, nodes compare
// the heads of their logs and backfill the difference (anti-entropy). The
// messages are carried by the net package and handled by the gossip package.
//
// Replication
//
// Large content is erasure coded into fragments stored by peers that announced
// spare capacity in a presence event. The node periodically repairs degraded
// blobs, audits its holders and garbage collects fragments nobody references.
//
// Background work
//
// The periodic jobs (anti-entropy, sweeping of buffered events, repair, audit,
// garbage collection, ledger snapshots and presence) are driven by randomized
// ControlTimers. A node started in maintenance mode is Suspended: it serves
// RPCs and the application API but runs none of these jobs until Resume.
package node
