// Package net implements the transports weave nodes use to talk to each other.
//
// A Transport carries six request/response RPCs. Publish, Backfill and Heads
// replicate the event log: Publish pushes newly accepted events, Backfill
// fetches events by id together with a bounded number of their ancestors, and
// Heads returns the per-author chain tips of a peer for anti-entropy.
// StoreFragment, FetchFragment and Challenge serve blob replication: pushing a
// fragment to a holder, reading a byte range of a fragment, and requesting a
// proof of storage.
//
// Events always travel as their JSON wire envelopes, so the receiver verifies
// the exact bytes the author signed. The framing around them is msgpack.
//
// There are two implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP with pooled connections
//
// To use a TCP transport, set the following configuration options in the
// Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that weave binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
//
// Every outbound call takes a context. Cancelling it aborts the I/O in
// progress, which is how backfills and fragment fetches are abandoned when a
// peer is disconnected.
package net
