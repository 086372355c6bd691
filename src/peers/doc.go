// Package peers defines the concept of a weave peer and implements functions
// to manage collections of peers.
//
// A peer is a node reachable at a network address. It may also declare the
// public key it signs presence and storage-proof events with, and a moniker
// which is a non-unique user-friendly name.
//
// Upon starting up, weave reads a peers.json file in its data directory. It
// lists the bootstrap peers the node should contact first. The set grows as
// other nodes contact us and as presence events announce new addresses; there
// is no membership protocol and no peer is privileged.
//
// Peers are grouped by network prefix (/24 for IPv4, /48 for IPv6) when blob
// fragments are placed, so that holders of the same chunk are spread across
// networks.
package peers
