package peers

import (
	"sort"
	"sync"
)

// PeerSet is the set of peers a node knows about, keyed by address. It starts
// from the bootstrap list and grows as other nodes contact us or announce
// their presence.
type PeerSet struct {
	sync.RWMutex
	byAddr map[string]*Peer
	sorted []*Peer
}

/* Constructors */

// NewPeerSet creates a new PeerSet from a list of Peers
func NewPeerSet(peers []*Peer) *PeerSet {
	ps := &PeerSet{
		byAddr: make(map[string]*Peer),
	}

	for _, p := range peers {
		ps.byAddr[p.NetAddr] = p
	}

	ps.internalSort()

	return ps
}

/* Add Methods */

// Add inserts a peer or updates the key and moniker of a known address. It
// reports whether the address is new.
func (ps *PeerSet) Add(peer *Peer) bool {
	ps.Lock()
	defer ps.Unlock()

	existing, ok := ps.byAddr[peer.NetAddr]
	if ok {
		if peer.PubKeyHex != "" {
			existing.PubKeyHex = peer.PubKeyHex
		}
		if peer.Moniker != "" {
			existing.Moniker = peer.Moniker
		}
		return false
	}

	ps.byAddr[peer.NetAddr] = peer
	ps.internalSort()

	return true
}

func (ps *PeerSet) internalSort() {
	res := make([]*Peer, 0, len(ps.byAddr))

	for _, p := range ps.byAddr {
		res = append(res, p)
	}

	sort.Sort(ByAddr(res))

	ps.sorted = res
}

/* Remove Methods */

// Remove ...
func (ps *PeerSet) Remove(addr string) {
	ps.Lock()
	defer ps.Unlock()

	if _, ok := ps.byAddr[addr]; !ok {
		return
	}

	delete(ps.byAddr, addr)

	ps.internalSort()
}

/* ToSlice Methods */

// Peers returns a copy of the peers sorted by address.
func (ps *PeerSet) Peers() []*Peer {
	ps.RLock()
	defer ps.RUnlock()

	res := make([]*Peer, len(ps.sorted))
	copy(res, ps.sorted)
	return res
}

// Addrs ...
func (ps *PeerSet) Addrs() []string {
	ps.RLock()
	defer ps.RUnlock()

	res := make([]string, 0, len(ps.sorted))
	for _, p := range ps.sorted {
		res = append(res, p.NetAddr)
	}
	return res
}

/* Utilities */

// Get ...
func (ps *PeerSet) Get(addr string) (*Peer, bool) {
	ps.RLock()
	defer ps.RUnlock()

	p, ok := ps.byAddr[addr]
	return p, ok
}

// ByPubKey returns the peer announcing pubKey, if any.
func (ps *PeerSet) ByPubKey(pubKey string) (*Peer, bool) {
	ps.RLock()
	defer ps.RUnlock()

	for _, p := range ps.sorted {
		if p.PubKeyHex == pubKey {
			return p, true
		}
	}
	return nil, false
}

// Len returns the number of Peers in the PeerSet
func (ps *PeerSet) Len() int {
	ps.RLock()
	defer ps.RUnlock()

	return len(ps.byAddr)
}

// ByAddr implements sort.Interface for Peers based on the NetAddr field.
type ByAddr []*Peer

func (a ByAddr) Len() int           { return len(a) }
func (a ByAddr) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a ByAddr) Less(i, j int) bool { return a[i].NetAddr < a[j].NetAddr }
