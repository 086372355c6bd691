package peers

import (
	"net"

	"github.com/mosaicnetworks/weave/src/common"
)

// Peer is a node reachable at NetAddr. PubKeyHex is the node key the peer
// signs its presence and storage proofs with; it may be empty for bootstrap
// entries that only list an address.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string
}

// NewPeer ...
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// ID returns a 32-bit hash of the address, used to spread peers over shards.
func (p *Peer) ID() uint32 {
	return common.Hash32([]byte(p.NetAddr))
}

// NetworkPrefix returns the /24 (IPv4) or /48 (IPv6) prefix of the peer's
// address. Peers whose address is not an IP literal are their own prefix.
func (p *Peer) NetworkPrefix() string {
	return NetworkPrefix(p.NetAddr)
}

// NetworkPrefix returns the diversity prefix of a host:port address.
func NetworkPrefix(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return addr
	}

	if v4 := ip.To4(); v4 != nil {
		return v4.Mask(net.CIDRMask(24, 32)).String() + "/24"
	}

	return ip.Mask(net.CIDRMask(48, 128)).String() + "/48"
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, peer string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != peer {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
