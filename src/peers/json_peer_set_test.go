package peers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mosaicnetworks/weave/src/crypto/keys"
)

func TestJSONPeerSet(t *testing.T) {
	dir := t.TempDir()

	// Create the store
	store := NewJSONPeerSet(dir)

	// Try a read, should get an empty set
	peerSet, err := store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 0 {
		t.Fatalf("peerSet should be empty: %v", peerSet.Peers())
	}

	peers := []*Peer{}
	for i := 0; i < 3; i++ {
		key, err := keys.GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		peers = append(peers, &Peer{
			NetAddr:   fmt.Sprintf("addr%d", i),
			PubKeyHex: keys.PublicKeyHex(key.PubKey()),
			Moniker:   fmt.Sprintf("peer%d", i),
		})
	}

	if err := store.Write(peers); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 peers
	peerSet, err = store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 3 {
		t.Fatalf("peers: %v", peerSet.Peers())
	}

	peerSlice := peerSet.Peers()

	for i := 0; i < 3; i++ {
		if peerSlice[i].NetAddr != peers[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i,
				peers[i].NetAddr, peerSlice[i].NetAddr)
		}
		if peerSlice[i].Moniker != peers[i].Moniker {
			t.Fatalf("peers[%d] Moniker should be %s, not %s", i,
				peers[i].Moniker, peerSlice[i].Moniker)
		}
		if peerSlice[i].PubKeyHex != peers[i].PubKeyHex {
			t.Fatalf("peers[%d] PubKeyHex should be %s, not %s", i,
				peers[i].PubKeyHex, peerSlice[i].PubKeyHex)
		}
		if _, err := keys.ParsePublicKeyHex(peerSlice[i].PubKeyHex); err != nil {
			t.Fatalf("peers[%d] PubKeyHex not parsed correctly: %v", i, err)
		}
	}
}

func TestJSONPeerSetCleansesKeys(t *testing.T) {
	dir := t.TempDir()

	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	pub := keys.PublicKeyHex(key.PubKey())

	content := fmt.Sprintf(`[{"NetAddr":"10.0.0.1:1337","PubKeyHex":"0X%s"}]`, strings.ToUpper(pub))
	if err := os.WriteFile(filepath.Join(dir, "peers.json"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	peerSet, err := NewJSONPeerSet(dir).PeerSet()
	if err != nil {
		t.Fatal(err)
	}

	p, ok := peerSet.ByPubKey(pub)
	if !ok || p.NetAddr != "10.0.0.1:1337" {
		t.Fatalf("peer not found by normalised key: %v", peerSet.Peers())
	}
}

func TestPeerSet(t *testing.T) {
	ps := NewPeerSet([]*Peer{NewPeer("", "b:1", ""), NewPeer("", "a:1", "")})

	if !ps.Add(NewPeer("02aa", "c:1", "c")) {
		t.Fatal("c:1 should be new")
	}
	if ps.Add(NewPeer("02bb", "a:1", "alice")) {
		t.Fatal("a:1 is not new")
	}

	a, _ := ps.Get("a:1")
	if a.PubKeyHex != "02bb" || a.Moniker != "alice" {
		t.Fatalf("a:1 not updated: %#v", a)
	}

	if got := strings.Join(ps.Addrs(), ","); got != "a:1,b:1,c:1" {
		t.Fatalf("bad order: %s", got)
	}

	ps.Remove("b:1")
	if ps.Len() != 2 {
		t.Fatalf("len should be 2, not %d", ps.Len())
	}

	_, others := ExcludePeer(ps.Peers(), "a:1")
	if len(others) != 1 || others[0].NetAddr != "c:1" {
		t.Fatalf("bad exclusion: %v", others)
	}
}

func TestNetworkPrefix(t *testing.T) {
	cases := map[string]string{
		"10.1.2.3:80":         "10.1.2.0/24",
		"10.1.2.200:9000":     "10.1.2.0/24",
		"[2001:db8:1:2::1]:1": "2001:db8:1::/48",
		"node.example:1":      "node.example:1",
	}
	for addr, expected := range cases {
		if got := NetworkPrefix(addr); got != expected {
			t.Fatalf("prefix of %s should be %s, not %s", addr, expected, got)
		}
	}
}
