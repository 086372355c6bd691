package event

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/weave/src/common"
	"github.com/mosaicnetworks/weave/src/crypto/keys"
	"github.com/stretchr/testify/require"
)

func testKey(t testing.TB) *btcec.PrivateKey {
	key, err := keys.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func fakeID(c byte) string {
	return strings.Repeat(string([]byte{c}), 64)
}

func TestNewAndVerify(t *testing.T) {
	key := testKey(t)

	ev, err := New(TypePost, &PostPayload{Content: "hello"}, nil, 0, key)
	require.NoError(t, err)

	require.Equal(t, keys.PublicKeyHex(key.PubKey()), ev.Author)
	require.True(t, ev.IsGenesis())
	require.NotNil(t, ev.Prev)
	require.NoError(t, ev.CheckSchema())
	require.NoError(t, ev.Verify())

	id, err := ev.ComputeID()
	require.NoError(t, err)
	require.Equal(t, ev.ID, id)
}

func TestNewRejectsInvalidPayload(t *testing.T) {
	key := testKey(t)

	_, err := New(TypePost, &PostPayload{}, nil, 0, key)
	require.True(t, common.IsRejection(err, common.SchemaInvalid), "got %v", err)

	_, err = New("nope:v1", &PostPayload{Content: "x"}, nil, 0, key)
	require.True(t, common.IsRejection(err, common.SchemaInvalid), "got %v", err)

	_, err = New(TypeLike, &PostPayload{Content: "x"}, nil, 0, key)
	require.True(t, common.IsRejection(err, common.SchemaInvalid), "got %v", err)
}

func TestHashMismatch(t *testing.T) {
	key := testKey(t)

	ev, err := New(TypePost, &PostPayload{Content: "original"}, nil, 0, key)
	require.NoError(t, err)

	ev.Payload = json.RawMessage(`{"content":"tampered"}`)

	err = ev.Verify()
	require.True(t, common.IsRejection(err, common.HashMismatch), "got %v", err)

	ev2, err := New(TypePost, &PostPayload{Content: "original"}, nil, 0, key)
	require.NoError(t, err)
	ev2.Nonce = 9

	err = ev2.Verify()
	require.True(t, common.IsRejection(err, common.HashMismatch), "got %v", err)
}

func TestSignatureInvalid(t *testing.T) {
	key := testKey(t)
	other := testKey(t)

	ev, err := New(TypePost, &PostPayload{Content: "hello"}, nil, 0, key)
	require.NoError(t, err)

	forged, err := New(TypePost, &PostPayload{Content: "hello"}, nil, 0, other)
	require.NoError(t, err)

	ev.Sig = forged.Sig

	err = ev.Verify()
	require.True(t, common.IsRejection(err, common.SignatureInvalid), "got %v", err)

	// An attacker re-keying an event changes its id, so the declared id no
	// longer matches.
	forged.Author = ev.Author
	err = forged.Verify()
	require.True(t, common.IsRejection(err, common.HashMismatch), "got %v", err)
}

func TestSignWithWrongKey(t *testing.T) {
	ev, err := New(TypePost, &PostPayload{Content: "hello"}, nil, 0, testKey(t))
	require.NoError(t, err)
	require.Error(t, ev.Sign(testKey(t)))
}

func TestCanonicalPayloadVariance(t *testing.T) {
	key := testKey(t)

	ev, err := New(TypeToken, &TokenPayload{Action: TokenMint, Amount: 10, Memo: "é"}, nil, 1, key)
	require.NoError(t, err)

	variants := []string{
		`{"memo":"é","amount":10,"action":"mint"}`,
		`{ "action" : "mint", "amount" : 1e1, "memo" : "é" }`,
		`{"amount":10.0,"memo":"é","action":"mint"}`,
	}

	for _, v := range variants {
		c := ev.Clone()
		c.Payload = json.RawMessage(v)
		id, err := c.ComputeID()
		require.NoError(t, err)
		require.Equal(t, ev.ID, id, v)
		require.NoError(t, c.CheckSignature(), v)
	}
}

func TestCheckSchema(t *testing.T) {
	key := testKey(t)

	base, err := New(TypePost, &PostPayload{Content: "hello"}, []string{fakeID('a')}, 0, key)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Event)
	}{
		{"unknown type", func(e *Event) { e.Type = "nope:v1" }},
		{"unknown field", func(e *Event) { e.Payload = json.RawMessage(`{"content":"x","extra":1}`) }},
		{"missing field", func(e *Event) { e.Payload = json.RawMessage(`{}`) }},
		{"wrong field type", func(e *Event) { e.Payload = json.RawMessage(`{"content":5}`) }},
		{"empty payload", func(e *Event) { e.Payload = nil }},
		{"malformed author", func(e *Event) { e.Author = "zz" }},
		{"malformed id", func(e *Event) { e.ID = "abc" }},
		{"missing sig", func(e *Event) { e.Sig = "" }},
		{"malformed parent", func(e *Event) { e.Prev = []string{"xyz"} }},
		{"duplicate parent", func(e *Event) { e.Prev = []string{fakeID('a'), fakeID('a')} }},
		{"self parent", func(e *Event) { e.Prev = []string{e.ID} }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ev := base.Clone()
			c.mutate(ev)
			err := ev.CheckSchema()
			require.True(t, common.IsRejection(err, common.SchemaInvalid), "got %v", err)
		})
	}

	require.NoError(t, base.Clone().CheckSchema())
}

func TestWireRoundTrip(t *testing.T) {
	key := testKey(t)

	ev, err := New(TypeComment, &CommentPayload{ParentID: fakeID('b'), Content: "reply"}, []string{fakeID('b')}, 0, key)
	require.NoError(t, err)
	ev.Lamport = 7

	data, err := ev.Marshal()
	require.NoError(t, err)
	require.NotContains(t, string(data), "lamport")

	got, err := Unmarshal(data)
	require.NoError(t, err)
	require.NoError(t, got.CheckSchema())
	require.NoError(t, got.Verify())
	require.Equal(t, uint64(0), got.Lamport)
	require.Equal(t, []string{fakeID('b')}, got.References())

	_, err = Unmarshal([]byte("{"))
	require.True(t, common.IsRejection(err, common.SchemaInvalid))
}

func TestNonceBearing(t *testing.T) {
	for _, typ := range []string{TypeToken, TypeVote, TypeCandidacyVote, TypeRecallVote, TypeJuryVote, TypeApplicationVote} {
		require.True(t, NonceBearing(typ), typ)
	}
	for _, typ := range []string{TypePost, TypeManifest, TypeProfile, "nope:v1"} {
		require.False(t, NonceBearing(typ), typ)
	}
}

func TestTokenPayload(t *testing.T) {
	target := keys.PublicKeyHex(testKey(t).PubKey())

	valid := []TokenPayload{
		{Action: TokenMint, Amount: 1},
		{Action: TokenBurn, Amount: 5, Target: target},
		{Action: TokenTransferClaim, Amount: 5, Ref: fakeID('c')},
		{Action: TokenMintReward, Amount: 2, Target: target},
	}
	for _, p := range valid {
		p := p
		require.NoError(t, p.Validate(), "%+v", p)
	}

	require.True(t, (&TokenPayload{Action: TokenMint, Amount: 1}).IsMint())
	require.False(t, (&TokenPayload{Action: TokenMint, Amount: 1}).IsClaim())
	require.False(t, (&TokenPayload{Action: TokenMint, Amount: 1, Ref: fakeID('c')}).IsMint())
	require.True(t, (&TokenPayload{Action: TokenMintReward, Amount: 1, Ref: fakeID('c')}).IsClaim())
	require.True(t, (&TokenPayload{Action: TokenTransferClaim, Amount: 1, Ref: fakeID('c')}).IsClaim())
	require.False(t, (&TokenPayload{Action: TokenBurn, Amount: 1, Ref: fakeID('c')}).IsClaim())

	invalid := []TokenPayload{
		{Action: "steal", Amount: 1},
		{Action: TokenMint, Amount: 0},
		{Action: TokenBurn, Amount: 1, Target: "bob"},
		{Action: TokenTransferClaim, Amount: 1},
	}
	for _, p := range invalid {
		p := p
		require.Error(t, p.Validate(), "%+v", p)
	}
}

func TestManifestPayload(t *testing.T) {
	frags := make([]FragmentRef, 3)
	for i := range frags {
		frags[i] = FragmentRef{CID: fakeID(byte('a' + i))}
	}

	m := ManifestPayload{
		BlobCID:       fakeID('d'),
		ChunkCount:    1,
		ChunkSize:     1024,
		FragmentSize:  512,
		BlobSize:      1000,
		ChunkRoot:     fakeID('e'),
		Fragments:     frags,
		K:             2,
		M:             3,
		TargetHolders: 3,
	}
	require.NoError(t, m.Validate())
	require.Equal(t, 1, m.FragmentIndex(fakeID('b')))
	require.Equal(t, -1, m.FragmentIndex(fakeID('f')))

	bad := m
	bad.K = 3
	require.Error(t, bad.Validate())

	bad = m
	bad.Fragments = frags[:2]
	require.Error(t, bad.Validate())

	bad = m
	bad.ChunkIndex = 1
	require.Error(t, bad.Validate())
}

func TestSort(t *testing.T) {
	a := &Event{ID: fakeID('2'), Author: "02aa", Lamport: 1}
	b := &Event{ID: fakeID('1'), Author: "02bb", Lamport: 1}
	c := &Event{ID: fakeID('0'), Author: "02aa", Lamport: 2}
	d := &Event{ID: fakeID('1'), Author: "02aa", Lamport: 1}

	events := []*Event{c, b, a, d}
	Sort(events)

	require.Equal(t, []*Event{d, a, b, c}, events)
}

func TestNewPayload(t *testing.T) {
	p, err := NewPayload(TypePost, []byte(`{"content":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, "hello", p.(*PostPayload).Content)

	_, err = NewPayload(TypePost, []byte(`{"content":"hello","extra":1}`))
	require.Error(t, err)

	_, err = NewPayload(TypePost, []byte(`{}`))
	require.Error(t, err)

	_, err = NewPayload("nope:v1", []byte(`{}`))
	require.Error(t, err)
}
