package net

import (
	"github.com/mosaicnetworks/weave/src/event"
	"github.com/mosaicnetworks/weave/src/merkle"
)

// Events travel as their JSON wire envelopes so that the receiver hashes and
// verifies exactly the bytes the author signed.

// PublishRequest pushes newly accepted events to a peer. From is the advertise
// address of the sender.
type PublishRequest struct {
	From   string
	Events [][]byte
}

// PublishResponse reports how many of the pushed events were new to the
// receiver.
type PublishResponse struct {
	Accepted int
}

// BackfillRequest asks for events by id. The responder also returns their
// unknown ancestors up to Depth levels, and at most Limit events in total.
// Known lists ids the requester already holds so they are not sent back.
type BackfillRequest struct {
	From  string
	IDs   []string
	Known []string
	Depth int
	Limit int
}

// BackfillResponse carries the events found, parents first where possible, and
// the requested ids the responder does not have.
type BackfillResponse struct {
	Events  [][]byte
	Missing []string
}

// HeadsRequest is the pull half of anti-entropy.
type HeadsRequest struct {
	From string
}

// HeadsResponse returns the per-author heads of the responder.
type HeadsResponse struct {
	Heads   map[string][]string
	LastSeq uint64
}

// StoreFragmentRequest asks a peer to hold fragment Index of a manifest. CID
// is the merkle root of the fragment segments.
type StoreFragmentRequest struct {
	From     string
	Manifest string
	Index    int
	CID      string
	Data     []byte
}

// StoreFragmentResponse ...
type StoreFragmentResponse struct {
	Stored bool
}

// FetchFragmentRequest reads Length bytes of a fragment starting at Offset. A
// zero Length reads to the end.
type FetchFragmentRequest struct {
	From   string
	CID    string
	Offset int
	Length int
}

// FetchFragmentResponse ...
type FetchFragmentResponse struct {
	Data  []byte
	Total int
}

// ChallengeRequest asks a holder to prove possession of one segment of a
// fragment. Nonce is echoed in the signed proof to prevent replays.
type ChallengeRequest struct {
	From     string
	Fragment string
	Segment  int
	Nonce    string
}

// ChallengeResponse ...
type ChallengeResponse struct {
	Proof StorageProof
}

// StorageProof is a merkle inclusion proof of one fragment segment, signed by
// the holder together with a timestamp.
type StorageProof struct {
	Fragment  string
	Segment   int
	Data      []byte
	Path      []merkle.Step
	Nonce     string
	Timestamp int64
	Holder    string
	Sig       string
}

// EncodeEvents returns the wire envelopes of events.
func EncodeEvents(events []*event.Event) ([][]byte, error) {
	res := make([][]byte, len(events))
	for i, ev := range events {
		b, err := ev.Marshal()
		if err != nil {
			return nil, err
		}
		res[i] = b
	}
	return res, nil
}

// DecodeEvents parses wire envelopes. Malformed envelopes are returned as
// errors alongside the events that parsed.
func DecodeEvents(envelopes [][]byte) ([]*event.Event, []error) {
	res := make([]*event.Event, 0, len(envelopes))
	var errs []error
	for _, b := range envelopes {
		ev, err := event.Unmarshal(b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res = append(res, ev)
	}
	return res, errs
}
