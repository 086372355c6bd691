package net

import (
	"context"
	"net"
)

// RPC is a request received by a transport. The handler answers exactly once
// through Respond.
type RPC struct {
	Command interface{}
	// Source is the remote address of the connection the request came in
	// on, as seen by the transport.
	Source   string
	RespChan chan<- RPCResponse
}

// RPCResponse carries the answer to an RPC and the handler error, if any.
type RPCResponse struct {
	Response interface{}
	Error    error
}

// Respond sends resp and err back to the caller.
func (r *RPC) Respond(resp interface{}, err error) {
	r.RespChan <- RPCResponse{resp, err}
}

// Transport provides an interface for network transports to allow a node to
// communicate with other nodes. Every outbound call honours the cancellation
// and deadline of its context in addition to the transport timeout.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Publish, Backfill and Heads replicate the event log.

	Publish(ctx context.Context, target string, args *PublishRequest, resp *PublishResponse) error

	Backfill(ctx context.Context, target string, args *BackfillRequest, resp *BackfillResponse) error

	Heads(ctx context.Context, target string, args *HeadsRequest, resp *HeadsResponse) error

	// StoreFragment, FetchFragment and Challenge move and audit blob
	// fragments.

	StoreFragment(ctx context.Context, target string, args *StoreFragmentRequest, resp *StoreFragmentResponse) error

	FetchFragment(ctx context.Context, target string, args *FetchFragmentRequest, resp *FetchFragmentResponse) error

	Challenge(ctx context.Context, target string, args *ChallengeRequest, resp *ChallengeResponse) error

	// Disconnect drops any connection state held for target.
	Disconnect(target string)

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// Sender returns the address a request from source claiming to be from
// claimed is attributed to. The claim is kept when it names the same host as
// source, so peers stay known by their listen address; otherwise the request
// is attributed to source. An empty source, as in direct calls, keeps the
// claim.
func Sender(source, claimed string) string {
	if source == "" || (claimed != "" && hostOf(claimed) == hostOf(source)) {
		return claimed
	}
	return source
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
