package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mosaicnetworks/weave/src/common"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

/*******************************************************************************
MOST OF THIS IS TAKEN FROM HASHICORP RAFT
*******************************************************************************/

const (
	rpcPublish uint8 = iota
	rpcBackfill
	rpcHeads
	rpcStoreFragment
	rpcFetchFragment
	rpcChallenge
)

const (
	bufSize = 64 * 1024
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

/*
NetworkTransport provides a network based transport that can be
used to communicate with weave on remote machines. It requires
an underlying stream layer to provide a stream abstraction, which can
be simple TCP, TLS, etc.

This transport is very simple and lightweight. Each RPC request is
framed by sending a byte that indicates the message type, followed
by the msgpack encoded request.

The response is an error string followed by the response object,
both are encoded using msgpack
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout         time.Duration
	transferTimeout time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	dec    *codec.Decoder
	enc    *codec.Encoder
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport with the given dialer
// and listener. The maxPool controls how many connections we will pool (per
// target). The timeout is used to apply I/O deadlines; transferTimeout applies
// to the fragment RPCs which carry bulk data.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	transferTimeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	trans := &NetworkTransport{
		connPool:        make(map[string][]*netConn),
		consumeCh:       make(chan RPC),
		logger:          logger.WithField("prefix", "net"),
		maxPool:         maxPool,
		shutdownCh:      make(chan struct{}),
		stream:          stream,
		timeout:         timeout,
		transferTimeout: transferTimeout,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.connPoolLock.Lock()
		for target, conns := range n.connPool {
			for _, c := range conns {
				c.Release()
			}
			delete(n.connPool, target)
		}
		n.connPoolLock.Unlock()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Disconnect implements the Transport interface. It closes the pooled
// connections to target.
func (n *NetworkTransport) Disconnect(target string) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	for _, c := range n.connPool[target] {
		c.Release()
	}
	delete(n.connPool, target)
}

// getPooledConn is used to grab a pooled connection.
func (n *NetworkTransport) getPooledConn(target string) *netConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns, ok := n.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	n.connPool[target] = conns[:num-1]
	return conn
}

// getConn is used to get a connection from the pool.
func (n *NetworkTransport) getConn(target string, timeout time.Duration) (*netConn, error) {
	// Check for a pooled conn
	if conn := n.getPooledConn(target); conn != nil {
		return conn, nil
	}

	// Dial a new connection
	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	// Wrap the conn
	netConn := &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}
	// Setup encoder/decoders
	netConn.dec = common.NewMsgpackDecoder(netConn.r)
	netConn.enc = common.NewMsgpackEncoder(netConn.w)

	// Done
	return netConn, nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := conn.target
	conns := n.connPool[key]

	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// Publish implements the Transport interface.
func (n *NetworkTransport) Publish(ctx context.Context, target string, args *PublishRequest, resp *PublishResponse) error {
	return n.genericRPC(ctx, target, rpcPublish, n.timeout, args, resp)
}

// Backfill implements the Transport interface.
func (n *NetworkTransport) Backfill(ctx context.Context, target string, args *BackfillRequest, resp *BackfillResponse) error {
	return n.genericRPC(ctx, target, rpcBackfill, n.timeout, args, resp)
}

// Heads implements the Transport interface.
func (n *NetworkTransport) Heads(ctx context.Context, target string, args *HeadsRequest, resp *HeadsResponse) error {
	return n.genericRPC(ctx, target, rpcHeads, n.timeout, args, resp)
}

// StoreFragment implements the Transport interface.
func (n *NetworkTransport) StoreFragment(ctx context.Context, target string, args *StoreFragmentRequest, resp *StoreFragmentResponse) error {
	return n.genericRPC(ctx, target, rpcStoreFragment, n.transferTimeout, args, resp)
}

// FetchFragment implements the Transport interface.
func (n *NetworkTransport) FetchFragment(ctx context.Context, target string, args *FetchFragmentRequest, resp *FetchFragmentResponse) error {
	return n.genericRPC(ctx, target, rpcFetchFragment, n.transferTimeout, args, resp)
}

// Challenge implements the Transport interface.
func (n *NetworkTransport) Challenge(ctx context.Context, target string, args *ChallengeRequest, resp *ChallengeResponse) error {
	return n.genericRPC(ctx, target, rpcChallenge, n.timeout, args, resp)
}

// genericRPC handles a simple request/response RPC. Cancelling ctx aborts the
// I/O in progress and discards the connection.
func (n *NetworkTransport) genericRPC(ctx context.Context, target string, rpcType uint8, timeout time.Duration, args interface{}, resp interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Get a conn
	conn, err := n.getConn(target, timeout)
	if err != nil {
		return err
	}

	// Set a deadline
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn.conn.SetDeadline(deadline)

	stop := watchContext(ctx, conn.conn)

	// Send the RPC
	if err = sendRPC(conn, rpcType, args); err != nil {
		stop()
		return contextErr(ctx, err)
	}

	// Decode the response
	canReturn, err := decodeResponse(conn, resp)
	stop()

	if canReturn && ctx.Err() == nil {
		n.returnConn(conn)
	} else if canReturn {
		conn.Release()
	}

	return contextErr(ctx, err)
}

// watchContext expires the deadline of conn when ctx is done. The returned
// function stops the watcher and waits for it to exit.
func watchContext(ctx context.Context, conn net.Conn) func() {
	if ctx.Done() == nil {
		return func() {}
	}

	done := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()

	return func() {
		close(done)
		<-exited
	}
}

func contextErr(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// sendRPC is used to encode and send the RPC.
func sendRPC(conn *netConn, rpcType uint8, args interface{}) error {
	// Write the request type
	if err := conn.w.WriteByte(rpcType); err != nil {
		conn.Release()
		return err
	}

	// Send the request
	if err := conn.enc.Encode(args); err != nil {
		conn.Release()
		return err
	}

	// Flush
	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}
	return nil
}

// decodeResponse is used to decode an RPC response and reports whether
// the connection can be reused.
func decodeResponse(conn *netConn, resp interface{}) (bool, error) {
	// Decode the error if any
	var rpcError string
	if err := conn.dec.Decode(&rpcError); err != nil {
		conn.Release()
		return false, err
	}

	// Decode the response
	if err := conn.dec.Decode(resp); err != nil {
		conn.Release()
		return false, err
	}

	// Format an error if any
	if rpcError != "" {
		return true, errors.New(rpcError)
	}
	return true, nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)
	dec := common.NewMsgpackDecoder(r)
	enc := common.NewMsgpackEncoder(w)

	for {
		if err := n.handleCommand(r, dec, enc, conn.RemoteAddr().String()); err != nil {

			if err == ErrTransportShutdown {
				n.logger.WithField("error", err).Warn("Failed to decode incoming command")
			} else {
				if err != io.EOF {
					n.logger.WithField("error", err).Error("Failed to decode incoming command")
				}
			}
			return
		}
		if err := w.Flush(); err != nil {
			n.logger.WithField("error", err).Error("Failed to flush response")
			return
		}
	}
}

// newCommand returns an empty request for rpcType.
func newCommand(rpcType uint8) (interface{}, error) {
	switch rpcType {
	case rpcPublish:
		return &PublishRequest{}, nil
	case rpcBackfill:
		return &BackfillRequest{}, nil
	case rpcHeads:
		return &HeadsRequest{}, nil
	case rpcStoreFragment:
		return &StoreFragmentRequest{}, nil
	case rpcFetchFragment:
		return &FetchFragmentRequest{}, nil
	case rpcChallenge:
		return &ChallengeRequest{}, nil
	default:
		return nil, fmt.Errorf("unknown rpc type %d", rpcType)
	}
}

// handleCommand is used to decode and dispatch a single command.
func (n *NetworkTransport) handleCommand(r *bufio.Reader, dec *codec.Decoder, enc *codec.Encoder, source string) error {
	// Get the rpc type
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}

	// Create the RPC object
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Source:   source,
		RespChan: respCh,
	}

	// Decode the command
	cmd, err := newCommand(rpcType)
	if err != nil {
		return err
	}
	if err := dec.Decode(cmd); err != nil {
		return err
	}
	rpc.Command = cmd

	// Dispatch the RPC
	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	// Wait for response
	select {
	case resp := <-respCh:
		// Send the error first
		respErr := ""
		if resp.Error != nil {
			respErr = resp.Error.Error()
		}
		if err := enc.Encode(respErr); err != nil {
			return err
		}

		// Send the response
		if err := enc.Encode(resp.Response); err != nil {
			return err
		}
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	return nil
}
