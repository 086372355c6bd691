package net

import (
	"net"
	"time"
)

// StreamLayer is the connection layer under a NetworkTransport.
type StreamLayer interface {
	net.Listener

	// Dial opens an outgoing connection to address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address peers should dial to reach this node.
	AdvertiseAddr() string
}

// tcpKeepAlive is the keep-alive period of dialed connections.
const tcpKeepAlive = 30 * time.Second

// TCPStreamLayer is a StreamLayer over plain TCP.
type TCPStreamLayer struct {
	advertise string
	listener  *net.TCPListener
}

// Dial implements StreamLayer.
func (t *TCPStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: tcpKeepAlive}
	return d.Dial("tcp", address)
}

// Accept implements net.Listener.
func (t *TCPStreamLayer) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Close implements net.Listener.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

// Addr implements net.Listener.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// AdvertiseAddr implements StreamLayer.
func (t *TCPStreamLayer) AdvertiseAddr() string {
	if t.advertise != "" {
		return t.advertise
	}
	return t.listener.Addr().String()
}
