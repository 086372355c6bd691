package net

import (
	"errors"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	errNotAdvertisable = errors.New("local bind address is not advertisable")
	errNotTCP          = errors.New("local address is not a TCP address")
)

// NewTCPTransport listens on bindAddr and returns a NetworkTransport over it.
// advertise, when set, is the address announced to peers instead of the
// listener address. Either must be a specific TCP address.
func NewTCPTransport(
	bindAddr string,
	advertise string,
	maxPool int,
	timeout time.Duration,
	transferTimeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	list, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}

	stream, err := newTCPStreamLayer(list, advertise)
	if err != nil {
		list.Close()
		return nil, err
	}

	return NewNetworkTransport(stream, maxPool, timeout, transferTimeout, logger), nil
}

func newTCPStreamLayer(list net.Listener, advertise string) (*TCPStreamLayer, error) {
	addr := list.Addr()
	if advertise != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return nil, err
		}
		addr = resolved
	}

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, errNotTCP
	}
	if tcpAddr.IP.IsUnspecified() {
		return nil, errNotAdvertisable
	}

	return &TCPStreamLayer{
		advertise: advertise,
		listener:  list.(*net.TCPListener),
	}, nil
}
