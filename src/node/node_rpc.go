package node

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/weave/src/net"
)

// ErrBusy is returned to peers when too many requests are being processed.
var ErrBusy = errors.New("node busy")

// processRPC routes an inbound request to the component serving it.
func (n *Node) processRPC(rpc net.RPC) {
	if n.gossip.Handle(rpc) {
		return
	}
	if n.replication.Handle(rpc) {
		return
	}

	n.logger.WithField("cmd", fmt.Sprintf("%T", rpc.Command)).Error("Unexpected RPC command")
	rpc.Respond(nil, fmt.Errorf("unexpected command %T", rpc.Command))
}
