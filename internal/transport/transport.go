// Package transport moves raw datagrams between nodes on the local network.
package transport

import (
	"context"
	"errors"
	"net/netip"
)

var ErrClosed = errors.New("transport closed")

// Datagram is one received packet and the address it came from.
type Datagram struct {
	From netip.AddrPort
	Data []byte
}

// Transport sends unicast and discovery traffic. Send and Broadcast are safe
// for concurrent use; Receive has a single consumer.
type Transport interface {
	Send(data []byte, to netip.AddrPort) error
	Broadcast(data []byte) error
	Receive(ctx context.Context) (Datagram, error)
	LocalAddr() netip.AddrPort
	Close() error
}
