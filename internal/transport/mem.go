package transport

import (
	"context"
	"math/rand"
	"net/netip"
	"sync"
)

// Faults configures the unreliability of a MemNetwork. Rates are probabilities
// in [0, 1] applied per delivery.
type Faults struct {
	DropRate      float64
	DuplicateRate float64
	// ReorderRate is the chance a datagram is held back and delivered after
	// the next one addressed to the same node.
	ReorderRate float64
	Seed        int64
}

// FilterFunc decides whether a datagram is delivered. Returning false drops it.
type FilterFunc func(from, to netip.AddrPort, data []byte) bool

// MemNetwork is an in-process broadcast domain for tests.
type MemNetwork struct {
	mu       sync.Mutex
	nodes    map[netip.AddrPort]*MemTransport
	nextPort uint16
	faults   Faults
	rng      *rand.Rand
	filter   FilterFunc
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes:    make(map[netip.AddrPort]*MemTransport),
		nextPort: 40000,
		rng:      rand.New(rand.NewSource(1)),
	}
}

func (n *MemNetwork) SetFaults(f Faults) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faults = f
	n.rng = rand.New(rand.NewSource(f.Seed))
}

func (n *MemNetwork) SetFilter(fn FilterFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filter = fn
}

// Join attaches a new node with a fresh loopback address.
func (n *MemNetwork) Join() *MemTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextPort++
	addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), n.nextPort)
	t := &MemTransport{
		network: n,
		addr:    addr,
		inbound: make(chan Datagram, 4096),
		done:    make(chan struct{}),
	}
	n.nodes[addr] = t
	return t
}

func (n *MemNetwork) deliver(from, to netip.AddrPort, data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dst, ok := n.nodes[to]
	if !ok {
		return
	}
	if n.filter != nil && !n.filter(from, to, data) {
		return
	}
	if n.rng.Float64() < n.faults.DropRate {
		return
	}

	copies := 1
	if n.rng.Float64() < n.faults.DuplicateRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		d := Datagram{From: from, Data: append([]byte(nil), data...)}
		if dst.held == nil && n.rng.Float64() < n.faults.ReorderRate {
			dst.held = &d
			continue
		}
		dst.push(d)
		if dst.held != nil {
			dst.push(*dst.held)
			dst.held = nil
		}
	}
}

func (n *MemNetwork) broadcast(from netip.AddrPort, data []byte) {
	n.mu.Lock()
	targets := make([]netip.AddrPort, 0, len(n.nodes))
	for addr := range n.nodes {
		targets = append(targets, addr)
	}
	n.mu.Unlock()

	for _, to := range targets {
		n.deliver(from, to, data)
	}
}

func (n *MemNetwork) leave(addr netip.AddrPort) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// MemTransport is one node on a MemNetwork. Broadcasts loop back to the sender,
// as multicast does.
type MemTransport struct {
	network *MemNetwork
	addr    netip.AddrPort
	inbound chan Datagram
	// held is guarded by network.mu.
	held *Datagram

	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*MemTransport)(nil)

func (t *MemTransport) push(d Datagram) {
	select {
	case t.inbound <- d:
	default:
		// Full queue, drop like a socket buffer would.
	}
}

func (t *MemTransport) Send(data []byte, to netip.AddrPort) error {
	if t.closed() {
		return ErrClosed
	}
	t.network.deliver(t.addr, to, data)
	return nil
}

func (t *MemTransport) Broadcast(data []byte) error {
	if t.closed() {
		return ErrClosed
	}
	t.network.broadcast(t.addr, data)
	return nil
}

func (t *MemTransport) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d := <-t.inbound:
		return d, nil
	case <-t.done:
		return Datagram{}, ErrClosed
	case <-ctx.Done():
		return Datagram{}, ctx.Err()
	}
}

func (t *MemTransport) LocalAddr() netip.AddrPort {
	return t.addr
}

func (t *MemTransport) Close() error {
	t.closeOnce.Do(func() {
		t.network.leave(t.addr)
		close(t.done)
	})
	return nil
}

func (t *MemTransport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}
