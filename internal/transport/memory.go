package transport

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"swimd/internal/gossip"
)

type packet struct {
	payload []byte
	from    gossip.Address
}

// Network is an in-process datagram network. Delivery is asynchronous
// and lossy like UDP: datagrams to unknown, isolated or partitioned
// endpoints and datagrams to a full inbox are dropped silently.
type Network struct {
	mu          sync.RWMutex
	endpoints   map[netip.AddrPort]*Endpoint
	isolated    map[netip.AddrPort]bool
	partitioned map[[2]netip.AddrPort]bool
	queue       int

	dropped atomic.Uint64
}

// NewNetwork creates a network whose endpoints buffer up to queue
// datagrams each.
func NewNetwork(queue int) *Network {
	return &Network{
		endpoints:   make(map[netip.AddrPort]*Endpoint),
		isolated:    make(map[netip.AddrPort]bool),
		partitioned: make(map[[2]netip.AddrPort]bool),
		queue:       queue,
	}
}

// Listen attaches an endpoint at addr.
func (n *Network) Listen(addr gossip.Address) (*Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := addr.AddrPort()
	if _, ok := n.endpoints[key]; ok {
		return nil, fmt.Errorf("address %s already in use", addr)
	}
	e := &Endpoint{
		net:    n,
		addr:   addr,
		inbox:  make(chan packet, n.queue),
		closed: make(chan struct{}),
	}
	n.endpoints[key] = e
	return e, nil
}

// Isolate drops all traffic to and from addr until Rejoin.
func (n *Network) Isolate(addr gossip.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr.AddrPort()] = true
}

// Rejoin undoes Isolate.
func (n *Network) Rejoin(addr gossip.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, addr.AddrPort())
}

// Partition drops traffic between a and b in both directions.
func (n *Network) Partition(a, b gossip.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[pair(a, b)] = true
}

// Heal undoes Partition.
func (n *Network) Heal(a, b gossip.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, pair(a, b))
}

// Dropped returns how many datagrams were lost so far.
func (n *Network) Dropped() uint64 {
	return n.dropped.Load()
}

func pair(a, b gossip.Address) [2]netip.AddrPort {
	x, y := a.AddrPort(), b.AddrPort()
	if x.Compare(y) > 0 {
		x, y = y, x
	}
	return [2]netip.AddrPort{x, y}
}

func (n *Network) route(from, to gossip.Address) (*Endpoint, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.isolated[from.AddrPort()] || n.isolated[to.AddrPort()] || n.partitioned[pair(from, to)] {
		return nil, false
	}
	e, ok := n.endpoints[to.AddrPort()]
	return e, ok
}

func (n *Network) detach(e *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[e.addr.AddrPort()] == e {
		delete(n.endpoints, e.addr.AddrPort())
	}
}

// Endpoint is a Conn on a Network.
type Endpoint struct {
	net    *Network
	addr   gossip.Address
	inbox  chan packet
	closed chan struct{}
	once   sync.Once
}

var _ Conn = (*Endpoint)(nil)

// Send queues a copy of payload for the addressee.
func (e *Endpoint) Send(to gossip.Address, payload []byte) error {
	select {
	case <-e.closed:
		return net.ErrClosed
	default:
	}

	dst, ok := e.net.route(e.addr, to)
	if !ok {
		e.net.dropped.Add(1)
		return nil
	}
	p := packet{payload: append([]byte(nil), payload...), from: e.addr}
	select {
	case dst.inbox <- p:
	default:
		e.net.dropped.Add(1)
	}
	return nil
}

// Serve delivers queued datagrams to h until ctx is done or the
// endpoint is closed.
func (e *Endpoint) Serve(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.closed:
			return nil
		case p := <-e.inbox:
			h(p.payload, p.from)
		}
	}
}

// LocalAddress returns the endpoint's address.
func (e *Endpoint) LocalAddress() gossip.Address {
	return e.addr
}

// Close detaches the endpoint from the network.
func (e *Endpoint) Close() error {
	e.once.Do(func() {
		close(e.closed)
		e.net.detach(e)
	})
	return nil
}
