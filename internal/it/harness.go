// Package it runs multi-node clusters in one process over the in-memory
// network for integration scenarios.
package it

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"swimd/internal/config"
	"swimd/internal/gossip"
	"swimd/internal/node"
	"swimd/internal/transport"
)

// Cluster represents a test cluster of nodes
type Cluster struct {
	network *transport.Network
	log     *zap.Logger
	tune    func(*config.Config)
	nodes   []*node.Node
	mu      sync.Mutex
}

// NewCluster creates a new test cluster harness. tune, when non-nil,
// adjusts every node's configuration before it starts.
func NewCluster(log *zap.Logger, tune func(*config.Config)) *Cluster {
	return &Cluster{
		network: transport.NewNetwork(256),
		log:     log,
		tune:    tune,
	}
}

// Addr returns the in-memory address for port.
func Addr(port uint16) gossip.Address {
	return gossip.AddressFrom(netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port))
}

// FastConfig returns protocol timings suited to in-process tests.
func FastConfig() config.Config {
	cfg := config.Default()
	cfg.AdminAddr = ""
	cfg.Protocol.ProtocolPeriod = 50 * time.Millisecond
	cfg.Protocol.PingReqPeriod = 20 * time.Millisecond
	cfg.Protocol.SweepInterval = 10 * time.Millisecond
	cfg.Protocol.SuspectTimeout = 500 * time.Millisecond
	return cfg
}

// StartNode starts a single node in the cluster
func (c *Cluster) StartNode(ctx context.Context, nodeID string, port uint16, seeds ...string) (*node.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ep, err := c.network.Listen(Addr(port))
	if err != nil {
		return nil, fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}

	cfg := FastConfig()
	cfg.NodeID = nodeID
	cfg.Seeds = seeds
	if c.tune != nil {
		c.tune(&cfg)
	}

	n, err := node.NewNode(cfg, node.WithConn(ep), node.WithLogger(c.log))
	if err != nil {
		ep.Close()
		return nil, fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}
	if err := n.Start(ctx); err != nil {
		_ = n.Stop(ctx)
		return nil, fmt.Errorf("failed to start node %s: %w", nodeID, err)
	}
	c.nodes = append(c.nodes, n)
	return n, nil
}

// StartCluster starts size nodes n1..nN on ports 7001.. that all seed
// from n1.
func (c *Cluster) StartCluster(ctx context.Context, size int) error {
	seed := Addr(7001).String()
	for i := 1; i <= size; i++ {
		var seeds []string
		if i > 1 {
			seeds = []string{seed}
		}
		if _, err := c.StartNode(ctx, fmt.Sprintf("n%d", i), uint16(7000+i), seeds...); err != nil {
			return err
		}
	}
	return nil
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.ID() == nodeID {
			return n
		}
	}
	return nil
}

// Nodes returns the running nodes in start order.
func (c *Cluster) Nodes() []*node.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*node.Node(nil), c.nodes...)
}

// Isolate cuts a node off from every other node.
func (c *Cluster) Isolate(nodeID string) {
	c.network.Isolate(c.GetNode(nodeID).Addr())
}

// Rejoin reconnects an isolated node.
func (c *Cluster) Rejoin(nodeID string) {
	c.network.Rejoin(c.GetNode(nodeID).Addr())
}

// Partition cuts the link between two nodes only.
func (c *Cluster) Partition(a, b string) {
	c.network.Partition(c.GetNode(a).Addr(), c.GetNode(b).Addr())
}

// View returns the sorted ids of the members observer considers alive
// or suspect, and those it has confirmed.
func (c *Cluster) View(observer string) (active, confirmed []string) {
	snap := c.GetNode(observer).State().Snapshot()
	for _, m := range snap.Active {
		active = append(active, m.ID)
	}
	for _, m := range snap.Confirmed {
		confirmed = append(confirmed, m.ID)
	}
	sort.Strings(active)
	sort.Strings(confirmed)
	return active, confirmed
}

// Member returns observer's record of id from its active list.
func (c *Cluster) Member(observer, id string) (gossip.Member, bool) {
	for _, m := range c.GetNode(observer).State().Snapshot().Active {
		if m.ID == id {
			return m, true
		}
	}
	return gossip.Member{}, false
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() error {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var firstErr error
	for _, n := range nodes {
		if err := n.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
