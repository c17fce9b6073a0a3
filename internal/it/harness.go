// Package it runs in-process clusters of real nodes, talking gRPC over
// loopback, for end-to-end tests.
package it

import (
	"fmt"
	"net"
	"sync"
	"time"

	"replicate/internal/client"
	"replicate/internal/config"
	"replicate/internal/node"
)

// Cluster represents a test cluster of nodes
type Cluster struct {
	protocol config.Protocol
	nodes    []*Node
	mu       sync.Mutex
}

// Node represents a single node in the test cluster
type Node struct {
	ID     string
	Addr   string
	node   *node.Node
	lis    net.Listener
	done   chan error
	client *client.Client
}

// NewCluster creates a new test cluster harness
func NewCluster(protocol config.Protocol) *Cluster {
	return &Cluster{protocol: protocol}
}

// StartCluster starts one node per id. Listeners are bound before any node
// is created so every node knows the addresses of its peers.
func (c *Cluster) StartCluster(ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(ids) == 0 {
		ids = []string{"athens", "byzantium", "cyrene"}
	}

	peers := make([]config.Peer, 0, len(ids))
	for _, id := range ids {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return fmt.Errorf("failed to listen for %s: %w", id, err)
		}
		addr := lis.Addr().String()
		peers = append(peers, config.Peer{ID: id, Addr: addr})
		c.nodes = append(c.nodes, &Node{ID: id, Addr: addr, lis: lis})
	}

	for _, n := range c.nodes {
		cfg := config.Config{
			NodeID:         n.ID,
			ListenAddr:     n.Addr,
			Peers:          peers,
			Protocol:       c.protocol,
			RequestTimeout: time.Second,
		}
		nd, err := node.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create node %s: %w", n.ID, err)
		}
		n.node = nd
		n.done = make(chan error, 1)
		go func(n *Node) { n.done <- n.node.Serve(n.lis) }(n)
		n.client = client.New(n.Addr)
	}
	return nil
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// StopNode stops a node, leaving the rest of the cluster running.
func (c *Cluster) StopNode(nodeID string) error {
	n := c.GetNode(nodeID)
	if n == nil {
		return fmt.Errorf("unknown node %s", nodeID)
	}
	return n.Stop()
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.Stop()
	}
	c.nodes = nil
}

// GetClient returns a client connected to the node
func (n *Node) GetClient() *client.Client {
	return n.client
}

// Stop stops the node. Stopping a stopped node is a no-op.
func (n *Node) Stop() error {
	if n.node == nil {
		return nil
	}
	err := n.node.Stop()
	<-n.done
	n.client.Close()
	n.node = nil
	return err
}
