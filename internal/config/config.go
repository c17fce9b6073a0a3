// Package config holds the configuration of a replica node.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultRequestTimeout is the default timeout for each replica request.
	DefaultRequestTimeout = 2 * time.Second
	// DefaultMaxAttempts bounds Paxos rounds per client request.
	DefaultMaxAttempts = 3
)

// Protocol selects the replication protocol a node runs.
type Protocol string

const (
	ProtocolQuorumKV Protocol = "quorumkv"
	ProtocolPaxos    Protocol = "paxos"
	ProtocolTwoPhase Protocol = "twophase"
)

// Peer represents a replica in the cluster.
type Peer struct {
	ID   string
	Addr string
}

// Config holds the node configuration.
type Config struct {
	NodeID     string
	ListenAddr string
	Peers      []Peer
	Protocol   Protocol
	// DataDir holds the write-ahead log. Empty keeps state in memory.
	DataDir string
	// RequestTimeout bounds every request sent to a single replica; a
	// timeout counts as a failed response.
	RequestTimeout time.Duration
	// MaxAttempts bounds the Paxos rounds run for one client request.
	MaxAttempts int
	// SyncReadRepair makes quorum reads wait for repair writes.
	SyncReadRepair bool
	// RecoverPendingCommits makes two-phase commit complete commands that
	// were accepted by a replica but never committed there.
	RecoverPendingCommits bool
}

// ParsePeers parses a comma-separated list of peers in the format:
// "id1=addr1,id2=addr2,id3=addr3"
func ParsePeers(peersStr string) ([]Peer, error) {
	if peersStr == "" {
		return []Peer{}, nil
	}

	parts := strings.Split(peersStr, ",")
	peers := make([]Peer, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer format: %s (expected id=addr)", part)
		}

		id := strings.TrimSpace(kv[0])
		addr := strings.TrimSpace(kv[1])

		if id == "" || addr == "" {
			return nil, fmt.Errorf("peer ID and address cannot be empty: %s", part)
		}

		peers = append(peers, Peer{
			ID:   id,
			Addr: addr,
		})
	}

	return peers, nil
}

// Replicas returns every replica of the cluster, self included, ordered by
// ID. Every node derives the same order from the same membership, so the
// position of a replica is a cluster-wide node index.
func (c *Config) Replicas() []Peer {
	seen := make(map[string]bool, len(c.Peers)+1)
	replicas := make([]Peer, 0, len(c.Peers)+1)

	replicas = append(replicas, Peer{ID: c.NodeID, Addr: c.ListenAddr})
	seen[c.NodeID] = true

	for _, peer := range c.Peers {
		// Skip self if it appears in peers list
		if seen[peer.ID] {
			continue
		}
		seen[peer.ID] = true
		replicas = append(replicas, peer)
	}

	sort.Slice(replicas, func(i, j int) bool { return replicas[i].ID < replicas[j].ID })
	return replicas
}

// Index returns the node index of this replica.
func (c *Config) Index() int {
	for i, r := range c.Replicas() {
		if r.ID == c.NodeID {
			return i
		}
	}
	return -1
}

// Timeout returns the per-replica request timeout, defaulted.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

// Attempts returns the Paxos attempt limit, defaulted.
func (c *Config) Attempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node ID cannot be empty")
	}

	addrs := map[string]string{c.NodeID: c.ListenAddr}
	for _, peer := range c.Peers {
		if peer.ID == "" || peer.Addr == "" {
			return fmt.Errorf("peer ID and address cannot be empty: %v", peer)
		}
		if addr, ok := addrs[peer.ID]; ok && addr != "" && addr != peer.Addr {
			return fmt.Errorf("peer %s configured with two addresses: %s and %s", peer.ID, addr, peer.Addr)
		}
		addrs[peer.ID] = peer.Addr
	}

	switch c.Protocol {
	case ProtocolQuorumKV, ProtocolPaxos, ProtocolTwoPhase:
	default:
		return fmt.Errorf("unknown protocol %q (expected %s, %s or %s)",
			c.Protocol, ProtocolQuorumKV, ProtocolPaxos, ProtocolTwoPhase)
	}
	return nil
}
