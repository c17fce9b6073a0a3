// Package node runs one replica of the cluster as a gRPC server.
package node

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	logging "github.com/op/go-logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"replicate/internal/config"
	"replicate/internal/paxos"
	"replicate/internal/quorumkv"
	"replicate/internal/storage"
	"replicate/internal/transport"
	"replicate/internal/twophase"
)

var logger = logging.MustGetLogger("node")

// Protocol is a replication protocol served by a node.
type Protocol interface {
	transport.Dispatcher
	Close() error
}

// Node represents a single node in the distributed system.
type Node struct {
	cfg        config.Config
	store      storage.Store
	transport  *transport.GRPC
	protocol   Protocol
	grpcServer *grpc.Server
}

// New creates a node running the protocol selected by cfg. With a data
// directory its state is kept in a write-ahead log there.
func New(cfg config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	tr := transport.NewGRPC()
	n := &Node{
		cfg:       cfg,
		store:     store,
		transport: tr,
	}

	switch cfg.Protocol {
	case config.ProtocolQuorumKV:
		n.protocol = quorumkv.New(cfg, tr, store)
	case config.ProtocolPaxos:
		n.protocol = paxos.New(cfg, tr, store)
	case config.ProtocolTwoPhase:
		n.protocol = twophase.New(cfg, tr, store)
	}

	n.grpcServer = grpc.NewServer()
	transport.RegisterServer(n.grpcServer, n.protocol)
	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	return n, nil
}

func openStore(cfg config.Config) (storage.Store, error) {
	if cfg.DataDir == "" {
		return storage.NewInMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(cfg.DataDir, cfg.NodeID+".wal")
	store, err := storage.OpenLogStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	logger.Infof("[%s] Opened write-ahead log %s", cfg.NodeID, path)
	return store, nil
}

// Protocol returns the protocol the node serves.
func (n *Node) Protocol() Protocol {
	return n.protocol
}

// Serve serves the node on lis until Stop is called.
func (n *Node) Serve(lis net.Listener) error {
	logger.Infof("[%s] Starting %s node on %s with %d replicas",
		n.cfg.NodeID, n.cfg.Protocol, lis.Addr(), len(n.cfg.Replicas()))

	if err := n.grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start listens on the configured address and serves the node.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	return n.Serve(lis)
}

// Stop gracefully stops the node and releases its resources.
func (n *Node) Stop() error {
	logger.Infof("[%s] Stopping node", n.cfg.NodeID)
	n.grpcServer.GracefulStop()

	return errors.Join(
		n.protocol.Close(),
		n.transport.Close(),
		n.store.Close(),
	)
}
