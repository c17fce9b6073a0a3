// Command replicate runs one replica node.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/op/go-logging"

	"replicate/internal/config"
	"replicate/internal/node"
)

var logger = logging.MustGetLogger("main")

func main() {
	var (
		nodeID         = flag.String("node-id", "", "ID of this node")
		listen         = flag.String("listen", ":7000", "address to listen on")
		peers          = flag.String("peers", "", "comma-separated peers as id=addr")
		protocol       = flag.String("protocol", string(config.ProtocolQuorumKV), "replication protocol: quorumkv, paxos or twophase")
		dataDir        = flag.String("data-dir", "", "directory for the write-ahead log; empty keeps state in memory")
		timeout        = flag.Duration("timeout", config.DefaultRequestTimeout, "timeout of each request to a replica")
		attempts       = flag.Int("attempts", config.DefaultMaxAttempts, "Paxos rounds per client request")
		syncReadRepair = flag.Bool("sync-read-repair", false, "make quorum reads wait for read repair")
		recoverCommits = flag.Bool("recover-commits", false, "complete two-phase commands left uncommitted")
		logLevel       = flag.String("log-level", "INFO", "log level: DEBUG, INFO, WARNING, ERROR")
	)
	flag.Parse()

	if err := setupLogging(*logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	peerList, err := config.ParsePeers(*peers)
	if err != nil {
		logger.Fatalf("Invalid peers: %v", err)
	}

	cfg := config.Config{
		NodeID:                *nodeID,
		ListenAddr:            *listen,
		Peers:                 peerList,
		Protocol:              config.Protocol(*protocol),
		DataDir:               *dataDir,
		RequestTimeout:        *timeout,
		MaxAttempts:           *attempts,
		SyncReadRepair:        *syncReadRepair,
		RecoverPendingCommits: *recoverCommits,
	}

	n, err := node.New(cfg)
	if err != nil {
		logger.Fatalf("Failed to create node: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- n.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatalf("Node failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Infof("Received %s, shutting down", sig)
		stopped := make(chan error, 1)
		go func() { stopped <- n.Stop() }()
		select {
		case err := <-stopped:
			if err != nil {
				logger.Errorf("Shutdown: %v", err)
			}
		case <-time.After(10 * time.Second):
			logger.Errorf("Shutdown timed out")
		}
	}
}

func setupLogging(level string) error {
	lvl, err := logging.LogLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	format := logging.MustStringFormatter(`%{time:15:04:05.000} %{module} %{level:.4s} %{message}`)
	leveled := logging.AddModuleLevel(logging.NewBackendFormatter(backend, format))
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
	return nil
}
