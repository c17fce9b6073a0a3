package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicate/internal/client"
	"replicate/internal/config"
)

func startNode(t *testing.T, cfg config.Config) (*Node, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.ListenAddr = lis.Addr().String()

	n, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- n.Serve(lis) }()
	t.Cleanup(func() {
		n.Stop()
		<-done
	})
	return n, cfg.ListenAddr
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Config{NodeID: "athens", Protocol: "raft"})
	assert.Error(t, err)
}

func TestNode_SurvivesRestart(t *testing.T) {
	for _, protocol := range []config.Protocol{config.ProtocolQuorumKV, config.ProtocolPaxos} {
		t.Run(string(protocol), func(t *testing.T) {
			dir := t.TempDir()
			cfg := config.Config{NodeID: "athens", Protocol: protocol, DataDir: dir}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			n, addr := startNode(t, cfg)
			c := client.New(addr)
			value, err := c.SetValue(ctx, "title", "Microservices")
			require.NoError(t, err)
			assert.Equal(t, "Microservices", value)
			require.NoError(t, c.Close())
			require.NoError(t, n.Stop())

			_, addr = startNode(t, cfg)
			c = client.New(addr)
			defer c.Close()

			got, found, err := c.GetValue(ctx, "title")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "Microservices", got)
		})
	}
}
