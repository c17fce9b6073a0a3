package it

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"replicate/internal/command"
	"replicate/internal/config"
)

func startCluster(t *testing.T, protocol config.Protocol) *Cluster {
	t.Helper()
	cluster := NewCluster(protocol)
	t.Cleanup(cluster.Stop)
	require.NoError(t, cluster.StartCluster(), "Failed to start cluster")
	return cluster
}

func TestSmoke_QuorumKV(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cluster := startCluster(t, config.ProtocolQuorumKV)

	value, err := cluster.GetNode("athens").GetClient().SetValue(ctx, "title", "Microservices")
	require.NoError(t, err)
	assert.Equal(t, "Microservices", value)

	for _, id := range []string{"athens", "byzantium", "cyrene"} {
		got, found, err := cluster.GetNode(id).GetClient().GetValue(ctx, "title")
		require.NoError(t, err, id)
		assert.True(t, found, id)
		assert.Equal(t, "Microservices", got, id)
	}

	_, found, err := cluster.GetNode("byzantium").GetClient().GetValue(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSmoke_QuorumKV_OneNodeDown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cluster := startCluster(t, config.ProtocolQuorumKV)
	require.NoError(t, cluster.StopNode("cyrene"))

	_, err := cluster.GetNode("athens").GetClient().SetValue(ctx, "title", "Microservices")
	require.NoError(t, err, "two of three replicas form a quorum")

	got, found, err := cluster.GetNode("byzantium").GetClient().GetValue(ctx, "title")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Microservices", got)

	require.NoError(t, cluster.StopNode("byzantium"))
	_, _, err = cluster.GetNode("athens").GetClient().GetValue(ctx, "title")
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestSmoke_Paxos(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cluster := startCluster(t, config.ProtocolPaxos)

	_, found, err := cluster.GetNode("cyrene").GetClient().GetValue(ctx, "title")
	require.NoError(t, err)
	assert.False(t, found)

	value, err := cluster.GetNode("athens").GetClient().SetValue(ctx, "title", "Microservices")
	require.NoError(t, err)
	assert.Equal(t, "Microservices", value)

	// Once chosen, the value stays chosen.
	value, err = cluster.GetNode("byzantium").GetClient().SetValue(ctx, "title", "Distributed Systems")
	require.NoError(t, err)
	assert.Equal(t, "Microservices", value)

	got, found, err := cluster.GetNode("cyrene").GetClient().GetValue(ctx, "title")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Microservices", got)
}

func TestSmoke_TwoPhase(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cluster := startCluster(t, config.ProtocolTwoPhase)
	c := cluster.GetNode("athens").GetClient()

	resp, err := c.Execute(ctx, command.NewCompareAndSwap("title", nil, "Microservices"))
	require.NoError(t, err)
	assert.True(t, resp.Committed)
	assert.Nil(t, resp.PreviousValue)

	expected := "Microservices"
	resp, err = cluster.GetNode("cyrene").GetClient().Execute(ctx,
		command.NewCompareAndSwap("title", &expected, "Distributed Systems"))
	require.NoError(t, err)
	assert.True(t, resp.Committed)
	require.NotNil(t, resp.PreviousValue)
	assert.Equal(t, "Microservices", *resp.PreviousValue)

	resp, err = c.Execute(ctx, command.NewCompareAndSwap("title", &expected, "Event Driven Microservices"))
	require.NoError(t, err)
	assert.False(t, resp.Committed)
	require.NotNil(t, resp.PreviousValue)
	assert.Equal(t, "Distributed Systems", *resp.PreviousValue)

	// Two-phase nodes serve commands only.
	_, _, err = c.GetValue(ctx, "title")
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
