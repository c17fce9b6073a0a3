package quorumkv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"replicate/internal/clock"
	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/replica"
	"replicate/internal/storage"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

const (
	athens    = "athens"
	byzantium = "byzantium"
	cyrene    = "cyrene"
)

type cluster struct {
	net   *transport.Network
	nodes map[string]*KV
}

func newCluster(t *testing.T, syncRead bool) *cluster {
	t.Helper()

	names := []string{athens, byzantium, cyrene}
	peers := make([]config.Peer, len(names))
	for i, name := range names {
		peers[i] = config.Peer{ID: name, Addr: name}
	}

	c := &cluster{net: transport.NewNetwork(), nodes: make(map[string]*KV)}
	for _, name := range names {
		cfg := config.Config{
			NodeID:         name,
			ListenAddr:     name,
			Peers:          peers,
			Protocol:       config.ProtocolQuorumKV,
			RequestTimeout: 500 * time.Millisecond,
			SyncReadRepair: syncRead,
		}
		kv := New(cfg, c.net.Transport(name), storage.NewInMemoryStore())
		c.net.Register(name, kv)
		c.nodes[name] = kv
		t.Cleanup(func() { kv.Close() })
	}
	return c
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func (c *cluster) set(t *testing.T, via, key, value string) (*wire.SetValueResponse, error) {
	t.Helper()
	return replica.Request[wire.SetValueResponse](testCtx(t), c.nodes[via], wire.KindClientSetValue,
		&wire.SetValueRequest{Key: key, Value: value})
}

func (c *cluster) get(t *testing.T, via, key string) (*wire.GetValueResponse, error) {
	t.Helper()
	return replica.Request[wire.GetValueResponse](testCtx(t), c.nodes[via], wire.KindClientGetValue,
		&wire.GetValueRequest{Key: key})
}

func (c *cluster) local(t *testing.T, name, key string) wire.StoredValue {
	t.Helper()
	sv, err := c.nodes[name].Local(testCtx(t), key)
	require.NoError(t, err)
	return sv
}

func TestSetAndGet(t *testing.T) {
	c := newCluster(t, false)

	resp, err := c.set(t, athens, "title", "Microservices")
	require.NoError(t, err)
	assert.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, "Microservices", resp.Value)
	assert.Equal(t, clock.New(1, 0), resp.Version)

	got, err := c.get(t, byzantium, "title")
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, "Microservices", got.Value.Value)
	assert.Equal(t, clock.New(1, 0), got.Value.Version)
}

func TestGetAbsent(t *testing.T) {
	c := newCluster(t, false)

	got, err := c.get(t, athens, "missing")
	require.NoError(t, err)
	assert.False(t, got.Found)
	assert.Equal(t, "missing", got.Value.Key)
}

func TestSetEmptyKey(t *testing.T) {
	c := newCluster(t, false)

	resp, err := c.set(t, athens, "", "Microservices")
	require.NoError(t, err)
	assert.Equal(t, wire.StatusError, resp.Status)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestGetEmptyKey(t *testing.T) {
	c := newCluster(t, false)

	_, err := c.get(t, athens, "")
	assert.ErrorIs(t, err, ErrEmptyKey)
	assert.ErrorIs(t, err, wire.ErrMalformed)
	assert.Equal(t, codes.InvalidArgument, transport.Code(err))
}

func TestLaterWriteWins(t *testing.T) {
	c := newCluster(t, false)

	_, err := c.set(t, athens, "title", "Microservices")
	require.NoError(t, err)
	resp, err := c.set(t, cyrene, "title", "Distributed Systems")
	require.NoError(t, err)
	assert.True(t, resp.Version.IsAfter(clock.New(1, 0)), "version %v", resp.Version)

	got, err := c.get(t, athens, "title")
	require.NoError(t, err)
	assert.Equal(t, "Distributed Systems", got.Value.Value)
}

func TestVersionsAreUniquePerCoordinator(t *testing.T) {
	c := newCluster(t, false)
	// athens only sees itself and byzantium, which it keeps ahead of.
	c.net.Disconnect(athens, cyrene)

	first, err := c.set(t, athens, "title", "Microservices")
	require.NoError(t, err)
	second, err := c.set(t, athens, "title", "Distributed Systems")
	require.NoError(t, err)
	assert.True(t, second.Version.IsAfter(first.Version))
}

func TestConvergesThroughReadRepair(t *testing.T) {
	c := newCluster(t, false)
	c.net.Disconnect(athens, cyrene)

	_, err := c.set(t, athens, "title", "Microservices")
	require.NoError(t, err, "write succeeds with 2 of 3 acknowledgements")
	assert.True(t, c.local(t, cyrene, "title").IsEmpty())

	c.net.Heal()

	// cyrene is part of every read quorum it coordinates, so it sees its own
	// stale value and repairs itself.
	got, err := c.get(t, cyrene, "title")
	require.NoError(t, err)
	assert.Equal(t, "Microservices", got.Value.Value)

	require.Eventually(t, func() bool {
		for _, name := range []string{athens, byzantium, cyrene} {
			sv, err := c.nodes[name].Local(context.Background(), "title")
			if err != nil || sv.Value != "Microservices" {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSyncReadRepair(t *testing.T) {
	c := newCluster(t, true)
	c.net.Disconnect(athens, cyrene)

	_, err := c.set(t, athens, "title", "Microservices")
	require.NoError(t, err)
	c.net.Heal()

	_, err = c.get(t, cyrene, "title")
	require.NoError(t, err)

	// The read waited for its repair.
	sv := c.local(t, cyrene, "title")
	assert.Equal(t, "Microservices", sv.Value)
	assert.Equal(t, clock.New(1, 0), sv.Version)
}

func TestVersionedSetValueIsIdempotent(t *testing.T) {
	c := newCluster(t, false)
	kv := c.nodes[byzantium]

	write := func(value string, version clock.MonotonicID) *wire.SetValueResponse {
		t.Helper()
		resp, err := replica.Request[wire.SetValueResponse](testCtx(t), kv, wire.KindVersionedSetValue,
			&wire.VersionedSetValueRequest{Key: "title", Value: value, Version: version})
		require.NoError(t, err)
		assert.Equal(t, wire.StatusSuccess, resp.Status, "stale writes are acknowledged")
		return resp
	}

	write("Distributed Systems", clock.New(2, 1))
	write("Distributed Systems", clock.New(2, 1))

	// A stale write reports what the replica keeps.
	stale := write("Microservices", clock.New(1, 0))
	assert.Equal(t, "Distributed Systems", stale.Value)
	assert.Equal(t, clock.New(2, 1), stale.Version)

	sv := c.local(t, byzantium, "title")
	assert.Equal(t, "Distributed Systems", sv.Value)
	assert.Equal(t, clock.New(2, 1), sv.Version)

	resp, err := replica.Request[wire.GetVersionResponse](testCtx(t), kv, wire.KindGetVersion, &wire.GetVersionRequest{Key: "title"})
	require.NoError(t, err)
	assert.Equal(t, clock.New(2, 1), resp.Version)
}

func TestNoQuorum(t *testing.T) {
	c := newCluster(t, false)
	c.net.Disconnect(athens, byzantium)
	c.net.Disconnect(athens, cyrene)

	_, err := c.set(t, athens, "title", "Microservices")
	assert.ErrorIs(t, err, quorum.ErrQuorumUnreachable)

	_, err = c.get(t, athens, "title")
	assert.ErrorIs(t, err, quorum.ErrQuorumUnreachable)
}
