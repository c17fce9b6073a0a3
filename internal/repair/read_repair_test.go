package repair

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replicate/internal/wire"
)

type recorder struct {
	mu      sync.Mutex
	written map[string]wire.StoredValue
	fail    map[string]bool
}

func newRecorder(fail ...string) *recorder {
	r := &recorder{written: make(map[string]wire.StoredValue), fail: make(map[string]bool)}
	for _, f := range fail {
		r.fail[f] = true
	}
	return r
}

func (r *recorder) write(ctx context.Context, replica string, sv wire.StoredValue) error {
	if r.fail[replica] {
		return errors.New("unreachable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[replica] = sv
	return nil
}

func (r *recorder) get(replica string) (wire.StoredValue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sv, ok := r.written[replica]
	return sv, ok
}

func TestRepairSync_WritesWinnerToStaleReplicas(t *testing.T) {
	rec := newRecorder()
	rr := NewReadRepairer(rec.write, time.Second)

	res := Result{Winner: sv("Microservices", 2, 0), Stale: []string{"byzantium", "cyrene"}}
	require.NoError(t, rr.RepairSync(context.Background(), res))

	for _, replica := range res.Stale {
		got, ok := rec.get(replica)
		require.True(t, ok, replica)
		assert.Equal(t, res.Winner, got)
	}
	_, ok := rec.get("athens")
	assert.False(t, ok)
}

func TestRepairSync_ReportsFailures(t *testing.T) {
	rec := newRecorder("cyrene")
	rr := NewReadRepairer(rec.write, time.Second)

	err := rr.RepairSync(context.Background(), Result{Winner: sv("Microservices", 2, 0), Stale: []string{"byzantium", "cyrene"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyrene")

	_, ok := rec.get("byzantium")
	assert.True(t, ok, "healthy replica still repaired")
}

func TestRepair_Background(t *testing.T) {
	rec := newRecorder()
	rr := NewReadRepairer(rec.write, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	rr.Repair(ctx, Result{Winner: sv("Microservices", 2, 0), Stale: []string{"byzantium"}})
	// Cancelling the read does not cancel its repair.
	cancel()

	assert.Eventually(t, func() bool {
		_, ok := rec.get("byzantium")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestRepair_NothingStale(t *testing.T) {
	rr := NewReadRepairer(func(context.Context, string, wire.StoredValue) error {
		t.Fatal("unexpected write")
		return nil
	}, 0)

	rr.Repair(context.Background(), Result{Winner: sv("Microservices", 1, 0)})
	assert.NoError(t, rr.RepairSync(context.Background(), Result{}))
}
