package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/op/go-logging"

	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("repair")

// WriteFunc writes sv to one replica.
type WriteFunc func(ctx context.Context, replica string, sv wire.StoredValue) error

// ReadRepairer writes winning values back to stale replicas.
type ReadRepairer struct {
	write   WriteFunc
	timeout time.Duration
}

// NewReadRepairer creates a new read repairer.
func NewReadRepairer(write WriteFunc, timeout time.Duration) *ReadRepairer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadRepairer{
		write:   write,
		timeout: timeout,
	}
}

// Repair repairs the stale replicas of res in the background.
// This is fire-and-forget: it logs errors but does not block or retry.
func (r *ReadRepairer) Repair(ctx context.Context, res Result) {
	if !res.NeedsRepair() {
		return
	}

	go func() {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorf("Read repair panic for key %s: %v", res.Winner.Key, err)
			}
		}()
		_ = r.RepairSync(context.WithoutCancel(ctx), res)
	}()
}

// RepairSync repairs the stale replicas of res and waits for every write to
// be acknowledged or to fail. Failures are logged and returned joined.
func (r *ReadRepairer) RepairSync(ctx context.Context, res Result) error {
	if !res.NeedsRepair() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := res.Winner.Key
	logger.Infof("Read repair triggered for key=%s: %d stale replicas, winner version %s",
		key, len(res.Stale), res.Winner.Version)

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, replica := range res.Stale {
		wg.Add(1)
		go func(replica string) {
			defer wg.Done()
			if err := r.write(ctx, replica, res.Winner); err != nil {
				logger.Errorf("Read repair failed for replica %s (key=%s): %v", replica, key, err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("replica %s: %w", replica, err))
				mu.Unlock()
			}
		}(replica)
	}
	wg.Wait()

	logger.Infof("Read repair completed for key=%s: %d repaired, %d failed",
		key, len(res.Stale)-len(errs), len(errs))
	return errors.Join(errs...)
}
