package quorum

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrQuorumUnreachable is returned when a majority of successful responses
// can no longer be collected.
var ErrQuorumUnreachable = errors.New("quorum unreachable")

// Majority returns the number of replicas that form a quorum among total.
func Majority(total int) int {
	return total/2 + 1
}

// Callback aggregates responses of type R from total replicas.
type Callback[R any] struct {
	mu        sync.Mutex
	total     int
	required  int
	isSuccess func(R) bool
	responses map[string]R
	failures  map[string]error
	resolved  bool
	err       error
	done      chan struct{}
}

// NewCallback creates a callback expecting total responses. A response for
// which isSuccess returns false counts as a failure. A nil isSuccess accepts
// every response.
func NewCallback[R any](total int, isSuccess func(R) bool) *Callback[R] {
	if isSuccess == nil {
		isSuccess = func(R) bool { return true }
	}
	c := &Callback[R]{
		total:     total,
		required:  Majority(total),
		isSuccess: isSuccess,
		responses: make(map[string]R),
		failures:  make(map[string]error),
		done:      make(chan struct{}),
	}
	if total <= 0 {
		c.resolve(fmt.Errorf("%w: no replicas provided", ErrQuorumUnreachable))
	}
	return c
}

// Required returns the number of successes needed to resolve.
func (c *Callback[R]) Required() int {
	return c.required
}

// OnResponse records the response of a replica. Calls after resolution are
// accepted and ignored.
func (c *Callback[R]) OnResponse(replica string, r R) {
	if !c.isSuccess(r) {
		c.OnError(replica, errNotSuccessful)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return
	}
	c.responses[replica] = r
	if len(c.responses) >= c.required {
		c.resolve(nil)
	}
}

// OnError records a failed or timed out request to a replica.
func (c *Callback[R]) OnError(replica string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return
	}
	c.failures[replica] = err
	if len(c.failures) > c.total-c.required {
		errs := make([]error, 0, len(c.failures))
		for rid, ferr := range c.failures {
			errs = append(errs, fmt.Errorf("replica %s: %w", rid, ferr))
		}
		c.resolve(fmt.Errorf("%w: successes=%d failures=%d required=%d replicas=%d errors=%v",
			ErrQuorumUnreachable, len(c.responses), len(c.failures), c.required, c.total, errs[:min(3, len(errs))]))
	}
}

// resolve must be called with mu held.
func (c *Callback[R]) resolve(err error) {
	c.resolved = true
	c.err = err
	close(c.done)
}

// Done is closed once the callback has resolved.
func (c *Callback[R]) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether the callback has resolved.
func (c *Callback[R]) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Result returns the responses and error of a resolved callback. Before
// resolution it returns nil, nil.
func (c *Callback[R]) Result() (map[string]R, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.resolved {
		return nil, nil
	}
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]R, len(c.responses))
	for k, v := range c.responses {
		out[k] = v
	}
	return out, nil
}

// Failures returns the errors recorded so far, keyed by replica.
func (c *Callback[R]) Failures() map[string]error {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]error, len(c.failures))
	for k, v := range c.failures {
		out[k] = v
	}
	return out
}

// Wait blocks until the callback resolves or ctx is done. On success it
// returns the successful responses collected up to resolution.
func (c *Callback[R]) Wait(ctx context.Context) (map[string]R, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrQuorumUnreachable, ctx.Err())
	}
	return c.Result()
}

var errNotSuccessful = errors.New("response not successful")
