package quorum

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

// TestCallback_Property_ResolvesExactlyOnce replays random interleavings of
// successes and failures and checks the resolution against the counts seen
// in arrival order.
func TestCallback_Property_ResolvesExactlyOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for total := 1; total <= 9; total++ {
		for trial := 0; trial < 200; trial++ {
			outcomes := make([]bool, total)
			for i := range outcomes {
				outcomes[i] = rng.Intn(2) == 0
			}

			cb := NewCallback[bool](total, func(ok bool) bool { return ok })
			required := Majority(total)

			successes, failures := 0, 0
			want := ""
			for i, ok := range outcomes {
				if ok {
					successes++
				} else {
					failures++
				}
				cb.OnResponse(fmt.Sprintf("r%d", i), ok)

				if want == "" {
					if successes >= required {
						want = "success"
					} else if failures > total-required {
						want = "failure"
					}
				}
				if want != "" && !cb.Resolved() {
					t.Fatalf("total=%d outcomes=%v: should have resolved after %d responses", total, outcomes, i+1)
				}
				if want == "" && cb.Resolved() {
					t.Fatalf("total=%d outcomes=%v: resolved early after %d responses", total, outcomes, i+1)
				}
			}

			responses, err := cb.Result()
			switch want {
			case "success":
				if err != nil {
					t.Fatalf("total=%d outcomes=%v: expected success, got %v", total, outcomes, err)
				}
				if len(responses) < required {
					t.Fatalf("total=%d: resolved with %d < %d responses", total, len(responses), required)
				}
			case "failure":
				if !errors.Is(err, ErrQuorumUnreachable) {
					t.Fatalf("total=%d outcomes=%v: expected failure, got %v", total, outcomes, err)
				}
			default:
				t.Fatalf("total=%d outcomes=%v: every replica answered but nothing resolved", total, outcomes)
			}
		}
	}
}
