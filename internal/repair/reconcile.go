package repair

import (
	"sort"

	"replicate/internal/wire"
)

// Result is the outcome of reconciling the values a read quorum returned.
type Result struct {
	// Winner is the value with the highest version. It is empty when no
	// replica has a value for the key.
	Winner wire.StoredValue
	// Stale lists, in order, the replicas whose value is older than Winner
	// or missing.
	Stale []string
}

// Reconcile picks the value with the highest version among responses,
// keyed by replica, and identifies the replicas that need repair.
func Reconcile(key string, responses map[string]wire.StoredValue) Result {
	winner := wire.EmptyStoredValue()
	winner.Key = key
	for _, sv := range responses {
		if sv.Version.IsAfter(winner.Version) {
			winner = sv
		}
	}

	res := Result{Winner: winner}
	if winner.IsEmpty() {
		return res
	}
	for replica, sv := range responses {
		if sv.Version.IsBefore(winner.Version) {
			res.Stale = append(res.Stale, replica)
		}
	}
	sort.Strings(res.Stale)
	return res
}

// IsNotFound reports whether no replica had a value.
func (r Result) IsNotFound() bool {
	return r.Winner.IsEmpty()
}

// NeedsRepair reports whether any replica is stale.
func (r Result) NeedsRepair() bool {
	return len(r.Stale) > 0
}
