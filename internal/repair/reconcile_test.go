package repair

import (
	"testing"

	"replicate/internal/clock"
	"replicate/internal/wire"
)

func sv(value string, counter, node int64) wire.StoredValue {
	return wire.StoredValue{Key: "title", Value: value, Version: clock.New(counter, node)}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name       string
		responses  map[string]wire.StoredValue
		wantValue  string
		wantStale  []string
		wantAbsent bool
	}{
		{
			name: "single winner",
			responses: map[string]wire.StoredValue{
				"athens":    sv("Microservices", 2, 0),
				"byzantium": sv("Distributed Systems", 1, 1),
			},
			wantValue: "Microservices",
			wantStale: []string{"byzantium"},
		},
		{
			name: "node index breaks counter tie",
			responses: map[string]wire.StoredValue{
				"athens":    sv("Microservices", 1, 0),
				"byzantium": sv("Distributed Systems", 1, 1),
			},
			wantValue: "Distributed Systems",
			wantStale: []string{"athens"},
		},
		{
			name: "missing value is stale",
			responses: map[string]wire.StoredValue{
				"athens": sv("Microservices", 1, 0),
				"cyrene": wire.EmptyStoredValue(),
			},
			wantValue: "Microservices",
			wantStale: []string{"cyrene"},
		},
		{
			name: "all agree",
			responses: map[string]wire.StoredValue{
				"athens":    sv("Microservices", 1, 0),
				"byzantium": sv("Microservices", 1, 0),
			},
			wantValue: "Microservices",
		},
		{
			name: "not found",
			responses: map[string]wire.StoredValue{
				"athens":    wire.EmptyStoredValue(),
				"byzantium": wire.EmptyStoredValue(),
			},
			wantAbsent: true,
		},
		{
			name:       "no responses",
			responses:  map[string]wire.StoredValue{},
			wantAbsent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Reconcile("title", tt.responses)

			if res.IsNotFound() != tt.wantAbsent {
				t.Fatalf("IsNotFound() = %v, want %v", res.IsNotFound(), tt.wantAbsent)
			}
			if res.Winner.Key != "title" {
				t.Errorf("winner key = %q, want title", res.Winner.Key)
			}
			if !tt.wantAbsent && res.Winner.Value != tt.wantValue {
				t.Errorf("winner = %q, want %q", res.Winner.Value, tt.wantValue)
			}
			if len(res.Stale) != len(tt.wantStale) {
				t.Fatalf("stale = %v, want %v", res.Stale, tt.wantStale)
			}
			for i := range tt.wantStale {
				if res.Stale[i] != tt.wantStale[i] {
					t.Errorf("stale[%d] = %s, want %s", i, res.Stale[i], tt.wantStale[i])
				}
			}
			if res.NeedsRepair() != (len(tt.wantStale) > 0) {
				t.Errorf("NeedsRepair() = %v", res.NeedsRepair())
			}
		})
	}
}
