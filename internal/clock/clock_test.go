package clock

import (
	"testing"
)

func TestMonotonicID_Compare(t *testing.T) {
	tests := []struct {
		name     string
		a        MonotonicID
		b        MonotonicID
		expected int
	}{
		{"equal ids", New(1, 0), New(1, 0), 0},
		{"lower counter", New(1, 2), New(2, 0), -1},
		{"higher counter", New(3, 0), New(2, 5), 1},
		{"same counter, node breaks tie", New(2, 0), New(2, 1), -1},
		{"same counter, higher node", New(2, 2), New(2, 1), 1},
		{"empty before real", Empty(), New(0, 0), -1},
		{"real after empty", New(1, 1), Empty(), 1},
		{"empty equals empty", Empty(), Empty(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.expected {
				t.Errorf("Compare(%v, %v) = %d, expected %d", tt.a, tt.b, got, tt.expected)
			}
			if got := tt.b.Compare(tt.a); got != -tt.expected {
				t.Errorf("Compare(%v, %v) = %d, expected %d", tt.b, tt.a, got, -tt.expected)
			}
		})
	}
}

func TestMonotonicID_EmptyIsNeverAfter(t *testing.T) {
	ids := []MonotonicID{Empty(), New(0, 0), New(1, 0), New(1, 7), New(100, 2)}
	for _, id := range ids {
		if Empty().IsAfter(id) {
			t.Errorf("Empty should not be after %v", id)
		}
	}
	if !Empty().IsEmpty() {
		t.Error("Empty() should report IsEmpty")
	}
	if New(0, 0).IsEmpty() {
		t.Error("(0,0) is a real identifier")
	}
}

func TestMonotonicID_Next(t *testing.T) {
	first := Empty().Next(2)
	if first != New(1, 2) {
		t.Errorf("Expected (1,2) after empty, got %v", first)
	}

	next := New(4, 0).Next(1)
	if next != New(5, 1) {
		t.Errorf("Expected (5,1), got %v", next)
	}
}

// TestMonotonicID_NextOfMaxIsAfterAll checks that next(max(ids)) is after
// every identifier in ids, for every generating node.
func TestMonotonicID_NextOfMaxIsAfterAll(t *testing.T) {
	sets := [][]MonotonicID{
		{},
		{Empty()},
		{New(1, 0)},
		{New(1, 2), New(1, 0), Empty()},
		{New(3, 0), New(7, 1), New(7, 2), New(2, 9)},
	}

	for _, ids := range sets {
		max := Max(ids...)
		for node := int64(0); node < 4; node++ {
			next := max.Next(node)
			for _, id := range ids {
				if !next.IsAfter(id) {
					t.Errorf("next %v of max %v is not after %v", next, max, id)
				}
			}
		}
	}
}

func TestMax(t *testing.T) {
	if !Max().IsEmpty() {
		t.Error("Max of nothing should be empty")
	}
	got := Max(New(1, 2), New(2, 0), New(1, 9), Empty())
	if got != New(2, 0) {
		t.Errorf("Expected (2,0), got %v", got)
	}
}

func TestMonotonicID_String(t *testing.T) {
	if s := New(2, 1).String(); s != "(2,1)" {
		t.Errorf("Expected (2,1), got %s", s)
	}
	if s := Empty().String(); s != "(empty)" {
		t.Errorf("Expected (empty), got %s", s)
	}
}
