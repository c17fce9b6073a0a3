package command

import (
	"errors"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestCompareAndSwap_Matches(t *testing.T) {
	tests := []struct {
		name     string
		expected *string
		current  *string
		want     bool
	}{
		{"absent expects absent", nil, nil, true},
		{"absent expected, value present", nil, strPtr("Microservices"), false},
		{"value expected, key absent", strPtr("Microservices"), nil, false},
		{"equal values", strPtr("Microservices"), strPtr("Microservices"), true},
		{"different values", strPtr("Microservices"), strPtr("Distributed Systems"), false},
		{"empty string is not absent", strPtr(""), nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cas := &CompareAndSwap{Key: "title", ExpectedValue: tt.expected, NewValue: "x"}
			if got := cas.Matches(tt.current); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSerialize_PreservesAbsentExpectation(t *testing.T) {
	absent, err := Deserialize(MustSerialize(NewCompareAndSwap("title", nil, "Microservices")))
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if absent.Type != TypeCompareAndSwap {
		t.Fatalf("Expected CompareAndSwap, got %s", absent.Type)
	}
	if absent.CompareAndSwap.ExpectedValue != nil {
		t.Error("Absent expectation decoded as a value")
	}

	empty, err := Deserialize(MustSerialize(NewCompareAndSwap("title", strPtr(""), "Microservices")))
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if empty.CompareAndSwap.ExpectedValue == nil || *empty.CompareAndSwap.ExpectedValue != "" {
		t.Error("Empty-string expectation should survive encoding")
	}
}

func TestDeserialize_SetValue(t *testing.T) {
	c, err := Deserialize(MustSerialize(NewSetValue("title", "Distributed Systems")))
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if c.Type != TypeSetValue || c.SetValue.Value != "Distributed Systems" || c.Key() != "title" {
		t.Errorf("Unexpected command %v", c)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := Serialize(Command{Type: Type(42)}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand, got %v", err)
	}
	if _, err := Serialize(Command{Type: TypeSetValue}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand for missing payload, got %v", err)
	}
	if _, err := Deserialize([]byte{0x08, 0x2a}); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("Expected ErrUnknownCommand for tag 42, got %v", err)
	}
}

func TestCommand_String(t *testing.T) {
	got := NewCompareAndSwap("title", nil, "Microservices").String()
	want := `CompareAndSwap{title: <absent> -> "Microservices"}`
	if got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}
