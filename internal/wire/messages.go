package wire

import (
	"replicate/internal/clock"
)

// StoredValue is the unit of replicated state of the quorum KV protocol.
// A StoredValue is never mutated once written; updates create a new one.
type StoredValue struct {
	Key     string
	Value   string
	Version clock.MonotonicID
}

// EmptyStoredValue denotes "no value for this key".
func EmptyStoredValue() StoredValue {
	return StoredValue{Version: clock.Empty()}
}

// IsEmpty reports whether sv carries no value.
func (sv StoredValue) IsEmpty() bool {
	return sv.Version.IsEmpty()
}

func (sv StoredValue) Marshal() []byte {
	var e encoder
	e.string(1, sv.Key)
	e.string(2, sv.Value)
	e.id(3, sv.Version)
	return e.buf
}

func (sv *StoredValue) Unmarshal(b []byte) error {
	*sv = EmptyStoredValue()
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			sv.Key = f.string()
		case 2:
			sv.Value = f.string()
		case 3:
			sv.Version, err = f.id()
		}
		return err
	})
}

// GetVersionRequest asks a replica for the version it stores for Key.
type GetVersionRequest struct {
	Key string
}

func (m *GetVersionRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	return e.buf
}

func (m *GetVersionRequest) Unmarshal(b []byte) error {
	*m = GetVersionRequest{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Key = f.string()
		}
		return nil
	})
}

// GetVersionResponse carries the stored version, possibly Empty.
type GetVersionResponse struct {
	Version clock.MonotonicID
}

func (m *GetVersionResponse) Marshal() []byte {
	var e encoder
	e.id(1, m.Version)
	return e.buf
}

func (m *GetVersionResponse) Unmarshal(b []byte) error {
	*m = GetVersionResponse{Version: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		if f.num == 1 {
			m.Version, err = f.id()
		}
		return err
	})
}

// VersionedSetValueRequest writes Value at Version on a replica.
type VersionedSetValueRequest struct {
	Key     string
	Value   string
	Version clock.MonotonicID
}

func (m *VersionedSetValueRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	e.string(2, m.Value)
	e.id(3, m.Version)
	return e.buf
}

func (m *VersionedSetValueRequest) Unmarshal(b []byte) error {
	*m = VersionedSetValueRequest{Version: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Key = f.string()
		case 2:
			m.Value = f.string()
		case 3:
			m.Version, err = f.id()
		}
		return err
	})
}

// SetValueRequest is the client write request shared by the quorum KV and
// Paxos protocols.
type SetValueRequest struct {
	Key   string
	Value string
}

func (m *SetValueRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	e.string(2, m.Value)
	return e.buf
}

func (m *SetValueRequest) Unmarshal(b []byte) error {
	*m = SetValueRequest{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Key = f.string()
		case 2:
			m.Value = f.string()
		}
		return nil
	})
}

// Status of a write.
type Status int32

const (
	StatusUnknown Status = iota
	StatusSuccess
	StatusError
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// SetValueResponse acknowledges a replica write or answers a client write.
// For client writes Value is the final value of the key: the written value
// for quorum KV, the chosen value for Paxos.
type SetValueResponse struct {
	Status       Status
	Value        string
	Version      clock.MonotonicID
	ErrorMessage string
}

func (m *SetValueResponse) Marshal() []byte {
	var e encoder
	e.varint(1, uint64(m.Status))
	e.string(2, m.Value)
	e.id(3, m.Version)
	e.string(4, m.ErrorMessage)
	return e.buf
}

func (m *SetValueResponse) Unmarshal(b []byte) error {
	*m = SetValueResponse{Version: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Status = Status(f.v)
		case 2:
			m.Value = f.string()
		case 3:
			m.Version, err = f.id()
		case 4:
			m.ErrorMessage = f.string()
		}
		return err
	})
}

// GetValueRequest reads a key, from a replica or on behalf of a client.
type GetValueRequest struct {
	Key string
}

func (m *GetValueRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	return e.buf
}

func (m *GetValueRequest) Unmarshal(b []byte) error {
	*m = GetValueRequest{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Key = f.string()
		}
		return nil
	})
}

// GetValueResponse carries the stored value, or Found=false when the key
// has no value.
type GetValueResponse struct {
	Found bool
	Value StoredValue
}

// Absent returns the response for a key with no value.
func Absent(key string) *GetValueResponse {
	sv := EmptyStoredValue()
	sv.Key = key
	return &GetValueResponse{Value: sv}
}

// Found wraps sv as a response, treating an empty sv as absent.
func Found(sv StoredValue) *GetValueResponse {
	return &GetValueResponse{Found: !sv.IsEmpty(), Value: sv}
}

func (m *GetValueResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Found)
	e.message(2, m.Value.Marshal())
	return e.buf
}

func (m *GetValueResponse) Unmarshal(b []byte) error {
	*m = GetValueResponse{Value: EmptyStoredValue()}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Found = f.bool()
		case 2:
			return m.Value.Unmarshal(f.b)
		}
		return nil
	})
}
