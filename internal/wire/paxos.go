package wire

import (
	"replicate/internal/clock"
)

// PrepareRequest is phase one of a Paxos round.
type PrepareRequest struct {
	Key    string
	Ballot clock.MonotonicID
}

func (m *PrepareRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	e.id(2, m.Ballot)
	return e.buf
}

func (m *PrepareRequest) Unmarshal(b []byte) error {
	*m = PrepareRequest{Ballot: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Key = f.string()
		case 2:
			m.Ballot, err = f.id()
		}
		return err
	})
}

// PrepareResponse is a promise, or a rejection carrying the ballot the
// acceptor has already promised. AcceptedValue is a serialized command and
// is nil when the acceptor has never accepted anything.
type PrepareResponse struct {
	Promised       bool
	PromisedBallot clock.MonotonicID
	AcceptedBallot clock.MonotonicID
	AcceptedValue  []byte
}

func (m *PrepareResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Promised)
	e.id(2, m.PromisedBallot)
	e.id(3, m.AcceptedBallot)
	e.bytes(4, m.AcceptedValue)
	return e.buf
}

func (m *PrepareResponse) Unmarshal(b []byte) error {
	*m = PrepareResponse{PromisedBallot: clock.Empty(), AcceptedBallot: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Promised = f.bool()
		case 2:
			m.PromisedBallot, err = f.id()
		case 3:
			m.AcceptedBallot, err = f.id()
		case 4:
			m.AcceptedValue = f.bytes()
		}
		return err
	})
}

// AcceptRequest is phase two of a Paxos round.
type AcceptRequest struct {
	Key    string
	Ballot clock.MonotonicID
	Value  []byte
}

func (m *AcceptRequest) Marshal() []byte {
	var e encoder
	e.string(1, m.Key)
	e.id(2, m.Ballot)
	e.bytes(3, m.Value)
	return e.buf
}

func (m *AcceptRequest) Unmarshal(b []byte) error {
	*m = AcceptRequest{Ballot: clock.Empty()}
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Key = f.string()
		case 2:
			m.Ballot, err = f.id()
		case 3:
			m.Value = f.bytes()
		}
		return err
	})
}

// AcceptResponse acknowledges or rejects an AcceptRequest.
type AcceptResponse struct {
	Accepted bool
}

func (m *AcceptResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Accepted)
	return e.buf
}

func (m *AcceptResponse) Unmarshal(b []byte) error {
	*m = AcceptResponse{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Accepted = f.bool()
		}
		return nil
	})
}

// PaxosState is the per-key acceptor state persisted by a replica.
// AcceptedValue is nil when nothing has been accepted.
type PaxosState struct {
	PromisedBallot clock.MonotonicID
	AcceptedBallot clock.MonotonicID
	AcceptedValue  []byte
}

// NewPaxosState returns the state of a key that has seen no ballots.
func NewPaxosState() PaxosState {
	return PaxosState{PromisedBallot: clock.Empty(), AcceptedBallot: clock.Empty()}
}

// HasAccepted reports whether a value has been accepted.
func (s PaxosState) HasAccepted() bool {
	return s.AcceptedValue != nil
}

func (s PaxosState) Marshal() []byte {
	var e encoder
	e.id(1, s.PromisedBallot)
	e.id(2, s.AcceptedBallot)
	if s.AcceptedValue != nil {
		e.message(3, s.AcceptedValue)
	}
	return e.buf
}

func (s *PaxosState) Unmarshal(b []byte) error {
	*s = NewPaxosState()
	return decode(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			s.PromisedBallot, err = f.id()
		case 2:
			s.AcceptedBallot, err = f.id()
		case 3:
			s.AcceptedValue = f.bytes()
		}
		return err
	})
}
