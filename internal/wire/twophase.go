package wire

// CommandRequest carries a serialized command. It is the payload of
// Propose, Commit, Abort and ExecuteCommand.
type CommandRequest struct {
	Command []byte
}

func (m *CommandRequest) Marshal() []byte {
	var e encoder
	e.bytes(1, m.Command)
	return e.buf
}

func (m *CommandRequest) Unmarshal(b []byte) error {
	*m = CommandRequest{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Command = f.bytes()
		}
		return nil
	})
}

// ProposeResponse answers a Propose. Pending is set when the replica refused
// the proposal because an earlier command is accepted but not committed.
type ProposeResponse struct {
	Accepted bool
	Pending  []byte
}

func (m *ProposeResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Accepted)
	e.bytes(2, m.Pending)
	return e.buf
}

func (m *ProposeResponse) Unmarshal(b []byte) error {
	*m = ProposeResponse{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Accepted = f.bool()
		case 2:
			m.Pending = f.bytes()
		}
		return nil
	})
}

// CommitResponse is the outcome of applying a command on a replica, and the
// answer to a client ExecuteCommand. PreviousValue is nil when the key had no
// value.
type CommitResponse struct {
	Committed     bool
	PreviousValue *string
}

// NotCommitted is the outcome of a command whose propose phase failed.
func NotCommitted() *CommitResponse {
	return &CommitResponse{}
}

func (m *CommitResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Committed)
	e.optional(2, m.PreviousValue)
	return e.buf
}

func (m *CommitResponse) Unmarshal(b []byte) error {
	*m = CommitResponse{}
	return decode(b, func(f field) error {
		switch f.num {
		case 1:
			m.Committed = f.bool()
		case 2:
			m.PreviousValue = f.optional()
		}
		return nil
	})
}

// AbortResponse answers an Abort. Discarded reports whether the replica
// held the aborted command as pending.
type AbortResponse struct {
	Discarded bool
}

func (m *AbortResponse) Marshal() []byte {
	var e encoder
	e.bool(1, m.Discarded)
	return e.buf
}

func (m *AbortResponse) Unmarshal(b []byte) error {
	*m = AbortResponse{}
	return decode(b, func(f field) error {
		if f.num == 1 {
			m.Discarded = f.bool()
		}
		return nil
	})
}
