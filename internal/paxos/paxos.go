package paxos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	logging "github.com/op/go-logging"

	"replicate/internal/clock"
	"replicate/internal/command"
	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/replica"
	"replicate/internal/storage"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("paxos")

// ErrBallotConflict is returned when a round loses to a higher ballot, or
// cannot gather a quorum, on every attempt.
var ErrBallotConflict = errors.New("ballot conflict")

// Paxos is one replica running single-decree Paxos per key.
type Paxos struct {
	r        *replica.Replica
	store    storage.Store
	attempts int

	// states is only touched by handlers, on the replica's handler goroutine.
	states map[string]*wire.PaxosState

	mu         sync.Mutex
	generation int64
}

// New creates a Paxos replica persisting acceptor state in store.
func New(cfg config.Config, tr transport.Transport, store storage.Store) *Paxos {
	p := &Paxos{
		store:    store,
		attempts: cfg.Attempts(),
		states:   make(map[string]*wire.PaxosState),
	}
	p.r = replica.New(cfg, tr, replica.Routes{
		wire.KindPrepare:        replica.Handle(wire.KindPrepareResponse, p.handlePrepare),
		wire.KindAccept:         replica.Handle(wire.KindAcceptResponse, p.handleAccept),
		wire.KindClientSetValue: replica.HandleAsync(wire.KindSetValueResponse, p.handleClientSetValue),
		wire.KindClientGetValue: replica.HandleAsync(wire.KindGetValueResponse, p.handleClientGetValue),
	})
	return p
}

// Dispatch implements transport.Dispatcher.
func (p *Paxos) Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	return p.r.Dispatch(ctx, env)
}

// Close stops the replica.
func (p *Paxos) Close() error {
	return p.r.Close()
}

// State returns a copy of the acceptor state of key.
func (p *Paxos) State(ctx context.Context, key string) (wire.PaxosState, error) {
	var (
		st  wire.PaxosState
		err error
	)
	if derr := p.r.Do(ctx, func() {
		var s *wire.PaxosState
		if s, err = p.state(key); err == nil {
			st = *s
		}
	}); derr != nil {
		return wire.PaxosState{}, derr
	}
	return st, err
}

// AcceptedCommand returns the command accepted for key, if any.
func (p *Paxos) AcceptedCommand(ctx context.Context, key string) (command.Command, bool, error) {
	st, err := p.State(ctx, key)
	if err != nil || !st.HasAccepted() {
		return command.Command{}, false, err
	}
	c, err := command.Deserialize(st.AcceptedValue)
	if err != nil {
		return command.Command{}, false, err
	}
	return c, true, nil
}

// state returns the state of key, restoring it from the store on first use.
func (p *Paxos) state(key string) (*wire.PaxosState, error) {
	if st, ok := p.states[key]; ok {
		return st, nil
	}

	st := wire.NewPaxosState()
	b, ok, err := p.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load paxos state %s: %w", key, err)
	}
	if ok {
		if err := st.Unmarshal(b); err != nil {
			return nil, fmt.Errorf("load paxos state %s: %w", key, err)
		}
	}
	p.states[key] = &st
	return &st, nil
}

// save persists st before it becomes visible to other replicas.
func (p *Paxos) save(key string, st wire.PaxosState) error {
	if err := p.store.Put(key, st.Marshal()); err != nil {
		logger.Errorf("[%s] Failed to persist paxos state key=%s: %v", p.r.ID(), key, err)
		return fmt.Errorf("persist paxos state %s: %w", key, err)
	}
	p.states[key] = &st
	return nil
}

func (p *Paxos) handlePrepare(ctx context.Context, req *wire.PrepareRequest) (wire.Message, error) {
	st, err := p.state(req.Key)
	if err != nil {
		return nil, err
	}

	if !req.Ballot.IsAfter(st.PromisedBallot) {
		logger.Debugf("[%s] Rejecting prepare key=%s ballot=%s promised=%s",
			p.r.ID(), req.Key, req.Ballot, st.PromisedBallot)
		return &wire.PrepareResponse{
			PromisedBallot: st.PromisedBallot,
			AcceptedBallot: st.AcceptedBallot,
			AcceptedValue:  st.AcceptedValue,
		}, nil
	}

	next := *st
	next.PromisedBallot = req.Ballot
	if err := p.save(req.Key, next); err != nil {
		return nil, err
	}
	logger.Debugf("[%s] Promised key=%s ballot=%s", p.r.ID(), req.Key, req.Ballot)
	return &wire.PrepareResponse{
		Promised:       true,
		PromisedBallot: next.PromisedBallot,
		AcceptedBallot: next.AcceptedBallot,
		AcceptedValue:  next.AcceptedValue,
	}, nil
}

func (p *Paxos) handleAccept(ctx context.Context, req *wire.AcceptRequest) (wire.Message, error) {
	st, err := p.state(req.Key)
	if err != nil {
		return nil, err
	}

	if req.Ballot.IsBefore(st.PromisedBallot) {
		logger.Debugf("[%s] Rejecting accept key=%s ballot=%s promised=%s",
			p.r.ID(), req.Key, req.Ballot, st.PromisedBallot)
		return &wire.AcceptResponse{}, nil
	}

	next := wire.PaxosState{
		PromisedBallot: clock.Max(st.PromisedBallot, req.Ballot),
		AcceptedBallot: req.Ballot,
		AcceptedValue:  req.Value,
	}
	if err := p.save(req.Key, next); err != nil {
		return nil, err
	}
	logger.Debugf("[%s] Accepted key=%s ballot=%s", p.r.ID(), req.Key, req.Ballot)
	return &wire.AcceptResponse{Accepted: true}, nil
}

// nextBallot returns a ballot for a new attempt on key: one generation past
// the previous attempt of this proposer, raised if needed so it is after
// everything this replica has promised for key.
func (p *Paxos) nextBallot(ctx context.Context, key string) (clock.MonotonicID, error) {
	st, err := p.State(ctx, key)
	if err != nil {
		return clock.Empty(), err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	ballot := clock.New(p.generation, p.r.Index())
	if !ballot.IsAfter(st.PromisedBallot) {
		p.generation = st.PromisedBallot.Counter + 1
		ballot = clock.New(p.generation, p.r.Index())
	}
	return ballot, nil
}

// round runs one prepare and accept exchange. With a nil proposal it reads:
// it stops after the prepare phase when no value has been accepted.
// It returns the chosen value, or nil for an empty read.
func (p *Paxos) round(ctx context.Context, key string, ballot clock.MonotonicID, proposal []byte) ([]byte, error) {
	n := len(p.r.Replicas())

	promises := quorum.NewCallback(n, func(resp *wire.PrepareResponse) bool { return resp.Promised })
	replica.SendToAllPeers(ctx, p.r, promises, wire.KindPrepare, &wire.PrepareRequest{Key: key, Ballot: ballot})
	promised, err := promises.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", ballot, err)
	}

	value := proposal
	if accepted := highestAccepted(promised); accepted != nil {
		value = accepted
	}
	if value == nil {
		return nil, nil
	}

	accepts := quorum.NewCallback(n, func(resp *wire.AcceptResponse) bool { return resp.Accepted })
	replica.SendToAllPeers(ctx, p.r, accepts, wire.KindAccept, &wire.AcceptRequest{Key: key, Ballot: ballot, Value: value})
	if _, err := accepts.Wait(ctx); err != nil {
		return nil, fmt.Errorf("accept %s: %w", ballot, err)
	}
	return value, nil
}

// highestAccepted returns the value accepted with the highest ballot among
// promises, or nil if none carries a value.
func highestAccepted(promises map[string]*wire.PrepareResponse) []byte {
	var (
		value  []byte
		ballot = clock.Empty()
	)
	for _, resp := range promises {
		if resp.AcceptedValue != nil && resp.AcceptedBallot.IsAfter(ballot) {
			ballot = resp.AcceptedBallot
			value = resp.AcceptedValue
		}
	}
	return value
}

// run retries rounds with fresh ballots until one succeeds or the attempt
// limit is reached.
func (p *Paxos) run(ctx context.Context, key string, proposal []byte) ([]byte, clock.MonotonicID, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		ballot, err := p.nextBallot(ctx, key)
		if err != nil {
			return nil, clock.Empty(), err
		}

		value, err := p.round(ctx, key, ballot, proposal)
		if err == nil {
			return value, ballot, nil
		}
		lastErr = err
		logger.Warningf("[%s] Paxos attempt %d/%d for key=%s failed: %v", p.r.ID(), attempt, p.attempts, key, err)

		if ctx.Err() != nil {
			break
		}
	}
	return nil, clock.Empty(), fmt.Errorf("%w: key %s: %w", ErrBallotConflict, key, lastErr)
}

func (p *Paxos) handleClientSetValue(ctx context.Context, req *wire.SetValueRequest) (wire.Message, error) {
	logger.Infof("[%s] Set request: key=%s", p.r.ID(), req.Key)

	proposal, err := command.Serialize(command.NewSetValue(req.Key, req.Value))
	if err != nil {
		return nil, err
	}
	chosen, ballot, err := p.run(ctx, req.Key, proposal)
	if err != nil {
		return nil, err
	}

	value, err := valueOf(chosen)
	if err != nil {
		return nil, err
	}
	logger.Infof("[%s] Chose key=%s value=%q ballot=%s", p.r.ID(), req.Key, value, ballot)
	return &wire.SetValueResponse{Status: wire.StatusSuccess, Value: value, Version: ballot}, nil
}

func (p *Paxos) handleClientGetValue(ctx context.Context, req *wire.GetValueRequest) (wire.Message, error) {
	logger.Infof("[%s] Get request: key=%s", p.r.ID(), req.Key)

	chosen, ballot, err := p.run(ctx, req.Key, nil)
	if err != nil {
		return nil, err
	}
	if chosen == nil {
		return wire.Absent(req.Key), nil
	}

	value, err := valueOf(chosen)
	if err != nil {
		return nil, err
	}
	return wire.Found(wire.StoredValue{Key: req.Key, Value: value, Version: ballot}), nil
}

func valueOf(b []byte) (string, error) {
	c, err := command.Deserialize(b)
	if err != nil {
		return "", err
	}
	if c.Type != command.TypeSetValue {
		return "", fmt.Errorf("%w: paxos value is %s", command.ErrUnknownCommand, c.Type)
	}
	return c.SetValue.Value, nil
}
