package twophase

import (
	"bytes"
	"context"
	"fmt"

	logging "github.com/op/go-logging"

	"replicate/internal/command"
	"replicate/internal/config"
	"replicate/internal/quorum"
	"replicate/internal/replica"
	"replicate/internal/storage"
	"replicate/internal/transport"
	"replicate/internal/wire"
)

var logger = logging.MustGetLogger("twophase")

// Executor is one replica of the two-phase command executor.
type Executor struct {
	r       *replica.Replica
	store   storage.Store
	recover bool

	// Handler goroutine only.
	accepted []byte
	pending  []byte
}

// New creates an executor applying commands to store.
func New(cfg config.Config, tr transport.Transport, store storage.Store) *Executor {
	e := &Executor{
		store:   store,
		recover: cfg.RecoverPendingCommits,
	}
	e.r = replica.New(cfg, tr, replica.Routes{
		wire.KindPropose:        replica.Handle(wire.KindProposeResponse, e.handlePropose),
		wire.KindCommit:         replica.Handle(wire.KindCommitResponse, e.handleCommit),
		wire.KindAbort:          replica.Handle(wire.KindAbortResponse, e.handleAbort),
		wire.KindExecuteCommand: replica.HandleAsync(wire.KindExecuteCommandResponse, e.handleExecute),
	})
	return e
}

// Dispatch implements transport.Dispatcher.
func (e *Executor) Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error) {
	return e.r.Dispatch(ctx, env)
}

// Close stops the replica.
func (e *Executor) Close() error {
	return e.r.Close()
}

// Value returns the value this replica stores for key.
func (e *Executor) Value(ctx context.Context, key string) (*string, error) {
	var (
		v   *string
		err error
	)
	if derr := e.r.Do(ctx, func() { v, err = e.get(key) }); derr != nil {
		return nil, derr
	}
	return v, err
}

// AcceptedCommand returns the last command this replica accepted or
// committed.
func (e *Executor) AcceptedCommand(ctx context.Context) (command.Command, bool, error) {
	var b []byte
	if err := e.r.Do(ctx, func() { b = e.accepted }); err != nil {
		return command.Command{}, false, err
	}
	if b == nil {
		return command.Command{}, false, nil
	}
	c, err := command.Deserialize(b)
	if err != nil {
		return command.Command{}, false, err
	}
	return c, true, nil
}

func (e *Executor) get(key string) (*string, error) {
	b, ok, err := e.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	v := string(b)
	return &v, nil
}

func (e *Executor) handlePropose(ctx context.Context, req *wire.CommandRequest) (wire.Message, error) {
	if e.recover && e.pending != nil && !bytes.Equal(e.pending, req.Command) {
		logger.Infof("[%s] Refusing proposal: an earlier command is not committed", e.r.ID())
		return &wire.ProposeResponse{Pending: e.pending}, nil
	}

	e.accepted = req.Command
	e.pending = req.Command
	logger.Debugf("[%s] Accepted proposal", e.r.ID())
	return &wire.ProposeResponse{Accepted: true}, nil
}

func (e *Executor) handleCommit(ctx context.Context, req *wire.CommandRequest) (wire.Message, error) {
	c, err := command.Deserialize(req.Command)
	if err != nil {
		return nil, err
	}

	e.accepted = req.Command
	e.pending = nil

	resp, err := e.apply(c)
	if err != nil {
		logger.Errorf("[%s] Failed to apply %s: %v", e.r.ID(), c, err)
		return nil, err
	}
	logger.Debugf("[%s] Committed %s: committed=%v", e.r.ID(), c, resp.Committed)
	return resp, nil
}

// handleAbort drops the aborted command if it is the pending one. A different
// pending command is kept.
func (e *Executor) handleAbort(ctx context.Context, req *wire.CommandRequest) (wire.Message, error) {
	if e.pending == nil || !bytes.Equal(e.pending, req.Command) {
		return &wire.AbortResponse{}, nil
	}
	e.pending = nil
	logger.Debugf("[%s] Discarded aborted proposal", e.r.ID())
	return &wire.AbortResponse{Discarded: true}, nil
}

func (e *Executor) apply(c command.Command) (*wire.CommitResponse, error) {
	current, err := e.get(c.Key())
	if err != nil {
		return nil, err
	}

	switch c.Type {
	case command.TypeCompareAndSwap:
		cas := c.CompareAndSwap
		if !cas.Matches(current) {
			return &wire.CommitResponse{PreviousValue: current}, nil
		}
		if err := e.store.Put(cas.Key, []byte(cas.NewValue)); err != nil {
			return nil, fmt.Errorf("store %s: %w", cas.Key, err)
		}
		return &wire.CommitResponse{Committed: true, PreviousValue: current}, nil
	case command.TypeSetValue:
		if err := e.store.Put(c.SetValue.Key, []byte(c.SetValue.Value)); err != nil {
			return nil, fmt.Errorf("store %s: %w", c.SetValue.Key, err)
		}
		return &wire.CommitResponse{Committed: true, PreviousValue: current}, nil
	}
	return nil, fmt.Errorf("%w: %s", command.ErrUnknownCommand, c.Type)
}

func (e *Executor) handleExecute(ctx context.Context, req *wire.CommandRequest) (wire.Message, error) {
	c, err := command.Deserialize(req.Command)
	if err != nil {
		return nil, err
	}
	logger.Infof("[%s] Execute request: %s", e.r.ID(), c)

	proposals := replica.BlockingSendToAllPeers[wire.ProposeResponse](ctx, e.r, wire.KindPropose, req)

	accepted := 0
	pending := make(map[string]int)
	for _, p := range proposals {
		if p.Response.Accepted {
			accepted++
		} else if p.Response.Pending != nil {
			pending[string(p.Response.Pending)]++
		}
	}

	if accepted < e.r.MajoritySize() {
		logger.Warningf("[%s] Proposal accepted by %d of %d replicas, need %d",
			e.r.ID(), accepted, len(e.r.Replicas()), e.r.MajoritySize())
		if e.recover {
			e.recoverFrom(ctx, req.Command, pending)
		}
		return wire.NotCommitted(), nil
	}

	return e.commit(ctx, req.Command)
}

// commit sends the commit to every replica and returns the first outcome,
// the local one unless it failed.
func (e *Executor) commit(ctx context.Context, cmd []byte) (*wire.CommitResponse, error) {
	commits := replica.BlockingSendToAllPeers[wire.CommitResponse](ctx, e.r, wire.KindCommit, &wire.CommandRequest{Command: cmd})
	if len(commits) == 0 {
		return nil, fmt.Errorf("commit: %w: no replica answered", quorum.ErrQuorumUnreachable)
	}
	return commits[0].Response, nil
}

// recoverFrom runs after a failed propose phase. A pending command reported
// by a majority was accepted by a majority, so it is committed everywhere.
// Otherwise nothing pending can be known to be accepted, and the failed
// proposal is aborted so it does not block later commands.
func (e *Executor) recoverFrom(ctx context.Context, proposed []byte, pending map[string]int) {
	for cmd, count := range pending {
		if count >= e.r.MajoritySize() {
			e.completePending(ctx, []byte(cmd))
			return
		}
	}

	aborts := replica.BlockingSendToAllPeers[wire.AbortResponse](ctx, e.r, wire.KindAbort, &wire.CommandRequest{Command: proposed})
	discarded := 0
	for _, a := range aborts {
		if a.Response.Discarded {
			discarded++
		}
	}
	logger.Infof("[%s] Aborted proposal, discarded by %d replicas", e.r.ID(), discarded)
}

func (e *Executor) completePending(ctx context.Context, pending []byte) {
	c, err := command.Deserialize(pending)
	if err != nil {
		logger.Errorf("[%s] Cannot decode pending command: %v", e.r.ID(), err)
		return
	}
	logger.Infof("[%s] Completing pending command %s", e.r.ID(), c)
	if _, err := e.commit(ctx, pending); err != nil {
		logger.Warningf("[%s] Completing pending command %s failed: %v", e.r.ID(), c, err)
	}
}
