// Package transport moves envelopes between replicas. It offers an
// in-memory Network with per-link drop rules, used by tests and demos, and a
// gRPC transport used by deployed nodes.
package transport

import (
	"context"
	"errors"

	"replicate/internal/config"
	"replicate/internal/wire"
)

var (
	// ErrMessageDropped is returned when the network dropped a request or
	// its response.
	ErrMessageDropped = errors.New("message dropped")
	// ErrUnknownPeer is returned when a message targets an unregistered peer.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrUnregisteredKind is returned by a Dispatcher for a message kind it
	// has no handler for.
	ErrUnregisteredKind = errors.New("unregistered request kind")
)

// Dispatcher handles an inbound envelope and returns the response envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, env wire.Envelope) (wire.Envelope, error)
}

// DoneFunc receives the outcome of an asynchronous send.
type DoneFunc func(resp wire.Envelope, err error)

// Transport sends envelopes to peers.
type Transport interface {
	// SendAsync sends env to peer and calls done exactly once with the
	// response or the failure. The message is handed to the network before
	// SendAsync returns, so sends issued in sequence leave in sequence.
	SendAsync(ctx context.Context, peer config.Peer, env wire.Envelope, done DoneFunc)
	// Send sends env to peer and waits for the response.
	Send(ctx context.Context, peer config.Peer, env wire.Envelope) (wire.Envelope, error)
	// Close releases connections held by the transport.
	Close() error
}
