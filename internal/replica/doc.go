// Package replica provides the substrate every replication protocol runs on:
// a static table routing inbound message kinds to handlers, a single handler
// goroutine per replica, and fan-out of requests to every replica of the
// cluster feeding a quorum.Callback.
//
// Handlers registered with Handle run one at a time on the handler goroutine
// and must not block on other replicas. Handlers registered with HandleAsync
// (client requests) run on the caller's goroutine; they are the only place
// where SendToAllPeers may be called, since the local replica's share of a
// fan-out is itself dispatched to the handler goroutine.
package replica
