// Package twophase executes commands, such as compare-and-swap, on every
// replica in two phases. The coordinator proposes the command to every
// replica and, once a majority has accepted it, tells every replica to
// commit it. A replica applies a command only when it commits it.
//
// The executor blocks its caller for the duration of both phases. A replica
// that accepted a command but missed its commit keeps it pending; with
// recovery enabled, the next proposal it receives completes the pending
// command instead.
package twophase
