// Package paxos implements single-decree Paxos per key. Every client request
// runs a full round: a prepare phase collecting promises from a quorum and an
// accept phase proposing either the highest value already accepted by that
// quorum or the client's own value. Reads run a round too, which makes them
// linearizable.
package paxos
