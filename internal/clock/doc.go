// Package clock provides the monotonic identifier used both as a Paxos
// ballot number and as the version stamp of a replicated value. Identifiers
// order lexicographically by (counter, node index), so two replicas can never
// generate the same identifier.
package clock
