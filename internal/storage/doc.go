// Package storage provides the local durable key-value store consumed by the
// replication protocols. A Store maps string keys to opaque byte values; the
// protocols layer their own encodings (versioned values, Paxos state) on top.
package storage
