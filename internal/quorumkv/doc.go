// Package quorumkv implements a versioned key-value store replicated by
// majority quorums. A client write discovers the highest version held by a
// quorum and writes the value with the next version; a client read returns
// the highest version held by a quorum and repairs replicas that are behind.
package quorumkv
