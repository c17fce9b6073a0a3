// Package quorum provides the response aggregator every replication protocol
// uses to decide that enough replicas agreed. A Callback collects concurrent
// per-replica responses for one logical request and resolves exactly once,
// either with the responses collected so far or with ErrQuorumUnreachable.
package quorum
