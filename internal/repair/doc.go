// Package repair reconciles the values returned by a read quorum and writes
// the winning value back to replicas that returned something older.
package repair
