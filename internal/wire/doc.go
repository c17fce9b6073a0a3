// Package wire defines the request kinds exchanged between replicas and
// clients, the envelope the transport moves, and the binary encoding of every
// message. Messages use protobuf wire encoding with fixed field numbers, so
// they can be decoded by any protobuf tooling and unknown fields are skipped.
package wire
