// Package transport defines the wire-level send primitive vtrt's message
// engine (internal/messaging) is built on, and nothing else: framing,
// handler dispatch, and epoch stamping all live above this layer. Two
// implementations are provided: transport/local (in-process, for tests and
// single-process demos) and transport/rpc (real gRPC, for multi-process
// runs).
package transport

import "github.com/dreamware/vtrt/internal/rt"

// Receiver is invoked once per inbound frame, with the raw bytes the
// message engine previously handed to Send on the sending node.
type Receiver func(from rt.NodeType, payload []byte)

// Transport is the minimum a message engine needs from the network: know
// who it is, know how big the world is, send raw bytes to one destination,
// and register the callback inbound frames are delivered to.
//
// Transport implementations never interpret payload; they are pure
// delivery. Ordering, retries, and backpressure policy are NOT
// guaranteed beyond what each implementation's doc comment states.
type Transport interface {
	This() rt.NodeType
	NumNodes() int
	Send(to rt.NodeType, payload []byte) error
	SetReceiver(r Receiver)
	Close() error
}
