// Package interfaces provides internal interface definitions for adlb.
// These are separate from the public package to avoid circular imports
// between the root package and the internal components it composes.
package interfaces

import "context"

// Comm defines the message transport interface needed by the server core
// (spec section 4.A). Implementations must guarantee in-order delivery for
// a given (src, dst, tag) tuple, matching the MPI guarantee the spec relies
// on.
type Comm interface {
	// Rank returns this process's rank within Comm.
	Rank() int

	// Size returns the number of ranks in Comm.
	Size() int

	// Isend enqueues a non-blocking send. The implementation owns buf until
	// the send completes and must not retain it afterward.
	Isend(ctx context.Context, dest int, tag uint16, buf []byte) error

	// PostIrecv registers interest in messages carrying tag. Received
	// payloads are delivered to the channel returned by Inbox.
	PostIrecv(tag uint16)

	// Inbox returns the channel on which messages for tag arrive. Each
	// message reports the sender's rank alongside its payload.
	Inbox(tag uint16) <-chan Message

	// Progress performs one non-blocking pass over pending sends/receives
	// and reports whether any work happened.
	Progress() bool

	// Barrier performs a collective quiesce.
	Barrier(ctx context.Context) error

	// Close releases transport resources.
	Close() error
}

// Message is a received, tag-scoped payload together with its sender.
type Message struct {
	Src  int
	Tag  uint16
	Body []byte
}

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe: methods are called from the
// server's progress loop and from worker-side RPC clients concurrently.
type Observer interface {
	ObservePut(bytes uint64, latencyNs uint64, success bool)
	ObserveGet(latencyNs uint64, success bool)
	ObserveSteal(count int, success bool)
	ObserveStore(bytes uint64, latencyNs uint64, success bool)
	ObserveRetrieve(bytes uint64, latencyNs uint64, success bool)
	ObserveNotify(latencyNs uint64, success bool)
	ObserveXptRecord(bytes uint64, latencyNs uint64, success bool)
}
