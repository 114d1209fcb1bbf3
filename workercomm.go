package adlb

import (
	"context"

	"github.com/adlb-go/adlb/internal/interfaces"
)

// workerBarrierTag is a dedicated tag for WorkerComm's own barrier, placed
// above both the RPC/reply tags and the inter-server control tags declared
// in constants.go, so it stays disjoint from every server-facing tag.
const workerBarrierTag uint16 = 0x3000

// WorkerComm wraps the shared world Comm for application code running on
// worker ranks (spec section 6.1's init(...) -> worker_comm). worldComm's
// Barrier is a collective over every rank, servers included (confirmed by
// reading ChanComm/TCPComm's Barrier implementations, both sized off
// Comm.Size()) — a worker calling it would deadlock waiting for servers
// that never call it. WorkerComm.Barrier instead runs a small
// rank-0-of-workers-coordinated collective restricted to [0, numWorkers),
// reusing the underlying Comm only as a transport for that one extra tag.
type WorkerComm struct {
	interfaces.Comm
	numWorkers int

	arrived int
}

func newWorkerComm(comm interfaces.Comm, numWorkers int) *WorkerComm {
	wc := &WorkerComm{Comm: comm, numWorkers: numWorkers}
	comm.PostIrecv(workerBarrierTag)
	return wc
}

// Size reports the worker-only communicator size, not the world size.
func (wc *WorkerComm) Size() int { return wc.numWorkers }

// Barrier blocks every worker rank until all numWorkers have called it.
// Rank 0 collects an arrival from every other worker rank then broadcasts
// a release; every non-zero rank sends its arrival to rank 0 and waits for
// the release, mirroring TCPComm.Barrier's coordinator algorithm but
// scoped to worker ranks only.
func (wc *WorkerComm) Barrier(ctx context.Context) error {
	if wc.Rank() != 0 {
		if err := wc.Isend(ctx, 0, workerBarrierTag, nil); err != nil {
			return err
		}
		select {
		case <-wc.Inbox(workerBarrierTag):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for wc.arrived < wc.numWorkers-1 {
		select {
		case <-wc.Inbox(workerBarrierTag):
			wc.arrived++
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	wc.arrived = 0

	for rank := 1; rank < wc.numWorkers; rank++ {
		if err := wc.Isend(ctx, rank, workerBarrierTag, nil); err != nil {
			return err
		}
	}
	return nil
}

var _ interfaces.Comm = (*WorkerComm)(nil)
