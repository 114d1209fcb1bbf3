// Package rq implements the Request Queue (spec section 4.C): workers
// blocked in Get, FIFO within equal eligibility, plus per-type counters the
// steal engine uses to judge whether this server is "long" or "short".
package rq

import (
	"sync/atomic"

	"github.com/adlb-go/adlb/internal/task"
)

// RQ is the server-local request queue: one entry per currently-blocked (or
// advisory-probing) worker.
type RQ struct {
	nextSeqno int64
	// order preserves FIFO arrival order; byRank and bySeqno index the
	// same entries for O(1) lookup/removal.
	order   []*task.Request
	byRank  map[int]*task.Request
	bySeqno map[int64]*task.Request

	typeCounts map[int]int // number of live requests naming each type explicitly (wildcard requests are counted in wildcards instead)
	wildcards  int
}

// New builds an empty request queue.
func New() *RQ {
	return &RQ{
		byRank:     make(map[int]*task.Request),
		bySeqno:    make(map[int64]*task.Request),
		typeCounts: make(map[int]int),
	}
}

// Push enqueues req, stamping its RQSeqno. A worker has at most one
// outstanding request at a time (spec section 3.2); pushing a second
// request for the same rank replaces the first.
func (q *RQ) Push(req *task.Request) int64 {
	if old, ok := q.byRank[req.WorkerRank]; ok {
		q.removeFromOrder(old)
		q.uncount(old)
		delete(q.bySeqno, old.RQSeqno)
	}

	seqno := atomic.AddInt64(&q.nextSeqno, 1)
	req.RQSeqno = seqno
	q.order = append(q.order, req)
	q.byRank[req.WorkerRank] = req
	q.bySeqno[seqno] = req
	q.count(req)
	return seqno
}

func (q *RQ) count(req *task.Request) {
	for _, t := range req.AcceptTypes {
		if t == -1 {
			q.wildcards++
			continue
		}
		q.typeCounts[t]++
	}
}

func (q *RQ) uncount(req *task.Request) {
	for _, t := range req.AcceptTypes {
		if t == -1 {
			q.wildcards--
			continue
		}
		q.typeCounts[t]--
	}
}

func (q *RQ) removeFromOrder(req *task.Request) {
	for i, r := range q.order {
		if r == req {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}

// PopBySeqno removes and returns the request with the given seqno.
func (q *RQ) PopBySeqno(seqno int64) (*task.Request, bool) {
	req, ok := q.bySeqno[seqno]
	if !ok {
		return nil, false
	}
	q.remove(req)
	return req, true
}

// PopByRank removes and returns the outstanding request for rank, if any —
// used once a matched task is dispatched to that worker.
func (q *RQ) PopByRank(rank int) (*task.Request, bool) {
	req, ok := q.byRank[rank]
	if !ok {
		return nil, false
	}
	q.remove(req)
	return req, true
}

func (q *RQ) remove(req *task.Request) {
	q.removeFromOrder(req)
	delete(q.byRank, req.WorkerRank)
	delete(q.bySeqno, req.RQSeqno)
	q.uncount(req)
}

// FindMatching returns, in FIFO order, the first request whose accept set
// contains t.Type and whose rank is acceptable under t's target settings.
// acceptable is supplied by the caller (internal/match) since targeting
// rules reference task.Task fields rq does not need to know about.
func (q *RQ) FindMatching(t *task.Task, acceptable func(workerRank int) bool) (*task.Request, bool) {
	for _, req := range q.order {
		if !req.AcceptsType(t.Type) {
			continue
		}
		if acceptable != nil && !acceptable(req.WorkerRank) {
			continue
		}
		return req, true
	}
	return nil, false
}

// CountAcceptingType returns how many live requests would accept a task of
// typ, including wildcard requests.
func (q *RQ) CountAcceptingType(typ int) int {
	return q.typeCounts[typ] + q.wildcards
}

// Snapshot returns a copy of the current FIFO order, safe to range over
// while the caller concurrently pops entries out of q (as the matcher
// does mid-pass).
func (q *RQ) Snapshot() []*task.Request {
	out := make([]*task.Request, len(q.order))
	copy(out, q.order)
	return out
}

// Len reports the total number of outstanding requests.
func (q *RQ) Len() int { return len(q.order) }

// Empty reports whether no worker is currently blocked in a request — part
// of the quiescence condition (spec section 4.D).
func (q *RQ) Empty() bool { return len(q.order) == 0 }

// AllBlocking reports whether every outstanding request is Blocking — the
// other half of the quiescence condition.
func (q *RQ) AllBlocking() bool {
	for _, r := range q.order {
		if !r.Blocking {
			return false
		}
	}
	return true
}
