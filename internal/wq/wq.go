// Package wq implements the Work Queue (spec section 4.B): tasks indexed
// by seqno, by (type, priority), by target rank, and by pinned/unpinned
// status.
package wq

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/adlb-go/adlb/internal/errs"
	"github.com/adlb-go/adlb/internal/task"
)

// Config bounds the queue's resource usage.
type Config struct {
	MaxPayloadBytes int   // PayloadTooLarge beyond this
	MaxBytes        int64 // OutOfMemory beyond this (0 = unbounded)
}

// entry wraps a task with its heap index and liveness flag so pop-by-seqno
// can tombstone a heap entry in O(1) instead of rebuilding the heap.
type entry struct {
	t     *task.Task
	index int
	live  bool
}

// typeHeap is a max-priority heap of *entry for one task type, ties broken
// by seqno (older first, per spec section 4.B).
type typeHeap []*entry

func (h typeHeap) Len() int { return len(h) }
func (h typeHeap) Less(i, j int) bool {
	if h[i].t.Priority != h[j].t.Priority {
		return h[i].t.Priority > h[j].t.Priority
	}
	return h[i].t.ID < h[j].t.ID
}
func (h typeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *typeHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *typeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// WQ is the server-local work queue.
type WQ struct {
	cfg Config

	nextSeqno   int64
	bytesInUse  int64
	bySeqno     map[int64]*entry
	byType      map[int]*typeHeap
	byTargetRank map[int]map[int64]*entry // target rank -> seqno -> entry, HARD/SOFT pre-targeted only
	pinnedCount int
}

// New builds an empty work queue.
func New(cfg Config) *WQ {
	return &WQ{
		cfg:          cfg,
		bySeqno:      make(map[int64]*entry),
		byType:       make(map[int]*typeHeap),
		byTargetRank: make(map[int]map[int64]*entry),
	}
}

func (q *WQ) typeHeapFor(typ int) *typeHeap {
	h, ok := q.byType[typ]
	if !ok {
		h = &typeHeap{}
		heap.Init(h)
		q.byType[typ] = h
	}
	return h
}

// Put inserts t, stamping its ID and HomeServerRank, returning the assigned
// seqno. Returns an *errs.Error with Code OutOfMemory or PayloadTooLarge
// when the configured bounds are exceeded.
func (q *WQ) Put(t *task.Task, selfRank int) (int64, error) {
	if q.cfg.MaxPayloadBytes > 0 && len(t.Payload) > q.cfg.MaxPayloadBytes {
		return 0, errs.New("Put", errs.PayloadTooLarge)
	}
	if q.cfg.MaxBytes > 0 && q.bytesInUse+int64(len(t.Payload)) > q.cfg.MaxBytes {
		return 0, errs.New("Put", errs.OutOfMemory)
	}

	seqno := atomic.AddInt64(&q.nextSeqno, 1)
	t.ID = seqno
	t.HomeServerRank = selfRank

	e := &entry{t: t, live: true}
	q.bySeqno[seqno] = e
	heap.Push(q.typeHeapFor(t.Type), e)
	q.bytesInUse += int64(len(t.Payload))

	if t.TargetAccuracy == task.ByRank && t.TargetRank != task.AnyRank &&
		(t.TargetStrictness == task.Hard || t.TargetStrictness == task.Soft) {
		m, ok := q.byTargetRank[t.TargetRank]
		if !ok {
			m = make(map[int64]*entry)
			q.byTargetRank[t.TargetRank] = m
		}
		m[seqno] = e
	}

	return seqno, nil
}

// Requeue reinserts a task that was previously removed from this queue
// (e.g. by TakeForRequest while assembling a parallel cohort that later
// timed out), preserving its existing ID rather than assigning a new one.
func (q *WQ) Requeue(t *task.Task) {
	t.Pinned = false
	e := &entry{t: t, live: true}
	q.bySeqno[t.ID] = e
	heap.Push(q.typeHeapFor(t.Type), e)
	q.bytesInUse += int64(len(t.Payload))

	if t.TargetAccuracy == task.ByRank && t.TargetRank != task.AnyRank &&
		(t.TargetStrictness == task.Hard || t.TargetStrictness == task.Soft) {
		m, ok := q.byTargetRank[t.TargetRank]
		if !ok {
			m = make(map[int64]*entry)
			q.byTargetRank[t.TargetRank] = m
		}
		m[t.ID] = e
	}
}

// acceptableFor reports whether t may be handed to req under t's
// targeting rules. nodeOf maps a worker rank to its node id (nil disables
// NODE targeting, treating it like HARD on rank equality only).
func acceptableFor(t *task.Task, workerRank int, nodeOf func(rank int) int) bool {
	if t.TargetRank == task.AnyRank {
		return true
	}
	switch t.TargetStrictness {
	case task.Hard:
		if t.TargetAccuracy == task.ByNode && nodeOf != nil {
			return nodeOf(workerRank) == nodeOf(t.TargetRank)
		}
		return workerRank == t.TargetRank
	case task.Soft:
		// SOFT tasks are preferentially matched to TargetRank via
		// byTargetRank; once RoundsTried has exhausted the matcher's
		// patience (internal/match), the task is re-offered as AnyRank
		// by the matcher itself, so by the time we reach here a
		// not-yet-fallen-back SOFT task still prefers its target but
		// may be taken by anyone.
		return true
	case task.Node:
		if nodeOf == nil {
			return workerRank == t.TargetRank
		}
		return nodeOf(workerRank) == nodeOf(t.TargetRank)
	default:
		return true
	}
}

// TakeForRequest returns the highest-priority task satisfying req, removing
// it from the queue. Pre-targeted tasks for req.WorkerRank are preferred
// over untargeted ones (spec section 4.B); pinned tasks are never returned,
// since they're reserved for cohort assembly (internal/match).
func (q *WQ) TakeForRequest(req *task.Request, nodeOf func(rank int) int) (*task.Task, bool) {
	if targeted, ok := q.byTargetRank[req.WorkerRank]; ok {
		var best *entry
		for _, e := range targeted {
			if !e.live || e.t.Pinned || !req.AcceptsType(e.t.Type) {
				continue
			}
			if best == nil || betterCandidate(e.t, best.t) {
				best = e
			}
		}
		if best != nil {
			q.removeEntry(best)
			return best.t, true
		}
	}

	var best *entry
	for _, typ := range req.AcceptTypes {
		if typ == -1 {
			for t := range q.byType {
				if c := q.bestInType(t, req, nodeOf); c != nil && (best == nil || betterCandidate(c.t, best.t)) {
					best = c
				}
			}
			continue
		}
		if c := q.bestInType(typ, req, nodeOf); c != nil && (best == nil || betterCandidate(c.t, best.t)) {
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	q.removeEntry(best)
	return best.t, true
}

func betterCandidate(a, b *task.Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}

// bestInType scans the type's heap for the best live, unpinned,
// rank-acceptable candidate without mutating the heap.
func (q *WQ) bestInType(typ int, req *task.Request, nodeOf func(rank int) int) *entry {
	h, ok := q.byType[typ]
	if !ok {
		return nil
	}
	var best *entry
	for _, e := range *h {
		if !e.live || e.t.Pinned {
			continue
		}
		if !acceptableFor(e.t, req.WorkerRank, nodeOf) {
			continue
		}
		if best == nil || betterCandidate(e.t, best.t) {
			best = e
		}
	}
	return best
}

// PopBySeqno removes and returns the task with the given seqno, used when
// fulfilling a steal reply or cohort dispatch.
func (q *WQ) PopBySeqno(seqno int64) (*task.Task, bool) {
	e, ok := q.bySeqno[seqno]
	if !ok || !e.live {
		return nil, false
	}
	q.removeEntry(e)
	return e.t, true
}

// Pin marks the task reserved for a parallel cohort (spec section 4.D); it
// stays in the queue (still addressable by seqno) but TakeForRequest and
// bestInType skip it.
func (q *WQ) Pin(seqno int64, pinRank int) bool {
	e, ok := q.bySeqno[seqno]
	if !ok || !e.live {
		return false
	}
	e.t.Pinned = true
	e.t.PinRank = pinRank
	return true
}

// Unpin reverses Pin, returning the task to the general pool.
func (q *WQ) Unpin(seqno int64) bool {
	e, ok := q.bySeqno[seqno]
	if !ok || !e.live {
		return false
	}
	e.t.Pinned = false
	return true
}

func (q *WQ) removeEntry(e *entry) {
	e.live = false
	delete(q.bySeqno, e.t.ID)
	q.bytesInUse -= int64(len(e.t.Payload))
	if m, ok := q.byTargetRank[e.t.TargetRank]; ok {
		delete(m, e.t.ID)
		if len(m) == 0 {
			delete(q.byTargetRank, e.t.TargetRank)
		}
	}
	// The tombstoned entry is lazily dropped from its type heap the next
	// time that heap is compacted (see Compact); removing it eagerly
	// would require an O(log n) heap.Fix with the index tracked, which
	// tombstoning avoids for the common case of a single pop.
}

// Compact rebuilds typ's heap dropping tombstoned (!live) entries. Every
// removal path (TakeForRequest, PopBySeqno, TakeBestStealable) only
// tombstones its entry, so call this periodically (e.g. from the progress
// loop) to bound memory.
func (q *WQ) Compact(typ int) {
	h, ok := q.byType[typ]
	if !ok {
		return
	}
	fresh := make(typeHeap, 0, len(*h))
	for _, e := range *h {
		if e.live {
			fresh = append(fresh, e)
		}
	}
	heap.Init(&fresh)
	q.byType[typ] = &fresh
}

// CountAvailable reports the number of live, unpinned tasks of typ.
func (q *WQ) CountAvailable(typ int) int {
	h, ok := q.byType[typ]
	if !ok {
		return 0
	}
	n := 0
	for _, e := range *h {
		if e.live && !e.t.Pinned {
			n++
		}
	}
	return n
}

// MaxPriority returns the highest priority among live, unpinned tasks of
// typ, and whether any such task exists.
func (q *WQ) MaxPriority(typ int) (int64, bool) {
	h, ok := q.byType[typ]
	if !ok {
		return 0, false
	}
	found := false
	var max int64
	for _, e := range *h {
		if !e.live || e.t.Pinned {
			continue
		}
		if !found || e.t.Priority > max {
			max = e.t.Priority
			found = true
		}
	}
	return max, found
}

// Len reports the total number of live tasks across all types.
func (q *WQ) Len() int { return len(q.bySeqno) }

// Empty reports whether the queue holds no live tasks — part of the
// quiescence condition (spec section 4.D).
func (q *WQ) Empty() bool { return len(q.bySeqno) == 0 }

// ForEachSoftTargeted calls fn for every live, unpinned SOFT-targeted task
// still pre-targeted at a rank, letting the matcher age RoundsTried.
func (q *WQ) ForEachSoftTargeted(fn func(t *task.Task)) {
	for _, m := range q.byTargetRank {
		for _, e := range m {
			if e.live && !e.t.Pinned && e.t.TargetStrictness == task.Soft {
				fn(e.t)
			}
		}
	}
}

// TakeBestStealable returns the highest-priority live, unpinned task of
// typ eligible for a cross-server steal — untargeted (AnyRank) or
// SOFT-targeted tasks only, never HARD or NODE, and never one listed in
// cooldown (seqno -> time it was last stolen away, checked for presence
// only; expiry is the caller's responsibility). Removes it from the queue.
func (q *WQ) TakeBestStealable(typ int, cooldown map[int64]time.Time) (*task.Task, bool) {
	h, ok := q.byType[typ]
	if !ok {
		return nil, false
	}
	var best *entry
	for _, e := range *h {
		if !e.live || e.t.Pinned {
			continue
		}
		if e.t.TargetRank != task.AnyRank && e.t.TargetStrictness != task.Soft {
			continue
		}
		if _, cooling := cooldown[e.t.ID]; cooling {
			continue
		}
		if best == nil || betterCandidate(e.t, best.t) {
			best = e
		}
	}
	if best == nil {
		return nil, false
	}
	q.removeEntry(best)
	return best.t, true
}

// Retarget changes a live task's TargetRank in place, updating the
// byTargetRank index accordingly. Used by the matcher to fall a SOFT task
// back to AnyRank once it has exhausted its preferred-rank patience.
func (q *WQ) Retarget(seqno int64, newTarget int) bool {
	e, ok := q.bySeqno[seqno]
	if !ok || !e.live {
		return false
	}
	if m, ok := q.byTargetRank[e.t.TargetRank]; ok {
		delete(m, seqno)
		if len(m) == 0 {
			delete(q.byTargetRank, e.t.TargetRank)
		}
	}
	e.t.TargetRank = newTarget
	if newTarget != task.AnyRank {
		m, ok := q.byTargetRank[newTarget]
		if !ok {
			m = make(map[int64]*entry)
			q.byTargetRank[newTarget] = m
		}
		m[seqno] = e
	}
	return true
}
