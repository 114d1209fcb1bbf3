package rq

import (
	"testing"

	"github.com/adlb-go/adlb/internal/task"
)

func TestPushReplacesOutstandingRequestForSameRank(t *testing.T) {
	q := New()
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}})
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{1}})

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (second push replaces first)", q.Len())
	}
	req, ok := q.PopByRank(1)
	if !ok || !req.AcceptsType(1) {
		t.Error("expected the second (replacing) request to remain")
	}
}

func TestFindMatchingFIFOOrder(t *testing.T) {
	q := New()
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}})
	q.Push(&task.Request{WorkerRank: 2, AcceptTypes: []int{0}})

	ta := &task.Task{Type: 0}
	req, ok := q.FindMatching(ta, nil)
	if !ok || req.WorkerRank != 1 {
		t.Errorf("expected the earlier request (rank 1) to match first, got rank %d", req.WorkerRank)
	}
}

func TestFindMatchingRespectsAcceptable(t *testing.T) {
	q := New()
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}})
	q.Push(&task.Request{WorkerRank: 2, AcceptTypes: []int{0}})

	ta := &task.Task{Type: 0}
	req, ok := q.FindMatching(ta, func(rank int) bool { return rank == 2 })
	if !ok || req.WorkerRank != 2 {
		t.Errorf("expected rank 2 to match under the acceptable filter, got %+v", req)
	}
}

func TestCountAcceptingTypeCountsWildcards(t *testing.T) {
	q := New()
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}})
	q.Push(&task.Request{WorkerRank: 2, AcceptTypes: []int{-1}})

	if n := q.CountAcceptingType(0); n != 2 {
		t.Errorf("CountAcceptingType(0) = %d, want 2 (one direct, one wildcard)", n)
	}
	if n := q.CountAcceptingType(5); n != 1 {
		t.Errorf("CountAcceptingType(5) = %d, want 1 (wildcard only)", n)
	}
}

func TestPopBySeqno(t *testing.T) {
	q := New()
	seqno := q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}})
	req, ok := q.PopBySeqno(seqno)
	if !ok || req.WorkerRank != 1 {
		t.Fatal("expected PopBySeqno to find the request")
	}
	if !q.Empty() {
		t.Error("queue should be empty after popping its only request")
	}
}

func TestAllBlocking(t *testing.T) {
	q := New()
	q.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}, Blocking: true})
	if !q.AllBlocking() {
		t.Error("single blocking request should report AllBlocking() == true")
	}
	q.Push(&task.Request{WorkerRank: 2, AcceptTypes: []int{0}, Blocking: false})
	if q.AllBlocking() {
		t.Error("a non-blocking request should make AllBlocking() false")
	}
}
