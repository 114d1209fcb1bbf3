package match

import (
	"testing"

	"github.com/adlb-go/adlb/internal/rq"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wq"
)

func TestAttemptDirectMatchSerial(t *testing.T) {
	w := wq.New(wq.Config{})
	r := rq.New()
	w.Put(&task.Task{Type: 0, Priority: 1, Parallelism: 1, TargetRank: task.AnyRank}, 0)
	r.Push(&task.Request{WorkerRank: 5, AcceptTypes: []int{0}, Blocking: true})

	m := New(Config{}, nil)
	dispatches := m.Attempt(w, r)
	if len(dispatches) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(dispatches))
	}
	if dispatches[0].WorkerRank != 5 || dispatches[0].GroupSize != 0 {
		t.Errorf("unexpected dispatch: %+v", dispatches[0])
	}
	if !w.Empty() || !r.Empty() {
		t.Error("expected both queues drained after a successful direct match")
	}
}

func TestAttemptParallelCohortOfThree(t *testing.T) {
	w := wq.New(wq.Config{})
	r := rq.New()
	w.Put(&task.Task{Type: 0, Priority: 1, Parallelism: 3, TargetRank: task.AnyRank}, 0)

	m := New(Config{}, nil)

	r.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}, Blocking: true})
	if d := m.Attempt(w, r); len(d) != 0 {
		t.Fatalf("expected no dispatch with only 1/3 cohort members, got %d", len(d))
	}
	if m.PendingCohorts() != 1 {
		t.Fatalf("expected 1 pending cohort, got %d", m.PendingCohorts())
	}

	r.Push(&task.Request{WorkerRank: 2, AcceptTypes: []int{0}, Blocking: true})
	m.Attempt(w, r)

	r.Push(&task.Request{WorkerRank: 3, AcceptTypes: []int{0}, Blocking: true})
	dispatches := m.Attempt(w, r)

	if len(dispatches) != 3 {
		t.Fatalf("expected 3 dispatches once cohort is complete, got %d", len(dispatches))
	}
	seen := map[int]bool{}
	for _, d := range dispatches {
		if d.GroupSize != 3 {
			t.Errorf("GroupSize = %d, want 3", d.GroupSize)
		}
		seen[d.GroupRank] = true
	}
	if len(seen) != 3 {
		t.Errorf("expected group ranks 0,1,2 all assigned, got %v", seen)
	}
	if m.PendingCohorts() != 0 {
		t.Errorf("expected cohort cleared after dispatch, got %d pending", m.PendingCohorts())
	}
}

func TestTickUnpinsStaleCohort(t *testing.T) {
	w := wq.New(wq.Config{})
	r := rq.New()
	seqno, _ := w.Put(&task.Task{Type: 0, Priority: 1, Parallelism: 2, TargetRank: task.AnyRank}, 0)

	m := New(Config{MatchRounds: 2}, nil)
	r.Push(&task.Request{WorkerRank: 1, AcceptTypes: []int{0}, Blocking: true})
	m.Attempt(w, r)
	if m.PendingCohorts() != 1 {
		t.Fatal("expected cohort started")
	}

	m.Tick(w)
	if m.PendingCohorts() != 1 {
		t.Fatal("cohort should survive round 1 of 2")
	}
	m.Tick(w)
	if m.PendingCohorts() != 0 {
		t.Fatal("expected cohort to time out and unpin after MatchRounds rounds")
	}
	if got, ok := w.PopBySeqno(seqno); !ok || got.Pinned {
		t.Fatal("expected the timed-out task requeued into wq, unpinned")
	}
}
