package adlb

import (
	"context"
	"testing"
	"time"

	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/task"
)

func newTestCluster(t *testing.T, numWorkers, numServers int) *TestCluster {
	t.Helper()
	tc, err := NewTestCluster(numWorkers, numServers, []int{0, 1, ControlType})
	if err != nil {
		t.Fatalf("NewTestCluster: %v", err)
	}
	t.Cleanup(tc.Close)
	return tc
}

func TestPutGetRoundTrip(t *testing.T) {
	tc := newTestCluster(t, 2, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w0, w1 := tc.Workers[0], tc.Workers[1]

	if err := w0.Put(ctx, 0, 0, 1, task.AnyRank, task.Hard, task.ByRank, -1, []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d, ok, shutdown, err := w1.Get(ctx, []int{0}, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if shutdown {
		t.Fatalf("Get: unexpected shutdown")
	}
	if !ok {
		t.Fatalf("Get: expected a dispatch")
	}
	if string(d.Payload) != "hello" {
		t.Fatalf("Get: payload = %q, want %q", d.Payload, "hello")
	}
}

func TestGetNonBlockingPending(t *testing.T) {
	tc := newTestCluster(t, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w0 := tc.Workers[0]
	_, ok, shutdown, err := w0.Get(ctx, []int{0}, false)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if shutdown {
		t.Fatalf("Get: unexpected shutdown")
	}
	if ok {
		t.Fatalf("Get: expected no dispatch on an empty queue")
	}
}

func TestStoreRetrieveAndSubscribeNotify(t *testing.T) {
	tc := newTestCluster(t, 2, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	producer, consumer := tc.Workers[0], tc.Workers[1]

	id, err := producer.Create(ctx, datum.Integer, 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ready, err := consumer.Subscribe(ctx, id, nil, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ready {
		t.Fatalf("Subscribe: expected not yet ready")
	}

	notifyCh := make(chan Notification, 1)
	errCh := make(chan error, 1)
	go func() {
		n, shutdown, err := consumer.WaitNotifyFor(ctx, id)
		if err != nil {
			errCh <- err
			return
		}
		if shutdown {
			errCh <- NewError("WaitNotifyFor", Shutdown)
			return
		}
		notifyCh <- n
	}()

	// Give the blocking Get time to park in the server's request queue
	// before the Store fires its notification.
	time.Sleep(50 * time.Millisecond)

	value, err := datum.EncodeValue(datum.Value{Typ: datum.Integer, Int: 42})
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if err := producer.Store(ctx, id, datum.Integer, value, 0); err != nil {
		t.Fatalf("Store: %v", err)
	}

	select {
	case n := <-notifyCh:
		if n.ID != id {
			t.Fatalf("notification id = %d, want %d", n.ID, id)
		}
	case err := <-errCh:
		t.Fatalf("WaitNotifyFor: %v", err)
	case <-ctx.Done():
		t.Fatalf("timed out waiting for notification")
	}

	typ, got, err := consumer.Retrieve(ctx, id, 0, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if typ != datum.Integer {
		t.Fatalf("Retrieve: type = %v, want %v", typ, datum.Integer)
	}
	if string(got) != string(value) {
		t.Fatalf("Retrieve: value = %v, want %v", got, value)
	}
}

func TestParallelCohortDispatch(t *testing.T) {
	tc := newTestCluster(t, 3, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := tc.Workers[0].Put(ctx, 1, 0, 3, task.AnyRank, task.Hard, task.ByRank, -1, []byte("cohort")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	type result struct {
		d   Dispatch
		err error
	}
	results := make(chan result, 3)
	for _, w := range tc.Workers {
		go func(w *Client) {
			d, ok, shutdown, err := w.Get(ctx, []int{1}, true)
			if err == nil && (!ok || shutdown) {
				err = NewError("Get", Fatal)
			}
			results <- result{d, err}
		}(w)
	}

	groupIDs := map[uint64]bool{}
	for i := 0; i < 3; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Get: %v", r.err)
		}
		if r.d.GroupSize != 3 {
			t.Fatalf("GroupSize = %d, want 3", r.d.GroupSize)
		}
		groupIDs[r.d.GroupID] = true
	}
	if len(groupIDs) != 1 {
		t.Fatalf("expected all three dispatches to share one GroupID, got %d distinct", len(groupIDs))
	}
}

func TestFinalizeReachesQuiescence(t *testing.T) {
	tc := newTestCluster(t, 1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := tc.Workers[0].Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if !tc.WaitQuiescent(time.Second) {
		t.Fatalf("server never reached quiescence after Finalize")
	}
}

func TestCrossServerSteal(t *testing.T) {
	tc := newTestCluster(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Both workers round-robin to distinct home servers (homeServerIndex).
	// worker 0 enqueues untargeted work at its own home server; worker 1's
	// blocking Get at its own (different) home server can only be
	// satisfied once the steal protocol moves the task across.
	producer, consumer := tc.Workers[0], tc.Workers[1]
	if err := producer.Put(ctx, 0, 0, 1, task.AnyRank, task.Hard, task.ByRank, -1, []byte("stolen")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	d, ok, shutdown, err := consumer.Get(ctx, []int{0}, true)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if shutdown || !ok {
		t.Fatalf("Get: expected a stolen dispatch, ok=%v shutdown=%v", ok, shutdown)
	}
	if string(d.Payload) != "stolen" {
		t.Fatalf("Get: payload = %q, want %q", d.Payload, "stolen")
	}
}

func TestFailAbortsJob(t *testing.T) {
	tc := newTestCluster(t, 2, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := tc.Workers[0].Fail(ctx, 7); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// Give tagAbort time to fan out to the peer server before exercising it.
	time.Sleep(50 * time.Millisecond)

	err := tc.Workers[1].Put(ctx, 0, 0, 1, task.AnyRank, task.Hard, task.ByRank, -1, []byte("x"))
	if err == nil {
		t.Fatalf("Put: expected Fatal error after Fail, got nil")
	}
	var e *Error
	if !asError(err, &e) || e.Code != Fatal {
		t.Fatalf("Put: error = %v, want Fatal", err)
	}
}
