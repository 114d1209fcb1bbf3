package store

import (
	"errors"
	"testing"

	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/errs"
)

func TestCreateAllocatesFromRange(t *testing.T) {
	s := New(0, 100, 50, 4, 0)
	id1, err := s.Create(datum.Integer, 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id2, err := s.Create(datum.Integer, 0, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id1 < 100 || id1 >= 150 || id2 < 100 || id2 >= 150 {
		t.Fatalf("ids %d,%d not in range [100,150)", id1, id2)
	}
	if id1 == id2 {
		t.Fatal("expected distinct ids")
	}
}

func TestMultiCreateAllocatesContiguousBatch(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	ids, err := s.MultiCreate(datum.String, 5, false)
	if err != nil {
		t.Fatalf("MultiCreate: %v", err)
	}
	if len(ids) != 5 {
		t.Fatalf("len = %d, want 5", len(ids))
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Fatalf("ids not contiguous: %v", ids)
		}
	}
}

func TestStoreAndRetrieveRoundTrip(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.String, 0, false)
	if err := s.Store(id, datum.String, []byte("hello"), 1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	typ, payload, err := s.Retrieve(id, NoRC, 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if typ != datum.String || string(payload) != "hello" {
		t.Errorf("got %v %q", typ, payload)
	}
}

func TestRetrieveUnsetFails(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	_, _, err := s.Retrieve(id, NoRC, 0)
	if !errors.Is(err, errs.New("", errs.Unset)) {
		t.Errorf("expected Unset, got %v", err)
	}
}

func TestStoreNotFound(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	err := s.Store(999, datum.Integer, []byte{1}, 1)
	if !errors.Is(err, errs.New("", errs.NotFound)) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestStoreWrongType(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	err := s.Store(id, datum.String, []byte("x"), 1)
	if !errors.Is(err, errs.New("", errs.WrongType)) {
		t.Errorf("expected WrongType, got %v", err)
	}
}

func TestStoreDoubleWriteFails(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	if err := s.Store(id, datum.Integer, []byte{1}, 0); err != nil {
		t.Fatalf("first Store: %v", err)
	}
	err := s.Store(id, datum.Integer, []byte{2}, 0)
	if !errors.Is(err, errs.New("", errs.DoubleWrite)) {
		t.Errorf("expected DoubleWrite, got %v", err)
	}
}

func TestRetrieveReadRefcountDestroysAtZero(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	s.Store(id, datum.Integer, []byte{7}, 1) // write_refcount 1->0; read_refcount still 1
	if !s.Exists(id) {
		t.Fatal("datum should survive while read_refcount > 0")
	}
	if _, _, err := s.Retrieve(id, ReadRC, 1); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if s.Exists(id) {
		t.Error("expected datum destroyed once both refcounts reach zero")
	}
}

func TestWriteRefcountUnderflowIsFatal(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	err := s.Store(id, datum.Integer, []byte{1}, 5) // only 1 to decrement, asking for 5
	if !errors.Is(err, errs.New("", errs.Fatal)) {
		t.Errorf("expected Fatal on write-refcount underflow, got %v", err)
	}
}

func TestPermanentDatumIgnoresRefcounts(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, true)
	if err := s.Store(id, datum.Integer, []byte{9}, 1); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, _, err := s.Retrieve(id, ReadRC, 100); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !s.Exists(id) {
		t.Error("permanent datum should never be destroyed by refcounts")
	}
}

func TestSubscribeAlreadyReady(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	s.Store(id, datum.Integer, []byte{1}, 0)
	ready, err := s.Subscribe(5, id, nil, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !ready {
		t.Error("expected AlreadyReady for a SET datum")
	}
}

func TestSubscribePendingThenNotifiedOnStore(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	ready, err := s.Subscribe(5, id, nil, false)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ready {
		t.Fatal("expected Pending for an UNSET datum")
	}
	if n := s.DrainNotifications(); len(n) != 0 {
		t.Fatalf("expected no notification before Store, got %v", n)
	}
	s.Store(id, datum.Integer, []byte{1}, 0)
	notes := s.DrainNotifications()
	if len(notes) != 1 || notes[0].WorkerRank != 5 || notes[0].Event != EventReady {
		t.Fatalf("expected one READY notification to rank 5, got %+v", notes)
	}
}

func TestContainerInsertNotifiesSubscriptSubscriber(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	cid, _ := s.Create(datum.Container, 0, false)
	s.Store(cid, datum.Container, []byte{}, 0)

	ready, err := s.Subscribe(9, cid, []byte("key1"), true)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ready {
		t.Fatal("expected Pending for an un-inserted subscript")
	}

	other, _ := s.Create(datum.Integer, 0, false)
	if err := s.Insert(cid, []byte("key1"), other); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	notes := s.DrainNotifications()
	if len(notes) != 1 || notes[0].WorkerRank != 9 || string(notes[0].Subscript) != "key1" {
		t.Fatalf("expected one notification for key1 to rank 9, got %+v", notes)
	}
}

func TestRefcountIncrWriteRejectedOnceSet(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	s.Store(id, datum.Integer, []byte{1}, 0)
	err := s.RefcountIncr(id, 0, 1)
	if !errors.Is(err, errs.New("", errs.WrongType)) {
		t.Errorf("expected write-refcount increment on a SET datum to fail, got %v", err)
	}
}

func TestRetrievePopulatesCache(t *testing.T) {
	s := New(0, 0, 1000, 4, 0)
	id, _ := s.Create(datum.Integer, 0, false)
	s.Store(id, datum.Integer, []byte{42}, 0)
	s.Retrieve(id, NoRC, 0)
	if _, _, ok := s.cache.Get(id); !ok {
		t.Error("expected Retrieve to populate the read cache")
	}
}
