// Package store implements the server-local data store (spec section
// 4.E): id allocation, store/retrieve, the refcount protocol, and
// subscribe/notify. Grounded on turbine.c's id-allocation idiom (a
// monotonically advancing counter handed out in ranges) and spec section
// 4.E directly for the rest, since the original ADLB server-side store is
// not part of the retrieved C sources.
package store

import (
	"github.com/adlb-go/adlb/internal/cache"
	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/errs"
)

// RetrieveMode selects whether Retrieve consumes a read-refcount
// (spec section 4.E.2).
type RetrieveMode int

const (
	ReadRC RetrieveMode = iota
	NoRC
)

// Event is the kind of notification fired to a subscriber (spec section
// 4.E.4).
type Event int

const (
	EventReady Event = iota
	EventClosed
)

// Notification is queued for delivery as a CONTROL task addressed to the
// subscriber's worker rank — the data store never calls into the work
// queue directly (spec section 9: cross-component calls only flow through
// the event log the progress loop drains, to avoid a store->wq->store
// call cycle).
type Notification struct {
	WorkerRank   int
	ID           int64
	Subscript    []byte // nil when the subscription was on the whole datum
	HasSubscript bool
	Event        Event
}

type status int

const (
	unset status = iota
	set
)

type subscriber struct {
	workerRank   int
	subscript    []byte
	hasSubscript bool
}

type entry struct {
	id            int64
	typ           datum.Type
	status        status
	payload       []byte
	permanent     bool
	readRefcount  int64
	writeRefcount int64
	subscribers   []subscriber

	// container/multiset auxiliary indices, populated only when typ is
	// Container or Multiset (spec section 3.4).
	container map[string]int64
	multiset  []int64
}

// Store is one server's shard of the data store: it owns every id in
// [rangeStart, rangeStart+rangeSize) and delegates to a read-through
// cache for retrieved payloads.
type Store struct {
	selfRank   int
	rangeStart int64
	rangeSize  int64
	nextOffset int64

	byID  map[int64]*entry
	cache *cache.Cache

	// pending collects notifications produced by the most recent
	// operation; the progress loop drains it after every RPC handler
	// returns, per the cycle-breaking design above.
	pending []Notification
}

// New builds a Store owning ids in [rangeStart, rangeStart+rangeSize).
// cacheEntries/cacheBytes bound the local read cache (0 disables it).
func New(selfRank int, rangeStart, rangeSize int64, cacheEntries int, cacheBytes int64) *Store {
	return &Store{
		selfRank:   selfRank,
		rangeStart: rangeStart,
		rangeSize:  rangeSize,
		byID:       make(map[int64]*entry),
		cache:      cache.New(cacheEntries, cacheBytes),
	}
}

// OwnsID reports whether id falls in this store's range.
func (s *Store) OwnsID(id int64) bool {
	return id >= s.rangeStart && id < s.rangeStart+s.rangeSize
}

// Create allocates a new UNSET datum of typ, honoring hint if given (hint
// must fall in this store's range) or else taking the next id from the
// range (spec section 4.E.1). Write-refcount starts at 1, per the spec's
// decided Open Question.
func (s *Store) Create(typ datum.Type, hint int64, permanent bool) (int64, error) {
	var id int64
	if hint != 0 {
		if !s.OwnsID(hint) {
			return 0, errs.New("Create", errs.WrongType).WithRank(s.selfRank)
		}
		if _, exists := s.byID[hint]; exists {
			return 0, errs.New("Create", errs.DoubleWrite).WithRank(s.selfRank)
		}
		id = hint
	} else {
		id = s.allocate(1)
	}
	s.byID[id] = &entry{id: id, typ: typ, status: unset, writeRefcount: 1, readRefcount: 1, permanent: permanent}
	return id, nil
}

// MultiCreate allocates count contiguous ids in one call, all of type typ
// (spec section 4.E.1: "a multi-create request allocates a contiguous
// batch in one call").
func (s *Store) MultiCreate(typ datum.Type, count int, permanent bool) ([]int64, error) {
	if count <= 0 {
		return nil, nil
	}
	first := s.allocate(int64(count))
	ids := make([]int64, count)
	for i := 0; i < count; i++ {
		id := first + int64(i)
		ids[i] = id
		s.byID[id] = &entry{id: id, typ: typ, status: unset, writeRefcount: 1, readRefcount: 1, permanent: permanent}
	}
	return ids, nil
}

func (s *Store) allocate(n int64) int64 {
	id := s.rangeStart + s.nextOffset
	s.nextOffset += n
	return id
}

// Store commits value to id (spec section 4.E.2). Fails with NotFound,
// WrongType, or DoubleWrite per the stated rules; on success, decrements
// write_refcount by writeDecrement (a writeDecrement of 0 is treated as 1)
// and fires any SET notifications.
func (s *Store) Store(id int64, typ datum.Type, value []byte, writeDecrement int64) error {
	e, ok := s.byID[id]
	if !ok {
		return errs.New("Store", errs.NotFound).WithRank(s.selfRank)
	}
	if e.typ != typ {
		return errs.New("Store", errs.WrongType).WithRank(s.selfRank)
	}
	if e.status == set {
		return errs.New("Store", errs.DoubleWrite).WithRank(s.selfRank)
	}

	e.payload = append([]byte(nil), value...)
	e.status = set
	s.decodeAuxIndices(e)

	s.notifySet(e, nil, false)

	if writeDecrement == 0 {
		writeDecrement = 1
	}
	if err := s.refcountWriteDelta(e, -writeDecrement); err != nil {
		return err
	}
	return nil
}

// decodeAuxIndices populates container/multiset indices from e.payload so
// Insert/subscript lookups don't have to re-decode on every access.
func (s *Store) decodeAuxIndices(e *entry) {
	switch e.typ {
	case datum.Container:
		v, err := datum.DecodeValue(datum.Container, e.payload)
		if err == nil {
			e.container = v.ContainerEntries
		}
	case datum.Multiset:
		v, err := datum.DecodeValue(datum.Multiset, e.payload)
		if err == nil {
			e.multiset = make([]int64, 0, len(v.MultisetEntries))
			for _, m := range v.MultisetEntries {
				if m.Typ == datum.Ref {
					e.multiset = append(e.multiset, m.RefID)
				}
			}
		}
	}
}

// Retrieve copies out id's payload (spec section 4.E.2). Fails with
// NotFound or Unset. When mode is ReadRC and readDecrement > 0, the
// read-refcount is decremented after the copy, possibly triggering
// destruction.
func (s *Store) Retrieve(id int64, mode RetrieveMode, readDecrement int64) (datum.Type, []byte, error) {
	e, ok := s.byID[id]
	if !ok {
		return 0, nil, errs.New("Retrieve", errs.NotFound).WithRank(s.selfRank)
	}
	if e.status != set {
		return 0, nil, errs.New("Retrieve", errs.Unset).WithRank(s.selfRank)
	}

	payload := append([]byte(nil), e.payload...)
	s.cache.Put(id, int(e.typ), payload)

	if mode == ReadRC && readDecrement > 0 {
		if err := s.refcountReadDelta(e, -readDecrement); err != nil {
			return 0, nil, err
		}
	}
	return e.typ, payload, nil
}

// RefcountIncr applies readDelta/writeDelta to id's refcounts (spec
// section 4.E.3). Write-refcount may only be incremented while UNSET.
func (s *Store) RefcountIncr(id int64, readDelta, writeDelta int64) error {
	e, ok := s.byID[id]
	if !ok {
		return errs.New("RefcountIncr", errs.NotFound).WithRank(s.selfRank)
	}
	if writeDelta > 0 && e.status != unset {
		return errs.New("RefcountIncr", errs.WrongType).WithRank(s.selfRank)
	}
	if readDelta != 0 {
		if err := s.refcountReadDelta(e, readDelta); err != nil {
			return err
		}
	}
	if writeDelta != 0 {
		if err := s.refcountWriteDelta(e, writeDelta); err != nil {
			return err
		}
	}
	return nil
}

// refcountWriteDelta applies delta to e's write-refcount. A negative delta
// that would carry the count below zero is Fatal (spec's decided Open
// Question: "write-refcount underflow is a Fatal error, not merely
// clamped to zero"). Reaching exactly zero while UNSET destroys the datum
// and fires a CLOSED notification, distinct from SET.
func (s *Store) refcountWriteDelta(e *entry, delta int64) error {
	if e.permanent {
		return nil
	}
	e.writeRefcount += delta
	if e.writeRefcount < 0 {
		return errs.New("refcountWriteDelta", errs.Fatal).WithRank(s.selfRank)
	}
	if e.writeRefcount == 0 && e.status == unset {
		s.notifySet(e, nil, true)
		s.destroy(e)
		return nil
	}
	if e.writeRefcount == 0 && e.readRefcount == 0 {
		s.destroy(e)
	}
	return nil
}

func (s *Store) refcountReadDelta(e *entry, delta int64) error {
	if e.permanent {
		return nil
	}
	e.readRefcount += delta
	if e.readRefcount < 0 {
		return errs.New("refcountReadDelta", errs.Fatal).WithRank(s.selfRank)
	}
	if e.readRefcount == 0 && e.writeRefcount == 0 {
		s.destroy(e)
	}
	return nil
}

func (s *Store) destroy(e *entry) {
	delete(s.byID, e.id)
	s.cache.Invalidate(e.id)
}

// Subscribe registers interest in id (optionally a specific container
// subscript), returning true if the datum is already ready and no
// registration was needed (spec section 4.E.4: AlreadyReady vs Pending).
func (s *Store) Subscribe(workerRank int, id int64, subscript []byte, hasSubscript bool) (alreadyReady bool, err error) {
	e, ok := s.byID[id]
	if !ok {
		return false, errs.New("Subscribe", errs.NotFound).WithRank(s.selfRank)
	}
	if e.status == set {
		if !hasSubscript {
			return true, nil
		}
		if _, present := e.container[string(subscript)]; present {
			return true, nil
		}
	}
	e.subscribers = append(e.subscribers, subscriber{workerRank: workerRank, subscript: subscript, hasSubscript: hasSubscript})
	return false, nil
}

// Insert adds id2 at subscript in the container id1 (spec section 3.4),
// notifying any subscriber registered on that specific subscript.
func (s *Store) Insert(id1 int64, subscript []byte, id2 int64) error {
	e, ok := s.byID[id1]
	if !ok {
		return errs.New("Insert", errs.NotFound).WithRank(s.selfRank)
	}
	if e.typ != datum.Container {
		return errs.New("Insert", errs.WrongType).WithRank(s.selfRank)
	}
	if e.container == nil {
		e.container = make(map[string]int64)
	}
	e.container[string(subscript)] = id2
	s.notifySet(e, subscript, false)
	return nil
}

// notifySet queues notifications for e's subscribers that match the event
// (a whole-datum SET/CLOSE notifies whole-datum subscribers; a
// subscript-scoped insert notifies only matching-subscript subscribers).
// closed selects CLOSED vs READY.
func (s *Store) notifySet(e *entry, subscript []byte, closed bool) {
	ev := EventReady
	if closed {
		ev = EventClosed
	}
	var remaining []subscriber
	for _, sub := range e.subscribers {
		matches := (!sub.hasSubscript && subscript == nil) ||
			(sub.hasSubscript && subscript != nil && string(sub.subscript) == string(subscript))
		if !matches && !closed {
			remaining = append(remaining, sub)
			continue
		}
		s.pending = append(s.pending, Notification{
			WorkerRank:   sub.workerRank,
			ID:           e.id,
			Subscript:    sub.subscript,
			HasSubscript: sub.hasSubscript,
			Event:        ev,
		})
	}
	e.subscribers = remaining
}

// DrainNotifications returns and clears the notifications queued by the
// most recent operations, for the progress loop to turn into CONTROL task
// dispatches (spec section 4.E.4 / section 9).
func (s *Store) DrainNotifications() []Notification {
	out := s.pending
	s.pending = nil
	return out
}

// Exists reports whether id is known to this store, regardless of status.
func (s *Store) Exists(id int64) bool {
	_, ok := s.byID[id]
	return ok
}

// ExistsSubscript reports whether id is a CONTAINER holding an entry at
// subscript (spec section 6.2: Exists' optional subscript column).
func (s *Store) ExistsSubscript(id int64, subscript []byte) (bool, error) {
	e, ok := s.byID[id]
	if !ok {
		return false, errs.New("Exists", errs.NotFound).WithRank(s.selfRank)
	}
	if e.typ != datum.Container {
		return false, errs.New("Exists", errs.WrongType).WithRank(s.selfRank)
	}
	_, present := e.container[string(subscript)]
	return present, nil
}

// AllocateID hands out a fresh id from this store's range without creating
// an entry for it (spec section 6.2's UniqueId: "fresh unused id from
// caller's server"). The caller typically supplies it later as a Create
// hint.
func (s *Store) AllocateID() int64 {
	return s.allocate(1)
}

// IsSet reports whether id is SET, for callers (e.g. xpt reload) that
// need to skip already-populated ids.
func (s *Store) IsSet(id int64) bool {
	e, ok := s.byID[id]
	return ok && e.status == set
}

// Restore force-sets id to value as a permanent datum, creating the entry
// if it does not already exist, bypassing the normal NotFound/DoubleWrite
// checks Store enforces. Used only by checkpoint reload (spec section
// 4.F.3: "calls DS store with permanent = true"), which may restore ids
// this server never Created in the current run.
func (s *Store) Restore(id int64, typ datum.Type, value []byte) error {
	e, ok := s.byID[id]
	if !ok {
		e = &entry{id: id}
		s.byID[id] = e
	}
	e.typ = typ
	e.payload = append([]byte(nil), value...)
	e.status = set
	e.permanent = true
	s.decodeAuxIndices(e)
	return nil
}
