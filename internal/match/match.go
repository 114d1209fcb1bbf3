// Package match implements the matcher and steal engine (spec section
// 4.D): pairing Work Queue entries with Request Queue entries, assembling
// parallel-task cohorts, and the cross-server steal protocol and
// termination detection that keep multiple servers' queues balanced.
package match

import (
	"github.com/adlb-go/adlb/internal/rq"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wq"
)

// Config tunes matcher behaviour. MatchRounds resolves the spec's open
// question about SOFT-target fallback: after a SOFT-targeted task has
// survived this many unsuccessful match attempts against its preferred
// rank, the matcher stops waiting and offers it to any acceptable rank.
// The same bound caps how many rounds a parallelism>1 cohort will wait for
// its remaining members before giving up and unpinning (spec section 4.D,
// "bounded search round").
type Config struct {
	MatchRounds int
}

// DefaultMatchRounds is used when Config.MatchRounds is zero.
const DefaultMatchRounds = 3

func (c Config) matchRounds() int {
	if c.MatchRounds <= 0 {
		return DefaultMatchRounds
	}
	return c.MatchRounds
}

// Dispatch is a task ready to be sent to a worker. GroupSize > 1 means the
// worker should build a sub-communicator of that size with GroupRank as
// its rank within it, all cohort members sharing GroupID.
type Dispatch struct {
	WorkerRank int
	Task       *task.Task
	GroupID    uint64
	GroupRank  int
	GroupSize  int
}

// cohort tracks collection progress for a pinned parallelism>1 task.
type cohort struct {
	seqno   int64
	t       *task.Task
	groupID uint64
	members []int // worker ranks collected so far, index == group rank
	rounds  int
}

// Matcher holds per-server matching state: in-progress cohorts and the
// NodeOf callback used to resolve NODE-strictness targeting. It is not
// safe for concurrent use — like every other core component, it is owned
// by exactly one server's single-threaded progress loop (spec section 5).
type Matcher struct {
	cfg       Config
	nodeOf    func(rank int) int
	cohorts   map[int64]*cohort
	nextGroup uint64
}

// New builds a Matcher. nodeOf may be nil if the job declares no NODE
// targeting.
func New(cfg Config, nodeOf func(rank int) int) *Matcher {
	return &Matcher{cfg: cfg, nodeOf: nodeOf, cohorts: make(map[int64]*cohort)}
}

// Attempt runs match passes until a fixed point: every request in rq is
// tried against wq (direct dispatch for parallelism==1, cohort
// collection for parallelism>1) until a pass makes no progress. Called
// after every WQ or RQ mutation (spec section 4.D, "match attempt on
// every WQ change or RQ change").
func (m *Matcher) Attempt(w *wq.WQ, r *rq.RQ) []Dispatch {
	var dispatches []Dispatch
	for {
		progressed := false

		for _, req := range r.Snapshot() {
			// A request may complete an already-pinned cohort before it
			// is ever offered a fresh WQ task: the cohort's task has
			// already left w, so w.TakeForRequest alone would never see
			// it again.
			if d, ok := m.tryJoinCohort(req); ok {
				r.PopByRank(req.WorkerRank)
				progressed = true
				dispatches = append(dispatches, d...)
				continue
			}

			t, ok := w.TakeForRequest(req, m.nodeOf)
			if !ok {
				continue
			}
			r.PopByRank(req.WorkerRank)
			progressed = true

			if t.Parallelism <= 1 {
				dispatches = append(dispatches, Dispatch{WorkerRank: req.WorkerRank, Task: t})
				continue
			}
			dispatches = append(dispatches, m.collect(t, req.WorkerRank, w)...)
		}

		if !progressed {
			break
		}
	}

	m.advanceSoftFallback(w)
	return dispatches
}

// tryJoinCohort offers req to every in-progress cohort whose task accepts
// req's type, completing the first one it fills.
func (m *Matcher) tryJoinCohort(req *task.Request) ([]Dispatch, bool) {
	for _, co := range m.cohorts {
		if !req.AcceptsType(co.t.Type) {
			continue
		}
		already := false
		for _, r := range co.members {
			if r == req.WorkerRank {
				already = true
				break
			}
		}
		if already {
			continue
		}

		co.members = append(co.members, req.WorkerRank)
		if len(co.members) < co.t.Parallelism {
			return nil, true
		}
		delete(m.cohorts, co.seqno)
		dispatches := make([]Dispatch, len(co.members))
		for i, rank := range co.members {
			dispatches[i] = Dispatch{
				WorkerRank: rank,
				Task:       co.t,
				GroupID:    co.groupID,
				GroupRank:  i,
				GroupSize:  co.t.Parallelism,
			}
		}
		return dispatches, true
	}
	return nil, false
}

// collect reserves t (if not already pinned) and adds workerRank to its
// cohort, returning dispatches for every member once the cohort of size
// t.Parallelism is complete. t has already been removed from w by
// TakeForRequest; holding onto it here is what "pins" it — no other
// request can match it while it sits out of the queue.
func (m *Matcher) collect(t *task.Task, workerRank int, w *wq.WQ) []Dispatch {
	co, ok := m.cohorts[t.ID]
	if !ok {
		t.Pinned = true
		m.nextGroup++
		co = &cohort{seqno: t.ID, t: t, groupID: m.nextGroup}
		m.cohorts[t.ID] = co
	}
	co.members = append(co.members, workerRank)

	if len(co.members) < t.Parallelism {
		return nil
	}

	delete(m.cohorts, t.ID)

	dispatches := make([]Dispatch, len(co.members))
	for i, rank := range co.members {
		dispatches[i] = Dispatch{
			WorkerRank: rank,
			Task:       t,
			GroupID:    co.groupID,
			GroupRank:  i,
			GroupSize:  t.Parallelism,
		}
	}
	return dispatches
}

// Tick ages every in-progress cohort by one round, unpinning and returning
// to the pool any cohort that has waited MatchRounds without completing
// (spec section 4.D: "if the cohort cannot be completed within a bounded
// search round, unpin and return the task to the general pool"). It should
// be called once per progress-loop iteration, not once per Attempt, so
// that rapid bursts of matching within one iteration don't age a cohort
// multiple times.
func (m *Matcher) Tick(w *wq.WQ) {
	limit := m.cfg.matchRounds()
	for seqno, co := range m.cohorts {
		co.rounds++
		if co.rounds >= limit {
			w.Requeue(co.t)
			delete(m.cohorts, seqno)
		}
	}
}

// advanceSoftFallback bumps RoundsTried on every pinned-less SOFT task
// still waiting in byTargetRank and, once a task has reached MatchRounds,
// demotes it to AnyRank so any acceptable worker may take it. The demotion
// happens by asking wq to re-target the task in place.
func (m *Matcher) advanceSoftFallback(w *wq.WQ) {
	limit := m.cfg.matchRounds()
	w.ForEachSoftTargeted(func(t *task.Task) {
		t.RoundsTried++
		if t.RoundsTried >= limit {
			w.Retarget(t.ID, task.AnyRank)
		}
	})
}

// PendingCohorts reports how many parallel-task cohorts are mid-assembly —
// used by the quiescence check (spec section 4.D: "all outstanding steals
// have drained" generalizes to all pinning activity having drained too).
func (m *Matcher) PendingCohorts() int { return len(m.cohorts) }
