package match

import (
	"time"

	"github.com/adlb-go/adlb/internal/rq"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wq"
)

// Summary is what each server periodically broadcasts to its peers (spec
// section 4.D): how many tasks of each type it holds and the best
// priority available for each.
type Summary struct {
	FromRank          int
	CountsByType      map[int]int
	MaxPriorityByType map[int]int64
}

// StealRequest asks the target server for tasks of Type at priority
// strictly greater than MaxPriorityKnown (or any, if the requester
// currently holds none of that type).
type StealRequest struct {
	FromRank       int
	Type           int
	MaxPriorityKnown int64
	HasAny           bool // requester holds at least one task of Type locally
}

// StealReply carries zero or more stolen tasks back to the requester.
type StealReply struct {
	ToRank int
	Tasks  []*task.Task
}

// StealEngine decides when this server should ask a peer for work and
// answers incoming requests from peers. Anti-thrashing: a server will not
// re-steal a task it itself sent away until the cooldown duration given to
// NewStealEngine has elapsed, measured in wall-clock time (spec section 4.D).
type StealEngine struct {
	selfRank       int
	cooldown       time.Duration
	recentlySent   map[int64]time.Time // seqno -> time this server gave it away
	lastSummaries  map[int]Summary     // peer rank -> last summary received
}

// NewStealEngine builds a StealEngine for selfRank. cooldown bounds how
// long a recently-stolen-away task is immune from being stolen right back.
func NewStealEngine(selfRank int, cooldown time.Duration) *StealEngine {
	return &StealEngine{
		selfRank:      selfRank,
		cooldown:      cooldown,
		recentlySent:  make(map[int64]time.Time),
		lastSummaries: make(map[int]Summary),
	}
}

// Summarize builds this server's outgoing Summary from w.
func (s *StealEngine) Summarize(w *wq.WQ, types []int) Summary {
	sum := Summary{
		FromRank:          s.selfRank,
		CountsByType:      make(map[int]int),
		MaxPriorityByType: make(map[int]int64),
	}
	for _, typ := range types {
		sum.CountsByType[typ] = w.CountAvailable(typ)
		if p, ok := w.MaxPriority(typ); ok {
			sum.MaxPriorityByType[typ] = p
		}
	}
	return sum
}

// ObserveSummary records a peer's summary for later steal decisions.
func (s *StealEngine) ObserveSummary(sum Summary) {
	s.lastSummaries[sum.FromRank] = sum
}

// PendingSteal pairs a StealRequest with the peer rank it should be sent
// to.
type PendingSteal struct {
	ToRank  int
	Request StealRequest
}

// DecideSteals inspects unmet local requests against known peer summaries
// and returns the steal requests this server should send this round. A
// server steals from a peer advertising strictly higher priority for a
// type this server has unmet requests for (or any task of that type if
// this server is locally empty for it).
func (s *StealEngine) DecideSteals(w *wq.WQ, r *rq.RQ, types []int) []PendingSteal {
	var out []PendingSteal
	for _, typ := range types {
		if r.CountAcceptingType(typ) == 0 {
			continue
		}
		localMax, localHasAny := w.MaxPriority(typ)

		var bestPeer int
		var bestPriority int64
		found := false
		for peer, sum := range s.lastSummaries {
			cnt, ok := sum.CountsByType[typ]
			if !ok || cnt == 0 {
				continue
			}
			peerMax := sum.MaxPriorityByType[typ]
			if localHasAny && peerMax <= localMax {
				continue
			}
			if !found || peerMax > bestPriority {
				found = true
				bestPeer = peer
				bestPriority = peerMax
			}
		}
		if found {
			out = append(out, PendingSteal{
				ToRank: bestPeer,
				Request: StealRequest{
					FromRank:         s.selfRank,
					Type:             typ,
					MaxPriorityKnown: localMax,
					HasAny:           localHasAny,
				},
			})
		}
	}
	return out
}

// Answer services an incoming StealRequest against this server's own
// queue, stealing at most one task (the highest-priority unpinned,
// untargeted candidate of the requested type that isn't under cooldown).
// Stolen tasks have their HomeServerRank updated to newHolder.
func (s *StealEngine) Answer(req StealRequest, w *wq.WQ, newHolder int, now time.Time) *task.Task {
	s.expireCooldowns(now)

	localMax, ok := w.MaxPriority(req.Type)
	if !ok {
		return nil
	}
	if req.HasAny && localMax <= req.MaxPriorityKnown {
		return nil
	}

	t, ok := w.TakeBestStealable(req.Type, s.recentlySent)
	if !ok {
		return nil
	}
	t.HomeServerRank = newHolder
	s.recentlySent[t.ID] = now
	return t
}

func (s *StealEngine) expireCooldowns(now time.Time) {
	for seqno, t := range s.recentlySent {
		if now.Sub(t) > s.cooldown {
			delete(s.recentlySent, seqno)
		}
	}
}
