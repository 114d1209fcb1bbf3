package adlb

import (
	"context"
	"time"

	"github.com/adlb-go/adlb/internal/interfaces"
	"github.com/adlb-go/adlb/internal/logging"
	"github.com/adlb-go/adlb/internal/match"
	"github.com/adlb-go/adlb/internal/rq"
	"github.com/adlb-go/adlb/internal/store"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/uring"
	"github.com/adlb-go/adlb/internal/wire"
	"github.com/adlb-go/adlb/internal/wq"
	"github.com/adlb-go/adlb/internal/xpt"
)

// tickInterval paces the matcher's cohort-aging, steal-summary broadcast,
// and termination-round checks — one progress-loop housekeeping beat (spec
// section 4.D's "periodic" summary/steal cadence).
const tickInterval = 10 * time.Millisecond

// stealCooldown bounds how long a task stays immune from being stolen back
// right after this server gave it away (spec section 4.D anti-thrashing).
const stealCooldown = 2 * time.Second

// Server bundles one server rank's entire state — work queue, request
// queue, matcher, steal engine, termination detector, data store shard,
// and optional checkpoint writer — behind a single-threaded progress loop
// (spec section 5/9: "bundle all per-server state in one value owned by
// the progress loop", generalizing go-ublk's Runner.ioLoop goroutine-owns-
// all-mutable-state pattern from one device to one server rank).
type Server struct {
	comm        interfaces.Comm
	rank        int // world rank
	serverBase  int // world rank of server index 0
	numServers  int
	serverIndex int // rank - serverBase

	wq      *wq.WQ
	rq      *rq.RQ
	matcher *match.Matcher
	steal   *match.StealEngine
	term    *match.Terminator
	store   *store.Store

	xptWriter *xpt.Writer

	metrics  *Metrics
	observer interfaces.Observer
	logger   *logging.Logger

	acceptTypes []int

	expectedWorkers  int
	finalizedWorkers map[int]bool

	aborted       bool
	abortExitCode int

	cfg Config
}

func newServer(comm interfaces.Comm, rank, serverBase, numServers, serverIndex, expectedWorkers int, acceptTypes []int, cfg Config) *Server {
	s := &Server{
		comm:             comm,
		rank:             rank,
		serverBase:       serverBase,
		numServers:       numServers,
		serverIndex:      serverIndex,
		wq:               wq.New(wq.Config{}),
		rq:               rq.New(),
		matcher:          match.New(cfg.matchConfig(), nil),
		steal:            match.NewStealEngine(rank, stealCooldown),
		term:             match.NewTerminator(serverIndex, numServers),
		store:            store.New(rank, idRangeStart(serverIndex), IDRangeSize, cfg.CacheEntries, cfg.CacheBytes),
		acceptTypes:      acceptTypes,
		expectedWorkers:  expectedWorkers,
		finalizedWorkers: make(map[int]bool),
		cfg:              cfg,
	}

	metrics := NewMetrics()
	s.metrics = metrics
	s.observer = NewMetricsObserver(metrics)
	s.logger = logging.FromEnv(rank).WithOp("server")

	if cfg.XPTPath != "" {
		ring, err := uring.Open(uring.Config{Path: cfg.XPTPath, Entries: 128})
		if err != nil {
			s.logger.Errorf("xpt open %q failed, checkpointing disabled: %v", cfg.XPTPath, err)
		} else if w, werr := xpt.NewWriter(ring, cfg.XPTBlockSize, numServers, serverIndex, cfg.XPTPeriodicFlush); werr != nil {
			s.logger.Errorf("xpt writer init failed, checkpointing disabled: %v", werr)
		} else {
			s.xptWriter = w
		}
	}

	for _, tag := range []uint16{
		tagPut, tagGet, tagCreate, tagMultiCreate, tagStore, tagRetrieve,
		tagSubscribe, tagRefcountIncr, tagExists, tagUniqueID, tagFinalize, tagFail,
		tagSummary, tagStealReq, tagStealReply, tagTermToken, tagAbort,
	} {
		comm.PostIrecv(tag)
	}
	return s
}

// Metrics exposes this server's running operational counters (ADLB_PRINT_TIME).
func (s *Server) Metrics() *Metrics { return s.metrics }

// Quiescent reports whether this server has confirmed the job is done.
func (s *Server) Quiescent() bool { return s.term.Quiescent() }

// Close flushes and releases the checkpoint writer, if any, and stamps the
// metrics stop time.
func (s *Server) Close() error {
	s.metrics.Stop()
	if s.xptWriter != nil {
		return s.xptWriter.Close()
	}
	return nil
}

// Run drives the progress loop until ctx is canceled or the termination
// ring declares global quiescence (spec section 4.D). It is the single
// goroutine that ever touches this server's queues, matcher, or store —
// every handler below runs to completion before the next select iteration,
// so none of those types need their own locking.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-s.comm.Inbox(tagPut):
			s.handlePut(ctx, m)
		case m := <-s.comm.Inbox(tagGet):
			s.handleGet(ctx, m)
		case m := <-s.comm.Inbox(tagCreate):
			s.handleCreate(ctx, m)
		case m := <-s.comm.Inbox(tagMultiCreate):
			s.handleMultiCreate(ctx, m)
		case m := <-s.comm.Inbox(tagStore):
			s.handleStore(ctx, m)
		case m := <-s.comm.Inbox(tagRetrieve):
			s.handleRetrieve(ctx, m)
		case m := <-s.comm.Inbox(tagSubscribe):
			s.handleSubscribe(ctx, m)
		case m := <-s.comm.Inbox(tagRefcountIncr):
			s.handleRefcountIncr(ctx, m)
		case m := <-s.comm.Inbox(tagExists):
			s.handleExists(ctx, m)
		case m := <-s.comm.Inbox(tagUniqueID):
			s.handleUniqueID(ctx, m)
		case m := <-s.comm.Inbox(tagFinalize):
			s.handleFinalize(ctx, m)
		case m := <-s.comm.Inbox(tagFail):
			s.handleFail(ctx, m)
		case m := <-s.comm.Inbox(tagSummary):
			s.handleSummary(m)
		case m := <-s.comm.Inbox(tagStealReq):
			s.handleStealRequest(ctx, m)
		case m := <-s.comm.Inbox(tagStealReply):
			s.handleStealReply(ctx, m)
		case m := <-s.comm.Inbox(tagTermToken):
			s.handleTermToken(ctx, m)
		case m := <-s.comm.Inbox(tagAbort):
			s.handleAbort(m)
		case <-ticker.C:
			s.onTick(ctx)
		}

		if s.term.Quiescent() {
			return nil
		}
	}
}

func (s *Server) onTick(ctx context.Context) {
	s.matcher.Tick(s.wq)

	if s.aborted {
		return
	}

	s.broadcastSummary(ctx, s.steal.Summarize(s.wq, s.acceptTypes))
	for _, ps := range s.steal.DecideSteals(s.wq, s.rq, s.acceptTypes) {
		s.sendReply(ctx, ps.ToRank, tagStealReq, encodeStealRequest(ps.Request))
	}

	if s.serverIndex == 0 {
		locallyIdle := s.locallyIdle()
		if send, _ := s.term.StartRound(locallyIdle); send {
			s.sendToken(ctx, match.TokenValue{Phase: match.PhaseCounting, AllClean: true})
		}
	}
}

func (s *Server) locallyIdle() bool {
	return match.LocallyIdle(s.wq.Empty(), s.rq.AllBlocking(), s.matcher.PendingCohorts()) && s.allWorkersFinalized()
}

func (s *Server) allWorkersFinalized() bool {
	return len(s.finalizedWorkers) >= s.expectedWorkers
}

func (s *Server) sendToken(ctx context.Context, tok match.TokenValue) {
	next := s.serverBase + (s.serverIndex+1)%s.numServers
	s.sendReply(ctx, next, tagTermToken, encodeToken(tok))
}

func (s *Server) handleTermToken(ctx context.Context, m interfaces.Message) {
	tok, err := decodeToken(m.Body)
	if err != nil {
		s.logger.Errorf("bad termination token from %d: %v", m.Src, err)
		return
	}
	wasQuiescent := s.term.Quiescent()
	forward, _ := s.term.HandleToken(tok, s.locallyIdle())
	if forward != nil {
		s.sendToken(ctx, *forward)
	}
	if !wasQuiescent && s.term.Quiescent() {
		s.logger.Infof("quiescence declared")
		s.shutdownAllBlocked(ctx)
	}
}

// shutdownAllBlocked answers every worker still parked in RQ with Shutdown
// once global quiescence is confirmed (spec section 6.2's Get semantics:
// "a Get while the ring has declared quiescence replies Shutdown").
func (s *Server) shutdownAllBlocked(ctx context.Context) {
	for _, req := range s.rq.Snapshot() {
		s.rq.PopByRank(req.WorkerRank)
		s.sendReply(ctx, req.WorkerRank, tagGetReply, encodeStatusErr(Shutdown))
	}
}

func (s *Server) handleAbort(m interfaces.Message) {
	exitCode, err := decodeAbort(m.Body)
	if err != nil {
		s.logger.Errorf("bad abort from %d: %v", m.Src, err)
		return
	}
	if s.aborted {
		return
	}
	s.aborted = true
	s.abortExitCode = exitCode
	s.logger.Errorf("abort propagated from server %d, exit code %d", m.Src, exitCode)
}

func (s *Server) handleSummary(m interfaces.Message) {
	sum, err := decodeSummary(m.Src, m.Body)
	if err != nil {
		s.logger.Errorf("bad summary from %d: %v", m.Src, err)
		return
	}
	s.steal.ObserveSummary(sum)
}

func (s *Server) broadcastSummary(ctx context.Context, sum match.Summary) {
	body := encodeSummary(sum)
	for peerIdx := 0; peerIdx < s.numServers; peerIdx++ {
		if peerIdx == s.serverIndex {
			continue
		}
		s.sendReply(ctx, s.serverBase+peerIdx, tagSummary, body)
	}
}

func (s *Server) handleStealRequest(ctx context.Context, m interfaces.Message) {
	req, err := decodeStealRequest(m.Src, m.Body)
	if err != nil {
		s.logger.Errorf("bad steal request from %d: %v", m.Src, err)
		return
	}
	t := s.steal.Answer(req, s.wq, m.Src, time.Now())
	stolen := 0
	if t != nil {
		stolen = 1
	}
	s.observer.ObserveSteal(stolen, t != nil)
	s.sendReply(ctx, m.Src, tagStealReply, encodeStealReply(t))
}

func (s *Server) handleStealReply(ctx context.Context, m interfaces.Message) {
	t, err := decodeStealReply(m.Body)
	if err != nil {
		s.logger.Errorf("bad steal reply from %d: %v", m.Src, err)
		return
	}
	if t == nil {
		return
	}
	if _, err := s.wq.Put(t, s.rank); err != nil {
		s.logger.Errorf("enqueue stolen task: %v", err)
		return
	}
	s.dispatchAll(ctx, s.matcher.Attempt(s.wq, s.rq))
}

func (s *Server) sendReply(ctx context.Context, dest int, tag uint16, body []byte) {
	if err := s.comm.Isend(ctx, dest, tag, body); err != nil {
		s.logger.Errorf("send tag=%d dest=%d: %v", tag, dest, err)
	}
}

func (s *Server) errReply(err error) []byte {
	var e *Error
	if asError(err, &e) {
		raiseFatal(err)
		return encodeStatusErr(e.Code)
	}
	return encodeStatusErr(Fatal)
}

func (s *Server) dispatchAll(ctx context.Context, dispatches []match.Dispatch) {
	for _, d := range dispatches {
		body := encodeGetReplyDispatch(Dispatch{
			Type:       d.Task.Type,
			Payload:    d.Task.Payload,
			AnswerRank: d.Task.AnswerRank,
			GroupID:    d.GroupID,
			GroupRank:  d.GroupRank,
			GroupSize:  d.GroupSize,
		})
		s.sendReply(ctx, d.WorkerRank, tagGetReply, body)
	}
}

// drainAndDispatchNotifications turns every store-produced Notification
// into a CONTROL-typed, HARD-targeted task pushed onto this server's own
// Work Queue (spec section 4.E.4) and immediately tries to match it —
// the data store never calls into wq directly (internal/store's doc
// comment), so the progress loop performs this conversion after every
// handler that might have produced one.
func (s *Server) drainAndDispatchNotifications(ctx context.Context) {
	notifications := s.store.DrainNotifications()
	for _, n := range notifications {
		start := time.Now()
		payload := encodeNotify(Notification{
			ID:           n.ID,
			Subscript:    n.Subscript,
			HasSubscript: n.HasSubscript,
			Closed:       n.Event == store.EventClosed,
		})
		t := &task.Task{
			Type:             ControlType,
			Parallelism:      1,
			TargetRank:       n.WorkerRank,
			TargetStrictness: task.Hard,
			TargetAccuracy:   task.ByRank,
			Payload:          payload,
		}
		if _, err := s.wq.Put(t, s.rank); err != nil {
			s.logger.Errorf("notify enqueue failed for worker %d: %v", n.WorkerRank, err)
			s.observer.ObserveNotify(uint64(time.Since(start)), false)
			continue
		}
		s.observer.ObserveNotify(uint64(time.Since(start)), true)
	}
	if len(notifications) > 0 {
		s.dispatchAll(ctx, s.matcher.Attempt(s.wq, s.rq))
	}
}

func (s *Server) handlePut(ctx context.Context, m interfaces.Message) {
	start := time.Now()
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		s.logger.Errorf("Put: bad header from %d: %v", m.Src, herr)
		return
	}
	req, err := decodePutRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagPutReply, encodeStatusErr(Fatal))
		s.observer.ObservePut(0, uint64(time.Since(start)), false)
		return
	}
	if s.aborted {
		s.sendReply(ctx, int(h.WorkerRank), tagPutReply, encodeStatusErr(Fatal))
		s.observer.ObservePut(uint64(len(req.payload)), uint64(time.Since(start)), false)
		return
	}

	parallelism := req.parallelism
	if parallelism <= 0 {
		parallelism = 1
	}
	t := &task.Task{
		Type:             req.typ,
		Priority:         req.priority,
		Parallelism:      parallelism,
		TargetRank:       req.targetRank,
		TargetStrictness: req.strictness,
		TargetAccuracy:   req.accuracy,
		AnswerRank:       req.answerRank,
		Payload:          req.payload,
	}
	if _, err := s.wq.Put(t, s.rank); err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagPutReply, s.errReply(err))
		s.observer.ObservePut(uint64(len(req.payload)), uint64(time.Since(start)), false)
		return
	}

	s.dispatchAll(ctx, s.matcher.Attempt(s.wq, s.rq))
	s.sendReply(ctx, int(h.WorkerRank), tagPutReply, encodeStatusOK())
	s.observer.ObservePut(uint64(len(req.payload)), uint64(time.Since(start)), true)
}

func (s *Server) handleGet(ctx context.Context, m interfaces.Message) {
	start := time.Now()
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		s.logger.Errorf("Get: bad header from %d: %v", m.Src, herr)
		return
	}
	acceptTypes, blocking, err := decodeGetRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagGetReply, encodeStatusErr(Fatal))
		return
	}

	workerRank := int(h.WorkerRank)
	if s.aborted {
		s.sendReply(ctx, workerRank, tagGetReply, encodeStatusErr(Fatal))
		s.observer.ObserveGet(uint64(time.Since(start)), false)
		return
	}
	if s.term.Quiescent() {
		s.sendReply(ctx, workerRank, tagGetReply, encodeStatusErr(Shutdown))
		return
	}

	s.rq.Push(&task.Request{WorkerRank: workerRank, AcceptTypes: acceptTypes, Blocking: blocking})
	dispatches := s.matcher.Attempt(s.wq, s.rq)

	matched := false
	for _, d := range dispatches {
		if d.WorkerRank == workerRank {
			matched = true
		}
	}
	s.dispatchAll(ctx, dispatches)

	if !matched && !blocking {
		s.rq.PopByRank(workerRank)
		s.sendReply(ctx, workerRank, tagGetReply, encodeGetReplyPending())
	}
	s.observer.ObserveGet(uint64(time.Since(start)), matched)
}

func (s *Server) handleCreate(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	typ, hint, permanent, err := decodeCreateRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagCreateReply, encodeStatusErr(Fatal))
		return
	}
	id, err := s.store.Create(typ, hint, permanent)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagCreateReply, s.errReply(err))
		return
	}
	s.sendReply(ctx, int(h.WorkerRank), tagCreateReply, encodeIDReply(id))
}

func (s *Server) handleMultiCreate(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	typ, count, permanent, err := decodeMultiCreateRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagMultiCreateReply, encodeStatusErr(Fatal))
		return
	}
	ids, err := s.store.MultiCreate(typ, count, permanent)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagMultiCreateReply, s.errReply(err))
		return
	}
	s.sendReply(ctx, int(h.WorkerRank), tagMultiCreateReply, encodeMultiCreateReply(ids))
}

func (s *Server) handleStore(ctx context.Context, m interfaces.Message) {
	start := time.Now()
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	id, typ, value, writeDecrement, err := decodeStoreRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagStoreReply, encodeStatusErr(Fatal))
		return
	}

	err = s.store.Store(id, typ, value, writeDecrement)
	success := err == nil
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagStoreReply, s.errReply(err))
	} else {
		s.sendReply(ctx, int(h.WorkerRank), tagStoreReply, encodeStatusOK())
	}
	s.observer.ObserveStore(uint64(len(value)), uint64(time.Since(start)), success)

	if success && s.xptWriter != nil {
		xstart := time.Now()
		if _, werr := s.xptWriter.WriteRecord(wire.PutVint(nil, id), value); werr != nil {
			s.logger.Errorf("xpt WriteRecord id=%d: %v", id, werr)
			s.observer.ObserveXptRecord(uint64(len(value)), uint64(time.Since(xstart)), false)
		} else {
			s.observer.ObserveXptRecord(uint64(len(value)), uint64(time.Since(xstart)), true)
		}
	}

	s.drainAndDispatchNotifications(ctx)
}

func (s *Server) handleRetrieve(ctx context.Context, m interfaces.Message) {
	start := time.Now()
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	id, mode, readDecrement, err := decodeRetrieveRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagRetrieveReply, encodeStatusErr(Fatal))
		return
	}

	typ, value, err := s.store.Retrieve(id, mode, readDecrement)
	success := err == nil
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagRetrieveReply, s.errReply(err))
	} else {
		s.sendReply(ctx, int(h.WorkerRank), tagRetrieveReply, encodeRetrieveReply(typ, value))
	}
	s.observer.ObserveRetrieve(uint64(len(value)), uint64(time.Since(start)), success)
	s.drainAndDispatchNotifications(ctx)
}

func (s *Server) handleSubscribe(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	id, subscript, hasSubscript, err := decodeSubscribeRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagSubscribeReply, encodeStatusErr(Fatal))
		return
	}
	ready, err := s.store.Subscribe(int(h.WorkerRank), id, subscript, hasSubscript)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagSubscribeReply, s.errReply(err))
		return
	}
	s.sendReply(ctx, int(h.WorkerRank), tagSubscribeReply, encodeBoolReply(ready))
}

func (s *Server) handleRefcountIncr(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	id, readDelta, writeDelta, err := decodeRefcountRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagRefcountReply, encodeStatusErr(Fatal))
		return
	}
	if err := s.store.RefcountIncr(id, readDelta, writeDelta); err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagRefcountReply, s.errReply(err))
		s.drainAndDispatchNotifications(ctx)
		return
	}
	s.sendReply(ctx, int(h.WorkerRank), tagRefcountReply, encodeStatusOK())
	s.drainAndDispatchNotifications(ctx)
}

func (s *Server) handleExists(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	id, subscript, hasSubscript, err := decodeExistsRequest(body)
	if err != nil {
		s.sendReply(ctx, int(h.WorkerRank), tagExistsReply, encodeStatusErr(Fatal))
		return
	}

	var exists bool
	if hasSubscript {
		exists, err = s.store.ExistsSubscript(id, subscript)
		if err != nil {
			s.sendReply(ctx, int(h.WorkerRank), tagExistsReply, s.errReply(err))
			return
		}
	} else {
		exists = s.store.Exists(id)
	}
	s.sendReply(ctx, int(h.WorkerRank), tagExistsReply, encodeBoolReply(exists))
}

func (s *Server) handleUniqueID(ctx context.Context, m interfaces.Message) {
	h, _, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	s.sendReply(ctx, int(h.WorkerRank), tagUniqueIDReply, encodeIDReply(s.store.AllocateID()))
}

func (s *Server) handleFinalize(ctx context.Context, m interfaces.Message) {
	h, _, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	s.finalizedWorkers[int(h.WorkerRank)] = true
	s.logger.Infof("worker %d finalized (%d/%d)", h.WorkerRank, len(s.finalizedWorkers), s.expectedWorkers)
	s.sendReply(ctx, int(h.WorkerRank), tagFinalizeReply, encodeStatusOK())
}

func (s *Server) handleFail(ctx context.Context, m interfaces.Message) {
	h, body, herr := wire.UnmarshalHeader(m.Body)
	if herr != nil {
		return
	}
	exitCode, err := decodeFailRequest(body)
	if err != nil {
		exitCode = int(Fatal)
	}
	s.logger.Errorf("worker %d called Fail, exit code %d: aborting job", h.WorkerRank, exitCode)
	s.aborted = true
	s.abortExitCode = exitCode

	for peerIdx := 0; peerIdx < s.numServers; peerIdx++ {
		if peerIdx == s.serverIndex {
			continue
		}
		s.sendReply(ctx, s.serverBase+peerIdx, tagAbort, encodeAbort(exitCode))
	}
	s.sendReply(ctx, int(h.WorkerRank), tagFailReply, encodeStatusOK())
}
