package match

// Termination detection (spec section 4.D): a two-phase token-passing
// count-and-ack that resists in-flight messages. Server 0 is always the
// coordinator. Phase 1 (count): the coordinator circulates a token around
// every server; each server adds its local quiescence bit (empty WQ, RQ
// all-blocking, no pending cohorts/steals) and passes the token on. If the
// token returns to the coordinator with every bit still set, phase 2 (ack)
// circulates a second token to confirm no server produced new work while
// phase 1 was in flight; only if *both* phases complete clean does the
// coordinator declare quiescence and broadcast Shutdown.
// Phase identifies which half of the two-phase protocol a token belongs to.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCounting
	PhaseAcking
)

// Terminator runs the two-phase detection protocol on the coordinator
// (rank 0) and the participant side on every other server.
type Terminator struct {
	selfRank   int
	numServers int

	phase        Phase
	allClean     bool
	quiesced     bool
}

// NewTerminator builds a Terminator for a server of numServers total.
func NewTerminator(selfRank, numServers int) *Terminator {
	return &Terminator{selfRank: selfRank, numServers: numServers}
}

// Quiescent reports whether this server has confirmed global quiescence
// and should start answering Get with Shutdown.
func (t *Terminator) Quiescent() bool { return t.quiesced }

// LocallyIdle reports whether this server itself has no pending work:
// empty WQ, every RQ entry blocking, and no in-progress cohorts.
func LocallyIdle(wqEmpty, rqAllBlocking bool, pendingCohorts int) bool {
	return wqEmpty && rqAllBlocking && pendingCohorts == 0
}

// StartRound is called by the coordinator (rank 0) once it is itself
// locally idle, kicking off phase 1 if not already running.
func (t *Terminator) StartRound(locallyIdle bool) (sendToken bool, clean bool) {
	if t.selfRank != 0 || !locallyIdle || t.phase != PhaseIdle {
		return false, false
	}
	t.phase = PhaseCounting
	t.allClean = true
	return true, true
}

// TokenValue is what circulates: whether every server visited so far in
// this phase was locally idle.
type TokenValue struct {
	Phase    Phase
	AllClean bool
}

// HandleToken processes an incoming token (on a non-coordinator server, or
// on the coordinator when a circulated token returns). It returns the
// token to forward to the next server in the ring (nil if the round just
// concluded and nothing more should be sent), and whether this server
// should now treat the job as terminated.
func (t *Terminator) HandleToken(tok TokenValue, locallyIdle bool) (forward *TokenValue, terminate bool) {
	clean := tok.AllClean && locallyIdle

	if t.selfRank == 0 {
		switch tok.Phase {
		case PhaseCounting:
			if !clean {
				t.phase = PhaseIdle
				return nil, false
			}
			t.phase = PhaseAcking
			return &TokenValue{Phase: PhaseAcking, AllClean: true}, false
		case PhaseAcking:
			t.phase = PhaseIdle
			if clean {
				t.quiesced = true
			}
			return nil, t.quiesced
		}
		return nil, false
	}

	next := TokenValue{Phase: tok.Phase, AllClean: clean}
	if tok.Phase == PhaseAcking && clean {
		t.quiesced = true
	}
	return &next, t.quiesced
}

// Reset clears quiescence — used if a new task arrives after the job was
// thought to be draining but before Shutdown was actually declared.
func (t *Terminator) Reset() {
	t.phase = PhaseIdle
	t.allClean = false
	t.quiesced = false
}
