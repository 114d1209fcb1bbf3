package match

import "testing"

func TestTerminatorTwoPhaseQuiescence(t *testing.T) {
	coord := NewTerminator(0, 3)
	p1 := NewTerminator(1, 3)
	p2 := NewTerminator(2, 3)

	send, clean := coord.StartRound(true)
	if !send || !clean {
		t.Fatal("expected coordinator to start a round when locally idle")
	}

	tok := TokenValue{Phase: PhaseCounting, AllClean: true}
	fwd, term := p1.HandleToken(tok, true)
	if term || fwd == nil {
		t.Fatal("participant should forward during phase 1 without terminating")
	}
	fwd, term = p2.HandleToken(*fwd, true)
	if term || fwd == nil {
		t.Fatal("participant should forward during phase 1 without terminating")
	}
	fwd, term = coord.HandleToken(*fwd, true)
	if term || fwd == nil {
		t.Fatal("coordinator should start phase 2 (ack) after a clean phase 1")
	}
	if fwd.Phase != PhaseAcking {
		t.Fatalf("expected ack phase token, got %+v", fwd)
	}

	fwd, term = p1.HandleToken(*fwd, true)
	if term || fwd == nil {
		t.Fatal("participant should forward ack phase")
	}
	fwd, term = p2.HandleToken(*fwd, true)
	if !term {
		t.Error("last participant should detect termination on a clean ack phase token")
	}
	_, term = coord.HandleToken(*fwd, true)
	if !term || !coord.Quiescent() {
		t.Error("coordinator should declare quiescence after a clean ack phase completes")
	}
}

func TestTerminatorAbortsOnDirtyRound(t *testing.T) {
	coord := NewTerminator(0, 2)
	coord.StartRound(true)
	tok := TokenValue{Phase: PhaseCounting, AllClean: true}
	_, term := coord.HandleToken(tok, false)
	if term || coord.Quiescent() {
		t.Error("a server that is not locally idle should abort the round, not terminate")
	}
}
