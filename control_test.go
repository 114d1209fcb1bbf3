package adlb

import (
	"bytes"
	"testing"

	"github.com/adlb-go/adlb/internal/match"
	"github.com/adlb-go/adlb/internal/task"
)

func TestSummaryRoundTrip(t *testing.T) {
	sum := match.Summary{
		FromRank:          3,
		CountsByType:      map[int]int{0: 5, 1: 2},
		MaxPriorityByType: map[int]int64{0: 10, 1: -4},
	}
	got, err := decodeSummary(3, encodeSummary(sum))
	if err != nil {
		t.Fatalf("decodeSummary: %v", err)
	}
	if got.FromRank != 3 || len(got.CountsByType) != 2 || got.CountsByType[0] != 5 || got.CountsByType[1] != 2 ||
		got.MaxPriorityByType[0] != 10 || got.MaxPriorityByType[1] != -4 {
		t.Fatalf("decodeSummary = %+v", got)
	}
}

func TestStealRequestRoundTrip(t *testing.T) {
	req := match.StealRequest{Type: 2, MaxPriorityKnown: 9, HasAny: true}
	got, err := decodeStealRequest(6, encodeStealRequest(req))
	if err != nil {
		t.Fatalf("decodeStealRequest: %v", err)
	}
	if got.FromRank != 6 || got.Type != 2 || got.MaxPriorityKnown != 9 || !got.HasAny {
		t.Fatalf("decodeStealRequest = %+v", got)
	}
}

func TestStealReplyRoundTripEmpty(t *testing.T) {
	got, err := decodeStealReply(encodeStealReply(nil))
	if err != nil {
		t.Fatalf("decodeStealReply: %v", err)
	}
	if got != nil {
		t.Fatalf("decodeStealReply = %+v, want nil", got)
	}
}

func TestStealReplyRoundTripTask(t *testing.T) {
	want := &task.Task{
		ID: 4, Type: 1, Priority: -2, Parallelism: 3, TargetRank: 7,
		TargetStrictness: task.Node, TargetAccuracy: task.ByNode, AnswerRank: 2,
		Payload: []byte("x"),
	}
	got, err := decodeStealReply(encodeStealReply(want))
	if err != nil {
		t.Fatalf("decodeStealReply: %v", err)
	}
	if got == nil {
		t.Fatalf("decodeStealReply = nil, want a task")
	}
	if got.ID != want.ID || got.Type != want.Type || got.Priority != want.Priority ||
		got.Parallelism != want.Parallelism || got.TargetRank != want.TargetRank ||
		got.TargetStrictness != want.TargetStrictness || got.TargetAccuracy != want.TargetAccuracy ||
		got.AnswerRank != want.AnswerRank || !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("decodeStealReply = %+v, want %+v", got, want)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	got, err := decodeToken(encodeToken(match.TokenValue{Phase: match.PhaseAcking, AllClean: true}))
	if err != nil {
		t.Fatalf("decodeToken: %v", err)
	}
	if got.Phase != match.PhaseAcking || !got.AllClean {
		t.Fatalf("decodeToken = %+v", got)
	}
}

func TestAbortRoundTrip(t *testing.T) {
	code, err := decodeAbort(encodeAbort(-5))
	if err != nil {
		t.Fatalf("decodeAbort: %v", err)
	}
	if code != -5 {
		t.Fatalf("code = %d, want -5", code)
	}
}
