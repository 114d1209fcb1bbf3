package adlb

import (
	"github.com/adlb-go/adlb/internal/match"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wire"
)

// This file encodes/decodes the server<->server control traffic (spec
// section 4.D): periodic summaries, steal requests/replies, and the
// termination-detection token. None of this carries a wire.Header prefix —
// control tags are already disjoint from RPC tags (constants.go), and the
// sender rank is available from interfaces.Message.Src.

func encodeSummary(sum match.Summary) []byte {
	var b []byte
	b = wire.PutUvint(b, uint64(len(sum.CountsByType)))
	for typ, cnt := range sum.CountsByType {
		b = wire.PutVint(b, int64(typ))
		b = wire.PutUvint(b, uint64(cnt))
		b = wire.PutVint(b, sum.MaxPriorityByType[typ])
	}
	return b
}

func decodeSummary(fromRank int, body []byte) (match.Summary, error) {
	sum := match.Summary{
		FromRank:          fromRank,
		CountsByType:      make(map[int]int),
		MaxPriorityByType: make(map[int]int64),
	}
	n, c, err := wire.Uvint(body)
	if err != nil {
		return sum, err
	}
	body = body[c:]
	for i := uint64(0); i < n; i++ {
		typ, c, err := wire.Vint(body)
		if err != nil {
			return sum, err
		}
		body = body[c:]
		cnt, c, err := wire.Uvint(body)
		if err != nil {
			return sum, err
		}
		body = body[c:]
		maxPri, c, err := wire.Vint(body)
		if err != nil {
			return sum, err
		}
		body = body[c:]
		sum.CountsByType[int(typ)] = int(cnt)
		sum.MaxPriorityByType[int(typ)] = maxPri
	}
	return sum, nil
}

func encodeStealRequest(req match.StealRequest) []byte {
	var b []byte
	b = wire.PutVint(b, int64(req.Type))
	b = wire.PutVint(b, req.MaxPriorityKnown)
	if req.HasAny {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

func decodeStealRequest(fromRank int, body []byte) (match.StealRequest, error) {
	req := match.StealRequest{FromRank: fromRank}
	typ, c, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[c:]
	maxPri, c, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[c:]
	if len(body) < 1 {
		return req, wire.ErrRecordTruncated
	}
	req.Type = int(typ)
	req.MaxPriorityKnown = maxPri
	req.HasAny = body[0] != 0
	return req, nil
}

// encodeStealReply encodes at most one stolen task — the steal protocol
// (internal/match.StealEngine.Answer) never hands back more than one per
// request.
func encodeStealReply(t *task.Task) []byte {
	if t == nil {
		return []byte{0}
	}
	var b []byte
	b = append(b, 1)
	b = wire.PutVint(b, t.ID)
	b = wire.PutVint(b, int64(t.Type))
	b = wire.PutVint(b, t.Priority)
	b = wire.PutUvint(b, uint64(t.Parallelism))
	b = wire.PutVint(b, int64(t.TargetRank))
	b = append(b, byte(t.TargetStrictness), byte(t.TargetAccuracy))
	b = wire.PutVint(b, int64(t.AnswerRank))
	b = wire.PutBytes(b, t.Payload)
	return b
}

func decodeStealReply(body []byte) (*task.Task, error) {
	if len(body) < 1 {
		return nil, wire.ErrRecordTruncated
	}
	if body[0] == 0 {
		return nil, nil
	}
	body = body[1:]
	id, n, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	typ, n, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	priority, n, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	parallelism, n, err := wire.Uvint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	targetRank, n, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	if len(body) < 2 {
		return nil, wire.ErrRecordTruncated
	}
	strictness := task.Strictness(body[0])
	accuracy := task.Accuracy(body[1])
	body = body[2:]
	answerRank, n, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	payload, _, err := wire.GetBytes(body)
	if err != nil {
		return nil, err
	}
	return &task.Task{
		ID:               id,
		Type:             int(typ),
		Priority:         priority,
		Parallelism:      int(parallelism),
		TargetRank:       int(targetRank),
		TargetStrictness: strictness,
		TargetAccuracy:   accuracy,
		AnswerRank:       int(answerRank),
		Payload:          append([]byte(nil), payload...),
	}, nil
}

func encodeToken(tok match.TokenValue) []byte {
	b := []byte{byte(tok.Phase)}
	if tok.AllClean {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

func decodeToken(body []byte) (match.TokenValue, error) {
	if len(body) < 2 {
		return match.TokenValue{}, wire.ErrRecordTruncated
	}
	return match.TokenValue{Phase: match.Phase(body[0]), AllClean: body[1] != 0}, nil
}

func encodeAbort(exitCode int) []byte {
	return wire.PutVint(nil, int64(exitCode))
}

func decodeAbort(body []byte) (int, error) {
	code, _, err := wire.Vint(body)
	return int(code), err
}
