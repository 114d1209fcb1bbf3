package adlb

import (
	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/store"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wire"
)

// This file encodes/decodes the body of every worker<->server RPC (spec
// section 6.2). Every body is prefixed by a wire.Header (worker rank, a
// per-worker sequence number, and the Op) written by the transport layer in
// server.go/client.go; what follows here is op-specific.

func encodePutRequest(typ int, priority int64, parallelism int, targetRank int, strictness task.Strictness, accuracy task.Accuracy, answerRank int, payload []byte) []byte {
	var b []byte
	b = wire.PutVint(b, int64(typ))
	b = wire.PutVint(b, priority)
	b = wire.PutUvint(b, uint64(parallelism))
	b = wire.PutVint(b, int64(targetRank))
	b = append(b, byte(strictness), byte(accuracy))
	b = wire.PutVint(b, int64(answerRank))
	b = wire.PutBytes(b, payload)
	return b
}

type putRequest struct {
	typ, targetRank, parallelism, answerRank int
	priority                                 int64
	strictness                               task.Strictness
	accuracy                                 task.Accuracy
	payload                                  []byte
}

func decodePutRequest(body []byte) (putRequest, error) {
	var req putRequest
	typ, n, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[n:]
	priority, n, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[n:]
	parallelism, n, err := wire.Uvint(body)
	if err != nil {
		return req, err
	}
	body = body[n:]
	targetRank, n, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[n:]
	if len(body) < 2 {
		return req, wire.ErrRecordTruncated
	}
	strictness := task.Strictness(body[0])
	accuracy := task.Accuracy(body[1])
	body = body[2:]
	answerRank, n, err := wire.Vint(body)
	if err != nil {
		return req, err
	}
	body = body[n:]
	payload, _, err := wire.GetBytes(body)
	if err != nil {
		return req, err
	}
	req.typ = int(typ)
	req.priority = priority
	req.parallelism = int(parallelism)
	req.targetRank = int(targetRank)
	req.strictness = strictness
	req.accuracy = accuracy
	req.answerRank = int(answerRank)
	req.payload = append([]byte(nil), payload...)
	return req, nil
}

func encodeStatusOK() []byte { return []byte{statusOK} }

func encodeStatusErr(code Code) []byte { return []byte{statusErr, byte(code)} }

// decodeStatus reports whether body starts with statusOK, the error code
// otherwise, and the remaining bytes.
func decodeStatus(body []byte) (ok bool, code Code, rest []byte) {
	if len(body) == 0 {
		return false, Fatal, nil
	}
	if body[0] == statusOK {
		return true, 0, body[1:]
	}
	if len(body) < 2 {
		return false, Fatal, nil
	}
	return false, Code(body[1]), body[2:]
}

func encodeGetRequest(acceptTypes []int, blocking bool) []byte {
	var b []byte
	b = wire.PutUvint(b, uint64(len(acceptTypes)))
	for _, t := range acceptTypes {
		b = wire.PutVint(b, int64(t))
	}
	if blocking {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

func decodeGetRequest(body []byte) ([]int, bool, error) {
	n, consumed, err := wire.Uvint(body)
	if err != nil {
		return nil, false, err
	}
	body = body[consumed:]
	types := make([]int, 0, n)
	for i := uint64(0); i < n; i++ {
		v, c, err := wire.Vint(body)
		if err != nil {
			return nil, false, err
		}
		body = body[c:]
		types = append(types, int(v))
	}
	if len(body) < 1 {
		return nil, false, wire.ErrRecordTruncated
	}
	return types, body[0] != 0, nil
}

// Dispatch is the task a worker receives from a successful Get (spec
// section 4.D): a decoded payload plus cohort membership for
// parallelism>1 tasks.
type Dispatch struct {
	Type       int
	Payload    []byte
	AnswerRank int
	GroupID    uint64
	GroupRank  int
	GroupSize  int
}

func encodeGetReplyDispatch(d Dispatch) []byte {
	var b []byte
	b = append(b, statusOK)
	b = wire.PutVint(b, int64(d.Type))
	b = wire.PutBytes(b, d.Payload)
	b = wire.PutVint(b, int64(d.AnswerRank))
	b = wire.PutUvint(b, d.GroupID)
	b = wire.PutUvint(b, uint64(d.GroupRank))
	b = wire.PutUvint(b, uint64(d.GroupSize))
	return b
}

func encodeGetReplyPending() []byte { return []byte{statusPending} }

func decodeGetReplyDispatch(body []byte) (Dispatch, error) {
	var d Dispatch
	typ, n, err := wire.Vint(body)
	if err != nil {
		return d, err
	}
	body = body[n:]
	payload, rest, err := wire.GetBytes(body)
	if err != nil {
		return d, err
	}
	body = rest
	answerRank, n, err := wire.Vint(body)
	if err != nil {
		return d, err
	}
	body = body[n:]
	groupID, n, err := wire.Uvint(body)
	if err != nil {
		return d, err
	}
	body = body[n:]
	groupRank, n, err := wire.Uvint(body)
	if err != nil {
		return d, err
	}
	body = body[n:]
	groupSize, _, err := wire.Uvint(body)
	if err != nil {
		return d, err
	}
	d.Type = int(typ)
	d.Payload = append([]byte(nil), payload...)
	d.AnswerRank = int(answerRank)
	d.GroupID = groupID
	d.GroupRank = int(groupRank)
	d.GroupSize = int(groupSize)
	return d, nil
}

func encodeCreateRequest(typ datum.Type, hint int64, permanent bool) []byte {
	var b []byte
	b = append(b, byte(typ))
	b = wire.PutVint(b, hint)
	if permanent {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

func decodeCreateRequest(body []byte) (datum.Type, int64, bool, error) {
	if len(body) < 1 {
		return 0, 0, false, wire.ErrRecordTruncated
	}
	typ := datum.Type(body[0])
	body = body[1:]
	hint, n, err := wire.Vint(body)
	if err != nil {
		return 0, 0, false, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, 0, false, wire.ErrRecordTruncated
	}
	return typ, hint, body[0] != 0, nil
}

func encodeIDReply(id int64) []byte {
	b := []byte{statusOK}
	return wire.PutVint(b, id)
}

func decodeIDReply(body []byte) (int64, error) {
	id, _, err := wire.Vint(body)
	return id, err
}

func encodeMultiCreateRequest(typ datum.Type, count int, permanent bool) []byte {
	var b []byte
	b = append(b, byte(typ))
	b = wire.PutUvint(b, uint64(count))
	if permanent {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return b
}

func decodeMultiCreateRequest(body []byte) (datum.Type, int, bool, error) {
	if len(body) < 1 {
		return 0, 0, false, wire.ErrRecordTruncated
	}
	typ := datum.Type(body[0])
	body = body[1:]
	count, n, err := wire.Uvint(body)
	if err != nil {
		return 0, 0, false, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, 0, false, wire.ErrRecordTruncated
	}
	return typ, int(count), body[0] != 0, nil
}

func encodeMultiCreateReply(ids []int64) []byte {
	b := []byte{statusOK}
	b = wire.PutUvint(b, uint64(len(ids)))
	if len(ids) > 0 {
		b = wire.PutVint(b, ids[0])
	}
	return b
}

func decodeMultiCreateReply(body []byte) ([]int64, error) {
	count, n, err := wire.Uvint(body)
	if err != nil {
		return nil, err
	}
	body = body[n:]
	if count == 0 {
		return nil, nil
	}
	first, _, err := wire.Vint(body)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, count)
	for i := range ids {
		ids[i] = first + int64(i)
	}
	return ids, nil
}

func encodeStoreRequest(id int64, typ datum.Type, value []byte, writeDecrement int64) []byte {
	var b []byte
	b = wire.PutVint(b, id)
	b = append(b, byte(typ))
	b = wire.PutBytes(b, value)
	b = wire.PutVint(b, writeDecrement)
	return b
}

func decodeStoreRequest(body []byte) (int64, datum.Type, []byte, int64, error) {
	id, n, err := wire.Vint(body)
	if err != nil {
		return 0, 0, nil, 0, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, 0, nil, 0, wire.ErrRecordTruncated
	}
	typ := datum.Type(body[0])
	body = body[1:]
	value, rest, err := wire.GetBytes(body)
	if err != nil {
		return 0, 0, nil, 0, err
	}
	body = rest
	writeDecrement, _, err := wire.Vint(body)
	if err != nil {
		return 0, 0, nil, 0, err
	}
	return id, typ, append([]byte(nil), value...), writeDecrement, nil
}

func encodeRetrieveRequest(id int64, mode store.RetrieveMode, readDecrement int64) []byte {
	var b []byte
	b = wire.PutVint(b, id)
	b = append(b, byte(mode))
	b = wire.PutVint(b, readDecrement)
	return b
}

func decodeRetrieveRequest(body []byte) (int64, store.RetrieveMode, int64, error) {
	id, n, err := wire.Vint(body)
	if err != nil {
		return 0, 0, 0, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, 0, 0, wire.ErrRecordTruncated
	}
	mode := store.RetrieveMode(body[0])
	body = body[1:]
	readDecrement, _, err := wire.Vint(body)
	if err != nil {
		return 0, 0, 0, err
	}
	return id, mode, readDecrement, nil
}

func encodeRetrieveReply(typ datum.Type, value []byte) []byte {
	b := []byte{statusOK, byte(typ)}
	return wire.PutBytes(b, value)
}

func decodeRetrieveReply(body []byte) (datum.Type, []byte, error) {
	if len(body) < 1 {
		return 0, nil, wire.ErrRecordTruncated
	}
	typ := datum.Type(body[0])
	value, _, err := wire.GetBytes(body[1:])
	if err != nil {
		return 0, nil, err
	}
	return typ, append([]byte(nil), value...), nil
}

func encodeSubscribeRequest(id int64, subscript []byte, hasSubscript bool) []byte {
	var b []byte
	b = wire.PutVint(b, id)
	if hasSubscript {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return wire.PutBytes(b, subscript)
}

func decodeSubscribeRequest(body []byte) (int64, []byte, bool, error) {
	id, n, err := wire.Vint(body)
	if err != nil {
		return 0, nil, false, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, nil, false, wire.ErrRecordTruncated
	}
	hasSubscript := body[0] != 0
	subscript, _, err := wire.GetBytes(body[1:])
	if err != nil {
		return 0, nil, false, err
	}
	return id, append([]byte(nil), subscript...), hasSubscript, nil
}

func encodeBoolReply(v bool) []byte {
	if v {
		return []byte{statusOK, 1}
	}
	return []byte{statusOK, 0}
}

func decodeBoolReply(body []byte) (bool, error) {
	if len(body) < 1 {
		return false, wire.ErrRecordTruncated
	}
	return body[0] != 0, nil
}

func encodeRefcountRequest(id int64, readDelta, writeDelta int64) []byte {
	var b []byte
	b = wire.PutVint(b, id)
	b = wire.PutVint(b, readDelta)
	b = wire.PutVint(b, writeDelta)
	return b
}

func decodeRefcountRequest(body []byte) (int64, int64, int64, error) {
	id, n, err := wire.Vint(body)
	if err != nil {
		return 0, 0, 0, err
	}
	body = body[n:]
	readDelta, n, err := wire.Vint(body)
	if err != nil {
		return 0, 0, 0, err
	}
	body = body[n:]
	writeDelta, _, err := wire.Vint(body)
	if err != nil {
		return 0, 0, 0, err
	}
	return id, readDelta, writeDelta, nil
}

func encodeExistsRequest(id int64, subscript []byte, hasSubscript bool) []byte {
	b := wire.PutVint(nil, id)
	if hasSubscript {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return wire.PutBytes(b, subscript)
}

func decodeExistsRequest(body []byte) (id int64, subscript []byte, hasSubscript bool, err error) {
	id, n, err := wire.Vint(body)
	if err != nil {
		return 0, nil, false, err
	}
	body = body[n:]
	if len(body) < 1 {
		return 0, nil, false, wire.ErrRecordTruncated
	}
	hasSubscript = body[0] != 0
	subscript, _, err = wire.GetBytes(body[1:])
	if err != nil {
		return 0, nil, false, err
	}
	return id, append([]byte(nil), subscript...), hasSubscript, nil
}

// Notification is the server-to-worker push delivered when a Subscribe
// condition becomes true (spec section 4.E.4).
type Notification struct {
	ID           int64
	Subscript    []byte
	HasSubscript bool
	Closed       bool
}

func encodeNotify(n Notification) []byte {
	var b []byte
	b = wire.PutVint(b, n.ID)
	flags := byte(0)
	if n.HasSubscript {
		flags |= 1
	}
	if n.Closed {
		flags |= 2
	}
	b = append(b, flags)
	return wire.PutBytes(b, n.Subscript)
}

func encodeFailRequest(exitCode int) []byte {
	return wire.PutVint(nil, int64(exitCode))
}

func decodeFailRequest(body []byte) (int, error) {
	code, _, err := wire.Vint(body)
	return int(code), err
}

func decodeNotify(body []byte) (Notification, error) {
	var n Notification
	id, c, err := wire.Vint(body)
	if err != nil {
		return n, err
	}
	body = body[c:]
	if len(body) < 1 {
		return n, wire.ErrRecordTruncated
	}
	flags := body[0]
	subscript, _, err := wire.GetBytes(body[1:])
	if err != nil {
		return n, err
	}
	n.ID = id
	n.HasSubscript = flags&1 != 0
	n.Closed = flags&2 != 0
	n.Subscript = append([]byte(nil), subscript...)
	return n, nil
}
