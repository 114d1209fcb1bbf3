package adlb

import (
	"bytes"
	"testing"

	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/store"
	"github.com/adlb-go/adlb/internal/task"
)

func TestPutRequestRoundTrip(t *testing.T) {
	want := encodePutRequest(3, -7, 2, 5, task.Soft, task.ByNode, 9, []byte("payload"))
	got, err := decodePutRequest(want)
	if err != nil {
		t.Fatalf("decodePutRequest: %v", err)
	}
	if got.typ != 3 || got.priority != -7 || got.parallelism != 2 || got.targetRank != 5 ||
		got.strictness != task.Soft || got.accuracy != task.ByNode || got.answerRank != 9 ||
		string(got.payload) != "payload" {
		t.Fatalf("decodePutRequest = %+v", got)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	ok, code, rest := decodeStatus(encodeStatusOK())
	if !ok || code != 0 || len(rest) != 0 {
		t.Fatalf("decodeStatus(OK) = %v, %v, %v", ok, code, rest)
	}

	ok, code, rest = decodeStatus(encodeStatusErr(NotFound))
	if ok || code != NotFound || len(rest) != 0 {
		t.Fatalf("decodeStatus(Err) = %v, %v, %v", ok, code, rest)
	}
}

func TestGetRequestRoundTrip(t *testing.T) {
	body := encodeGetRequest([]int{1, -2, 7}, false)
	types, blocking, err := decodeGetRequest(body)
	if err != nil {
		t.Fatalf("decodeGetRequest: %v", err)
	}
	if blocking {
		t.Fatalf("blocking = true, want false")
	}
	if len(types) != 3 || types[0] != 1 || types[1] != -2 || types[2] != 7 {
		t.Fatalf("types = %v", types)
	}
}

func TestGetReplyDispatchRoundTrip(t *testing.T) {
	d := Dispatch{Type: 4, Payload: []byte("task"), AnswerRank: 2, GroupID: 99, GroupRank: 1, GroupSize: 3}
	body := encodeGetReplyDispatch(d)
	if body[0] != statusOK {
		t.Fatalf("leading byte = %d, want statusOK", body[0])
	}
	got, err := decodeGetReplyDispatch(body[1:])
	if err != nil {
		t.Fatalf("decodeGetReplyDispatch: %v", err)
	}
	if got.Type != d.Type || !bytes.Equal(got.Payload, d.Payload) || got.AnswerRank != d.AnswerRank ||
		got.GroupID != d.GroupID || got.GroupRank != d.GroupRank || got.GroupSize != d.GroupSize {
		t.Fatalf("decodeGetReplyDispatch = %+v, want %+v", got, d)
	}
}

func TestCreateRequestRoundTrip(t *testing.T) {
	body := encodeCreateRequest(datum.Container, 42, true)
	typ, hint, permanent, err := decodeCreateRequest(body)
	if err != nil {
		t.Fatalf("decodeCreateRequest: %v", err)
	}
	if typ != datum.Container || hint != 42 || !permanent {
		t.Fatalf("decodeCreateRequest = %v, %v, %v", typ, hint, permanent)
	}
}

func TestMultiCreateReplyRoundTrip(t *testing.T) {
	ids, err := decodeMultiCreateReply(encodeMultiCreateReply([]int64{100, 101, 102})[1:])
	if err != nil {
		t.Fatalf("decodeMultiCreateReply: %v", err)
	}
	want := []int64{100, 101, 102}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids[%d] = %d, want %d", i, ids[i], want[i])
		}
	}
}

func TestMultiCreateReplyEmpty(t *testing.T) {
	ids, err := decodeMultiCreateReply(encodeMultiCreateReply(nil)[1:])
	if err != nil {
		t.Fatalf("decodeMultiCreateReply: %v", err)
	}
	if ids != nil {
		t.Fatalf("ids = %v, want nil", ids)
	}
}

func TestStoreRequestRoundTrip(t *testing.T) {
	body := encodeStoreRequest(77, datum.String, []byte("value"), -3)
	id, typ, value, writeDecrement, err := decodeStoreRequest(body)
	if err != nil {
		t.Fatalf("decodeStoreRequest: %v", err)
	}
	if id != 77 || typ != datum.String || string(value) != "value" || writeDecrement != -3 {
		t.Fatalf("decodeStoreRequest = %v, %v, %v, %v", id, typ, value, writeDecrement)
	}
}

func TestRetrieveRequestReplyRoundTrip(t *testing.T) {
	reqBody := encodeRetrieveRequest(12, store.NoRC, 5)
	id, mode, readDecrement, err := decodeRetrieveRequest(reqBody)
	if err != nil {
		t.Fatalf("decodeRetrieveRequest: %v", err)
	}
	if id != 12 || mode != store.NoRC || readDecrement != 5 {
		t.Fatalf("decodeRetrieveRequest = %v, %v, %v", id, mode, readDecrement)
	}

	replyBody := encodeRetrieveReply(datum.Float, []byte("1.5"))
	typ, value, err := decodeRetrieveReply(replyBody[1:])
	if err != nil {
		t.Fatalf("decodeRetrieveReply: %v", err)
	}
	if typ != datum.Float || string(value) != "1.5" {
		t.Fatalf("decodeRetrieveReply = %v, %v", typ, value)
	}
}

func TestSubscribeRequestRoundTrip(t *testing.T) {
	body := encodeSubscribeRequest(8, []byte("key"), true)
	id, subscript, hasSubscript, err := decodeSubscribeRequest(body)
	if err != nil {
		t.Fatalf("decodeSubscribeRequest: %v", err)
	}
	if id != 8 || string(subscript) != "key" || !hasSubscript {
		t.Fatalf("decodeSubscribeRequest = %v, %v, %v", id, subscript, hasSubscript)
	}
}

func TestExistsRequestRoundTrip(t *testing.T) {
	body := encodeExistsRequest(55, nil, false)
	id, subscript, hasSubscript, err := decodeExistsRequest(body)
	if err != nil {
		t.Fatalf("decodeExistsRequest: %v", err)
	}
	if id != 55 || hasSubscript || len(subscript) != 0 {
		t.Fatalf("decodeExistsRequest = %v, %v, %v", id, subscript, hasSubscript)
	}
}

func TestNotifyRoundTrip(t *testing.T) {
	want := Notification{ID: 21, Subscript: []byte("sub"), HasSubscript: true, Closed: true}
	got, err := decodeNotify(encodeNotify(want))
	if err != nil {
		t.Fatalf("decodeNotify: %v", err)
	}
	if got.ID != want.ID || !bytes.Equal(got.Subscript, want.Subscript) ||
		got.HasSubscript != want.HasSubscript || got.Closed != want.Closed {
		t.Fatalf("decodeNotify = %+v, want %+v", got, want)
	}
}

func TestFailRequestRoundTrip(t *testing.T) {
	code, err := decodeFailRequest(encodeFailRequest(-11))
	if err != nil {
		t.Fatalf("decodeFailRequest: %v", err)
	}
	if code != -11 {
		t.Fatalf("code = %d, want -11", code)
	}
}

func TestBoolReplyRoundTrip(t *testing.T) {
	for _, want := range []bool{true, false} {
		got, err := decodeBoolReply(encodeBoolReply(want)[1:])
		if err != nil {
			t.Fatalf("decodeBoolReply: %v", err)
		}
		if got != want {
			t.Fatalf("decodeBoolReply = %v, want %v", got, want)
		}
	}
}
