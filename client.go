package adlb

import (
	"context"

	"github.com/adlb-go/adlb/internal/datum"
	"github.com/adlb-go/adlb/internal/interfaces"
	"github.com/adlb-go/adlb/internal/store"
	"github.com/adlb-go/adlb/internal/task"
	"github.com/adlb-go/adlb/internal/wire"
)

// Client is the worker-side RPC handle returned by Init (spec section
// 6.2's worker-facing operation table). It is not safe for concurrent use
// from multiple goroutines on the same worker rank — like a server, a
// worker is expected to drive its own RPCs from a single call site at a
// time, since every reply arrives on a shared per-op-type channel keyed
// only by tag, not by an in-flight request id.
type Client struct {
	comm       interfaces.Comm
	homeServer int // world rank of this worker's home server
	serverBase int
	numServers int
	seqno      uint64
}

func newClient(comm interfaces.Comm, homeServer, serverBase, numServers int) *Client {
	c := &Client{comm: comm, homeServer: homeServer, serverBase: serverBase, numServers: numServers}
	for _, tag := range []uint16{
		tagPutReply, tagGetReply, tagCreateReply, tagMultiCreateReply, tagStoreReply,
		tagRetrieveReply, tagSubscribeReply, tagRefcountReply, tagExistsReply,
		tagUniqueIDReply, tagFinalizeReply, tagFailReply,
	} {
		comm.PostIrecv(tag)
	}
	return c
}

func (c *Client) serverForID(id int64) int { return serverForID(id, c.serverBase) }

func (c *Client) call(ctx context.Context, dest int, op wire.Op, reqTag uint16, body []byte, replyTag uint16) ([]byte, error) {
	c.seqno++
	h := wire.Header{WorkerRank: int32(c.comm.Rank()), Seqno: c.seqno, Op: op}
	msg := append(h.Marshal(), body...)
	if err := c.comm.Isend(ctx, dest, reqTag, msg); err != nil {
		return nil, err
	}
	select {
	case m := <-c.comm.Inbox(replyTag):
		return m.Body, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put enqueues a task at this worker's home server (spec section 6.2).
func (c *Client) Put(ctx context.Context, typ int, priority int64, parallelism int, targetRank int, strictness task.Strictness, accuracy task.Accuracy, answerRank int, payload []byte) error {
	body := encodePutRequest(typ, priority, parallelism, targetRank, strictness, accuracy, answerRank, payload)
	reply, err := c.call(ctx, c.homeServer, wire.OpPut, tagPut, body, tagPutReply)
	if err != nil {
		return err
	}
	if ok, code, _ := decodeStatus(reply); !ok {
		return NewError("Put", code)
	}
	return nil
}

// Get blocks (or advisory-probes, if blocking is false) for a task whose
// type is in acceptTypes. ok is false when a non-blocking probe found
// nothing; shutdown is true once the job's termination ring has declared
// quiescence, at which point the caller should stop calling Get.
func (c *Client) Get(ctx context.Context, acceptTypes []int, blocking bool) (d Dispatch, ok bool, shutdown bool, err error) {
	return c.getAt(ctx, c.homeServer, acceptTypes, blocking)
}

func (c *Client) getAt(ctx context.Context, dest int, acceptTypes []int, blocking bool) (d Dispatch, ok bool, shutdown bool, err error) {
	body := encodeGetRequest(acceptTypes, blocking)
	reply, err := c.call(ctx, dest, wire.OpGet, tagGet, body, tagGetReply)
	if err != nil {
		return Dispatch{}, false, false, err
	}
	if len(reply) == 0 {
		return Dispatch{}, false, false, NewError("Get", Fatal)
	}
	switch reply[0] {
	case statusPending:
		return Dispatch{}, false, false, nil
	case statusErr:
		if len(reply) < 2 {
			return Dispatch{}, false, false, NewError("Get", Fatal)
		}
		code := Code(reply[1])
		if code == Shutdown {
			return Dispatch{}, false, true, nil
		}
		return Dispatch{}, false, false, NewError("Get", code)
	default:
		dd, err := decodeGetReplyDispatch(reply[1:])
		if err != nil {
			return Dispatch{}, false, false, err
		}
		return dd, true, false, nil
	}
}

// WaitNotify blocks for the next notification delivered to this worker
// (spec section 4.E.4): a dedicated blocking Get restricted to ControlType.
func (c *Client) WaitNotify(ctx context.Context) (Notification, bool, error) {
	d, ok, shutdown, err := c.Get(ctx, []int{ControlType}, true)
	if err != nil || shutdown || !ok {
		return Notification{}, shutdown, err
	}
	n, err := decodeNotify(d.Payload)
	return n, false, err
}

// WaitNotifyFor blocks for a notification about id specifically, routing the
// underlying Get to id's owning server rather than this worker's home
// server. The CONTROL task produced by a Subscribe on id is always enqueued
// at serverForID(id) (internal/store never forwards notifications across
// servers), so a subscriber waiting on a remote id must park its blocking Get
// there too, not at its home server, or the notification will never match.
func (c *Client) WaitNotifyFor(ctx context.Context, id int64) (Notification, bool, error) {
	d, ok, shutdown, err := c.getAt(ctx, c.serverForID(id), []int{ControlType}, true)
	if err != nil || shutdown || !ok {
		return Notification{}, shutdown, err
	}
	n, err := decodeNotify(d.Payload)
	return n, false, err
}

// Create allocates a new UNSET datum, routed to hint's owning server when
// hint is nonzero and to this worker's home server otherwise.
func (c *Client) Create(ctx context.Context, typ datum.Type, hint int64, permanent bool) (int64, error) {
	dest := c.homeServer
	if hint != 0 {
		dest = c.serverForID(hint)
	}
	body := encodeCreateRequest(typ, hint, permanent)
	reply, err := c.call(ctx, dest, wire.OpCreate, tagCreate, body, tagCreateReply)
	if err != nil {
		return 0, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return 0, NewError("Create", code)
	}
	return decodeIDReply(rest)
}

// MultiCreate allocates count contiguous ids of typ in one call.
func (c *Client) MultiCreate(ctx context.Context, typ datum.Type, count int, permanent bool) ([]int64, error) {
	body := encodeMultiCreateRequest(typ, count, permanent)
	reply, err := c.call(ctx, c.homeServer, wire.OpMultiCreate, tagMultiCreate, body, tagMultiCreateReply)
	if err != nil {
		return nil, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return nil, NewError("MultiCreate", code)
	}
	return decodeMultiCreateReply(rest)
}

// Store commits value to id, routed to id's owning server.
func (c *Client) Store(ctx context.Context, id int64, typ datum.Type, value []byte, writeDecrement int64) error {
	body := encodeStoreRequest(id, typ, value, writeDecrement)
	reply, err := c.call(ctx, c.serverForID(id), wire.OpStore, tagStore, body, tagStoreReply)
	if err != nil {
		return err
	}
	if ok, code, _ := decodeStatus(reply); !ok {
		return NewError("Store", code)
	}
	return nil
}

// Retrieve copies out id's payload, routed to id's owning server.
func (c *Client) Retrieve(ctx context.Context, id int64, mode store.RetrieveMode, readDecrement int64) (datum.Type, []byte, error) {
	body := encodeRetrieveRequest(id, mode, readDecrement)
	reply, err := c.call(ctx, c.serverForID(id), wire.OpRetrieve, tagRetrieve, body, tagRetrieveReply)
	if err != nil {
		return 0, nil, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return 0, nil, NewError("Retrieve", code)
	}
	return decodeRetrieveReply(rest)
}

// Subscribe registers interest in id (optionally a container subscript),
// reporting true if it is already ready and no registration was needed.
func (c *Client) Subscribe(ctx context.Context, id int64, subscript []byte, hasSubscript bool) (alreadyReady bool, err error) {
	body := encodeSubscribeRequest(id, subscript, hasSubscript)
	reply, err := c.call(ctx, c.serverForID(id), wire.OpSubscribe, tagSubscribe, body, tagSubscribeReply)
	if err != nil {
		return false, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return false, NewError("Subscribe", code)
	}
	return decodeBoolReply(rest)
}

// RefcountIncr applies readDelta/writeDelta to id's refcounts.
func (c *Client) RefcountIncr(ctx context.Context, id, readDelta, writeDelta int64) error {
	body := encodeRefcountRequest(id, readDelta, writeDelta)
	reply, err := c.call(ctx, c.serverForID(id), wire.OpRefcountIncr, tagRefcountIncr, body, tagRefcountReply)
	if err != nil {
		return err
	}
	if ok, code, _ := decodeStatus(reply); !ok {
		return NewError("RefcountIncr", code)
	}
	return nil
}

// Exists reports whether id (optionally at subscript) is known to the store.
func (c *Client) Exists(ctx context.Context, id int64, subscript []byte, hasSubscript bool) (bool, error) {
	body := encodeExistsRequest(id, subscript, hasSubscript)
	reply, err := c.call(ctx, c.serverForID(id), wire.OpExists, tagExists, body, tagExistsReply)
	if err != nil {
		return false, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return false, NewError("Exists", code)
	}
	return decodeBoolReply(rest)
}

// UniqueId returns a fresh, unused id from this worker's home server.
func (c *Client) UniqueId(ctx context.Context) (int64, error) {
	reply, err := c.call(ctx, c.homeServer, wire.OpUniqueID, tagUniqueID, nil, tagUniqueIDReply)
	if err != nil {
		return 0, err
	}
	ok, code, rest := decodeStatus(reply)
	if !ok {
		return 0, NewError("UniqueId", code)
	}
	return decodeIDReply(rest)
}

// Finalize tells this worker's home server it has reached the end of the
// job (spec section 6.2: "barrier then terminate"). The actual terminate
// half is handled by the home server's termination-ring participation, not
// by this call — Finalize only flips this worker's "done" bit server-side.
func (c *Client) Finalize(ctx context.Context) error {
	reply, err := c.call(ctx, c.homeServer, wire.OpFinalize, tagFinalize, nil, tagFinalizeReply)
	if err != nil {
		return err
	}
	if ok, code, _ := decodeStatus(reply); !ok {
		return NewError("Finalize", code)
	}
	return nil
}

// Fail reports a fatal application error, propagating an abort across the
// whole job (spec section 6.2).
func (c *Client) Fail(ctx context.Context, exitCode int) error {
	body := encodeFailRequest(exitCode)
	reply, err := c.call(ctx, c.homeServer, wire.OpFail, tagFail, body, tagFailReply)
	if err != nil {
		return err
	}
	if ok, code, _ := decodeStatus(reply); !ok {
		return NewError("Fail", code)
	}
	return nil
}
