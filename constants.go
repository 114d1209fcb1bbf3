package adlb

import "github.com/adlb-go/adlb/internal/wire"

// Tags identify message streams on the shared interfaces.Comm (spec section
// 6.2). Every worker-to-server Op has its own request tag; the matching
// reply travels on requestTag+replyTagOffset. Control traffic between
// servers (steal requests/replies, summaries, termination tokens) uses a
// disjoint block above the RPC tags so it can never collide with worker
// traffic.
const (
	replyTagOffset uint16 = 0x1000

	tagPut            = uint16(wire.OpPut)
	tagGet            = uint16(wire.OpGet)
	tagCreate         = uint16(wire.OpCreate)
	tagMultiCreate    = uint16(wire.OpMultiCreate)
	tagStore          = uint16(wire.OpStore)
	tagRetrieve       = uint16(wire.OpRetrieve)
	tagSubscribe      = uint16(wire.OpSubscribe)
	tagRefcountIncr   = uint16(wire.OpRefcountIncr)
	tagExists         = uint16(wire.OpExists)
	tagUniqueID       = uint16(wire.OpUniqueID)
	tagFinalize       = uint16(wire.OpFinalize)
	tagFail           = uint16(wire.OpFail)

	tagPutReply          = tagPut + replyTagOffset
	tagGetReply          = tagGet + replyTagOffset
	tagCreateReply       = tagCreate + replyTagOffset
	tagMultiCreateReply  = tagMultiCreate + replyTagOffset
	tagStoreReply        = tagStore + replyTagOffset
	tagRetrieveReply     = tagRetrieve + replyTagOffset
	tagSubscribeReply    = tagSubscribe + replyTagOffset
	tagRefcountReply     = tagRefcountIncr + replyTagOffset
	tagExistsReply       = tagExists + replyTagOffset
	tagUniqueIDReply     = tagUniqueID + replyTagOffset
	tagFinalizeReply     = tagFinalize + replyTagOffset
	tagFailReply         = tagFail + replyTagOffset

	// Inter-server control traffic (spec section 4.D), above every RPC/reply
	// tag so the two never overlap.
	tagSummary     uint16 = 0x2000
	tagStealReq    uint16 = 0x2001
	tagStealReply  uint16 = 0x2002
	tagTermToken   uint16 = 0x2003
	tagAbort       uint16 = 0x2004
)

// statusOK/statusErr are the first byte of every reply body, ahead of any
// op-specific payload. statusPending is Get-reply-only: an advisory
// (non-blocking) probe found nothing to dispatch right now (spec section
// 6.1: "blocking: worker is blocked waiting (vs. an advisory iprobe)").
const (
	statusOK      byte = 0
	statusErr     byte = 1
	statusPending byte = 2
)

// Defaults mirror spec section 6.4's parameter table.
const (
	DefaultCacheEntries = 1024
	DefaultCacheBytes   = 64 << 20 // TURBINE_CACHE_SIZE default, bytes
	DefaultXPTBlockSize = 1 << 20
)

// ControlType is the reserved task.Task.Type value for notifications (spec
// section 4.E.4): the data store enqueues these in the WQ exactly like an
// ordinary task, addressed HARD at the subscriber's worker rank, with its
// Payload holding an encodeNotify body. It is disjoint from every ordinary
// application task type (which are always >= 0) and from task.AnyRank (-1,
// a target-rank sentinel, not a type). A worker that wants to receive
// notifications must include ControlType in its Get's accept set — the
// client's WaitNotify helper does this for the caller.
const ControlType = -2
