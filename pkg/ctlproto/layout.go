package ctlproto

// MsgType identifies a request, response or notification carried on the
// kernel control-plane boundary (spec.md §4.3).
type MsgType uint16

const (
	MsgIPCPCreate MsgType = iota + 1
	MsgIPCPCreateResp
	MsgIPCPDestroy
	MsgIPCPConfig
	MsgIPCPPDUFTSet
	MsgIPCPPDUFTFlush
	MsgIPCPUipcpSet
	MsgIPCPUipcpWait
	MsgIPCPUpdate // add | del | upd, carried in Fixed[0]
	MsgApplRegister
	MsgApplRegisterResp
	MsgFARequest
	MsgFAResp
	MsgUipcpFARequestArrived
	MsgUipcpFARespArrived
	MsgFlowDealloc
	MsgFlowFetch
	MsgFlowFetchResp // carries an `end` sentinel in Fixed[0]
	MsgFlowStatsReq
	MsgFlowStatsResp
	MsgFlowCfgUpdate
	MsgFARespArrived
	MsgFARequestArrived
	MsgFlowDeallocated
	MsgFlowSDUWrite // client -> daemon: port(2), payload in Strings[0]
	MsgFlowSDURx    // daemon -> client: port(2), payload in Strings[0]
	MsgSetFlags     // client -> daemon: flags(4), the handle ioctl of spec.md §6
	MsgAck          // daemon -> client: result(2), generic completion for fire-and-forget mutations
	MsgIPCPEnroll   // client -> daemon: ipcp name, neighbor name, supporting-dif in Strings[0]
	MsgIPCPDFTSet   // client -> daemon: addr(4), ipcp name, appl name
	MsgIPCPFetch    // client -> daemon: request the whole ipcps-show burst (every entry, then the end sentinel)
	MsgRIBShow       // client -> daemon: ipcp name (empty APN means "whole DIF")
	MsgRIBShowResp   // daemon -> client: rendered text in Strings[0]
	MsgApplUnregister // client -> daemon: appl name, ipcp name
)

// FARequest flags carried in an MsgFARequest's Fixed[4] byte.
const (
	FARequestWindowBased byte = 1 << iota
	FARequestRtxControl
)

// IPCPUpdateOp values carried in an MsgIPCPUpdate's Fixed[0] byte.
const (
	IPCPUpdateAdd byte = iota
	IPCPUpdateDel
	IPCPUpdateUpd
	IPCPUpdateEnd // terminates an ipcps-show retrospective burst
)

// layoutEntry describes, per message type, how the body following the
// (msg-type, event-id) prefix is shaped: a fixed byte count, a count of
// composite-name fields, and a count of length-prefixed strings. The same
// table drives both request deserialization and response/notification
// serialization, per spec.md §4.3.
type layoutEntry struct {
	fixedBytes int
	nameCount  int
	strCount   int
}

var layout = map[MsgType]layoutEntry{
	MsgIPCPCreate:            {fixedBytes: 0, nameCount: 1, strCount: 2}, // name, type, dif
	MsgIPCPCreateResp:        {fixedBytes: 2, nameCount: 0, strCount: 0}, // result(u16)
	MsgIPCPDestroy:           {fixedBytes: 0, nameCount: 1, strCount: 0},
	MsgIPCPConfig:            {fixedBytes: 0, nameCount: 1, strCount: 2}, // name, key, value
	MsgIPCPPDUFTSet:          {fixedBytes: 6, nameCount: 1, strCount: 0}, // dst-addr(4)+port(2), ipcp name
	MsgIPCPPDUFTFlush:        {fixedBytes: 0, nameCount: 1, strCount: 0},
	MsgIPCPUipcpSet:          {fixedBytes: 0, nameCount: 1, strCount: 0},
	MsgIPCPUipcpWait:         {fixedBytes: 0, nameCount: 1, strCount: 0},
	MsgIPCPUpdate:            {fixedBytes: 9, nameCount: 1, strCount: 1}, // op(1)+id(2)+addr(4)+depth(2), name, type
	MsgApplRegister:          {fixedBytes: 1, nameCount: 2, strCount: 0}, // needs-userspace(1), appl name, ipcp name
	MsgApplRegisterResp:      {fixedBytes: 2, nameCount: 0, strCount: 0},
	MsgFARequest:             {fixedBytes: 5, nameCount: 3, strCount: 0}, // ipcp-id(4), flags(1): bit0 window-based, bit1 rtx-control; local, remote, dif
	MsgFAResp:                {fixedBytes: 6, nameCount: 0, strCount: 0}, // port(2)+response(4, int32)
	MsgUipcpFARequestArrived: {fixedBytes: 12, nameCount: 2, strCount: 0},
	MsgUipcpFARespArrived:    {fixedBytes: 8, nameCount: 0, strCount: 0},
	MsgFlowDealloc:           {fixedBytes: 2, nameCount: 0, strCount: 0}, // port(2)
	MsgFlowFetch:             {fixedBytes: 0, nameCount: 0, strCount: 0},
	MsgFlowFetchResp:         {fixedBytes: 17, nameCount: 2, strCount: 0},
	MsgFlowStatsReq:          {fixedBytes: 2, nameCount: 0, strCount: 0},
	MsgFlowStatsResp:         {fixedBytes: 40, nameCount: 0, strCount: 0},
	MsgFlowCfgUpdate:         {fixedBytes: 2, nameCount: 0, strCount: 2}, // port(2), key, value
	MsgFARespArrived:         {fixedBytes: 8, nameCount: 0, strCount: 0},
	MsgFARequestArrived:      {fixedBytes: 12, nameCount: 2, strCount: 0},
	MsgFlowDeallocated:       {fixedBytes: 2, nameCount: 0, strCount: 0},
	MsgFlowSDUWrite:          {fixedBytes: 2, nameCount: 0, strCount: 1}, // port(2), payload
	MsgFlowSDURx:             {fixedBytes: 2, nameCount: 0, strCount: 1}, // port(2), payload
	MsgSetFlags:              {fixedBytes: 4, nameCount: 0, strCount: 0}, // flags(4)
	MsgAck:                   {fixedBytes: 2, nameCount: 0, strCount: 0}, // result(u16)
	MsgIPCPEnroll:            {fixedBytes: 0, nameCount: 2, strCount: 1}, // ipcp, neighbor, supp-dif
	MsgIPCPDFTSet:            {fixedBytes: 4, nameCount: 2, strCount: 0}, // addr(4), ipcp, appl
	MsgIPCPFetch:             {fixedBytes: 0, nameCount: 0, strCount: 0},
	MsgRIBShow:               {fixedBytes: 0, nameCount: 1, strCount: 0},
	MsgRIBShowResp:           {fixedBytes: 0, nameCount: 0, strCount: 1},
	MsgApplUnregister:        {fixedBytes: 0, nameCount: 2, strCount: 0},
}
