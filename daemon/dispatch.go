package daemon

import (
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// dispatch routes one decoded request to its handler. Response-only and
// notification-only message types (everything the daemon only ever sends,
// never receives) fall through to a generic error ack rather than a panic,
// since a misbehaving client is the only way one would arrive here.
func (s *Server) dispatch(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	switch msg.Type {
	case ctlproto.MsgIPCPCreate:
		return s.handleIPCPCreate(msg)
	case ctlproto.MsgIPCPDestroy:
		return s.handleIPCPDestroy(msg)
	case ctlproto.MsgIPCPConfig:
		return s.handleIPCPConfig(msg)
	case ctlproto.MsgIPCPPDUFTSet:
		return s.handleIPCPPDUFTSet(msg)
	case ctlproto.MsgIPCPPDUFTFlush:
		return s.handleIPCPPDUFTFlush(msg)
	case ctlproto.MsgIPCPUipcpSet:
		return s.handleIPCPUipcpSet(c, msg)
	case ctlproto.MsgIPCPUipcpWait:
		return s.handleIPCPUipcpWait(msg)
	case ctlproto.MsgIPCPDFTSet:
		return s.handleIPCPDFTSet(msg)
	case ctlproto.MsgIPCPFetch:
		return s.handleIPCPFetch(c, msg)
	case ctlproto.MsgIPCPEnroll:
		return s.handleIPCPEnroll(msg)
	case ctlproto.MsgSetFlags:
		return s.handleSetFlags(c, msg)

	case ctlproto.MsgApplRegister:
		return s.handleApplRegister(c, msg)
	case ctlproto.MsgApplUnregister:
		return s.handleApplUnregister(msg)
	case ctlproto.MsgFARequest:
		return s.handleFARequest(c, msg)
	case ctlproto.MsgFAResp:
		return s.handleFAResp(msg)
	case ctlproto.MsgFlowDealloc:
		return s.handleFlowDealloc(msg)
	case ctlproto.MsgFlowCfgUpdate:
		return s.handleFlowCfgUpdate(msg)
	case ctlproto.MsgFlowStatsReq:
		return s.handleFlowStatsReq(msg)
	case ctlproto.MsgFlowFetch:
		return s.handleFlowFetch(c, msg)

	case ctlproto.MsgFlowSDUWrite:
		return s.handleFlowSDUWrite(msg)

	case ctlproto.MsgRIBShow:
		return s.handleRIBShow(msg)

	default:
		return ack(msg, rlerr.ErrInvalidArg)
	}
}
