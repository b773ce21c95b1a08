package daemon

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

func (s *Server) handleApplRegister(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	applName, ipcpName := msg.Names[0], msg.Names[1]
	ipcp, err := s.reg.IPCPGetByName(ipcpName)
	if err == nil {
		_, needsUserspace := ipcp.Factory().(factory.ApplRegistrar)
		_, err = s.reg.ApplAdd(ipcp, applName, c.h, msg.EventID, needsUserspace)
	}
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, resultCode(err))
	return &ctlproto.Message{Type: ctlproto.MsgApplRegisterResp, EventID: msg.EventID, Fixed: fixed}
}

func (s *Server) handleApplUnregister(msg *ctlproto.Message) *ctlproto.Message {
	applName, ipcpName := msg.Names[0], msg.Names[1]
	ipcp, err := s.reg.IPCPGetByName(ipcpName)
	if err == nil {
		err = s.reg.ApplDel(ipcp, applName)
	}
	return ack(msg, err)
}

// handleFARequest implements fa-req (spec.md §4.2): an immediate ack
// carries only the early (pre-handshake) error, if any; the real outcome
// arrives later via MsgFARespArrived on the same event-id.
func (s *Server) handleFARequest(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	ipcpID := uint16(binary.LittleEndian.Uint32(msg.Fixed))
	flags := msg.Fixed[4]
	localAppl, remoteAppl, difHint := msg.Names[0], msg.Names[1], msg.Names[2]

	var ipcp *kernel.IPCP
	var err error
	if ipcpID != 0 {
		ipcp, err = s.reg.IPCPGet(ipcpID)
	} else {
		ipcp, err = s.selectIPCPByDIF(difHint.APN)
	}
	if err != nil {
		return ack(msg, err)
	}

	cfg := kernel.NegotiatedFlowConfig(flags&ctlproto.FARequestWindowBased != 0, flags&ctlproto.FARequestRtxControl != 0)
	_, err = s.reg.FARequest(c.h, ipcp, localAppl, remoteAppl, cfg, msg.EventID)
	return ack(msg, err)
}

func (s *Server) handleFAResp(msg *ctlproto.Message) *ctlproto.Message {
	port := binary.LittleEndian.Uint16(msg.Fixed[0:])
	response := int32(binary.LittleEndian.Uint32(msg.Fixed[2:]))

	flow, err := s.reg.FlowGetByPort(port)
	if err != nil {
		return ack(msg, err)
	}
	s.reg.FAResp(flow, response)

	ipcp := flow.IPCP()
	if fa, ok := ipcp.Factory().(factory.FlowAllocator); ok {
		err = fa.FlowAllocateResp(ipcp.Private(), flow, int(response))
	}
	return ack(msg, err)
}

func (s *Server) handleFlowDealloc(msg *ctlproto.Message) *ctlproto.Message {
	port := binary.LittleEndian.Uint16(msg.Fixed)
	return ack(msg, s.reg.FlowDealloc(port))
}

func (s *Server) handleFlowCfgUpdate(msg *ctlproto.Message) *ctlproto.Message {
	port := binary.LittleEndian.Uint16(msg.Fixed)
	flow, err := s.reg.FlowGetByPort(port)
	if err == nil {
		if cu, ok := flow.IPCP().Factory().(factory.FlowCfgUpdater); ok {
			err = cu.FlowCfgUpdate(flow.IPCP().Private(), flow, msg.Strings[0], msg.Strings[1])
		} else {
			err = rlerr.ErrInvalidArg
		}
	}
	return ack(msg, err)
}

func (s *Server) handleFlowStatsReq(msg *ctlproto.Message) *ctlproto.Message {
	port := binary.LittleEndian.Uint16(msg.Fixed)
	flow, err := s.reg.FlowGetByPort(port)
	if err != nil {
		return ack(msg, err)
	}

	fixed := make([]byte, 40)
	if sp, ok := flow.IPCP().Factory().(factory.StatsProvider); ok {
		if st, serr := sp.FlowGetStats(flow.IPCP().Private(), flow); serr == nil {
			binary.LittleEndian.PutUint64(fixed[0:], st.TxPDUs)
			binary.LittleEndian.PutUint64(fixed[8:], st.RxPDUs)
			binary.LittleEndian.PutUint64(fixed[16:], st.TxBytes)
			binary.LittleEndian.PutUint64(fixed[24:], st.RxBytes)
			binary.LittleEndian.PutUint64(fixed[32:], st.Retransmissions)
		}
	} else {
		st := flow.Stats()
		binary.LittleEndian.PutUint64(fixed[0:], st.TxPDUs)
		binary.LittleEndian.PutUint64(fixed[8:], st.RxPDUs)
		binary.LittleEndian.PutUint64(fixed[16:], st.TxBytes)
		binary.LittleEndian.PutUint64(fixed[24:], st.RxBytes)
	}
	return &ctlproto.Message{Type: ctlproto.MsgFlowStatsResp, EventID: msg.EventID, Fixed: fixed}
}

// selectIPCPByDIF resolves the local IPCP that should carry a flow request
// when the client names a DIF instead of an ipcp-id: a manual scan rather
// than kernel.Registry.IPCPSelectByDIF, which bumps a refcount this
// read-only lookup has no matching release for.
func (s *Server) selectIPCPByDIF(difName string) (*kernel.IPCP, error) {
	var best *kernel.IPCP
	for _, ipcp := range s.reg.ListIPCPs() {
		if difName != "" && ipcp.DIF().Name != difName {
			continue
		}
		if best == nil || ipcp.Depth() > best.Depth() {
			best = ipcp
		}
	}
	if best == nil {
		return nil, rlerr.ErrNotFound
	}
	return best, nil
}
