package daemon

import (
	"encoding/binary"
	"time"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

func ack(msg *ctlproto.Message, err error) *ctlproto.Message {
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, resultCode(err))
	return &ctlproto.Message{Type: ctlproto.MsgAck, EventID: msg.EventID, Fixed: fixed}
}

// encodeIPCPUpdate builds the ipcp-update notification body (spec.md §6):
// op, id, address, depth, the IPCP's own name, and its DIF type string.
func encodeIPCPUpdate(op byte, ipcp *kernel.IPCP) *ctlproto.Message {
	fixed := make([]byte, 9)
	fixed[0] = op
	binary.LittleEndian.PutUint16(fixed[1:], ipcp.ID())
	binary.LittleEndian.PutUint32(fixed[3:], ipcp.Address())
	binary.LittleEndian.PutUint16(fixed[7:], uint16(ipcp.Depth()))
	return &ctlproto.Message{
		Type:    ctlproto.MsgIPCPUpdate,
		Fixed:   fixed,
		Names:   []names.Name{ipcp.Name()},
		Strings: []string{ipcp.DIF().Type},
	}
}

func endOfIPCPBurst(eventID uint32) *ctlproto.Message {
	return &ctlproto.Message{
		Type:    ctlproto.MsgIPCPUpdate,
		EventID: eventID,
		Fixed:   []byte{ctlproto.IPCPUpdateEnd, 0, 0, 0, 0, 0, 0, 0, 0},
		Names:   []names.Name{{}},
		Strings: []string{""},
	}
}

// fanOutIPCPUpdate pushes an ipcp-update notification to every connection
// that opened its handle with FlagIPCPs set (spec.md §6), a policy
// kernel.Registry deliberately leaves to its caller.
func (s *Server) fanOutIPCPUpdate(op byte, ipcp *kernel.IPCP) {
	msg := encodeIPCPUpdate(op, ipcp)
	s.mu.Lock()
	subs := make([]*conn, 0, len(s.ipcpSubs))
	for c := range s.ipcpSubs {
		subs = append(subs, c)
	}
	s.mu.Unlock()
	for _, c := range subs {
		_ = c.h.PushUpqueue(msg)
	}
}

// ipcpAdd wraps kernel.Registry.IPCPAdd: a freshly created "normal" IPCP
// is immediately bound to this process's uipcp.Container, since this
// daemon is its own uipcp controller (spec.md §6 collapses the kernel and
// user-space daemon into one process for this module).
func (s *Server) ipcpAdd(req kernel.IPCPAddReq) (*kernel.IPCP, error) {
	ipcp, err := s.reg.IPCPAdd(req)
	if err != nil {
		return nil, err
	}
	if req.DIFType == "normal" {
		if _, err := s.uipcps.Bind(ipcp); err != nil {
			s.log.Warn("uipcp bind failed")
		}
	}
	s.store.add(req.Name.String(), req.DIFName, req.DIFType)
	s.fanOutIPCPUpdate(ctlproto.IPCPUpdateAdd, ipcp)
	return ipcp, nil
}

func (s *Server) ipcpDel(name names.Name) error {
	ipcp, err := s.reg.IPCPGetByName(name)
	if err != nil {
		return err
	}
	if rib, ok := s.uipcps.RIBFor(ipcp); ok {
		s.uipcps.Unbind(rib)
	}
	if err := s.reg.IPCPDel(ipcp.ID()); err != nil {
		return err
	}
	s.store.remove(name.String())
	s.fanOutIPCPUpdate(ctlproto.IPCPUpdateDel, ipcp)
	return nil
}

func (s *Server) handleIPCPCreate(msg *ctlproto.Message) *ctlproto.Message {
	req := kernel.IPCPAddReq{Name: msg.Names[0], DIFType: msg.Strings[0], DIFName: msg.Strings[1]}
	_, err := s.ipcpAdd(req)
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, resultCode(err))
	return &ctlproto.Message{Type: ctlproto.MsgIPCPCreateResp, EventID: msg.EventID, Fixed: fixed}
}

func (s *Server) handleIPCPDestroy(msg *ctlproto.Message) *ctlproto.Message {
	return ack(msg, s.ipcpDel(msg.Names[0]))
}

func (s *Server) handleIPCPConfig(msg *ctlproto.Message) *ctlproto.Message {
	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err == nil {
		if cfg, ok := ipcp.Factory().(factory.Configurable); ok {
			err = cfg.Config(ipcp.Private(), msg.Strings[0], msg.Strings[1])
		} else {
			err = rlerr.ErrInvalidArg
		}
	}
	return ack(msg, err)
}

func (s *Server) handleIPCPPDUFTSet(msg *ctlproto.Message) *ctlproto.Message {
	dstAddr := binary.LittleEndian.Uint32(msg.Fixed[0:])
	port := binary.LittleEndian.Uint16(msg.Fixed[4:])

	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err == nil {
		var flow *kernel.Flow
		flow, err = s.reg.FlowGetByPort(port)
		if err == nil {
			if pc, ok := ipcp.Factory().(factory.PDUFTCapable); ok {
				err = pc.PDUFTSet(ipcp.Private(), dstAddr, flow)
			} else {
				err = rlerr.ErrInvalidArg
			}
		}
	}
	return ack(msg, err)
}

func (s *Server) handleIPCPPDUFTFlush(msg *ctlproto.Message) *ctlproto.Message {
	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err == nil {
		if pc, ok := ipcp.Factory().(factory.PDUFTCapable); ok {
			err = pc.PDUFTFlush(ipcp.Private())
		} else {
			err = rlerr.ErrInvalidArg
		}
	}
	return ack(msg, err)
}

func (s *Server) handleIPCPUipcpSet(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err == nil {
		err = s.reg.UipcpSet(ipcp, c.h)
	}
	return ack(msg, err)
}

func (s *Server) handleIPCPUipcpWait(msg *ctlproto.Message) *ctlproto.Message {
	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err == nil {
		err = s.reg.UipcpWait(ipcp, nil)
	}
	return ack(msg, err)
}

func (s *Server) handleIPCPDFTSet(msg *ctlproto.Message) *ctlproto.Message {
	addr := binary.LittleEndian.Uint32(msg.Fixed)
	ipcp, err := s.reg.IPCPGetByName(msg.Names[0])
	if err != nil {
		return ack(msg, err)
	}
	rib, ok := s.uipcps.RIBFor(ipcp)
	if !ok {
		return ack(msg, rlerr.ErrInvalidArg)
	}
	if addr == 0 {
		rib.DFTUnset(msg.Names[1], time.Now().UnixNano())
	} else {
		rib.DFTSet(msg.Names[1], time.Now().UnixNano())
	}
	return ack(msg, nil)
}

func (s *Server) handleIPCPFetch(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	for {
		ipcp, ok := s.reg.IPCPFetchNext(c.h)
		if !ok {
			return endOfIPCPBurst(msg.EventID)
		}
		m := encodeIPCPUpdate(ctlproto.IPCPUpdateAdd, ipcp)
		m.EventID = msg.EventID
		if err := c.writeMsg(m); err != nil {
			return nil
		}
	}
}

func (s *Server) handleSetFlags(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	flags := kernel.HandleFlag(binary.LittleEndian.Uint32(msg.Fixed))
	c.h.SetFlag(flags)
	if flags&kernel.FlagIPCPs != 0 {
		s.mu.Lock()
		s.ipcpSubs[c] = struct{}{}
		s.mu.Unlock()
		go func() {
			for {
				ipcp, ok := s.reg.IPCPFetchNext(c.h)
				if !ok {
					_ = c.h.PushUpqueue(endOfIPCPBurst(0))
					return
				}
				_ = c.h.PushUpqueue(encodeIPCPUpdate(ctlproto.IPCPUpdateAdd, ipcp))
			}
		}()
	}
	return ack(msg, nil)
}
