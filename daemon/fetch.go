package daemon

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
)

func encodeFlowFetchResp(f *kernel.Flow, end bool) *ctlproto.Message {
	fixed := make([]byte, 17)
	if end {
		fixed[0] = 1
		return &ctlproto.Message{
			Type:  ctlproto.MsgFlowFetchResp,
			Fixed: fixed,
			Names: []names.Name{{}, {}},
		}
	}
	binary.LittleEndian.PutUint16(fixed[1:], f.LocalPort())
	binary.LittleEndian.PutUint32(fixed[3:], f.LocalCEP())
	binary.LittleEndian.PutUint16(fixed[7:], f.RemotePort())
	binary.LittleEndian.PutUint32(fixed[9:], f.RemoteCEP())
	binary.LittleEndian.PutUint32(fixed[13:], f.RemoteAddr())
	return &ctlproto.Message{
		Type:  ctlproto.MsgFlowFetchResp,
		Fixed: fixed,
		Names: []names.Name{f.LocalAppl(), f.RemoteAppl()},
	}
}

// handleFlowFetch implements flows-show (spec.md §6): streams one
// flow-fetch-resp per live flow, snapshot-cursor semantics identical to
// ipcps-show, terminated by the end sentinel.
func (s *Server) handleFlowFetch(c *conn, msg *ctlproto.Message) *ctlproto.Message {
	for {
		f, ok := s.reg.FlowFetchNext(c.h)
		if !ok {
			resp := encodeFlowFetchResp(nil, true)
			resp.EventID = msg.EventID
			return resp
		}
		resp := encodeFlowFetchResp(f, false)
		resp.EventID = msg.EventID
		if err := c.writeMsg(resp); err != nil {
			return nil
		}
	}
}
