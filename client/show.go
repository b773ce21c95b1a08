package client

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// IPCPInfo is one decoded ipcp-update entry, the same shape ipcps-show
// streams back as a retrospective burst.
type IPCPInfo struct {
	ID      uint16
	Address uint32
	Depth   uint16
	Name    names.Name
	DIFType string
}

// IPCPsShow implements ipcps-show: requests the retrospective burst and
// decodes every entry up to the end sentinel.
func (c *Client) IPCPsShow() ([]IPCPInfo, error) {
	msgs, err := c.CallStream(&ctlproto.Message{Type: ctlproto.MsgIPCPFetch}, func(m *ctlproto.Message) bool {
		return len(m.Fixed) > 0 && m.Fixed[0] == ctlproto.IPCPUpdateEnd
	})
	if err != nil {
		return nil, err
	}
	out := make([]IPCPInfo, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Fixed) > 0 && m.Fixed[0] == ctlproto.IPCPUpdateEnd {
			break
		}
		out = append(out, IPCPInfo{
			ID:      binary.LittleEndian.Uint16(m.Fixed[1:]),
			Address: binary.LittleEndian.Uint32(m.Fixed[3:]),
			Depth:   binary.LittleEndian.Uint16(m.Fixed[7:]),
			Name:    m.Names[0],
			DIFType: m.Strings[0],
		})
	}
	return out, nil
}

// FlowInfo is one decoded flow-fetch-resp entry.
type FlowInfo struct {
	LocalAppl, RemoteAppl names.Name
	LocalPort, RemotePort uint16
	LocalCEP, RemoteCEP   uint32
	RemoteAddr            uint32
}

// FlowsShow implements flows-show.
func (c *Client) FlowsShow() ([]FlowInfo, error) {
	msgs, err := c.CallStream(&ctlproto.Message{Type: ctlproto.MsgFlowFetch}, func(m *ctlproto.Message) bool {
		return len(m.Fixed) > 0 && m.Fixed[0] == 1
	})
	if err != nil {
		return nil, err
	}
	out := make([]FlowInfo, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Fixed) > 0 && m.Fixed[0] == 1 {
			break
		}
		out = append(out, FlowInfo{
			LocalPort:  binary.LittleEndian.Uint16(m.Fixed[1:]),
			LocalCEP:   binary.LittleEndian.Uint32(m.Fixed[3:]),
			RemotePort: binary.LittleEndian.Uint16(m.Fixed[7:]),
			RemoteCEP:  binary.LittleEndian.Uint32(m.Fixed[9:]),
			RemoteAddr: binary.LittleEndian.Uint32(m.Fixed[13:]),
			LocalAppl:  m.Names[0],
			RemoteAppl: m.Names[1],
		})
	}
	return out, nil
}
