package daemon

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
)

// handleFlowSDUWrite implements sdu-write over the control socket
// (spec.md §4.4): this port collapses the kernel's separate per-flow
// pseudo-device into the one control connection, so an SDU write rides
// the same Unix socket as every other request, tagged with the port id.
func (s *Server) handleFlowSDUWrite(msg *ctlproto.Message) *ctlproto.Message {
	port := binary.LittleEndian.Uint16(msg.Fixed)
	payload := []byte(msg.Strings[0])

	flow, err := s.reg.FlowGetByPort(port)
	if err != nil {
		return ack(msg, err)
	}
	pdu := &pci.PDU{Data: payload}
	err = flow.IPCP().Factory().SDUWrite(flow.IPCP().Private(), flow, pdu, true)
	return ack(msg, err)
}

// startSDUPump drains flow's delivered-SDU inbox and forwards each one to
// c as an MsgFlowSDURx notification, until the flow is torn down. One
// goroutine per application-bound flow (spec.md §4.4 "deliver to the
// upper layer").
func (c *conn) startSDUPump(port uint16, flow *kernel.Flow) {
	for {
		sdu, err := flow.ReadSDU()
		if err != nil {
			return
		}
		fixed := make([]byte, 2)
		binary.LittleEndian.PutUint16(fixed, port)
		m := &ctlproto.Message{
			Type:    ctlproto.MsgFlowSDURx,
			Fixed:   fixed,
			Strings: []string{string(sdu)},
		}
		if err := c.writeMsg(m); err != nil {
			return
		}
	}
}
