package daemon

import (
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
)

// pairLowerFlows allocates and bridges a ctrl/data lower-flow pair over
// supp between two local normal IPCPs, the way an operator would otherwise
// run ipcp-lower-flow-alloc twice and pair the results by hand. Only
// shim-loopback supports this automatically: a shim-udp supporting DIF
// would need each neighbor's own socket-bound IPCP instance, which this
// single-process daemon has no second host to run (spec.md §6 notes the
// kernel/uipcp/daemon collapse is same-process only).
func (s *Server) pairLowerFlows(supp, a, b *kernel.IPCP) (ctrlA, ctrlB, dataA, dataB *kernel.Flow, err error) {
	shim, ok := supp.Factory().(*shimloopback.Factory)
	if !ok {
		return nil, nil, nil, nil, rlerr.ErrInvalidArg
	}

	cfg := kernel.DefaultFlowConfig()
	ctrlA, err = s.reg.FlowAdd(supp, kernel.HandleUpper{}, a.Name(), b.Name(), cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	ctrlB, err = s.reg.FlowAdd(supp, kernel.HandleUpper{}, b.Name(), a.Name(), cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dataA, err = s.reg.FlowAdd(supp, kernel.IPCPUpper{IPCP: a}, a.Name(), b.Name(), cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	dataB, err = s.reg.FlowAdd(supp, kernel.IPCPUpper{IPCP: b}, b.Name(), a.Name(), cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	shim.Pair(supp.Private(), ctrlA, ctrlB)
	shim.Pair(supp.Private(), dataA, dataB)
	return ctrlA, ctrlB, dataA, dataB, nil
}

// handleIPCPEnroll implements ipcp-enroll (spec.md §4.6): resolves the
// supporting IPCP by DIF name, establishes a fresh lower-flow pair over
// it, and starts the enrollment handshake on both sides at once. A real
// multi-host deployment would only ever drive the local side this way and
// let the neighbor's own daemon respond to an arriving CONNECT; this
// single-process daemon owns both normal IPCPs, so it can start both
// Neighbor state machines directly against the same flow pair.
func (s *Server) handleIPCPEnroll(msg *ctlproto.Message) *ctlproto.Message {
	localName, neighName := msg.Names[0], msg.Names[1]
	suppDIF := msg.Strings[0]

	local, err := s.reg.IPCPGetByName(localName)
	if err != nil {
		return ack(msg, err)
	}
	neigh, err := s.reg.IPCPGetByName(neighName)
	if err != nil {
		return ack(msg, err)
	}
	localRIB, ok := s.uipcps.RIBFor(local)
	if !ok {
		return ack(msg, rlerr.ErrInvalidArg)
	}
	neighRIB, ok := s.uipcps.RIBFor(neigh)
	if !ok {
		return ack(msg, rlerr.ErrInvalidArg)
	}

	supp, err := s.selectIPCPByDIF(suppDIF)
	if err != nil {
		return ack(msg, err)
	}

	ctrlA, ctrlB, dataA, dataB, err := s.pairLowerFlows(supp, local, neigh)
	if err != nil {
		return ack(msg, err)
	}

	neighRIB.Enroll(supp, ctrlB, dataB, localName, false)
	localRIB.Enroll(supp, ctrlA, dataA, neighName, true)
	return ack(msg, nil)
}
