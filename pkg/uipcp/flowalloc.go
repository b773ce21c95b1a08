package uipcp

import (
	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/kernel"
)

// initiateFlowAllocation implements fa-req's uipcp half (spec.md §4.7):
// resolve the destination in the DFT, then either shortcut a same-node
// flow, forward a CDAP CREATE to a directly-enrolled neighbor, or give up.
//
// A DFT entry resolving to an address that is neither this node nor a
// direct neighbor would need to be forwarded toward the next hop; spec.md
// §4.7 calls that case out as not yet supported, so it's rejected here
// the same as a missing entry.
func (r *RIB) initiateFlowAllocation(flow *kernel.Flow) error {
	entry, ok := r.Lookup(flow.RemoteAppl())
	if !ok {
		return r.rejectFlow(flow, -1)
	}

	if entry.Local || entry.Addr == r.ipcp.Address() {
		return r.loopbackFlow(flow)
	}

	nb, ok := r.neighborByAddr(entry.Addr)
	if !ok {
		return r.rejectFlow(flow, -1)
	}

	fcfg := flow.Config()
	fr := &flowRequest{
		TargetAppl:    flow.RemoteAppl(),
		InitiatorAppl: flow.LocalAppl(),
		DTCPPresent:   fcfg.DTCPPresent,
		WindowBased:   fcfg.WindowBased,
		RtxControl:    fcfg.RtxControl,
	}
	inner := &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "flow", ObjValue: encodeFlowRequest(fr)}
	adata := &cdap.ADATA{SrcAddr: r.ipcp.Address(), DstAddr: entry.Addr, Inner: inner}
	outer, err := adata.Wrap()
	if err != nil {
		return r.rejectFlow(flow, -1)
	}

	r.mu.Lock()
	r.pendingAlloc[inner.InvokeID] = &pendingAlloc{flow: flow}
	r.mu.Unlock()

	if err := nb.send(outer); err != nil {
		r.mu.Lock()
		delete(r.pendingAlloc, inner.InvokeID)
		r.mu.Unlock()
		return r.rejectFlow(flow, -1)
	}
	return nil
}

func (r *RIB) rejectFlow(flow *kernel.Flow, result int32) error {
	r.container.reg.FARespArrived(flow, result, 0, 0, 0)
	return nil
}

// loopbackFlow handles fa-req when the target application is registered
// on this very node: it drives FARequestArrived directly instead of
// round-tripping CDAP to itself, and remembers the pairing so the
// eventual fa-resp can be matched back to the initiator's flow.
func (r *RIB) loopbackFlow(flow *kernel.Flow) error {
	rf, err := r.container.reg.FARequestArrived(r.ipcp, flow.RemoteAppl(), flow.LocalAppl(), flow.Config())
	if err != nil {
		return r.rejectFlow(flow, -1)
	}

	r.mu.Lock()
	r.loopback[rf.LocalPort()] = flow
	r.mu.Unlock()
	return nil
}

// respondFlowAllocation implements fa-resp's uipcp half (spec.md §4.7):
// resolve whether flow is a same-node loopback pairing or a remote
// initiator pending in pendingResp, then answer accordingly.
func (r *RIB) respondFlowAllocation(flow *kernel.Flow, response int) error {
	r.mu.Lock()
	pr, pending := r.pendingResp[flow.LocalPort()]
	r.mu.Unlock()

	port, cep := r.container.reg.FAResp(flow, int32(response))

	if !pending {
		return r.respondLoopback(flow, response, port, cep)
	}

	nb, ok := r.neighborByAddr(pr.srcAddr)
	r.mu.Lock()
	delete(r.pendingResp, flow.LocalPort())
	r.mu.Unlock()
	if !ok {
		return nil
	}

	var inner *cdap.Message
	if response == 0 {
		inner = &cdap.Message{Op: cdap.MCreateR, InvokeID: pr.invokeID, ObjClass: "flow", Result: 0, ObjValue: encodePortCEPAddr(port, cep, r.ipcp.Address())}
	} else {
		inner = &cdap.Message{Op: cdap.MCreateR, InvokeID: pr.invokeID, ObjClass: "flow", Result: int32(response)}
	}
	adata := &cdap.ADATA{SrcAddr: r.ipcp.Address(), DstAddr: pr.srcAddr, Inner: inner}
	outer, err := adata.Wrap()
	if err != nil {
		return err
	}
	return nb.send(outer)
}

// respondLoopback completes a same-node allocation by finding the
// initiator flow this responder flow was paired with in loopbackFlow and
// driving FARespArrived on it directly.
func (r *RIB) respondLoopback(flow *kernel.Flow, response int, port uint16, cep uint32) error {
	r.mu.Lock()
	var initFlow *kernel.Flow
	for p, f := range r.loopback {
		if p == flow.LocalPort() {
			initFlow = f
			delete(r.loopback, p)
			break
		}
	}
	r.mu.Unlock()
	if initFlow == nil {
		return nil
	}
	if response == 0 {
		r.container.reg.FARespArrived(initFlow, 0, port, cep, r.ipcp.Address())
	} else {
		r.container.reg.FARespArrived(initFlow, int32(response), port, 0, 0)
	}
	return nil
}

// handleFlowCreate is the responder-side arrival of a remote CREATE(flow)
// (spec.md §4.7): resolve the application locally and remember the
// initiator's address/invoke-id so respondFlowAllocation can reply.
func (r *RIB) handleFlowCreate(adata *cdap.ADATA, inner *cdap.Message) {
	fr, err := decodeFlowRequest(inner.ObjValue)
	if err != nil {
		return
	}
	cfg := kernel.NegotiatedFlowConfig(fr.WindowBased, fr.RtxControl)
	f, err := r.container.reg.FARequestArrived(r.ipcp, fr.TargetAppl, fr.InitiatorAppl, cfg)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.pendingResp[f.LocalPort()] = &pendingResp{invokeID: inner.InvokeID, srcAddr: adata.SrcAddr}
	r.mu.Unlock()
}

// handleFlowCreateR is the initiator-side arrival of the remote's
// CREATE-R(flow) (spec.md §4.7): complete the matching pending allocation.
func (r *RIB) handleFlowCreateR(inner *cdap.Message) {
	r.mu.Lock()
	pa, ok := r.pendingAlloc[inner.InvokeID]
	if ok {
		delete(r.pendingAlloc, inner.InvokeID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if inner.Result != 0 {
		r.container.reg.FARespArrived(pa.flow, inner.Result, 0, 0, 0)
		return
	}
	port, cep, addr, err := decodePortCEPAddr(inner.ObjValue)
	if err != nil {
		r.container.reg.FARespArrived(pa.flow, -1, 0, 0, 0)
		return
	}
	r.container.reg.FARespArrived(pa.flow, 0, port, cep, addr)
}

// flowDeallocated notifies the remote end of a flow teardown, when the
// peer is reachable over a direct neighbor (spec.md §4.2 flow-dealloc).
func (r *RIB) flowDeallocated(flow *kernel.Flow) {
	peerAddr := flow.RemoteAddr()
	if peerAddr == 0 || peerAddr == r.ipcp.Address() {
		return
	}
	nb, ok := r.neighborByAddr(peerAddr)
	if !ok {
		return
	}
	inner := &cdap.Message{Op: cdap.MDelete, InvokeID: r.nextInvoke(), ObjClass: "flow", ObjValue: encodePortCEP(flow.RemotePort(), flow.RemoteCEP())}
	adata := &cdap.ADATA{SrcAddr: r.ipcp.Address(), DstAddr: peerAddr, Inner: inner}
	outer, err := adata.Wrap()
	if err != nil {
		return
	}
	_ = nb.send(outer)
}

// handleFlowDelete is the arrival of a remote DELETE(flow) notification
// (spec.md §4.2): tear down the local flow the remote says is gone.
func (r *RIB) handleFlowDelete(_ *cdap.ADATA, inner *cdap.Message) {
	port, _, err := decodePortCEP(inner.ObjValue)
	if err != nil {
		return
	}
	_ = r.container.reg.FlowDealloc(port)
}
