package normal

import (
	"time"

	"github.com/rlite-project/rlite-go/pkg/dtp"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// FlowInit implements factory.FlowAllocator: builds and wires the flow's
// DTP engine (spec.md §4.2 flow-add "initialize DTP").
func (f *Factory) FlowInit(priv factory.Private, fh factory.FlowHandle) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := fh.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}

	tx := &rmtTransmitter{factory: f, state: st, ipcp: st.ipcp}
	up := &upperDeliverer{flow: kf}
	eng := dtp.New(kf, kf.Config(), tx, up)
	kf.SetDTP(eng)

	st.mu.Lock()
	st.engines[kf.LocalCEP()] = eng
	st.mu.Unlock()
	return nil
}

// FlowAllocateReq/FlowAllocateResp delegate to the registered AllocHandler
// (pkg/uipcp's flow-allocation FSM over CDAP); the normal factory's own
// role is limited to DTP wiring via FlowInit. Without a handler registered
// (e.g. in a unit test exercising only the data plane) these are no-ops.
func (f *Factory) FlowAllocateReq(priv factory.Private, fh factory.FlowHandle) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := fh.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if h := f.handler(); h != nil {
		return h.FlowAllocateReq(st.ipcp, kf)
	}
	return nil
}

func (f *Factory) FlowAllocateResp(priv factory.Private, fh factory.FlowHandle, response int) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := fh.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if h := f.handler(); h != nil {
		return h.FlowAllocateResp(st.ipcp, kf, response)
	}
	return nil
}

// SDUWrite implements factory.Core: writes pdu.Data as an SDU on flow's
// own DTP engine (spec.md §4.4 sdu-write). For a recursive/forwarded PDU,
// rmt-tx has already re-encoded the outer PDU into pdu.Data before calling
// down into this entry point on the lower IPCP.
func (f *Factory) SDUWrite(priv factory.Private, fh factory.FlowHandle, pdu *pci.PDU, canSleep bool) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := fh.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	eng := st.engines[kf.LocalCEP()]
	st.mu.Unlock()
	if eng == nil {
		return rlerr.ErrNotFound
	}
	return eng.Write(pdu.Data, canSleep)
}

// SDURx implements factory.Core: the receive-path entry point (spec.md
// §4.4 sdu-rx). If the PDU isn't addressed to this IPCP it is forwarded
// with no ack; otherwise it is handed to the flow's DTP engine by dst-cep.
func (f *Factory) SDURx(priv factory.Private, pdu *pci.PDU) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if pdu.PCI.DstAddr != st.ipcp.Address() {
		return f.rmtTx(st, pdu.PCI.DstAddr, pdu, false)
	}
	if pdu.PCI.Type == pci.TypeMGMT {
		if h := f.mgmtHandlerFor(); h != nil {
			h.MgmtSDURx(st.ipcp, pdu.Data)
			return nil
		}
		return rlerr.ErrNotFound
	}
	st.mu.Lock()
	eng := st.engines[pdu.PCI.DstCEP]
	st.mu.Unlock()
	if eng == nil {
		return rlerr.ErrNotFound
	}
	eng.Receive(pdu)
	return nil
}

// rmtTx implements rmt-tx (spec.md §4.4): PDUFT lookup, loopback when the
// destination is this IPCP itself and no route exists yet, forwarding
// across the matched lower flow, and RMT-queue parking on would-block
// when the caller may not sleep.
func (f *Factory) rmtTx(st *ipcpState, dstAddr uint32, pdu *pci.PDU, canSleep bool) error {
	lowerFlow, ok := st.lookupRoute(dstAddr)
	if !ok {
		if dstAddr == st.ipcp.Address() {
			return f.SDURx(st, pdu)
		}
		return rlerr.ErrUnreachable
	}

	buf := make([]byte, pdu.PCI.Size()+len(pdu.Data))
	n, err := pdu.Encode(buf)
	if err != nil {
		return err
	}
	wrapped := &pci.PDU{Data: buf[:n]}

	lowerIPCP := lowerFlow.IPCP()
	lowerFactory := lowerIPCP.Factory()

	err = lowerFactory.SDUWrite(lowerIPCP.Private(), lowerFlow, wrapped, canSleep)
	if err == nil {
		return nil
	}
	if err != rlerr.ErrWouldBlock {
		return err
	}

	if canSleep {
		for i := 0; i < 3; i++ {
			time.Sleep(5 * time.Millisecond)
			err = lowerFactory.SDUWrite(lowerIPCP.Private(), lowerFlow, wrapped, canSleep)
			if err == nil {
				return nil
			}
			if err != rlerr.ErrWouldBlock {
				return err
			}
		}
		return err
	}

	if st.ipcp.PushRMT(dstAddr, wrapped.Data) {
		return nil
	}
	return rlerr.ErrNoSpace
}

// rmtTransmitter adapts a DTP engine's outbound PDUs to rmt-tx.
type rmtTransmitter struct {
	factory *Factory
	state   *ipcpState
	ipcp    *kernel.IPCP
}

func (t *rmtTransmitter) RMTTx(dstAddr uint32, pdu *pci.PDU, canSleep bool) error {
	return t.factory.rmtTx(t.state, dstAddr, pdu, canSleep)
}

// upperDeliverer hands a flow's in-order SDUs to whatever is bound above
// it: an application's read queue, or a recursive upper IPCP's sdu-rx.
type upperDeliverer struct {
	flow *kernel.Flow
}

func (d *upperDeliverer) Deliver(sdu []byte) {
	switch up := d.flow.Upper().(type) {
	case kernel.HandleUpper:
		_ = d.flow.PushSDU(sdu)
	case kernel.IPCPUpper:
		inner, err := pci.DecodePDU(sdu)
		if err != nil {
			return
		}
		_ = up.IPCP.Factory().SDURx(up.IPCP.Private(), inner)
	}
}
