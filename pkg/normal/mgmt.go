package normal

import (
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// MgmtHandler is implemented by the uipcp layer's RIB to receive
// address-routed management PDUs (spec.md §4.7 send-to-dst-addr, §6
// "per-IPCP management pseudo-device"): CDAP signaling addressed to a
// destination that may not be a direct neighbor, delivered transparently
// across intermediate normal IPCPs by the same PDUFT/rmt-tx path as data
// PDUs.
type MgmtHandler interface {
	MgmtSDURx(ipcp *kernel.IPCP, payload []byte)
}

// SetMgmtHandler registers h as this factory's management-SDU sink.
func (f *Factory) SetMgmtHandler(h MgmtHandler) {
	f.mu.Lock()
	f.mgmtHandler = h
	f.mu.Unlock()
}

func (f *Factory) mgmtHandlerFor() MgmtHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mgmtHandler
}

// SendMgmt implements factory.MgmtSDUBuilder's data-path counterpart: a
// connectionless, address-routed send with no CEP and no DTP engine,
// carried as a PCI MGMT-type PDU through the same rmt-tx forwarding as
// ordinary data (spec.md §6 PCI "MGMT" type).
func (f *Factory) SendMgmt(priv factory.Private, dstAddr uint32, payload []byte) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	pdu := &pci.PDU{
		PCI: pci.PCI{
			Type:    pci.TypeMGMT,
			DstAddr: dstAddr,
			SrcAddr: st.ipcp.Address(),
			Len:     uint32(len(payload)),
		},
		Data: payload,
	}
	return f.rmtTx(st, dstAddr, pdu, true)
}
