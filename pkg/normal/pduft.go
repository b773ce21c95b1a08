package normal

import (
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// PDUFTSet implements factory.PDUFTCapable (spec.md §4.5): permitted only
// when flow.Upper() is this IPCP, protecting against a stale binding. The
// row also links into the flow's pduft-entries so flow teardown implicit-
// removes it.
func (f *Factory) PDUFTSet(priv factory.Private, dstAddr uint32, flow factory.FlowHandle) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := flow.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if up, ok := kf.Upper().(kernel.IPCPUpper); !ok || up.IPCP != st.ipcp {
		return rlerr.ErrInvalidArg
	}

	st.ipcp.Lock()
	defer st.ipcp.Unlock()

	st.mu.Lock()
	st.pduft[dstAddr] = kf
	st.mu.Unlock()

	kf.AddPDUFTBackref(dstAddr, func() {
		st.mu.Lock()
		if st.pduft[dstAddr] == kf {
			delete(st.pduft, dstAddr)
		}
		st.mu.Unlock()
	})
	return nil
}

// PDUFTDel implements factory.PDUFTCapable.
func (f *Factory) PDUFTDel(priv factory.Private, dstAddr uint32, flow factory.FlowHandle) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.pduft[dstAddr]; !ok {
		return rlerr.ErrNotFound
	}
	delete(st.pduft, dstAddr)
	return nil
}

// PDUFTFlush implements factory.PDUFTCapable.
func (f *Factory) PDUFTFlush(priv factory.Private) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	st.pduft = make(map[uint32]*kernel.Flow)
	st.mu.Unlock()
	return nil
}

func (st *ipcpState) lookupRoute(dstAddr uint32) (*kernel.Flow, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	fl, ok := st.pduft[dstAddr]
	return fl, ok
}
