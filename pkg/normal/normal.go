// Package normal implements the "normal" IPCP factory (spec.md §4.4-§4.5):
// per-flow DTP engines, a PDU-forwarding table, and per-IPCP RMT
// back-pressure handling. Grounded on the teacher's IngestMuxer as the
// thing that owns a registry of live connections and a set of delivery
// policies keyed by a small state struct, generalized here from
// destination-tag routing to address-based PDU forwarding.
package normal

import (
	"strconv"
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/dtp"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Factory is the "normal" DIF-type IPCP factory.
type Factory struct {
	log *rlog.Logger

	mu           sync.Mutex
	allocHandler AllocHandler
	mgmtHandler  MgmtHandler
}

// AllocHandler is implemented by the user-space flow-allocation FSM
// (pkg/uipcp) and registered once per Factory so FlowAllocateReq/
// FlowAllocateResp/FlowDeallocated delegate the CDAP-driven handshake to
// it instead of being bare stubs (spec.md §4.7).
type AllocHandler interface {
	FlowAllocateReq(ipcp *kernel.IPCP, flow *kernel.Flow) error
	FlowAllocateResp(ipcp *kernel.IPCP, flow *kernel.Flow, response int) error
	FlowDeallocated(ipcp *kernel.IPCP, flow *kernel.Flow)
}

// SetAllocHandler registers h as the factory's flow-allocation delegate.
// Called once by pkg/uipcp's container at start-up, before any flow is
// allocated on this factory's IPCPs.
func (f *Factory) SetAllocHandler(h AllocHandler) {
	f.mu.Lock()
	f.allocHandler = h
	f.mu.Unlock()
}

func (f *Factory) handler() AllocHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocHandler
}

// New builds a normal-IPCP factory.
func New(log *rlog.Logger) *Factory {
	if log == nil {
		log = rlog.Discard()
	}
	return &Factory{log: log}
}

func (f *Factory) Type() string { return "normal" }

// ipcpState is the private per-IPCP state a normal factory instance keeps:
// the PDUFT, and the set of DTP engines keyed by local CEP (spec.md §3
// IPCP.private).
type ipcpState struct {
	mu sync.Mutex

	ipcp *kernel.IPCP

	pduft map[uint32]*kernel.Flow // dst-addr -> outgoing lower flow

	engines map[uint32]*dtp.Engine // local CEP -> DTP engine
}

func (f *Factory) Create(h factory.IPCPHandle) (factory.Private, error) {
	ipcp, ok := h.(*kernel.IPCP)
	if !ok {
		return nil, rlerr.ErrInvalidArg
	}
	return &ipcpState{
		ipcp:    ipcp,
		pduft:   make(map[uint32]*kernel.Flow),
		engines: make(map[uint32]*dtp.Engine),
	}, nil
}

func (f *Factory) Destroy(priv factory.Private) error {
	return nil
}

// Config implements factory.Configurable: the only recognized key is
// "address", setting the IPCP's network address (spec.md §4.3
// ipcp-config, scenario 1; spec.md §9 "address 0 is never valid").
func (f *Factory) Config(priv factory.Private, key, value string) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	switch key {
	case "address":
		addr, err := strconv.ParseUint(value, 10, 32)
		if err != nil || addr == 0 {
			return rlerr.ErrInvalidArg
		}
		st.ipcp.SetAddress(uint32(addr))
		return nil
	default:
		return rlerr.ErrInvalidArg
	}
}

// FlowGetStats implements factory.StatsProvider.
func (f *Factory) FlowGetStats(priv factory.Private, flow factory.FlowHandle) (factory.FlowStats, error) {
	kf, ok := flow.(*kernel.Flow)
	if !ok {
		return factory.FlowStats{}, rlerr.ErrInvalidArg
	}
	s := kf.Stats()
	return factory.FlowStats{
		TxPDUs: s.TxPDUs, RxPDUs: s.RxPDUs,
		TxBytes: s.TxBytes, RxBytes: s.RxBytes,
	}, nil
}

// FlowDeallocated implements factory.FlowDeallocNotifiee: forgets the
// flow's DTP engine (keyed by its CEP) and passes the teardown on to the
// registered AllocHandler, if any.
func (f *Factory) FlowDeallocated(priv factory.Private, flow factory.FlowHandle) {
	st, ok := priv.(*ipcpState)
	if !ok {
		return
	}
	kf, ok := flow.(*kernel.Flow)
	if !ok {
		return
	}
	st.mu.Lock()
	delete(st.engines, kf.LocalCEP())
	st.mu.Unlock()

	if h := f.handler(); h != nil {
		h.FlowDeallocated(st.ipcp, kf)
	}
}
