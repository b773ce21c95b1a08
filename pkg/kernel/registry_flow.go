package kernel

import (
	"time"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

const flowPutGracePeriod = 2 * time.Second

// FlowAdd allocates a port (and a CEP if the IPCP uses them), copies the
// application names, marks the flow pending, and bumps the IPCP's
// refcount (spec.md §4.2). Allocation failures roll back any bits already
// taken.
func (r *Registry) FlowAdd(ipcp *IPCP, upper Upper, localAppl, remoteAppl names.Name, cfg FlowConfig) (*Flow, error) {
	port, err := r.portBits.Alloc()
	if err != nil {
		return nil, err
	}

	f := &Flow{
		localPort:  uint16(port),
		localAppl:  localAppl,
		remoteAppl: remoteAppl,
		upper:      upper,
		ipcp:       ipcp,
		config:     cfg,
		state:      FlowPending,
		neverBound: true,
		refcount:   2, // one for the table, one for the pending owner
	}

	if ipcp.flags&FlagUsesCEPIDs != 0 {
		cep, err := r.cepBits.Alloc()
		if err != nil {
			r.portBits.Free(port)
			return nil, err
		}
		f.localCEP = uint32(cep)
		f.hasCEP = true
	}

	ipcp.mu.Lock()
	ipcp.refcount++
	ipcp.mu.Unlock()

	r.flowTableMu.Lock()
	r.flowsByPort[f.localPort] = f
	if f.hasCEP {
		r.flowsByCEP[f.localCEP] = f
	}
	r.flowTableMu.Unlock()

	if fa, ok := ipcp.ownerFactory.(factory.FlowAllocator); ok {
		if err := fa.FlowInit(ipcp.private, f); err != nil {
			r.flowTableMu.Lock()
			delete(r.flowsByPort, f.localPort)
			if f.hasCEP {
				delete(r.flowsByCEP, f.localCEP)
			}
			r.flowTableMu.Unlock()
			r.portBits.Free(port)
			if f.hasCEP {
				r.cepBits.Free(int(f.localCEP))
			}
			ipcp.mu.Lock()
			ipcp.refcount--
			ipcp.mu.Unlock()
			return nil, err
		}
	}

	return f, nil
}

// FlowGetByPort looks up a flow by local port.
func (r *Registry) FlowGetByPort(port uint16) (*Flow, error) {
	r.flowTableMu.RLock()
	defer r.flowTableMu.RUnlock()
	f, ok := r.flowsByPort[port]
	if !ok {
		return nil, rlerr.ErrNotFound
	}
	return f, nil
}

// FlowGetByCEP looks up a flow by local CEP id (only meaningful on IPCPs
// with FlagUsesCEPIDs set).
func (r *Registry) FlowGetByCEP(cep uint32) (*Flow, error) {
	r.flowTableMu.RLock()
	defer r.flowTableMu.RUnlock()
	f, ok := r.flowsByCEP[cep]
	if !ok {
		return nil, rlerr.ErrNotFound
	}
	return f, nil
}

// ListFlows returns a snapshot of every live flow, for flows-show and
// flow-fetch.
func (r *Registry) ListFlows() []*Flow {
	r.flowTableMu.RLock()
	defer r.flowTableMu.RUnlock()
	out := make([]*Flow, 0, len(r.flowsByPort))
	for _, f := range r.flowsByPort {
		out = append(out, f)
	}
	return out
}

// Bind transitions a flow from never-bound to bound, dropping the extra
// reference taken at FlowAdd time so that closing the I/O handle causes
// destruction (spec.md §3 Flow invariants).
func (f *Flow) Bind(reg *Registry) {
	f.mu.Lock()
	wasNeverBound := f.neverBound
	f.neverBound = false
	f.mu.Unlock()
	if wasNeverBound {
		reg.FlowPut(f)
	}
}

// FlowPut decrements the flow's refcount; at zero it runs the teardown
// sequence of spec.md §4.2: notify the factory, defer destruction if the
// DTP engine still has buffered PDUs, then free everything. No
// flow-deallocated message is pushed to any upqueue.
func (r *Registry) FlowPut(f *Flow) {
	f.mu.Lock()
	f.refcount--
	remaining := f.refcount
	f.mu.Unlock()
	if remaining > 0 {
		return
	}

	ipcp := f.ipcp
	if notifiee, ok := ipcp.ownerFactory.(factory.FlowDeallocNotifiee); ok {
		notifiee.FlowDeallocated(ipcp.private, f)
	}

	f.mu.Lock()
	dtp := f.dtp
	f.mu.Unlock()
	if dtp != nil && dtp.DTCPPresent() && dtp.QueuesNonEmpty() {
		f.mu.Lock()
		f.deferredUntil = time.Now().Add(flowPutGracePeriod)
		f.refcount = 1 // re-armed below by the deferred retry
		f.mu.Unlock()
		time.AfterFunc(flowPutGracePeriod, func() { r.FlowPut(f) })
		return
	}
	if dtp != nil {
		dtp.Shutdown()
	}

	f.mu.Lock()
	entries := f.pduftEntries
	f.pduftEntries = nil
	f.mu.Unlock()
	for _, e := range entries {
		e.remove()
	}

	r.flowTableMu.Lock()
	delete(r.flowsByPort, f.localPort)
	if f.hasCEP {
		delete(r.flowsByCEP, f.localCEP)
	}
	r.flowTableMu.Unlock()

	r.portBits.Free(int(f.localPort))
	if f.hasCEP {
		r.cepBits.Free(int(f.localCEP))
	}

	r.ipcpPut(ipcp)
}

// Shutdown idempotently transitions a flow from allocated to deallocated,
// which readers/pollers observe as EOF (spec.md §4.2 flow-shutdown).
func (f *Flow) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FlowDeallocated {
		return
	}
	f.state = FlowDeallocated
	f.mu.Unlock()
	f.CloseInbox()
	f.mu.Lock()
}

// AddPDUFTBackref links a PDUFT row into f's pduftEntries so that flow
// teardown auto-removes the row (spec.md §3 PDUFT row, §9).
func (f *Flow) AddPDUFTBackref(dstAddr uint32, remove func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pduftEntries = append(f.pduftEntries, &pduftBackref{dstAddr: dstAddr, remove: remove})
}

// SetDTP attaches the flow's DTP engine handle, called once by the normal
// factory's FlowInit.
func (f *Flow) SetDTP(d DTPHandle) {
	f.mu.Lock()
	f.dtp = d
	f.mu.Unlock()
}
