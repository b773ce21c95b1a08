// Package kernel implements the process-wide IPCP/flow/DIF/application
// registry and its control path (spec.md §4.1-§4.3): bitmap id allocators,
// hash tables, reference counting, and the serialized control-plane
// protocol's mutation handlers. Grounded on the teacher's IngestMuxer
// (connection bookkeeping, refcounting, mutex discipline) reshaped for a
// recursive, multi-entity registry instead of a single ingester's
// destination list.
package kernel

import (
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/bitmap"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Registry is the process-wide singleton kernel state (spec.md §4.1, §9).
// Lock order, outermost first: ipcpTableMu -> per-IPCP mu -> flowTableMu ->
// difMu (spec.md §5), the registration lock (IPCP.regMu) never nesting
// inside IPCP.mu.
type Registry struct {
	log *rlog.Logger

	ipcpBits *bitmap.Bitmap
	portBits *bitmap.Bitmap
	cepBits  *bitmap.Bitmap

	ipcpTableMu sync.RWMutex
	ipcpsByID   map[uint16]*IPCP

	flowTableMu sync.RWMutex
	flowsByPort map[uint16]*Flow
	flowsByCEP  map[uint32]*Flow

	difMu sync.Mutex
	difs  map[string]*DIF

	factories *factory.Registry

	handlesMu sync.Mutex
	handles   map[int]*Handle
	nextHID   int
}

// New builds an empty Registry (spec.md §9 "explicit init/shutdown
// boundaries").
func New(log *rlog.Logger, factories *factory.Registry) *Registry {
	if log == nil {
		log = rlog.Discard()
	}
	return &Registry{
		log:         log,
		ipcpBits:    bitmap.New(bitmap.DefaultBits),
		portBits:    bitmap.New(bitmap.DefaultBits),
		cepBits:     bitmap.New(bitmap.DefaultBits),
		ipcpsByID:   make(map[uint16]*IPCP),
		flowsByPort: make(map[uint16]*Flow),
		flowsByCEP:  make(map[uint32]*Flow),
		difs:        make(map[string]*DIF),
		factories:   factories,
		handles:     make(map[int]*Handle),
	}
}

// Shutdown releases every IPCP and handle, for orderly daemon teardown.
func (r *Registry) Shutdown() {
	r.handlesMu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handlesMu.Unlock()
	for _, h := range handles {
		r.CloseHandle(h)
	}
}

// OpenHandle creates a new control handle (spec.md §6 kernel pseudo-device
// "accepts ... on write").
func (r *Registry) OpenHandle() *Handle {
	r.handlesMu.Lock()
	defer r.handlesMu.Unlock()
	r.nextHID++
	h := newHandle(r.nextHID)
	r.handles[h.id] = h
	return h
}

// CloseHandle unregisters all of h's applications and unbinds all flows it
// owns: pending flows are destroyed, allocated flows survive (spec.md
// §4.1).
func (r *Registry) CloseHandle(h *Handle) {
	h.mu.Lock()
	appls := append([]*RegisteredAppl(nil), h.ownedAppls...)
	flows := append([]*Flow(nil), h.ownedFlows...)
	h.ownedAppls = nil
	h.ownedFlows = nil
	h.mu.Unlock()

	for _, a := range appls {
		_ = r.ApplDel(a.IPCP, a.Name)
	}
	for _, f := range flows {
		if f.State() == FlowPending {
			r.FlowPut(f)
		}
	}

	r.handlesMu.Lock()
	delete(r.handles, h.id)
	r.handlesMu.Unlock()
	h.CloseUpqueue()
}

// getOrCreateDIF resolves name/typ to a DIF, creating it on first
// reference (spec.md §3 DIF). A type mismatch on an existing DIF is an
// error.
func (r *Registry) getOrCreateDIF(name, typ string) (*DIF, error) {
	r.difMu.Lock()
	defer r.difMu.Unlock()
	if d, ok := r.difs[name]; ok {
		if d.Type != typ {
			return nil, rlerr.ErrInvalidArg
		}
		d.refcount++
		return d, nil
	}
	d := newDIF(name, typ)
	d.refcount = 1
	r.difs[name] = d
	return d, nil
}

func (r *Registry) putDIF(d *DIF) {
	r.difMu.Lock()
	defer r.difMu.Unlock()
	d.refcount--
	if d.refcount <= 0 {
		delete(r.difs, d.Name)
	}
}

// IPCPAddReq describes an ipcp-add request (spec.md §4.1).
type IPCPAddReq struct {
	Name    names.Name
	DIFType string
	DIFName string
}

// IPCPAdd creates a new IPCP: uniqueness check on composite name, DIF
// obtained/created, factory resolved by type, constructor invoked. Any
// step's failure rolls back prior allocations (spec.md §4.1).
func (r *Registry) IPCPAdd(req IPCPAddReq) (*IPCP, error) {
	r.ipcpTableMu.Lock()
	for _, existing := range r.ipcpsByID {
		if existing.name.Equal(req.Name) && !existing.isZombie() {
			r.ipcpTableMu.Unlock()
			return nil, rlerr.ErrExists
		}
	}
	r.ipcpTableMu.Unlock()

	f, ok := r.factories.Lookup(req.DIFType)
	if !ok {
		return nil, rlerr.ErrInvalidArg
	}

	dif, err := r.getOrCreateDIF(req.DIFName, req.DIFType)
	if err != nil {
		return nil, err
	}

	id, err := r.ipcpBits.Alloc()
	if err != nil {
		r.putDIF(dif)
		return nil, err
	}

	ipcp := &IPCP{
		id:       uint16(id),
		name:     req.Name,
		dif:      dif,
		refcount: 1,
	}
	ipcp.uipcpCond = sync.NewCond(&ipcp.mu)

	priv, err := f.Create(ipcp)
	if err != nil {
		r.ipcpBits.Free(id)
		r.putDIF(dif)
		return nil, err
	}
	ipcp.ownerFactory = f
	ipcp.private = priv

	r.ipcpTableMu.Lock()
	r.ipcpsByID[ipcp.id] = ipcp
	r.ipcpTableMu.Unlock()

	return ipcp, nil
}

// IPCPDel sets the zombie flag and drops the creator's reference; the last
// reference runs the factory destructor then releases the DIF (spec.md
// §4.1).
func (r *Registry) IPCPDel(id uint16) error {
	r.ipcpTableMu.Lock()
	ipcp, ok := r.ipcpsByID[id]
	if !ok {
		r.ipcpTableMu.Unlock()
		return rlerr.ErrNotFound
	}
	r.ipcpTableMu.Unlock()

	ipcp.mu.Lock()
	if ipcp.flags&FlagZombie != 0 {
		ipcp.mu.Unlock()
		return rlerr.ErrZombie
	}
	ipcp.flags |= FlagZombie
	ipcp.mu.Unlock()

	r.ipcpPut(ipcp)
	return nil
}

// IPCPGet looks up an IPCP by id without altering refcount (read path for
// ipcp-config/ipcps-show).
func (r *Registry) IPCPGet(id uint16) (*IPCP, error) {
	r.ipcpTableMu.RLock()
	defer r.ipcpTableMu.RUnlock()
	ipcp, ok := r.ipcpsByID[id]
	if !ok || ipcp.isZombie() {
		return nil, rlerr.ErrNotFound
	}
	return ipcp, nil
}

// IPCPGetByName looks up an IPCP by composite name.
func (r *Registry) IPCPGetByName(name names.Name) (*IPCP, error) {
	r.ipcpTableMu.RLock()
	defer r.ipcpTableMu.RUnlock()
	for _, ipcp := range r.ipcpsByID {
		if ipcp.name.Equal(name) && !ipcp.isZombie() {
			return ipcp, nil
		}
	}
	return nil, rlerr.ErrNotFound
}

// IPCPSelectByDIF resolves an owning IPCP for flow-allocation default
// routing (spec.md §4.1): exact match on name when given, else prefer a
// "normal" DIF IPCP of greatest depth. Increments refcount on success.
func (r *Registry) IPCPSelectByDIF(difName string) (*IPCP, error) {
	r.ipcpTableMu.Lock()
	defer r.ipcpTableMu.Unlock()
	if difName != "" {
		for _, ipcp := range r.ipcpsByID {
			if !ipcp.isZombie() && ipcp.dif.Name == difName {
				ipcp.refcount++
				return ipcp, nil
			}
		}
		return nil, rlerr.ErrNotFound
	}
	var best *IPCP
	for _, ipcp := range r.ipcpsByID {
		if ipcp.isZombie() || ipcp.dif.Type != "normal" {
			continue
		}
		if best == nil || ipcp.depth > best.depth {
			best = ipcp
		}
	}
	if best == nil {
		return nil, rlerr.ErrNotFound
	}
	best.refcount++
	return best, nil
}

// ipcpPut drops a reference; at zero it runs the factory destructor and
// frees the IPCP's structural state (spec.md §3 refcount semantics).
func (r *Registry) ipcpPut(ipcp *IPCP) {
	ipcp.mu.Lock()
	ipcp.refcount--
	remaining := ipcp.refcount
	ipcp.mu.Unlock()
	if remaining > 0 {
		return
	}

	if ipcp.ownerFactory != nil {
		_ = ipcp.ownerFactory.Destroy(ipcp.private)
	}

	r.ipcpTableMu.Lock()
	delete(r.ipcpsByID, ipcp.id)
	r.ipcpTableMu.Unlock()

	r.ipcpBits.Free(int(ipcp.id))
	r.putDIF(ipcp.dif)
}

// ListIPCPs returns a stable snapshot of every live IPCP, used both by
// ipcps-show and by the flow-fetch/ipcp-update retrospective-enqueue path.
func (r *Registry) ListIPCPs() []*IPCP {
	r.ipcpTableMu.RLock()
	defer r.ipcpTableMu.RUnlock()
	out := make([]*IPCP, 0, len(r.ipcpsByID))
	for _, ipcp := range r.ipcpsByID {
		if !ipcp.isZombie() {
			out = append(out, ipcp)
		}
	}
	return out
}
