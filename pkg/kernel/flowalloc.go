package kernel

import (
	"encoding/binary"
	"sync"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// faEntry remembers which control handle and event-id a pending
// initiator-side fa-req belongs to, so FARespArrived can route the
// eventual fa-resp-arrived notification (spec.md §4.3, §4.7).
type faEntry struct {
	owner   *Handle
	eventID uint32
}

var (
	faMu      sync.Mutex
	faPending = make(map[uint16]faEntry)
)

// FARequest implements fa-req (spec.md §4.2, §4.7): creates a pending
// flow owned by owner and, if ipcp's factory runs its own allocation
// handshake, kicks it off. The handshake's outcome arrives later,
// asynchronously, via FARespArrived.
func (r *Registry) FARequest(owner *Handle, ipcp *IPCP, localAppl, remoteAppl names.Name, cfg FlowConfig, eventID uint32) (*Flow, error) {
	f, err := r.FlowAdd(ipcp, HandleUpper{owner}, localAppl, remoteAppl, cfg)
	if err != nil {
		return nil, err
	}
	owner.mu.Lock()
	owner.ownedFlows = append(owner.ownedFlows, f)
	owner.mu.Unlock()

	faMu.Lock()
	faPending[f.LocalPort()] = faEntry{owner: owner, eventID: eventID}
	faMu.Unlock()

	if fa, ok := ipcp.ownerFactory.(factory.FlowAllocator); ok {
		if err := fa.FlowAllocateReq(ipcp.private, f); err != nil {
			faMu.Lock()
			delete(faPending, f.LocalPort())
			faMu.Unlock()
			f.SetState(FlowNull)
			r.FlowPut(f)
			r.FlowPut(f)
			return nil, err
		}
	}
	return f, nil
}

// FARespArrived implements fa-resp-arrived (spec.md §4.7): the
// initiator-side completion of the allocation handshake, invoked by the
// uipcp layer once a CREATE-R (or an immediate negative resolution, e.g.
// no DFT entry) is known. The real port id is always reported, even on a
// negative result (spec.md §9, open question 1).
func (r *Registry) FARespArrived(f *Flow, result int32, remotePort uint16, remoteCEP, remoteAddr uint32) {
	faMu.Lock()
	entry, ok := faPending[f.LocalPort()]
	delete(faPending, f.LocalPort())
	faMu.Unlock()

	portID := f.LocalPort()
	if result == 0 {
		f.SetRemote(remotePort, remoteCEP, remoteAddr)
		f.SetState(FlowAllocated)
	} else {
		f.SetState(FlowNull)
		// Spec.md §9 open question 2: the source frees both the table's
		// implicit reference and the pending-owner's reference here since
		// no bind will ever arrive to drop the latter (FlowAdd holds
		// refcount=2 for exactly this pair of puts).
		r.FlowPut(f)
		r.FlowPut(f)
	}
	if !ok {
		return
	}
	fixed := make([]byte, 8)
	binary.LittleEndian.PutUint16(fixed[0:], portID)
	binary.LittleEndian.PutUint16(fixed[2:], uint16(int16(result)))
	msg := &ctlproto.Message{
		Type:    ctlproto.MsgFARespArrived,
		EventID: entry.eventID,
		Fixed:   fixed,
	}
	_ = entry.owner.PushUpqueue(msg)
}

// FARequestArrived implements the kernel side of a responder receiving a
// peer's CREATE(flow) (spec.md §4.7): resolves localAppl among ipcp's
// registered applications, creates a pending flow owned by that
// application's handle, and delivers fa-req-arrived on its upqueue.
// rlerr.ErrNotFound means no such application is registered here.
func (r *Registry) FARequestArrived(ipcp *IPCP, localAppl, remoteAppl names.Name, cfg FlowConfig) (*Flow, error) {
	ipcp.regMu.Lock()
	var appl *RegisteredAppl
	for _, a := range ipcp.registeredAppls {
		if a.Name.Equal(localAppl) {
			appl = a
			break
		}
	}
	ipcp.regMu.Unlock()
	if appl == nil {
		return nil, rlerr.ErrNotFound
	}

	f, err := r.FlowAdd(ipcp, HandleUpper{appl.OwnerHandle}, localAppl, remoteAppl, cfg)
	if err != nil {
		return nil, err
	}
	appl.OwnerHandle.mu.Lock()
	appl.OwnerHandle.ownedFlows = append(appl.OwnerHandle.ownedFlows, f)
	appl.OwnerHandle.mu.Unlock()

	fixed := make([]byte, 12)
	binary.LittleEndian.PutUint16(fixed[0:], f.LocalPort())
	binary.LittleEndian.PutUint32(fixed[2:], f.LocalCEP())
	msg := &ctlproto.Message{
		Type:  ctlproto.MsgFARequestArrived,
		Fixed: fixed,
		Names: []names.Name{localAppl, remoteAppl},
	}
	_ = appl.OwnerHandle.PushUpqueue(msg)
	return f, nil
}

// FAResp implements fa-resp (spec.md §4.7): the responding application's
// accept/reject decision. Returns the flow's local port and cep so the
// uipcp layer can build CREATE-R; the port id is always the real one
// (spec.md §9, open question 1).
func (r *Registry) FAResp(f *Flow, response int32) (uint16, uint32) {
	port, cep := f.LocalPort(), f.LocalCEP()
	if response == 0 {
		f.SetState(FlowAllocated)
	} else {
		f.SetState(FlowNull)
		r.FlowPut(f)
		r.FlowPut(f)
	}
	return port, cep
}

// FlowDealloc implements flow-dealloc (spec.md §4.2): idempotent, the
// second call on an already-torn-down port returns rlerr.ErrNotFound
// without side effects (spec.md §8).
func (r *Registry) FlowDealloc(port uint16) error {
	f, err := r.FlowGetByPort(port)
	if err != nil {
		return rlerr.ErrNotFound
	}
	f.Shutdown()
	f.Bind(r) // drop the FlowAdd-time reference if no handle ever took it
	r.FlowPut(f)
	return nil
}
