package kernel

import "github.com/rlite-project/rlite-go/pkg/rlerr"

// UipcpSet binds h as ipcp's user-space controller (spec.md §4.3
// ipcp-uipcp-set). Only one may be bound at a time; a second bind is
// rejected with rlerr.ErrBusy, matching the §7 taxonomy's "uipcp-set
// twice" example.
func (r *Registry) UipcpSet(ipcp *IPCP, h *Handle) error {
	ipcp.mu.Lock()
	defer ipcp.mu.Unlock()
	if ipcp.uipcp != nil {
		return rlerr.ErrBusy
	}
	ipcp.uipcp = h
	ipcp.uipcpCond.Broadcast()
	return nil
}

// UipcpClear unbinds ipcp's current controller, used when the controlling
// daemon process exits or explicitly releases the IPCP.
func (r *Registry) UipcpClear(ipcp *IPCP, h *Handle) {
	ipcp.mu.Lock()
	defer ipcp.mu.Unlock()
	if ipcp.uipcp == h {
		ipcp.uipcp = nil
	}
}

// Uipcp returns ipcp's currently bound controller handle, if any.
func (i *IPCP) Uipcp() (*Handle, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.uipcp, i.uipcp != nil
}

// UipcpWait blocks until ipcp has a bound user-space controller (spec.md
// §4.3 ipcp-uipcp-wait), returning rlerr.ErrInterrupted if cancel fires
// first. No lock is held across the wait (spec.md §5 "no lock is held
// across any suspension"): the wait parks on ipcp's own mutex via a
// condition variable, which Cond.Wait releases for the duration.
func (r *Registry) UipcpWait(ipcp *IPCP, cancel <-chan struct{}) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-cancel:
			ipcp.mu.Lock()
			ipcp.uipcpCond.Broadcast()
			ipcp.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	ipcp.mu.Lock()
	defer ipcp.mu.Unlock()
	for ipcp.uipcp == nil {
		select {
		case <-cancel:
			return rlerr.ErrInterrupted
		default:
		}
		ipcp.uipcpCond.Wait()
	}
	return nil
}
