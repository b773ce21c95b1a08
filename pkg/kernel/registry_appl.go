package kernel

import (
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// ApplAdd registers name on ipcp for owner (spec.md §4.1), recording
// eventID and marking the entry ApplPending when needsUserspace is set;
// nothing is pushed to the owner's upqueue here. A duplicate registration
// by the same owner returns the existing entry with a nil error; a
// duplicate by another owner returns rlerr.ErrExists.
func (r *Registry) ApplAdd(ipcp *IPCP, name names.Name, owner *Handle, eventID uint32, needsUserspace bool) (*RegisteredAppl, error) {
	ipcp.regMu.Lock()
	for _, a := range ipcp.registeredAppls {
		if a.Name.Equal(name) {
			if a.OwnerHandle == owner {
				ipcp.regMu.Unlock()
				return a, nil // duplicate on same owner: distinct success
			}
			ipcp.regMu.Unlock()
			return nil, rlerr.ErrExists
		}
	}
	a := &RegisteredAppl{
		Name:        name,
		IPCP:        ipcp,
		OwnerHandle: owner,
		EventID:     eventID,
		State:       ApplComplete,
		refcount:    1,
	}
	if needsUserspace {
		a.State = ApplPending
	}
	ipcp.registeredAppls = append(ipcp.registeredAppls, a)
	ipcp.regMu.Unlock()

	owner.mu.Lock()
	owner.ownedAppls = append(owner.ownedAppls, a)
	owner.mu.Unlock()

	if registrar, ok := ipcp.ownerFactory.(factory.ApplRegistrar); ok {
		ipcp.mu.Lock()
		err := registrar.ApplRegister(ipcp.private, name.String())
		ipcp.mu.Unlock()
		if err != nil {
			_ = r.ApplDel(ipcp, name)
			return nil, err
		}
	}
	return a, nil
}

// ApplDel balances the registration and, once all references are dropped,
// unlinks it from the IPCP immediately (spec.md §4.1). When the IPCP's
// factory is an ApplRegistrar, a goroutine then only takes and releases the
// IPCP mutex; no factory-side unregistration is performed.
func (r *Registry) ApplDel(ipcp *IPCP, name names.Name) error {
	ipcp.regMu.Lock()
	idx := -1
	for i, a := range ipcp.registeredAppls {
		if a.Name.Equal(name) {
			idx = i
			break
		}
	}
	if idx < 0 {
		ipcp.regMu.Unlock()
		return rlerr.ErrNotFound
	}
	a := ipcp.registeredAppls[idx]
	a.refcount--
	done := a.refcount <= 0
	if done {
		ipcp.registeredAppls = append(ipcp.registeredAppls[:idx], ipcp.registeredAppls[idx+1:]...)
	}
	ipcp.regMu.Unlock()
	if !done {
		return nil
	}

	if _, ok := ipcp.ownerFactory.(factory.ApplRegistrar); ok {
		go func() {
			ipcp.mu.Lock()
			defer ipcp.mu.Unlock()
			// best-effort: nothing further to undo on the factory side in
			// this design, the kernel-side entry is already unlinked.
		}()
	}
	return nil
}
