package kernel

import "github.com/rlite-project/rlite-go/pkg/names"

// ApplState is the lifecycle state of a RegisteredAppl (spec.md §3).
type ApplState int

const (
	ApplPending ApplState = iota
	ApplComplete
)

// RegisteredAppl is an application name bound to an IPCP, awaiting or
// holding a completed registration (spec.md §3). Lives inside the owning
// IPCP's registeredAppls list, protected by that IPCP's regMu.
type RegisteredAppl struct {
	Name        names.Name
	IPCP        *IPCP
	OwnerHandle *Handle
	EventID     uint32
	State       ApplState
	refcount    int
}
