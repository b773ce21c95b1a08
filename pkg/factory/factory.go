// Package factory defines the capability interface every IPCP
// implementation (normal, shim-loopback, shim-udp) advertises, replacing
// the teacher-domain's ops-table-of-function-pointers pattern with plain
// Go interfaces and optional-method type assertions (spec.md §9).
package factory

import "github.com/rlite-project/rlite-go/pkg/pci"

// IPCPHandle is the subset of kernel.IPCP a factory implementation needs,
// kept as an interface here to avoid an import cycle between factory and
// kernel: kernel.IPCP satisfies this.
type IPCPHandle interface {
	ID() uint16
	Address() uint32
	Depth() uint32
}

// FlowHandle is the subset of kernel.Flow a factory implementation acts on.
type FlowHandle interface {
	LocalPort() uint16
	LocalCEP() uint32
}

// Core is the mandatory capability every IPCP factory variant implements.
type Core interface {
	// Type is the DIF-type name this factory registers against ("normal",
	// "shim-loopback", "shim-udp").
	Type() string

	// Create constructs per-IPCP private state, called once from
	// kernel.Registry.IPCPAdd under the new IPCP's not-yet-published state.
	Create(ipcp IPCPHandle) (Private, error)

	// Destroy runs the factory destructor when an IPCP's refcount reaches
	// zero (spec.md §4.1 ipcp-del).
	Destroy(priv Private) error

	// SDUWrite is the send-path entry point (spec.md §4.4 sdu-write).
	// canSleep indicates whether the caller may block on back-pressure.
	SDUWrite(priv Private, flow FlowHandle, pdu *pci.PDU, canSleep bool) error

	// SDURx is the receive-path entry point (spec.md §4.4 sdu-rx).
	SDURx(priv Private, pdu *pci.PDU) error
}

// Private is an opaque per-IPCP private-state handle a factory returns
// from Create and receives back on every other call.
type Private interface{}

// FlowAllocator is implemented by factories whose DIF runs its own flow
// allocation handshake in-band (shim-loopback bridges two flows directly
// instead).
type FlowAllocator interface {
	FlowInit(priv Private, flow FlowHandle) error
	FlowAllocateReq(priv Private, flow FlowHandle) error
	FlowAllocateResp(priv Private, flow FlowHandle, response int) error
}

// Configurable is implemented by factories accepting ipcp-config key/value
// pairs (spec.md §4.3 ipcp-config).
type Configurable interface {
	Config(priv Private, key, value string) error
}

// PDUFTCapable is implemented by factories owning a PDU forwarding table
// (spec.md §4.5).
type PDUFTCapable interface {
	PDUFTSet(priv Private, dstAddr uint32, flow FlowHandle) error
	PDUFTDel(priv Private, dstAddr uint32, flow FlowHandle) error
	PDUFTFlush(priv Private) error
}

// ApplRegistrar is implemented by factories whose DIF has a registration
// policy requiring confirmation from a user-space controller (spec.md
// §4.1 appl-add "needs-userspace").
type ApplRegistrar interface {
	ApplRegister(priv Private, name string) error
}

// MgmtSDUBuilder is implemented by factories exposing a management-SDU
// path (spec.md §6 "management pseudo-device").
type MgmtSDUBuilder interface {
	MgmtSDUBuild(priv Private, dstAddr uint32, payload []byte) (*pci.PDU, error)
}

// StatsProvider is implemented by factories tracking per-flow statistics.
type StatsProvider interface {
	FlowGetStats(priv Private, flow FlowHandle) (FlowStats, error)
}

// FlowStats is a snapshot of per-flow counters (spec.md §6 flow-stats-resp).
type FlowStats struct {
	TxPDUs, RxPDUs     uint64
	TxBytes, RxBytes   uint64
	TxDrops, RxDrops   uint64
	Retransmissions    uint64
}

// FlowCfgUpdater is implemented by factories that can apply a live flow
// config change (spec.md §4.3 flow-cfg-update).
type FlowCfgUpdater interface {
	FlowCfgUpdate(priv Private, flow FlowHandle, key, value string) error
}

// FlowDeallocNotifiee is implemented by factories that want to observe
// flow teardown (spec.md §4.2 flow-put step 1).
type FlowDeallocNotifiee interface {
	FlowDeallocated(priv Private, flow FlowHandle)
}

// Registry is where factories register themselves against a DIF-type
// name, mirroring spec.md §2 "two factories register against DIF-type
// names". kernel.Registry embeds one of these.
type Registry struct {
	factories map[string]Core
}

// NewRegistry returns an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Core)}
}

// Register adds f under its Type() name.
func (r *Registry) Register(f Core) {
	r.factories[f.Type()] = f
}

// Lookup returns the factory registered for difType, if any.
func (r *Registry) Lookup(difType string) (Core, bool) {
	f, ok := r.factories[difType]
	return f, ok
}
