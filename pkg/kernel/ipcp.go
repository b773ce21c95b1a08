package kernel

import (
	"sync"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// IPCPFlag bits (spec.md §3 IPCP.flags).
type IPCPFlag uint32

const (
	FlagUsesCEPIDs IPCPFlag = 1 << iota
	FlagZombie
)

// IPCP is one participant in a DIF (spec.md §3, GLOSSARY).
type IPCP struct {
	mu sync.Mutex

	id    uint16
	name  names.Name
	dif   *DIF
	depth uint32

	address uint32
	flags   IPCPFlag

	ownerFactory factory.Core
	private      factory.Private

	uipcp     *Handle // 0 or 1 current owner
	uipcpCond *sync.Cond

	shortcut    *IPCP
	shortcutRef int

	rmtQueue []rmtEntry // per-IPCP RMT back-pressure queue, hard cap 64

	registeredAppls []*RegisteredAppl
	regMu           sync.Mutex // registration lock; never nests inside mu

	refcount int
}

type rmtEntry struct {
	dstAddr uint32
	payload []byte
}

const rmtQueueCap = 64

func (i *IPCP) ID() uint16      { return i.id }
func (i *IPCP) Address() uint32 { return i.address }
func (i *IPCP) Depth() uint32   { return i.depth }
func (i *IPCP) Name() names.Name { return i.name }
func (i *IPCP) DIF() *DIF        { return i.dif }
func (i *IPCP) Private() factory.Private { return i.private }
func (i *IPCP) Factory() factory.Core    { return i.ownerFactory }

func (i *IPCP) isZombie() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.flags&FlagZombie != 0
}

// Lock/Unlock expose the per-IPCP reconfiguration mutex to callers (e.g.
// pduft-set, ipcp-config) that must serialize with other mutations.
func (i *IPCP) Lock()   { i.mu.Lock() }
func (i *IPCP) Unlock() { i.mu.Unlock() }

// SetAddress sets the IPCP's address under the reconfiguration mutex
// (spec.md §4.3 ipcp-config, scenario 1).
func (i *IPCP) SetAddress(addr uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.address = addr
}

// pushRMT parks a PDU on the per-IPCP RMT back-pressure queue (spec.md
// §4.4 rmt-tx "not permit sleep" path). Returns false when rmtQueueCap
// entries are already queued, in which case the PDU is dropped (the newest
// is dropped, matching the upqueue overflow policy).
func (i *IPCP) pushRMT(dstAddr uint32, payload []byte) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.rmtQueue) >= rmtQueueCap {
		return false
	}
	i.rmtQueue = append(i.rmtQueue, rmtEntry{dstAddr: dstAddr, payload: payload})
	return true
}

func (i *IPCP) drainRMT() []rmtEntry {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.rmtQueue
	i.rmtQueue = nil
	return out
}

// RMTEntry is the exported view of a parked RMT-queue payload.
type RMTEntry struct {
	DstAddr uint32
	Payload []byte
}

// PushRMT parks a payload on the per-IPCP RMT back-pressure queue (spec.md
// §4.4 rmt-tx "not permit sleep" path), for use by factory implementations
// that don't keep their own RMT queue. Returns false on overrun (cap 64).
func (i *IPCP) PushRMT(dstAddr uint32, payload []byte) bool {
	return i.pushRMT(dstAddr, payload)
}

// DrainRMT empties and returns the per-IPCP RMT queue.
func (i *IPCP) DrainRMT() []RMTEntry {
	entries := i.drainRMT()
	out := make([]RMTEntry, len(entries))
	for idx, e := range entries {
		out[idx] = RMTEntry{DstAddr: e.dstAddr, Payload: e.payload}
	}
	return out
}
