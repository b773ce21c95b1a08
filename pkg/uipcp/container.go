package uipcp

import (
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Container multiplexes every uipcp-managed normal IPCP's RIB in this
// process, keyed by IPCP id (spec.md §6 "a uipcp process controls one or
// more IPCPs"). It implements normal.AllocHandler so a single Container
// can be registered against every normal.Factory instance in the process.
type Container struct {
	reg   *kernel.Registry
	log   *rlog.Logger
	store *ribStore

	mu   sync.Mutex
	ribs map[uint16]*RIB
}

// NewContainer builds an empty Container bound to reg. dbPath names a
// bbolt file the container's RIBs checkpoint their directory and
// lower-flow tables to; an empty dbPath disables persistence.
func NewContainer(reg *kernel.Registry, log *rlog.Logger, dbPath string) (*Container, error) {
	if log == nil {
		log = rlog.Discard()
	}
	store, err := openRIBStore(dbPath)
	if err != nil {
		return nil, err
	}
	return &Container{reg: reg, log: log, store: store, ribs: make(map[uint16]*RIB)}, nil
}

// Close releases the container's persisted-state store, if any.
func (c *Container) Close() error {
	return c.store.close()
}

// Bind creates and starts a RIB for ipcp, claiming it via
// kernel.Registry.UipcpSet (spec.md §4.3 ipcp-uipcp-set). ipcp must already
// have an address assigned via ipcp-config before flow allocation or
// routing will work, but enrollment may start beforehand.
func (c *Container) Bind(ipcp *kernel.IPCP) (*RIB, error) {
	h := c.reg.OpenHandle()
	if err := c.reg.UipcpSet(ipcp, h); err != nil {
		return nil, err
	}
	rib := newRIB(c, ipcp, h)
	rib.restore()
	rib.recomputeRoutes()

	c.mu.Lock()
	c.ribs[ipcp.ID()] = rib
	c.mu.Unlock()

	rib.startPeriodicTasks()
	return rib, nil
}

// Unbind stops rib's background tasks and releases its uipcp claim.
func (c *Container) Unbind(rib *RIB) {
	rib.stop()
	c.mu.Lock()
	delete(c.ribs, rib.ipcp.ID())
	c.mu.Unlock()
	c.reg.UipcpClear(rib.ipcp, rib.handle)
}

func (c *Container) ribFor(ipcp *kernel.IPCP) (*RIB, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ribs[ipcp.ID()]
	return r, ok
}

// RIBFor exposes ribFor for the daemon package, which needs the RIB to
// drive ipcp-enroll, ipcp-dft-set and the rib-show commands.
func (c *Container) RIBFor(ipcp *kernel.IPCP) (*RIB, bool) {
	return c.ribFor(ipcp)
}

// FlowAllocateReq implements normal.AllocHandler (spec.md §4.7 fa-req,
// initiator side): resolves the destination via the RIB's DFT and starts
// the CDAP CREATE handshake.
func (c *Container) FlowAllocateReq(ipcp *kernel.IPCP, flow *kernel.Flow) error {
	rib, ok := c.ribFor(ipcp)
	if !ok {
		return rlerr.ErrNotFound
	}
	return rib.initiateFlowAllocation(flow)
}

// FlowAllocateResp implements normal.AllocHandler (spec.md §4.7 fa-resp,
// responder side): sends CREATE-R/DELETE back to the initiator.
func (c *Container) FlowAllocateResp(ipcp *kernel.IPCP, flow *kernel.Flow, response int) error {
	rib, ok := c.ribFor(ipcp)
	if !ok {
		return rlerr.ErrNotFound
	}
	return rib.respondFlowAllocation(flow, response)
}

// FlowDeallocated implements normal.AllocHandler: hands the teardown to the
// IPCP's RIB (rib.flowDeallocated). PDUFT rows pinned on flow are removed by
// the kernel's own backrefs, not here.
func (c *Container) FlowDeallocated(ipcp *kernel.IPCP, flow *kernel.Flow) {
	if rib, ok := c.ribFor(ipcp); ok {
		rib.flowDeallocated(flow)
	}
}
