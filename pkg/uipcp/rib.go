package uipcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// DFTEntry is one row of the directory forwarding table (spec.md §3
// "DFTEntry(appl-name, address, timestamp, local?)").
type DFTEntry struct {
	Addr      uint32
	Timestamp int64
	Local     bool
}

// LowerFlowEntry is one directed edge of the lower-flow link-state
// database (spec.md §3 "LowerFlow", GLOSSARY).
type LowerFlowEntry struct {
	Cost uint32
	Seq  uint64
	Age  uint32
}

type lowerFlowKey struct{ A, B uint32 }

type pendingAlloc struct {
	flow *kernel.Flow
}

type pendingResp struct {
	invokeID uint32
	srcAddr  uint32
}

// RIB owns one normal IPCP's enrollment, routing and directory state
// (spec.md §4.6-§4.8). Grounded on the teacher's IngestMuxer: one mutex
// serializing a small set of maps, plus background goroutines for aging
// and periodic resync.
type RIB struct {
	container *Container
	ipcp      *kernel.IPCP
	handle    *kernel.Handle
	log       *rlog.Logger

	invokeCounter uint32

	mu           sync.Mutex
	neighbors    map[string]*Neighbor // keyed by neighbor Name.String()
	neighborAddr map[uint32]*Neighbor // keyed by learned peer address
	lowerFlows   map[lowerFlowKey]*LowerFlowEntry
	dft          map[string]DFTEntry // keyed by appl-name (apn/api) string
	candidates   map[string]uint32   // neighbor-candidate name -> address

	pendingAlloc map[uint32]*pendingAlloc // invoke-id -> initiator-side allocation in flight
	pendingResp  map[uint16]*pendingResp  // local port -> responder-side allocation awaiting fa-resp
	loopback     map[uint16]*kernel.Flow  // responder local port -> matching same-node initiator flow

	addrCounter uint32

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newRIB(c *Container, ipcp *kernel.IPCP, h *kernel.Handle) *RIB {
	return &RIB{
		container:    c,
		ipcp:         ipcp,
		handle:       h,
		log:          c.log,
		neighbors:    make(map[string]*Neighbor),
		neighborAddr: make(map[uint32]*Neighbor),
		lowerFlows:   make(map[lowerFlowKey]*LowerFlowEntry),
		dft:          make(map[string]DFTEntry),
		candidates:   make(map[string]uint32),
		pendingAlloc: make(map[uint32]*pendingAlloc),
		pendingResp:  make(map[uint16]*pendingResp),
		loopback:     make(map[uint16]*kernel.Flow),
		stopCh:       make(chan struct{}),
	}
}

func (r *RIB) nextInvoke() uint32 {
	return atomic.AddUint32(&r.invokeCounter, 1)
}

// allocateAddress hands out an address to a newly enrolling initiator that
// didn't already have one (spec.md §4.6 transition 3 "if addr==0,
// allocate one"). Addresses are derived from this node's own address so
// two enrollers in different parts of the DIF don't collide; a real
// deployment needs a collision-free distributed allocator, out of scope
// here (spec.md §1 treats address assignment policy as unspecified beyond
// "0 is never valid").
func (r *RIB) allocateAddress() uint32 {
	n := atomic.AddUint32(&r.addrCounter, 1)
	return r.ipcp.Address()*1000 + n
}

func (r *RIB) neighborList() []*Neighbor {
	out := make([]*Neighbor, 0, len(r.neighbors))
	for _, n := range r.neighbors {
		out = append(out, n)
	}
	return out
}

func (r *RIB) neighborByAddr(addr uint32) (*Neighbor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.neighborAddr[addr]
	return n, ok
}

func (r *RIB) broadcast(neighbors []*Neighbor, msg *cdap.Message, exclude *Neighbor) {
	for _, nb := range neighbors {
		if nb == exclude {
			continue
		}
		_ = nb.send(msg)
	}
}

// Enroll starts (initiator) or accepts (responder) an 8-state enrollment
// handshake with neighName over an already-connected pair of lower flows:
// ctrlFlow carries CDAP signaling directly (spec.md §4.6), dataFlow is the
// IPCPUpper-bound flow that will be registered into the PDUFT once
// addresses are known (spec.md §4.5, §4.8). If neighName already names a
// live Neighbor, the new flows are attached to it as mgmt-port candidates
// instead of resetting its FSM (spec.md §4.6 recovery: a fresh lower flow
// to an already-enrolled neighbor gets a chance to be promoted, it
// doesn't restart enrollment from scratch on this side).
func (r *RIB) Enroll(lowerIPCP *kernel.IPCP, ctrlFlow, dataFlow *kernel.Flow, neighName names.Name, initiator bool) *Neighbor {
	r.mu.Lock()
	existing, ok := r.neighbors[neighName.String()]
	r.mu.Unlock()
	if ok {
		existing.addFlow(ctrlFlow, roleCtrl, false)
		existing.addFlow(dataFlow, roleData, false)
		return existing
	}

	n := &Neighbor{
		rib:       r,
		name:      neighName,
		initiator: initiator,
		lowerIPCP: lowerIPCP,
		flows:     make(map[uint16]*neighFlow),
		stopCh:    make(chan struct{}),
	}
	n.addFlow(ctrlFlow, roleCtrl, true)
	n.addFlow(dataFlow, roleData, false)

	r.mu.Lock()
	r.neighbors[neighName.String()] = n
	r.mu.Unlock()

	if initiator {
		n.sendConnect()
	} else {
		n.armTimer()
	}
	return n
}

func (r *RIB) removeNeighbor(n *Neighbor) {
	r.mu.Lock()
	if cur, ok := r.neighbors[n.name.String()]; ok && cur == n {
		delete(r.neighbors, n.name.String())
	}
	if n.addr != 0 {
		if cur, ok := r.neighborAddr[n.addr]; ok && cur == n {
			delete(r.neighborAddr, n.addr)
		}
		delete(r.lowerFlows, lowerFlowKey{A: r.ipcp.Address(), B: n.addr})
	}
	r.mu.Unlock()
	r.checkpoint()
	r.recomputeRoutes()
}

func (r *RIB) sendInitialSync(n *Neighbor) {
	r.mu.Lock()
	msgs := make([]*cdap.Message, 0, len(r.lowerFlows)+len(r.dft))
	for k, e := range r.lowerFlows {
		msgs = append(msgs, &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "lowerflow", ObjValue: encodeLowerFlow(k.A, k.B, e.Cost, e.Seq)})
	}
	for key, e := range r.dft {
		msgs = append(msgs, &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "dft", ObjValue: encodeDFTEntry(key, e.Addr, e.Timestamp)})
	}
	r.mu.Unlock()
	for _, m := range msgs {
		_ = n.send(m)
	}
}

func (r *RIB) startPeriodicTasks() {
	r.wg.Add(1)
	go r.periodicLoop()
}

func (r *RIB) periodicLoop() {
	defer r.wg.Done()
	ageT := time.NewTicker(AgeInterval)
	syncT := time.NewTicker(SyncInterval)
	defer ageT.Stop()
	defer syncT.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ageT.C:
			r.ageLowerFlows()
		case <-syncT.C:
			r.syncLowerFlows()
		}
	}
}

func (r *RIB) ageLowerFlows() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.lowerFlows {
		e.Age++
	}
}

// stop tears down background tasks and every neighbor connection.
func (r *RIB) stop() {
	close(r.stopCh)
	r.mu.Lock()
	neighbors := r.neighborList()
	r.mu.Unlock()
	for _, n := range neighbors {
		n.close()
	}
	r.wg.Wait()
}
