package uipcp

import (
	"bytes"
	"sync"
	"time"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// EnrollState is one of the 8 states of the enrollment handshake
// (spec.md §4.6, GLOSSARY "Enrollment").
type EnrollState int

const (
	StateNone EnrollState = iota
	StateIWaitConnectR
	StateSWaitStart
	StateIWaitStartR
	StateSWaitStopR
	StateIWaitStop
	StateIWaitStart // reachable only on the start-early=false path this system never takes; kept for state-enum completeness
	StateEnrolled
)

const objClassKeepalive = "keepalive"

// neighFlowRole distinguishes a ctrl-role lower flow (HandleUpper-bound,
// eligible to carry CDAP signaling and to be promoted to mgmt-port) from a
// data-role one (IPCPUpper-bound, consumed by the kernel's PDU-forwarding
// path and never read here).
type neighFlowRole int

const (
	roleCtrl neighFlowRole = iota
	roleData
)

type neighFlow struct {
	flow *kernel.Flow
	role neighFlowRole
}

// Neighbor is one enrolled or enrolling peer IPCP (spec.md §3
// "Neighbor"): the enrollment FSM, its lower flows keyed by port, and
// keepalive bookkeeping. A neighbor can accumulate more than one lower
// flow over its lifetime (spec.md §3 "flows-by-port"); exactly one
// ctrl-role flow is the mgmt-port at a time, carrying CDAP signaling,
// and a lost mgmt flow can be replaced by promoting another one instead
// of tearing the neighbor down (spec.md §4.6).
type Neighbor struct {
	rib       *RIB
	name      names.Name
	initiator bool

	lowerIPCP *kernel.IPCP

	mu       sync.Mutex
	flows    map[uint16]*neighFlow
	mgmtPort uint16

	state   EnrollState
	addr    uint32
	retries int

	enrollTimer    *time.Timer
	keepaliveTimer *time.Timer
	keepaliveMiss  int

	stopCh chan struct{}
}

// addFlow records a lower flow under this neighbor, promoting it to
// mgmt-port when mgmt is true. Only ctrl-role flows get a CDAP read loop:
// a data-role flow's inbox belongs to the kernel's PDU-forwarding path.
func (n *Neighbor) addFlow(flow *kernel.Flow, role neighFlowRole, mgmt bool) {
	n.mu.Lock()
	n.flows[flow.LocalPort()] = &neighFlow{flow: flow, role: role}
	if mgmt {
		n.mgmtPort = flow.LocalPort()
	}
	n.mu.Unlock()

	if role == roleCtrl {
		n.rib.wg.Add(1)
		go n.readLoop(flow)
	}
}

// mgmtFlow returns the lower flow currently carrying CDAP signaling, or
// nil if none is live.
func (n *Neighbor) mgmtFlow() *kernel.Flow {
	n.mu.Lock()
	defer n.mu.Unlock()
	nf, ok := n.flows[n.mgmtPort]
	if !ok {
		return nil
	}
	return nf.flow
}

// dataFlow returns a lower flow suitable for PDUFT next-hop forwarding:
// any data-role flow, falling back to the mgmt flow if this neighbor has
// no dedicated data-role flow yet.
func (n *Neighbor) dataFlow() *kernel.Flow {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, nf := range n.flows {
		if nf.role == roleData {
			return nf.flow
		}
	}
	if nf, ok := n.flows[n.mgmtPort]; ok {
		return nf.flow
	}
	return nil
}

func (n *Neighbor) State() EnrollState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Neighbor) Address() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

func (n *Neighbor) send(msg *cdap.Message) error {
	flow := n.mgmtFlow()
	if flow == nil {
		return rlerr.ErrNotFound
	}
	var buf bytes.Buffer
	if err := msg.Encode(&buf); err != nil {
		return err
	}
	return n.lowerIPCP.Factory().SDUWrite(n.lowerIPCP.Private(), flow, &pci.PDU{Data: buf.Bytes()}, true)
}

func (n *Neighbor) close() {
	select {
	case <-n.stopCh:
	default:
		close(n.stopCh)
	}
	n.mu.Lock()
	if n.enrollTimer != nil {
		n.enrollTimer.Stop()
	}
	if n.keepaliveTimer != nil {
		n.keepaliveTimer.Stop()
	}
	flows := make([]*kernel.Flow, 0, len(n.flows))
	for _, nf := range n.flows {
		flows = append(flows, nf.flow)
	}
	n.mu.Unlock()
	for _, f := range flows {
		f.CloseInbox()
	}
}

func (n *Neighbor) readLoop(flow *kernel.Flow) {
	defer n.rib.wg.Done()
	for {
		sdu, err := flow.ReadSDU()
		if err != nil {
			return
		}
		msg, err := cdap.Decode(bytes.NewReader(sdu))
		if err != nil {
			n.rib.log.Warn("uipcp: malformed cdap record", rlog.KV("neighbor", n.name.String()))
			continue
		}
		n.dispatch(msg, flow)
	}
}

func (n *Neighbor) dispatch(msg *cdap.Message, flow *kernel.Flow) {
	switch msg.Op {
	case cdap.MConnect:
		n.onConnect(msg, flow)
	case cdap.MConnectR:
		n.onConnectR(msg)
	case cdap.MStart:
		n.onStart(msg)
	case cdap.MStartR:
		n.onStartR(msg)
	case cdap.MStop:
		n.onStop(msg)
	case cdap.MStopR:
		n.onStopR(msg)
	case cdap.MRead:
		n.onKeepaliveReq(msg)
	case cdap.MReadR:
		n.onKeepaliveResp(msg)
	case cdap.MRelease:
		n.onRelease()
	case cdap.MCreate:
		if n.State() != StateEnrolled {
			return
		}
		n.dispatchEnrolledCreate(msg)
	case cdap.MWrite:
		if n.State() != StateEnrolled {
			return
		}
		n.dispatchAData(msg)
	}
}

func (n *Neighbor) dispatchEnrolledCreate(msg *cdap.Message) {
	switch msg.ObjClass {
	case "dft":
		n.rib.handleDFTGossip(n, msg)
	case "lowerflow":
		n.rib.handleLowerFlowGossip(n, msg)
	case "neighbor-candidate":
		n.rib.handleCandidateGossip(n, msg)
	}
}

// dispatchAData handles the flow-allocation CDAP exchange, which travels
// wrapped in an A-DATA envelope (spec.md §6 GLOSSARY "A-DATA") since its
// source and destination addresses may not be this direct neighbor.
func (n *Neighbor) dispatchAData(msg *cdap.Message) {
	adata, err := cdap.Unwrap(msg)
	if err != nil || adata.Inner.ObjClass != "flow" {
		return
	}
	switch adata.Inner.Op {
	case cdap.MCreate:
		n.rib.handleFlowCreate(adata, adata.Inner)
	case cdap.MCreateR:
		n.rib.handleFlowCreateR(adata.Inner)
	case cdap.MDelete:
		n.rib.handleFlowDelete(adata, adata.Inner)
	}
}

// --- enrollment transitions (spec.md §4.6) ---

func (n *Neighbor) sendConnect() {
	n.mu.Lock()
	n.state = StateIWaitConnectR
	n.mu.Unlock()
	_ = n.send(&cdap.Message{
		Op:       cdap.MConnect,
		InvokeID: n.rib.nextInvoke(),
		ObjClass: "neighbor",
		ObjName:  n.rib.ipcp.Name().String(),
	})
	n.armTimer()
}

// onConnect: transition 1, responder side. A CONNECT arriving on a
// ctrl-role flow other than the current mgmt-port while this neighbor
// already looks enrolled is the §4.6 recovery case: the old mgmt flow is
// presumed gone, so the new one is promoted in its place and the
// handshake restarts against it.
func (n *Neighbor) onConnect(msg *cdap.Message, flow *kernel.Flow) {
	n.mu.Lock()
	if n.initiator {
		n.mu.Unlock()
		return
	}
	if n.state == StateEnrolled {
		if flow.LocalPort() == n.mgmtPort {
			n.mu.Unlock()
			return
		}
		n.mgmtPort = flow.LocalPort()
		n.keepaliveMiss = 0
		if n.keepaliveTimer != nil {
			n.keepaliveTimer.Stop()
			n.keepaliveTimer = nil
		}
	} else if n.state != StateNone {
		n.mu.Unlock()
		return
	}
	n.state = StateSWaitStart
	n.mu.Unlock()
	n.cancelTimer()
	_ = n.send(&cdap.Message{Op: cdap.MConnectR, InvokeID: msg.InvokeID, Result: 0})
	n.armTimer()
}

// onConnectR: transition 1/2, initiator side.
func (n *Neighbor) onConnectR(msg *cdap.Message) {
	n.mu.Lock()
	if !n.initiator || n.state != StateIWaitConnectR {
		n.mu.Unlock()
		return
	}
	if msg.Result != 0 {
		n.mu.Unlock()
		n.giveUp()
		return
	}
	n.state = StateIWaitStartR
	n.mu.Unlock()
	n.cancelTimer()
	_ = n.send(&cdap.Message{
		Op:       cdap.MStart,
		InvokeID: n.rib.nextInvoke(),
		ObjClass: "neighbor",
		ObjValue: encodeAddr(n.rib.ipcp.Address()),
	})
	n.armTimer()
}

// onStart: transition 3, responder side.
func (n *Neighbor) onStart(msg *cdap.Message) {
	n.mu.Lock()
	if n.initiator || n.state != StateSWaitStart {
		n.mu.Unlock()
		return
	}
	addr := decodeAddr(msg.ObjValue)
	if addr == 0 {
		addr = n.rib.allocateAddress()
	}
	n.addr = addr
	n.state = StateSWaitStopR
	n.mu.Unlock()
	n.cancelTimer()

	n.rib.noteCandidate(n.name, addr)

	_ = n.send(&cdap.Message{Op: cdap.MStartR, InvokeID: msg.InvokeID, Result: 0, ObjValue: encodeAddr(addr)})
	_ = n.send(&cdap.Message{Op: cdap.MStop, InvokeID: n.rib.nextInvoke(), ObjClass: "enrollment", ObjValue: []byte{1}})
	n.armTimer()
}

// onStartR: transition 3, initiator side.
func (n *Neighbor) onStartR(msg *cdap.Message) {
	n.mu.Lock()
	if !n.initiator || n.state != StateIWaitStartR {
		n.mu.Unlock()
		return
	}
	addr := decodeAddr(msg.ObjValue)
	if n.rib.ipcp.Address() == 0 && addr != 0 {
		n.rib.ipcp.SetAddress(addr)
	}
	n.addr = addr
	n.state = StateIWaitStop
	n.mu.Unlock()
	n.cancelTimer()
	n.armTimer()
}

// onStop: transition 4, initiator side, start-early=true.
func (n *Neighbor) onStop(msg *cdap.Message) {
	n.mu.Lock()
	if !n.initiator || n.state != StateIWaitStop {
		n.mu.Unlock()
		return
	}
	n.state = StateEnrolled
	n.retries = 0
	n.mu.Unlock()
	n.cancelTimer()

	n.rib.commitLowerFlow(n)
	_ = n.send(&cdap.Message{Op: cdap.MStopR, InvokeID: msg.InvokeID, Result: 0})
	n.startKeepalive()
	n.rib.sendInitialSync(n)
}

// onStopR: transition 5, responder side.
func (n *Neighbor) onStopR(msg *cdap.Message) {
	n.mu.Lock()
	if n.initiator || n.state != StateSWaitStopR {
		n.mu.Unlock()
		return
	}
	n.state = StateEnrolled
	n.retries = 0
	n.mu.Unlock()
	n.cancelTimer()

	n.rib.commitLowerFlow(n)
	_ = n.send(&cdap.Message{Op: cdap.MStart, InvokeID: n.rib.nextInvoke(), ObjClass: "enrollment-status", Result: 0})
	n.startKeepalive()
	n.rib.sendInitialSync(n)
}

func (n *Neighbor) armTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enrollTimer != nil {
		n.enrollTimer.Stop()
	}
	n.enrollTimer = time.AfterFunc(EnrollTimeout, n.onEnrollTimeout)
}

func (n *Neighbor) cancelTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.enrollTimer != nil {
		n.enrollTimer.Stop()
		n.enrollTimer = nil
	}
}

// onEnrollTimeout: only the initiator retries (up to EnrollMaxRetries),
// resending CONNECT; the responder simply gives up and waits to be
// re-approached (spec.md §4.6 "up to 3 initiator retries").
func (n *Neighbor) onEnrollTimeout() {
	n.mu.Lock()
	if n.state == StateEnrolled || n.state == StateNone {
		n.mu.Unlock()
		return
	}
	if !n.initiator {
		n.mu.Unlock()
		n.giveUp()
		return
	}
	n.retries++
	if n.retries > EnrollMaxRetries {
		n.mu.Unlock()
		n.giveUp()
		return
	}
	n.state = StateIWaitConnectR
	n.mu.Unlock()
	_ = n.send(&cdap.Message{
		Op:       cdap.MConnect,
		InvokeID: n.rib.nextInvoke(),
		ObjClass: "neighbor",
		ObjName:  n.rib.ipcp.Name().String(),
	})
	n.armTimer()
}

// giveUp aborts the enrollment attempt: sends an M_RELEASE so the peer
// doesn't keep this side's half-open state around, then tears the
// neighbor down (spec.md §4.6 "Abort resets conn, sends RELEASE").
func (n *Neighbor) giveUp() {
	_ = n.send(&cdap.Message{Op: cdap.MRelease, InvokeID: n.rib.nextInvoke()})
	n.mu.Lock()
	n.state = StateNone
	n.mu.Unlock()
	n.rib.removeNeighbor(n)
	n.close()
}

// onRelease tears down locally on an incoming M_RELEASE (spec.md §4.6
// "Abort resets conn, sends RELEASE"): the peer gave up, so there's
// nothing to reply with, just drop the neighbor.
func (n *Neighbor) onRelease() {
	n.mu.Lock()
	n.state = StateNone
	n.mu.Unlock()
	n.rib.removeNeighbor(n)
	n.close()
}

// --- keepalive (spec.md §4.6 "5s interval, 3-miss eviction") ---

func (n *Neighbor) startKeepalive() {
	n.mu.Lock()
	n.keepaliveMiss = 0
	n.keepaliveTimer = time.AfterFunc(KeepaliveInterval, n.sendKeepalive)
	n.mu.Unlock()
}

func (n *Neighbor) sendKeepalive() {
	n.mu.Lock()
	if n.state != StateEnrolled {
		n.mu.Unlock()
		return
	}
	n.keepaliveMiss++
	miss := n.keepaliveMiss
	n.mu.Unlock()

	if miss > KeepaliveMaxMiss {
		n.evict()
		return
	}
	_ = n.send(&cdap.Message{Op: cdap.MRead, InvokeID: n.rib.nextInvoke(), ObjClass: objClassKeepalive})

	n.mu.Lock()
	n.keepaliveTimer = time.AfterFunc(KeepaliveInterval, n.sendKeepalive)
	n.mu.Unlock()
}

func (n *Neighbor) onKeepaliveReq(msg *cdap.Message) {
	if msg.ObjClass != objClassKeepalive {
		return
	}
	_ = n.send(&cdap.Message{Op: cdap.MReadR, InvokeID: msg.InvokeID, ObjClass: objClassKeepalive, Result: 0})
}

// markAlive resets the miss counter; it is called when a keepalive reply
// (M_READ_R of the keepalive class) arrives from the neighbor.
func (n *Neighbor) markAlive() {
	n.mu.Lock()
	n.keepaliveMiss = 0
	n.mu.Unlock()
}

func (n *Neighbor) onKeepaliveResp(msg *cdap.Message) {
	if msg.ObjClass != objClassKeepalive {
		return
	}
	n.markAlive()
}

// promoteMgmt scans this neighbor's other ctrl-role lower flows for one
// to replace an unresponsive mgmt-port (spec.md §3 "flows-by-port"). It
// reports whether a replacement was found.
func (n *Neighbor) promoteMgmt() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for port, nf := range n.flows {
		if nf.role != roleCtrl || port == n.mgmtPort {
			continue
		}
		n.mgmtPort = port
		n.keepaliveMiss = 0
		return true
	}
	return false
}

// evict responds to KeepaliveMaxMiss consecutive missed keepalives: try
// to promote another lower flow to mgmt first, and only tear the
// neighbor down once it has no flows left to fall back on (spec.md
// §4.6).
func (n *Neighbor) evict() {
	if n.promoteMgmt() {
		n.rib.log.Warn("uipcp: mgmt-port unresponsive, promoted a replacement flow", rlog.KV("neighbor", n.name.String()))
		n.mu.Lock()
		n.keepaliveTimer = time.AfterFunc(KeepaliveInterval, n.sendKeepalive)
		n.mu.Unlock()
		return
	}
	n.rib.log.Warn("uipcp: evicting neighbor with no flows left", rlog.KV("neighbor", n.name.String()))
	n.mu.Lock()
	n.state = StateNone
	if n.keepaliveTimer != nil {
		n.keepaliveTimer.Stop()
	}
	n.mu.Unlock()
	n.rib.removeNeighbor(n)
	n.close()
}
