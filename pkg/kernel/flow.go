package kernel

import (
	"sync"
	"time"

	"github.com/rlite-project/rlite-go/pkg/names"
)

// FlowState is the lifecycle state of a Flow (spec.md §4.2).
type FlowState int

const (
	FlowPending FlowState = iota
	FlowAllocated
	FlowDeallocated
	FlowNull
)

// FlowConfig carries the QoS/policy parameters negotiated at allocation
// time (spec.md §3 Flow.config); the normal factory translates this into a
// dtp.Config when building the flow's DTP engine.
type FlowConfig struct {
	DTCPPresent    bool
	WindowBased    bool
	RtxControl     bool
	InOrder        bool
	MaxSDUGap       int64
	InitialCredit   uint64
	InitialTR       time.Duration
	MaxRetx         int
	MPL, R, A       time.Duration
	MaxCwqLen       int
	MaxRtxqLen      int
	TokenBucketSize uint64
	TokenInterval   time.Duration
}

// DefaultFlowConfig is the zero-policy config: no DTCP, best-effort,
// MaxSDUGap 0 (an out-of-order PDU waits in the sequencing queue until the
// gap fills).
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{MaxCwqLen: 64, MaxRtxqLen: 64}
}

// Defaults mirrored from the original uipcp's flowspec2flowcfg (RL_RTX_MSECS_DFLT,
// RL_DATA_RXMS_MAX_DFLT, RL_A_MSECS_DFLT, initial-credit/max-cwq-len for a
// windowed flow).
const (
	defaultInitialTR     = time.Second
	defaultMaxRetx       = 10
	defaultA             = 20 * time.Millisecond
	defaultMPL           = 100 * time.Millisecond
	defaultInitialCredit = 60
	defaultMaxCwqLen     = 100
)

// NegotiatedFlowConfig derives a FlowConfig from the two booleans an fa-req
// actually carries over the wire (windowBased, rtxControl), the same
// deterministic translation the original's flowspec2flowcfg performs so an
// initiator and a responder independently computing this from identical
// inputs land on identical DTCP policy (spec.md §4.7).
func NegotiatedFlowConfig(windowBased, rtxControl bool) FlowConfig {
	cfg := FlowConfig{
		WindowBased: windowBased,
		RtxControl:  rtxControl,
		InOrder:     rtxControl,
		MaxCwqLen:   64,
		MaxRtxqLen:  64,
	}
	if !windowBased && !rtxControl {
		return cfg
	}
	cfg.DTCPPresent = true
	cfg.MPL = defaultMPL
	cfg.A = defaultA
	if rtxControl {
		cfg.InitialTR = defaultInitialTR
		cfg.MaxRetx = defaultMaxRetx
		cfg.R = cfg.InitialTR * time.Duration(cfg.MaxRetx)
		cfg.MaxRtxqLen = defaultMaxCwqLen
	}
	if windowBased {
		cfg.InitialCredit = defaultInitialCredit
		cfg.MaxCwqLen = defaultMaxCwqLen
	}
	return cfg
}

// DTPHandle is the minimal view kernel needs of a flow's DTP engine to
// implement the deferred-destruction rule in flow-put (spec.md §4.2 step
// 2) without kernel depending on the dtp package's concrete type.
type DTPHandle interface {
	DTCPPresent() bool
	QueuesNonEmpty() bool
	Shutdown()
}

// Upper is either an owning control Handle (application-bound flow) or an
// upper IPCP (recursive N-1 flow), per spec.md §3 Flow.upper.
type Upper interface {
	isUpper()
}

// HandleUpper wraps a *Handle so it satisfies Upper.
type HandleUpper struct{ *Handle }

func (HandleUpper) isUpper() {}

// IPCPUpper wraps an *IPCP so it satisfies Upper.
type IPCPUpper struct{ *IPCP }

func (IPCPUpper) isUpper() {}

// Flow is a bidirectional channel between two applications or IPCPs
// (spec.md §3, GLOSSARY).
type Flow struct {
	mu sync.Mutex

	localPort uint16
	localCEP  uint32 // only meaningful if ipcp.uses-cep-ids
	hasCEP    bool

	remotePort uint16
	remoteCEP  uint32
	remoteAddr uint32

	localAppl  names.Name
	remoteAppl names.Name

	upper Upper
	ipcp  *IPCP

	config FlowConfig
	state  FlowState

	dtp DTPHandle

	inbox *sduQueue

	pduftEntries []*pduftBackref

	stats FlowStats

	neverBound bool
	refcount   int

	// deferred destruction: not-before deadline set when flow-put finds a
	// non-empty cwq/rtxq (spec.md §4.2 step 2).
	deferredUntil time.Time
}

// FlowStats mirrors the counters exposed via flow-stats-req/resp.
type FlowStats struct {
	TxPDUs, RxPDUs   uint64
	TxBytes, RxBytes uint64
}

func (f *Flow) LocalPort() uint16  { return f.localPort }
func (f *Flow) LocalCEP() uint32   { return f.localCEP }
func (f *Flow) HasCEP() bool       { return f.hasCEP }
func (f *Flow) IPCP() *IPCP        { return f.ipcp }
func (f *Flow) Upper() Upper       { return f.upper }
func (f *Flow) Config() FlowConfig { return f.config }
func (f *Flow) LocalAppl() names.Name  { return f.localAppl }
func (f *Flow) RemoteAppl() names.Name { return f.remoteAppl }

func (f *Flow) RemotePort() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remotePort
}

func (f *Flow) RemoteCEP() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteCEP
}

func (f *Flow) RemoteAddr() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteAddr
}

// SetRemote binds the peer-side identifiers once the flow-allocation
// protocol completes the handshake (spec.md §4.7).
func (f *Flow) SetRemote(port uint16, cep, addr uint32) {
	f.mu.Lock()
	f.remotePort = port
	f.remoteCEP = cep
	f.remoteAddr = addr
	f.mu.Unlock()
}

// Stats returns a snapshot of the flow's transfer counters.
func (f *Flow) Stats() FlowStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Flow) AddTxStats(pdus, bytes uint64) {
	f.mu.Lock()
	f.stats.TxPDUs += pdus
	f.stats.TxBytes += bytes
	f.mu.Unlock()
}

func (f *Flow) AddRxStats(pdus, bytes uint64) {
	f.mu.Lock()
	f.stats.RxPDUs += pdus
	f.stats.RxBytes += bytes
	f.mu.Unlock()
}

func (f *Flow) State() FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SetState transitions the flow's lifecycle state (exported so the normal
// factory can move a flow to FlowAllocated once its DTP engine is wired).
func (f *Flow) SetState(s FlowState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// pduftBackref links a PDUFT row back to the flow that is its exit, so
// flow teardown can remove every row without a table scan (spec.md §9).
type pduftBackref struct {
	dstAddr uint32
	remove  func()
}
