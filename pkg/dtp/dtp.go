// Package dtp implements the per-flow data-transfer-protocol engine
// (spec.md §4.4): the send/receive state machine, its congestion/
// retransmission/sequencing queues, and the token-bucket send gate.
// Grounded on the teacher's throttle.go (rate.Limiter wrapped around a
// net.Conn) reshaped around a flow's send path instead of a raw socket,
// and on ingestConnection.go's buffered-queue-plus-mutex-plus-cond style
// for the cwq/rtxq/seqq bookkeeping.
package dtp

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Transmitter hands a PDU down to the owning IPCP's rmt-tx path (spec.md
// §4.4 "hand to rmt-tx"). Implemented by the normal factory so dtp never
// needs to know about PDUFT or the RMT queue.
type Transmitter interface {
	RMTTx(dstAddr uint32, pdu *pci.PDU, canSleep bool) error
}

// Deliverer hands a fully in-order SDU up to whatever is bound above the
// flow — an application's read queue or a recursive upper IPCP's sdu-rx.
type Deliverer interface {
	Deliver(sdu []byte)
}

const (
	cwqCap = 64
	rtxqCap = 64
	seqqCap = 64
)

// sendBuf is one queued-for-retransmission or congestion-window-parked PDU.
type sendBuf struct {
	pdu        *pci.PDU
	rtxJiffies time.Time
}

// recvBuf is one out-of-order PDU parked in the sequencing queue.
type recvBuf struct {
	pdu *pci.PDU
}

// Engine is the DTP state for a single flow (spec.md §3 Flow.dtp-state).
// It implements kernel.DTPHandle so the kernel registry can drive deferred
// destruction without importing this package.
type Engine struct {
	mu sync.Mutex

	flow *kernel.Flow
	cfg  kernel.FlowConfig
	tx   Transmitter
	up   Deliverer

	limiter *rate.Limiter

	// send side
	nextSeq      uint64
	sndLWE       uint64
	sndRWE       uint64
	drfSent      bool
	lastCtrlSeq  uint64
	cwq          []*sendBuf
	rtxq         []*sendBuf
	rtxTimer     *time.Timer
	sndInactTime *time.Timer

	// receive side
	rcvLWEPriv    uint64
	rcvLWE        uint64
	rcvRWE        uint64
	drfExpected   bool
	lastCtrlRcvd  uint64
	lastSndDataAck uint64
	seqq          []*recvBuf
	rcvInactTimer *time.Timer

	closed bool
}

// New builds a DTP engine bound to flow, wired to tx for outbound PDUs and
// up for delivered SDUs (spec.md §4.4).
func New(flow *kernel.Flow, cfg kernel.FlowConfig, tx Transmitter, up Deliverer) *Engine {
	e := &Engine{
		flow:        flow,
		cfg:         cfg,
		tx:          tx,
		up:          up,
		drfExpected: true,
	}
	if cfg.TokenBucketSize > 0 {
		interval := cfg.TokenInterval
		if interval <= 0 {
			interval = time.Second
		}
		rps := rate.Limit(float64(cfg.TokenBucketSize) / interval.Seconds())
		e.limiter = rate.NewLimiter(rps, int(cfg.TokenBucketSize))
	}
	return e
}

// DTCPPresent reports whether this engine runs any DTCP policy (windowing
// or retransmission control), per spec.md §4.2's deferred-destruction rule.
func (e *Engine) DTCPPresent() bool {
	return e.cfg.WindowBased || e.cfg.RtxControl
}

// QueuesNonEmpty reports whether cwq or rtxq still hold PDUs, the other
// half of the deferred-destruction test.
func (e *Engine) QueuesNonEmpty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cwq) > 0 || len(e.rtxq) > 0
}

// Shutdown stops all timers and releases queued PDUs (spec.md §4.2 final
// step of flow-put).
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	if e.rtxTimer != nil {
		e.rtxTimer.Stop()
	}
	if e.sndInactTime != nil {
		e.sndInactTime.Stop()
	}
	if e.rcvInactTimer != nil {
		e.rcvInactTimer.Stop()
	}
	e.cwq = nil
	e.rtxq = nil
	e.seqq = nil
}

func (e *Engine) inactDuration() time.Duration {
	return 3 * (e.cfg.MPL + e.cfg.R + e.cfg.A)
}

// errWouldBlock is returned by Write when the token bucket rejects a
// non-sleeping send, when the cwq or rtxq is full, or when the engine is
// closed.
var errWouldBlock = rlerr.ErrWouldBlock
