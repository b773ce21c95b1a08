// Package shimloopback implements the loopback IPCP factory (spec.md
// §2, §4.5 scenario 2): it bridges two flows in-process with an optional
// bounded queue and controlled tail-drop, standing in for the bottom of
// the recursion instead of a real transport. Grounded on the teacher's
// chancacher package for the bounded-channel-plus-drain-goroutine shape.
package shimloopback

import (
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// defaultQueueDepth is the per-direction bounded queue size; spec.md §4.5
// only says "optional queueing and controlled drop" without a number, so
// this picks a modest depth matching the kernel's other hard caps (64)
// scaled down since a loopback shim has no real propagation delay to
// smooth over.
const defaultQueueDepth = 16

// Factory is the "shim-loopback" DIF-type IPCP factory.
type Factory struct {
	log *rlog.Logger
}

func New(log *rlog.Logger) *Factory {
	if log == nil {
		log = rlog.Discard()
	}
	return &Factory{log: log}
}

func (f *Factory) Type() string { return "shim-loopback" }

type pairing struct {
	peer  *kernel.Flow
	queue chan []byte
	drops uint64
}

type ipcpState struct {
	mu      sync.Mutex
	ipcp    *kernel.IPCP
	byPort  map[uint16]*pairing
	queueCap int
}

func (f *Factory) Create(h factory.IPCPHandle) (factory.Private, error) {
	ipcp, ok := h.(*kernel.IPCP)
	if !ok {
		return nil, rlerr.ErrInvalidArg
	}
	return &ipcpState{
		ipcp:     ipcp,
		byPort:   make(map[uint16]*pairing),
		queueCap: defaultQueueDepth,
	}, nil
}

func (f *Factory) Destroy(priv factory.Private) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, p := range st.byPort {
		close(p.queue)
	}
	st.byPort = nil
	return nil
}

// Config implements factory.Configurable: the single recognized key is
// "queue-depth", the bound applied to pairs created after the change.
func (f *Factory) Config(priv factory.Private, key, value string) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if key != "queue-depth" {
		return rlerr.ErrInvalidArg
	}
	n := 0
	for _, c := range value {
		if c < '0' || c > '9' {
			return rlerr.ErrInvalidArg
		}
		n = n*10 + int(c-'0')
	}
	if n <= 0 {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	st.queueCap = n
	st.mu.Unlock()
	return nil
}

// Pair wires two flows hosted on this loopback IPCP together so that an
// SDU written on one is delivered (subject to queueing/drop) to the
// other's upper layer. Called by the flow-allocation path once both ends
// of an in-process allocation exist.
func (f *Factory) Pair(priv factory.Private, a, b *kernel.Flow) {
	st, ok := priv.(*ipcpState)
	if !ok {
		return
	}
	st.mu.Lock()
	depth := st.queueCap
	pa := &pairing{peer: b, queue: make(chan []byte, depth)}
	pb := &pairing{peer: a, queue: make(chan []byte, depth)}
	st.byPort[a.LocalPort()] = pa
	st.byPort[b.LocalPort()] = pb
	st.mu.Unlock()

	go st.pump(pa)
	go st.pump(pb)
}

func (st *ipcpState) pump(p *pairing) {
	for sdu := range p.queue {
		deliver(p.peer, sdu)
	}
}

// SDUWrite implements factory.Core: non-blocking enqueue onto the peer's
// inbound queue when canSleep is false (dropping on overrun), blocking
// send otherwise (spec.md §4.5 "optional queueing and controlled drop").
func (f *Factory) SDUWrite(priv factory.Private, fh factory.FlowHandle, pdu *pci.PDU, canSleep bool) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	kf, ok := fh.(*kernel.Flow)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	p, ok := st.byPort[kf.LocalPort()]
	st.mu.Unlock()
	if !ok {
		return rlerr.ErrNotFound
	}

	data := append([]byte(nil), pdu.Data...)
	if canSleep {
		p.queue <- data
		return nil
	}
	select {
	case p.queue <- data:
		return nil
	default:
		return rlerr.ErrNoSpace
	}
}

// SDURx implements factory.Core. The loopback shim never receives PDUs
// from outside the process, so this path is unreachable in practice; kept
// to satisfy factory.Core.
func (f *Factory) SDURx(priv factory.Private, pdu *pci.PDU) error {
	return rlerr.ErrInvalidArg
}

// deliver hands sdu to flow's bound upper layer, mirroring normal's
// upperDeliverer (spec.md §4.4 "deliver to the upper layer").
func deliver(flow *kernel.Flow, sdu []byte) {
	switch up := flow.Upper().(type) {
	case kernel.HandleUpper:
		_ = flow.PushSDU(sdu)
	case kernel.IPCPUpper:
		inner, err := pci.DecodePDU(sdu)
		if err != nil {
			return
		}
		_ = up.IPCP.Factory().SDURx(up.IPCP.Private(), inner)
	}
}
