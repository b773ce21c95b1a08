package kernel

import (
	"sync"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
)

// HandleFlag bits set via the single ioctl on the kernel pseudo-device
// (spec.md §6).
type HandleFlag uint32

const (
	// FlagIPCPs causes a retrospective enqueue of one ipcp-update(add) per
	// existing IPCP and subscribes the handle to all subsequent
	// ipcp-update fan-outs (spec.md §6).
	FlagIPCPs HandleFlag = 1 << iota
	// FlagPrivileged marks a handle as allowed to issue permissioned
	// messages (spec.md §4.3 "capability check").
	FlagPrivileged
)

// Handle is an open control handle: a process's connection to the kernel
// pseudo-device (spec.md §3 Upqueue, §6 kernel boundary).
type Handle struct {
	id int
	up *upqueue

	mu    sync.Mutex
	flags HandleFlag

	ownedAppls []*RegisteredAppl
	ownedFlows []*Flow

	// flowFetchCursor materializes the full ipcps/flows snapshot on first
	// flow-fetch/ipcp fetch and pops one entry per subsequent call,
	// mirroring the original ctrl-dev.c behavior noted in SPEC_FULL.md.
	flowFetchCursor []*Flow
	ipcpFetchCursor []*IPCP
}

func newHandle(id int) *Handle {
	return &Handle{id: id, up: newUpqueue()}
}

func (h *Handle) ID() int { return h.id }

func (h *Handle) HasFlag(f HandleFlag) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flags&f != 0
}

func (h *Handle) SetFlag(f HandleFlag) {
	h.mu.Lock()
	h.flags |= f
	h.mu.Unlock()
}

// UpqueueReader is the read side of a control handle's upward message
// queue, exposed to the daemon's control-plane transport.
type UpqueueReader interface {
	Pop() (*ctlproto.Message, error)
	TryPop() (*ctlproto.Message, bool)
	Len() int
}

// Upqueue exposes the handle's upward message queue to the control-plane
// transport (daemon package).
func (h *Handle) Upqueue() UpqueueReader {
	return h.up
}

// PushUpqueue enqueues m onto h's upqueue (used by registry handlers and
// by event fan-out).
func (h *Handle) PushUpqueue(m *ctlproto.Message) error {
	return h.up.Push(m)
}

// CloseUpqueue wakes every blocked reader of h's upqueue.
func (h *Handle) CloseUpqueue() {
	h.up.Close()
}
