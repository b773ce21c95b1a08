package kernel

import (
	"sync"

	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

const sduInboxCap = 64

// sduQueue is the bounded FIFO of delivered-but-unread SDUs for an
// application-bound flow, the data-path analog of upqueue (spec.md §3
// Flow, §4.4 "deliver to the upper layer").
type sduQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      [][]byte
	closed bool
}

func newSDUQueue() *sduQueue {
	sq := &sduQueue{}
	sq.cond = sync.NewCond(&sq.mu)
	return sq
}

func (sq *sduQueue) push(sdu []byte) error {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.closed {
		return rlerr.ErrNotFound
	}
	if len(sq.q) >= sduInboxCap {
		return rlerr.ErrNoSpace
	}
	sq.q = append(sq.q, sdu)
	sq.cond.Signal()
	return nil
}

func (sq *sduQueue) pop() ([]byte, error) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	for len(sq.q) == 0 && !sq.closed {
		sq.cond.Wait()
	}
	if len(sq.q) == 0 {
		return nil, rlerr.ErrInterrupted
	}
	sdu := sq.q[0]
	sq.q = sq.q[1:]
	return sdu, nil
}

func (sq *sduQueue) tryPop() ([]byte, bool) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if len(sq.q) == 0 {
		return nil, false
	}
	sdu := sq.q[0]
	sq.q = sq.q[1:]
	return sdu, true
}

func (sq *sduQueue) close() {
	sq.mu.Lock()
	sq.closed = true
	sq.cond.Broadcast()
	sq.mu.Unlock()
}

// PushSDU enqueues a delivered SDU for an application-bound flow to read
// (spec.md §4.4, the upper-layer delivery step of sdu-rx).
func (f *Flow) PushSDU(sdu []byte) error {
	f.mu.Lock()
	if f.inbox == nil {
		f.inbox = newSDUQueue()
	}
	inbox := f.inbox
	f.mu.Unlock()
	return inbox.push(sdu)
}

// ReadSDU blocks until an SDU is available or the flow is shut down.
func (f *Flow) ReadSDU() ([]byte, error) {
	f.mu.Lock()
	if f.inbox == nil {
		f.inbox = newSDUQueue()
	}
	inbox := f.inbox
	f.mu.Unlock()
	return inbox.pop()
}

// TryReadSDU is the non-blocking form of ReadSDU.
func (f *Flow) TryReadSDU() ([]byte, bool) {
	f.mu.Lock()
	if f.inbox == nil {
		f.inbox = newSDUQueue()
	}
	inbox := f.inbox
	f.mu.Unlock()
	return inbox.tryPop()
}

// CloseInbox wakes any reader blocked on ReadSDU, called from flow-shutdown.
func (f *Flow) CloseInbox() {
	f.mu.Lock()
	inbox := f.inbox
	f.mu.Unlock()
	if inbox != nil {
		inbox.close()
	}
}
