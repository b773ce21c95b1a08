package kernel

import (
	"sync"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// upqueueCap is the hard cap on pending upqueue messages (spec.md §3, §8).
const upqueueCap = 64

// upqueue is the per-control-handle bounded FIFO of serialized upward
// messages: responses and fanned-out notifications (spec.md §3). Overflow
// drops the newest message and reports rlerr.ErrNoSpace without mutating
// any other state, matching the teacher's chancacher bounded-channel
// overflow behavior.
type upqueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	q       []*ctlproto.Message
	closed  bool
}

func newUpqueue() *upqueue {
	u := &upqueue{}
	u.cond = sync.NewCond(&u.mu)
	return u
}

// Push enqueues m, waking one reader. Returns rlerr.ErrNoSpace if the
// queue is already at capacity.
func (u *upqueue) Push(m *ctlproto.Message) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return rlerr.ErrNotFound
	}
	if len(u.q) >= upqueueCap {
		return rlerr.ErrNoSpace
	}
	u.q = append(u.q, m)
	u.cond.Signal()
	return nil
}

// Pop blocks until a message is available or the queue is closed, in
// which case it returns rlerr.ErrInterrupted. FIFO order is preserved.
func (u *upqueue) Pop() (*ctlproto.Message, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for len(u.q) == 0 && !u.closed {
		u.cond.Wait()
	}
	if len(u.q) == 0 {
		return nil, rlerr.ErrInterrupted
	}
	m := u.q[0]
	u.q = u.q[1:]
	return m, nil
}

// TryPop is the non-blocking variant used by a poll-style reader.
func (u *upqueue) TryPop() (*ctlproto.Message, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.q) == 0 {
		return nil, false
	}
	m := u.q[0]
	u.q = u.q[1:]
	return m, true
}

// Len reports the number of pending messages.
func (u *upqueue) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.q)
}

// Close wakes every blocked reader with rlerr.ErrInterrupted.
func (u *upqueue) Close() {
	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	u.cond.Broadcast()
}
