package client

import "github.com/rlite-project/rlite-go/pkg/ctlproto"

// notifyCap bounds the async-notification backlog the same way
// kernel.Handle's upqueue is bounded: a slow or absent reader must not
// block the read loop that also carries RPC replies.
const notifyCap = 64

// Notifications returns the channel fed by every inbound message that is
// not the reply to a pending Call/CallStream (ipcp-update bursts after a
// set-flags, fa-resp-arrived/fa-req-arrived, flow-sdu-rx, ...). The channel
// exists from Dial on, holds up to notifyCap messages (newer ones are
// dropped while it is full), and is closed when the connection ends.
func (c *Client) Notifications() <-chan *ctlproto.Message {
	c.mu.Lock()
	if c.notify == nil {
		c.notify = make(chan *ctlproto.Message, notifyCap)
	}
	ch := c.notify
	c.mu.Unlock()
	return ch
}

func (c *Client) dispatchNotification(msg *ctlproto.Message) {
	c.mu.Lock()
	ch := c.notify
	c.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		// Backlog full: drop rather than block the read loop, the
		// same tail-drop policy kernel.Handle's upqueue applies.
	}
}
