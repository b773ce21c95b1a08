// Package client is a thin Go binding to the daemon's control-plane RPC
// protocol, used by cmd/rlitectl and cmd/rinaperf in place of talking
// ctlproto.Message framing directly. One Client per Unix-domain
// connection, matching the teacher's muxer.go convention of a single
// connection-owning type serializing writes behind a mutex.
package client

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
)

// Client is a connected handle to a rlited control socket.
type Client struct {
	nc *net.UnixConn

	writeMu sync.Mutex
	nextID  uint32

	pending map[uint32]chan *ctlproto.Message
	notify  chan *ctlproto.Message
	mu      sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the daemon's control socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, err
	}
	nc, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, err
	}
	c := &Client{
		nc:      nc,
		pending: make(map[uint32]chan *ctlproto.Message),
		closed:  make(chan struct{}),
		notify:  make(chan *ctlproto.Message, notifyCap),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the underlying connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.nc.Close()
	})
	return err
}

func (c *Client) readLoop() {
	for {
		msg, err := ctlproto.Decode(c.nc)
		if err != nil {
			c.mu.Lock()
			for _, ch := range c.pending {
				close(ch)
			}
			c.pending = map[uint32]chan *ctlproto.Message{}
			if c.notify != nil {
				close(c.notify)
				c.notify = nil
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		ch, ok := c.pending[msg.EventID]
		c.mu.Unlock()
		if ok {
			ch <- msg
			continue
		}
		// Unmatched notification (ipcp-update fan-out, async
		// fa-resp-arrived, ...): delivered to the Notifications
		// channel.
		c.dispatchNotification(msg)
	}
}

// Call sends req and blocks for its matching response, correlated by
// event id. req.EventID is overwritten with a fresh id.
func (c *Client) Call(req *ctlproto.Message) (*ctlproto.Message, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	req.EventID = id

	ch := make(chan *ctlproto.Message, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := req.Encode(c.nc)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	resp, ok := <-ch
	if !ok {
		return nil, fmt.Errorf("client: connection closed waiting for reply")
	}
	return resp, nil
}

// CallStream is Call for RPCs that stream zero or more messages before a
// final terminator (ipcps-show, flows-show): it collects every message
// bearing req's event id until want returns true, then returns the whole
// batch including the terminator.
func (c *Client) CallStream(req *ctlproto.Message, want func(*ctlproto.Message) bool) ([]*ctlproto.Message, error) {
	id := atomic.AddUint32(&c.nextID, 1)
	req.EventID = id

	ch := make(chan *ctlproto.Message, 64)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := req.Encode(c.nc)
	c.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	var out []*ctlproto.Message
	for {
		msg, ok := <-ch
		if !ok {
			return out, fmt.Errorf("client: connection closed mid-stream")
		}
		out = append(out, msg)
		if want(msg) {
			return out, nil
		}
	}
}
