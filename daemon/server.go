package daemon

import (
	"encoding/binary"
	"net"
	"os"
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/uipcp"
)

// Server is the daemon process's control-plane listener: one
// kernel.Registry, one uipcp.Container binding every "normal" IPCP it
// creates, and a set of open connections each wrapping a kernel.Handle
// (spec.md §6 "user daemon RPC: Unix-domain stream socket, same
// serialization rules as kernel boundary").
type Server struct {
	reg    *kernel.Registry
	uipcps *uipcp.Container
	log    *rlog.Logger

	socketPath string
	store      *regStore

	ln *net.UnixListener

	mu       sync.Mutex
	conns    map[*conn]struct{}
	ipcpSubs map[*conn]struct{}
}

// NewServer builds a Server bound to reg/uc, persisting registration
// tuples to stateFile (spec.md §6 "persisted state").
func NewServer(reg *kernel.Registry, uc *uipcp.Container, log *rlog.Logger, socketPath, stateFile string) *Server {
	if log == nil {
		log = rlog.Discard()
	}
	return &Server{
		reg:        reg,
		uipcps:     uc,
		log:        log,
		socketPath: socketPath,
		store:      newRegStore(stateFile),
		conns:      make(map[*conn]struct{}),
		ipcpSubs:   make(map[*conn]struct{}),
	}
}

// conn is one accepted connection: its own kernel.Handle, a write mutex
// since the dispatch loop and the upqueue-drain/SDU-pump goroutines all
// write to the same socket, and the server it belongs to.
type conn struct {
	srv *Server
	nc  *net.UnixConn
	h   *kernel.Handle

	writeMu sync.Mutex
}

func (c *conn) writeMsg(m *ctlproto.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return m.Encode(c.nc)
}

// ListenAndServe binds socketPath and accepts connections until the
// listener is closed.
func (s *Server) ListenAndServe() error {
	_ = os.Remove(s.socketPath)
	addr, err := net.ResolveUnixAddr("unix", s.socketPath)
	if err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	for {
		nc, err := ln.AcceptUnix()
		if err != nil {
			return err
		}
		go s.handleConn(nc)
	}
}

// Close stops accepting new connections; already-accepted connections
// drain on their own once their peer disconnects.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handleConn(nc *net.UnixConn) {
	h := s.reg.OpenHandle()
	c := &conn{srv: s, nc: nc, h: h}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	go c.drainUpqueue()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		delete(s.ipcpSubs, c)
		s.mu.Unlock()
		s.reg.CloseHandle(h)
		nc.Close()
	}()

	for {
		msg, err := ctlproto.Decode(nc)
		if err != nil {
			return
		}
		resp := s.dispatch(c, msg)
		if resp != nil {
			if err := c.writeMsg(resp); err != nil {
				return
			}
		}
	}
}

// drainUpqueue forwards every message the registry or a fan-out pushes
// onto c's handle to the socket, until the handle's upqueue is closed
// (spec.md §3 Upqueue). A freshly allocated flow's first appearance here
// (fa-resp-arrived with a positive result, or fa-req-arrived) also starts
// this connection's SDU pump for that port, since nothing else on this
// path learns of the new flow early enough to do so.
func (c *conn) drainUpqueue() {
	for {
		m, err := c.h.Upqueue().Pop()
		if err != nil {
			return
		}
		c.maybeStartSDUPump(m)
		if err := c.writeMsg(m); err != nil {
			return
		}
	}
}

func (c *conn) maybeStartSDUPump(m *ctlproto.Message) {
	var port uint16
	switch m.Type {
	case ctlproto.MsgFARespArrived:
		if int16(binary.LittleEndian.Uint16(m.Fixed[2:])) != 0 {
			return
		}
		port = binary.LittleEndian.Uint16(m.Fixed[0:])
	case ctlproto.MsgFARequestArrived:
		port = binary.LittleEndian.Uint16(m.Fixed[0:])
	default:
		return
	}
	flow, err := c.srv.reg.FlowGetByPort(port)
	if err != nil {
		return
	}
	go c.startSDUPump(port, flow)
}
