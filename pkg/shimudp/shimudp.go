// Package shimudp implements the UDP shim IPCP factory (spec.md §2), the
// other bottom-of-recursion transport alongside shim-loopback. Grounded on
// the teacher's netflow/networkLog ingesters for "own a UDP socket, read a
// datagram, dispatch by sender address" — generalized here from log-entry
// parsing to opaque PDU-byte forwarding.
//
// Hostname-to-address resolution is explicitly out of scope (spec.md §1):
// Bind calls net.ResolveUDPAddr directly with no retry, caching, or
// multi-address selection policy — any of that belongs to the external
// enrollment/configuration collaborator that supplies peer addresses, not
// to this transport.
package shimudp

import (
	"net"
	"sync"

	"github.com/rlite-project/rlite-go/internal/rlog"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

const maxDatagram = 65507

// Factory is the "shim-udp" DIF-type IPCP factory.
type Factory struct {
	log *rlog.Logger
}

func New(log *rlog.Logger) *Factory {
	if log == nil {
		log = rlog.Discard()
	}
	return &Factory{log: log}
}

func (f *Factory) Type() string { return "shim-udp" }

type ipcpState struct {
	mu   sync.Mutex
	ipcp *kernel.IPCP
	conn *net.UDPConn

	byPort map[uint16]*net.UDPAddr    // local flow port -> peer address
	byPeer map[string]*kernel.Flow    // peer address string -> local flow
}

func (f *Factory) Create(h factory.IPCPHandle) (factory.Private, error) {
	ipcp, ok := h.(*kernel.IPCP)
	if !ok {
		return nil, rlerr.ErrInvalidArg
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	st := &ipcpState{
		ipcp:   ipcp,
		conn:   conn,
		byPort: make(map[uint16]*net.UDPAddr),
		byPeer: make(map[string]*kernel.Flow),
	}
	go f.recvLoop(st)
	return st, nil
}

func (f *Factory) Destroy(priv factory.Private) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	return st.conn.Close()
}

// Config implements factory.Configurable: "bind-addr" rebinds the
// underlying socket to a specific local host:port (spec.md §4.3
// ipcp-config).
func (f *Factory) Config(priv factory.Private, key, value string) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if key != "bind-addr" {
		return rlerr.ErrInvalidArg
	}
	addr, err := net.ResolveUDPAddr("udp", value)
	if err != nil {
		return rlerr.ErrInvalidArg
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	st.mu.Lock()
	old := st.conn
	st.conn = conn
	st.mu.Unlock()
	_ = old.Close()
	go f.recvLoop(st)
	return nil
}

// Bind associates flow with a remote UDP peer, resolved with no further
// policy than the standard library's resolver (spec.md §1 "out of
// scope"). Called once a flow is allocated on this shim, analogous to
// shimloopback.Pair.
func (f *Factory) Bind(priv factory.Private, flow *kernel.Flow, remoteHostPort string) error {
	st, ok := priv.(*ipcpState)
	if !ok {
		return rlerr.ErrInvalidArg
	}
	addr, err := net.ResolveUDPAddr("udp", remoteHostPort)
	if err != nil {
		return rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	st.byPort[flow.LocalPort()] = addr
	st.byPeer[addr.String()] = flow
	st.mu.Unlock()
	return nil
}

// LocalAddr returns the shim's bound UDP socket address, used by the
// enrollment layer to advertise how peers can reach this IPCP.
func (f *Factory) LocalAddr(priv factory.Private) (string, error) {
	st, ok := priv.(*ipcpState)
	if !ok {
		return "", rlerr.ErrInvalidArg
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.conn.LocalAddr().String(), nil
}

// SDUWrite implements factory.Core: writes pdu.Data as a UDP datagram to
// the flow's bound peer. canSleep is irrelevant to a UDP socket write.
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
	addr, ok := st.byPort[kf.LocalPort()]
	conn := st.conn
	st.mu.Unlock()
	if !ok {
		return rlerr.ErrNotFound
	}
	_, err := conn.WriteToUDP(pdu.Data, addr)
	return err
}

// SDURx implements factory.Core; unreachable in practice since inbound
// PDUs arrive through recvLoop, not a direct call.
func (f *Factory) SDURx(priv factory.Private, pdu *pci.PDU) error {
	return rlerr.ErrInvalidArg
}

func (f *Factory) recvLoop(st *ipcpState) {
	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := st.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed (Destroy/Config rebind)
		}
		st.mu.Lock()
		flow, ok := st.byPeer[peer.String()]
		st.mu.Unlock()
		if !ok {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		deliver(flow, data)
	}
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
