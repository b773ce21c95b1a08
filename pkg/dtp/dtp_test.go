package dtp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/dtp"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/pci"
)

// stubFactory is the minimal factory.Core needed to mint a kernel.IPCP/Flow
// pair for DTP engine tests, without pulling in the normal factory.
type stubFactory struct{}

func (stubFactory) Type() string                                    { return "stub" }
func (stubFactory) Create(factory.IPCPHandle) (factory.Private, error) { return nil, nil }
func (stubFactory) Destroy(factory.Private) error                   { return nil }
func (stubFactory) SDUWrite(factory.Private, factory.FlowHandle, *pci.PDU, bool) error {
	return nil
}
func (stubFactory) SDURx(factory.Private, *pci.PDU) error { return nil }

// loopTx records every PDU handed to rmt-tx and optionally loops it straight
// back into a paired peer engine, modeling a direct point-to-point link.
type loopTx struct {
	sent []*pci.PDU
	peer *dtp.Engine
}

func (t *loopTx) RMTTx(dstAddr uint32, pdu *pci.PDU, canSleep bool) error {
	t.sent = append(t.sent, pdu)
	if t.peer != nil {
		t.peer.Receive(pdu)
	}
	return nil
}

type recorder struct {
	delivered [][]byte
}

func (r *recorder) Deliver(sdu []byte) {
	r.delivered = append(r.delivered, append([]byte(nil), sdu...))
}

func newTestFlow(t *testing.T, reg *kernel.Registry) *kernel.Flow {
	t.Helper()
	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "test-ipcp"},
		DIFType: "stub",
		DIFName: "test-dif",
	})
	require.NoError(t, err)
	f, err := reg.FlowAdd(ipcp, kernel.HandleUpper{}, names.Name{APN: "a"}, names.Name{APN: "b"}, kernel.DefaultFlowConfig())
	require.NoError(t, err)
	f.SetRemote(1, 1, 42)
	return f
}

func newRegistry() *kernel.Registry {
	fr := factory.NewRegistry()
	fr.Register(stubFactory{})
	return kernel.New(nil, fr)
}

func TestInOrderDeliveryNoWindowing(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, f.Config(), tx, up)

	require.NoError(t, e.Write([]byte("hello"), true))
	require.NoError(t, e.Write([]byte("world"), true))

	require.Len(t, tx.sent, 2)
	require.Equal(t, uint64(0), tx.sent[0].PCI.Seqnum)
	require.Equal(t, uint64(1), tx.sent[1].PCI.Seqnum)
}

func TestReceiveInOrderAndGapFill(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	cfg := f.Config()
	cfg.MaxSDUGap = 5
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, cfg, tx, up)

	mkPDU := func(seq uint64, drf bool, data string) *pci.PDU {
		p := &pci.PDU{PCI: pci.PCI{Type: pci.TypeDT, Seqnum: seq}, Data: []byte(data)}
		if drf {
			p.PCI.Flags |= pci.FlagDRF
		}
		return p
	}

	e.Receive(mkPDU(0, true, "a"))
	require.Equal(t, [][]byte{[]byte("a")}, up.delivered)

	// seq 2 arrives before seq 1: held in seqq.
	e.Receive(mkPDU(2, false, "c"))
	require.Len(t, up.delivered, 1)

	// seq 1 arrives: delivers both 1 and the queued 2.
	e.Receive(mkPDU(1, false, "b"))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, up.delivered)
}

func TestReceiveDuplicateDropped(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, f.Config(), tx, up)

	p0 := &pci.PDU{PCI: pci.PCI{Type: pci.TypeDT, Seqnum: 0, Flags: pci.FlagDRF}, Data: []byte("a")}
	e.Receive(p0)
	require.Len(t, up.delivered, 1)

	dup := &pci.PDU{PCI: pci.PCI{Type: pci.TypeDT, Seqnum: 0}, Data: []byte("a")}
	e.Receive(dup)
	require.Len(t, up.delivered, 1, "duplicate must not be redelivered")
}

func TestWindowingBackpressure(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	cfg := f.Config()
	cfg.DTCPPresent = true
	cfg.WindowBased = true
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, cfg, tx, up)

	// snd-rwe starts at 0: seqnum 0 is within the window and sends
	// immediately, but seqnum 1 exceeds it and parks in cwq.
	require.NoError(t, e.Write([]byte("x"), true))
	require.Len(t, tx.sent, 1)
	require.NoError(t, e.Write([]byte("y"), true))
	require.Len(t, tx.sent, 1, "second PDU beyond the window should park in cwq, not send")
	require.True(t, e.QueuesNonEmpty())

	fc := &pci.PDU{PCI: pci.PCI{Type: pci.TypeCTRL, CtrlFlags: pci.CtrlFC, NewRWE: 10}}
	e.Receive(fc)
	require.Len(t, tx.sent, 2, "FC update should flush the parked PDU")
}

// TestRetransmissionFiresAtInitialTR matches the spec's retransmission
// scenario: dtcp-present/rtx-control on with initial-tr=200ms, a dropped
// first transmission, exactly one retransmission around that interval
// (not data-rxms-max times slower, the bug the scheduling interval must
// not reuse cfg.R for).
func TestRetransmissionFiresAtInitialTR(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	cfg := f.Config()
	cfg.DTCPPresent = true
	cfg.RtxControl = true
	cfg.InitialTR = 200 * time.Millisecond
	cfg.MaxRetx = 3
	cfg.R = cfg.InitialTR * time.Duration(cfg.MaxRetx)
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, cfg, tx, up)

	require.NoError(t, e.Write([]byte("k"), true))
	require.Len(t, tx.sent, 1)

	require.Never(t, func() bool { return len(tx.sent) > 1 }, 150*time.Millisecond, 10*time.Millisecond,
		"must not retransmit before initial-tr elapses")
	require.Eventually(t, func() bool { return len(tx.sent) == 2 }, 300*time.Millisecond, 10*time.Millisecond,
		"must retransmit once initial-tr elapses, not data-rxms-max times later")
}

// TestDuplicateEmitsAckAndFCWithoutRtxControl: a duplicate PDU must force
// an ACK+FC control reply whenever flow control is on, even with
// rtx-control off (spec.md §4.4), not just the FC-only reply the
// in-order path sends in that configuration.
func TestDuplicateEmitsAckAndFCWithoutRtxControl(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	cfg := f.Config()
	cfg.DTCPPresent = true
	cfg.WindowBased = true
	cfg.InitialCredit = 10
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, cfg, tx, up)

	p0 := &pci.PDU{PCI: pci.PCI{Type: pci.TypeDT, Seqnum: 0, Flags: pci.FlagDRF}, Data: []byte("a")}
	e.Receive(p0)
	require.Len(t, tx.sent, 1)
	require.Zero(t, tx.sent[0].PCI.CtrlFlags&pci.CtrlACK, "in-order delivery without rtx-control should not ACK")

	dup := &pci.PDU{PCI: pci.PCI{Type: pci.TypeDT, Seqnum: 0}, Data: []byte("a")}
	e.Receive(dup)
	require.Len(t, tx.sent, 2)
	last := tx.sent[1]
	require.NotZero(t, last.PCI.CtrlFlags&pci.CtrlACK, "duplicate must force an ACK even with rtx-control off")
	require.NotZero(t, last.PCI.CtrlFlags&pci.CtrlFC, "duplicate ack must carry FC when flow control is on")
}

func TestDTCPPresentReflectsConfig(t *testing.T) {
	reg := newRegistry()
	f := newTestFlow(t, reg)
	cfg := f.Config()
	up := &recorder{}
	tx := &loopTx{}
	e := dtp.New(f, cfg, tx, up)
	require.False(t, e.DTCPPresent())

	cfg.RtxControl = true
	e2 := dtp.New(f, cfg, tx, up)
	require.True(t, e2.DTCPPresent())
}
