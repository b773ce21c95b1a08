package uipcp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
	"github.com/rlite-project/rlite-go/pkg/uipcp"
)

// newNeighborPair builds a shim-loopback IPCP shared by two normal IPCPs,
// with a ctrl-flow pair and a data-flow pair bridged between them,
// mirroring how a daemon would hand off two already-connected lower flows
// to Enroll. The data flows are bound kernel.IPCPUpper{ipcpA/ipcpB} since
// normal.PDUFTSet requires that binding to accept a flow into the
// forwarding table; the ctrl flows carry CDAP signaling directly to the
// RIB and need no kernel-level upper binding.
func newNeighborPair(t *testing.T, reg *kernel.Registry, ipcpA, ipcpB *kernel.IPCP) (shim *shimloopback.Factory, lowerIPCP *kernel.IPCP, ctrlA, ctrlB, dataA, dataB *kernel.Flow) {
	t.Helper()
	var err error
	lowerIPCP, err = reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "shim0"},
		DIFType: "shim-loopback",
		DIFName: "shim-dif",
	})
	require.NoError(t, err)
	shim = lowerIPCP.Factory().(*shimloopback.Factory)

	cfg := kernel.DefaultFlowConfig()
	ctrlA, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "a-ctrl"}, names.Name{APN: "b-ctrl"}, cfg)
	require.NoError(t, err)
	ctrlB, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "b-ctrl"}, names.Name{APN: "a-ctrl"}, cfg)
	require.NoError(t, err)
	shim.Pair(lowerIPCP.Private(), ctrlA, ctrlB)

	dataA, err = reg.FlowAdd(lowerIPCP, kernel.IPCPUpper{IPCP: ipcpA}, names.Name{APN: "a-data"}, names.Name{APN: "b-data"}, cfg)
	require.NoError(t, err)
	dataB, err = reg.FlowAdd(lowerIPCP, kernel.IPCPUpper{IPCP: ipcpB}, names.Name{APN: "b-data"}, names.Name{APN: "a-data"}, cfg)
	require.NoError(t, err)
	shim.Pair(lowerIPCP.Private(), dataA, dataB)

	return shim, lowerIPCP, ctrlA, ctrlB, dataA, dataB
}

func waitForState(t *testing.T, n *uipcp.Neighbor, want uipcp.EnrollState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("neighbor never reached state %v, stuck at %v", want, n.State())
}

func TestEnrollmentReachesEnrolledBothSides(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcpA, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpA.SetAddress(1)

	ipcpB, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-b"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpB.SetAddress(2)

	_, lowerIPCP, ctrlA, ctrlB, dataA, dataB := newNeighborPair(t, reg, ipcpA, ipcpB)

	ca, err := uipcp.NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribA, err := ca.Bind(ipcpA)
	require.NoError(t, err)
	defer ca.Unbind(ribA)

	cb, err := uipcp.NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribB, err := cb.Bind(ipcpB)
	require.NoError(t, err)
	defer cb.Unbind(ribB)

	nb := ribB.Enroll(lowerIPCP, ctrlB, dataB, names.Name{APN: "norm-a"}, false)
	na := ribA.Enroll(lowerIPCP, ctrlA, dataA, names.Name{APN: "norm-b"}, true)

	waitForState(t, na, uipcp.StateEnrolled, 2*time.Second)
	waitForState(t, nb, uipcp.StateEnrolled, 2*time.Second)
	require.NotZero(t, na.Address())
	require.NotZero(t, nb.Address())
}

func TestDFTGossipConverges(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcpA, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpA.SetAddress(10)

	ipcpB, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-b"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpB.SetAddress(20)

	_, lowerIPCP, ctrlA, ctrlB, dataA, dataB := newNeighborPair(t, reg, ipcpA, ipcpB)

	ca, err := uipcp.NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribA, err := ca.Bind(ipcpA)
	require.NoError(t, err)
	defer ca.Unbind(ribA)

	cb, err := uipcp.NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribB, err := cb.Bind(ipcpB)
	require.NoError(t, err)
	defer cb.Unbind(ribB)

	nb := ribB.Enroll(lowerIPCP, ctrlB, dataB, names.Name{APN: "norm-a"}, false)
	na := ribA.Enroll(lowerIPCP, ctrlA, dataA, names.Name{APN: "norm-b"}, true)
	waitForState(t, na, uipcp.StateEnrolled, 2*time.Second)
	waitForState(t, nb, uipcp.StateEnrolled, 2*time.Second)

	appl := names.Name{APN: "echo-server"}
	ribA.DFTSet(appl, 100)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := ribB.Lookup(appl); ok && e.Addr == 10 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("dft entry never propagated to peer")
}
