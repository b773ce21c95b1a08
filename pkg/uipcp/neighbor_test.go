package uipcp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
)

// newShimPair mirrors uipcp_test.go's newNeighborPair, kept as a second
// copy here since that one lives in the external uipcp_test package and
// this file needs package uipcp to reach unexported Neighbor internals.
func newShimPair(t *testing.T, reg *kernel.Registry) (lowerIPCP *kernel.IPCP, ctrlA, ctrlB, dataA, dataB *kernel.Flow) {
	t.Helper()
	var err error
	lowerIPCP, err = reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "shim0"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	shim := lowerIPCP.Factory().(*shimloopback.Factory)

	cfg := kernel.DefaultFlowConfig()
	ctrlA, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "a-ctrl"}, names.Name{APN: "b-ctrl"}, cfg)
	require.NoError(t, err)
	ctrlB, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "b-ctrl"}, names.Name{APN: "a-ctrl"}, cfg)
	require.NoError(t, err)
	shim.Pair(lowerIPCP.Private(), ctrlA, ctrlB)

	dataA, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "a-data"}, names.Name{APN: "b-data"}, cfg)
	require.NoError(t, err)
	dataB, err = reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "b-data"}, names.Name{APN: "a-data"}, cfg)
	require.NoError(t, err)
	shim.Pair(lowerIPCP.Private(), dataA, dataB)

	return lowerIPCP, ctrlA, ctrlB, dataA, dataB
}

// TestGiveUpSendsMRelease confirms giveUp sends an M_RELEASE ahead of
// tearing itself down, so a half-open peer doesn't keep this side's state
// around waiting for a handshake that's been abandoned.
func TestGiveUpSendsMRelease(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcpA, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpA.SetAddress(1)

	lowerIPCP, ctrlA, ctrlB, dataA, _ := newShimPair(t, reg)

	ca, err := NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribA, err := ca.Bind(ipcpA)
	require.NoError(t, err)
	defer ca.Unbind(ribA)

	na := ribA.Enroll(lowerIPCP, ctrlA, dataA, names.Name{APN: "norm-b"}, true)

	// sendConnect already put a CONNECT on the wire; drain it before
	// triggering giveUp so the RELEASE is the next record on ctrlB.
	sdu, err := ctrlB.ReadSDU()
	require.NoError(t, err)
	msg, err := cdap.Decode(bytes.NewReader(sdu))
	require.NoError(t, err)
	require.Equal(t, cdap.MConnect, msg.Op)

	na.giveUp()

	sdu, err = ctrlB.ReadSDU()
	require.NoError(t, err)
	msg, err = cdap.Decode(bytes.NewReader(sdu))
	require.NoError(t, err)
	require.Equal(t, cdap.MRelease, msg.Op)
	require.Equal(t, StateNone, na.State())
}

// TestPromoteMgmtReplacesDeadMgmtFlow confirms evict()'s recovery path:
// a neighbor with a spare ctrl-role flow promotes it to mgmt-port rather
// than being torn down outright.
func TestPromoteMgmtReplacesDeadMgmtFlow(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcpA, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpA.SetAddress(1)

	lowerIPCP, ctrlA, _, dataA, _ := newShimPair(t, reg)

	ca, err := NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribA, err := ca.Bind(ipcpA)
	require.NoError(t, err)
	defer ca.Unbind(ribA)

	na := ribA.Enroll(lowerIPCP, ctrlA, dataA, names.Name{APN: "norm-b"}, true)
	oldMgmt := na.mgmtPort

	cfg := kernel.DefaultFlowConfig()
	spareA, err := reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "a-ctrl2"}, names.Name{APN: "b-ctrl2"}, cfg)
	require.NoError(t, err)
	spareB, err := reg.FlowAdd(lowerIPCP, kernel.HandleUpper{}, names.Name{APN: "b-ctrl2"}, names.Name{APN: "a-ctrl2"}, cfg)
	require.NoError(t, err)
	shim := lowerIPCP.Factory().(*shimloopback.Factory)
	shim.Pair(lowerIPCP.Private(), spareA, spareB)

	na.addFlow(spareA, roleCtrl, false)

	require.True(t, na.promoteMgmt())
	require.NotEqual(t, oldMgmt, na.mgmtPort)
	require.Equal(t, spareA.LocalPort(), na.mgmtPort)
}

// TestPromoteMgmtFailsWithNoOtherFlow confirms promoteMgmt reports no
// replacement when no spare ctrl-role flow exists, the case in which
// evict() tears the neighbor down.
func TestPromoteMgmtFailsWithNoOtherFlow(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcpA, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcpA.SetAddress(1)

	lowerIPCP, ctrlA, _, dataA, _ := newShimPair(t, reg)

	ca, err := NewContainer(reg, nil, "")
	require.NoError(t, err)
	ribA, err := ca.Bind(ipcpA)
	require.NoError(t, err)
	defer ca.Unbind(ribA)

	na := ribA.Enroll(lowerIPCP, ctrlA, dataA, names.Name{APN: "norm-b"}, true)
	require.False(t, na.promoteMgmt())
}
