package uipcp

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
)

func TestRIBStoreCheckpointSurvivesRebind(t *testing.T) {
	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{Name: names.Name{APN: "norm-a"}, DIFType: "shim-loopback", DIFName: "shim-dif"})
	require.NoError(t, err)
	ipcp.SetAddress(7)

	dbPath := filepath.Join(t.TempDir(), "rib.db")

	c, err := NewContainer(reg, nil, dbPath)
	require.NoError(t, err)
	rib, err := c.Bind(ipcp)
	require.NoError(t, err)

	rib.DFTSet(names.Name{APN: "echo-server"}, 100)
	rib.mu.Lock()
	rib.lowerFlows[lowerFlowKey{A: 7, B: 9}] = &LowerFlowEntry{Cost: 3, Seq: 1}
	rib.mu.Unlock()
	rib.checkpoint()

	c.Unbind(rib)
	require.NoError(t, c.Close())

	c2, err := NewContainer(reg, nil, dbPath)
	require.NoError(t, err)
	rib2, err := c2.Bind(ipcp)
	require.NoError(t, err)
	defer c2.Unbind(rib2)
	defer c2.Close()

	entry, ok := rib2.Lookup(names.Name{APN: "echo-server"})
	require.True(t, ok)
	require.Equal(t, uint32(7), entry.Addr)
	require.True(t, entry.Local)

	rib2.mu.Lock()
	lf, ok := rib2.lowerFlows[lowerFlowKey{A: 7, B: 9}]
	rib2.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, uint32(3), lf.Cost)
}
