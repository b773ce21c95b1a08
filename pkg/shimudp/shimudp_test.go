package shimudp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/shimudp"
)

func newUDPIPCP(t *testing.T) (*shimudp.Factory, *kernel.Registry, *kernel.IPCP) {
	t.Helper()
	fr := factory.NewRegistry()
	sf := shimudp.New(nil)
	fr.Register(sf)
	reg := kernel.New(nil, fr)
	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "udp0"},
		DIFType: "shim-udp",
		DIFName: "udp-dif",
	})
	require.NoError(t, err)
	return sf, reg, ipcp
}

func TestUDPShimRoundTrip(t *testing.T) {
	sfA, regA, ipcpA := newUDPIPCP(t)
	sfB, regB, ipcpB := newUDPIPCP(t)

	cfg := kernel.DefaultFlowConfig()
	flowA, err := regA.FlowAdd(ipcpA, kernel.HandleUpper{}, names.Name{APN: "a"}, names.Name{APN: "b"}, cfg)
	require.NoError(t, err)
	flowB, err := regB.FlowAdd(ipcpB, kernel.HandleUpper{}, names.Name{APN: "b"}, names.Name{APN: "a"}, cfg)
	require.NoError(t, err)

	addrA, err := sfA.LocalAddr(ipcpA.Private())
	require.NoError(t, err)
	addrB, err := sfB.LocalAddr(ipcpB.Private())
	require.NoError(t, err)

	require.NoError(t, sfA.Bind(ipcpA.Private(), flowA, addrB))
	require.NoError(t, sfB.Bind(ipcpB.Private(), flowB, addrA))

	require.NoError(t, sfA.SDUWrite(ipcpA.Private(), flowA, &pci.PDU{Data: []byte("hi")}, true))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sdu, ok := flowB.TryReadSDU(); ok {
			require.Equal(t, "hi", string(sdu))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sdu never arrived over UDP")
}
