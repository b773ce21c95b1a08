package shimloopback_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/pci"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
)

func TestPairedFlowsBridgeSDUs(t *testing.T) {
	fr := factory.NewRegistry()
	sf := shimloopback.New(nil)
	fr.Register(sf)

	reg := kernel.New(nil, fr)
	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "loop0"},
		DIFType: "shim-loopback",
		DIFName: "shim-dif",
	})
	require.NoError(t, err)

	cfg := kernel.DefaultFlowConfig()
	a, err := reg.FlowAdd(ipcp, kernel.HandleUpper{}, names.Name{APN: "a"}, names.Name{APN: "b"}, cfg)
	require.NoError(t, err)
	b, err := reg.FlowAdd(ipcp, kernel.HandleUpper{}, names.Name{APN: "b"}, names.Name{APN: "a"}, cfg)
	require.NoError(t, err)

	sf.Pair(ipcp.Private(), a, b)

	require.NoError(t, sf.SDUWrite(ipcp.Private(), a, &pci.PDU{Data: []byte("ping")}, true))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sdu, ok := b.TryReadSDU(); ok {
			require.Equal(t, "ping", string(sdu))
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("sdu never delivered to peer")
}
