package normal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/normal"
	"github.com/rlite-project/rlite-go/pkg/pci"
)

func TestLoopbackDeliversToSameIPCP(t *testing.T) {
	fr := factory.NewRegistry()
	nf := normal.New(nil)
	fr.Register(nf)

	reg := kernel.New(nil, fr)
	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "ipcp-a"},
		DIFType: "normal",
		DIFName: "dif-1",
	})
	require.NoError(t, err)

	require.NoError(t, nf.Config(ipcp.Private(), "address", "7"))
	require.Equal(t, uint32(7), ipcp.Address())

	cfg := kernel.DefaultFlowConfig()
	f, err := reg.FlowAdd(ipcp, kernel.HandleUpper{}, names.Name{APN: "x"}, names.Name{APN: "y"}, cfg)
	require.NoError(t, err)
	// Loop back to self: no PDUFT route is ever installed, so rmt-tx's
	// dst-addr == self.addr branch re-enters sdu-rx directly.
	f.SetRemote(0, 0, ipcp.Address())

	pdu := &pci.PDU{Data: []byte("payload")}
	require.NoError(t, nf.SDUWrite(ipcp.Private(), f, pdu, true))

	sdu, err := f.ReadSDU()
	require.NoError(t, err)
	require.Equal(t, "payload", string(sdu))
}

func TestConfigRejectsZeroAddress(t *testing.T) {
	fr := factory.NewRegistry()
	nf := normal.New(nil)
	fr.Register(nf)
	reg := kernel.New(nil, fr)
	ipcp, err := reg.IPCPAdd(kernel.IPCPAddReq{
		Name:    names.Name{APN: "ipcp-b"},
		DIFType: "normal",
		DIFName: "dif-1",
	})
	require.NoError(t, err)
	require.Error(t, nf.Config(ipcp.Private(), "address", "0"))
}
