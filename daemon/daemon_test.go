package daemon_test

import (
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/client"
	"github.com/rlite-project/rlite-go/daemon"
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/factory"
	"github.com/rlite-project/rlite-go/pkg/kernel"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/shimloopback"
	"github.com/rlite-project/rlite-go/pkg/uipcp"
)

// startDaemon boots a Server on a unix socket under t.TempDir, the way
// cmd/rlited wires reg/uipcp.Container/Server together, and returns a
// dialed client and the Server (callers Close both).
func startDaemon(t *testing.T) (*client.Client, *daemon.Server) {
	t.Helper()

	fr := factory.NewRegistry()
	fr.Register(shimloopback.New(nil))
	reg := kernel.New(nil, fr)

	uc, err := uipcp.NewContainer(reg, nil, "")
	require.NoError(t, err)

	sockPath := filepath.Join(t.TempDir(), "rlited.sock")
	srv := daemon.NewServer(reg, uc, nil, sockPath, "")

	go func() {
		_ = srv.ListenAndServe()
	}()
	require.Eventually(t, func() bool {
		c, err := client.Dial(sockPath)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, time.Second, 10*time.Millisecond)

	c, err := client.Dial(sockPath)
	require.NoError(t, err)
	return c, srv
}

func TestIPCPCreateThenFetch(t *testing.T) {
	c, srv := startDaemon(t)
	defer srv.Close()
	defer c.Close()

	createResp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim0"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	})
	require.NoError(t, err)
	require.Equal(t, ctlproto.MsgIPCPCreateResp, createResp.Type)

	msgs, err := c.CallStream(&ctlproto.Message{Type: ctlproto.MsgIPCPFetch}, func(m *ctlproto.Message) bool {
		return m.Type == ctlproto.MsgIPCPUpdate && m.Fixed[0] == ctlproto.IPCPUpdateEnd
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "shim0", msgs[0].Names[0].APN)
	require.Equal(t, ctlproto.IPCPUpdateEnd, msgs[1].Fixed[0])
}

func TestIPCPCreateDuplicateFails(t *testing.T) {
	c, srv := startDaemon(t)
	defer srv.Close()
	defer c.Close()

	req := &ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim0"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	}
	_, err := c.Call(req)
	require.NoError(t, err)

	resp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim0"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	})
	require.NoError(t, err)
	require.NotEqual(t, uint16(0), binary.LittleEndian.Uint16(resp.Fixed))
}

func TestSetFlagsIPCPsDeliversRetrospectiveBurstThenLiveUpdate(t *testing.T) {
	c, srv := startDaemon(t)
	defer srv.Close()
	defer c.Close()

	_, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim0"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	})
	require.NoError(t, err)

	notify := c.Notifications()
	_, err = c.Call(&ctlproto.Message{Type: ctlproto.MsgSetFlags, Fixed: []byte{1, 0, 0, 0}})
	require.NoError(t, err)

	select {
	case m := <-notify:
		require.Equal(t, ctlproto.MsgIPCPUpdate, m.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retrospective ipcp-update burst")
	}

	_, err = c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim1"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	})
	require.NoError(t, err)

	deadline := time.After(time.Second)
	for {
		select {
		case m, ok := <-notify:
			require.True(t, ok)
			if m.Type == ctlproto.MsgIPCPUpdate && m.Fixed[0] == ctlproto.IPCPUpdateAdd &&
				len(m.Names) > 0 && m.Names[0].APN == "shim1" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for live ipcp-update for shim1")
		}
	}
}

func TestIPCPDestroyRemovesFromFetch(t *testing.T) {
	c, srv := startDaemon(t)
	defer srv.Close()
	defer c.Close()

	_, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{{APN: "shim0"}},
		Strings: []string{"shim-loopback", "shim-dif"},
	})
	require.NoError(t, err)

	_, err = c.Call(&ctlproto.Message{Type: ctlproto.MsgIPCPDestroy, Names: []names.Name{{APN: "shim0"}}})
	require.NoError(t, err)

	msgs, err := c.CallStream(&ctlproto.Message{Type: ctlproto.MsgIPCPFetch}, func(m *ctlproto.Message) bool {
		return m.Type == ctlproto.MsgIPCPUpdate && m.Fixed[0] == ctlproto.IPCPUpdateEnd
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}
