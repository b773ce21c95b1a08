package client_test

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/client"
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// fakeServer is a bare unix listener playing the daemon's half of the
// protocol just well enough to drive Client in isolation, without pulling
// in a whole kernel.Registry/daemon.Server pair.
type fakeServer struct {
	ln *net.UnixListener
}

func newFakeServer(t *testing.T) (*fakeServer, string) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "fake.sock")
	addr, err := net.ResolveUnixAddr("unix", sockPath)
	require.NoError(t, err)
	ln, err := net.ListenUnix("unix", addr)
	require.NoError(t, err)
	return &fakeServer{ln: ln}, sockPath
}

func (s *fakeServer) close() { s.ln.Close() }

// acceptOne blocks for a single connection and runs handle against it on
// its own goroutine.
func (s *fakeServer) acceptOne(t *testing.T, handle func(nc *net.UnixConn)) {
	t.Helper()
	go func() {
		nc, err := s.ln.AcceptUnix()
		if err != nil {
			return
		}
		handle(nc)
	}()
}

func TestClientCallMatchesResponseByEventID(t *testing.T) {
	srv, sockPath := newFakeServer(t)
	defer srv.close()

	srv.acceptOne(t, func(nc *net.UnixConn) {
		defer nc.Close()
		req, err := ctlproto.Decode(nc)
		require.NoError(t, err)
		resp := &ctlproto.Message{Type: ctlproto.MsgIPCPCreateResp, EventID: req.EventID, Fixed: []byte{0, 0}}
		require.NoError(t, resp.Encode(nc))
		// keep the connection open so a second Call can reuse it.
		for {
			req, err := ctlproto.Decode(nc)
			if err != nil {
				return
			}
			resp := &ctlproto.Message{Type: ctlproto.MsgAck, EventID: req.EventID, Fixed: []byte{0, 0}}
			if err := resp.Encode(nc); err != nil {
				return
			}
		}
	})

	c, err := client.Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()

	err = c.IPCPCreate(names.Name{APN: "shim0"}, "shim-loopback", "shim-dif")
	require.NoError(t, err)

	err = c.IPCPDestroy(names.Name{APN: "shim0"})
	require.NoError(t, err)
}

func TestClientCallStreamCollectsUntilTerminator(t *testing.T) {
	srv, sockPath := newFakeServer(t)
	defer srv.close()

	srv.acceptOne(t, func(nc *net.UnixConn) {
		defer nc.Close()
		req, err := ctlproto.Decode(nc)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			m := &ctlproto.Message{
				Type:    ctlproto.MsgIPCPUpdate,
				EventID: req.EventID,
				Fixed:   []byte{ctlproto.IPCPUpdateAdd, 0, 0, 0, 0, 0, 0, 0, 0},
				Names:   []names.Name{{APN: "shim0"}},
				Strings: []string{"shim-loopback"},
			}
			require.NoError(t, m.Encode(nc))
		}
		end := &ctlproto.Message{
			Type:    ctlproto.MsgIPCPUpdate,
			EventID: req.EventID,
			Fixed:   []byte{ctlproto.IPCPUpdateEnd, 0, 0, 0, 0, 0, 0, 0, 0},
			Names:   []names.Name{{}},
			Strings: []string{""},
		}
		require.NoError(t, end.Encode(nc))
	})

	c, err := client.Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()

	msgs, err := c.CallStream(&ctlproto.Message{Type: ctlproto.MsgIPCPFetch}, func(m *ctlproto.Message) bool {
		return m.Fixed[0] == ctlproto.IPCPUpdateEnd
	})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	require.Equal(t, ctlproto.IPCPUpdateEnd, msgs[3].Fixed[0])
}

func TestClientNotificationsReceivesUnmatchedMessages(t *testing.T) {
	srv, sockPath := newFakeServer(t)
	defer srv.close()

	srv.acceptOne(t, func(nc *net.UnixConn) {
		defer nc.Close()
		// An event id with no matching pending Call: a server-pushed
		// notification, e.g. the ipcp-update fan-out a FlagIPCPs
		// subscriber receives asynchronously.
		m := &ctlproto.Message{
			Type:    ctlproto.MsgIPCPUpdate,
			EventID: 0,
			Fixed:   []byte{ctlproto.IPCPUpdateAdd, 0, 0, 0, 0, 0, 0, 0, 0},
			Names:   []names.Name{{APN: "pushed"}},
			Strings: []string{"shim-loopback"},
		}
		require.NoError(t, m.Encode(nc))
		time.Sleep(50 * time.Millisecond)
	})

	c, err := client.Dial(sockPath)
	require.NoError(t, err)
	defer c.Close()

	notify := c.Notifications()
	select {
	case m := <-notify:
		require.Equal(t, "pushed", m.Names[0].APN)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed notification")
	}
}

func TestClientCloseUnblocksPendingCall(t *testing.T) {
	srv, sockPath := newFakeServer(t)
	defer srv.close()

	srv.acceptOne(t, func(nc *net.UnixConn) {
		_, _ = ctlproto.Decode(nc)
		// Never reply; just hold the connection open until the client
		// closes it from its side.
		buf := make([]byte, 1)
		_, _ = nc.Read(buf)
	})

	c, err := client.Dial(sockPath)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgIPCPFetch})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}
