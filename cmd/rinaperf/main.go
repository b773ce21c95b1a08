// Command rinaperf is a client/server flow-allocation load generator
// (spec.md §1 names it as an external CLI collaborator; its shape is
// supplemented here since the core's flow API needs some exerciser
// beyond unit tests). One side registers an application and waits for
// flows; the other side allocates a flow, sends a fixed number of SDUs,
// and reports elapsed time and throughput on teardown.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rlite-project/rlite-go/client"
	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/names"
)

var (
	socketPath = flag.String("socket", "/run/rlite/ctrl.sock", "path to rlited's control socket")
	mode       = flag.String("mode", "client", "\"server\" or \"client\"")
	applName   = flag.String("appl", "rinaperf", "this side's application name")
	remoteAppl = flag.String("remote-appl", "rinaperf", "server's application name (client mode)")
	ipcpName   = flag.String("ipcp", "", "ipcp to allocate/register the flow on (empty: resolve by DIF)")
	dif        = flag.String("dif", "", "DIF to allocate the flow in (client mode, when -ipcp is empty)")
	count      = flag.Int("count", 1000, "number of SDUs to send (client mode)")
	size       = flag.Int("size", 64, "SDU payload size in bytes (client mode)")
	windowBased = flag.Bool("window-based", false, "request flow-control (windowing) DTCP policy")
	rtxControl  = flag.Bool("rtx-control", false, "request retransmission-control DTCP policy")
)

func main() {
	flag.Parse()

	c, err := client.Dial(*socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rinaperf: dial: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	switch *mode {
	case "server":
		err = runServer(c)
	case "client":
		err = runClient(c)
	default:
		err = fmt.Errorf("unknown -mode %q", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "rinaperf: %v\n", err)
		os.Exit(1)
	}
}

func runServer(c *client.Client) error {
	if err := c.ApplRegister(names.Parse(*applName), names.Parse(*ipcpName)); err != nil {
		return fmt.Errorf("appl-register: %w", err)
	}
	fmt.Printf("rinaperf: registered %s on %s, waiting for flows\n", *applName, *ipcpName)

	notify := c.Notifications()
	for msg := range notify {
		if msg.Type != ctlproto.MsgFARequestArrived {
			continue
		}
		port := decodePort(msg)
		fmt.Printf("rinaperf: flow request arrived, port=%d, accepting\n", port)
		if err := c.FAResp(port, 0); err != nil {
			fmt.Fprintf(os.Stderr, "rinaperf: fa-resp: %v\n", err)
			continue
		}
		go serveFlow(c, port)
	}
	return nil
}

func serveFlow(c *client.Client, port uint16) {
	var rx int
	notify := c.Notifications()
	deadline := time.NewTimer(30 * time.Second)
	defer deadline.Stop()
	for {
		select {
		case msg, ok := <-notify:
			if !ok {
				return
			}
			if msg.Type != ctlproto.MsgFlowSDURx || decodePort(msg) != port {
				continue
			}
			rx++
			deadline.Reset(30 * time.Second)
		case <-deadline.C:
			fmt.Printf("rinaperf: port %d idle, closing (%d SDUs received)\n", port, rx)
			return
		}
	}
}

func runClient(c *client.Client) error {
	// fa-req resolves its target IPCP by DIF name on this side (spec.md
	// §6); this port exposes no name-to-id lookup over the client RPC
	// surface, so the client side always selects by -dif rather than by
	// a specific ipcp id.
	if err := c.FARequest(0, names.Parse(*applName), names.Parse(*remoteAppl), *dif, *windowBased, *rtxControl); err != nil {
		return fmt.Errorf("fa-req: %w", err)
	}

	notify := c.Notifications()
	var port uint16
	select {
	case msg, ok := <-notify:
		if !ok {
			return fmt.Errorf("connection closed waiting for fa-resp-arrived")
		}
		if msg.Type != ctlproto.MsgFARespArrived {
			return fmt.Errorf("unexpected notification type %v waiting for fa-resp-arrived", msg.Type)
		}
		port = decodePort(msg)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for fa-resp-arrived")
	}
	fmt.Printf("rinaperf: flow allocated, port=%d\n", port)

	payload := make([]byte, *size)
	start := time.Now()
	for i := 0; i < *count; i++ {
		if err := c.FlowWrite(port, payload); err != nil {
			return fmt.Errorf("sdu-write #%d: %w", i, err)
		}
	}
	elapsed := time.Since(start)
	bytes := int64(*count) * int64(*size)
	fmt.Printf("rinaperf: sent %d SDUs (%d bytes) in %s, %.2f SDU/s, %.2f MB/s\n",
		*count, bytes, elapsed, float64(*count)/elapsed.Seconds(), float64(bytes)/elapsed.Seconds()/1e6)

	return c.FlowDealloc(port)
}

func decodePort(msg *ctlproto.Message) uint16 {
	if len(msg.Fixed) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(msg.Fixed)
}
