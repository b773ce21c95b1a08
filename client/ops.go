package client

import (
	"encoding/binary"
	"fmt"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/names"
)

func ackResult(msg *ctlproto.Message) error {
	if len(msg.Fixed) < 2 {
		return fmt.Errorf("client: short ack body")
	}
	return errFromCode(binary.LittleEndian.Uint16(msg.Fixed))
}

// IPCPCreate implements ipcp-create (spec.md §6).
func (c *Client) IPCPCreate(name names.Name, difType, difName string) error {
	resp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPCreate,
		Names:   []names.Name{name},
		Strings: []string{difType, difName},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// IPCPDestroy implements ipcp-destroy.
func (c *Client) IPCPDestroy(name names.Name) error {
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgIPCPDestroy, Names: []names.Name{name}})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// IPCPConfig implements ipcp-config (spec.md §6, e.g. the "address" key).
func (c *Client) IPCPConfig(name names.Name, key, value string) error {
	resp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPConfig,
		Names:   []names.Name{name},
		Strings: []string{key, value},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// IPCPEnroll implements ipcp-enroll: local enrolls with neigh over suppDIF.
func (c *Client) IPCPEnroll(local, neigh names.Name, suppDIF string) error {
	resp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgIPCPEnroll,
		Names:   []names.Name{local, neigh},
		Strings: []string{suppDIF},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// IPCPDFTSet implements ipcp-dft-set; addr 0 unsets the entry.
func (c *Client) IPCPDFTSet(ipcp, appl names.Name, addr uint32) error {
	fixed := make([]byte, 4)
	binary.LittleEndian.PutUint32(fixed, addr)
	resp, err := c.Call(&ctlproto.Message{
		Type:  ctlproto.MsgIPCPDFTSet,
		Fixed: fixed,
		Names: []names.Name{ipcp, appl},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// IPCPPDUFTSet implements ipcp-pduft-set.
func (c *Client) IPCPPDUFTSet(ipcp names.Name, dstAddr uint32, port uint16) error {
	fixed := make([]byte, 6)
	binary.LittleEndian.PutUint32(fixed[0:], dstAddr)
	binary.LittleEndian.PutUint16(fixed[4:], port)
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgIPCPPDUFTSet, Fixed: fixed, Names: []names.Name{ipcp}})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// RIBShow implements ipcp-rib-show/dif-rib-show, returning the rendered
// text. An empty name.APN with name.API set to a DIF name shows every
// normal IPCP in that DIF.
func (c *Client) RIBShow(target names.Name) (string, error) {
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgRIBShow, Names: []names.Name{target}})
	if err != nil {
		return "", err
	}
	if resp.Type != ctlproto.MsgRIBShowResp {
		return "", ackResult(resp)
	}
	return resp.Strings[0], nil
}

// ApplRegister implements appl-register.
func (c *Client) ApplRegister(appl, ipcp names.Name) error {
	resp, err := c.Call(&ctlproto.Message{
		Type:  ctlproto.MsgApplRegister,
		Fixed: []byte{0}, // needs-userspace is server-computed, unused on this side
		Names: []names.Name{appl, ipcp},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// ApplUnregister implements appl-unregister.
func (c *Client) ApplUnregister(appl, ipcp names.Name) error {
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgApplUnregister, Names: []names.Name{appl, ipcp}})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// FARequest implements fa-req: requests a flow from localAppl to
// remoteAppl, either on a specific ipcp id or by dif name (ipcpID 0).
// windowBased/rtxControl select the DTCP policy the daemon negotiates for
// this flow (spec.md §4.7); both false requests the best-effort default.
// The real allocation outcome arrives asynchronously as an
// MsgFARespArrived notification on Notifications(); this call's own
// response only carries an early rejection, if any.
func (c *Client) FARequest(ipcpID uint16, localAppl, remoteAppl names.Name, difHint string, windowBased, rtxControl bool) error {
	fixed := make([]byte, 5)
	binary.LittleEndian.PutUint32(fixed, uint32(ipcpID))
	if windowBased {
		fixed[4] |= ctlproto.FARequestWindowBased
	}
	if rtxControl {
		fixed[4] |= ctlproto.FARequestRtxControl
	}
	resp, err := c.Call(&ctlproto.Message{
		Type:  ctlproto.MsgFARequest,
		Fixed: fixed,
		Names: []names.Name{localAppl, remoteAppl, {APN: difHint}},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// FAResp implements fa-resp: answers a pending arrived flow request for
// port with a positive (0) or negative (nonzero) response.
func (c *Client) FAResp(port uint16, response int32) error {
	fixed := make([]byte, 6)
	binary.LittleEndian.PutUint16(fixed[0:], port)
	binary.LittleEndian.PutUint32(fixed[2:], uint32(response))
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgFAResp, Fixed: fixed})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// FlowDealloc implements flow-dealloc.
func (c *Client) FlowDealloc(port uint16) error {
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, port)
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgFlowDealloc, Fixed: fixed})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// FlowWrite implements sdu-write over the control socket.
func (c *Client) FlowWrite(port uint16, payload []byte) error {
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, port)
	resp, err := c.Call(&ctlproto.Message{
		Type:    ctlproto.MsgFlowSDUWrite,
		Fixed:   fixed,
		Strings: []string{string(payload)},
	})
	if err != nil {
		return err
	}
	return ackResult(resp)
}

// FlowStats holds the decoded body of a flow-stats-req response.
type FlowStats struct {
	TxPDUs, RxPDUs, TxBytes, RxBytes, Retransmissions uint64
}

// FlowStatsReq implements flow-stats-req.
func (c *Client) FlowStatsReq(port uint16) (FlowStats, error) {
	fixed := make([]byte, 2)
	binary.LittleEndian.PutUint16(fixed, port)
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgFlowStatsReq, Fixed: fixed})
	if err != nil {
		return FlowStats{}, err
	}
	if len(resp.Fixed) < 40 {
		return FlowStats{}, fmt.Errorf("client: short flow-stats-resp body")
	}
	return FlowStats{
		TxPDUs:          binary.LittleEndian.Uint64(resp.Fixed[0:]),
		RxPDUs:          binary.LittleEndian.Uint64(resp.Fixed[8:]),
		TxBytes:         binary.LittleEndian.Uint64(resp.Fixed[16:]),
		RxBytes:         binary.LittleEndian.Uint64(resp.Fixed[24:]),
		Retransmissions: binary.LittleEndian.Uint64(resp.Fixed[32:]),
	}, nil
}

// SetFlags implements set-flags (the handle ioctl of spec.md §6).
func (c *Client) SetFlags(flags uint32) error {
	fixed := make([]byte, 4)
	binary.LittleEndian.PutUint32(fixed, flags)
	resp, err := c.Call(&ctlproto.Message{Type: ctlproto.MsgSetFlags, Fixed: fixed})
	if err != nil {
		return err
	}
	return ackResult(resp)
}
