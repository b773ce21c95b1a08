package uipcp

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Small binary encodings for the object values carried inside CDAP
// messages (spec.md §6 "nested message... modeled as an opaque codec").
// These are internal to uipcp, distinct from the public cdap package's own
// framing, the way the teacher keeps ingest-entry encodings local to the
// package that needs them.

func encodeAddr(addr uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, addr)
	return b
}

func decodeAddr(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func encodeDFTEntry(key string, addr uint32, ts int64) []byte {
	b := make([]byte, 2+len(key)+4+8)
	binary.LittleEndian.PutUint16(b[0:], uint16(len(key)))
	copy(b[2:], key)
	off := 2 + len(key)
	binary.LittleEndian.PutUint32(b[off:], addr)
	binary.LittleEndian.PutUint64(b[off+4:], uint64(ts))
	return b
}

func decodeDFTEntry(b []byte) (key string, addr uint32, ts int64, err error) {
	if len(b) < 2 {
		return "", 0, 0, rlerr.ErrInvalidArg
	}
	n := int(binary.LittleEndian.Uint16(b[0:]))
	off := 2
	if off+n+12 > len(b) {
		return "", 0, 0, rlerr.ErrInvalidArg
	}
	key = string(b[off : off+n])
	off += n
	addr = binary.LittleEndian.Uint32(b[off:])
	ts = int64(binary.LittleEndian.Uint64(b[off+4:]))
	return key, addr, ts, nil
}

func encodeLowerFlow(a, b uint32, cost uint32, seq uint64) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:], a)
	binary.LittleEndian.PutUint32(buf[4:], b)
	binary.LittleEndian.PutUint32(buf[8:], cost)
	binary.LittleEndian.PutUint64(buf[12:], seq)
	return buf
}

func decodeLowerFlow(buf []byte) (a, b, cost uint32, seq uint64, err error) {
	if len(buf) < 20 {
		return 0, 0, 0, 0, rlerr.ErrInvalidArg
	}
	a = binary.LittleEndian.Uint32(buf[0:])
	b = binary.LittleEndian.Uint32(buf[4:])
	cost = binary.LittleEndian.Uint32(buf[8:])
	seq = binary.LittleEndian.Uint64(buf[12:])
	return a, b, cost, seq, nil
}

func encodePortCEP(port uint16, cep uint32) []byte {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:], port)
	binary.LittleEndian.PutUint32(b[2:], cep)
	return b
}

func decodePortCEP(b []byte) (port uint16, cep uint32, err error) {
	if len(b) < 6 {
		return 0, 0, rlerr.ErrInvalidArg
	}
	return binary.LittleEndian.Uint16(b[0:]), binary.LittleEndian.Uint32(b[2:]), nil
}

func encodePortCEPAddr(port uint16, cep, addr uint32) []byte {
	b := make([]byte, 10)
	binary.LittleEndian.PutUint16(b[0:], port)
	binary.LittleEndian.PutUint32(b[2:], cep)
	binary.LittleEndian.PutUint32(b[6:], addr)
	return b
}

func decodePortCEPAddr(b []byte) (port uint16, cep, addr uint32, err error) {
	if len(b) < 10 {
		return 0, 0, 0, rlerr.ErrInvalidArg
	}
	return binary.LittleEndian.Uint16(b[0:]), binary.LittleEndian.Uint32(b[2:]), binary.LittleEndian.Uint32(b[6:]), nil
}

// flowRequest is the FlowRequest object (spec.md §3 "FlowRequest") carried
// as a flow-allocation CREATE's object value.
type flowRequest struct {
	TargetAppl    names.Name
	InitiatorAppl names.Name
	DTCPPresent   bool
	WindowBased   bool
	RtxControl    bool
}

// flowRequest flag bits packed into the trailing byte alongside DTCPPresent.
const (
	frFlagDTCPPresent byte = 1 << iota
	frFlagWindowBased
	frFlagRtxControl
)

func writeLPString(b []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(b[off:], uint16(len(s)))
	off += 2
	copy(b[off:], s)
	return off + len(s)
}

func readLPString(b []byte, off int) (string, int, error) {
	if off+2 > len(b) {
		return "", off, rlerr.ErrInvalidArg
	}
	n := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if off+n > len(b) {
		return "", off, rlerr.ErrInvalidArg
	}
	return string(b[off : off+n]), off + n, nil
}

func encodeFlowRequest(fr *flowRequest) []byte {
	names8 := []string{fr.TargetAppl.APN, fr.TargetAppl.API, fr.TargetAppl.AEN, fr.TargetAppl.AEI,
		fr.InitiatorAppl.APN, fr.InitiatorAppl.API, fr.InitiatorAppl.AEN, fr.InitiatorAppl.AEI}
	size := 1
	for _, s := range names8 {
		size += 2 + len(s)
	}
	b := make([]byte, size)
	off := 0
	for _, s := range names8 {
		off = writeLPString(b, off, s)
	}
	if fr.DTCPPresent {
		b[off] |= frFlagDTCPPresent
	}
	if fr.WindowBased {
		b[off] |= frFlagWindowBased
	}
	if fr.RtxControl {
		b[off] |= frFlagRtxControl
	}
	return b
}

func decodeFlowRequest(b []byte) (*flowRequest, error) {
	var vals [8]string
	off := 0
	var err error
	for i := range vals {
		if vals[i], off, err = readLPString(b, off); err != nil {
			return nil, err
		}
	}
	if off >= len(b) {
		return nil, rlerr.ErrInvalidArg
	}
	return &flowRequest{
		TargetAppl:    names.Name{APN: vals[0], API: vals[1], AEN: vals[2], AEI: vals[3]},
		InitiatorAppl: names.Name{APN: vals[4], API: vals[5], AEN: vals[6], AEI: vals[7]},
		DTCPPresent:   b[off]&frFlagDTCPPresent != 0,
		WindowBased:   b[off]&frFlagWindowBased != 0,
		RtxControl:    b[off]&frFlagRtxControl != 0,
	}, nil
}
