// Package cdap implements the CDAP-like application protocol used between
// peer IPCPs for enrollment, routing/DFT gossip and flow allocation
// (spec.md §6): length-prefixed records carrying an opcode, an invoke id,
// object class/name strings, an optional result code and reason, and an
// optional nested message (modeled as an opaque byte blob, per spec.md §1
// which treats the inner message-encoding library as an opaque codec).
package cdap

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// OpCode identifies a CDAP operation.
type OpCode uint8

const (
	MConnect OpCode = iota + 1
	MConnectR
	MStart
	MStartR
	MStop
	MStopR
	MCreate
	MCreateR
	MDelete
	MDeleteR
	MRead
	MReadR
	MWrite
	MRelease
)

// Message is one CDAP record.
type Message struct {
	Op          OpCode
	InvokeID    uint32
	ObjClass    string
	ObjName     string
	Result      int32
	ResultMsg   string
	ObjValue    []byte // opaque nested message payload
}

// Encode writes one length-prefixed CDAP record to w.
func (m *Message) Encode(w io.Writer) error {
	body := make([]byte, 0, 32+len(m.ObjValue))
	body = append(body, byte(m.Op))
	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], m.InvokeID)
	body = append(body, b4[:]...)
	body = appendLP(body, m.ObjClass)
	body = appendLP(body, m.ObjName)
	binary.LittleEndian.PutUint32(b4[:], uint32(m.Result))
	body = append(body, b4[:]...)
	body = appendLP(body, m.ResultMsg)
	binary.LittleEndian.PutUint32(b4[:], uint32(len(m.ObjValue)))
	body = append(body, b4[:]...)
	body = append(body, m.ObjValue...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func appendLP(b []byte, s string) []byte {
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(s)))
	b = append(b, lb[:]...)
	return append(b, s...)
}

func readLP(body []byte, off int) (string, int, error) {
	if off+2 > len(body) {
		return "", off, rlerr.ErrInvalidArg
	}
	l := int(binary.LittleEndian.Uint16(body[off:]))
	off += 2
	if off+l > len(body) {
		return "", off, rlerr.ErrInvalidArg
	}
	return string(body[off : off+l]), off + l, nil
}

// Decode reads one length-prefixed CDAP record from r.
func Decode(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < 15 || n > 1<<24 {
		return nil, rlerr.ErrInvalidArg
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (*Message, error) {
	if len(body) < 1+4 {
		return nil, rlerr.ErrInvalidArg
	}
	m := &Message{Op: OpCode(body[0])}
	off := 1
	m.InvokeID = binary.LittleEndian.Uint32(body[off:])
	off += 4
	var err error
	if m.ObjClass, off, err = readLP(body, off); err != nil {
		return nil, err
	}
	if m.ObjName, off, err = readLP(body, off); err != nil {
		return nil, err
	}
	if off+4 > len(body) {
		return nil, rlerr.ErrInvalidArg
	}
	m.Result = int32(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if m.ResultMsg, off, err = readLP(body, off); err != nil {
		return nil, err
	}
	if off+4 > len(body) {
		return nil, rlerr.ErrInvalidArg
	}
	vl := int(binary.LittleEndian.Uint32(body[off:]))
	off += 4
	if off+vl > len(body) {
		return nil, rlerr.ErrInvalidArg
	}
	m.ObjValue = append([]byte(nil), body[off:off+vl]...)
	return m, nil
}

// ADATA wraps an unconnected inner CDAP message with the source/destination
// address pair needed to route it across IPCPs that don't share a direct
// management flow (spec.md §6, GLOSSARY "A-DATA").
type ADATA struct {
	SrcAddr uint32
	DstAddr uint32
	Inner   *Message
}

const adataObjClass = "a-data"

// adataCompressMin is the inner-payload size past which Wrap tries gzip
// before giving up and sending the envelope flat. Flow-allocation A-DATA
// stays well under this; a RIB's sendInitialSync batch (spec.md §4.8,
// every lowerflow/dft row re-sent to a freshly enrolled neighbor) is the
// case this actually saves bytes on.
const adataCompressMin = 256

// Wrap builds the outer CDAP M_WRITE carrying inner as an A-DATA object,
// gzipping the inner payload when it's large enough to be worth it.
func (a *ADATA) Wrap() (*Message, error) {
	var buf countingBuffer
	if err := a.Inner.Encode(&buf); err != nil {
		return nil, err
	}

	payload := buf.b
	var compressed byte
	if len(payload) >= adataCompressMin {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		_, werr := zw.Write(payload)
		cerr := zw.Close()
		if werr == nil && cerr == nil && zbuf.Len() < len(payload) {
			payload = zbuf.Bytes()
			compressed = 1
		}
	}

	out := make([]byte, 9+len(payload))
	binary.LittleEndian.PutUint32(out[0:], a.SrcAddr)
	binary.LittleEndian.PutUint32(out[4:], a.DstAddr)
	out[8] = compressed
	copy(out[9:], payload)
	return &Message{Op: MWrite, ObjClass: adataObjClass, ObjValue: out}, nil
}

// Unwrap extracts the ADATA envelope from an outer A-DATA message,
// transparently gunzipping the inner payload if Wrap compressed it.
func Unwrap(outer *Message) (*ADATA, error) {
	if outer.ObjClass != adataObjClass || len(outer.ObjValue) < 9 {
		return nil, rlerr.ErrInvalidArg
	}
	a := &ADATA{
		SrcAddr: binary.LittleEndian.Uint32(outer.ObjValue[0:]),
		DstAddr: binary.LittleEndian.Uint32(outer.ObjValue[4:]),
	}

	payload := outer.ObjValue[9:]
	if outer.ObjValue[8] == 1 {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		plain, err := io.ReadAll(zr)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	inner, err := Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	a.Inner = inner
	return a, nil
}

type countingBuffer struct{ b []byte }

func (c *countingBuffer) Write(p []byte) (int, error) {
	c.b = append(c.b, p...)
	return len(p), nil
}
