// Package ctlproto implements the serialized control-plane message
// protocol of spec.md §4.3: a fixed (msg-type, event-id) prefix followed
// by a layout-table-driven body, length-delimited on the wire exactly like
// the teacher's entry.EntrySlice framing (a uint32 record length prefix
// ahead of each record).
package ctlproto

import (
	"encoding/binary"
	"io"

	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Message is the generic wire shape: a typed, event-correlated envelope
// whose body is a fixed byte blob plus composite names plus strings, per
// the layout table. Concrete request/response constructors below populate
// and interpret these generic slots.
type Message struct {
	Type    MsgType
	EventID uint32
	Fixed   []byte
	Names   []names.Name
	Strings []string
}

const prefixSize = 2 + 4 // msg-type(u16) + event-id(u32)

// Encode serializes m into a length-prefixed record written to w.
func (m *Message) Encode(w io.Writer) error {
	le, ok := layout[m.Type]
	if !ok {
		return rlerr.ErrInvalidArg
	}
	if len(m.Fixed) != le.fixedBytes || len(m.Names) != le.nameCount || len(m.Strings) != le.strCount {
		return rlerr.ErrInvalidArg
	}

	body := make([]byte, 0, prefixSize+len(m.Fixed)+64)
	body = append(body, 0, 0)
	binary.LittleEndian.PutUint16(body[len(body)-2:], uint16(m.Type))
	eidOff := len(body)
	body = append(body, 0, 0, 0, 0)
	binary.LittleEndian.PutUint32(body[eidOff:], m.EventID)
	body = append(body, m.Fixed...)
	for _, n := range m.Names {
		body = appendLPString(body, n.APN)
		body = appendLPString(body, n.API)
		body = appendLPString(body, n.AEN)
		body = appendLPString(body, n.AEI)
	}
	for _, s := range m.Strings {
		body = appendLPString(body, s)
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func appendLPString(b []byte, s string) []byte {
	var lb [2]byte
	binary.LittleEndian.PutUint16(lb[:], uint16(len(s)))
	b = append(b, lb[:]...)
	return append(b, s...)
}

// Decode reads one length-prefixed record from r and parses it according
// to the layout table. Unknown message types or truncated/malformed
// bodies fail without partially populating m (spec.md §4.3: "Unknown or
// malformed messages fail without mutation").
func Decode(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n < prefixSize || n > 1<<20 {
		return nil, rlerr.ErrInvalidArg
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return decodeBody(body)
}

func decodeBody(body []byte) (*Message, error) {
	if len(body) < prefixSize {
		return nil, rlerr.ErrInvalidArg
	}
	mt := MsgType(binary.LittleEndian.Uint16(body[0:]))
	le, ok := layout[mt]
	if !ok {
		return nil, rlerr.ErrInvalidArg
	}
	eid := binary.LittleEndian.Uint32(body[2:])
	off := prefixSize

	if len(body) < off+le.fixedBytes {
		return nil, rlerr.ErrInvalidArg
	}
	fixed := append([]byte(nil), body[off:off+le.fixedBytes]...)
	off += le.fixedBytes

	m := &Message{Type: mt, EventID: eid, Fixed: fixed}
	for i := 0; i < le.nameCount; i++ {
		var n names.Name
		var err error
		if n.APN, off, err = readLPString(body, off); err != nil {
			return nil, err
		}
		if n.API, off, err = readLPString(body, off); err != nil {
			return nil, err
		}
		if n.AEN, off, err = readLPString(body, off); err != nil {
			return nil, err
		}
		if n.AEI, off, err = readLPString(body, off); err != nil {
			return nil, err
		}
		m.Names = append(m.Names, n)
	}
	for i := 0; i < le.strCount; i++ {
		var s string
		var err error
		if s, off, err = readLPString(body, off); err != nil {
			return nil, err
		}
		m.Strings = append(m.Strings, s)
	}
	return m, nil
}

func readLPString(body []byte, off int) (string, int, error) {
	if off+2 > len(body) {
		return "", off, rlerr.ErrInvalidArg
	}
	l := int(binary.LittleEndian.Uint16(body[off:]))
	off += 2
	if off+l > len(body) {
		return "", off, rlerr.ErrInvalidArg
	}
	s := string(body[off : off+l])
	return s, off + l, nil
}
