// Package pci implements the per-PDU protocol-control-information header
// (spec.md §6) using the same fixed-offset little-endian encode/decode
// style as the teacher's ingest/entry package (entry.go's
// EncodeHeader/DecodeHeader).
package pci

import (
	"encoding/binary"

	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// Type identifies the PDU family.
type Type uint8

const (
	TypeDT   Type = 0x01
	TypeMGMT Type = 0x02
	TypeCTRL Type = 0x04
)

// Flags are per-PDU bit flags.
type Flags uint8

const (
	FlagDRF Flags = 1 << 0 // data-run flag: start of a new data-transfer run
)

// CtrlFlags mark which control sub-fields of a CTRL PDU are meaningful.
// A CTRL PDU can carry ACK, NACK, SACK, SNACK and FC simultaneously.
type CtrlFlags uint8

const (
	CtrlACK  CtrlFlags = 1 << 0
	CtrlNACK CtrlFlags = 1 << 1
	CtrlSACK CtrlFlags = 1 << 2
	CtrlSNACK CtrlFlags = 1 << 3
	CtrlFC   CtrlFlags = 1 << 4
)

// HeaderSize is the encoded size of the fixed PCI header, not including the
// control-only trailer.
const HeaderSize = 31

// CtrlTrailerSize is the additional encoded size present only on CTRL PDUs.
const CtrlTrailerSize = 24

// PCI is the protocol-control-information prefixed to every PDU.
type PCI struct {
	DstAddr uint32
	SrcAddr uint32
	QosID   uint8
	DstCEP  uint32
	SrcCEP  uint32
	Type    Type
	Flags   Flags
	Len     uint32
	Seqnum  uint64

	// Control-PDU-only fields, valid iff Type == TypeCTRL.
	CtrlFlags       CtrlFlags
	LastCtrlSeqRcvd uint64
	AckNackSeq      uint64
	NewLWE          uint64
	NewRWE          uint64
	MyLWE           uint64
	MyRWE           uint64
}

// Size returns the encoded size of p's header, including the control
// trailer when p is a CTRL PDU.
func (p *PCI) Size() int {
	if p.Type == TypeCTRL {
		return HeaderSize + CtrlTrailerSize
	}
	return HeaderSize
}

// Encode writes p's header into buf, which must be at least p.Size() bytes.
func (p *PCI) Encode(buf []byte) (int, error) {
	if len(buf) < p.Size() {
		return 0, rlerr.ErrInvalidArg
	}
	binary.LittleEndian.PutUint32(buf[0:], p.DstAddr)
	binary.LittleEndian.PutUint32(buf[4:], p.SrcAddr)
	buf[8] = p.QosID
	binary.LittleEndian.PutUint32(buf[9:], p.DstCEP)
	binary.LittleEndian.PutUint32(buf[13:], p.SrcCEP)
	buf[17] = byte(p.Type)
	buf[18] = byte(p.Flags)
	binary.LittleEndian.PutUint32(buf[19:], p.Len)
	binary.LittleEndian.PutUint64(buf[23:], p.Seqnum)
	n := HeaderSize
	if p.Type == TypeCTRL {
		buf[n] = byte(p.CtrlFlags)
		binary.LittleEndian.PutUint64(buf[n+1:], p.LastCtrlSeqRcvd)
		// NOTE: remaining control fields packed as uint32 pairs to fit
		// CtrlTrailerSize; callers needing full 64-bit precision on
		// AckNackSeq/NewLWE/etc beyond 32 bits are out of scope at PDU
		// scale for this system.
		binary.LittleEndian.PutUint32(buf[n+9:], uint32(p.AckNackSeq))
		binary.LittleEndian.PutUint32(buf[n+13:], uint32(p.NewLWE))
		binary.LittleEndian.PutUint32(buf[n+17:], uint32(p.NewRWE))
		n += CtrlTrailerSize
	}
	return n, nil
}

// Decode parses a PCI header (and, for CTRL PDUs, its trailer) out of buf.
func Decode(buf []byte) (PCI, int, error) {
	var p PCI
	if len(buf) < HeaderSize {
		return p, 0, rlerr.ErrInvalidArg
	}
	p.DstAddr = binary.LittleEndian.Uint32(buf[0:])
	p.SrcAddr = binary.LittleEndian.Uint32(buf[4:])
	p.QosID = buf[8]
	p.DstCEP = binary.LittleEndian.Uint32(buf[9:])
	p.SrcCEP = binary.LittleEndian.Uint32(buf[13:])
	p.Type = Type(buf[17])
	p.Flags = Flags(buf[18])
	p.Len = binary.LittleEndian.Uint32(buf[19:])
	p.Seqnum = binary.LittleEndian.Uint64(buf[23:])
	n := HeaderSize
	if p.Type == TypeCTRL {
		if len(buf) < HeaderSize+CtrlTrailerSize {
			return p, 0, rlerr.ErrInvalidArg
		}
		p.CtrlFlags = CtrlFlags(buf[n])
		p.LastCtrlSeqRcvd = binary.LittleEndian.Uint64(buf[n+1:])
		p.AckNackSeq = uint64(binary.LittleEndian.Uint32(buf[n+9:]))
		p.NewLWE = uint64(binary.LittleEndian.Uint32(buf[n+13:]))
		p.NewRWE = uint64(binary.LittleEndian.Uint32(buf[n+17:]))
		n += CtrlTrailerSize
	}
	return p, n, nil
}

// PDU bundles a decoded/encodable header with its payload.
type PDU struct {
	PCI  PCI
	Data []byte
}

// Encode serializes the full PDU (header + payload) into buf.
func (pd *PDU) Encode(buf []byte) (int, error) {
	n, err := pd.PCI.Encode(buf)
	if err != nil {
		return 0, err
	}
	if len(buf) < n+len(pd.Data) {
		return 0, rlerr.ErrInvalidArg
	}
	copy(buf[n:], pd.Data)
	return n + len(pd.Data), nil
}

// DecodePDU parses a full PDU (header plus trailing payload) out of buf,
// used when a lower flow's delivered SDU is itself an encapsulated upper
// PDU (spec.md §4.4 recursive forwarding).
func DecodePDU(buf []byte) (*PDU, error) {
	p, n, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	pd := &PDU{PCI: p}
	if n < len(buf) {
		pd.Data = buf[n:]
	}
	return pd, nil
}

// Clone returns a deep copy of pd, used when queuing a PDU for
// retransmission while the original may still be in flight to the RMT.
func (pd *PDU) Clone() *PDU {
	c := &PDU{PCI: pd.PCI}
	if pd.Data != nil {
		c.Data = append([]byte(nil), pd.Data...)
	}
	return c
}
