// Package daemon implements the user-space control-plane process: it
// multiplexes the kernel.Registry and uipcp.Container behind a
// Unix-domain stream socket speaking pkg/ctlproto, the way the teacher's
// IngestMuxer multiplexes ingester connections behind a listener.
package daemon

import "github.com/rlite-project/rlite-go/pkg/rlerr"

// Result codes carried in MsgAck/MsgIPCPCreateResp/MsgApplRegisterResp
// Fixed payloads (spec.md §4.3, §7 error taxonomy).
const (
	codeOK uint16 = iota
	codeNotFound
	codeExists
	codeNoSpace
	codeNoMemory
	codeInvalidArg
	codeBusy
	codeUnreachable
	codeInterrupted
	codePeerRejected
	codeWouldBlock
	codeZombie
	codeOther
)

func resultCode(err error) uint16 {
	switch {
	case err == nil:
		return codeOK
	case rlerr.Is(err, rlerr.ErrNotFound):
		return codeNotFound
	case rlerr.Is(err, rlerr.ErrExists):
		return codeExists
	case rlerr.Is(err, rlerr.ErrNoSpace):
		return codeNoSpace
	case rlerr.Is(err, rlerr.ErrNoMemory):
		return codeNoMemory
	case rlerr.Is(err, rlerr.ErrInvalidArg):
		return codeInvalidArg
	case rlerr.Is(err, rlerr.ErrBusy):
		return codeBusy
	case rlerr.Is(err, rlerr.ErrUnreachable):
		return codeUnreachable
	case rlerr.Is(err, rlerr.ErrInterrupted):
		return codeInterrupted
	case rlerr.Is(err, rlerr.ErrPeerRejected):
		return codePeerRejected
	case rlerr.Is(err, rlerr.ErrWouldBlock):
		return codeWouldBlock
	case rlerr.Is(err, rlerr.ErrZombie):
		return codeZombie
	default:
		return codeOther
	}
}
