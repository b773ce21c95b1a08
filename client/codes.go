package client

import "github.com/rlite-project/rlite-go/pkg/rlerr"

// Result codes carried in MsgAck/MsgIPCPCreateResp/MsgApplRegisterResp
// Fixed payloads (spec.md §4.3, §7). Mirrors daemon/codes.go's resultCode
// table in reverse; kept as a separate copy rather than an import since
// cmd/* binaries built on this client package have no business depending
// on the daemon process's internals.
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

func errFromCode(code uint16) error {
	switch code {
	case codeOK:
		return nil
	case codeNotFound:
		return rlerr.ErrNotFound
	case codeExists:
		return rlerr.ErrExists
	case codeNoSpace:
		return rlerr.ErrNoSpace
	case codeNoMemory:
		return rlerr.ErrNoMemory
	case codeInvalidArg:
		return rlerr.ErrInvalidArg
	case codeBusy:
		return rlerr.ErrBusy
	case codeUnreachable:
		return rlerr.ErrUnreachable
	case codeInterrupted:
		return rlerr.ErrInterrupted
	case codePeerRejected:
		return rlerr.ErrPeerRejected
	case codeWouldBlock:
		return rlerr.ErrWouldBlock
	case codeZombie:
		return rlerr.ErrZombie
	default:
		return rlerr.ErrInvalidArg
	}
}
