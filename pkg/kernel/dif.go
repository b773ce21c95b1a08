package kernel

import "time"

// DIF is a named grouping of IPCPs speaking the same policies (spec.md §3).
// Created on first referencing IPCP, destroyed with the last.
type DIF struct {
	Name       string
	Type       string
	MaxPDULife time.Duration
	refcount   int
}

func newDIF(name, typ string) *DIF {
	return &DIF{Name: name, Type: typ, MaxPDULife: 60 * time.Second}
}
