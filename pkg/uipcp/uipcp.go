// Package uipcp implements the user-space controller that runs above a
// normal-DIF IPCP (spec.md §4.6-§4.8): neighbor enrollment, a lower-flow
// link-state database feeding the PDUFT via Dijkstra, directory-
// forwarding-table gossip, and the CDAP-driven half of flow allocation.
// Grounded on the teacher's IngestMuxer for the overall shape (one mutex
// guarding a small registry of peer state, background goroutines for
// periodic maintenance, explicit start/stop), reshaped from connection
// bookkeeping to RIB state.
package uipcp

import (
	"errors"
	"time"
)

// ErrNoRoute describes a destination address with neither a direct
// neighbor nor a routed next hop; no function in this package returns it.
var ErrNoRoute = errors.New("uipcp: no route to destination")

// ErrUnknownAppl describes a flow-allocation target missing from the DFT;
// no function in this package returns it.
var ErrUnknownAppl = errors.New("uipcp: application not found in DFT")

// Tunable timers (spec.md §4.6, §4.8). Kept as package vars rather than
// constants so tests can shrink them.
var (
	EnrollTimeout    = 1500 * time.Millisecond
	EnrollMaxRetries = 3

	KeepaliveInterval = 5 * time.Second
	KeepaliveMaxMiss  = 3

	AgeInterval  = 2 * time.Second
	SyncInterval = 30 * time.Second
	SyncBatch    = 10
)
