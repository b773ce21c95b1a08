package uipcp

import (
	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/names"
)

// DFTSet registers name as reachable at this node's own address and
// gossips the row to every neighbor (spec.md §4.7 "directory forwarding
// table", application registration path).
func (r *RIB) DFTSet(name names.Name, ts int64) {
	key := name.String()
	r.mu.Lock()
	r.dft[key] = DFTEntry{Addr: r.ipcp.Address(), Timestamp: ts, Local: true}
	neighbors := r.neighborList()
	msg := &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "dft", ObjValue: encodeDFTEntry(key, r.ipcp.Address(), ts)}
	r.mu.Unlock()

	r.checkpoint()
	r.broadcast(neighbors, msg, nil)
}

// DFTUnset tombstones a local registration with a fresh timestamp and
// address 0, so the withdrawal itself propagates like any other update
// instead of requiring a separate delete message type.
func (r *RIB) DFTUnset(name names.Name, ts int64) {
	key := name.String()
	r.mu.Lock()
	delete(r.dft, key)
	neighbors := r.neighborList()
	msg := &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "dft", ObjValue: encodeDFTEntry(key, 0, ts)}
	r.mu.Unlock()

	r.checkpoint()
	r.broadcast(neighbors, msg, nil)
}

// Lookup resolves an application name against the directory (spec.md
// §4.7 fa-req resolution step).
func (r *RIB) Lookup(name names.Name) (DFTEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.dft[name.String()]
	return e, ok
}

// handleDFTGossip accepts a DFT row if it's newer than what's on file and
// re-propagates it to every neighbor except the one it arrived from
// (spec.md §4.8 DFT sync; an address of 0 represents a withdrawal).
func (r *RIB) handleDFTGossip(n *Neighbor, msg *cdap.Message) {
	key, addr, ts, err := decodeDFTEntry(msg.ObjValue)
	if err != nil {
		return
	}

	r.mu.Lock()
	if cur, ok := r.dft[key]; ok && cur.Timestamp >= ts {
		r.mu.Unlock()
		return
	}
	if addr == 0 {
		delete(r.dft, key)
	} else {
		r.dft[key] = DFTEntry{Addr: addr, Timestamp: ts, Local: false}
	}
	neighbors := r.neighborList()
	r.mu.Unlock()

	r.checkpoint()
	r.broadcast(neighbors, msg, n)
}

// noteCandidate records a newly-learned neighbor's address as a possible
// next enrollment target for this node's own future neighbors, and
// gossips it onward (spec.md §4.6 "neighbor enrollment may cascade via
// candidates learned from already-enrolled neighbors").
func (r *RIB) noteCandidate(name names.Name, addr uint32) {
	key := name.String()
	r.mu.Lock()
	if cur, ok := r.candidates[key]; ok && cur == addr {
		r.mu.Unlock()
		return
	}
	r.candidates[key] = addr
	neighbors := r.neighborList()
	msg := &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "neighbor-candidate", ObjName: key, ObjValue: encodeAddr(addr)}
	r.mu.Unlock()

	r.broadcast(neighbors, msg, nil)
}

func (r *RIB) handleCandidateGossip(n *Neighbor, msg *cdap.Message) {
	addr := decodeAddr(msg.ObjValue)
	key := msg.ObjName

	r.mu.Lock()
	if cur, ok := r.candidates[key]; ok && cur == addr {
		r.mu.Unlock()
		return
	}
	r.candidates[key] = addr
	neighbors := r.neighborList()
	r.mu.Unlock()

	r.broadcast(neighbors, msg, n)
}

// Candidates returns the known neighbor-candidate addresses, keyed by
// neighbor name, for a daemon's auto-enrollment loop to consult.
func (r *RIB) Candidates() map[string]uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]uint32, len(r.candidates))
	for k, v := range r.candidates {
		out[k] = v
	}
	return out
}
