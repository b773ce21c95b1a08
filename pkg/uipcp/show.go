package uipcp

// NeighborInfo is a read-only snapshot of one neighbor relationship, for
// ipcp-rib-show (spec.md §6 CLI surface).
type NeighborInfo struct {
	Name    string
	Addr    uint32
	State   EnrollState
	DataCEP bool
}

// Neighbors returns a snapshot of every neighbor this RIB knows about.
func (r *RIB) Neighbors() []NeighborInfo {
	r.mu.Lock()
	list := r.neighborList()
	r.mu.Unlock()

	out := make([]NeighborInfo, 0, len(list))
	for _, n := range list {
		out = append(out, NeighborInfo{Name: n.name.String(), Addr: n.Address(), State: n.State()})
	}
	return out
}

// DFTSnapshot returns a copy of the directory forwarding table, keyed by
// application name string.
func (r *RIB) DFTSnapshot() map[string]DFTEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]DFTEntry, len(r.dft))
	for k, v := range r.dft {
		out[k] = v
	}
	return out
}

// LowerFlowSnapshot returns a copy of the lower-flow link-state database.
func (r *RIB) LowerFlowSnapshot() map[[2]uint32]LowerFlowEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[[2]uint32]LowerFlowEntry, len(r.lowerFlows))
	for k, v := range r.lowerFlows {
		out[[2]uint32{k.A, k.B}] = *v
	}
	return out
}
