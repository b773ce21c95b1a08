package kernel

// FlowFetchNext implements the flow-fetch snapshot semantics of spec.md
// §4.3: on first call, materialize the full flow list into the handle's
// cursor; each call pops one entry until the list is exhausted, at which
// point ok is false (the "end=1" sentinel the daemon maps to
// flow-fetch-resp).
func (r *Registry) FlowFetchNext(h *Handle) (f *Flow, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.flowFetchCursor == nil {
		h.flowFetchCursor = r.ListFlows()
		if h.flowFetchCursor == nil {
			h.flowFetchCursor = []*Flow{}
		}
	}
	if len(h.flowFetchCursor) == 0 {
		h.flowFetchCursor = nil // reset for the next flow-fetch round
		return nil, false
	}
	f = h.flowFetchCursor[0]
	h.flowFetchCursor = h.flowFetchCursor[1:]
	return f, true
}

// IPCPFetchNext is the IPCP analog of FlowFetchNext, also used to build
// the retrospective ipcp-update(add) burst when FlagIPCPs is set on a
// freshly opened handle (spec.md §6).
func (r *Registry) IPCPFetchNext(h *Handle) (ipcp *IPCP, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ipcpFetchCursor == nil {
		h.ipcpFetchCursor = r.ListIPCPs()
		if h.ipcpFetchCursor == nil {
			h.ipcpFetchCursor = []*IPCP{}
		}
	}
	if len(h.ipcpFetchCursor) == 0 {
		h.ipcpFetchCursor = nil
		return nil, false
	}
	ipcp = h.ipcpFetchCursor[0]
	h.ipcpFetchCursor = h.ipcpFetchCursor[1:]
	return ipcp, true
}
