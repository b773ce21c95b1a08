package uipcp

import (
	"golang.org/x/sync/errgroup"

	"github.com/rlite-project/rlite-go/pkg/cdap"
	"github.com/rlite-project/rlite-go/pkg/factory"
)

// commitLowerFlow records this node's outgoing edge to n once enrollment
// completes, gossips it to every other enrolled neighbor, and recomputes
// routes (spec.md §4.6 transitions 4/5 "commit self<->peer LowerFlow").
func (r *RIB) commitLowerFlow(n *Neighbor) {
	r.mu.Lock()
	r.neighborAddr[n.addr] = n
	key := lowerFlowKey{A: r.ipcp.Address(), B: n.addr}
	r.lowerFlows[key] = &LowerFlowEntry{Cost: 1, Seq: 1}
	neighbors := r.neighborList()
	msg := &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "lowerflow", ObjValue: encodeLowerFlow(key.A, key.B, 1, 1)}
	r.mu.Unlock()

	r.checkpoint()
	r.broadcast(neighbors, msg, nil)
	r.recomputeRoutes()
}

// handleLowerFlowGossip implements the lower-flow half of RIB sync
// (spec.md §4.8): a row is only accepted and re-propagated when its
// sequence number is newer than what's on file, which both suppresses
// gossip storms and gives each row eventual-consistency semantics.
func (r *RIB) handleLowerFlowGossip(n *Neighbor, msg *cdap.Message) {
	a, b, cost, seq, err := decodeLowerFlow(msg.ObjValue)
	if err != nil {
		return
	}
	key := lowerFlowKey{A: a, B: b}

	r.mu.Lock()
	if cur, ok := r.lowerFlows[key]; ok && cur.Seq >= seq {
		r.mu.Unlock()
		return
	}
	r.lowerFlows[key] = &LowerFlowEntry{Cost: cost, Seq: seq}
	neighbors := r.neighborList()
	r.mu.Unlock()

	r.checkpoint()
	r.broadcast(neighbors, msg, n)
	r.recomputeRoutes()
}

// recomputeRoutes runs Dijkstra from this node over every lower-flow edge
// whose reverse edge is also on file (spec.md §8 "routing: edges whose
// inverse is also present") and reprograms the PDUFT with the resulting
// next hops (spec.md §4.5, §4.8).
func (r *RIB) recomputeRoutes() {
	pc, ok := r.ipcp.Factory().(factory.PDUFTCapable)
	if !ok {
		return
	}

	r.mu.Lock()
	self := r.ipcp.Address()
	edges := make(map[uint32]map[uint32]uint32)
	for k, e := range r.lowerFlows {
		if _, hasRev := r.lowerFlows[lowerFlowKey{A: k.B, B: k.A}]; !hasRev {
			continue
		}
		if edges[k.A] == nil {
			edges[k.A] = make(map[uint32]uint32)
		}
		edges[k.A][k.B] = e.Cost
	}
	neighborsByAddr := make(map[uint32]*Neighbor, len(r.neighborAddr))
	for addr, nb := range r.neighborAddr {
		neighborsByAddr[addr] = nb
	}
	r.mu.Unlock()

	nextHop := dijkstraNextHop(self, edges)

	_ = pc.PDUFTFlush(r.ipcp.Private())
	for dst, hop := range nextHop {
		if dst == self {
			continue
		}
		nb, ok := neighborsByAddr[hop]
		if !ok {
			continue
		}
		flow := nb.dataFlow()
		if flow == nil {
			continue
		}
		_ = pc.PDUFTSet(r.ipcp.Private(), dst, flow)
	}
}

// dijkstraNextHop computes, for every node reachable from self, the
// address of the first-hop neighbor on a shortest path (spec.md §4.8
// "routing"). A pure function over the edge set so it's testable without
// any network or kernel state.
func dijkstraNextHop(self uint32, edges map[uint32]map[uint32]uint32) map[uint32]uint32 {
	const inf = ^uint32(0) / 2

	nodes := map[uint32]bool{self: true}
	for a, m := range edges {
		nodes[a] = true
		for b := range m {
			nodes[b] = true
		}
	}

	dist := map[uint32]uint32{self: 0}
	nextHop := map[uint32]uint32{}
	visited := map[uint32]bool{}

	for len(visited) < len(nodes) {
		u, best, found := uint32(0), inf, false
		for v := range nodes {
			if visited[v] {
				continue
			}
			d, ok := dist[v]
			if ok && d < best {
				u, best, found = v, d, true
			}
		}
		if !found {
			break
		}
		visited[u] = true
		for v, cost := range edges[u] {
			if visited[v] {
				continue
			}
			nd := dist[u] + cost
			if cur, ok := dist[v]; !ok || nd < cur {
				dist[v] = nd
				if u == self {
					nextHop[v] = v
				} else {
					nextHop[v] = nextHop[u]
				}
			}
		}
	}
	return nextHop
}

// syncLowerFlows re-broadcasts this node's own outgoing edges every
// SyncInterval with a bumped sequence number, fanning the sends out to
// neighbors in batches of SyncBatch (spec.md §4.8 "lower-flow sync every
// 30s batched by 10").
func (r *RIB) syncLowerFlows() {
	r.mu.Lock()
	self := r.ipcp.Address()
	var msgs []*cdap.Message
	for k, e := range r.lowerFlows {
		if k.A != self {
			continue
		}
		e.Seq++
		msgs = append(msgs, &cdap.Message{Op: cdap.MCreate, InvokeID: r.nextInvoke(), ObjClass: "lowerflow", ObjValue: encodeLowerFlow(k.A, k.B, e.Cost, e.Seq)})
	}
	neighbors := r.neighborList()
	r.mu.Unlock()

	if len(msgs) == 0 || len(neighbors) == 0 {
		return
	}

	var g errgroup.Group
	for i := 0; i < len(neighbors); i += SyncBatch {
		end := i + SyncBatch
		if end > len(neighbors) {
			end = len(neighbors)
		}
		batch := neighbors[i:end]
		g.Go(func() error {
			for _, nb := range batch {
				for _, m := range msgs {
					_ = nb.send(m)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
}
