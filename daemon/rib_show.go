package daemon

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rlite-project/rlite-go/pkg/ctlproto"
	"github.com/rlite-project/rlite-go/pkg/names"
	"github.com/rlite-project/rlite-go/pkg/rlerr"
)

// handleRIBShow implements ipcp-rib-show/dif-rib-show (spec.md §6): a
// human-readable render of one normal IPCP's neighbors, DFT and
// lower-flow database. An empty APN in the request name means "every
// normal IPCP in the DIF named by API".
func (s *Server) handleRIBShow(msg *ctlproto.Message) *ctlproto.Message {
	target := msg.Names[0]
	var ipcps []string
	if target.APN != "" {
		ipcps = []string{target.APN}
	} else {
		for _, ipcp := range s.reg.ListIPCPs() {
			if ipcp.DIF().Name == target.API {
				ipcps = append(ipcps, ipcp.Name().String())
			}
		}
	}

	var b strings.Builder
	for _, name := range ipcps {
		ipcp, err := s.reg.IPCPGetByName(names.Parse(name))
		if err != nil {
			continue
		}
		rib, ok := s.uipcps.RIBFor(ipcp)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "ipcp %s (addr %d)\n", name, ipcp.Address())

		neighbors := rib.Neighbors()
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].Name < neighbors[j].Name })
		for _, n := range neighbors {
			fmt.Fprintf(&b, "  neighbor %s addr=%d state=%v\n", n.Name, n.Addr, n.State)
		}

		dft := rib.DFTSnapshot()
		dftKeys := make([]string, 0, len(dft))
		for k := range dft {
			dftKeys = append(dftKeys, k)
		}
		sort.Strings(dftKeys)
		for _, k := range dftKeys {
			e := dft[k]
			fmt.Fprintf(&b, "  dft %s -> addr=%d ts=%d local=%v\n", k, e.Addr, e.Timestamp, e.Local)
		}

		lf := rib.LowerFlowSnapshot()
		for k, e := range lf {
			fmt.Fprintf(&b, "  lowerflow %d<->%d cost=%d seq=%d\n", k[0], k[1], e.Cost, e.Seq)
		}
	}

	if b.Len() == 0 {
		return ack(msg, rlerr.ErrNotFound)
	}
	return &ctlproto.Message{Type: ctlproto.MsgRIBShowResp, EventID: msg.EventID, Strings: []string{b.String()}}
}
