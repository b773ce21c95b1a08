package uipcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDijkstraNextHopPicksCheapestPath(t *testing.T) {
	// self=1 -> 2 (cost 5) -> 4 (cost 1); self=1 -> 3 (cost 1) -> 4 (cost 1)
	// cheapest path to 4 goes via 3, and so does the one to 2
	// (1 -> 3 -> 4 -> 2 costs 3, less than the direct 5).
	edges := map[uint32]map[uint32]uint32{
		1: {2: 5, 3: 1},
		2: {1: 5, 4: 1},
		3: {1: 1, 4: 1},
		4: {2: 1, 3: 1},
	}
	hop := dijkstraNextHop(1, edges)
	require.Equal(t, uint32(3), hop[2])
	require.Equal(t, uint32(3), hop[3])
	require.Equal(t, uint32(3), hop[4])
}

func TestDijkstraNextHopUnreachableNodeOmitted(t *testing.T) {
	edges := map[uint32]map[uint32]uint32{
		1: {2: 1},
		2: {1: 1},
		3: {4: 1},
		4: {3: 1},
	}
	hop := dijkstraNextHop(1, edges)
	require.Equal(t, uint32(2), hop[2])
	_, ok := hop[3]
	require.False(t, ok)
}
