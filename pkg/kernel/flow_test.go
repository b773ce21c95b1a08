package kernel_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rlite-project/rlite-go/pkg/kernel"
)

func TestNegotiatedFlowConfigBestEffort(t *testing.T) {
	cfg := kernel.NegotiatedFlowConfig(false, false)
	require.False(t, cfg.DTCPPresent)
	require.False(t, cfg.WindowBased)
	require.False(t, cfg.RtxControl)
}

func TestNegotiatedFlowConfigRtxControlDerivesR(t *testing.T) {
	cfg := kernel.NegotiatedFlowConfig(false, true)
	require.True(t, cfg.DTCPPresent)
	require.True(t, cfg.RtxControl)
	require.NotZero(t, cfg.InitialTR)
	require.NotZero(t, cfg.MaxRetx)
	require.Equal(t, cfg.InitialTR*time.Duration(cfg.MaxRetx), cfg.R)
}

func TestNegotiatedFlowConfigWindowBasedSetsCredit(t *testing.T) {
	cfg := kernel.NegotiatedFlowConfig(true, false)
	require.True(t, cfg.DTCPPresent)
	require.True(t, cfg.WindowBased)
	require.NotZero(t, cfg.InitialCredit)
}
