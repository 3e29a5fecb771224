package policy

import (
	"testing"
	"time"

	"clinic-engagement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestFromConfigKeepsDefaultsForZeroValues(t *testing.T) {
	p := FromConfig(&config.Config{})
	require.Equal(t, Default(), p)
}

func TestFromConfigOverrides(t *testing.T) {
	cfg := &config.Config{}
	cfg.Engine.BillingCycleDays = 14
	cfg.Engine.AttributionFloor = 0.05
	cfg.Engine.AttributionCeiling = 0.5
	cfg.Engine.DispatchWorkers = 2

	p := FromConfig(cfg)
	require.Equal(t, 14*24*time.Hour, p.BillingCycle)
	require.Equal(t, 0.05, p.AttributionFloor)
	require.Equal(t, 0.5, p.AttributionCeiling)
	require.Equal(t, 2, p.DispatchWorkers)
}

func TestClampConversion(t *testing.T) {
	p := Default()
	require.Equal(t, 0.03, p.ClampConversion(0))
	require.Equal(t, 0.2, p.ClampConversion(0.2))
	require.Equal(t, 0.45, p.ClampConversion(0.9))
}
