package featureflags

import (
	"context"
	"testing"

	"clinic-engagement/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestChannelEnabledWithoutClient(t *testing.T) {
	ff := ProvideFeatureFlag(FeatureParams{Config: &config.Config{}})
	require.True(t, ff.ChannelEnabled(context.Background(), "t1", "sms"))
	require.Equal(t, "channel_sms_enabled", ChannelFlag("sms"))
}
