package featureflags

import (
	"context"
	"fmt"

	"clinic-engagement/pkg/config"

	"github.com/Flagsmith/flagsmith-go-client/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("featureflags", fx.Provide(ProvideFeatureFlag))

type FeatureFlag interface {
	// ChannelEnabled reports whether the tenant may deliver on channel. Flags
	// are named channel_<name>_enabled; a missing flag means enabled.
	ChannelEnabled(ctx context.Context, tenantID, channel string) bool
}

type featureflag struct {
	client *flagsmith.Client
}

type FeatureParams struct {
	fx.In
	Config *config.Config
}

func ProvideFeatureFlag(p FeatureParams) FeatureFlag {
	if p.Config.Flagsmith.ApiKey == "" {
		return &featureflag{}
	}

	opts := []flagsmith.Option{
		flagsmith.WithAnalytics(),
	}
	if p.Config.Flagsmith.Addr != "" {
		opts = append(opts, flagsmith.WithBaseURL(p.Config.Flagsmith.Addr))
	}

	return &featureflag{
		client: flagsmith.NewClient(p.Config.Flagsmith.ApiKey, opts...),
	}
}

func ChannelFlag(channel string) string {
	return fmt.Sprintf("channel_%s_enabled", channel)
}

func (s *featureflag) ChannelEnabled(ctx context.Context, tenantID, channel string) bool {
	if s.client == nil {
		return true
	}

	flags, err := s.client.GetIdentityFlags(tenantID, nil)
	if err != nil {
		zap.L().Warn("featureflags: lookup failed, channel left enabled",
			zap.String("tenant_id", tenantID), zap.String("channel", channel), zap.Error(err))
		return true
	}

	enabled, err := flags.IsFeatureEnabled(ChannelFlag(channel))
	if err != nil {
		return true
	}
	return enabled
}
