// Package policy holds the engine-wide tunables. A Policy is built once at
// startup and handed by value to every component constructor.
package policy

import (
	"time"

	"clinic-engagement/pkg/config"

	"go.uber.org/fx"
)

var Module = fx.Module("policy", fx.Provide(FromConfig))

type Policy struct {
	BillingCycle         time.Duration
	InactiveWindow       time.Duration
	AbandonedCartWindow  time.Duration
	CartRunInterval      time.Duration
	RecurringRunInterval time.Duration
	AttributionFloor     float64
	AttributionCeiling   float64
	DispatchWorkers      int
	SenderTimeout        time.Duration
	SegmentScanLimit     int
	Currency             string
}

func Default() Policy {
	return Policy{
		BillingCycle:         30 * 24 * time.Hour,
		InactiveWindow:       30 * 24 * time.Hour,
		AbandonedCartWindow:  24 * time.Hour,
		CartRunInterval:      24 * time.Hour,
		RecurringRunInterval: 7 * 24 * time.Hour,
		AttributionFloor:     0.03,
		AttributionCeiling:   0.45,
		DispatchWorkers:      8,
		SenderTimeout:        12 * time.Second,
		SegmentScanLimit:     10000,
		Currency:             "eur",
	}
}

// FromConfig starts from Default and overrides every value set in ENGINE.
func FromConfig(cfg *config.Config) Policy {
	p := Default()
	if cfg == nil {
		return p
	}

	e := cfg.Engine
	if e.BillingCycleDays > 0 {
		p.BillingCycle = time.Duration(e.BillingCycleDays) * 24 * time.Hour
	}
	if e.InactiveWindow > 0 {
		p.InactiveWindow = e.InactiveWindow
	}
	if e.AbandonedCartWindow > 0 {
		p.AbandonedCartWindow = e.AbandonedCartWindow
	}
	if e.CartRunInterval > 0 {
		p.CartRunInterval = e.CartRunInterval
	}
	if e.RecurringRunInterval > 0 {
		p.RecurringRunInterval = e.RecurringRunInterval
	}
	if e.AttributionFloor > 0 {
		p.AttributionFloor = e.AttributionFloor
	}
	if e.AttributionCeiling > 0 && e.AttributionCeiling >= p.AttributionFloor {
		p.AttributionCeiling = e.AttributionCeiling
	}
	if e.DispatchWorkers > 0 {
		p.DispatchWorkers = e.DispatchWorkers
	}
	if e.SenderTimeout > 0 {
		p.SenderTimeout = e.SenderTimeout
	}
	if e.SegmentScanLimit > 0 {
		p.SegmentScanLimit = e.SegmentScanLimit
	}
	if e.Currency != "" {
		p.Currency = e.Currency
	}
	return p
}

// ClampConversion bounds an observed conversion ratio to the attribution range.
func (p Policy) ClampConversion(ratio float64) float64 {
	if ratio < p.AttributionFloor {
		return p.AttributionFloor
	}
	if ratio > p.AttributionCeiling {
		return p.AttributionCeiling
	}
	return ratio
}
