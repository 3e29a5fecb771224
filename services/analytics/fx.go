package analytics

import "go.uber.org/fx"

var Module = fx.Module("analytics.aggregator",
	fx.Provide(
		NewStaffStore,
		func(s *StaffStore) StaffDirectory { return s },
		NewAggregator,
	),
)
