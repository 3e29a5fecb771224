package audience

import (
	"strings"
	"sync"
	"time"

	"clinic-engagement/pkg/celengine"
	"clinic-engagement/pkg/errutil"

	"go.uber.org/zap"
)

// filterAttributes declares the variables an audience filter may reference.
var filterAttributes = map[string]any{
	"email":             "",
	"name":              "",
	"phone":             "",
	"membership_status": "",
	"payment_status":    "",
	"has_email":         false,
	"has_phone":         false,
	"days_since_seen":   int64(0),
}

var filterEngine = sync.OnceValues(func() (*celengine.Engine, error) {
	return celengine.New(filterAttributes)
})

// ValidateFilter checks that expr compiles to a boolean. An empty filter is
// valid.
func ValidateFilter(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	engine, err := filterEngine()
	if err != nil {
		return errutil.Internal("audience filter engine unavailable", err)
	}
	if err := engine.Validate(expr); err != nil {
		return errutil.ValidationFailed("invalid audience filter", err,
			errutil.WithDetails(errutil.Detail{Field: "audience_filter", Message: err.Error()}))
	}
	return nil
}

// Filter keeps the profiles for which expr holds. Profiles that fail to
// evaluate are dropped.
func Filter(profiles []Profile, expr string, now time.Time) ([]Profile, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return profiles, nil
	}
	if err := ValidateFilter(expr); err != nil {
		return nil, err
	}
	engine, _ := filterEngine()

	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		ok, err := engine.Evaluate(expr, Attributes(p, now))
		if err != nil {
			zap.L().Debug("audience filter evaluation failed", zap.String("key", p.Key), zap.Error(err))
			continue
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Attributes is the filter view of a profile. days_since_seen is -1 when the
// profile never produced an event.
func Attributes(p Profile, now time.Time) map[string]any {
	days := int64(-1)
	if p.LastSeenAt != nil {
		days = int64(now.Sub(*p.LastSeenAt) / (24 * time.Hour))
	}
	return map[string]any{
		"email":             p.Email,
		"name":              p.Name,
		"phone":             p.Phone,
		"membership_status": p.MembershipStatus,
		"payment_status":    p.PaymentStatus,
		"has_email":         p.Email != "",
		"has_phone":         p.Phone != "",
		"days_since_seen":   days,
	}
}
