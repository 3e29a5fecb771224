package ledger

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"clinic-engagement/pkg/util"
)

// Metadata is the free-form key/value bag attached to an event. Identity and
// classification are only ever read through the extractors below.
type Metadata map[string]any

const (
	maxEmailLen      = 180
	maxNameLen       = 120
	maxExternalIDLen = 120
	minPhoneLen      = 8
)

// String returns the trimmed textual form of key. Numbers and booleans are
// rendered the way a JSON producer wrote them.
func (m Metadata) String(key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Int parses key as a whole number. Fractions are truncated.
func (m Metadata) Int(key string) (int64, bool) {
	switch v := m[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (m Metadata) first(keys ...string) string {
	for _, k := range keys {
		if v := m.String(k); v != "" {
			return v
		}
	}
	return ""
}

// SanitizeEmail lowercases v and returns it when it looks like an address.
func SanitizeEmail(v string) string {
	email := strings.ToLower(strings.TrimSpace(v))
	email = util.Truncate(email, maxEmailLen)
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return ""
	}
	return email
}

func SanitizeName(v string) string {
	return util.Truncate(strings.TrimSpace(v), maxNameLen)
}

func (m Metadata) Email() string {
	for _, k := range []string{"memberEmail", "email", "patientEmail"} {
		if email := SanitizeEmail(m.String(k)); email != "" {
			return email
		}
	}
	return ""
}

func (m Metadata) Phone() string {
	for _, k := range []string{"phone", "memberPhone", "patientPhone"} {
		if p := m.String(k); len(p) >= minPhoneLen {
			return p
		}
	}
	return ""
}

func (m Metadata) ExternalUserID() string {
	return util.Truncate(m.first("patientId", "externalUserId", "sessionId", "memberEmail", "email"), maxExternalIDLen)
}

func (m Metadata) ActorKey() string {
	return util.Truncate(strings.ToLower(m.first("patientId", "memberEmail", "email", "sessionId")), maxExternalIDLen)
}

func (m Metadata) SessionID() string {
	return m.String("sessionId")
}

func (m Metadata) DisplayName() string {
	return SanitizeName(m.first("memberName", "name"))
}
