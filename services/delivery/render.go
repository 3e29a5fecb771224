package delivery

import (
	"strings"

	"clinic-engagement/pkg/util"
	"clinic-engagement/services/audience"
)

const (
	DefaultTitle = "Update from {{clinic}}"
	DefaultBody  = "We have a new offer for you."

	defaultName       = "Patient"
	defaultClinicName = "your clinic"
	defaultStatus     = "inactive"
)

// Render substitutes the recipient placeholders in template.
func Render(template string, p audience.Profile, clinicName string) string {
	r := strings.NewReplacer(
		"{{name}}", orDefault(p.Name, defaultName),
		"{{email}}", p.Email,
		"{{clinic}}", orDefault(clinicName, defaultClinicName),
		"{{membership_status}}", orDefault(p.MembershipStatus, defaultStatus),
	)
	return r.Replace(template)
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

// address picks the channel address of p. An empty result means the
// recipient cannot be reached on that channel.
func address(ch Channel, p audience.Profile) string {
	var addr string
	switch ch {
	case ChannelInApp:
		addr = orDefault(p.ExternalUserID, p.Key)
	case ChannelEmail:
		addr = p.Email
	case ChannelSMS:
		if len(p.Phone) >= minPhoneLen {
			addr = p.Phone
		}
	case ChannelPush:
		addr = p.ExternalUserID
	}
	return util.Truncate(addr, maxAddressLen)
}
