package ledger

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestEmailPriority(t *testing.T) {
	m := Metadata{"email": "second@x.com", "memberEmail": " First@X.com ", "patientEmail": "third@x.com"}
	require.Equal(t, "first@x.com", m.Email())

	m = Metadata{"memberEmail": "not-an-email", "patientEmail": "third@x.com"}
	require.Equal(t, "third@x.com", m.Email())

	require.Empty(t, Metadata{}.Email())
}

func TestPhoneRequiresEightChars(t *testing.T) {
	require.Empty(t, Metadata{"phone": "1234567"}.Phone())
	require.Equal(t, "+4912345678", Metadata{"phone": "123", "memberPhone": "+4912345678"}.Phone())
}

func TestExternalUserIDAndActorKey(t *testing.T) {
	m := Metadata{"sessionId": "S-1", "email": "a@x.com"}
	require.Equal(t, "S-1", m.ExternalUserID())
	require.Equal(t, "a@x.com", m.ActorKey())

	m = Metadata{"patientId": strings.Repeat("p", 200)}
	require.Len(t, m.ExternalUserID(), 120)

	require.Equal(t, "s-1", Metadata{"sessionId": "S-1"}.ActorKey())
	require.Equal(t, "42", Metadata{"patientId": float64(42)}.ActorKey())
}

func TestStringAndInt(t *testing.T) {
	m := Metadata{"sent": float64(12), "ratio": 0.5, "flag": true, "count": "7", "bad": "x"}
	require.Equal(t, "12", m.String("sent"))
	require.Equal(t, "0.5", m.String("ratio"))
	require.Equal(t, "true", m.String("flag"))

	n, ok := m.Int("sent")
	require.True(t, ok)
	require.Equal(t, int64(12), n)

	n, ok = m.Int("count")
	require.True(t, ok)
	require.Equal(t, int64(7), n)

	_, ok = m.Int("bad")
	require.False(t, ok)
	_, ok = m.Int("missing")
	require.False(t, ok)
}

func TestDisplayName(t *testing.T) {
	require.Equal(t, "Ana", Metadata{"name": " Ana "}.DisplayName())
	require.Equal(t, "Member", Metadata{"memberName": "Member", "name": "Ana"}.DisplayName())
}

func TestActorKeyIsBounded(t *testing.T) {
	key := Metadata{"sessionId": strings.Repeat("S", 500)}.ActorKey()
	require.Len(t, key, 120)
	require.Equal(t, strings.Repeat("s", 120), key)
}

func TestExtractorsKeepRuneBoundaries(t *testing.T) {
	id := strings.Repeat("x", 119) + "ß-tail"
	m := Metadata{"patientId": id, "name": strings.Repeat("n", 119) + "ñandú"}

	for _, v := range []string{m.ExternalUserID(), m.ActorKey(), m.DisplayName()} {
		require.True(t, utf8.ValidString(v), "%q", v)
		require.Equal(t, 120, utf8.RuneCountInString(v))
	}
	require.True(t, strings.HasSuffix(m.ExternalUserID(), "xß"))
	require.True(t, strings.HasSuffix(m.DisplayName(), "nñ"))
}
