package analytics

import (
	"testing"
	"time"

	"clinic-engagement/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestLastDaysClamps(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	require.Equal(t, now.Add(-day), LastDays(now, 0).From)
	require.Equal(t, now.Add(-maxDays*day), LastDays(now, 99999).From)
	require.Equal(t, 7, LastDays(now, 7).Days())
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	w, err := ParseWindow("", "", "", now)
	require.NoError(t, err)
	require.Equal(t, Window{From: now.Add(-30 * day), To: now}, w)

	for _, all := range []string{"all", "MAX", "0"} {
		w, err = ParseWindow(all, "", "", now)
		require.NoError(t, err)
		require.Equal(t, maxDays, w.Days(), all)
	}

	w, err = ParseWindow("", "2025-03-01", "2025-03-05", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), w.From)
	require.Equal(t, time.Date(2025, 3, 6, 0, 0, 0, 0, time.UTC), w.To)
	require.Equal(t, 5, w.Days())

	w, err = ParseWindow("", "2025-03-01T10:00:00Z", "2025-03-01T12:00:00+01:00", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC), w.To)
	require.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), w.From)

	w, err = ParseWindow("", "2025-03-09", "2025-03-01", now)
	require.NoError(t, err)
	require.Equal(t, w.To.Add(-day), w.From)

	w, err = ParseWindow("14", "", "2025-02-28", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), w.To)
	require.Equal(t, 14, w.Days())
}

func TestParseWindowRejectsGarbage(t *testing.T) {
	now := time.Now()

	_, err := ParseWindow("week", "", "", now)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	_, err = ParseWindow("", "yesterday", "", now)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
	_, err = ParseWindow("", "", "03/10/2025", now)
	require.True(t, errutil.Is(err, errutil.StatusValidationFailed))
}
