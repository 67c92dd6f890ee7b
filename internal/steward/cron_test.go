package steward

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNextFire_EveryMinuteNeverFiresBeforeNowPlusOneMinute(t *testing.T) {
	spec, err := parseCronSpec("* * * * *")
	require.NoError(t, err)

	cases := []time.Time{
		time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
		time.Date(2026, 7, 30, 12, 0, 1, 0, time.UTC),
		time.Date(2026, 7, 30, 12, 0, 45, 0, time.UTC),
		time.Date(2026, 7, 30, 12, 0, 59, 999999999, time.UTC),
	}

	for _, now := range cases {
		next, ok := spec.nextFire(now)
		require.True(t, ok)
		require.False(t, next.Before(now.Add(time.Minute)), "nextFire(%s) = %s must not be before now+1min", now, next)
	}
}

func TestNextFire_SubMinuteNowRoundsUpPastOneMinuteBound(t *testing.T) {
	spec, err := parseCronSpec("* * * * *")
	require.NoError(t, err)

	// now+1min is 12:01:45, which falls between the 12:01:00 and 12:02:00
	// boundaries; the first one at or after that bound is 12:02:00.
	now := time.Date(2026, 7, 30, 12, 0, 45, 0, time.UTC)
	next, ok := spec.nextFire(now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 30, 12, 2, 0, 0, time.UTC), next)
}

func TestNextFire_OnMinuteBoundarySkipsToNextMinute(t *testing.T) {
	spec, err := parseCronSpec("* * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	next, ok := spec.nextFire(now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 30, 12, 1, 0, 0, time.UTC), next)
}

func TestNextFire_SpecificMinuteMatchesAcrossHourBoundary(t *testing.T) {
	spec, err := parseCronSpec("30 * * * *")
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 45, 10, 0, time.UTC)
	next, ok := spec.nextFire(now)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 7, 30, 13, 30, 0, 0, time.UTC), next)
}
