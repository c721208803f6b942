package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime_MonthlyRollup(t *testing.T) {
	after := time.Date(2025, time.March, 14, 12, 30, 45, 0, time.UTC)

	next, err := nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.April, 1, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTime_SameDay(t *testing.T) {
	after := time.Date(2025, time.March, 1, 2, 59, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 1 * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.March, 1, 3, 0, 0, 0, time.UTC), next)
}

func TestNextCronTime_ListField(t *testing.T) {
	after := time.Date(2025, time.June, 10, 0, 16, 0, 0, time.UTC)

	next, err := nextCronTime("0,15,30,45 * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 30, 0, 0, time.UTC), next)
}

func TestNextCronTime_EveryMinute(t *testing.T) {
	after := time.Date(2025, time.June, 10, 0, 0, 30, 0, time.UTC)

	next, err := nextCronTime("* * * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, time.June, 10, 0, 1, 0, 0, time.UTC), next)
}

func TestNextCronTime_Invalid(t *testing.T) {
	_, err := nextCronTime("0 3 1 *", time.Now())
	assert.Error(t, err, "four fields is not a valid expression")

	_, err = nextCronTime("x 3 1 * *", time.Now())
	assert.Error(t, err)
}

func TestNextCronTime_OutOfRangeValues(t *testing.T) {
	for _, expr := range []string{
		"99 * * * *", // minute past 59
		"0 24 * * *", // hour past 23
		"0 3 32 * *", // no 32nd day
		"0 3 1 13 *", // no 13th month
		"0 3 * * 7",  // weekday past Saturday
		"0,75 * * * *",
	} {
		_, err := nextCronTime(expr, time.Now())
		assert.Error(t, err, "expression %q must be rejected, not silently never fire", expr)
	}
}
