package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo_Standard(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 30, 0, 0, time.UTC)

	info, err := GetTriggerInfo("0 * * * *", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), info.Last)
	assert.Equal(t, 30*time.Minute, info.TimeUntilNext)
	assert.Equal(t, 30*time.Minute, info.TimeSinceLast)
}

func TestGetTriggerInfo_Daily(t *testing.T) {
	ref := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	info, err := GetTriggerInfo("@daily", ref)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), info.Next)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC), info.Last)
}

func TestGetTriggerInfo_Invalid(t *testing.T) {
	_, err := GetTriggerInfo("not a cron", time.Now())
	require.Error(t, err)
}
