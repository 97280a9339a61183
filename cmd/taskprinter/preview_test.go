package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstantFlag(t *testing.T) {
	var f instantFlag
	assert.Equal(t, "", f.String())
	assert.Nil(t, f.ptr())

	require.NoError(t, f.Set("2025-08-17T08:00:00+02:00"))
	assert.Equal(t, time.Date(2025, 8, 17, 6, 0, 0, 0, time.UTC), f.t)
	assert.Equal(t, "2025-08-17T06:00:00Z", f.String())

	require.NoError(t, f.Set("2025-08-17"))
	assert.Equal(t, time.Date(2025, 8, 17, 0, 0, 0, 0, time.UTC), *f.ptr())

	assert.Error(t, f.Set("next tuesday"))
	assert.Equal(t, "instant", f.Type())
}

func TestParseBlackouts(t *testing.T) {
	periods, err := parseBlackouts([]string{"2025-08-17/2025-08-17", "2025-09-01T10:00/2025-09-01T12:00"}, time.UTC)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, time.Date(2025, 8, 17, 23, 59, 59, 0, time.UTC), periods[0].EndDate)
	assert.Equal(t, time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC), periods[1].EndDate)
	assert.True(t, periods[0].IsActive)

	_, err = parseBlackouts([]string{"2025-08-17"}, time.UTC)
	assert.Error(t, err)

	loc, err := time.LoadLocation("Europe/Amsterdam")
	require.NoError(t, err)
	periods, err = parseBlackouts([]string{"2025-08-17/2025-08-17"}, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 16, 22, 0, 0, 0, time.UTC), periods[0].StartDate)
	assert.Equal(t, time.Date(2025, 8, 17, 21, 59, 59, 0, time.UTC), periods[0].EndDate)
	assert.Error(t, err)
}

func TestRunPreview_BlackoutSkip(t *testing.T) {
	opts := &previewOptions{cap: 100, horizon: 12, policy: "skip", timezone: "UTC"}
	require.NoError(t, opts.start.Set("2025-08-17T08:00:00Z"))
	require.NoError(t, opts.now.Set("2025-08-18T09:00:00Z"))
	require.NoError(t, opts.until.Set("2025-08-20T08:00:00Z"))
	opts.rrule = "FREQ=DAILY;INTERVAL=1"
	opts.blackouts = []string{"2025-08-17/2025-08-17"}

	var out bytes.Buffer
	require.NoError(t, runPreview(&out, opts))
	s := out.String()
	assert.Contains(t, s, "2025-08-20T08:00:00Z")
	assert.Contains(t, s, "blackout")
	assert.Contains(t, s, "due: skip task-1-0 at 2025-08-17T08:00:00Z")
}

func TestRunPreview_ReferenceZone(t *testing.T) {
	opts := &previewOptions{cap: 100, horizon: 12, policy: "skip", timezone: "Europe/Amsterdam"}
	require.NoError(t, opts.start.Set("2025-01-31T00:30"))
	require.NoError(t, opts.now.Set("2025-01-01"))
	opts.rrule = "FREQ=MONTHLY;COUNT=3"

	var out bytes.Buffer
	require.NoError(t, runPreview(&out, opts))
	s := out.String()
	assert.Contains(t, s, "2025-01-31T00:30:00+01:00")
	assert.Contains(t, s, "2025-02-28T00:30:00+01:00")
	assert.Contains(t, s, "2025-03-31T00:30:00+02:00")
	assert.NotContains(t, s, "2025-03-01T")

	opts.timezone = "Mars/Olympus"
	assert.Error(t, runPreview(&out, opts))
}
