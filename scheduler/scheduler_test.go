package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidTimezone(t *testing.T) {
	s, err := New("America/New_York")
	require.NoError(t, err)
	defer s.Stop()
	assert.Equal(t, "America/New_York", s.location.String())
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New("Invalid/Zone")
	assert.Error(t, err)
}

func TestSchedule_CronExpression(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule("0 */6 * * *", func() {}))
	assert.NotZero(t, s.entryID)
}

func TestSchedule_DailyTime(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	require.NoError(t, s.Schedule("14:30", func() {}))
	s.Start()
	defer s.Stop()

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 14, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.WithinDuration(t, time.Now(), next, 24*time.Hour)
}

func TestSchedule_Invalid(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)
	defer s.Stop()

	for _, when := range []string{"25:00", "abc", "every day", "* * *"} {
		assert.Error(t, s.Schedule(when, func() {}), when)
	}
	assert.Zero(t, s.entryID)
}

func TestSchedule_Replaces(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule("08:00", func() {}))
	firstEntry := s.entryID

	require.NoError(t, s.Schedule("10:00", func() {}))
	assert.NotEqual(t, firstEntry, s.entryID)
	assert.Len(t, s.cron.Entries(), 1)
}

func TestSchedule_InvalidKeepsPrevious(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)
	defer s.Stop()

	require.NoError(t, s.Schedule("08:00", func() {}))
	first := s.entryID

	require.Error(t, s.Schedule("nope", func() {}))
	assert.Equal(t, first, s.entryID)
}

func TestNext_Unscheduled(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)
	defer s.Stop()
	assert.True(t, s.Next().IsZero())
}

func TestStartStop(t *testing.T) {
	s, err := New("UTC")
	require.NoError(t, err)

	s.Start()
	s.Stop()
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		input  string
		hour   int
		minute int
		valid  bool
	}{
		{"00:00", 0, 0, true},
		{"09:30", 9, 30, true},
		{"23:59", 23, 59, true},
		{"24:00", 0, 0, false},
		{"12:60", 0, 0, false},
		{"1:00", 0, 0, false},
		{"ab:cd", 0, 0, false},
		{"abc", 0, 0, false},
	}

	for _, tt := range tests {
		h, m, err := parseTime(tt.input)
		if !tt.valid {
			assert.Error(t, err, tt.input)
			continue
		}
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.hour, h, tt.input)
		assert.Equal(t, tt.minute, m, tt.input)
	}
}
