package retry

import (
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecideFollowsBackoffTable(t *testing.T) {
	s := NewSchedule(nil, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	want := []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second, 3600 * time.Second}
	for i, d := range want {
		dec := s.Decide(i+1, 0, now)
		require.Equal(t, model.DeliveryRetrying, dec.Status, "attempt %d", i+1)
		require.NotNil(t, dec.NextAttemptAt)
		assert.Equal(t, now.Add(d), *dec.NextAttemptAt, "attempt %d", i+1)
	}
}

func TestDecideFailsAfterMaxAttempts(t *testing.T) {
	s := NewSchedule(nil, 0)
	dec := s.Decide(5, 0, time.Now())

	assert.Equal(t, model.DeliveryFailed, dec.Status)
	assert.Nil(t, dec.NextAttemptAt)
}

func TestDecideAfterManualRetryContinuesOnLastTier(t *testing.T) {
	s := NewSchedule(nil, 0)
	now := time.Now()

	dec := s.Decide(6, 5, now)
	require.Equal(t, model.DeliveryRetrying, dec.Status)
	assert.Equal(t, now.Add(7200*time.Second), *dec.NextAttemptAt)

	assert.Equal(t, model.DeliveryFailed, s.Decide(10, 5, now).Status)
}

func TestDelayClamps(t *testing.T) {
	s := Schedule{Delays: []time.Duration{time.Second, 2 * time.Second}, MaxAttempts: 3}

	assert.Equal(t, time.Second, s.Delay(0))
	assert.Equal(t, 2*time.Second, s.Delay(2))
	assert.Equal(t, 2*time.Second, s.Delay(9))
}
