package retry

import (
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
)

// DefaultDelays is the fixed backoff table indexed by attempt number (1-based).
var DefaultDelays = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	900 * time.Second,
	3600 * time.Second,
	7200 * time.Second,
}

const DefaultMaxAttempts = 5

// Schedule decides what happens to a delivery after a failed attempt.
type Schedule struct {
	Delays      []time.Duration
	MaxAttempts int
}

func NewSchedule(delays []time.Duration, maxAttempts int) Schedule {
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return Schedule{Delays: delays, MaxAttempts: maxAttempts}
}

// Delay returns the wait after the given attempt. Attempts past the end of the
// table stay on the last tier.
func (s Schedule) Delay(attempt int) time.Duration {
	delays := s.Delays
	if len(delays) == 0 {
		delays = DefaultDelays
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(delays) {
		attempt = len(delays)
	}
	return delays[attempt-1]
}

// Exhausted reports whether the attempts since the last manual retry used up the budget.
func (s Schedule) Exhausted(attemptCount, attemptBase int) bool {
	max := s.MaxAttempts
	if max < 1 {
		max = DefaultMaxAttempts
	}
	return attemptCount-attemptBase >= max
}

// Decision is the state a failed delivery moves to.
type Decision struct {
	Status        model.DeliveryStatus // retrying | failed
	NextAttemptAt *time.Time
}

// Decide is called with attemptCount already incremented for the failed attempt.
func (s Schedule) Decide(attemptCount, attemptBase int, now time.Time) Decision {
	if s.Exhausted(attemptCount, attemptBase) {
		return Decision{Status: model.DeliveryFailed}
	}
	next := now.Add(s.Delay(attemptCount))
	return Decision{Status: model.DeliveryRetrying, NextAttemptAt: &next}
}
