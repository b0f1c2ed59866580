package delivery

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

// breaker is a single-target circuit breaker: after failThreshold consecutive
// failures it opens for openFor, then lets exactly one trial through.
type breaker struct {
	st               state
	consecutiveFails int
	nextTryAt        time.Time
	trialInFlight    bool
}

// Breakers keeps one breaker per target host. A nil *Breakers never trips.
type Breakers struct {
	mu            sync.Mutex
	byKey         map[string]*breaker
	failThreshold int
	openFor       time.Duration
	now           func() time.Time
}

// NewBreakers returns nil when failThreshold <= 0, which disables breaking.
func NewBreakers(failThreshold int, openFor time.Duration, now func() time.Time) *Breakers {
	if failThreshold <= 0 {
		return nil
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Breakers{
		byKey:         map[string]*breaker{},
		failThreshold: failThreshold,
		openFor:       openFor,
		now:           now,
	}
}

func (b *Breakers) get(key string) *breaker {
	br, ok := b.byKey[key]
	if !ok {
		br = &breaker{}
		b.byKey[key] = br
	}
	return br
}

// TryAcquire reports whether a request to key may go out. When it may not,
// retryAt is the earliest time the breaker will admit a trial.
func (b *Breakers) TryAcquire(key string) (ok bool, retryAt time.Time) {
	if b == nil {
		return true, time.Time{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	br := b.get(key)
	switch br.st {
	case open:
		if !now.Before(br.nextTryAt) && !br.trialInFlight {
			br.st = halfOpen
			br.trialInFlight = true
			return true, time.Time{}
		}
		if br.nextTryAt.After(now) {
			return false, br.nextTryAt
		}
		return false, now.Add(b.openFor)
	case halfOpen:
		if !br.trialInFlight {
			br.trialInFlight = true
			return true, time.Time{}
		}
		return false, now.Add(b.openFor)
	default:
		return true, time.Time{}
	}
}

func (b *Breakers) OnSuccess(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(key)
	br.consecutiveFails = 0
	br.st = closed
	br.trialInFlight = false
}

func (b *Breakers) OnFailure(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(key)
	if br.st == halfOpen {
		br.st = open
		br.nextTryAt = b.now().Add(b.openFor)
		br.trialInFlight = false
		return
	}

	br.consecutiveFails++
	if br.consecutiveFails >= b.failThreshold {
		br.st = open
		br.nextTryAt = b.now().Add(b.openFor)
	}
}

// OnAbort settles an admitted request that never produced an outcome. A
// half-open breaker frees its trial slot; nothing is counted.
func (b *Breakers) OnAbort(key string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	br := b.get(key)
	if br.st == halfOpen {
		br.trialInFlight = false
	}
}
