package network

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a consecutive-failure circuit breaker. After threshold failures
// it opens and rejects calls for the cool-down; then it lets exactly one
// trial call through. The trial's outcome closes or re-opens it.
//
// Every state transition starts a new generation. Outcomes reported with a
// permit from an earlier generation are ignored, so a slow call admitted while
// closed cannot close an open breaker or cut a running trial short.
type Breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(BreakerState)

	mu       sync.Mutex
	state    BreakerState
	gen      uint64
	failures int
	openedAt time.Time
	trial    bool
}

// Permit is handed out by Allow and returned with the call's outcome.
type Permit struct {
	gen   uint64
	trial bool
}

// NewBreaker builds a closed breaker. A nil clock means time.Now.
func NewBreaker(threshold int, cooldown time.Duration, now func() time.Time) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: now}
}

// OnChange registers a callback invoked (under the breaker lock) on every state transition.
func (b *Breaker) OnChange(fn func(BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Allow reports whether a call may proceed. A permit in the half-open state
// reserves the single trial; the caller must report Success, Failure or Cancel.
func (b *Breaker) Allow() (Permit, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return Permit{gen: b.gen}, true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return Permit{}, false
		}
		b.setState(BreakerHalfOpen)
		b.trial = true
		return Permit{gen: b.gen, trial: true}, true
	default:
		if b.trial {
			return Permit{}, false
		}
		b.trial = true
		return Permit{gen: b.gen, trial: true}, true
	}
}

func (b *Breaker) Success(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.gen != b.gen {
		return
	}
	b.failures = 0
	if p.trial {
		b.trial = false
		b.setState(BreakerClosed)
	}
}

func (b *Breaker) Failure(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.gen != b.gen {
		return
	}
	if p.trial {
		b.trial = false
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.open()
	}
}

// Cancel gives back a half-open trial whose call was abandoned by the caller.
func (b *Breaker) Cancel(p Permit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.trial && p.gen == b.gen {
		b.trial = false
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.setState(BreakerOpen)
}

func (b *Breaker) setState(s BreakerState) {
	if b.state == s {
		return
	}
	b.state = s
	b.gen++
	if b.onChange != nil {
		b.onChange(s)
	}
}
