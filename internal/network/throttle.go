package network

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/metaenhancer/metaenhancer/internal/provider"
)

// ThrottleConfig bounds an adaptive throttler.
type ThrottleConfig struct {
	// Ceiling is the maximum number of permits per Period.
	Ceiling int
	Period  time.Duration
	// MaxWait is how long Acquire may block before giving up.
	MaxWait time.Duration
	// RecoverAfter is how long a zero rate lasts before it is reset to one.
	RecoverAfter time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (c ThrottleConfig) withDefaults() ThrottleConfig {
	if c.Ceiling <= 0 {
		c.Ceiling = 1
	}
	if c.Period <= 0 {
		c.Period = time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 30 * time.Second
	}
	if c.RecoverAfter <= 0 {
		c.RecoverAfter = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Throttler is a permit limiter whose rate is moved by upstream feedback.
type Throttler struct {
	cfg      ThrottleConfig
	now      func() time.Time
	onChange func(int)

	mu        sync.Mutex
	permits   int
	zeroSince time.Time
	limiter   *rate.Limiter
}

// NewThrottler starts at the ceiling rate.
func NewThrottler(cfg ThrottleConfig) *Throttler {
	cfg = cfg.withDefaults()
	t := &Throttler{cfg: cfg, now: cfg.Now, permits: cfg.Ceiling}
	t.limiter = rate.NewLimiter(t.limit(cfg.Ceiling), cfg.Ceiling)
	return t
}

// OnChange registers a callback invoked (under the throttler lock) whenever the rate moves.
func (t *Throttler) OnChange(fn func(int)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Throttler) limit(n int) rate.Limit {
	return rate.Limit(float64(n) / t.cfg.Period.Seconds())
}

// Acquire waits for a permit. It fails with ServiceNotAvailable when the rate
// is zero or the wait budget runs out.
func (t *Throttler) Acquire(ctx context.Context) error {
	t.mu.Lock()
	if t.permits == 0 {
		if t.now().Sub(t.zeroSince) < t.cfg.RecoverAfter {
			t.mu.Unlock()
			return provider.NewError(provider.KindServiceNotAvailable, "", "throttled to zero requests", nil)
		}
		t.set(1)
	}
	lim := t.limiter
	t.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, t.cfg.MaxWait)
	defer cancel()
	if err := lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return provider.NewError(provider.KindServiceNotAvailable, "", "throttle wait budget exceeded", err)
	}
	return nil
}

func (t *Throttler) Increase() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.permits < t.cfg.Ceiling {
		t.set(t.permits + 1)
	}
}

func (t *Throttler) Decrease() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.permits > 0 {
		t.set(t.permits - 1)
	}
}

// Rate is the current number of permits per period.
func (t *Throttler) Rate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.permits
}

func (t *Throttler) set(n int) {
	t.permits = n
	if n == 0 {
		t.zeroSince = t.now()
		t.limiter.SetLimit(0)
		t.limiter.SetBurst(0)
	} else {
		t.limiter.SetLimit(t.limit(n))
		t.limiter.SetBurst(n)
	}
	if t.onChange != nil {
		t.onChange(n)
	}
}
