package card

import (
	"context"
	"errors"
	"sync"
	"time"
)

type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	IsFailure        func(error) bool
}

const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker stops calling a failing gateway for OpenTimeout after FailureThreshold
// consecutive infrastructure failures. Declines never trip it.
type Breaker struct {
	next Provider
	cfg  BreakerConfig
	now  func() time.Time

	mu           sync.Mutex
	state        int
	failures     int
	successes    int
	openedAt     time.Time
	halfInFlight bool
}

func NewBreaker(next Provider, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool {
			return errors.Is(err, ErrTimeout) || errors.Is(err, ErrServer) || errors.Is(err, context.DeadlineExceeded)
		}
	}

	return &Breaker{next: next, cfg: cfg, now: time.Now, state: breakerClosed}
}

func (b *Breaker) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if err := b.beforeCall(); err != nil {
		return ChargeResult{}, err
	}

	res, err := b.next.Charge(ctx, req)
	b.afterCall(err)
	return res, err
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return nil
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		b.state = breakerHalfOpen
		b.successes = 0
		b.halfInFlight = false
		fallthrough
	case breakerHalfOpen:
		if b.halfInFlight {
			return ErrCircuitOpen
		}
		b.halfInFlight = true
		return nil
	default:
		return ErrCircuitOpen
	}
}

func (b *Breaker) afterCall(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.halfInFlight = false
	}

	if err == nil {
		switch b.state {
		case breakerClosed:
			b.failures = 0
		case breakerHalfOpen:
			b.successes++
			if b.successes >= b.cfg.SuccessThreshold {
				b.state = breakerClosed
				b.failures = 0
				b.successes = 0
			}
		}
		return
	}

	if !b.cfg.IsFailure(err) {
		return
	}

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case breakerHalfOpen:
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = breakerOpen
	b.openedAt = b.now()
	b.successes = 0
	b.halfInFlight = false
}
