package streaming

import (
	"math"
	"sync"
	"time"
)

// ReconnectDelayStrategy decides how long to wait before re-issuing a connect
// after a transient failure.
type ReconnectDelayStrategy interface {
	GetConnectWaitDuration(endpoint string) (time.Duration, error)
	Reset()
}

// FixedDelayStrategy waits the same delay every time.
type FixedDelayStrategy struct {
	Delay time.Duration
}

// NewFixedDelayStrategy returns a new FixedDelayStrategy.
func NewFixedDelayStrategy(delay time.Duration) *FixedDelayStrategy {
	if delay < 0 {
		delay = 0
	}
	return &FixedDelayStrategy{Delay: delay}
}

// GetConnectWaitDuration returns the fixed delay.
func (strategy *FixedDelayStrategy) GetConnectWaitDuration(endpoint string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}
	return strategy.Delay, nil
}

// Reset is a no-op for fixed delays.
func (strategy *FixedDelayStrategy) Reset() {}

// ExponentialDelayStrategy grows the delay by Factor per consecutive attempt,
// capped at MaxDelay, tracked per endpoint.
type ExponentialDelayStrategy struct {
	lock      sync.Mutex
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	attempts  map[string]uint32
}

// NewExponentialDelayStrategy returns a new ExponentialDelayStrategy.
func NewExponentialDelayStrategy(baseDelay time.Duration, maxDelay time.Duration, factor float64) *ExponentialDelayStrategy {
	if baseDelay < 0 {
		baseDelay = 0
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if factor < 1 {
		factor = 2
	}
	return &ExponentialDelayStrategy{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
		Factor:    factor,
		attempts:  make(map[string]uint32),
	}
}

// GetConnectWaitDuration returns the delay for the next attempt.
func (strategy *ExponentialDelayStrategy) GetConnectWaitDuration(endpoint string) (time.Duration, error) {
	if strategy == nil {
		return 0, nil
	}

	strategy.lock.Lock()
	defer strategy.lock.Unlock()

	if strategy.attempts == nil {
		strategy.attempts = make(map[string]uint32)
	}
	if endpoint == "" {
		endpoint = "_default"
	}

	attempt := strategy.attempts[endpoint]
	strategy.attempts[endpoint] = attempt + 1

	delay := strategy.BaseDelay
	if attempt > 0 && delay > 0 {
		delayFloat := float64(delay) * math.Pow(strategy.Factor, float64(attempt))
		if delayFloat > float64(strategy.MaxDelay) {
			delayFloat = float64(strategy.MaxDelay)
		}
		delay = time.Duration(delayFloat)
	}
	if delay > strategy.MaxDelay {
		delay = strategy.MaxDelay
	}
	return delay, nil
}

// Reset forgets all attempt counts.
func (strategy *ExponentialDelayStrategy) Reset() {
	if strategy == nil {
		return
	}
	strategy.lock.Lock()
	strategy.attempts = make(map[string]uint32)
	strategy.lock.Unlock()
}
