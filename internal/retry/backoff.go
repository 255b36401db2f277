// Package retry provides the backoff policy and the retry executor used for
// every remote call made during verification.
package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 2 * time.Second
	DefaultMaxDelay       = 60 * time.Second
	DefaultBackoffFactor  = 2.0
	DefaultJitterFraction = 0.1
)

// maxDelayCap keeps float delays representable as time.Duration.
const maxDelayCap = float64(1 << 62)

// Policy configures how many times an operation is retried and how long to
// wait between attempts. A Policy is not modified after construction.
type Policy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64

	// Retryable reports whether a failure may be retried.
	// Nil means IsRetryable.
	Retryable func(error) bool

	// Rand returns a value in [0, 1). Nil uses the global source.
	Rand func() float64

	// OnRetry, when set, is called before each wait with the number of the
	// attempt that failed.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		BackoffFactor:  DefaultBackoffFactor,
		JitterFraction: DefaultJitterFraction,
	}
}

// NoDelay returns a policy with the given retry budget and zero waits.
func NoDelay(maxRetries int) Policy {
	return Policy{MaxRetries: maxRetries, BackoffFactor: 1}
}

// Delay returns the wait before attempt+2. Attempt 0 is the delay between
// the first and second call.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}

	factor := p.BackoffFactor
	if factor < 1 {
		factor = 1
	}

	// Work in float64 to avoid overflowing time.Duration on large attempts.
	base := float64(p.BaseDelay) * math.Pow(factor, float64(attempt))
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		base = float64(p.MaxDelay)
	}
	if base > maxDelayCap {
		base = maxDelayCap
	}

	jitter := p.JitterFraction
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 0 {
		randFn := p.Rand
		if randFn == nil {
			randFn = rand.Float64
		}
		base += base * jitter * (randFn()*2 - 1)
	}

	if base <= 0 {
		return 0
	}
	if base > maxDelayCap {
		base = maxDelayCap
	}
	return time.Duration(base)
}

func (p Policy) isRetryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// policyBackOff adapts a Policy to backoff.BackOff. It returns backoff.Stop
// once MaxRetries waits have been handed out.
type policyBackOff struct {
	policy  Policy
	retries int
}

var _ backoff.BackOff = (*policyBackOff)(nil)

func (b *policyBackOff) NextBackOff() time.Duration {
	if b.retries >= b.policy.MaxRetries {
		return backoff.Stop
	}
	d := b.policy.Delay(b.retries)
	b.retries++
	return d
}

func (b *policyBackOff) Reset() {
	b.retries = 0
}
