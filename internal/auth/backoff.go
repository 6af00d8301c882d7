package auth

import (
	"math/rand"
	"time"
)

// RetryPolicy is an exponential backoff with jitter, used by flows that
// retry a login or token-refresh request (Bearer's OAuth2 refresh, Form's
// login).
type RetryPolicy struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultRetryPolicy gives every flow a sane bounded-retry default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

type backoffState struct {
	attempts  int
	nextDelay time.Duration
}

func (p RetryPolicy) shouldRetry(attempts int) bool {
	return p.MaxRetries <= 0 || attempts < p.MaxRetries
}

func (p RetryPolicy) delay(s *backoffState) time.Duration {
	if s.attempts == 0 {
		s.nextDelay = p.InitialDelay
	}

	delay := s.nextDelay
	if p.JitterFraction > 0 {
		jitterRange := float64(delay) * p.JitterFraction
		jitter := rand.Float64()*jitterRange*2 - jitterRange
		delay = time.Duration(maxFloat(0, float64(delay)+jitter))
	}

	next := time.Duration(float64(s.nextDelay) * p.Multiplier)
	if p.MaxDelay > 0 && next > p.MaxDelay {
		next = p.MaxDelay
	}
	s.nextDelay = next
	s.attempts++

	return delay
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
