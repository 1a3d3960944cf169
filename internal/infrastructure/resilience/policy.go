package resilience

import "time"

// RetryPolicy bounds request retries. Delay before attempt n (n>=2) is
// InitialDelay * Multiplier^(n-2), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// InsecureTLSFallback permits exactly one extra attempt with certificate
	// validation disabled after every regular attempt failed on a TLS error.
	// The outcome is marked unverified so callers can surface a warning.
	InsecureTLSFallback bool
}

// PollPolicy bounds a vendor-side completion poll loop.
type PollPolicy struct {
	Interval    time.Duration
	MaxDuration time.Duration
	// MaxConsecutiveFailures is how many poll-request failures in a row are
	// tolerated before the loop gives up with a timeout.
	MaxConsecutiveFailures int
}

type BreakerConfig struct {
	Enabled          bool
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval:               5 * time.Second,
		MaxDuration:            5 * time.Minute,
		MaxConsecutiveFailures: 5,
	}
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          true,
		MinRequests:      10,
		FailureRatio:     0.5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

func (p RetryPolicy) normalize() RetryPolicy {
	out := p
	def := DefaultRetryPolicy()
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = def.MaxAttempts
	}
	if out.InitialDelay <= 0 {
		out.InitialDelay = def.InitialDelay
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = def.MaxDelay
	}
	if out.MaxDelay < out.InitialDelay {
		out.MaxDelay = out.InitialDelay
	}
	if out.Multiplier < 1.0 {
		out.Multiplier = def.Multiplier
	}
	return out
}

func (p PollPolicy) normalize() PollPolicy {
	out := p
	def := DefaultPollPolicy()
	if out.Interval <= 0 {
		out.Interval = def.Interval
	}
	if out.MaxDuration <= 0 {
		out.MaxDuration = def.MaxDuration
	}
	if out.MaxConsecutiveFailures <= 0 {
		out.MaxConsecutiveFailures = def.MaxConsecutiveFailures
	}
	return out
}

func (c BreakerConfig) normalize() BreakerConfig {
	out := c
	def := DefaultBreakerConfig()
	if out.MinRequests == 0 {
		out.MinRequests = def.MinRequests
	}
	if out.FailureRatio <= 0 || out.FailureRatio > 1 {
		out.FailureRatio = def.FailureRatio
	}
	if out.OpenTimeout <= 0 {
		out.OpenTimeout = def.OpenTimeout
	}
	if out.HalfOpenMaxCalls == 0 {
		out.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return out
}
