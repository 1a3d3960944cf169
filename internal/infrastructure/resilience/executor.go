package resilience

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ErrExhaustedRetries wraps the last underlying error once every permitted
// attempt has failed. Callers must not swallow it.
var ErrExhaustedRetries = errors.New("exhausted retries")

type ErrorClassification struct {
	Retryable     bool
	RecordFailure bool
}

type ErrorClassifier func(err error) ErrorClassification

// Operation is one retryable unit of work. insecure is true only on the
// explicit TLS-fallback attempt; implementations that do not talk TLS can
// ignore it.
type Operation func(ctx context.Context, insecure bool) error

// Attempt describes how an operation eventually succeeded.
type Attempt struct {
	// Attempts is the number of invocations performed, fallback included.
	Attempts int
	// Verified is false when success came from the attempt with certificate
	// validation disabled.
	Verified bool
}

// ProgressFunc receives smooth intermediate progress in [0,1].
type ProgressFunc func(fraction float64)

type Executor struct {
	breakerCfg BreakerConfig

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[Attempt]
}

func NewExecutor(breakerCfg BreakerConfig) *Executor {
	return &Executor{
		breakerCfg: breakerCfg.normalize(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[Attempt]),
	}
}

// RetryWithBackoff executes fn up to policy.MaxAttempts times with
// exponential backoff. Only errors the classifier marks retryable trigger
// another attempt; everything else propagates immediately. When every
// attempt failed on a TLS certificate error and the policy opts in, one
// final attempt runs with certificate validation disabled and the returned
// Attempt is marked unverified.
func (e *Executor) RetryWithBackoff(
	ctx context.Context,
	operation string,
	policy RetryPolicy,
	fn Operation,
	classifier ErrorClassifier,
	onProgress ProgressFunc,
) (Attempt, error) {
	if fn == nil {
		return Attempt{}, fmt.Errorf("resilience: operation callback is nil")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classifier == nil {
		classifier = defaultClassifier
	}
	policy = policy.normalize()

	if !e.breakerCfg.Enabled {
		return e.retry(ctx, op, policy, fn, classifier, onProgress)
	}

	breaker := e.circuitBreaker(op, classifier)
	return breaker.Execute(func() (Attempt, error) {
		return e.retry(ctx, op, policy, fn, classifier, onProgress)
	})
}

func (e *Executor) retry(
	ctx context.Context,
	operation string,
	policy RetryPolicy,
	fn Operation,
	classifier ErrorClassifier,
	onProgress ProgressFunc,
) (Attempt, error) {
	delay := policy.InitialDelay
	var lastErr error
	allTLS := true

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Attempt{Attempts: attempt - 1}, err
		}
		reportProgress(onProgress, attempt-1, policy.MaxAttempts)

		err := fn(ctx, false)
		if err == nil {
			reportProgress(onProgress, policy.MaxAttempts, policy.MaxAttempts)
			return Attempt{Attempts: attempt, Verified: true}, nil
		}
		lastErr = err
		if !IsTLSError(err) {
			allTLS = false
		}

		class := classifier(err)
		if !class.Retryable {
			return Attempt{Attempts: attempt, Verified: true}, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		slog.Warn("retry_attempt",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"backoff_ms", float64(delay.Microseconds())/1000.0,
			"error", err,
		)
		if err := sleepContext(ctx, delay); err != nil {
			return Attempt{Attempts: attempt}, lastErr
		}
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	if policy.InsecureTLSFallback && allTLS && IsTLSError(lastErr) {
		// Deliberate, logged policy exception: one last shot without
		// certificate validation. Never a silent downgrade.
		slog.Warn("tls_fallback_attempt",
			"operation", operation,
			"error", lastErr,
		)
		if err := fn(ctx, true); err == nil {
			reportProgress(onProgress, policy.MaxAttempts, policy.MaxAttempts)
			slog.Warn("tls_fallback_succeeded", "operation", operation)
			return Attempt{Attempts: policy.MaxAttempts + 1, Verified: false}, nil
		} else {
			lastErr = err
		}
	}

	return Attempt{Attempts: policy.MaxAttempts, Verified: true},
		fmt.Errorf("%s: %w: %w", operation, ErrExhaustedRetries, lastErr)
}

func (e *Executor) circuitBreaker(operation string, classifier ErrorClassifier) *gobreaker.CircuitBreaker[Attempt] {
	e.mu.Lock()
	defer e.mu.Unlock()

	if breaker, ok := e.breakers[operation]; ok {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        operation,
		MaxRequests: e.breakerCfg.HalfOpenMaxCalls,
		Timeout:     e.breakerCfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < e.breakerCfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= e.breakerCfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			class := classifier(err)
			return !class.RecordFailure
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	}

	breaker := gobreaker.NewCircuitBreaker[Attempt](settings)
	e.breakers[operation] = breaker
	return breaker
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// IsTLSError reports whether err stems from certificate validation.
func IsTLSError(err error) bool {
	if err == nil {
		return false
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthority) {
		return true
	}
	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		return true
	}
	var invalidCert x509.CertificateInvalidError
	if errors.As(err, &invalidCert) {
		return true
	}
	var recordErr tls.RecordHeaderError
	return errors.As(err, &recordErr)
}

func reportProgress(onProgress ProgressFunc, done, total int) {
	if onProgress == nil || total <= 0 {
		return
	}
	fraction := float64(done) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	onProgress(fraction)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func defaultClassifier(error) ErrorClassification {
	return ErrorClassification{
		Retryable:     false,
		RecordFailure: true,
	}
}
