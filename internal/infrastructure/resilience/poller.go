package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrPollTimeout signals that a vendor-side execution did not reach a
// terminal status inside the poll budget.
var ErrPollTimeout = errors.New("poll timeout")

// PollFunc checks the remote execution once. done=true stops the loop;
// transient errors are tolerated up to the policy's consecutive-failure
// budget.
type PollFunc func(ctx context.Context) (done bool, err error)

// PollUntilTerminal drives poll at policy.Interval until it reports done,
// the time budget runs out, or too many poll requests fail in a row. Sleeps
// suspend only the calling goroutine. Progress advances smoothly across the
// time budget so callers polling job status see movement between phases.
func PollUntilTerminal(
	ctx context.Context,
	operation string,
	policy PollPolicy,
	poll PollFunc,
	onProgress ProgressFunc,
) error {
	if poll == nil {
		return fmt.Errorf("resilience: poll callback is nil")
	}
	policy = policy.normalize()

	// The limiter is a second line of defense: even a misconfigured
	// sub-second interval cannot hot-loop the vendor API.
	limiter := rate.NewLimiter(rate.Every(policy.Interval), 1)
	deadline := time.Now().Add(policy.MaxDuration)
	consecutiveFailures := 0
	attempt := 0

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w: no terminal status after %s", operation, ErrPollTimeout, policy.MaxDuration)
		}
		if err := sleepContext(ctx, policy.Interval); err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		attempt++
		done, err := poll(ctx)
		if err != nil {
			consecutiveFailures++
			slog.Warn("poll_request_failed",
				"operation", operation,
				"attempt", attempt,
				"consecutive_failures", consecutiveFailures,
				"error", err,
			)
			if consecutiveFailures >= policy.MaxConsecutiveFailures {
				return fmt.Errorf("%s: %w: %d consecutive poll failures: %w",
					operation, ErrPollTimeout, consecutiveFailures, err)
			}
			continue
		}
		consecutiveFailures = 0

		if done {
			reportProgress(onProgress, 1, 1)
			return nil
		}

		if onProgress != nil {
			elapsed := policy.MaxDuration - time.Until(deadline)
			onProgress(float64(elapsed) / float64(policy.MaxDuration))
		}
	}
}
