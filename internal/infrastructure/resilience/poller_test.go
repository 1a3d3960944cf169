package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPollStopsOnTerminalStatus(t *testing.T) {
	policy := PollPolicy{Interval: 5 * time.Millisecond, MaxDuration: time.Second, MaxConsecutiveFailures: 3}

	polls := 0
	err := PollUntilTerminal(context.Background(), "op", policy, func(context.Context) (bool, error) {
		polls++
		return polls >= 3, nil
	}, nil)
	if err != nil {
		t.Fatalf("expected terminal success, got %v", err)
	}
	if polls != 3 {
		t.Fatalf("expected 3 polls, got %d", polls)
	}
}

func TestPollTimesOutWithinBudget(t *testing.T) {
	policy := PollPolicy{Interval: 20 * time.Millisecond, MaxDuration: 70 * time.Millisecond, MaxConsecutiveFailures: 10}

	polls := 0
	err := PollUntilTerminal(context.Background(), "op", policy, func(context.Context) (bool, error) {
		polls++
		return false, nil
	}, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if polls < 2 || polls > 4 {
		t.Fatalf("expected roughly 3 polls inside the budget, got %d", polls)
	}
}

func TestPollToleratesTransientFailures(t *testing.T) {
	policy := PollPolicy{Interval: time.Millisecond, MaxDuration: time.Second, MaxConsecutiveFailures: 3}

	polls := 0
	errNet := errors.New("connection reset")
	err := PollUntilTerminal(context.Background(), "op", policy, func(context.Context) (bool, error) {
		polls++
		if polls <= 2 {
			return false, errNet
		}
		return true, nil
	}, nil)
	if err != nil {
		t.Fatalf("transient poll failures below the budget must not abort: %v", err)
	}
}

func TestPollGivesUpAfterConsecutiveFailures(t *testing.T) {
	policy := PollPolicy{Interval: time.Millisecond, MaxDuration: time.Second, MaxConsecutiveFailures: 3}

	errNet := errors.New("connection reset")
	polls := 0
	err := PollUntilTerminal(context.Background(), "op", policy, func(context.Context) (bool, error) {
		polls++
		return false, errNet
	}, nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected timeout after consecutive failures, got %v", err)
	}
	if polls != 3 {
		t.Fatalf("expected exactly 3 failed polls, got %d", polls)
	}
}

func TestPollProgressAdvances(t *testing.T) {
	policy := PollPolicy{Interval: 5 * time.Millisecond, MaxDuration: time.Second, MaxConsecutiveFailures: 3}

	polls := 0
	var fractions []float64
	err := PollUntilTerminal(context.Background(), "op", policy, func(context.Context) (bool, error) {
		polls++
		return polls >= 4, nil
	}, func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(fractions) == 0 || fractions[len(fractions)-1] != 1 {
		t.Fatalf("expected terminal progress 1.0, got %v", fractions)
	}
	for i := 1; i < len(fractions); i++ {
		if fractions[i] < fractions[i-1] {
			t.Fatalf("progress must not regress: %v", fractions)
		}
	}
}

func TestPollRespectsContextCancellation(t *testing.T) {
	policy := PollPolicy{Interval: 50 * time.Millisecond, MaxDuration: time.Minute, MaxConsecutiveFailures: 3}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := PollUntilTerminal(ctx, "op", policy, func(context.Context) (bool, error) {
		return false, nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
