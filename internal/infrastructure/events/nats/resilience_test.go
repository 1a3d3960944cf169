package nats

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/mkravets/pdf-extraction-service/internal/core/domain"
)

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		record    bool
	}{
		{"context canceled", context.Canceled, false, false},
		{"no servers", nats.ErrNoServers, true, true},
		{"timeout", nats.ErrTimeout, true, true},
		{"connection closed", nats.ErrConnectionClosed, true, true},
		{"wrapped disconnected", fmt.Errorf("publish: %w", nats.ErrDisconnected), true, true},
		{"permission violation", errors.New("permissions violation"), false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			class := classifyNATSError(tc.err)
			if class.Retryable != tc.retryable {
				t.Errorf("Retryable = %v, want %v", class.Retryable, tc.retryable)
			}
			if class.RecordFailure != tc.record {
				t.Errorf("RecordFailure = %v, want %v", class.RecordFailure, tc.record)
			}
		})
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !errors.Is(err, domain.ErrTemporary) {
		t.Fatalf("broker timeout must be tagged transient, got %v", err)
	}
	plain := errors.New("marshal failed")
	if err := wrapTemporaryIfNeeded(plain); errors.Is(err, domain.ErrTemporary) {
		t.Fatal("non-broker error must not be tagged transient")
	}
}
