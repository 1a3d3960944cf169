// Package nats publishes job lifecycle events for downstream consumers.
// Publishing is best effort; the job pipeline never blocks on it.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
)

type Publisher struct {
	conn          *nats.Conn
	subjectPrefix string
	executor      *resilience.Executor
	retry         resilience.RetryPolicy
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	RetryPolicy          resilience.RetryPolicy
}

func New(url, subjectPrefix string) (*Publisher, error) {
	return NewWithOptions(url, subjectPrefix, Options{})
}

func NewWithOptions(url, subjectPrefix string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("pdf-extraction-service"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:          conn,
		subjectPrefix: subjectPrefix,
		executor:      options.ResilienceExecutor,
		retry:         options.RetryPolicy,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

// PublishJobEvent emits one "<prefix>.<event>" message. Transient broker
// failures are retried when an executor is wired.
func (p *Publisher) PublishJobEvent(ctx context.Context, event string, jobID string) error {
	payload, err := json.Marshal(map[string]string{
		"event":  event,
		"job_id": jobID,
		"at":     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	subject := p.subjectPrefix + "." + event

	call := func(_ context.Context, _ bool) error {
		if err := p.conn.Publish(subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		_, err = p.executor.RetryWithBackoff(ctx, "nats_publish", p.retry, call, classifyNATSError, nil)
	} else {
		err = call(ctx, false)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}
