package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "trustcore"

var (
	metricsOnce        sync.Once
	repoOpCounter      metric.Int64Counter
	rateLimitCounter   metric.Int64Counter
	fraudCounter       metric.Int64Counter
	alertCounter       metric.Int64Counter
	cryptoCounter      metric.Int64Counter
	retryAfterRecorder metric.Float64Histogram
)

func initCounters() {
	meter := otel.Meter(meterName)
	if c, err := meter.Int64Counter("repository.operations"); err == nil {
		repoOpCounter = c
	}
	if c, err := meter.Int64Counter("ratelimit.decisions"); err == nil {
		rateLimitCounter = c
	}
	if c, err := meter.Int64Counter("fraud.decisions"); err == nil {
		fraudCounter = c
	}
	if c, err := meter.Int64Counter("security.alerts"); err == nil {
		alertCounter = c
	}
	if c, err := meter.Int64Counter("crypto.operations"); err == nil {
		cryptoCounter = c
	}
	if h, err := meter.Float64Histogram("ratelimit.retry_after_seconds"); err == nil {
		retryAfterRecorder = h
	}
}

func RecordRepositoryOperation(ctx context.Context, entity, operation, outcome string) {
	metricsOnce.Do(initCounters)
	if repoOpCounter == nil {
		return
	}
	repoOpCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entity", entity),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}

func RecordRateLimitDecision(ctx context.Context, endpoint, decision string) {
	metricsOnce.Do(initCounters)
	if rateLimitCounter == nil {
		return
	}
	rateLimitCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("decision", decision),
	))
}

func RecordRateLimitRetryAfter(ctx context.Context, endpoint string, retryAfter time.Duration) {
	metricsOnce.Do(initCounters)
	if retryAfterRecorder == nil {
		return
	}
	retryAfterRecorder.Record(ctx, retryAfter.Seconds(), metric.WithAttributes(
		attribute.String("endpoint", endpoint),
	))
}

func RecordFraudDecision(ctx context.Context, action string, score int) {
	metricsOnce.Do(initCounters)
	if fraudCounter == nil {
		return
	}
	fraudCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Int("score", score),
	))
}

func RecordSecurityAlert(ctx context.Context, alertType, severity string) {
	metricsOnce.Do(initCounters)
	if alertCounter == nil {
		return
	}
	alertCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("alert_type", alertType),
		attribute.String("severity", severity),
	))
}

func RecordCryptoOperation(ctx context.Context, operation, outcome string) {
	metricsOnce.Do(initCounters)
	if cryptoCounter == nil {
		return
	}
	cryptoCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	))
}
