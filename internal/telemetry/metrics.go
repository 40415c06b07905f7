package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// AuthMetrics holds instruments for session protocol outcomes.
// Instruments come from the global meter provider, so they are no-ops until
// an SDK provider is installed.
type AuthMetrics struct {
	ProtocolCounter  metric.Int64Counter     // login/verify/switch/logout attempts by outcome
	ProtocolDuration metric.Float64Histogram // protocol latency
	StaleCommits     metric.Int64Counter     // commits dropped because a newer intent existed
	CacheLookups     metric.Int64Counter     // permission cache hits and misses
}

// NewAuthMetrics creates the session protocol instruments.
func NewAuthMetrics() (*AuthMetrics, error) {
	meter := otel.Meter(TracerSDK)

	protocolCounter, err := meter.Int64Counter(
		"staffgrid.auth.protocol.count",
		metric.WithDescription("Session protocol executions by outcome"),
		metric.WithUnit("{protocol}"),
	)
	if err != nil {
		return nil, err
	}

	protocolDuration, err := meter.Float64Histogram(
		"staffgrid.auth.protocol.duration",
		metric.WithDescription("Session protocol duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)
	if err != nil {
		return nil, err
	}

	staleCommits, err := meter.Int64Counter(
		"staffgrid.session.stale_commit.count",
		metric.WithDescription("Session commits discarded because they were superseded"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, err
	}

	cacheLookups, err := meter.Int64Counter(
		"staffgrid.permissions.cache.lookup.count",
		metric.WithDescription("Permission cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return &AuthMetrics{
		ProtocolCounter:  protocolCounter,
		ProtocolDuration: protocolDuration,
		StaleCommits:     staleCommits,
		CacheLookups:     cacheLookups,
	}, nil
}

// RecordProtocol records one protocol execution. outcome is "ok" or an error kind.
func (m *AuthMetrics) RecordProtocol(ctx context.Context, protocol, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("protocol", protocol),
		attribute.String("outcome", outcome),
	)
	m.ProtocolCounter.Add(ctx, 1, attrs)
	m.ProtocolDuration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

// RecordStaleCommit counts a superseded commit.
func (m *AuthMetrics) RecordStaleCommit(ctx context.Context, protocol string) {
	if m == nil {
		return
	}
	m.StaleCommits.Add(ctx, 1, metric.WithAttributes(attribute.String("protocol", protocol)))
}

// RecordCacheLookup counts a permission cache lookup.
func (m *AuthMetrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool(AttrCacheHit, hit)))
}
