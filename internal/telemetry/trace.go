package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer names used across staffgrid.
const (
	TracerSDK    = "staffgrid/sdk"
	TracerServer = "staffgrid/staffapi"
)

// StartSpan creates a new span for an operation.
//
// Usage:
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerSDK, "auth.Login",
//	    attribute.String(telemetry.AttrDeviceID, deviceID),
//	)
//	defer span.End()
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError records an error on the span and sets the span status to error.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// AddEvent adds a named event to the span with optional attributes.
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// Common attribute keys
const (
	AttrPrincipalID   = "principal.id"
	AttrPrincipalRole = "principal.role"
	AttrRoleID        = "role.id"
	AttrDeviceID      = "device.id"
	AttrIntent        = "session.intent"
	AttrPhase         = "session.phase"
	AttrErrorKind     = "error.kind"
	AttrCacheHit      = "cache.hit"
	AttrOTPRequired   = "auth.otp_required"
)
