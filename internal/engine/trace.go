package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "intakeline/internal/engine"

func (e Engine) tracer() trace.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return otel.Tracer(tracerName)
}

func (e Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer().Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span. Domain errors are expected outcomes and
// leave the span status unset.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !isDomainError(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrIllegalTransition,
		ErrCooldownNotExpired,
		ErrGateNotSatisfied,
		ErrInvalidGateState,
		ErrInvalidInput,
		ErrTaskClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// outcome is the metrics label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, ErrCooldownNotExpired):
		return "cooldown"
	case errors.Is(err, ErrGateNotSatisfied), errors.Is(err, ErrInvalidGateState):
		return "gate"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrTaskClosed):
		return "closed"
	default:
		return "error"
	}
}
