package metastore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Lookup results reported to LookupMetrics.
const (
	ResultFound    = "found"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// LookupMetrics is implemented by the metrics package.
type LookupMetrics interface {
	ObserveLookup(store, result string, seconds float64)
}

// Instrumented wraps a Store with a span per lookup and lookup metrics.
type Instrumented struct {
	next    Store
	name    string
	metrics LookupMetrics
	tracer  trace.Tracer
}

// NewInstrumented labels lookups with name. metrics may be nil.
func NewInstrumented(next Store, name string, metrics LookupMetrics) *Instrumented {
	return &Instrumented{
		next:    next,
		name:    name,
		metrics: metrics,
		tracer:  otel.Tracer("linnemanlabs/metastore"),
	}
}

func (s *Instrumented) Lookup(ctx context.Context, key string) (Record, bool, error) {
	ctx, span := s.tracer.Start(ctx, "metastore.lookup", trace.WithAttributes(
		attribute.String("metastore.store", s.name),
		attribute.String("metastore.key", key),
	))
	defer span.End()

	start := time.Now()
	rec, found, err := s.next.Lookup(ctx, key)
	elapsed := time.Since(start).Seconds()

	result := ResultFound
	switch {
	case err != nil:
		result = ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !found:
		result = ResultNotFound
	}
	span.SetAttributes(attribute.String("metastore.result", result))
	if s.metrics != nil {
		s.metrics.ObserveLookup(s.name, result, elapsed)
	}
	return rec, found, err
}
