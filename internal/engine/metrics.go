package engine

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// validationTotal counts edge validations by outcome ("ok" or the error kind).
	validationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docgraph_relationship_validations_total",
		Help: "Relationship validations by result",
	}, []string{"result"})

	traversalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docgraph_traversal_duration_seconds",
		Help:    "Hierarchy traversal duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"direction"})

	rippleMarked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docgraph_ripple_marked_documents_total",
		Help: "Documents flagged needs_review by ripple marking",
	})
)

const tracerName = "github.com/mschirtzinger/docgraph/internal/engine"

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
