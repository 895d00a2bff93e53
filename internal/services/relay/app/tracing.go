package server

import (
	"context"

	"github.com/emirkarahan/sensorbridge/internal/capture"
	"github.com/emirkarahan/sensorbridge/internal/relay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/emirkarahan/sensorbridge/internal/services/relay/app"

// tracingPersister records one span per capture persistence so persistence
// latency and failures are visible in traces when an exporter is configured.
type tracingPersister struct {
	next   relay.Persister
	tracer trace.Tracer
}

func newTracingPersister(next relay.Persister) tracingPersister {
	return tracingPersister{next: next, tracer: otel.Tracer(tracerName)}
}

func (p tracingPersister) Persist(snap capture.Snapshot) (capture.Record, error) {
	_, span := p.tracer.Start(context.Background(), "capture.persist",
		trace.WithAttributes(attribute.Int("capture.frame_bytes", len(snap.Frame))))
	defer span.End()

	record, err := p.next.Persist(snap)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return record, err
	}
	span.SetAttributes(
		attribute.String("capture.correlation_id", record.CorrelationID),
		attribute.String("capture.image_file", record.ImageFile),
	)
	return record, nil
}
