package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type instrumented struct {
	Session
	name string
}

// Instrument wraps s so that every run is traced and recorded in the
// engine metrics under name.
func Instrument(s Session, name string) Session {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{Session: s, name: name}
}

func (s *instrumented) Run(ctx context.Context, inputs []Input, outputs []string) ([]*Tensor, error) {
	batch := 0
	if len(inputs) > 0 && inputs[0].Value != nil {
		batch = inputs[0].Value.BatchSize()
	}
	ctx, span := tracer.Start(ctx, "Session.Run",
		trace.WithAttributes(
			attribute.String("engine.session", s.name),
			attribute.Int("engine.batch_size", batch),
			attribute.StringSlice("engine.outputs", outputs),
		),
	)
	defer span.End()

	start := time.Now()
	out, err := s.Session.Run(ctx, inputs, outputs)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	runLatency.WithLabelValues(s.name, status).Observe(time.Since(start).Seconds())
	runBatchSize.WithLabelValues(s.name).Observe(float64(batch))
	return out, err
}
