package audit

import (
	"context"
	"log/slog"

	"concierge/pkg/platform/circuit"
)

// FallbackSink writes to primary and diverts to fallback when primary fails
// or its circuit is open. Events are never dropped while fallback accepts
// them.
type FallbackSink struct {
	primary  Sink
	fallback Sink
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

func NewFallbackSink(primary, fallback Sink, breaker *circuit.Breaker, logger *slog.Logger) *FallbackSink {
	return &FallbackSink{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

func (s *FallbackSink) Append(ctx context.Context, event Event) error {
	if !s.breaker.Allow() {
		return s.fallback.Append(ctx, event)
	}

	if err := s.primary.Append(ctx, event); err != nil {
		_, change := s.breaker.RecordFailure()
		if change.Opened {
			s.logger.WarnContext(ctx, "audit circuit opened; writing events to fallback",
				"breaker", s.breaker.Name(),
				"error", err,
			)
		}
		return s.fallback.Append(ctx, event)
	}

	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "audit circuit closed", "breaker", s.breaker.Name())
	}
	return nil
}
