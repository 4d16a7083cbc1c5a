package audit

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the structured log. It is the sink used when
// no Kafka brokers are configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Append(ctx context.Context, event Event) error {
	p.logger.InfoContext(ctx, "audit",
		"action", event.Action,
		"organization_id", event.OrganizationID,
		"subject", event.Subject,
		"request_id", event.RequestID,
		"timestamp", event.Timestamp,
	)
	return nil
}
