package mail

import (
	"context"
	"log/slog"

	"concierge/pkg/email"
)

// LogTransport stands in for SMTP in local development. It records who would
// have received what, never the body.
type LogTransport struct {
	logger *slog.Logger
}

func NewLogTransport(logger *slog.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Send(ctx context.Context, msg email.Message) error {
	t.logger.InfoContext(ctx, "mail delivery skipped, no SMTP host configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body_bytes", len(msg.HTML),
	)
	return nil
}
