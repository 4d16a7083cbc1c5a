// Package mail delivers rendered notifications.
package mail

import (
	"context"

	"concierge/pkg/email"
)

// Transport sends one message. Implementations honour ctx cancellation.
type Transport interface {
	Send(ctx context.Context, msg email.Message) error
}
