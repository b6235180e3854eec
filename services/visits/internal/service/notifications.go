package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/diagnosis/museum-visits/pkg/events"
	"github.com/diagnosis/museum-visits/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// maxParallelNotifications caps in-flight publishes for one request.
const maxParallelNotifications = 8

// dispatch publishes notification requests concurrently. Failures are logged and never returned:
// by the time notifications go out the state change has already committed.
func dispatch(ctx context.Context, pub events.Publisher, notes []events.NotificationEvent) {
	if pub == nil || len(notes) == 0 {
		return
	}
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.SetLimit(maxParallelNotifications)
	for _, n := range notes {
		g.Go(func() error {
			if err := pub.Publish(gctx, events.NotifySend, n); err != nil {
				logger.ErrorContext(ctx, "Failed to dispatch notification",
					"error", err, "template", n.Template, "recipient", maskEmail(n.Recipient))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// publish emits a domain event and logs failures.
func publish(ctx context.Context, pub events.Publisher, subject string, event any) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, subject, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event", "error", err, "subject", subject)
	}
}

func companionLink(frontendURL, tokenID string) string {
	return fmt.Sprintf("%s/companions/%s", strings.TrimRight(frontendURL, "/"), tokenID)
}

func maskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return email
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}
