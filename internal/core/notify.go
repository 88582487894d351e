package core

// notify.go delivers workflow notifications. Delivery is best effort:
// a failed notification is logged and never fails the operation that
// triggered it.

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Notification is one message to one recipient about a workflow event.
type Notification struct {
	Recipient Actor
	Event     string
	Request   PendingRequest
	Body      string
}

// Workflow notification events.
const (
	EventDepartureRaised    = "departure_raised"
	EventDepartureConfirmed = "departure_confirmed"
	EventDepartureRejected  = "departure_rejected"
)

// Notifier delivers a single notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the structured log. It stands in
// for a chat or email transport in deployments that have none.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.Logger.Info("notification",
		"event", n.Event,
		"recipient_tab", n.Recipient.TabNumber,
		"recipient", n.Recipient.Name,
		"request_id", n.Request.ID,
		"inv_number", n.Request.Key.InvNumber,
		"meter_type", n.Request.Key.MeterType,
		"body", n.Body,
	)
	return nil
}

// fanOut delivers one notification per recipient concurrently. The first
// delivery error is returned after all sends finish; callers log it and
// move on.
func fanOut(ctx context.Context, notifier Notifier, recipients []Actor, event, body string, req PendingRequest) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, recipient := range recipients {
		n := Notification{Recipient: recipient, Event: event, Request: req, Body: body}
		g.Go(func() error {
			return notifier.Notify(ctx, n)
		})
	}
	return g.Wait()
}
