// Package notify carries booking lifecycle events out of the reconciliation
// path. Dispatchers run after the database transaction commits; their
// failures are logged upstream and never affect booking state.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

const (
	eventBookingConfirmed = "booking.confirmed"
	eventBookingCancelled = "booking.cancelled"
)

// BookingEvent is the message body published for a booking transition.
type BookingEvent struct {
	Event           string `json:"event"`
	BookingID       string `json:"booking_id"`
	OccurredUnixUTC int64  `json:"occurred_unix_utc"`
}

// LogNotifier records booking transitions in the service log. It is the
// default dispatcher when no message broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier wires a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// BookingConfirmed logs a confirmation event.
func (notifier *LogNotifier) BookingConfirmed(_ context.Context, bookingID booking.BookingID) error {
	notifier.logger.Info("booking confirmed", zap.String("booking_id", bookingID.String()))
	return nil
}

// BookingCancelled logs a cancellation event.
func (notifier *LogNotifier) BookingCancelled(_ context.Context, bookingID booking.BookingID) error {
	notifier.logger.Info("booking cancelled", zap.String("booking_id", bookingID.String()))
	return nil
}

// jsonPublisher is the broker surface the AMQP notifier needs.
type jsonPublisher interface {
	PublishJSON(ctx context.Context, key string, payload any) error
}

// AMQPNotifier publishes booking transitions to a topic exchange so guest
// messaging and operator tooling can consume them asynchronously.
type AMQPNotifier struct {
	publisher jsonPublisher
	nowFn     func() int64
}

// NewAMQPNotifier wires an AMQPNotifier. A nil clock defaults to wall time.
func NewAMQPNotifier(publisher jsonPublisher, now func() int64) *AMQPNotifier {
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	return &AMQPNotifier{publisher: publisher, nowFn: now}
}

// BookingConfirmed publishes a booking.confirmed event.
func (notifier *AMQPNotifier) BookingConfirmed(ctx context.Context, bookingID booking.BookingID) error {
	return notifier.publish(ctx, eventBookingConfirmed, bookingID)
}

// BookingCancelled publishes a booking.cancelled event.
func (notifier *AMQPNotifier) BookingCancelled(ctx context.Context, bookingID booking.BookingID) error {
	return notifier.publish(ctx, eventBookingCancelled, bookingID)
}

func (notifier *AMQPNotifier) publish(ctx context.Context, event string, bookingID booking.BookingID) error {
	return notifier.publisher.PublishJSON(ctx, event, BookingEvent{
		Event:           event,
		BookingID:       bookingID.String(),
		OccurredUnixUTC: notifier.nowFn(),
	})
}
