package payment

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

// Reconciler consumes verified gateway webhooks and applies exactly-once
// effects to payment and booking state. The payment row is the serialization
// point: it is loaded with a row lock inside the transaction, so concurrent
// deliveries for the same reference cannot interleave.
type Reconciler struct {
	store         Store
	registry      *Registry
	nowFn         func() int64
	paymentWindow time.Duration
	notifier      Notifier
	logger        OperationLogger
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithPaymentWindow sets the operator-configured maximum payment window.
// Webhooks for payments older than the window are logged for manual review
// instead of being applied. Zero disables the cutoff.
func WithPaymentWindow(window time.Duration) ReconcilerOption {
	return func(reconciler *Reconciler) {
		if window > 0 {
			reconciler.paymentWindow = window
		}
	}
}

// WithNotifier wires the post-commit notification dispatcher.
func WithNotifier(notifier Notifier) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.notifier = notifier
	}
}

// WithReconcilerLogger wires an operation logger.
func WithReconcilerLogger(logger OperationLogger) ReconcilerOption {
	return func(reconciler *Reconciler) {
		reconciler.logger = logger
	}
}

// NewReconciler wires a Reconciler.
func NewReconciler(store Store, registry *Registry, now func() int64, options ...ReconcilerOption) (*Reconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	reconciler := &Reconciler{store: store, registry: registry, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(reconciler)
		}
	}
	return reconciler, nil
}

// HandleWebhook verifies an inbound gateway notification and applies its
// state transition. Duplicate deliveries are acknowledged without mutation;
// every accepted event leaves one transaction log row.
func (reconciler *Reconciler) HandleWebhook(ctx context.Context, provider Provider, header http.Header, body []byte) (ReconcileOutcome, error) {
	adapter, err := reconciler.registry.Adapter(provider)
	if err != nil {
		reconciler.logOperation(ctx, OperationLog{Operation: operationReconcile, Provider: provider, Error: err})
		return ReconcileOutcome{}, err
	}
	event, err := adapter.VerifyWebhook(header, body)
	if err != nil {
		// Deliberately vague toward the caller; the detail stays in the
		// operational log where a misconfigured secret or a forgery attempt
		// can be investigated.
		reconciler.logOperation(ctx, OperationLog{Operation: operationReconcile, Provider: provider, Error: err})
		return ReconcileOutcome{}, err
	}

	var outcome ReconcileOutcome
	operationError := reconciler.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := reconciler.apply(ctx, transactionStore, provider, event)
		if err != nil {
			return err
		}
		outcome = applied
		return nil
	})
	reconciler.logOperation(ctx, OperationLog{
		Operation:   operationReconcile,
		Provider:    provider,
		Reference:   event.Reference,
		BookingID:   outcome.BookingID,
		Disposition: outcome.Disposition,
		Error:       operationError,
	})
	if operationError != nil {
		return ReconcileOutcome{}, operationError
	}
	reconciler.notify(ctx, outcome)
	return outcome, nil
}

func (reconciler *Reconciler) apply(ctx context.Context, transactionStore Store, provider Provider, event WebhookEvent) (ReconcileOutcome, error) {
	pay, err := transactionStore.GetPaymentByReference(ctx, event.Reference)
	if err != nil {
		return ReconcileOutcome{}, err
	}
	if pay.Provider != provider {
		return ReconcileOutcome{}, fmt.Errorf("%w: reference %s belongs to %s", ErrPaymentNotFound, event.Reference, pay.Provider)
	}
	nowUnixUTC := reconciler.nowFn()
	logEntry := TransactionLogEntry{
		PaymentID:             pay.ID,
		BookingID:             pay.BookingID.String(),
		Reference:             pay.Reference.String(),
		Provider:              provider,
		ProviderTransactionID: event.ProviderTransactionID,
		AmountCents:           pay.AmountCents.Int64(),
		Status:                event.Status,
		RawPayload:            event.RawPayload,
		RecordedUnixUTC:       nowUnixUTC,
	}
	outcome := ReconcileOutcome{Status: event.Status, Reference: pay.Reference, BookingID: pay.BookingID}

	if pay.Status.Terminal() {
		logEntry.Disposition = DispositionDuplicate
		outcome.Disposition = DispositionDuplicate
		return outcome, transactionStore.AppendTransactionLog(ctx, logEntry)
	}
	if reconciler.paymentWindow > 0 && nowUnixUTC-pay.CreatedUnixUTC > int64(reconciler.paymentWindow/time.Second) {
		logEntry.Disposition = DispositionDeferred
		outcome.Disposition = DispositionDeferred
		return outcome, transactionStore.AppendTransactionLog(ctx, logEntry)
	}

	switch event.Status {
	case PaymentStatusPending:
		logEntry.Disposition = DispositionProgress
		outcome.Disposition = DispositionProgress
		return outcome, transactionStore.AppendTransactionLog(ctx, logEntry)
	case PaymentStatusCompleted:
		if err := transactionStore.MarkPaymentCompleted(ctx, pay.Reference, event.ProviderTransactionID, nowUnixUTC); err != nil {
			return ReconcileOutcome{}, err
		}
		stay, err := transactionStore.GetBooking(ctx, pay.BookingID)
		if err != nil {
			return ReconcileOutcome{}, err
		}
		// Instant-confirm bookings arrive here already confirmed; the
		// settlement still applies to the payment.
		if stay.Status != booking.BookingStatusConfirmed {
			if err := transactionStore.ConfirmBooking(ctx, pay.BookingID); err != nil {
				return ReconcileOutcome{}, err
			}
		}
	case PaymentStatusFailed, PaymentStatusCancelled:
		if err := transactionStore.MarkPaymentClosed(ctx, pay.Reference, event.Status, event.ProviderTransactionID); err != nil {
			return ReconcileOutcome{}, err
		}
		if err := transactionStore.CancelBookingAndRelease(ctx, pay.BookingID); err != nil {
			return ReconcileOutcome{}, err
		}
	default:
		return ReconcileOutcome{}, fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, event.Status)
	}
	logEntry.Disposition = DispositionApplied
	outcome.Disposition = DispositionApplied
	return outcome, transactionStore.AppendTransactionLog(ctx, logEntry)
}

// notify runs strictly after the transaction commit. A slow or failing
// notification channel cannot block or roll back the financial transition.
func (reconciler *Reconciler) notify(ctx context.Context, outcome ReconcileOutcome) {
	if reconciler.notifier == nil || outcome.Disposition != DispositionApplied {
		return
	}
	var notifyError error
	switch outcome.Status {
	case PaymentStatusCompleted:
		notifyError = reconciler.notifier.BookingConfirmed(ctx, outcome.BookingID)
	case PaymentStatusFailed, PaymentStatusCancelled:
		notifyError = reconciler.notifier.BookingCancelled(ctx, outcome.BookingID)
	}
	if notifyError != nil {
		reconciler.logOperation(ctx, OperationLog{
			Operation: operationNotify,
			Reference: outcome.Reference,
			BookingID: outcome.BookingID,
			Error:     notifyError,
		})
	}
}

func (reconciler *Reconciler) logOperation(ctx context.Context, entry OperationLog) {
	if reconciler.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	reconciler.logger.LogOperation(ctx, entry)
}
