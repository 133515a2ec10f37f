package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

// Provider enumerates the supported payment gateways. The set is closed:
// each member has its own signing discipline in internal/gateway.
type Provider string

const (
	ProviderFastpay  Provider = "fastpay"
	ProviderTrustpay Provider = "trustpay"
	ProviderQrpay    Provider = "qrpay"
	ProviderInstapay Provider = "instapay"
)

// String returns the provider code.
func (provider Provider) String() string {
	return string(provider)
}

// ParseProvider validates a provider code.
func ParseProvider(raw string) (Provider, error) {
	switch Provider(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderFastpay:
		return ProviderFastpay, nil
	case ProviderTrustpay:
		return ProviderTrustpay, nil
	case ProviderQrpay:
		return ProviderQrpay, nil
	case ProviderInstapay:
		return ProviderInstapay, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, raw)
}

// PaymentStatus is the platform's canonical payment outcome vocabulary,
// independent of any gateway's native terms.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// String returns the status literal.
func (status PaymentStatus) String() string {
	return string(status)
}

// Terminal reports whether the status admits no further transitions.
func (status PaymentStatus) Terminal() bool {
	return status == PaymentStatusCompleted || status == PaymentStatusFailed || status == PaymentStatusCancelled
}

// ParsePaymentStatus validates a stored status literal.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(raw) {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return PaymentStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
}

// Reference is the platform-generated idempotency key correlating an
// outbound payment request with its eventual inbound webhook.
type Reference struct {
	value string
}

// NewReference validates and normalizes a reference.
func NewReference(raw string) (Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Reference{}, fmt.Errorf("%w: empty value", ErrInvalidReference)
	}
	return Reference{value: trimmed}, nil
}

// String returns the normalized reference.
func (reference Reference) String() string {
	return reference.value
}

// Payment is one payment attempt against a booking. A booking may accumulate
// several attempts; at most one ever reaches completed.
type Payment struct {
	ID                    string
	BookingID             booking.BookingID
	Provider              Provider
	AmountCents           booking.AmountCents
	Currency              booking.Currency
	Status                PaymentStatus
	Reference             Reference
	ProviderTransactionID string
	CreatedUnixUTC        int64
	CompletedUnixUTC      int64
}

// RedirectTarget is where the guest goes to complete payment: a hosted page,
// a QR payload, or both.
type RedirectTarget struct {
	RedirectURL string
	QRPayload   string
}

// InitiatedPayment pairs the persisted payment with the gateway redirect.
type InitiatedPayment struct {
	Payment  Payment
	Redirect RedirectTarget
}

// WebhookEvent is a verified, canonicalized gateway notification.
type WebhookEvent struct {
	Reference             Reference
	ProviderTransactionID string
	ProviderStatus        string
	Status                PaymentStatus
	RawPayload            []byte
}

// Disposition records how the reconciler handled an accepted webhook.
type Disposition string

const (
	DispositionApplied   Disposition = "applied"
	DispositionDuplicate Disposition = "duplicate"
	DispositionDeferred  Disposition = "deferred"
	DispositionProgress  Disposition = "progress"
)

// TransactionLogEntry is one immutable audit row per accepted webhook event.
type TransactionLogEntry struct {
	PaymentID             string
	BookingID             string
	Reference             string
	Provider              Provider
	ProviderTransactionID string
	AmountCents           int64
	Status                PaymentStatus
	Disposition           Disposition
	RawPayload            []byte
	RecordedUnixUTC       int64
}

// ReconcileOutcome reports the effect of one webhook delivery.
type ReconcileOutcome struct {
	Disposition Disposition
	Status      PaymentStatus
	Reference   Reference
	BookingID   booking.BookingID
}

// Notifier is invoked after a reconciliation transaction commits. Failures
// are logged by the caller and never affect the committed state.
type Notifier interface {
	BookingConfirmed(ctx context.Context, bookingID booking.BookingID) error
	BookingCancelled(ctx context.Context, bookingID booking.BookingID) error
}

// Store is the persistence contract used by Orchestrator and Reconciler.
// The booking-side primitives exist so a reconciliation applies payment and
// booking effects in one transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreatePayment(ctx context.Context, input Payment) error
	CancelPendingPayments(ctx context.Context, bookingID booking.BookingID) error
	GetPaymentByReference(ctx context.Context, reference Reference) (Payment, error)
	MarkPaymentCompleted(ctx context.Context, reference Reference, providerTransactionID string, completedUnixUTC int64) error
	MarkPaymentClosed(ctx context.Context, reference Reference, to PaymentStatus, providerTransactionID string) error
	AppendTransactionLog(ctx context.Context, entry TransactionLogEntry) error
	GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error)
	SetBookingProvider(ctx context.Context, bookingID booking.BookingID, provider Provider) error
	ConfirmBooking(ctx context.Context, bookingID booking.BookingID) error
	CancelBookingAndRelease(ctx context.Context, bookingID booking.BookingID) error
}
