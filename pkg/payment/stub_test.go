package payment

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

const stubNowUnixUTC = int64(1748736000) // 2025-06-01T00:00:00Z

// stubStore is an in-memory payment.Store for orchestrator and reconciler
// tests. WithTx runs the closure against shared state without rollback.
type stubStore struct {
	payments      map[string]Payment
	bookings      map[string]booking.Booking
	releasedDates map[string]bool
	log           []TransactionLogEntry

	createPaymentError error
	getPaymentError    error
	appendLogError     error
	confirmError       error
}

func newPaymentStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		payments:      map[string]Payment{},
		bookings:      map[string]booking.Booking{},
		releasedDates: map[string]bool{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) CreatePayment(ctx context.Context, input Payment) error {
	if store.createPaymentError != nil {
		return store.createPaymentError
	}
	store.payments[input.Reference.String()] = input
	return nil
}

func (store *stubStore) CancelPendingPayments(ctx context.Context, bookingID booking.BookingID) error {
	for reference, stored := range store.payments {
		if stored.BookingID.String() == bookingID.String() && stored.Status == PaymentStatusPending {
			stored.Status = PaymentStatusCancelled
			store.payments[reference] = stored
		}
	}
	return nil
}

func (store *stubStore) GetPaymentByReference(ctx context.Context, reference Reference) (Payment, error) {
	if store.getPaymentError != nil {
		return Payment{}, store.getPaymentError
	}
	stored, ok := store.payments[reference.String()]
	if !ok {
		return Payment{}, ErrPaymentNotFound
	}
	return stored, nil
}

func (store *stubStore) MarkPaymentCompleted(ctx context.Context, reference Reference, providerTransactionID string, completedUnixUTC int64) error {
	stored, ok := store.payments[reference.String()]
	if !ok {
		return ErrPaymentNotFound
	}
	if stored.Status != PaymentStatusPending {
		return ErrPaymentClosed
	}
	stored.Status = PaymentStatusCompleted
	stored.ProviderTransactionID = providerTransactionID
	stored.CompletedUnixUTC = completedUnixUTC
	store.payments[reference.String()] = stored
	return nil
}

func (store *stubStore) MarkPaymentClosed(ctx context.Context, reference Reference, to PaymentStatus, providerTransactionID string) error {
	stored, ok := store.payments[reference.String()]
	if !ok {
		return ErrPaymentNotFound
	}
	if stored.Status != PaymentStatusPending {
		return ErrPaymentClosed
	}
	stored.Status = to
	stored.ProviderTransactionID = providerTransactionID
	store.payments[reference.String()] = stored
	return nil
}

func (store *stubStore) AppendTransactionLog(ctx context.Context, entry TransactionLogEntry) error {
	if store.appendLogError != nil {
		return store.appendLogError
	}
	store.log = append(store.log, entry)
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		return booking.Booking{}, booking.ErrBookingNotFound
	}
	return stored, nil
}

func (store *stubStore) SetBookingProvider(ctx context.Context, bookingID booking.BookingID, provider Provider) error {
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		return booking.ErrBookingNotFound
	}
	stored.PaymentProvider = provider.String()
	store.bookings[bookingID.String()] = stored
	return nil
}

func (store *stubStore) ConfirmBooking(ctx context.Context, bookingID booking.BookingID) error {
	if store.confirmError != nil {
		return store.confirmError
	}
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		return booking.ErrBookingNotFound
	}
	stored.Status = booking.BookingStatusConfirmed
	store.bookings[bookingID.String()] = stored
	return nil
}

func (store *stubStore) CancelBookingAndRelease(ctx context.Context, bookingID booking.BookingID) error {
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		return booking.ErrBookingNotFound
	}
	stored.Status = booking.BookingStatusCancelled
	store.bookings[bookingID.String()] = stored
	store.releasedDates[bookingID.String()] = true
	return nil
}

func (store *stubStore) seedBooking(test *testing.T, id string) booking.Booking {
	test.Helper()
	bookingID, err := booking.NewBookingID(id)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	propertyID, err := booking.NewPropertyID("prop-1")
	if err != nil {
		test.Fatalf("property id: %v", err)
	}
	customerID, err := booking.NewCustomerID("guest-1")
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	checkIn, err := booking.ParseDay("2025-06-01")
	if err != nil {
		test.Fatalf("check-in: %v", err)
	}
	checkOut, err := booking.ParseDay("2025-06-05")
	if err != nil {
		test.Fatalf("check-out: %v", err)
	}
	stay, err := booking.NewStayRange(checkIn, checkOut)
	if err != nil {
		test.Fatalf("stay: %v", err)
	}
	amount, err := booking.NewAmountCents(40000)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	currency, err := booking.NewCurrency("USD")
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	seeded := booking.Booking{
		ID:             bookingID,
		PropertyID:     propertyID,
		CustomerID:     customerID,
		Stay:           stay,
		Status:         booking.BookingStatusPending,
		AmountCents:    amount,
		Currency:       currency,
		CreatedUnixUTC: stubNowUnixUTC,
	}
	store.bookings[id] = seeded
	return seeded
}

func (store *stubStore) seedPendingPayment(test *testing.T, bookingID string, reference string) Payment {
	test.Helper()
	seededBooking, ok := store.bookings[bookingID]
	if !ok {
		seededBooking = store.seedBooking(test, bookingID)
	}
	parsedReference, err := NewReference(reference)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	pay := Payment{
		ID:             "pay-" + reference,
		BookingID:      seededBooking.ID,
		Provider:       ProviderFastpay,
		AmountCents:    seededBooking.AmountCents,
		Currency:       seededBooking.Currency,
		Status:         PaymentStatusPending,
		Reference:      parsedReference,
		CreatedUnixUTC: stubNowUnixUTC,
	}
	store.payments[reference] = pay
	return pay
}

// stubAdapter is a scriptable GatewayAdapter.
type stubAdapter struct {
	provider    Provider
	buildResult RedirectTarget
	buildError  error
	verifyEvent WebhookEvent
	verifyError error
	buildCalls  int
}

func (adapter *stubAdapter) Provider() Provider {
	return adapter.provider
}

func (adapter *stubAdapter) BuildPaymentRequest(ctx context.Context, stay booking.Booking, pay Payment) (RedirectTarget, error) {
	adapter.buildCalls++
	if adapter.buildError != nil {
		return RedirectTarget{}, adapter.buildError
	}
	if adapter.buildResult.RedirectURL == "" {
		return RedirectTarget{RedirectURL: fmt.Sprintf("https://%s.example/pay/%s", adapter.provider, pay.Reference)}, nil
	}
	return adapter.buildResult, nil
}

func (adapter *stubAdapter) VerifyWebhook(header http.Header, body []byte) (WebhookEvent, error) {
	if adapter.verifyError != nil {
		return WebhookEvent{}, adapter.verifyError
	}
	event := adapter.verifyEvent
	if event.RawPayload == nil {
		event.RawPayload = body
	}
	return event, nil
}

// recordingNotifier captures post-commit notifications.
type recordingNotifier struct {
	confirmed []string
	cancelled []string
	err       error
}

func (notifier *recordingNotifier) BookingConfirmed(ctx context.Context, bookingID booking.BookingID) error {
	notifier.confirmed = append(notifier.confirmed, bookingID.String())
	return notifier.err
}

func (notifier *recordingNotifier) BookingCancelled(ctx context.Context, bookingID booking.BookingID) error {
	notifier.cancelled = append(notifier.cancelled, bookingID.String())
	return notifier.err
}

func mustRegistry(test *testing.T, adapters ...GatewayAdapter) *Registry {
	test.Helper()
	registry, err := NewRegistry(adapters...)
	if err != nil {
		test.Fatalf("registry: %v", err)
	}
	return registry
}

func mustReference(test *testing.T, raw string) Reference {
	test.Helper()
	reference, err := NewReference(raw)
	if err != nil {
		test.Fatalf("reference: %v", err)
	}
	return reference
}

func stubClock() int64 {
	return stubNowUnixUTC
}
