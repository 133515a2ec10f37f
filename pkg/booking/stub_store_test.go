package booking

import (
	"context"
	"testing"
)

// stubStore is an in-memory Store used by service tests. WithTx runs the
// closure against the same state; the stub does not emulate rollback.
type stubStore struct {
	bookings map[string]Booking
	claims   map[string]map[string]string

	countOverlapError  error
	insertBookingError error
	claimError         error
	releaseError       error
	updateStatusError  error
	listDaysError      error
	listElapsedError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		bookings: map[string]Booking{},
		claims:   map[string]map[string]string{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) InsertBooking(ctx context.Context, input Booking) error {
	if store.insertBookingError != nil {
		return store.insertBookingError
	}
	store.bookings[input.ID.String()] = input
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		return Booking{}, ErrBookingNotFound
	}
	return stored, nil
}

func (store *stubStore) CountOverlapping(ctx context.Context, propertyID PropertyID, stay StayRange) (int64, error) {
	if store.countOverlapError != nil {
		return 0, store.countOverlapError
	}
	var count int64
	for _, stored := range store.bookings {
		if stored.PropertyID.String() != propertyID.String() {
			continue
		}
		if !stored.Status.Blocks() {
			continue
		}
		if stored.Stay.Overlaps(stay) {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) ClaimDates(ctx context.Context, propertyID PropertyID, bookingID BookingID, days []Day) error {
	if store.claimError != nil {
		return store.claimError
	}
	propertyClaims, ok := store.claims[propertyID.String()]
	if !ok {
		propertyClaims = map[string]string{}
		store.claims[propertyID.String()] = propertyClaims
	}
	for _, day := range days {
		if _, taken := propertyClaims[day.String()]; taken {
			return ErrBookingOverlap
		}
		propertyClaims[day.String()] = bookingID.String()
	}
	return nil
}

func (store *stubStore) ReleaseDates(ctx context.Context, bookingID BookingID) error {
	if store.releaseError != nil {
		return store.releaseError
	}
	for _, propertyClaims := range store.claims {
		for day, owner := range propertyClaims {
			if owner == bookingID.String() {
				delete(propertyClaims, day)
			}
		}
	}
	return nil
}

func (store *stubStore) UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus) error {
	if store.updateStatusError != nil {
		return store.updateStatusError
	}
	stored, ok := store.bookings[bookingID.String()]
	if !ok || stored.Status != from {
		return ErrBookingClosed
	}
	stored.Status = to
	store.bookings[bookingID.String()] = stored
	return nil
}

func (store *stubStore) ListDays(ctx context.Context, propertyID PropertyID, from Day, to Day) ([]AvailabilityDay, error) {
	if store.listDaysError != nil {
		return nil, store.listDaysError
	}
	entries := []AvailabilityDay{}
	propertyClaims := store.claims[propertyID.String()]
	for day := from; day.Before(to); day = day.AddDays(1) {
		owner, taken := propertyClaims[day.String()]
		if taken {
			entries = append(entries, AvailabilityDay{Day: day, Available: false, BookingID: owner})
		}
	}
	return entries, nil
}

func (store *stubStore) ListElapsed(ctx context.Context, checkedOutBefore Day) ([]BookingID, error) {
	if store.listElapsedError != nil {
		return nil, store.listElapsedError
	}
	elapsed := []BookingID{}
	for _, stored := range store.bookings {
		if stored.Status != BookingStatusConfirmed {
			continue
		}
		if !stored.Stay.CheckOut().After(checkedOutBefore) {
			elapsed = append(elapsed, stored.ID)
		}
	}
	return elapsed, nil
}

func (store *stubStore) mustBooking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	stored, ok := store.bookings[bookingID.String()]
	if !ok {
		test.Fatalf("booking %s not stored", bookingID)
	}
	return stored
}

func (store *stubStore) claimedDays(propertyID PropertyID) int {
	return len(store.claims[propertyID.String()])
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPropertyID(test *testing.T, raw string) PropertyID {
	test.Helper()
	propertyID, err := NewPropertyID(raw)
	if err != nil {
		test.Fatalf("property id: %v", err)
	}
	return propertyID
}

func mustCustomerID(test *testing.T, raw string) CustomerID {
	test.Helper()
	customerID, err := NewCustomerID(raw)
	if err != nil {
		test.Fatalf("customer id: %v", err)
	}
	return customerID
}

func mustDay(test *testing.T, raw string) Day {
	test.Helper()
	day, err := ParseDay(raw)
	if err != nil {
		test.Fatalf("day: %v", err)
	}
	return day
}

func mustStay(test *testing.T, checkIn string, checkOut string) StayRange {
	test.Helper()
	stay, err := NewStayRange(mustDay(test, checkIn), mustDay(test, checkOut))
	if err != nil {
		test.Fatalf("stay range: %v", err)
	}
	return stay
}

func mustAmount(test *testing.T, raw int64) AmountCents {
	test.Helper()
	amount, err := NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return amount
}

func mustCurrency(test *testing.T, raw string) Currency {
	test.Helper()
	currency, err := NewCurrency(raw)
	if err != nil {
		test.Fatalf("currency: %v", err)
	}
	return currency
}

func defaultCreateInput(test *testing.T) CreateBookingInput {
	test.Helper()
	return CreateBookingInput{
		PropertyID:  mustPropertyID(test, "prop-1"),
		CustomerID:  mustCustomerID(test, "guest-1"),
		Stay:        mustStay(test, "2025-06-01", "2025-06-05"),
		AmountCents: mustAmount(test, 40000),
		Currency:    mustCurrency(test, "usd"),
	}
}

const fixedNowUnixUTC = int64(1748736000) // 2025-06-01T00:00:00Z
