package booking

import (
	"context"
	"errors"
	"testing"
)

func TestCreateBookingClaimsEveryNight(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	input := defaultCreateInput(test)

	created, err := service.CreateBooking(context.Background(), input)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if created.Status != BookingStatusPending {
		test.Fatalf("expected pending booking, got %s", created.Status)
	}
	if got := store.claimedDays(input.PropertyID); got != 4 {
		test.Fatalf("expected 4 claimed days, got %d", got)
	}
	stored := store.mustBooking(test, created.ID)
	if stored.CreatedUnixUTC != fixedNowUnixUTC {
		test.Fatalf("expected created stamp %d, got %d", fixedNowUnixUTC, stored.CreatedUnixUTC)
	}
}

func TestCreateBookingInstantConfirm(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	input := defaultCreateInput(test)
	input.InstantConfirm = true

	created, err := service.CreateBooking(context.Background(), input)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if created.Status != BookingStatusConfirmed {
		test.Fatalf("expected confirmed booking, got %s", created.Status)
	}
}

func TestCreateBookingRejectsOverlap(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	first := defaultCreateInput(test)
	if _, err := service.CreateBooking(context.Background(), first); err != nil {
		test.Fatalf("first booking: %v", err)
	}

	second := defaultCreateInput(test)
	second.CustomerID = mustCustomerID(test, "guest-2")
	second.Stay = mustStay(test, "2025-06-03", "2025-06-07")
	_, err := service.CreateBooking(context.Background(), second)
	if !errors.Is(err, ErrBookingOverlap) {
		test.Fatalf("expected ErrBookingOverlap, got %v", err)
	}
}

func TestCreateBookingAllowsCheckInOnCheckoutDay(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	first := defaultCreateInput(test)
	if _, err := service.CreateBooking(context.Background(), first); err != nil {
		test.Fatalf("first booking: %v", err)
	}

	second := defaultCreateInput(test)
	second.CustomerID = mustCustomerID(test, "guest-2")
	second.Stay = mustStay(test, "2025-06-05", "2025-06-08")
	if _, err := service.CreateBooking(context.Background(), second); err != nil {
		test.Fatalf("back-to-back booking: %v", err)
	}
}

func TestCreateBookingClaimConflictAborts(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.claimError = ErrBookingOverlap
	service := mustNewService(test, store)

	_, err := service.CreateBooking(context.Background(), defaultCreateInput(test))
	if !errors.Is(err, ErrBookingOverlap) {
		test.Fatalf("expected ErrBookingOverlap from claim conflict, got %v", err)
	}
}

func TestCancelBookingReleasesDates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	input := defaultCreateInput(test)
	created, err := service.CreateBooking(context.Background(), input)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}

	if err := service.CancelBooking(context.Background(), created.ID); err != nil {
		test.Fatalf("cancel booking: %v", err)
	}
	if got := store.claimedDays(input.PropertyID); got != 0 {
		test.Fatalf("expected all days released, %d still claimed", got)
	}
	if store.mustBooking(test, created.ID).Status != BookingStatusCancelled {
		test.Fatalf("expected cancelled booking")
	}

	rebooked := defaultCreateInput(test)
	rebooked.CustomerID = mustCustomerID(test, "guest-2")
	if _, err := service.CreateBooking(context.Background(), rebooked); err != nil {
		test.Fatalf("rebooking released dates: %v", err)
	}
}

func TestCancelBookingRejectsClosedBooking(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	created, err := service.CreateBooking(context.Background(), defaultCreateInput(test))
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}
	if err := service.CancelBooking(context.Background(), created.ID); err != nil {
		test.Fatalf("first cancel: %v", err)
	}

	err = service.CancelBooking(context.Background(), created.ID)
	if !errors.Is(err, ErrBookingClosed) {
		test.Fatalf("expected ErrBookingClosed, got %v", err)
	}
}

func TestCancelBookingUnknownID(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	unknown, err := NewBookingID("missing")
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}

	cancelErr := service.CancelBooking(context.Background(), unknown)
	if !errors.Is(cancelErr, ErrBookingNotFound) {
		test.Fatalf("expected ErrBookingNotFound, got %v", cancelErr)
	}
}

func TestAvailabilityReportsClaimedAndFreeDays(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	input := defaultCreateInput(test)
	created, err := service.CreateBooking(context.Background(), input)
	if err != nil {
		test.Fatalf("create booking: %v", err)
	}

	window, err := service.Availability(context.Background(), input.PropertyID, mustDay(test, "2025-06-01"), mustDay(test, "2025-06-08"))
	if err != nil {
		test.Fatalf("availability: %v", err)
	}
	if len(window) != 7 {
		test.Fatalf("expected 7 days, got %d", len(window))
	}
	for index, entry := range window {
		wantAvailable := index >= 4
		if entry.Available != wantAvailable {
			test.Fatalf("day %s availability=%v, want %v", entry.Day, entry.Available, wantAvailable)
		}
		if !entry.Available && entry.BookingID != created.ID.String() {
			test.Fatalf("day %s owned by %q, want %q", entry.Day, entry.BookingID, created.ID)
		}
	}
}

func TestAvailabilityRejectsEmptyWindow(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	_, err := service.Availability(context.Background(), mustPropertyID(test, "prop-1"), mustDay(test, "2025-06-05"), mustDay(test, "2025-06-05"))
	if !errors.Is(err, ErrInvalidStayRange) {
		test.Fatalf("expected ErrInvalidStayRange, got %v", err)
	}
}

func TestCompleteElapsedMovesConfirmedBookings(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	past := defaultCreateInput(test)
	past.Stay = mustStay(test, "2025-05-20", "2025-05-24")
	past.InstantConfirm = true
	pastBooking, err := service.CreateBooking(context.Background(), past)
	if err != nil {
		test.Fatalf("past booking: %v", err)
	}

	current := defaultCreateInput(test)
	current.InstantConfirm = true
	currentBooking, err := service.CreateBooking(context.Background(), current)
	if err != nil {
		test.Fatalf("current booking: %v", err)
	}

	completed, err := service.CompleteElapsed(context.Background())
	if err != nil {
		test.Fatalf("complete elapsed: %v", err)
	}
	if completed != 1 {
		test.Fatalf("expected 1 completed booking, got %d", completed)
	}
	if store.mustBooking(test, pastBooking.ID).Status != BookingStatusCompleted {
		test.Fatalf("expected past booking completed")
	}
	if store.mustBooking(test, currentBooking.ID).Status != BookingStatusConfirmed {
		test.Fatalf("expected current booking untouched")
	}
}

func TestCreateBookingReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	errStoreFailure := errors.New("store failure")
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: "overlap query error", configure: func(store *stubStore) { store.countOverlapError = errStoreFailure }},
		{name: "insert error", configure: func(store *stubStore) { store.insertBookingError = errStoreFailure }},
		{name: "claim error", configure: func(store *stubStore) { store.claimError = errStoreFailure }},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.CreateBooking(context.Background(), defaultCreateInput(test))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf("expected store failure, got %v", err)
			}
		})
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, func() int64 { return 0 }); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
