package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service contains the booking and availability domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	newID  func() string
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// WithIDGenerator overrides booking id generation.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}

// CreateBooking claims the requested dates and records the booking as one
// atomic unit. Concurrent requests for intersecting ranges on the same
// property resolve to exactly one winner: the overlap query and the per-day
// claims run inside a single transaction, and the (property, date) uniqueness
// in the availability ledger aborts the loser even if both passed the query.
func (service *Service) CreateBooking(ctx context.Context, input CreateBookingInput) (Booking, error) {
	status := BookingStatusPending
	if input.InstantConfirm {
		status = BookingStatusConfirmed
	}
	bookingID, err := NewBookingID(service.newID())
	if err != nil {
		return Booking{}, err
	}
	created := Booking{
		ID:             bookingID,
		PropertyID:     input.PropertyID,
		CustomerID:     input.CustomerID,
		Stay:           input.Stay,
		Status:         status,
		AmountCents:    input.AmountCents,
		Currency:       input.Currency,
		CreatedUnixUTC: service.nowFn(),
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		overlapping, err := transactionStore.CountOverlapping(ctx, input.PropertyID, input.Stay)
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return ErrBookingOverlap
		}
		if err := transactionStore.InsertBooking(ctx, created); err != nil {
			return err
		}
		return transactionStore.ClaimDates(ctx, input.PropertyID, bookingID, input.Stay.Days())
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationCreate,
		PropertyID: input.PropertyID,
		BookingID:  bookingID,
		CustomerID: input.CustomerID,
		CheckIn:    input.Stay.CheckIn(),
		CheckOut:   input.Stay.CheckOut(),
		Error:      operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return created, nil
}

// CancelBooking releases the booking's dates and marks it cancelled.
// Only the availability rows still owned by this booking are reverted.
func (service *Service) CancelBooking(ctx context.Context, bookingID BookingID) error {
	var propertyID PropertyID
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		propertyID = current.PropertyID
		if !current.Status.Blocks() {
			return ErrBookingClosed
		}
		if err := transactionStore.UpdateBookingStatus(ctx, bookingID, current.Status, BookingStatusCancelled); err != nil {
			return err
		}
		return transactionStore.ReleaseDates(ctx, bookingID)
	})
	service.logOperation(ctx, OperationLog{
		Operation:  operationCancel,
		PropertyID: propertyID,
		BookingID:  bookingID,
		Error:      operationError,
	})
	return operationError
}

// Availability returns one entry per day in [from, to); days with no ledger
// row are reported available.
func (service *Service) Availability(ctx context.Context, propertyID PropertyID, from Day, to Day) ([]AvailabilityDay, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("%w: empty window", ErrInvalidStayRange)
	}
	claimed, err := service.store.ListDays(ctx, propertyID, from, to)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationAvailability, PropertyID: propertyID, Error: err})
		return nil, err
	}
	claimedByDay := make(map[string]AvailabilityDay, len(claimed))
	for _, entry := range claimed {
		claimedByDay[entry.Day.String()] = entry
	}
	window := make([]AvailabilityDay, 0, int(to.Time().Sub(from.Time()).Hours()/24))
	for day := from; day.Before(to); day = day.AddDays(1) {
		if entry, ok := claimedByDay[day.String()]; ok {
			window = append(window, entry)
			continue
		}
		window = append(window, AvailabilityDay{Day: day, Available: true})
	}
	return window, nil
}

// CompleteElapsed moves confirmed bookings whose checkout day has passed to
// completed. Past availability rows are left untouched.
func (service *Service) CompleteElapsed(ctx context.Context) (int, error) {
	today := NewDay(unixToTime(service.nowFn()))
	elapsed, err := service.store.ListElapsed(ctx, today)
	if err != nil {
		service.logOperation(ctx, OperationLog{Operation: operationComplete, Error: err})
		return 0, err
	}
	completed := 0
	for _, bookingID := range elapsed {
		transitionError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			return transactionStore.UpdateBookingStatus(ctx, bookingID, BookingStatusConfirmed, BookingStatusCompleted)
		})
		service.logOperation(ctx, OperationLog{
			Operation: operationComplete,
			BookingID: bookingID,
			Error:     transitionError,
		})
		if transitionError != nil {
			continue
		}
		completed++
	}
	return completed, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func unixToTime(unixUTC int64) time.Time {
	return time.Unix(unixUTC, 0).UTC()
}
