package booking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AmountCents is an integer currency amount in cents.
type AmountCents int64

// PropertyID identifies a rentable property.
type PropertyID struct {
	value string
}

// CustomerID identifies the guest placing a booking.
type CustomerID struct {
	value string
}

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// Currency is an ISO 4217 alphabetic code.
type Currency struct {
	value string
}

// Day is a UTC calendar date with no time-of-day component.
type Day struct {
	value time.Time
}

// StayRange is a half-open date interval [CheckIn, CheckOut): the checkout
// day itself is free for another booking's check-in.
type StayRange struct {
	checkIn  Day
	checkOut Day
}

// BookingStatus defines the booking lifecycle.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusCompleted BookingStatus = "completed"
)

// String returns the status literal.
func (status BookingStatus) String() string {
	return string(status)
}

// Blocks reports whether a booking in this status keeps its dates claimed.
func (status BookingStatus) Blocks() bool {
	return status == BookingStatusPending || status == BookingStatusConfirmed
}

// ParseBookingStatus validates a stored status literal.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(raw) {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusCompleted:
		return BookingStatus(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
}

// Booking is the stored booking aggregate.
type Booking struct {
	ID              BookingID
	PropertyID      PropertyID
	CustomerID      CustomerID
	Stay            StayRange
	Status          BookingStatus
	AmountCents     AmountCents
	Currency        Currency
	PaymentProvider string
	CreatedUnixUTC  int64
}

// AvailabilityDay is one calendar day of a property's occupancy view.
type AvailabilityDay struct {
	Day       Day
	Available bool
	BookingID string
}

// CreateBookingInput carries a guest booking request.
type CreateBookingInput struct {
	PropertyID     PropertyID
	CustomerID     CustomerID
	Stay           StayRange
	AmountCents    AmountCents
	Currency       Currency
	InstantConfirm bool
}

// NewPropertyID validates and normalizes a property id.
func NewPropertyID(raw string) (PropertyID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PropertyID{}, fmt.Errorf("%w: empty value", ErrInvalidPropertyID)
	}
	return PropertyID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id PropertyID) String() string {
	return id.value
}

// NewCustomerID validates and normalizes a customer id.
func NewCustomerID(raw string) (CustomerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CustomerID{}, fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	return CustomerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id CustomerID) String() string {
	return id.value
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// NewCurrency validates a three-letter alphabetic currency code.
func NewCurrency(raw string) (Currency, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return Currency{}, fmt.Errorf("%w: expected three-letter code", ErrInvalidCurrency)
	}
	for _, r := range normalized {
		if r < 'A' || r > 'Z' {
			return Currency{}, fmt.Errorf("%w: expected alphabetic code", ErrInvalidCurrency)
		}
	}
	return Currency{value: normalized}, nil
}

// String returns the normalized code.
func (currency Currency) String() string {
	return currency.value
}

// NewAmountCents validates an amount and ensures it is strictly positive.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cent count.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewDay truncates an instant to its UTC calendar date.
func NewDay(instant time.Time) Day {
	utc := instant.UTC()
	return Day{value: time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)}
}

// ParseDay parses a 2006-01-02 date literal.
func ParseDay(raw string) (Day, error) {
	parsed, err := time.Parse(dayLayout, strings.TrimSpace(raw))
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q", ErrInvalidDay, raw)
	}
	return NewDay(parsed), nil
}

// String renders the 2006-01-02 literal.
func (day Day) String() string {
	return day.value.Format(dayLayout)
}

// Time returns the UTC midnight instant.
func (day Day) Time() time.Time {
	return day.value
}

// AddDays returns the day shifted by the given number of calendar days.
func (day Day) AddDays(count int) Day {
	return Day{value: day.value.AddDate(0, 0, count)}
}

// Before reports whether day precedes other.
func (day Day) Before(other Day) bool {
	return day.value.Before(other.value)
}

// After reports whether day follows other.
func (day Day) After(other Day) bool {
	return day.value.After(other.value)
}

// Equal reports calendar-date equality.
func (day Day) Equal(other Day) bool {
	return day.value.Equal(other.value)
}

// IsZero reports whether the day is unset.
func (day Day) IsZero() bool {
	return day.value.IsZero()
}

// NewStayRange validates a half-open [checkIn, checkOut) interval.
func NewStayRange(checkIn Day, checkOut Day) (StayRange, error) {
	if checkIn.IsZero() || checkOut.IsZero() {
		return StayRange{}, fmt.Errorf("%w: missing boundary", ErrInvalidStayRange)
	}
	if !checkOut.After(checkIn) {
		return StayRange{}, fmt.Errorf("%w: checkout must follow check-in", ErrInvalidStayRange)
	}
	return StayRange{checkIn: checkIn, checkOut: checkOut}, nil
}

// CheckIn returns the first occupied day.
func (stay StayRange) CheckIn() Day {
	return stay.checkIn
}

// CheckOut returns the exclusive end day.
func (stay StayRange) CheckOut() Day {
	return stay.checkOut
}

// Nights counts the occupied days in the interval.
func (stay StayRange) Nights() int {
	return int(stay.checkOut.value.Sub(stay.checkIn.value).Hours() / 24)
}

// Days enumerates every occupied day, checkout day excluded.
func (stay StayRange) Days() []Day {
	days := make([]Day, 0, stay.Nights())
	for day := stay.checkIn; day.Before(stay.checkOut); day = day.AddDays(1) {
		days = append(days, day)
	}
	return days
}

// Overlaps reports half-open interval intersection.
func (stay StayRange) Overlaps(other StayRange) bool {
	return stay.checkIn.Before(other.checkOut) && other.checkIn.Before(stay.checkOut)
}

// Store is the persistence contract used by Service. All mutating calls are
// expected to run inside WithTx; the transaction is the mutual exclusion that
// keeps concurrent claims for the same property from double-booking.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	InsertBooking(ctx context.Context, input Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	CountOverlapping(ctx context.Context, propertyID PropertyID, stay StayRange) (int64, error)
	ClaimDates(ctx context.Context, propertyID PropertyID, bookingID BookingID, days []Day) error
	ReleaseDates(ctx context.Context, bookingID BookingID) error
	UpdateBookingStatus(ctx context.Context, bookingID BookingID, from, to BookingStatus) error
	ListDays(ctx context.Context, propertyID PropertyID, from Day, to Day) ([]AvailabilityDay, error)
	ListElapsed(ctx context.Context, checkedOutBefore Day) ([]BookingID, error)
}
