package booking

import (
	"errors"
	"testing"
)

func TestNewPropertyID(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		input   string
		wantErr error
		wantVal string
	}{
		{name: "valid", input: " prop-9 ", wantVal: "prop-9"},
		{name: "empty", input: "   ", wantErr: ErrInvalidPropertyID},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			result, err := NewPropertyID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.String() != tc.wantVal {
				t.Fatalf("expected %q, got %q", tc.wantVal, result.String())
			}
		})
	}
}

func TestParseDay(t *testing.T) {
	t.Parallel()
	day, err := ParseDay("2025-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if day.String() != "2025-06-01" {
		t.Fatalf("expected round trip, got %q", day.String())
	}
	if _, err := ParseDay("01/06/2025"); !errors.Is(err, ErrInvalidDay) {
		t.Fatalf("expected ErrInvalidDay, got %v", err)
	}
}

func TestNewStayRange(t *testing.T) {
	t.Parallel()
	checkIn, _ := ParseDay("2025-06-01")
	checkOut, _ := ParseDay("2025-06-05")
	stay, err := NewStayRange(checkIn, checkOut)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stay.Nights() != 4 {
		t.Fatalf("expected 4 nights, got %d", stay.Nights())
	}
	if got := len(stay.Days()); got != 4 {
		t.Fatalf("expected 4 days, got %d", got)
	}
	if _, err := NewStayRange(checkOut, checkIn); !errors.Is(err, ErrInvalidStayRange) {
		t.Fatalf("expected ErrInvalidStayRange, got %v", err)
	}
	if _, err := NewStayRange(checkIn, checkIn); !errors.Is(err, ErrInvalidStayRange) {
		t.Fatalf("expected ErrInvalidStayRange for zero nights, got %v", err)
	}
}

func TestStayRangeOverlaps(t *testing.T) {
	t.Parallel()
	base := mustStay(t, "2025-06-01", "2025-06-05")
	cases := []struct {
		name  string
		other StayRange
		want  bool
	}{
		{name: "inside", other: mustStay(t, "2025-06-02", "2025-06-04"), want: true},
		{name: "straddles end", other: mustStay(t, "2025-06-03", "2025-06-07"), want: true},
		{name: "checkout day check-in", other: mustStay(t, "2025-06-05", "2025-06-08"), want: false},
		{name: "before", other: mustStay(t, "2025-05-28", "2025-06-01"), want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := base.Overlaps(tc.other); got != tc.want {
				t.Fatalf("overlap=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewCurrency(t *testing.T) {
	t.Parallel()
	currency, err := NewCurrency("usd")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if currency.String() != "USD" {
		t.Fatalf("expected USD, got %q", currency.String())
	}
	if _, err := NewCurrency("US"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
	if _, err := NewCurrency("U5D"); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("expected ErrInvalidCurrency, got %v", err)
	}
}

func TestParseBookingStatus(t *testing.T) {
	t.Parallel()
	status, err := ParseBookingStatus("confirmed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Blocks() {
		t.Fatalf("expected confirmed to block dates")
	}
	if _, err := ParseBookingStatus("archived"); !errors.Is(err, ErrInvalidBookingStatus) {
		t.Fatalf("expected ErrInvalidBookingStatus, got %v", err)
	}
	if BookingStatusCancelled.Blocks() {
		t.Fatalf("cancelled bookings must not block dates")
	}
}
