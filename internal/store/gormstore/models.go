package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BookingRow mirrors the bookings table. Stay boundaries are stored as
// 2006-01-02 literals so range comparisons behave identically on Postgres
// and SQLite.
type BookingRow struct {
	BookingID       string    `gorm:"type:uuid;primaryKey"`
	PropertyID      string    `gorm:"not null;index:idx_bookings_property_status,priority:1"`
	CustomerID      string    `gorm:"not null"`
	CheckIn         string    `gorm:"not null"`
	CheckOut        string    `gorm:"not null"`
	Status          string    `gorm:"not null;index:idx_bookings_property_status,priority:2"`
	AmountCents     int64     `gorm:"not null"`
	Currency        string    `gorm:"not null"`
	PaymentProvider string    `gorm:""`
	CreatedAt       time.Time `gorm:"not null"`
}

func (BookingRow) TableName() string { return "bookings" }

func (row *BookingRow) BeforeCreate(tx *gorm.DB) error {
	if row.BookingID == "" {
		row.BookingID = uuid.NewString()
	}
	return nil
}

// AvailabilityEntry mirrors the availability_days ledger. The composite
// primary key (property_id, day) is the backstop against double-booking:
// two transactions claiming the same day cannot both insert.
type AvailabilityEntry struct {
	PropertyID  string `gorm:"primaryKey"`
	Day         string `gorm:"primaryKey"`
	IsAvailable bool   `gorm:"not null"`
	BookingID   string `gorm:"not null;index:idx_availability_booking"`
}

func (AvailabilityEntry) TableName() string { return "availability_days" }

// PaymentRow mirrors the payments table. The unique reference index makes
// retried payment inserts fail loudly instead of producing two rows for one
// gateway conversation.
type PaymentRow struct {
	PaymentID             string     `gorm:"type:uuid;primaryKey"`
	BookingID             string     `gorm:"type:uuid;not null;index:idx_payments_booking"`
	Provider              string     `gorm:"not null"`
	AmountCents           int64      `gorm:"not null"`
	Currency              string     `gorm:"not null"`
	Status                string     `gorm:"not null"`
	Reference             string     `gorm:"not null;uniqueIndex:uniq_payments_reference"`
	ProviderTransactionID string     `gorm:""`
	CreatedAt             time.Time  `gorm:"not null"`
	CompletedAt           *time.Time `gorm:""`
}

func (PaymentRow) TableName() string { return "payments" }

func (row *PaymentRow) BeforeCreate(tx *gorm.DB) error {
	if row.PaymentID == "" {
		row.PaymentID = uuid.NewString()
	}
	return nil
}

// TransactionLogRow mirrors the append-only transaction_log audit table.
type TransactionLogRow struct {
	LogID                 string         `gorm:"type:uuid;primaryKey"`
	PaymentID             string         `gorm:"not null;index:idx_transaction_log_payment"`
	BookingID             string         `gorm:"not null"`
	Reference             string         `gorm:"not null;index:idx_transaction_log_reference"`
	Provider              string         `gorm:"not null"`
	ProviderTransactionID string         `gorm:""`
	AmountCents           int64          `gorm:"not null"`
	Status                string         `gorm:"not null"`
	Disposition           string         `gorm:"not null"`
	RawPayload            datatypes.JSON `gorm:"type:jsonb;not null"`
	RecordedAt            time.Time      `gorm:"not null"`
}

func (TransactionLogRow) TableName() string { return "transaction_log" }

func (row *TransactionLogRow) BeforeCreate(tx *gorm.DB) error {
	if row.LogID == "" {
		row.LogID = uuid.NewString()
	}
	return nil
}
