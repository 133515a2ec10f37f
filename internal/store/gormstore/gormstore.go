package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

const (
	constraintAvailabilityPrimary = "availability_days_pkey"
	constraintPaymentReference    = "uniq_payments_reference"
	emptyPayloadJSON              = "{}"
	pgUniqueViolationCode         = "23505"
	sqliteConstraintCode          = 19
	errorOperationStore           = "store"
	errorSubjectBooking           = "booking"
	errorSubjectAvailability      = "availability"
	errorSubjectPayment           = "payment"
	errorSubjectTransactionLog    = "transaction_log"
	errorCodeClaim                = "claim"
	errorCodeCreate               = "create"
	errorCodeDuplicate            = "duplicate"
	errorCodeGet                  = "get"
	errorCodeInsert               = "insert"
	errorCodeInvalid              = "invalid"
	errorCodeList                 = "list"
	errorCodeRelease              = "release"
	errorCodeUpdateStatus         = "update_status"
)

// Store is the shared GORM core behind the booking and payment persistence
// contracts. Bookings and Payments expose the same tables under the two
// transaction shapes the services expect.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (store *Store) Migrate(ctx context.Context) error {
	return store.db.WithContext(ctx).AutoMigrate(
		&BookingRow{},
		&AvailabilityEntry{},
		&PaymentRow{},
		&TransactionLogRow{},
	)
}

// Bookings returns the booking-facing view of the store.
func (store *Store) Bookings() BookingStore {
	return BookingStore{Store: store}
}

// Payments returns the payment-facing view of the store.
func (store *Store) Payments() PaymentStore {
	return PaymentStore{Store: store}
}

// BookingStore implements booking.Store.
type BookingStore struct {
	*Store
}

// WithTx executes fn within a transaction.
func (store BookingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, BookingStore{Store: &Store{db: transaction}})
	})
}

// PaymentStore implements payment.Store.
type PaymentStore struct {
	*Store
}

// WithTx executes fn within a transaction.
func (store PaymentStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore payment.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, PaymentStore{Store: &Store{db: transaction}})
	})
}

func (store *Store) InsertBooking(ctx context.Context, input booking.Booking) error {
	row := BookingRow{
		BookingID:       input.ID.String(),
		PropertyID:      input.PropertyID.String(),
		CustomerID:      input.CustomerID.String(),
		CheckIn:         input.Stay.CheckIn().String(),
		CheckOut:        input.Stay.CheckOut().String(),
		Status:          input.Status.String(),
		AmountCents:     input.AmountCents.Int64(),
		Currency:        input.Currency.String(),
		PaymentProvider: input.PaymentProvider,
		CreatedAt:       time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	var row BookingRow
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrBookingNotFound)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	mapped, err := mapBookingRow(row)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) CountOverlapping(ctx context.Context, propertyID booking.PropertyID, stay booking.StayRange) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&BookingRow{}).
		Where("property_id = ?", propertyID.String()).
		Where("status in ?", []string{booking.BookingStatusPending.String(), booking.BookingStatusConfirmed.String()}).
		Where("check_in < ? AND ? < check_out", stay.CheckOut().String(), stay.CheckIn().String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return count, nil
}

// ClaimDates marks every day of the stay unavailable. A day already held by
// a live booking surfaces as ErrBookingOverlap: either the conditional
// update matches no row and the insert trips the (property_id, day) primary
// key, or the row simply is not available.
func (store *Store) ClaimDates(ctx context.Context, propertyID booking.PropertyID, bookingID booking.BookingID, days []booking.Day) error {
	for _, day := range days {
		result := store.db.WithContext(ctx).
			Model(&AvailabilityEntry{}).
			Where("property_id = ? AND day = ? AND is_available = ?", propertyID.String(), day.String(), true).
			Updates(map[string]interface{}{"is_available": false, "booking_id": bookingID.String()})
		if result.Error != nil {
			return wrapStoreError(errorSubjectAvailability, errorCodeClaim, result.Error)
		}
		if result.RowsAffected > 0 {
			continue
		}
		entry := AvailabilityEntry{
			PropertyID:  propertyID.String(),
			Day:         day.String(),
			IsAvailable: false,
			BookingID:   bookingID.String(),
		}
		err := store.db.WithContext(ctx).Create(&entry).Error
		if isAvailabilityConflict(err) {
			return wrapStoreError(errorSubjectAvailability, errorCodeDuplicate, booking.ErrBookingOverlap)
		}
		if err != nil {
			return wrapStoreError(errorSubjectAvailability, errorCodeClaim, err)
		}
	}
	return nil
}

// ReleaseDates reverts only the rows still owned by the booking, so a day
// rebooked since cannot be freed by a stale cancellation.
func (store *Store) ReleaseDates(ctx context.Context, bookingID booking.BookingID) error {
	err := store.db.WithContext(ctx).
		Model(&AvailabilityEntry{}).
		Where("booking_id = ? AND is_available = ?", bookingID.String(), false).
		Updates(map[string]interface{}{"is_available": true, "booking_id": ""}).Error
	if err != nil {
		return wrapStoreError(errorSubjectAvailability, errorCodeRelease, err)
	}
	return nil
}

func (store *Store) UpdateBookingStatus(ctx context.Context, bookingID booking.BookingID, from, to booking.BookingStatus) error {
	result := store.db.WithContext(ctx).
		Model(&BookingRow{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), from.String()).
		Update("status", to.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingClosed)
	}
	return nil
}

func (store *Store) ListDays(ctx context.Context, propertyID booking.PropertyID, from booking.Day, to booking.Day) ([]booking.AvailabilityDay, error) {
	var rows []AvailabilityEntry
	err := store.db.WithContext(ctx).
		Where("property_id = ? AND day >= ? AND day < ?", propertyID.String(), from.String(), to.String()).
		Order("day ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAvailability, errorCodeList, err)
	}
	entries := make([]booking.AvailabilityDay, 0, len(rows))
	for _, row := range rows {
		day, err := booking.ParseDay(row.Day)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAvailability, errorCodeInvalid, err)
		}
		entries = append(entries, booking.AvailabilityDay{
			Day:       day,
			Available: row.IsAvailable,
			BookingID: row.BookingID,
		})
	}
	return entries, nil
}

func (store *Store) ListElapsed(ctx context.Context, checkedOutBefore booking.Day) ([]booking.BookingID, error) {
	var rows []BookingRow
	err := store.db.WithContext(ctx).
		Where("status = ? AND check_out <= ?", booking.BookingStatusConfirmed.String(), checkedOutBefore.String()).
		Order("check_out ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	elapsed := make([]booking.BookingID, 0, len(rows))
	for _, row := range rows {
		bookingID, err := booking.NewBookingID(row.BookingID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		elapsed = append(elapsed, bookingID)
	}
	return elapsed, nil
}

func (store *Store) CreatePayment(ctx context.Context, input payment.Payment) error {
	row := PaymentRow{
		PaymentID:             input.ID,
		BookingID:             input.BookingID.String(),
		Provider:              input.Provider.String(),
		AmountCents:           input.AmountCents.Int64(),
		Currency:              input.Currency.String(),
		Status:                input.Status.String(),
		Reference:             input.Reference.String(),
		ProviderTransactionID: input.ProviderTransactionID,
		CreatedAt:             time.Unix(input.CreatedUnixUTC, 0).UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isReferenceConflict(err) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, payment.ErrInvalidReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

// CancelPendingPayments closes every pending attempt for the booking so a
// new attempt is the only active one. Settled rows are left untouched.
func (store *Store) CancelPendingPayments(ctx context.Context, bookingID booking.BookingID) error {
	err := store.db.WithContext(ctx).
		Model(&PaymentRow{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), payment.PaymentStatusPending.String()).
		Update("status", payment.PaymentStatusCancelled.String()).Error
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, err)
	}
	return nil
}

func (store *Store) GetPaymentByReference(ctx context.Context, reference payment.Reference) (payment.Payment, error) {
	var row PaymentRow
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference = ?", reference.String()).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, payment.ErrPaymentNotFound)
		}
		return payment.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	mapped, err := mapPaymentRow(row)
	if err != nil {
		return payment.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) MarkPaymentCompleted(ctx context.Context, reference payment.Reference, providerTransactionID string, completedUnixUTC int64) error {
	completedAt := time.Unix(completedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&PaymentRow{}).
		Where("reference = ? AND status = ?", reference.String(), payment.PaymentStatusPending.String()).
		Updates(map[string]interface{}{
			"status":                  payment.PaymentStatusCompleted.String(),
			"provider_transaction_id": providerTransactionID,
			"completed_at":            &completedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, payment.ErrPaymentClosed)
	}
	return nil
}

func (store *Store) MarkPaymentClosed(ctx context.Context, reference payment.Reference, to payment.PaymentStatus, providerTransactionID string) error {
	result := store.db.WithContext(ctx).
		Model(&PaymentRow{}).
		Where("reference = ? AND status = ?", reference.String(), payment.PaymentStatusPending.String()).
		Updates(map[string]interface{}{
			"status":                  to.String(),
			"provider_transaction_id": providerTransactionID,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, payment.ErrPaymentClosed)
	}
	return nil
}

func (store *Store) AppendTransactionLog(ctx context.Context, entry payment.TransactionLogEntry) error {
	row := TransactionLogRow{
		PaymentID:             entry.PaymentID,
		BookingID:             entry.BookingID,
		Reference:             entry.Reference,
		Provider:              entry.Provider.String(),
		ProviderTransactionID: entry.ProviderTransactionID,
		AmountCents:           entry.AmountCents,
		Status:                entry.Status.String(),
		Disposition:           string(entry.Disposition),
		RawPayload:            payloadJSON(entry.RawPayload),
		RecordedAt:            time.Unix(entry.RecordedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectTransactionLog, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) SetBookingProvider(ctx context.Context, bookingID booking.BookingID, provider payment.Provider) error {
	result := store.db.WithContext(ctx).
		Model(&BookingRow{}).
		Where("booking_id = ?", bookingID.String()).
		Update("payment_provider", provider.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) ConfirmBooking(ctx context.Context, bookingID booking.BookingID) error {
	return store.UpdateBookingStatus(ctx, bookingID, booking.BookingStatusPending, booking.BookingStatusConfirmed)
}

func (store *Store) CancelBookingAndRelease(ctx context.Context, bookingID booking.BookingID) error {
	current, err := store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := store.UpdateBookingStatus(ctx, bookingID, current.Status, booking.BookingStatusCancelled); err != nil {
		return err
	}
	return store.ReleaseDates(ctx, bookingID)
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func mapBookingRow(row BookingRow) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(row.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	propertyID, err := booking.NewPropertyID(row.PropertyID)
	if err != nil {
		return booking.Booking{}, err
	}
	customerID, err := booking.NewCustomerID(row.CustomerID)
	if err != nil {
		return booking.Booking{}, err
	}
	checkIn, err := booking.ParseDay(row.CheckIn)
	if err != nil {
		return booking.Booking{}, err
	}
	checkOut, err := booking.ParseDay(row.CheckOut)
	if err != nil {
		return booking.Booking{}, err
	}
	stay, err := booking.NewStayRange(checkIn, checkOut)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	amountCents, err := booking.NewAmountCents(row.AmountCents)
	if err != nil {
		return booking.Booking{}, err
	}
	currency, err := booking.NewCurrency(row.Currency)
	if err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{
		ID:              bookingID,
		PropertyID:      propertyID,
		CustomerID:      customerID,
		Stay:            stay,
		Status:          status,
		AmountCents:     amountCents,
		Currency:        currency,
		PaymentProvider: row.PaymentProvider,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
	}, nil
}

func mapPaymentRow(row PaymentRow) (payment.Payment, error) {
	bookingID, err := booking.NewBookingID(row.BookingID)
	if err != nil {
		return payment.Payment{}, err
	}
	provider, err := payment.ParseProvider(row.Provider)
	if err != nil {
		return payment.Payment{}, err
	}
	amountCents, err := booking.NewAmountCents(row.AmountCents)
	if err != nil {
		return payment.Payment{}, err
	}
	currency, err := booking.NewCurrency(row.Currency)
	if err != nil {
		return payment.Payment{}, err
	}
	status, err := payment.ParsePaymentStatus(row.Status)
	if err != nil {
		return payment.Payment{}, err
	}
	reference, err := payment.NewReference(row.Reference)
	if err != nil {
		return payment.Payment{}, err
	}
	var completedUnixUTC int64
	if row.CompletedAt != nil {
		completedUnixUTC = row.CompletedAt.Unix()
	}
	return payment.Payment{
		ID:                    row.PaymentID,
		BookingID:             bookingID,
		Provider:              provider,
		AmountCents:           amountCents,
		Currency:              currency,
		Status:                status,
		Reference:             reference,
		ProviderTransactionID: row.ProviderTransactionID,
		CreatedUnixUTC:        row.CreatedAt.Unix(),
		CompletedUnixUTC:      completedUnixUTC,
	}, nil
}

// payloadJSON keeps the audit column valid jsonb: the form-encoded providers
// deliver payloads that are not JSON documents, so those are stored as a
// single JSON string.
func payloadJSON(raw []byte) datatypes.JSON {
	if len(raw) == 0 {
		return datatypes.JSON([]byte(emptyPayloadJSON))
	}
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, err := json.Marshal(string(raw))
	if err != nil {
		return datatypes.JSON([]byte(emptyPayloadJSON))
	}
	return datatypes.JSON(quoted)
}

func isAvailabilityConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintAvailabilityPrimary
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isReferenceConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintPaymentReference
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
