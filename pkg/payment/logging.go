package payment

import (
	"context"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

// OperationLogger records domain-level events emitted by payment operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a payment-side operation.
type OperationLog struct {
	Operation   string
	Provider    Provider
	Reference   Reference
	BookingID   booking.BookingID
	Disposition Disposition
	Status      string
	Error       error
}
