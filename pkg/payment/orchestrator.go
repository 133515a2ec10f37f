package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

const defaultGatewayTimeout = 10 * time.Second

// Orchestrator creates payment attempts and delegates outbound request
// construction to the matching gateway adapter.
type Orchestrator struct {
	store          Store
	registry       *Registry
	nowFn          func() int64
	newID          func() string
	gatewayTimeout time.Duration
	logger         OperationLogger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithGatewayTimeout bounds the outbound gateway call.
func WithGatewayTimeout(timeout time.Duration) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		if timeout > 0 {
			orchestrator.gatewayTimeout = timeout
		}
	}
}

// WithOrchestratorLogger wires an operation logger.
func WithOrchestratorLogger(logger OperationLogger) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		orchestrator.logger = logger
	}
}

// WithOrchestratorIDGenerator overrides payment id generation.
func WithOrchestratorIDGenerator(generate func() string) OrchestratorOption {
	return func(orchestrator *Orchestrator) {
		if generate != nil {
			orchestrator.newID = generate
		}
	}
}

// NewOrchestrator wires an Orchestrator.
func NewOrchestrator(store Store, registry *Registry, now func() int64, options ...OrchestratorOption) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: registry dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	orchestrator := &Orchestrator{
		store:          store,
		registry:       registry,
		nowFn:          now,
		newID:          uuid.NewString,
		gatewayTimeout: defaultGatewayTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(orchestrator)
		}
	}
	return orchestrator, nil
}

// InitiatePayment persists a pending payment for the booking and asks the
// provider's adapter for the redirect target. The dates are already claimed
// by the booking: the ordering is claim, persist pending payment, then the
// outbound call, so a gateway failure leaves a retryable pending payment and
// never re-claims dates.
func (orchestrator *Orchestrator) InitiatePayment(ctx context.Context, bookingID booking.BookingID, provider Provider) (InitiatedPayment, error) {
	initiated, operationError := orchestrator.initiate(ctx, bookingID, provider)
	orchestrator.logOperation(ctx, OperationLog{
		Operation: operationInitiate,
		Provider:  provider,
		Reference: initiated.Payment.Reference,
		BookingID: bookingID,
		Error:     operationError,
	})
	if operationError != nil {
		return InitiatedPayment{}, operationError
	}
	return initiated, nil
}

func (orchestrator *Orchestrator) initiate(ctx context.Context, bookingID booking.BookingID, provider Provider) (InitiatedPayment, error) {
	adapter, err := orchestrator.registry.Adapter(provider)
	if err != nil {
		return InitiatedPayment{}, err
	}
	stay, err := orchestrator.store.GetBooking(ctx, bookingID)
	if err != nil {
		return InitiatedPayment{}, err
	}
	if !stay.Status.Blocks() {
		return InitiatedPayment{}, booking.ErrBookingClosed
	}
	reference, err := orchestrator.newReference()
	if err != nil {
		return InitiatedPayment{}, err
	}
	pay := Payment{
		ID:             orchestrator.newID(),
		BookingID:      bookingID,
		Provider:       provider,
		AmountCents:    stay.AmountCents,
		Currency:       stay.Currency,
		Status:         PaymentStatusPending,
		Reference:      reference,
		CreatedUnixUTC: orchestrator.nowFn(),
	}
	err = orchestrator.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		// One active payment per booking: a new attempt supersedes any
		// pending predecessor, whose late webhooks then land as duplicates.
		if err := transactionStore.CancelPendingPayments(ctx, bookingID); err != nil {
			return err
		}
		if err := transactionStore.CreatePayment(ctx, pay); err != nil {
			return err
		}
		return transactionStore.SetBookingProvider(ctx, bookingID, provider)
	})
	if err != nil {
		return InitiatedPayment{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, orchestrator.gatewayTimeout)
	defer cancel()
	redirect, err := adapter.BuildPaymentRequest(callCtx, stay, pay)
	if err != nil {
		// The pending payment stays on record; the guest retries with a
		// fresh attempt or the same one once the gateway recovers.
		return InitiatedPayment{Payment: pay}, fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, provider, err)
	}
	return InitiatedPayment{Payment: pay, Redirect: redirect}, nil
}

// newReference builds an unguessable correlation key: a timestamp for
// operator forensics plus a random UUID for collision resistance. Never
// sequential, since the reference crosses an untrusted boundary.
func (orchestrator *Orchestrator) newReference() (Reference, error) {
	return NewReference(fmt.Sprintf("%s-%d-%s", referencePrefix, orchestrator.nowFn(), orchestrator.newID()))
}

func (orchestrator *Orchestrator) logOperation(ctx context.Context, entry OperationLog) {
	if orchestrator.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	orchestrator.logger.LogOperation(ctx, entry)
}
