package payment

import "errors"

// Domain-level error values returned by the payment orchestrator and the
// reconciliation handler.
var (
	ErrUnsupportedProvider  = errors.New("unsupported payment provider")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentClosed        = errors.New("payment closed")
	ErrSignature            = errors.New("webhook verification failed")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrMalformedWebhook     = errors.New("malformed webhook payload")
	ErrInvalidReference     = errors.New("invalid payment reference")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)
