package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

const (
	trustpayFieldHashCheck   = "HashCheck"
	trustpayFieldReference   = "Reference"
	trustpayFieldTransaction = "TransactionID"
	trustpayFieldStatus      = "Status"
)

// The schema orders are part of the provider's wire contract. They are
// hardcoded: deriving the order from payload iteration would reorder fields
// and break verification silently.
var (
	trustpayRequestFieldOrder = []string{"MerchantCode", "Reference", "Amount", "Currency", "CustomerID", "ReturnURL"}
	trustpayWebhookFieldOrder = []string{"MerchantCode", "Reference", "TransactionID", "Amount", "Currency", "Status"}
)

// TrustpayConfig carries the merchant credentials for the trustpay gateway.
type TrustpayConfig struct {
	MerchantCode string
	PrivateKey   string
	ProcessURL   string
	ReturnURL    string
}

// Trustpay is the form-redirect, keyed-hash gateway: field values are
// concatenated in fixed schema order, the private key appended, the whole
// string lower-cased, and HMAC-SHA512 attached as HashCheck.
type Trustpay struct {
	cfg TrustpayConfig
}

// NewTrustpay validates the configuration and returns the adapter.
func NewTrustpay(cfg TrustpayConfig) (*Trustpay, error) {
	if cfg.MerchantCode == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: trustpay merchant credentials missing", payment.ErrInvalidServiceConfig)
	}
	if cfg.ProcessURL == "" {
		return nil, fmt.Errorf("%w: trustpay process url missing", payment.ErrInvalidServiceConfig)
	}
	return &Trustpay{cfg: cfg}, nil
}

// Provider returns the adapter's provider code.
func (gateway *Trustpay) Provider() payment.Provider {
	return payment.ProviderTrustpay
}

// BuildPaymentRequest renders the signed hosted-page redirect URL.
func (gateway *Trustpay) BuildPaymentRequest(_ context.Context, stay booking.Booking, pay payment.Payment) (payment.RedirectTarget, error) {
	fields := map[string]string{
		"MerchantCode": gateway.cfg.MerchantCode,
		"Reference":    pay.Reference.String(),
		"Amount":       formatAmountCents(pay.AmountCents.Int64()),
		"Currency":     pay.Currency.String(),
		"CustomerID":   stay.CustomerID.String(),
		"ReturnURL":    gateway.cfg.ReturnURL,
	}
	hashCheck, err := gateway.hash(fields, trustpayRequestFieldOrder)
	if err != nil {
		return payment.RedirectTarget{}, err
	}

	query := url.Values{}
	for name, value := range fields {
		query.Set(name, value)
	}
	query.Set(trustpayFieldHashCheck, hashCheck)
	return payment.RedirectTarget{
		RedirectURL: gateway.cfg.ProcessURL + "?" + query.Encode(),
	}, nil
}

// VerifyWebhook mirrors the webhook schema order exactly and compares the
// recomputed HashCheck in constant time.
func (gateway *Trustpay) VerifyWebhook(_ http.Header, body []byte) (payment.WebhookEvent, error) {
	received, err := url.ParseQuery(string(body))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: %v", payment.ErrMalformedWebhook, err)
	}
	receivedHash := received.Get(trustpayFieldHashCheck)
	if receivedHash == "" {
		return payment.WebhookEvent{}, fmt.Errorf("%w: trustpay hash missing", payment.ErrSignature)
	}
	fields := make(map[string]string, len(trustpayWebhookFieldOrder))
	for _, name := range trustpayWebhookFieldOrder {
		fields[name] = received.Get(name)
	}
	expectedHash, err := gateway.hash(fields, trustpayWebhookFieldOrder)
	if err != nil {
		return payment.WebhookEvent{}, err
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(receivedHash)), []byte(expectedHash)) != 1 {
		return payment.WebhookEvent{}, fmt.Errorf("%w: trustpay hash mismatch", payment.ErrSignature)
	}

	reference, err := payment.NewReference(received.Get(trustpayFieldReference))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: trustpay reference missing", payment.ErrMalformedWebhook)
	}
	return payment.WebhookEvent{
		Reference:             reference,
		ProviderTransactionID: received.Get(trustpayFieldTransaction),
		ProviderStatus:        received.Get(trustpayFieldStatus),
		Status:                mapTrustpayStatus(received.Get(trustpayFieldStatus)),
		RawPayload:            body,
	}, nil
}

// hash concatenates the values in schema order, appends the private key,
// lower-cases the whole string, and returns the hex HMAC-SHA512.
func (gateway *Trustpay) hash(fields map[string]string, order []string) (string, error) {
	var base strings.Builder
	for _, name := range order {
		value, ok := fields[name]
		if !ok {
			return "", fmt.Errorf("%w: trustpay field %s missing from schema", payment.ErrMalformedWebhook, name)
		}
		base.WriteString(value)
	}
	base.WriteString(gateway.cfg.PrivateKey)
	message := strings.ToLower(base.String())
	mac := hmac.New(sha512.New, []byte(gateway.cfg.PrivateKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// mapTrustpayStatus folds the provider vocabulary onto the canonical set.
// Unrecognized values fail closed.
func mapTrustpayStatus(providerStatus string) payment.PaymentStatus {
	switch providerStatus {
	case "Complete":
		return payment.PaymentStatusCompleted
	case "Declined":
		return payment.PaymentStatusFailed
	case "Cancelled":
		return payment.PaymentStatusCancelled
	case "Pending":
		return payment.PaymentStatusPending
	default:
		return payment.PaymentStatusFailed
	}
}
