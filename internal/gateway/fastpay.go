package gateway

import (
	"context"
	"crypto/md5"
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
	fastpayFieldSignature   = "signature"
	fastpayFieldReference   = "m_payment_id"
	fastpayFieldTransaction = "fp_payment_id"
	fastpayFieldStatus      = "payment_status"
	fastpayFieldPassphrase  = "passphrase"
)

// FastpayConfig carries the merchant credentials for the fastpay gateway.
type FastpayConfig struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	ProcessURL  string
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

// Fastpay is the form-redirect, MD5-signed gateway. The signature base is
// the lexicographically sorted, URL-encoded field set with the shared
// passphrase appended.
type Fastpay struct {
	cfg FastpayConfig
}

// NewFastpay validates the configuration and returns the adapter.
func NewFastpay(cfg FastpayConfig) (*Fastpay, error) {
	if cfg.MerchantID == "" || cfg.MerchantKey == "" || cfg.Passphrase == "" {
		return nil, fmt.Errorf("%w: fastpay merchant credentials missing", payment.ErrInvalidServiceConfig)
	}
	if cfg.ProcessURL == "" {
		return nil, fmt.Errorf("%w: fastpay process url missing", payment.ErrInvalidServiceConfig)
	}
	return &Fastpay{cfg: cfg}, nil
}

// Provider returns the adapter's provider code.
func (gateway *Fastpay) Provider() payment.Provider {
	return payment.ProviderFastpay
}

// BuildPaymentRequest renders the signed hosted-page redirect URL.
func (gateway *Fastpay) BuildPaymentRequest(_ context.Context, stay booking.Booking, pay payment.Payment) (payment.RedirectTarget, error) {
	fields := url.Values{}
	fields.Set("merchant_id", gateway.cfg.MerchantID)
	fields.Set("merchant_key", gateway.cfg.MerchantKey)
	fields.Set("return_url", gateway.cfg.ReturnURL)
	fields.Set("cancel_url", gateway.cfg.CancelURL)
	fields.Set("notify_url", gateway.cfg.NotifyURL)
	fields.Set(fastpayFieldReference, pay.Reference.String())
	fields.Set("amount", formatAmountCents(pay.AmountCents.Int64()))
	fields.Set("item_name", fmt.Sprintf("Stay %s to %s", stay.Stay.CheckIn(), stay.Stay.CheckOut()))
	fields.Set("custom_str1", stay.ID.String())

	fields.Set(fastpayFieldSignature, gateway.signature(fields))
	return payment.RedirectTarget{
		RedirectURL: gateway.cfg.ProcessURL + "?" + fields.Encode(),
	}, nil
}

// VerifyWebhook recomputes the MD5 digest over the received form fields,
// signature field excluded, and compares byte-for-byte.
func (gateway *Fastpay) VerifyWebhook(_ http.Header, body []byte) (payment.WebhookEvent, error) {
	received, err := url.ParseQuery(string(body))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: %v", payment.ErrMalformedWebhook, err)
	}
	receivedSignature := received.Get(fastpayFieldSignature)
	if receivedSignature == "" {
		return payment.WebhookEvent{}, fmt.Errorf("%w: fastpay signature missing", payment.ErrSignature)
	}
	received.Del(fastpayFieldSignature)
	expectedSignature := gateway.signature(received)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(receivedSignature)), []byte(expectedSignature)) != 1 {
		return payment.WebhookEvent{}, fmt.Errorf("%w: fastpay digest mismatch", payment.ErrSignature)
	}

	reference, err := payment.NewReference(received.Get(fastpayFieldReference))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: fastpay reference missing", payment.ErrMalformedWebhook)
	}
	return payment.WebhookEvent{
		Reference:             reference,
		ProviderTransactionID: received.Get(fastpayFieldTransaction),
		ProviderStatus:        received.Get(fastpayFieldStatus),
		Status:                mapFastpayStatus(received.Get(fastpayFieldStatus)),
		RawPayload:            body,
	}, nil
}

// signature computes the hex MD5 of the sorted, URL-encoded fields with the
// passphrase appended. url.Values.Encode sorts keys lexicographically.
func (gateway *Fastpay) signature(fields url.Values) string {
	base := fields.Encode() + "&" + fastpayFieldPassphrase + "=" + url.QueryEscape(gateway.cfg.Passphrase)
	digest := md5.Sum([]byte(base))
	return hex.EncodeToString(digest[:])
}

// mapFastpayStatus folds the provider vocabulary onto the canonical set.
// Unrecognized values fail closed.
func mapFastpayStatus(providerStatus string) payment.PaymentStatus {
	switch providerStatus {
	case "COMPLETE":
		return payment.PaymentStatusCompleted
	case "FAILED":
		return payment.PaymentStatusFailed
	case "CANCELLED":
		return payment.PaymentStatusCancelled
	case "PENDING":
		return payment.PaymentStatusPending
	default:
		return payment.PaymentStatusFailed
	}
}
