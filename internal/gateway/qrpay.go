package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

const qrpaySignatureHeader = "X-Qrpay-Signature"

// QrpayConfig carries the API credentials for the qrpay gateway.
type QrpayConfig struct {
	BaseURL       string
	APIToken      string
	WebhookSecret string
	CallbackURL   string
}

// Qrpay is a REST gateway: the outbound charge is an authenticated API call
// with no client-side signature, but inbound webhooks carry an HMAC-SHA256
// of the raw body in a header and are rejected without it.
type Qrpay struct {
	cfg        QrpayConfig
	httpClient *http.Client
}

// NewQrpay validates the configuration and returns the adapter. A nil client
// falls back to the default bounded-timeout client.
func NewQrpay(cfg QrpayConfig, client *http.Client) (*Qrpay, error) {
	if cfg.BaseURL == "" || cfg.APIToken == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: qrpay credentials missing", payment.ErrInvalidServiceConfig)
	}
	if client == nil {
		client = newHTTPClient()
	}
	return &Qrpay{cfg: cfg, httpClient: client}, nil
}

// Provider returns the adapter's provider code.
func (gateway *Qrpay) Provider() payment.Provider {
	return payment.ProviderQrpay
}

type qrpayChargeRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	CallbackURL string `json:"callback_url"`
}

type qrpayChargeResponse struct {
	ChargeID    string `json:"charge_id"`
	RedirectURL string `json:"redirect_url"`
	QRPayload   string `json:"qr_payload"`
}

type qrpayWebhookPayload struct {
	Reference string `json:"reference"`
	ChargeID  string `json:"charge_id"`
	Status    string `json:"status"`
}

// BuildPaymentRequest opens a charge through the provider's REST API.
func (gateway *Qrpay) BuildPaymentRequest(ctx context.Context, stay booking.Booking, pay payment.Payment) (payment.RedirectTarget, error) {
	request := qrpayChargeRequest{
		Reference:   pay.Reference.String(),
		AmountCents: pay.AmountCents.Int64(),
		Currency:    pay.Currency.String(),
		Description: fmt.Sprintf("Stay %s to %s", stay.Stay.CheckIn(), stay.Stay.CheckOut()),
		CallbackURL: gateway.cfg.CallbackURL,
	}
	var response qrpayChargeResponse
	if err := postJSON(ctx, gateway.httpClient, gateway.cfg.BaseURL+"/v1/charges", gateway.cfg.APIToken, request, &response); err != nil {
		return payment.RedirectTarget{}, err
	}
	return payment.RedirectTarget{
		RedirectURL: response.RedirectURL,
		QRPayload:   response.QRPayload,
	}, nil
}

// VerifyWebhook authenticates the body against the signature header before
// anything is parsed into state-changing form.
func (gateway *Qrpay) VerifyWebhook(header http.Header, body []byte) (payment.WebhookEvent, error) {
	receivedSignature := header.Get(qrpaySignatureHeader)
	if receivedSignature == "" {
		return payment.WebhookEvent{}, fmt.Errorf("%w: qrpay signature header missing", payment.ErrSignature)
	}
	receivedMAC, err := hex.DecodeString(receivedSignature)
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: qrpay signature not hex", payment.ErrSignature)
	}
	mac := hmac.New(sha256.New, []byte(gateway.cfg.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(receivedMAC, mac.Sum(nil)) {
		return payment.WebhookEvent{}, fmt.Errorf("%w: qrpay signature mismatch", payment.ErrSignature)
	}

	var parsed qrpayWebhookPayload
	if err := json.Unmarshal(body, &parsed); err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: %v", payment.ErrMalformedWebhook, err)
	}
	reference, err := payment.NewReference(parsed.Reference)
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: qrpay reference missing", payment.ErrMalformedWebhook)
	}
	return payment.WebhookEvent{
		Reference:             reference,
		ProviderTransactionID: parsed.ChargeID,
		ProviderStatus:        parsed.Status,
		Status:                mapQrpayStatus(parsed.Status),
		RawPayload:            body,
	}, nil
}

// mapQrpayStatus folds the provider vocabulary onto the canonical set.
// Unrecognized values fail closed.
func mapQrpayStatus(providerStatus string) payment.PaymentStatus {
	switch providerStatus {
	case "paid":
		return payment.PaymentStatusCompleted
	case "failed":
		return payment.PaymentStatusFailed
	case "expired":
		return payment.PaymentStatusCancelled
	case "pending":
		return payment.PaymentStatusPending
	default:
		return payment.PaymentStatusFailed
	}
}
