package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
	"github.com/MarkoPoloResearchLab/staybook/pkg/payment"
)

const instapayReferenceClaim = "ref"

// InstapayConfig carries the API credentials for the instapay gateway.
type InstapayConfig struct {
	BaseURL       string
	APIToken      string
	WebhookSecret string
	CallbackURL   string
}

// Instapay is a REST gateway whose webhooks arrive with an HS256 bearer JWT
// signed with the shared webhook secret. The token's reference claim must
// match the body, so a valid token cannot be replayed against another
// payment.
type Instapay struct {
	cfg        InstapayConfig
	httpClient *http.Client
}

// NewInstapay validates the configuration and returns the adapter. A nil
// client falls back to the default bounded-timeout client.
func NewInstapay(cfg InstapayConfig, client *http.Client) (*Instapay, error) {
	if cfg.BaseURL == "" || cfg.APIToken == "" || cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: instapay credentials missing", payment.ErrInvalidServiceConfig)
	}
	if client == nil {
		client = newHTTPClient()
	}
	return &Instapay{cfg: cfg, httpClient: client}, nil
}

// Provider returns the adapter's provider code.
func (gateway *Instapay) Provider() payment.Provider {
	return payment.ProviderInstapay
}

type instapayPaymentRequest struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	CustomerID  string `json:"customer_id"`
	CallbackURL string `json:"callback_url"`
}

type instapayPaymentResponse struct {
	PaymentID   string `json:"payment_id"`
	RedirectURL string `json:"redirect_url"`
	QRPayload   string `json:"qr_payload"`
}

type instapayWebhookPayload struct {
	Reference     string `json:"reference"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// BuildPaymentRequest opens a payment through the provider's REST API.
func (gateway *Instapay) BuildPaymentRequest(ctx context.Context, stay booking.Booking, pay payment.Payment) (payment.RedirectTarget, error) {
	request := instapayPaymentRequest{
		Reference:   pay.Reference.String(),
		AmountCents: pay.AmountCents.Int64(),
		Currency:    pay.Currency.String(),
		CustomerID:  stay.CustomerID.String(),
		CallbackURL: gateway.cfg.CallbackURL,
	}
	var response instapayPaymentResponse
	if err := postJSON(ctx, gateway.httpClient, gateway.cfg.BaseURL+"/v1/payments", gateway.cfg.APIToken, request, &response); err != nil {
		return payment.RedirectTarget{}, err
	}
	return payment.RedirectTarget{
		RedirectURL: response.RedirectURL,
		QRPayload:   response.QRPayload,
	}, nil
}

// VerifyWebhook validates the bearer JWT and binds it to the body's
// reference before the payload is trusted.
func (gateway *Instapay) VerifyWebhook(header http.Header, body []byte) (payment.WebhookEvent, error) {
	authorization := header.Get(headerAuthorization)
	if !strings.HasPrefix(authorization, bearerPrefix) {
		return payment.WebhookEvent{}, fmt.Errorf("%w: instapay bearer token missing", payment.ErrSignature)
	}
	rawToken := strings.TrimPrefix(authorization, bearerPrefix)
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		return []byte(gateway.cfg.WebhookSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: instapay token invalid", payment.ErrSignature)
	}

	var parsed instapayWebhookPayload
	if err := json.Unmarshal(body, &parsed); err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: %v", payment.ErrMalformedWebhook, err)
	}
	tokenReference, _ := claims[instapayReferenceClaim].(string)
	if tokenReference == "" || tokenReference != parsed.Reference {
		return payment.WebhookEvent{}, fmt.Errorf("%w: instapay token not bound to payload", payment.ErrSignature)
	}
	reference, err := payment.NewReference(parsed.Reference)
	if err != nil {
		return payment.WebhookEvent{}, fmt.Errorf("%w: instapay reference missing", payment.ErrMalformedWebhook)
	}
	return payment.WebhookEvent{
		Reference:             reference,
		ProviderTransactionID: parsed.TransactionID,
		ProviderStatus:        parsed.Status,
		Status:                mapInstapayStatus(parsed.Status),
		RawPayload:            body,
	}, nil
}

// mapInstapayStatus folds the provider vocabulary onto the canonical set.
// Unrecognized values fail closed.
func mapInstapayStatus(providerStatus string) payment.PaymentStatus {
	switch providerStatus {
	case "SUCCESS":
		return payment.PaymentStatusCompleted
	case "FAILURE":
		return payment.PaymentStatusFailed
	case "EXPIRED":
		return payment.PaymentStatusCancelled
	case "CREATED":
		return payment.PaymentStatusPending
	default:
		return payment.PaymentStatusFailed
	}
}
