// Package gateway holds one adapter per supported payment provider. Each
// adapter reproduces its provider's exact signing contract, field order and
// casing included, and authenticates inbound webhooks before any state can
// change.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout    = 10 * time.Second
	headerAuthorization   = "Authorization"
	headerContentType     = "Content-Type"
	contentTypeJSON       = "application/json"
	bearerPrefix          = "Bearer "
	maxWebhookPayloadSize = 1 << 20
)

// newHTTPClient returns the bounded-timeout client used for outbound REST
// calls. Gateway unavailability must not hang the booking flow.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// postJSON sends an authenticated JSON request and decodes a JSON response.
func postJSON(ctx context.Context, client *http.Client, endpoint string, bearerToken string, requestBody any, responseBody any) error {
	encoded, err := json.Marshal(requestBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerAuthorization, bearerPrefix+bearerToken)

	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("gateway returned status %d", response.StatusCode)
	}
	limited := io.LimitReader(response.Body, maxWebhookPayloadSize)
	if err := json.NewDecoder(limited).Decode(responseBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// formatAmountCents renders an integer cent amount as the decimal string the
// form-redirect providers expect, e.g. 40000 -> "400.00".
func formatAmountCents(amountCents int64) string {
	return fmt.Sprintf("%d.%02d", amountCents/100, amountCents%100)
}
