package payment

import (
	"context"
	"fmt"
	"net/http"

	"github.com/MarkoPoloResearchLab/staybook/pkg/booking"
)

// GatewayAdapter encapsulates one provider's outbound request construction
// and inbound webhook authentication. Adapters map the provider's native
// status vocabulary to the canonical set; unrecognized values map to failed,
// never to completed.
type GatewayAdapter interface {
	Provider() Provider
	BuildPaymentRequest(ctx context.Context, stay booking.Booking, pay Payment) (RedirectTarget, error)
	VerifyWebhook(header http.Header, body []byte) (WebhookEvent, error)
}

// Registry dispatches provider codes onto adapters.
type Registry struct {
	adapters map[Provider]GatewayAdapter
}

// NewRegistry indexes the supplied adapters by provider code.
func NewRegistry(adapters ...GatewayAdapter) (*Registry, error) {
	indexed := make(map[Provider]GatewayAdapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			return nil, fmt.Errorf("%w: nil adapter", ErrInvalidServiceConfig)
		}
		code := adapter.Provider()
		if _, exists := indexed[code]; exists {
			return nil, fmt.Errorf("%w: duplicate adapter for %s", ErrInvalidServiceConfig, code)
		}
		indexed[code] = adapter
	}
	return &Registry{adapters: indexed}, nil
}

// Adapter resolves a provider code.
func (registry *Registry) Adapter(provider Provider) (GatewayAdapter, error) {
	adapter, ok := registry.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
	return adapter, nil
}
