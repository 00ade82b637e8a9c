// Package provider translates normalized requests into the wire shapes
// of the supported inference APIs and back. Adding a provider means
// adding a new Adapter variant here; the dispatch and rate limit layers
// stay provider-agnostic.
package provider

import (
	"context"
	"net/http"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// Adapter builds provider-specific wire payloads and authenticated
// HTTP requests from a normalized request.
type Adapter interface {
	// Name returns the provider identifier this adapter serves.
	Name() llm.Provider

	// DefaultEndpoint is the completion endpoint used when the provider
	// configuration does not override it.
	DefaultEndpoint() string

	// WirePayload serializes the request into the provider's request
	// body, attaching structured-output/tool-calling parameters when the
	// request specifies a schema.
	WirePayload(req *llm.Request) ([]byte, error)

	// NewHTTPRequest wraps the payload in an authenticated POST.
	NewHTTPRequest(ctx context.Context, endpoint, apiKey string, payload []byte) (*http.Request, error)
}

// ForProvider returns the adapter variant for p.
func ForProvider(p llm.Provider) (Adapter, error) {
	switch p {
	case llm.ProviderOpenAI:
		return OpenAI{}, nil
	case llm.ProviderAnthropic:
		return Anthropic{}, nil
	default:
		return nil, &llm.ConfigurationError{Reason: "no adapter for provider " + string(p)}
	}
}
