// Package llm defines the normalized request/result contract shared by
// all providers. The dispatch and batch layers depend only on these
// types, never on a provider-specific wire shape.
package llm

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Provider identifies a remote inference vendor.
type Provider string

const (
	// ProviderOpenAI selects the OpenAI-style chat completions API.
	ProviderOpenAI Provider = "openai"

	// ProviderAnthropic selects the Anthropic-style messages API.
	ProviderAnthropic Provider = "anthropic"
)

// Known returns true if the provider is one of the supported variants.
func (p Provider) Known() bool {
	switch p {
	case ProviderOpenAI, ProviderAnthropic:
		return true
	}
	return false
}

// Role is a message author role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single role/content pair in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// StructuredOutput constrains the completion to a named JSON schema by
// forcing a tool invocation with that schema.
type StructuredOutput struct {
	SchemaName  string          `json:"schema_name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema"`
}

// Request is a normalized text-generation request. It is immutable once
// submitted; the batch layer assigns ID before dispatch.
type Request struct {
	// ID uniquely identifies the request across retries and in the
	// persistence log. Assigned via EnsureID if empty.
	ID string `json:"id,omitempty"`

	Provider Provider  `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	// MaxTokens is the maximum number of output tokens (required, > 0).
	MaxTokens int `json:"max_tokens"`

	// Temperature is optional; nil means provider default.
	Temperature *float64 `json:"temperature,omitempty"`

	// System is optional system text. For Anthropic-style providers it
	// maps to the top-level system field; for OpenAI-style providers it
	// is prepended as a system-role message.
	System string `json:"system,omitempty"`

	// StructuredOutput, when set, forces a tool call matching the schema.
	StructuredOutput *StructuredOutput `json:"structured_output,omitempty"`
}

// EnsureID assigns a fresh UUID if the request has no ID yet and
// returns the ID in use.
func (r *Request) EnsureID() string {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return r.ID
}

// Validate checks the fields that must be set before any dispatch.
// Violations are configuration errors and never reach the network.
func (r *Request) Validate() error {
	if !r.Provider.Known() {
		return &ConfigurationError{Reason: "unknown provider " + string(r.Provider)}
	}
	if r.Model == "" {
		return &ConfigurationError{Reason: "model is required"}
	}
	if len(r.Messages) == 0 && r.System == "" {
		return &ConfigurationError{Reason: "at least one message is required"}
	}
	if r.MaxTokens <= 0 {
		return &ConfigurationError{Reason: "max_tokens must be positive"}
	}
	return nil
}

// Result is the normalized outcome of a single request. Exactly one
// Result exists per submitted request, successful or not.
type Result struct {
	// Index is the position of the originating request in the submitted
	// batch.
	Index int `json:"index"`

	// RequestID echoes the originating request's ID.
	RequestID string `json:"request_id"`

	// Raw is the unmodified provider response body. On a decode failure
	// it carries the unparseable bytes.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Params is the exact wire payload used in the final attempt.
	Params json.RawMessage `json:"params,omitempty"`

	Success bool `json:"success"`

	// Err holds the final error for failed results. Not serialized;
	// inspect Success to detect per-item failure.
	Err error `json:"-"`
}

// FailedResult synthesizes a failed Result for a request that never
// produced a provider response.
func FailedResult(index int, requestID string, err error) Result {
	return Result{
		Index:     index,
		RequestID: requestID,
		Success:   false,
		Err:       err,
	}
}
