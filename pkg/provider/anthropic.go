package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// anthropicVersion is the API version header required by the messages
// endpoint.
const anthropicVersion = "2023-06-01"

// Anthropic adapts requests to the Anthropic-style messages API: a
// single top-level system field plus a user/assistant message list,
// with a distinct tool-invocation shape for structured output.
type Anthropic struct{}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type anthropicPayload struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
	System      string               `json:"system,omitempty"`
	Messages    []anthropicMessage   `json:"messages"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
}

func (Anthropic) Name() llm.Provider { return llm.ProviderAnthropic }

func (Anthropic) DefaultEndpoint() string { return "https://api.anthropic.com/v1/messages" }

// WirePayload separates system text from the conversation: explicit
// system-role messages are folded into the top-level system field, the
// rest keep their order. A structured output schema becomes a forced
// tool choice.
func (Anthropic) WirePayload(req *llm.Request) ([]byte, error) {
	var systemParts []string
	if req.System != "" {
		systemParts = append(systemParts, req.System)
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	payload := anthropicPayload{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		System:      strings.Join(systemParts, "\n\n"),
		Messages:    messages,
	}

	if so := req.StructuredOutput; so != nil {
		payload.Tools = []anthropicTool{{
			Name:        so.SchemaName,
			Description: so.Description,
			InputSchema: so.Schema,
		}}
		payload.ToolChoice = &anthropicToolChoice{Type: "tool", Name: so.SchemaName}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic payload: %w", err)
	}
	return data, nil
}

func (Anthropic) NewHTTPRequest(ctx context.Context, endpoint, apiKey string, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}
