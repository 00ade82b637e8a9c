package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// OpenAI adapts requests to the OpenAI-style chat completions API:
// a flat ordered message list with system|user|assistant roles.
type OpenAI struct{}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIToolRef struct {
	Name string `json:"name"`
}

type openAIToolChoice struct {
	Type     string        `json:"type"`
	Function openAIToolRef `json:"function"`
}

type openAIPayload struct {
	Model       string            `json:"model"`
	Messages    []openAIMessage   `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature *float64          `json:"temperature,omitempty"`
	Tools       []openAITool      `json:"tools,omitempty"`
	ToolChoice  *openAIToolChoice `json:"tool_choice,omitempty"`
}

func (OpenAI) Name() llm.Provider { return llm.ProviderOpenAI }

func (OpenAI) DefaultEndpoint() string { return "https://api.openai.com/v1/chat/completions" }

// WirePayload flattens optional system text into a leading system-role
// message and forces a function call when a structured output schema is
// set.
func (OpenAI) WirePayload(req *llm.Request) ([]byte, error) {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openAIMessage{Role: string(llm.RoleSystem), Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	payload := openAIPayload{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if so := req.StructuredOutput; so != nil {
		payload.Tools = []openAITool{{
			Type: "function",
			Function: openAIFunction{
				Name:        so.SchemaName,
				Description: so.Description,
				Parameters:  so.Schema,
			},
		}}
		payload.ToolChoice = &openAIToolChoice{
			Type:     "function",
			Function: openAIToolRef{Name: so.SchemaName},
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal openai payload: %w", err)
	}
	return data, nil
}

func (OpenAI) NewHTTPRequest(ctx context.Context, endpoint, apiKey string, payload []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}
