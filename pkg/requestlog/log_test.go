package requestlog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/promptwell/llmbatch/pkg/llm"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "requests.jsonl")
}

func successResult(id string, raw, params string) llm.Result {
	return llm.Result{
		RequestID: id,
		Raw:       json.RawMessage(raw),
		Params:    json.RawMessage(params),
		Success:   true,
	}
}

func TestWriter_Append_LineShape(t *testing.T) {
	path := tempLogPath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	req := &llm.Request{
		ID:        "req-1",
		Provider:  llm.ProviderOpenAI,
		Model:     "gpt-4o-mini",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		MaxTokens: 10,
	}
	res := successResult("req-1", `{"id":"cmpl-1"}`, `{"model":"gpt-4o-mini"}`)

	if err := w.Append(req, res); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		t.Fatalf("line is not a two-element array: %v", err)
	}

	var record RequestRecord
	if err := json.Unmarshal(pair[0], &record); err != nil {
		t.Fatalf("first element is not a request record: %v", err)
	}
	if record.RequestID != "req-1" {
		t.Errorf("request_id = %q, want %q", record.RequestID, "req-1")
	}
	if record.Provider != llm.ProviderOpenAI {
		t.Errorf("provider = %q, want %q", record.Provider, llm.ProviderOpenAI)
	}
	if string(record.Params) != `{"model":"gpt-4o-mini"}` {
		t.Errorf("params = %s, want wire payload", record.Params)
	}
	if string(pair[1]) != `{"id":"cmpl-1"}` {
		t.Errorf("response = %s, want raw body", pair[1])
	}
}

func TestWriter_Append_FailurePayload(t *testing.T) {
	path := tempLogPath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	req := &llm.Request{ID: "req-1", Provider: llm.ProviderOpenAI, Model: "m", MaxTokens: 10}
	res := llm.FailedResult(0, "req-1", errors.New("attempts exhausted"))
	res.Raw = json.RawMessage(`{"error":{"message":"overloaded"}}`)

	if err := w.Append(req, res); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0].Success {
		t.Error("Success = true, want false for failure payload")
	}

	var payload struct {
		Error string          `json:"error"`
		Raw   json.RawMessage `json:"raw"`
	}
	if err := json.Unmarshal(records[0].Response, &payload); err != nil {
		t.Fatalf("failure payload is not valid JSON: %v", err)
	}
	if payload.Error != "attempts exhausted" {
		t.Errorf("error = %q, want %q", payload.Error, "attempts exhausted")
	}
	if len(payload.Raw) == 0 {
		t.Error("raw missing from failure payload, want last response body")
	}
}

func TestReadAll_SkipsCorruptLines(t *testing.T) {
	path := tempLogPath(t)
	content := `["not a record"]
garbage line
[{"request_id":"req-1","provider":"openai","model":"m","params":{}},{"id":"cmpl-1"}]

[{"request_id":"req-2","provider":"anthropic","model":"m","params":{}},{"error":"boom"}]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2 (corrupt lines skipped)", len(records))
	}
	if records[0].Request.RequestID != "req-1" || !records[0].Success {
		t.Errorf("records[0] = %+v, want successful req-1", records[0])
	}
	if records[1].Request.RequestID != "req-2" || records[1].Success {
		t.Errorf("records[1] = %+v, want failed req-2", records[1])
	}
}

func TestReconcile_OutOfOrderCompletion(t *testing.T) {
	path := tempLogPath(t)
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter() error = %v", err)
	}

	reqs := []*llm.Request{
		{ID: "req-a", Provider: llm.ProviderOpenAI, Model: "m", MaxTokens: 10},
		{ID: "req-b", Provider: llm.ProviderOpenAI, Model: "m", MaxTokens: 10},
		{ID: "req-c", Provider: llm.ProviderAnthropic, Model: "m", MaxTokens: 10},
	}

	// Completion order b, c, a: lines land out of submission order.
	for _, id := range []string{"req-b", "req-c", "req-a"} {
		req := reqs[0]
		for _, r := range reqs {
			if r.ID == id {
				req = r
			}
		}
		if err := w.Append(req, successResult(id, `{"for":"`+id+`"}`, `{}`)); err != nil {
			t.Fatalf("Append(%s) error = %v", id, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	records, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}

	results := Reconcile(records, reqs)
	if len(results) != len(reqs) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(reqs))
	}
	for i, req := range reqs {
		if results[i].RequestID != req.ID {
			t.Errorf("results[%d].RequestID = %q, want %q", i, results[i].RequestID, req.ID)
		}
		expected := `{"for":"` + req.ID + `"}`
		if string(results[i].Raw) != expected {
			t.Errorf("results[%d].Raw = %s, want %s", i, results[i].Raw, expected)
		}
	}
}

func TestReconcile_MissingRecordFailsInPlace(t *testing.T) {
	records := []Record{
		{
			Request:  RequestRecord{RequestID: "req-a", Provider: llm.ProviderOpenAI, Model: "m"},
			Response: json.RawMessage(`{"id":"cmpl-1"}`),
			Success:  true,
		},
	}
	reqs := []*llm.Request{
		{ID: "req-a", Provider: llm.ProviderOpenAI, Model: "m", MaxTokens: 10},
		{ID: "req-missing", Provider: llm.ProviderOpenAI, Model: "m", MaxTokens: 10},
	}

	results := Reconcile(records, reqs)
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if !results[0].Success {
		t.Error("results[0].Success = false, want true")
	}
	if results[1].Success {
		t.Error("results[1].Success = true, want false for missing record")
	}
	if results[1].Err == nil {
		t.Error("results[1].Err = nil, want error for missing record")
	}
}
