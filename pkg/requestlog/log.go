// Package requestlog provides an append-only JSONL record of submitted
// requests and received responses, enabling resumability and auditing.
//
// Each line is a two-element JSON array [request_record, response_payload].
// The request record embeds the request ID, so readers reconcile by
// identifier rather than line position: lines are written in completion
// order, which may differ from submission order.
package requestlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/promptwell/llmbatch/pkg/llm"
)

// RequestRecord is the first element of a log line: the exact wire
// parameters plus enough identity to re-key responses.
type RequestRecord struct {
	RequestID string          `json:"request_id"`
	Provider  llm.Provider    `json:"provider"`
	Model     string          `json:"model"`
	Params    json.RawMessage `json:"params"`
}

// failurePayload is written as the response element for failed results.
// Readers detect failure by the presence of the top-level error field.
type failurePayload struct {
	Error string          `json:"error"`
	Raw   json.RawMessage `json:"raw,omitempty"`
}

// Record is one reconciled log line.
type Record struct {
	Request  RequestRecord
	Response json.RawMessage
	Success  bool
}

// Writer appends completed results to a log file. Safe for concurrent
// use; each Append writes exactly one line.
type Writer struct {
	mu   sync.Mutex
	file *os.File
}

// NewWriter opens (creating if needed) the log file for appending.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	return &Writer{file: f}, nil
}

// Append records one finished result. Failed results are logged with a
// synthesized error payload so every submitted request leaves a trace.
func (w *Writer) Append(req *llm.Request, res llm.Result) error {
	record := RequestRecord{
		RequestID: req.ID,
		Provider:  req.Provider,
		Model:     req.Model,
		Params:    res.Params,
	}

	var response json.RawMessage
	if res.Success {
		response = res.Raw
	} else {
		msg := "unknown error"
		if res.Err != nil {
			msg = res.Err.Error()
		}
		data, err := json.Marshal(failurePayload{Error: msg, Raw: res.Raw})
		if err != nil {
			return fmt.Errorf("marshal failure payload: %w", err)
		}
		response = data
	}

	line, err := json.Marshal([2]json.RawMessage{mustRaw(record), response})
	if err != nil {
		return fmt.Errorf("marshal log line: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append log line: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// RequestRecord contains only marshalable fields.
		panic(err)
	}
	return data
}

// ReadAll parses every line of a log file. Unparseable lines are
// skipped rather than failing the whole read; a partial log from a
// crashed run is still usable for resumption.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var pair [2]json.RawMessage
		if err := json.Unmarshal(line, &pair); err != nil {
			continue
		}
		var request RequestRecord
		if err := json.Unmarshal(pair[0], &request); err != nil {
			continue
		}

		records = append(records, Record{
			Request:  request,
			Response: pair[1],
			Success:  !isFailurePayload(pair[1]),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan request log: %w", err)
	}
	return records, nil
}

// isFailurePayload reports whether the response element is a
// synthesized failure record.
func isFailurePayload(response json.RawMessage) bool {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(response, &probe); err != nil {
		return false
	}
	return probe.Error != nil
}

// Reconcile matches log records back to the originally submitted
// request list by request ID and returns results in submission order.
// Requests with no matching record yield a failed Result, so the
// output always mirrors the input length and order.
func Reconcile(records []Record, requests []*llm.Request) []llm.Result {
	byID := make(map[string]Record, len(records))
	for _, rec := range records {
		byID[rec.Request.RequestID] = rec
	}

	results := make([]llm.Result, len(requests))
	for i, req := range requests {
		rec, ok := byID[req.ID]
		if !ok {
			results[i] = llm.FailedResult(i, req.ID, fmt.Errorf("no log record for request %s", req.ID))
			continue
		}
		results[i] = llm.Result{
			Index:     i,
			RequestID: req.ID,
			Raw:       rec.Response,
			Params:    rec.Request.Params,
			Success:   rec.Success,
		}
	}
	return results
}
