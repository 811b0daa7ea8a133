// Package batch splits remote write and delete operations into provider-sized
// chunks and submits them sequentially, aggregating per-item outcomes.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
)

// MaxSize is the largest number of sub-requests the provider accepts in a
// single batch call.
const MaxSize = 20

// Request is one sub-request inside a batch submission. ClientTransaction
// carries the case number for tracing; whether the provider enforces it is
// unspecified, so it is logged but not relied upon.
type Request struct {
	ID                string            `json:"id"`
	Method            string            `json:"method"`
	URL               string            `json:"url"`
	Body              any               `json:"body,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	ClientTransaction string            `json:"-"`
}

// Result is the provider's answer to one sub-request.
type Result struct {
	RequestID string          `json:"id"`
	Status    int             `json:"status"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Failed reports whether the provider rejected the sub-request.
func (r Result) Failed() bool {
	return r.Status >= 400
}

// ErrorMessage extracts the provider's error message from a failed result body,
// falling back to the raw body when the shape is unexpected.
func (r Result) ErrorMessage() string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(r.Body, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return string(r.Body)
}

// Submitter sends one chunk of at most MaxSize requests to the provider's batch
// endpoint and returns the per-item results.
type Submitter interface {
	SubmitBatch(ctx context.Context, requests []Request) ([]Result, error)
}

// DispatchError reports a chunk whose submission itself failed. Chunks already
// submitted are not rolled back; chunks after the failed one are never sent.
type DispatchError struct {
	Chunk int // zero-based index of the chunk that failed
	Err   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("batch chunk %d failed: %v", e.Chunk, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher submits ordered request sequences through a Submitter.
type Dispatcher struct {
	submitter Submitter
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(submitter Submitter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{submitter: submitter, logger: logger}
}

// Dispatch partitions requests into consecutive chunks of at most MaxSize,
// preserving order, and submits them one at a time. Items the provider rejects
// (status >= 400) are logged and do not stop later chunks. A transport failure
// aborts the remaining chunks and is returned as a *DispatchError alongside the
// results collected so far.
func (d *Dispatcher) Dispatch(ctx context.Context, requests []Request) ([]Result, error) {
	results := make([]Result, 0, len(requests))
	for chunk := 0; chunk*MaxSize < len(requests); chunk++ {
		start := chunk * MaxSize
		end := min(start+MaxSize, len(requests))
		part := requests[start:end]

		d.logger.Debug("Submitting batch chunk.", "chunk", chunk, "size", len(part))
		chunkResults, err := d.submitter.SubmitBatch(ctx, part)
		if err != nil {
			return results, &DispatchError{Chunk: chunk, Err: err}
		}

		for _, res := range chunkResults {
			if res.Failed() {
				tx := transactionFor(part, res.RequestID)
				d.logger.Error("Batch item rejected by provider",
					"requestID", res.RequestID, "status", res.Status,
					"transaction", tx, "message", res.ErrorMessage())
			}
		}
		results = append(results, chunkResults...)
	}
	return results, nil
}

func transactionFor(requests []Request, id string) string {
	for _, req := range requests {
		if req.ID == id {
			return req.ClientTransaction
		}
	}
	return ""
}
