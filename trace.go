package weft

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// TraceRecord is the per-turn data a TraceRecorder accumulates: a fresh
// unique id, input/output token counts, serialized request/response blobs,
// and an optional error descriptor.
type TraceRecord struct {
	ID           string
	InputTokens  int
	OutputTokens int
	RequestBlob  string
	ResponseBlob string
	Error        error
	StartedAt    time.Time
	FinishedAt   time.Time
}

// TraceRecorder is the Trace Recorder: a per-turn lifecycle object that
// records serialized request, response, token counts, and errors to a
// dedicated log sink, separate from the streaming-progress log. It is
// created at turn start and finalized at stream completion or error; it
// never references the Aggregator (one-way dependency, recorder passed in).
type TraceRecorder struct {
	mu     sync.Mutex
	record TraceRecord
	logger *slog.Logger
}

// NewTraceRecorder starts a new TraceRecord with a fresh id. A nil logger
// falls back to a discarding one so the recorder is always safe to call.
func NewTraceRecorder(logger *slog.Logger) *TraceRecorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &TraceRecorder{
		record: TraceRecord{ID: NewID(), StartedAt: time.Now()},
		logger: logger,
	}
}

// ID returns the trace's unique identifier.
func (t *TraceRecorder) ID() string {
	return t.record.ID
}

// RecordRequest serializes req and stores it on the record. Serialization
// failures are logged and swallowed; they never escape to the caller.
func (t *TraceRecorder) RecordRequest(req any) {
	blob, err := json.Marshal(req)
	if err != nil {
		t.logger.Warn("trace: serialize request failed", "trace_id", t.record.ID, "error", err)
		return
	}
	t.mu.Lock()
	t.record.RequestBlob = string(blob)
	t.mu.Unlock()
}

// RecordResponse serializes resp and stores it on the record. Serialization
// failures are logged and swallowed.
func (t *TraceRecorder) RecordResponse(resp any) {
	blob, err := json.Marshal(resp)
	if err != nil {
		t.logger.Warn("trace: serialize response failed", "trace_id", t.record.ID, "error", err)
		return
	}
	t.mu.Lock()
	t.record.ResponseBlob = string(blob)
	t.mu.Unlock()
}

// RecordError stores err on the record and logs it, distinguishing HTTP
// response errors (status, body, URL) from generic errors.
func (t *TraceRecorder) RecordError(err error) {
	t.mu.Lock()
	t.record.Error = err
	t.record.FinishedAt = time.Now()
	t.mu.Unlock()

	var httpErr *HTTPResponseError
	if errors.As(err, &httpErr) {
		t.logger.Error("llm request failed",
			"trace_id", t.record.ID,
			"status", httpErr.Status,
			"url", httpErr.URL,
			"body", httpErr.Body,
		)
		return
	}
	t.logger.Error("llm request failed", "trace_id", t.record.ID, "error", err)
}

// SetInputTokenCount records the input token count, set by the caller
// before aggregation begins.
func (t *TraceRecorder) SetInputTokenCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record.InputTokens = n
}

// InputTokenCount returns the previously set input token count.
func (t *TraceRecorder) InputTokenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.InputTokens
}

// SetOutputTokenCount records the output token count, computed from the
// merged response text.
func (t *TraceRecorder) SetOutputTokenCount(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record.OutputTokens = n
}

// OutputTokenCount returns the previously set output token count.
func (t *TraceRecorder) OutputTokenCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record.OutputTokens
}

// Finish marks the record complete and writes its summary line to the
// dedicated log sink.
func (t *TraceRecorder) Finish() {
	t.mu.Lock()
	t.record.FinishedAt = time.Now()
	rec := t.record
	t.mu.Unlock()

	t.logger.Info("llm request complete",
		"trace_id", rec.ID,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"duration_ms", rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
	)
}

// Record returns a copy of the accumulated TraceRecord.
func (t *TraceRecorder) Record() TraceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.record
}
