package weft

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// progressInterval is the minimum wall-clock gap between progress events.
const progressInterval = 10 * time.Second

// ProgressEvent is emitted periodically while a stream is being aggregated.
type ProgressEvent struct {
	ElapsedMS           int64
	PartialCount        int
	TextLength          int
	CharsPerSec         float64
	ToolCallCount       int
	ToolCallDescriptors []string
	TailText            string
}

// ProgressFunc receives progress events during aggregation.
type ProgressFunc func(ProgressEvent)

// AggregateOptions configures an Aggregator.
type AggregateOptions struct {
	// TextOnly disables tool-call interpretation; used for summarization
	// calls routed through the Memory Compressor. Semantically identical
	// otherwise; early termination on thinking-only text MUST NOT fire in
	// this mode (it is disabled everywhere, see Aggregator docs).
	TextOnly bool

	ProgressFunc ProgressFunc
	Trace        *TraceRecorder
	EventBus     EventBus
	Tracer       Tracer
	Accountant   TokenCounter

	// Logger is the streamingProgress sink: a dedicated logger distinct
	// from the Trace Recorder's llmRequests sink. Nil falls back to
	// discarding output.
	Logger *slog.Logger

	// now is overridable for deterministic progress-cadence tests.
	now func() time.Time
}

// logger returns opts.Logger, or a discarding logger if unset. Tests that
// build AggregateOptions as a struct literal (bypassing NewAggregator)
// leave Logger nil, so every call site goes through this accessor rather
// than the field directly.
func (o AggregateOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Aggregator is the Stream Aggregator: it folds a lazy finite sequence of
// PartialResponse into one MergedResponse, emitting progress telemetry and
// handling cancellation and producer failure. Early termination on
// thinking-only responses (assistant text with no tool calls) is a
// documented capability but is permanently disabled: see spec Open
// Question; enabling it is not supported by this implementation.
type Aggregator struct {
	opts AggregateOptions
}

// NewAggregator returns an Aggregator configured with opts.
func NewAggregator(opts AggregateOptions) *Aggregator {
	if opts.Accountant == nil {
		opts.Accountant = NewAccountant()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Aggregator{opts: opts}
}

// aggregatorState holds the mutable buffers built up across one Aggregate call. A
// mutex guards it because ProgressFunc callbacks, and any external snapshot
// reader, may observe it concurrently with the consuming goroutine.
type aggregatorState struct {
	mu sync.Mutex

	text      strings.Builder
	toolCalls []ToolCall
	genMeta   map[string]any
	lastGen   any

	usage          Usage
	id             string
	model          string
	promptMetadata any
	rateLimit      *RateLimitInfo
	partialCount   int
}

func (s *aggregatorState) applyPartial(p PartialResponse, textOnly bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.partialCount++
	if p.DeltaText != "" {
		s.text.WriteString(p.DeltaText)
	}
	if len(p.ToolCalls) > 0 && !textOnly {
		s.toolCalls = append(s.toolCalls, p.ToolCalls...)
	}
	if p.GenerationMetadata != nil && p.GenerationMetadata != NullMetadata {
		if mm, ok := p.GenerationMetadata.(map[string]any); ok {
			if s.genMeta == nil {
				s.genMeta = make(map[string]any, len(mm))
			}
			for k, v := range mm {
				s.genMeta[k] = v
			}
		}
		s.lastGen = p.GenerationMetadata
	}
	if p.Usage != nil {
		if p.Usage.PromptTokens > s.usage.PromptTokens {
			s.usage.PromptTokens = p.Usage.PromptTokens
		}
		if p.Usage.CompletionTokens > s.usage.CompletionTokens {
			s.usage.CompletionTokens = p.Usage.CompletionTokens
		}
		if p.Usage.TotalTokens > s.usage.TotalTokens {
			s.usage.TotalTokens = p.Usage.TotalTokens
		}
	}
	if p.ID != "" {
		s.id = p.ID
	}
	if p.Model != "" {
		s.model = p.Model
	}
	if p.PromptMetadata != nil {
		s.promptMetadata = p.PromptMetadata
	}
	if s.rateLimit == nil && p.RateLimit != nil {
		s.rateLimit = p.RateLimit
	}
}

func (s *aggregatorState) snapshotProgress(elapsed time.Duration) ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	textLen := s.text.Len()
	ev := ProgressEvent{
		ElapsedMS:           elapsed.Milliseconds(),
		PartialCount:        s.partialCount,
		TextLength:          textLen,
		ToolCallCount:       len(s.toolCalls),
		ToolCallDescriptors: descriptors(s.toolCalls),
		TailText:            tail(s.text.String(), 100),
	}
	if secs := elapsed.Seconds(); secs > 0 {
		ev.CharsPerSec = float64(textLen) / secs
	}
	return ev
}

func descriptors(calls []ToolCall) []string {
	if len(calls) == 0 {
		return nil
	}
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = fmt.Sprintf("[%s]%s(%s)", c.ID, c.Name, c.Arguments)
	}
	return out
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func (s *aggregatorState) merged(earlyTerminated bool, accountant TokenCounter) (MergedResponse, int) {
	s.mu.Lock()
	mergedText := s.text.String()
	toolCalls := append([]ToolCall(nil), s.toolCalls...)
	genMeta := s.genMeta
	s.mu.Unlock()

	outputTokens := accountant.CountText(mergedText)
	msg := NewAssistantMessage(mergedText, toolCalls...)
	return MergedResponse{
		Message:            msg,
		Usage:              s.usage,
		ID:                 s.id,
		Model:              s.model,
		PromptMetadata:     s.promptMetadata,
		GenerationMetadata: genMeta,
		RateLimit:          s.rateLimit,
		EarlyTerminated:    earlyTerminated,
	}, outputTokens
}

// Aggregate consumes items until the channel closes, the producer reports
// an error, or ctx is cancelled, and returns the resulting MergedResponse
// along with its output token count. planID is forwarded to any published
// PlanException on producer failure.
func (a *Aggregator) Aggregate(ctx context.Context, planID string, items <-chan StreamItem) (MergedResponse, int, error) {
	st := &aggregatorState{}
	start := a.opts.now()
	lastProgress := start

	var span Span
	spanCtx := ctx
	if a.opts.Tracer != nil {
		spanCtx, span = a.opts.Tracer.Start(ctx, "weft.aggregate", StringAttr("plan_id", planID))
		defer span.End()
	}
	_ = spanCtx

	for {
		select {
		case <-ctx.Done():
			merged, outTokens := st.merged(true, a.opts.Accountant)
			if a.opts.Trace != nil {
				a.opts.Trace.SetOutputTokenCount(outTokens)
			}
			a.opts.logger().Info("stream aggregation cancelled", "plan_id", planID, "output_tokens", outTokens)
			return merged, outTokens, nil

		case item, ok := <-items:
			if !ok {
				merged, outTokens := st.merged(false, a.opts.Accountant)
				if a.opts.Trace != nil {
					a.opts.Trace.SetOutputTokenCount(outTokens)
				}
				a.opts.logger().Info("stream aggregation complete", "plan_id", planID, "output_tokens", outTokens)
				return merged, outTokens, nil
			}
			if item.Err != nil {
				streamErr := &StreamProducerError{Cause: item.Err}
				if a.opts.Trace != nil {
					a.opts.Trace.RecordError(streamErr)
				}
				if a.opts.EventBus != nil {
					a.opts.EventBus.Publish(ctx, PlanException{PlanID: planID, Cause: streamErr})
				}
				if span != nil {
					span.Error(streamErr)
				}
				return MergedResponse{}, 0, streamErr
			}

			st.applyPartial(item.Partial, a.opts.TextOnly)

			if a.opts.ProgressFunc != nil {
				now := a.opts.now()
				if now.Sub(lastProgress) >= progressInterval {
					lastProgress = now
					ev := st.snapshotProgress(now.Sub(start))
					a.opts.logger().Debug("stream progress", "plan_id", planID, "elapsed_ms", ev.ElapsedMS, "text_length", ev.TextLength)
					a.opts.ProgressFunc(ev)
				}
			}
		}
	}
}
