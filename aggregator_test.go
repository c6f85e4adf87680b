package weft

import (
	"context"
	"errors"
	"testing"
	"time"
)

func items(ps ...PartialResponse) chan StreamItem {
	ch := make(chan StreamItem, len(ps))
	for _, p := range ps {
		ch <- StreamItem{Partial: p}
	}
	close(ch)
	return ch
}

func TestAggregateTwoPartialMerge(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := items(
		PartialResponse{DeltaText: "Hel"},
		PartialResponse{DeltaText: "lo", ToolCalls: []ToolCall{{ID: "a", Name: "f", Arguments: "{}"}}},
	)

	merged, outTokens, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}
	if merged.Message.Content != "Hello" {
		t.Errorf("merged text = %q, want %q", merged.Message.Content, "Hello")
	}
	if len(merged.Message.ToolCalls) != 1 || merged.Message.ToolCalls[0].ID != "a" {
		t.Errorf("tool calls = %+v", merged.Message.ToolCalls)
	}
	want := NewAccountant().CountText("Hello")
	if outTokens != want {
		t.Errorf("outTokens = %d, want %d", outTokens, want)
	}
}

func TestAggregateToolCallOrderingIsArrivalOrder(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := items(
		PartialResponse{ToolCalls: []ToolCall{{ID: "1", Name: "a"}}},
		PartialResponse{ToolCalls: []ToolCall{{ID: "2", Name: "b"}}},
		PartialResponse{ToolCalls: []ToolCall{{ID: "3", Name: "c"}}},
	)
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, len(merged.Message.ToolCalls))
	for i, tc := range merged.Message.ToolCalls {
		ids[i] = tc.ID
	}
	want := []string{"1", "2", "3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("tool call order = %v, want %v", ids, want)
		}
	}
}

func TestAggregateTextOnlyDropsToolCalls(t *testing.T) {
	agg := NewAggregator(AggregateOptions{TextOnly: true})
	ch := items(PartialResponse{DeltaText: "hi", ToolCalls: []ToolCall{{ID: "a", Name: "f"}}})
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	if len(merged.Message.ToolCalls) != 0 {
		t.Errorf("expected no tool calls in text-only mode, got %+v", merged.Message.ToolCalls)
	}
}

func TestAggregateUsageTakesMaxPositive(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := items(
		PartialResponse{Usage: &Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11}},
		PartialResponse{Usage: &Usage{PromptTokens: 8, CompletionTokens: 5, TotalTokens: 15}},
	)
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	if merged.Usage.PromptTokens != 10 || merged.Usage.CompletionTokens != 5 || merged.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v, want max-positive merge", merged.Usage)
	}
}

func TestAggregateIDAndModelTakeLastNonEmpty(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := items(
		PartialResponse{ID: "resp-1", Model: "gpt-4o"},
		PartialResponse{},
		PartialResponse{ID: "resp-2"},
	)
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	if merged.ID != "resp-2" || merged.Model != "gpt-4o" {
		t.Errorf("ID/Model = %q/%q, want resp-2/gpt-4o", merged.ID, merged.Model)
	}
}

func TestAggregateRateLimitKeepsFirstNonEmpty(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	first := &RateLimitInfo{LimitRequests: 100, RemainingRequests: 99}
	second := &RateLimitInfo{LimitRequests: 100, RemainingRequests: 98}
	ch := items(
		PartialResponse{RateLimit: first},
		PartialResponse{RateLimit: second},
	)
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	if merged.RateLimit != first {
		t.Errorf("expected first rate limit retained")
	}
}

func TestAggregateIgnoresNullMetadataSentinel(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := items(
		PartialResponse{GenerationMetadata: map[string]any{"k": "v"}},
		PartialResponse{GenerationMetadata: NullMetadata},
	)
	merged, _, err := agg.Aggregate(context.Background(), "plan-1", ch)
	if err != nil {
		t.Fatal(err)
	}
	if merged.GenerationMetadata["k"] != "v" {
		t.Errorf("expected merged generation metadata to retain k=v, got %+v", merged.GenerationMetadata)
	}
}

func TestAggregateProducerErrorIsRecordedPublishedAndReraised(t *testing.T) {
	bus := NewInMemoryEventBus()
	trace := NewTraceRecorder(nil)
	agg := NewAggregator(AggregateOptions{EventBus: bus, Trace: trace})

	ch := make(chan StreamItem, 1)
	cause := errors.New("upstream reset")
	ch <- StreamItem{Err: cause}
	close(ch)

	_, _, err := agg.Aggregate(context.Background(), "plan-42", ch)
	if err == nil {
		t.Fatal("expected error to be re-raised")
	}
	var spErr *StreamProducerError
	if !errors.As(err, &spErr) {
		t.Fatalf("expected StreamProducerError, got %T", err)
	}
	if !errors.Is(err, cause) {
		t.Error("expected wrapped cause to be reachable via errors.Is")
	}
	events := bus.Events()
	if len(events) != 1 || events[0].PlanID != "plan-42" {
		t.Errorf("expected one PlanException for plan-42, got %+v", events)
	}
	if trace.Record().Error == nil {
		t.Error("expected trace recorder to have captured the error")
	}
}

func TestAggregateCancellationReturnsEarlyTerminated(t *testing.T) {
	agg := NewAggregator(AggregateOptions{})
	ch := make(chan StreamItem)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		ch <- StreamItem{Partial: PartialResponse{DeltaText: "a"}}
		ch <- StreamItem{Partial: PartialResponse{DeltaText: "b"}}
		ch <- StreamItem{Partial: PartialResponse{DeltaText: "c"}}
		cancel()
	}()

	merged, _, err := agg.Aggregate(ctx, "plan-1", ch)
	if err != nil {
		t.Fatalf("cancellation should not be an error: %v", err)
	}
	if !merged.EarlyTerminated {
		t.Error("expected EarlyTerminated = true")
	}
}

func TestAggregateProgressCadence(t *testing.T) {
	// A deterministic, call-indexed clock: start, then one reading per
	// partial processed. Readings 11s and 22s apart straddle two 10s
	// progress boundaries.
	var events []ProgressEvent
	readings := []time.Time{
		time.Unix(0, 0),
		time.Unix(0, 0),
		time.Unix(11, 0),
		time.Unix(22, 0),
	}
	idx := 0
	now := func() time.Time {
		tm := readings[idx]
		if idx < len(readings)-1 {
			idx++
		}
		return tm
	}

	agg := &Aggregator{opts: AggregateOptions{
		Accountant:   NewAccountant(),
		ProgressFunc: func(ev ProgressEvent) { events = append(events, ev) },
		now:          now,
	}}

	ch := items(
		PartialResponse{DeltaText: "a"},
		PartialResponse{DeltaText: "b"},
		PartialResponse{DeltaText: "c"},
	)
	if _, _, err := agg.Aggregate(context.Background(), "plan-1", ch); err != nil {
		t.Fatal(err)
	}
	if len(events) < 2 {
		t.Fatalf("expected at least 2 progress events across 22s elapsed, got %d", len(events))
	}
}
