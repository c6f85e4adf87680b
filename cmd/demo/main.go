// Command demo drives one agent turn end to end: a mock streaming
// Provider, the Token Accountant, the Stream Aggregator, the Memory
// Compressor, and the Trace Recorder, wired together the way a real
// integration would wire them.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/weftlabs/weft"
	"github.com/weftlabs/weft/config"
	"github.com/weftlabs/weft/observability"
)

// mockProvider streams a canned reply one word at a time, standing in for a
// real SSE-backed Provider such as an OpenAI-compatible or Gemini backend.
type mockProvider struct {
	name  string
	reply string
}

func (p *mockProvider) Name() string { return p.name }

func (p *mockProvider) Stream(ctx context.Context, messages []weft.Message) (<-chan weft.StreamItem, error) {
	ch := make(chan weft.StreamItem)
	go func() {
		defer close(ch)
		words := strings.Fields(p.reply)
		for i, w := range words {
			delta := w
			if i < len(words)-1 {
				delta += " "
			}
			item := weft.StreamItem{Partial: weft.PartialResponse{DeltaText: delta, Model: "gpt-4o"}}
			if i == len(words)-1 {
				item.Partial.Usage = &weft.Usage{PromptTokens: 42, CompletionTokens: len(words), TotalTokens: 42 + len(words)}
				item.Partial.ID = weft.NewID()
			}
			select {
			case ch <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func main() {
	// Two dedicated sinks, matching the spec's streamingProgress/llmRequests
	// split: progressLogger carries the Stream Aggregator's periodic
	// telemetry, logger carries everything else including the Trace
	// Recorder's request/response/error lines.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	progressLogger := slog.New(slog.NewTextHandler(os.Stdout, nil)).With("sink", "streaming_progress")

	cfg, warnings, err := config.Load(os.Getenv("WEFT_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	for _, w := range warnings {
		logger.Warn(w.String())
	}

	tracer := observability.NewTracer()
	accountant := weft.NewAccountant()
	store := weft.NewMemoryStore()
	bus := weft.NewInMemoryEventBus()
	provider := &mockProvider{name: "mock", reply: "Sure, here is a concise summary of the plan."}

	compressor := weft.NewCompressor(weft.CompressorConfig{
		Threshold:      cfg.Compression.Threshold,
		RetentionRatio: cfg.Compression.RetentionRatio,
		Accountant:     accountant,
		Summarize:      weft.NewModelSummarizer(provider, accountant),
		Logger:         logger,
		Tracer:         tracer,
	})
	aggregator := weft.NewAggregator(weft.AggregateOptions{
		Accountant:   accountant,
		EventBus:     bus,
		Tracer:       tracer,
		Logger:       progressLogger,
		ProgressFunc: weft.ProgressWireFunc(os.Stdout),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const cid = "demo-conversation"
	trace := weft.NewTraceRecorder(logger)
	defer trace.Finish()

	history, _ := store.Get(ctx, cid)
	userMsg := weft.NewUserMessage("What's the status of the migration?")
	trace.SetInputTokenCount(accountant.CountMessages(append(history, userMsg)))
	trace.RecordRequest(append(history, userMsg))

	items, err := provider.Stream(ctx, append(history, userMsg))
	if err != nil {
		log.Fatalf("stream: %v", err)
	}

	merged, outputTokens, err := aggregator.Aggregate(ctx, "demo-plan", items)
	if err != nil {
		log.Fatalf("aggregate: %v", err)
	}
	trace.SetOutputTokenCount(outputTokens)
	trace.RecordResponse(merged)

	if err := store.Append(ctx, cid, userMsg, merged.Message); err != nil {
		log.Fatalf("append: %v", err)
	}

	limits := accountant.LimitForModel(merged.Model)
	if err := compressor.MaybeCompact(ctx, store, cid, limits.ContextLimit); err != nil {
		log.Fatalf("compact: %v", err)
	}

	logger.Info("turn complete",
		"reply", merged.Message.Content,
		"usage", merged.Usage,
		"events_published", len(bus.Events()),
	)
}
