// Package weft is the orchestration core for a streaming LLM agent runtime:
// counting tokens against per-model budgets, folding a provider's partial
// responses into one final message, compacting conversation history before
// it overflows a context window, and recording a durable trace of each
// turn.
//
// # Quick Start
//
// Wire a Provider and a ConversationStore through the core components:
//
//	store := weft.NewMemoryStore()
//	accountant := weft.NewAccountant()
//	compressor := weft.NewCompressor(weft.CompressorConfig{
//		Accountant: accountant,
//		Summarize:  weft.NewModelSummarizer(provider, accountant),
//	})
//	aggregator := weft.NewAggregator(weft.AggregateOptions{Accountant: accountant})
//
//	history, _ := store.Get(ctx, cid)
//	items, err := provider.Stream(ctx, append(history, weft.NewUserMessage(input)))
//	merged, _, err := aggregator.Aggregate(ctx, planID, items)
//	store.Append(ctx, cid, weft.NewUserMessage(input), merged.Message)
//	compressor.MaybeCompact(ctx, store, cid, accountant.LimitForModel(merged.Model).ContextLimit)
//
// # Core Interfaces
//
// The root package defines the contracts every component is built against:
//
//   - [Provider] — a streaming LLM backend
//   - [ConversationStore] — per-conversation message history
//   - [EventBus] — publication of plan-level exceptions
//   - [Tracer] and [Span] — structured observability spans
//   - [TokenCounter] — token counting, implemented by [Accountant]
//   - [Summarizer] — model-driven summarization, implemented by [NewModelSummarizer]
//
// # Core Components
//
//   - [Accountant] — the Token Accountant: counts tokens and resolves
//     per-model context/output limits (see the tokenizer subpackage).
//   - [Aggregator] — the Stream Aggregator: folds a Provider's partial
//     response stream into one [MergedResponse], with periodic progress
//     events and cancellation handling.
//   - [Compressor] — the Memory Compressor: groups history into dialog
//     rounds, summarizes the oldest ones once a threshold is crossed, and
//     rebuilds the store without ever leaving it partially written.
//   - [TraceRecorder] — the Trace Recorder: captures one request/response
//     pair and its token counts per turn.
//
// Configuration is loaded by the config subpackage; an OpenTelemetry-backed
// [Tracer] implementation lives in the observability subpackage.
package weft
