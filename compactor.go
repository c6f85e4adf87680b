package weft

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

var (
	errNoSummarizer = errors.New("weft: no summarizer configured")
	errEmptySummary = errors.New("weft: summarizer returned empty text")
)

const (
	// DefaultCompressionThreshold is the fraction of context limit at which
	// proactive compaction fires.
	DefaultCompressionThreshold = 0.7
	// DefaultRetentionRatio is the fraction of accumulated tokens retained
	// after compaction.
	DefaultRetentionRatio = 0.3

	compressionAckText = "Got it. Thanks for the additional context!"

	summaryPrefix = "The conversation history above has been replaced with this summary of an earlier, longer history:\n\n"
)

// stateSnapshotPrompt is the fixed prompt submitted with the to-summarize
// rounds. The model must reply with a <state_snapshot> block carrying all
// four mandatory children.
const stateSnapshotPrompt = `Summarize the conversation history below into a single <state_snapshot> XML block. The block must contain exactly four non-empty children, in this order:

<key_knowledge>Durable facts, decisions, and constraints the assistant must not forget.</key_knowledge>
<previous_actions_summary>A concise account of what has already been done.</previous_actions_summary>
<recent_actions>The most recent actions taken, in order.</recent_actions>
<current_plan>The remaining plan, one item per line, each tagged [DONE], [IN PROGRESS], or [PENDING].</current_plan>

Do not include anything outside the <state_snapshot> block.`

// Summarizer produces summary text for a list of messages, typically by
// driving a Provider through the Stream Aggregator in text-only mode.
type Summarizer func(ctx context.Context, messages []Message) (string, error)

// NewModelSummarizer returns a Summarizer grounded on provider, routed
// through the Stream Aggregator's text-only mode per the Memory
// Compressor's summarization contract.
func NewModelSummarizer(provider Provider, accountant TokenCounter) Summarizer {
	agg := NewAggregator(AggregateOptions{TextOnly: true, Accountant: accountant})
	return func(ctx context.Context, messages []Message) (string, error) {
		req := append([]Message{NewSystemMessage(stateSnapshotPrompt)}, messages...)
		items, err := provider.Stream(ctx, req)
		if err != nil {
			return "", err
		}
		merged, _, err := agg.Aggregate(ctx, "memory-compressor", items)
		if err != nil {
			return "", err
		}
		return merged.Message.Content, nil
	}
}

// CompressorConfig configures a Compressor.
type CompressorConfig struct {
	// Threshold ∈ (0,1], default DefaultCompressionThreshold.
	Threshold float64
	// RetentionRatio ∈ (0,1], default DefaultRetentionRatio.
	RetentionRatio float64
	Accountant     TokenCounter
	Summarize      Summarizer
	Logger         *slog.Logger
	Tracer         Tracer
}

// Compressor is the Memory Compressor: it detects when a conversation
// exceeds a compression threshold, groups messages into dialog rounds,
// summarizes older rounds via the model into a structured snapshot, and
// rebuilds the store. Any failure during grouping, sizing, serialization,
// or summarization is logged and leaves the store untouched; the
// compressor never produces a partially rewritten conversation.
type Compressor struct {
	cfg   CompressorConfig
	locks sync.Map // cid -> *sync.Mutex
}

// NewCompressor returns a Compressor; zero-value Threshold/RetentionRatio
// fall back to the package defaults.
func NewCompressor(cfg CompressorConfig) *Compressor {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = DefaultCompressionThreshold
	}
	if cfg.RetentionRatio <= 0 || cfg.RetentionRatio > 1 {
		cfg.RetentionRatio = DefaultRetentionRatio
	}
	if cfg.Accountant == nil {
		cfg.Accountant = NewAccountant()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Compressor{cfg: cfg}
}

// Lock returns a mutex scoped to cid. Compression is NOT concurrency-safe
// across overlapping callers on the same conversation id; callers MUST
// hold this lock across MaybeCompact/ForceCompact calls for cid.
func (c *Compressor) Lock(cid string) *sync.Mutex {
	m, _ := c.locks.LoadOrStore(cid, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// MaybeCompact runs ForceCompact only if the conversation's token count
// exceeds threshold × contextLimit.
func (c *Compressor) MaybeCompact(ctx context.Context, store ConversationStore, cid string, contextLimit int) error {
	msgs, err := store.Get(ctx, cid)
	if err != nil {
		c.cfg.Logger.Error("compress: load store failed", "cid", cid, "error", err)
		return nil
	}
	total := c.cfg.Accountant.CountMessages(msgs)
	if total <= int(c.cfg.Threshold*float64(contextLimit)) {
		return nil
	}
	return c.forceCompactStore(ctx, store, cid, msgs)
}

// ForceCompact runs the compaction algorithm regardless of size.
func (c *Compressor) ForceCompact(ctx context.Context, store ConversationStore, cid string) error {
	msgs, err := store.Get(ctx, cid)
	if err != nil {
		c.cfg.Logger.Error("compress: load store failed", "cid", cid, "error", err)
		return nil
	}
	return c.forceCompactStore(ctx, store, cid, msgs)
}

func (c *Compressor) forceCompactStore(ctx context.Context, store ConversationStore, cid string, msgs []Message) error {
	var span Span
	if c.cfg.Tracer != nil {
		ctx, span = c.cfg.Tracer.Start(ctx, "weft.compact", StringAttr("cid", cid))
		defer span.End()
	}

	rebuilt, changed, err := c.compact(ctx, msgs)
	if err != nil {
		c.cfg.Logger.Error("compress: summarization failed, store left untouched", "cid", cid, "error", err)
		return nil
	}
	if !changed {
		return nil
	}
	if span != nil {
		span.SetAttr(IntAttr("messages_compressed", len(msgs)-len(rebuilt)))
	}
	if err := store.Clear(ctx, cid); err != nil {
		c.cfg.Logger.Error("compress: clear store failed, aborting rebuild", "cid", cid, "error", err)
		return nil
	}
	if err := store.Append(ctx, cid, rebuilt...); err != nil {
		c.cfg.Logger.Error("compress: rebuild append failed after clear", "cid", cid, "error", err)
		return nil
	}
	return nil
}

// CompactIfCombinedExceeds implements the compactIfCombinedExceeds entry
// point: if tokens(storeMessages ⧺ agentMessages) > contextLimit, it first
// force-compacts the store, then force-compacts agentMessages itself (the
// "forceCompactAgentMemory" path) and returns the compressed form.
// Otherwise agentMessages is returned unchanged. Unlike the store-mutating
// paths, a summarization failure here is raised to the caller.
func (c *Compressor) CompactIfCombinedExceeds(ctx context.Context, store ConversationStore, cid string, agentMessages []Message, contextLimit int) ([]Message, error) {
	storeMsgs, err := store.Get(ctx, cid)
	if err != nil {
		return agentMessages, err
	}
	combined := make([]Message, 0, len(storeMsgs)+len(agentMessages))
	combined = append(combined, storeMsgs...)
	combined = append(combined, agentMessages...)
	if c.cfg.Accountant.CountMessages(combined) <= contextLimit {
		return agentMessages, nil
	}

	if err := c.ForceCompact(ctx, store, cid); err != nil {
		return agentMessages, err
	}

	rebuilt, _, err := c.compact(ctx, agentMessages)
	if err != nil {
		return nil, &SummarizationFailureError{CID: cid, Cause: err}
	}
	return rebuilt, nil
}

// compact is the pure core of the algorithm: group into rounds, select what
// to retain, summarize the rest, and return the rebuilt message list. It
// never touches a store. Returns changed=false when nothing needed to be
// summarized (already below retention, or a single round with no older
// rounds to fold).
func (c *Compressor) compact(ctx context.Context, msgs []Message) (rebuilt []Message, changed bool, err error) {
	rounds := GroupRounds(msgs)
	if len(rounds) == 0 {
		return msgs, false, nil
	}

	kept, toSummarize := c.selectRetention(rounds)
	if len(toSummarize) == 0 {
		return msgs, false, nil
	}

	var toSummarizeMsgs []Message
	for _, r := range toSummarize {
		toSummarizeMsgs = append(toSummarizeMsgs, r.Messages...)
	}

	summaryText, err := c.summarize(ctx, toSummarizeMsgs)
	if err != nil {
		return nil, false, err
	}

	out := make([]Message, 0, 2+TotalMessages(kept))
	out = append(out, NewUserMessage(summaryText).WithMetadata(CompressionSummaryKey, true))
	out = append(out, NewAssistantMessage(compressionAckText))
	out = append(out, Flatten(kept)...)
	return out, true, nil
}

// selectRetention implements the newest-to-oldest greedy retention walk.
// The newest round is always kept; kept rounds are returned in chronological
// (oldest-first) order.
func (c *Compressor) selectRetention(rounds []DialogRound) (kept, toSummarize []DialogRound) {
	sizes := make([]int, len(rounds))
	total := 0
	for i, r := range rounds {
		sizes[i] = c.roundSize(r)
		total += sizes[i]
	}

	target := int(c.cfg.RetentionRatio * float64(total))
	if total <= 0 || target <= 0 {
		return rounds, nil
	}

	keep := make([]bool, len(rounds))
	cum := 0
	for i := len(rounds) - 1; i >= 0; i-- {
		if i == len(rounds)-1 {
			keep[i] = true
			cum += sizes[i]
			continue
		}
		if cum+sizes[i] > target {
			break
		}
		keep[i] = true
		cum += sizes[i]
	}

	for i, r := range rounds {
		if keep[i] {
			kept = append(kept, r)
		} else {
			toSummarize = append(toSummarize, r)
		}
	}
	return kept, toSummarize
}

func (c *Compressor) roundSize(r DialogRound) int {
	data, err := json.Marshal(r.Messages)
	if err != nil {
		return c.cfg.Accountant.CountMessages(r.Messages)
	}
	return c.cfg.Accountant.CountText(string(data))
}

func (c *Compressor) summarize(ctx context.Context, msgs []Message) (string, error) {
	if c.cfg.Summarize == nil {
		return "", errNoSummarizer
	}
	raw, err := c.cfg.Summarize(ctx, msgs)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(raw) == "" {
		return "", errEmptySummary
	}
	return summaryPrefix + raw, nil
}
