package weft

import (
	"encoding/json"

	"github.com/weftlabs/weft/tokenizer"
)

// TokenCounter is the subset of Accountant's behavior the Stream Aggregator
// and Memory Compressor depend on. Test doubles can implement it directly
// instead of driving the real BPE encoder.
type TokenCounter interface {
	CountText(s string) int
	CountMessages(msgs []Message) int
}

// Accountant is the Token Accountant: it counts tokens in text and
// structured messages, and serves per-model context/output limits. It is
// stateless after construction and safe to call concurrently.
type Accountant struct {
	defaults tokenizer.ModelLimits
}

// NewAccountant returns an Accountant using the package's built-in defaults.
func NewAccountant() *Accountant {
	return &Accountant{defaults: tokenizer.DefaultLimits}
}

// NewAccountantWithDefaults returns an Accountant whose fallback limits for
// unknown models are defaults instead of the package built-ins.
func NewAccountantWithDefaults(defaults tokenizer.ModelLimits) *Accountant {
	return &Accountant{defaults: defaults}
}

// CountText counts tokens in s.
func (a *Accountant) CountText(s string) int {
	return tokenizer.CountText(s)
}

// CountMessages serializes msgs to canonical JSON and counts its tokens. If
// serialization fails, sums per-message text token counts plus a structural
// overhead of four tokens per message.
func (a *Accountant) CountMessages(msgs []Message) int {
	data, err := json.Marshal(msgs)
	if err != nil {
		total := 0
		for _, m := range msgs {
			total += a.CountText(m.Content) + 4
		}
		return total
	}
	return a.CountText(string(data))
}

// LimitForModel resolves context/output budgets for name.
func (a *Accountant) LimitForModel(name string) tokenizer.ModelLimits {
	return tokenizer.LimitForModel(name, a.defaults)
}

var _ TokenCounter = (*Accountant)(nil)
