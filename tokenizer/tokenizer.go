// Package tokenizer is the low-level byte-pair-encoding engine behind the
// Token Accountant. It is message-agnostic: it counts tokens in raw text
// and leaves message-shaped counting to the weft package so this package
// never needs to import it back.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/text/unicode/norm"
)

const encodingName = "cl100k_base"

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoder() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding(encodingName)
	})
	return enc, encErr
}

// CountText counts tokens in s using a cl100k_base-compatible encoder.
// Blank text returns 0. If the encoder is unavailable, falls back to
// ceil(len(s)/4) on the normalized byte length.
func CountText(s string) int {
	if strings.TrimSpace(s) == "" {
		return 0
	}
	normalized := norm.NFC.String(s)
	e, err := encoder()
	if err != nil {
		return fallbackCount(normalized)
	}
	return len(e.Encode(normalized, nil, nil))
}

func fallbackCount(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
