// Package tokenizer provides token counting for injected memory blocks so the
// loader can respect a model-facing token ceiling in addition to its
// character budget.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

const encoding = "cl100k_base"

// Tokenizer counts tokens using the cl100k_base BPE. A nil Tokenizer is
// usable and falls back to a rune-based estimate, so construction failure
// degrades token accounting instead of disabling injection.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: init %s: %w", encoding, err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the token count of text, or an estimate of one token per
// four characters when no encoder is available.
func (t *Tokenizer) Count(text string) int {
	if t == nil || t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}
