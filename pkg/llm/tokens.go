package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// fallbackEncoding is used for models tiktoken does not know.
const fallbackEncoding = "cl100k_base"

// Tokenizer counts and trims text in model tokens.
type Tokenizer struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the encoding for model. Unknown models use cl100k_base.
func NewTokenizer(model string) (*Tokenizer, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer: %w", err)
		}
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the number of tokens in text.
func (t *Tokenizer) Count(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.enc.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens. It reports whether
// anything was removed.
func (t *Tokenizer) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return text, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tokens := t.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return t.enc.Decode(tokens[:maxTokens]), true
}

// TruncateChars is the fallback when no tokenizer could be loaded. It
// assumes roughly four characters per token.
func TruncateChars(text string, maxTokens int) (string, bool) {
	limit := maxTokens * 4
	if maxTokens <= 0 || len(text) <= limit {
		return text, false
	}
	r := []rune(text)
	if len(r) <= limit {
		return text, false
	}
	return string(r[:limit]), true
}
