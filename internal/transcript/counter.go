package transcript

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts tokens with a tiktoken encoding. A nil Counter, or one
// without an encoding, estimates four characters per token.
type Counter struct {
	tokenizer *tiktoken.Tiktoken
}

// NewCounter selects the tokenizer for model, falling back to cl100k_base
// for models tiktoken doesn't know (Gemini, Mistral).
func NewCounter(model string) (*Counter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Counter{tokenizer: enc}, nil
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	if c == nil || c.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(c.tokenizer.Encode(text, nil, nil))
}

// Truncate cuts text to at most maxTokens tokens. It reports whether text
// was shortened.
func (c *Counter) Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || c.Count(text) <= maxTokens {
		return text, false
	}
	if c == nil || c.tokenizer == nil {
		cut := maxTokens * 4
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		return text[:cut], true
	}
	tokens := c.tokenizer.Encode(text, nil, nil)
	return c.tokenizer.Decode(tokens[:maxTokens]), true
}
