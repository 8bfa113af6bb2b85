// Package transcript holds the ordered conversation an agent run sends to
// the model on every turn.
package transcript

import (
	"github.com/user/aicoder/pkg/llm"
)

// Transcript is append-only. Element 0 is the system instruction and element 1
// the user prompt; every later element is an assistant turn.
type Transcript struct {
	messages []llm.Message
}

// New starts a transcript with the system instruction and user prompt.
func New(system, prompt string) *Transcript {
	return &Transcript{
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: prompt},
		},
	}
}

// AppendAssistant records one assistant turn.
func (t *Transcript) AppendAssistant(content string) {
	t.messages = append(t.messages, llm.Message{Role: llm.RoleAssistant, Content: content})
}

// Messages returns a copy of the conversation so callers can't rewrite history.
func (t *Transcript) Messages() []llm.Message {
	out := make([]llm.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages, including system and user.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Turns returns the number of assistant messages appended so far.
func (t *Transcript) Turns() int {
	return len(t.messages) - 2
}

// Tokens estimates the size of the whole transcript.
func (t *Transcript) Tokens(c *Counter) int {
	total := 0
	for _, m := range t.messages {
		total += c.Count(m.Content)
	}
	return total
}
