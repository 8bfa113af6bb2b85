package runtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Step is one decoded model reply: Think, Action or Output.
type Step interface {
	isStep()
}

type Think struct {
	Content string
}

type Action struct {
	Tool  string
	Input string
}

// Observe carries a tool result back to the model. It is written to the
// transcript but is never a valid model reply.
type Observe struct {
	Tool    string
	Input   string
	Content string
}

type Output struct {
	Content string
}

func (Think) isStep()  {}
func (Action) isStep() {}
func (Output) isStep() {}

var (
	ErrInvalidJSON = errors.New("reply is not a JSON object")
	ErrMissingStep = errors.New("reply has no step field")
	ErrUnknownStep = errors.New("unknown step")
)

// DecodeError describes why a reply could not be decoded into a Step.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode step: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type wireStep struct {
	Step    string          `json:"step"`
	Tool    string          `json:"tool"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

// DecodeStep parses a model reply. Replies wrapped in a Markdown code fence
// are unwrapped first. Input and content may be strings or arbitrary JSON;
// non-string values are kept as their JSON text.
func DecodeStep(raw string) (Step, error) {
	body := unfence(raw)

	var w wireStep
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&w); err != nil {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrInvalidJSON, err)}
	}
	if dec.More() {
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: trailing data", ErrInvalidJSON)}
	}

	input := text(w.Input)
	content := text(w.Content)

	switch strings.ToLower(strings.TrimSpace(w.Step)) {
	case "think":
		return Think{Content: content}, nil
	case "action":
		return Action{Tool: strings.TrimSpace(w.Tool), Input: input}, nil
	case "output":
		return Output{Content: content}, nil
	case "":
		return nil, &DecodeError{Raw: raw, Err: ErrMissingStep}
	default:
		return nil, &DecodeError{Raw: raw, Err: fmt.Errorf("%w %q", ErrUnknownStep, w.Step)}
	}
}

// ParseReply never fails. A reply that is not JSON becomes an Output carrying
// the raw text; valid JSON without a usable step becomes an Output carrying
// its content field, or the raw text when that is empty.
func ParseReply(raw string) (Step, error) {
	step, err := DecodeStep(raw)
	if err == nil {
		return step, nil
	}
	if errors.Is(err, ErrInvalidJSON) {
		return Output{Content: raw}, err
	}

	var w wireStep
	_ = json.Unmarshal([]byte(unfence(raw)), &w)
	if c := text(w.Content); c != "" {
		return Output{Content: c}, err
	}
	return Output{Content: raw}, err
}

// EncodeObserve renders the transcript message recorded after a tool call.
func EncodeObserve(o Observe) string {
	data, _ := json.Marshal(map[string]string{
		"step":    "observe",
		"tool":    o.Tool,
		"input":   o.Input,
		"content": o.Content,
	})
	return string(data)
}

func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func unfence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
