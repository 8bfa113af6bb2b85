package gemini

import (
	"context"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/user/aicoder/pkg/llm"
)

const defaultModel = "gemini-2.0-flash"

// Client implements llm.Provider on top of the Gemini API.
type Client struct {
	client *genai.Client
	config *llm.Config
}

// New creates a Gemini client. BaseURL, when set, overrides the API endpoint.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if config.Model == "" {
		config.Model = defaultModel
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Client{client: gc, config: config}, nil
}

// Complete sends the conversation and returns the concatenated text parts.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	contents, cfg := c.request(messages)

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generation failed: %w", err)
	}
	return parseResponse(resp)
}

// Stream forwards text parts as they arrive.
func (c *Client) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.Delta, error) {
	contents, cfg := c.request(messages)

	ch := make(chan llm.Delta, 16)
	go func() {
		defer close(ch)
		for chunk, err := range c.client.Models.GenerateContentStream(ctx, c.config.Model, contents, cfg) {
			if err != nil {
				select {
				case ch <- llm.Delta{Err: fmt.Errorf("gemini generation failed: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			text := candidateText(chunk)
			if text == "" {
				continue
			}
			select {
			case ch <- llm.Delta{Content: text}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (c *Client) request(messages []llm.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	system, contents := toContents(messages)

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = clampInt32(c.config.MaxTokens)
	}
	if c.config.Temperature != 0 {
		temp := c.config.Temperature
		cfg.Temperature = &temp
	}
	if c.config.TopP != 0 {
		topP := c.config.TopP
		cfg.TopP = &topP
	}
	if c.config.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	return contents, cfg
}

// toContents splits system messages into a single instruction and maps the
// remaining turns onto Gemini roles.
func toContents(messages []llm.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, m.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return strings.Join(system, "\n\n"), contents
}

func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func parseResponse(resp *genai.GenerateContentResponse) (*llm.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReasonMessage != "" {
			return nil, fmt.Errorf("gemini returned no candidates: %s", resp.PromptFeedback.BlockReasonMessage)
		}
		return nil, fmt.Errorf("gemini returned no candidates")
	}

	out := &llm.Response{Content: strings.TrimSpace(candidateText(resp))}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func clampInt32(v int) int32 {
	if v <= 0 {
		return 0
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}
