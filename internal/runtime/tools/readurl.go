package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/aicoder/internal/runtime"
)

const maxReadURLChars = 50000

// ReadURL fetches a URL and converts its HTML content to markdown, so the
// model can read documentation while building a project.
type ReadURL struct {
	client *http.Client
}

// NewReadURL creates a new ReadURL tool.
func NewReadURL() *ReadURL {
	return &ReadURL{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (r *ReadURL) Name() string { return "readUrl" }
func (r *ReadURL) Description() string {
	return "Fetch a web page and return its content as markdown; input is the URL"
}

func (r *ReadURL) Execute(ctx context.Context, _ *runtime.RunContext, input string) (string, error) {
	url := strings.TrimSpace(input)
	if strings.HasPrefix(url, "{") {
		var params struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(url), &params); err != nil {
			return "", fmt.Errorf("parse input: %w", err)
		}
		url = params.URL
	}
	if url == "" {
		return "", fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "aicoder/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	md, err := htmltomarkdown.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	if len(md) > maxReadURLChars {
		md = md[:maxReadURLChars] + "\n\n[Content truncated]"
	}

	return md, nil
}
