package tools

import (
	"context"
	"errors"
	"sync"

	"github.com/user/aicoder/pkg/llm"
)

type replayProvider struct {
	mu      sync.Mutex
	replies []string
	calls   int
}

func (p *replayProvider) Complete(context.Context, []llm.Message) (*llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.replies) {
		return nil, errors.New("no more replies")
	}
	p.calls++
	return &llm.Response{Content: p.replies[p.calls-1]}, nil
}

func (p *replayProvider) Stream(context.Context, []llm.Message) (<-chan llm.Delta, error) {
	return nil, errors.New("not supported")
}
