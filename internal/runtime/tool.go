package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/user/aicoder/internal/transcript"
)

// ErrUnknownTool is returned by Invoke when no tool has the requested name.
var ErrUnknownTool = errors.New("unknown tool")

// Tool defines the interface for an executable tool. Input is the raw text
// the model put in the action's input field.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, rc *RunContext, input string) (string, error)
}

// Registry holds registered tools and provides lookup. It is built once at
// startup and only read afterwards.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool to the registry, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools ordered by name.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Invoke runs the named tool.
func (r *Registry) Invoke(ctx context.Context, rc *RunContext, name, input string) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t.Execute(ctx, rc, input)
}

// Infos lists the tools for the system instruction.
func (r *Registry) Infos() []transcript.ToolInfo {
	all := r.All()
	out := make([]transcript.ToolInfo, 0, len(all))
	for _, t := range all {
		out = append(out, transcript.ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}
