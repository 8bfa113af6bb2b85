package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/user/aicoder/internal/config"
	"github.com/user/aicoder/internal/gateway"
	"github.com/user/aicoder/internal/review"
	"github.com/user/aicoder/internal/runtime"
	"github.com/user/aicoder/internal/runtime/tools"
	"github.com/user/aicoder/internal/state"
	"github.com/user/aicoder/internal/status"
	"github.com/user/aicoder/internal/transcript"
	"github.com/user/aicoder/internal/types"
	"github.com/user/aicoder/pkg/llm"
	"github.com/user/aicoder/pkg/llm/gemini"
	"github.com/user/aicoder/pkg/llm/openai"
)

// app holds the components shared by serve, run and review.
type app struct {
	cfg        *config.Config
	hub        *status.Hub
	statusLog  *state.StatusLog
	runs       *state.RunStore
	artifacts  *state.ArtifactStore
	mirror     *status.RedisMirror
	completion llm.Provider
	runtime    *runtime.Runtime
	gateway    *gateway.Gateway
}

// newApp wires stores, models and the gateway. extra sinks receive every
// status record alongside the hub and the status log.
func newApp(ctx context.Context, cfg *config.Config, extra ...types.StatusSink) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg:       cfg,
		hub:       status.NewHub(0),
		statusLog: state.NewStatusLog(cfg.DataDir),
		artifacts: state.NewArtifactStore(cfg.DataDir),
	}

	runs, err := state.NewRunStore(filepath.Join(cfg.DataDir, "runs.db"),
		state.WithBusyTimeout(5*time.Second), state.WithWAL(true))
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	a.runs = runs

	sinks := []types.StatusSink{a.hub, a.statusLog}
	if cfg.Redis.Addr != "" {
		mirror, err := status.NewRedisMirror(ctx, cfg.Redis.Addr,
			status.WithRedisPassword(cfg.Redis.Password),
			status.WithRedisDB(cfg.Redis.DB),
			status.WithRedisPrefix(cfg.Redis.Prefix),
			status.WithRedisTTL(cfg.Retention()),
		)
		if err != nil {
			// Status streaming still works in-process without the mirror.
			slog.Warn("redis mirror disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			a.mirror = mirror
			sinks = append(sinks, mirror)
		}
	}
	sinks = append(sinks, extra...)

	model := cfg.LLM.Model
	if cfg.Agent.Provider != "openai" {
		model = cfg.Gemini.Model
	}
	counter, err := transcript.NewCounter(model)
	if err != nil {
		slog.Warn("token counter unavailable, estimating", "model", model, "error", err)
	}

	agent, err := agentProvider(ctx, cfg)
	if err != nil {
		slog.Warn("agent model unavailable", "provider", cfg.Agent.Provider, "error", err)
	}

	opts := runtime.DefaultOptions()
	opts.MaxIterations = cfg.Agent.MaxIterations
	opts.WallClock = cfg.Agent.WallClock()
	opts.LLMTimeout = cfg.Agent.LLMTimeout()
	opts.ToolTimeout = cfg.Agent.ToolTimeout()
	opts.Simulated = cfg.Agent.Simulated()
	opts.OpenCommand = cfg.Agent.OpenCommand
	if cfg.Agent.WorkspaceDir != "" {
		opts.WorkspaceDir = cfg.Agent.WorkspaceDir
	}

	registry := runtime.NewRegistry(tools.NewCommand(), tools.NewWeather(), tools.NewReadURL())
	a.runtime = runtime.New(agent, registry, a.artifacts, counter, opts)

	gwOpts := []gateway.Option{
		gateway.WithRunStore(a.runs),
		gateway.WithConcurrency(int64(cfg.MaxConcurrent)),
	}
	if cfg.Completion.APIKey != "" {
		a.completion = openai.New(modelConfig(cfg.Completion, false))
		reviewer := review.New(a.completion, counter, review.Options{
			MaxFileTokens: cfg.Review.MaxFileTokens,
			Concurrency:   cfg.Review.Concurrency,
			Timeout:       time.Duration(cfg.Review.TimeoutSeconds) * time.Second,
		})
		gwOpts = append(gwOpts, gateway.WithReviewer(reviewer), gateway.WithAutoReview(cfg.Agent.AutoReview))
	}
	a.gateway = gateway.New(a.runtime, status.Multi(sinks...), gwOpts...)

	slog.Debug("components ready",
		"agent_provider", cfg.Agent.Provider,
		"mode", cfg.Agent.Mode,
		"tools", len(registry.All()),
		"completion", a.completion != nil,
		"redis", a.mirror != nil,
	)
	return a, nil
}

// agentProvider builds the model that drives the agent loop. The model is
// asked for JSON replies since every turn is a single step object.
func agentProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	var p llm.Provider
	switch cfg.Agent.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		p = openai.New(modelConfig(cfg.LLM, true))
	case "", "gemini":
		c, err := gemini.New(ctx, modelConfig(cfg.Gemini, true))
		if err != nil {
			return nil, err
		}
		p = c
	default:
		return nil, fmt.Errorf("unknown agent provider %q", cfg.Agent.Provider)
	}

	if cfg.Agent.LLMRetries > 0 {
		policy := llm.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.Agent.LLMRetries + 1
		p = llm.WithRetry(p, policy)
	}
	return p, nil
}

func modelConfig(m config.ModelConfig, jsonMode bool) *llm.Config {
	return &llm.Config{
		BaseURL:     m.BaseURL,
		APIKey:      m.APIKey,
		Model:       m.Model,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		JSONMode:    jsonMode,
	}
}

// relay forwards records published by other processes into the local hub.
func (a *app) relay(ctx context.Context) {
	if a.mirror == nil {
		return
	}
	if err := a.mirror.Relay(ctx, a.hub); err != nil {
		slog.Warn("status relay stopped", "error", err)
	}
}

func (a *app) Close() {
	if a.mirror != nil {
		a.mirror.Close()
	}
	if err := a.runs.Close(); err != nil {
		slog.Warn("close run store", "error", err)
	}
}
