package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ModelConfig describes an OpenAI-compatible chat completion endpoint.
type ModelConfig struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// AgentConfig bounds and configures agent runs.
type AgentConfig struct {
	Provider           string `json:"provider"` // gemini | openai
	Mode               string `json:"mode"`     // simulated | real
	MaxIterations      int    `json:"max_iterations"`
	WallClockSeconds   int    `json:"wall_clock_seconds"`
	LLMTimeoutSeconds  int    `json:"llm_timeout_seconds"`
	ToolTimeoutSeconds int    `json:"tool_timeout_seconds"`
	LLMRetries         int    `json:"llm_retries"`
	WorkspaceDir       string `json:"workspace_dir"`
	OpenCommand        string `json:"open_command"`
	AutoReview         bool   `json:"auto_review"`

	// WorkspaceRetentionHours prunes generated projects older than this.
	// Zero keeps them.
	WorkspaceRetentionHours int `json:"workspace_retention_hours"`
}

// Simulated reports whether tools run without touching the host.
func (a AgentConfig) Simulated() bool { return a.Mode != "real" }

func (a AgentConfig) WallClock() time.Duration { return seconds(a.WallClockSeconds) }

func (a AgentConfig) LLMTimeout() time.Duration { return seconds(a.LLMTimeoutSeconds) }

func (a AgentConfig) ToolTimeout() time.Duration { return seconds(a.ToolTimeoutSeconds) }

type Config struct {
	DataDir          string `json:"data_dir"`
	LogLevel         string `json:"log_level"`
	LogFormat        string `json:"log_format"`
	MaxConcurrent    int    `json:"max_concurrent"`
	RetentionMinutes int    `json:"retention_minutes"`

	Agent      AgentConfig `json:"agent"`
	LLM        ModelConfig `json:"llm"`
	Gemini     ModelConfig `json:"gemini"`
	Completion ModelConfig `json:"completion"`

	Review struct {
		MaxFileTokens  int `json:"max_file_tokens"`
		Concurrency    int `json:"concurrency"`
		TimeoutSeconds int `json:"timeout_seconds"`
	} `json:"review"`
	HTTP struct {
		Listen            string  `json:"listen"`
		StreamIdleSeconds int     `json:"stream_idle_seconds"`
		RatePerSecond     float64 `json:"rate_per_second"`
		RateBurst         int     `json:"rate_burst"`
	} `json:"http"`
	Redis struct {
		Addr     string `json:"addr"`
		Password string `json:"password"`
		DB       int    `json:"db"`
		Prefix   string `json:"prefix"`
	} `json:"redis"`
	Telegram struct {
		Token  string `json:"token"`
		ChatID int64  `json:"chat_id"`
	} `json:"telegram"`
}

// Retention is how long finished runs stay in memory and on disk.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Default returns the configuration written on first load.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:          filepath.Join(home, ".aicoder"),
		LogLevel:         "info",
		LogFormat:        "text",
		MaxConcurrent:    2,
		RetentionMinutes: 60,
	}
	cfg.Agent = AgentConfig{
		Provider:           "gemini",
		Mode:               "simulated",
		MaxIterations:      6,
		WallClockSeconds:   25,
		LLMTimeoutSeconds:  10,
		ToolTimeoutSeconds: 15,
		WorkspaceDir:       filepath.Join(home, ".aicoder", "workspace"),
	}
	cfg.LLM = ModelConfig{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", MaxTokens: 1024, Temperature: 0.2}
	cfg.Gemini = ModelConfig{Model: "gemini-2.0-flash", MaxTokens: 1024, Temperature: 0.2}
	cfg.Completion = ModelConfig{BaseURL: "https://api.mistral.ai/v1", Model: "codestral-latest", MaxTokens: 2000, Temperature: 0.3}
	cfg.Review.MaxFileTokens = 6000
	cfg.Review.Concurrency = 3
	cfg.Review.TimeoutSeconds = 60
	cfg.HTTP.Listen = ":3000"
	cfg.HTTP.StreamIdleSeconds = 25
	cfg.HTTP.RatePerSecond = 2
	cfg.HTTP.RateBurst = 5
	cfg.Redis.Prefix = "aicoder"
	return cfg
}

// DefaultPath is ~/.aicoder/config.json.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".aicoder", "config.json")
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the
// process environment. Missing files are skipped and variables already set
// are not overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the file at path over the defaults and then applies
// environment overrides. A missing file is created with the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides file values from the environment (highest precedence).
func applyEnv(cfg *Config) {
	set := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	set("OPENAI_API_KEY", &cfg.LLM.APIKey)
	set("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	set("MISTRAL_API_KEY", &cfg.Completion.APIKey)
	set("REDIS_ADDR", &cfg.Redis.Addr)
	set("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)

	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTP.Listen = ":" + port
	}
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, with secrets masked when
// mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-separated key from the config file at path,
// creating the file with defaults first if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue sets a dot-separated key in the config file at path. The value is
// stored as JSON when it parses as JSON (numbers, booleans) and as a string
// otherwise. Keys unknown to Config are kept.
func SetValue(path, key, value string) error {
	flat, err := readFlat(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(value), &v); err != nil {
		v = value
	}
	flat[key] = v

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return Flatten(m), nil
}
