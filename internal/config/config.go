// Package config loads the YAML runtime settings for the agent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sidekick/internal/httpclient"
)

const (
	DefaultModel   = "gpt-4.1-mini"
	DefaultBaseURL = "https://api.openai.com/v1"

	// Env var holding the API key unless api_key_env overrides it.
	DefaultAPIKeyEnv = "SIDEKICK_API_KEY"
)

// Config captures the tunable runtime settings for the agent.
type Config struct {
	Model                 string  `yaml:"model"`
	Provider              string  `yaml:"provider"`
	BaseURL               string  `yaml:"base_url"`
	APIKeyEnv             string  `yaml:"api_key_env"`
	Temperature           float64 `yaml:"temperature"`
	SystemPrompt          string  `yaml:"system_prompt"`
	RequestTimeoutSeconds int     `yaml:"request_timeout_seconds"`
	ShellTimeoutSeconds   int     `yaml:"shell_timeout_seconds"`
	SessionDir            string  `yaml:"session_dir"`
	WorkspaceRoot         string  `yaml:"workspace_root"`
	MemoryStorePath       string  `yaml:"memory_store_path"`
	HistoryPath           string  `yaml:"history_path"`

	MaxRetries         int   `yaml:"max_retries"`
	RetryDelaysSeconds []int `yaml:"retry_delays_seconds"`
	RetryableStatuses  []int `yaml:"retryable_statuses"`

	SpinnerMinVisibleMs int `yaml:"spinner_min_visible_ms"`
}

// LoadUserConfig loads configuration from ~/.sidekick/config.yaml.
// SIDEKICK_CONFIG_PATH overrides the location. A missing file yields
// defaults rather than an error.
func LoadUserConfig() (Config, error) {
	configPath := os.Getenv("SIDEKICK_CONFIG_PATH")
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := Config{}
		cfg.applyDefaults()
		return cfg, nil
	}
	return Load(configPath)
}

// Load reads the YAML configuration from disk and injects sane defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the configuration to ~/.sidekick/config.yaml.
func Save(c Config) error {
	dir := GetConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(&c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// EnsureDefaultConfig creates config.yaml with defaults if it doesn't exist.
func EnsureDefaultConfig() error {
	configPath := filepath.Join(GetConfigDir(), "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	cfg := Config{}
	cfg.applyDefaults()
	return Save(cfg)
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Provider == "" {
		c.Provider = "openai-compatible"
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ShellTimeoutSeconds <= 0 {
		c.ShellTimeoutSeconds = 60
	}
	if c.SessionDir == "" {
		c.SessionDir = filepath.Join(GetConfigDir(), "sessions")
	}
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = "."
	}
	if c.MemoryStorePath == "" {
		c.MemoryStorePath = filepath.Join(c.WorkspaceRoot, "memory.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(c.WorkspaceRoot, ".sidekick_history")
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if len(c.RetryDelaysSeconds) == 0 {
		c.RetryDelaysSeconds = []int{1, 2, 4}
	}
	if len(c.RetryableStatuses) == 0 {
		c.RetryableStatuses = []int{429, 503}
	}
	if c.SpinnerMinVisibleMs < 0 {
		c.SpinnerMinVisibleMs = 0
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model must not be empty")
	}
	for _, d := range c.RetryDelaysSeconds {
		if d < 0 {
			return fmt.Errorf("retry delay %d must not be negative", d)
		}
	}
	return nil
}

// APIKey resolves the key from the configured environment variable.
func (c Config) APIKey() string {
	return os.Getenv(c.APIKeyEnv)
}

// RequestTimeout converts the configured seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ShellTimeout converts the configured seconds into a duration.
func (c Config) ShellTimeout() time.Duration {
	return time.Duration(c.ShellTimeoutSeconds) * time.Second
}

// RetryPolicy builds the backoff schedule the HTTP client applies.
func (c Config) RetryPolicy() httpclient.RetryPolicy {
	p := httpclient.RetryPolicy{
		MaxRetries:           c.MaxRetries,
		RetryableStatusCodes: make(map[int]bool, len(c.RetryableStatuses)),
	}
	for _, s := range c.RetryableStatuses {
		p.RetryableStatusCodes[s] = true
	}
	for _, d := range c.RetryDelaysSeconds {
		p.RetryDelays = append(p.RetryDelays, time.Duration(d)*time.Second)
	}
	return p
}

// SpinnerMinVisible converts the configured floor into a duration.
func (c Config) SpinnerMinVisible() time.Duration {
	return time.Duration(c.SpinnerMinVisibleMs) * time.Millisecond
}

// OverrideWorkspaceRoot rebases workspace-relative paths onto root.
func (c *Config) OverrideWorkspaceRoot(root string) {
	if root == "" {
		return
	}
	oldRoot := c.WorkspaceRoot
	c.WorkspaceRoot = root
	c.rebasePath(&c.MemoryStorePath, oldRoot, root)
	c.rebasePath(&c.HistoryPath, oldRoot, root)
}

func (c *Config) rebasePath(target *string, oldRoot, newRoot string) {
	if *target == "" {
		return
	}
	rel, err := filepath.Rel(absPath(oldRoot), absPath(*target))
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	*target = filepath.Join(newRoot, rel)
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// GetConfigDir returns ~/.sidekick, falling back to the working directory
// when the home directory cannot be determined.
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sidekick"
	}
	return filepath.Join(home, ".sidekick")
}
