// Package config loads forgemind configuration from .forge/config.yaml with
// environment-variable overrides and per-subsystem defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all forgemind configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration (Reflect and classifier fallback)
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Build driver configuration
	Build BuildConfig `yaml:"build"`

	// Playbook store configuration
	Playbook PlaybookConfig `yaml:"playbook"`

	// Hindsight memory configuration
	Memory MemoryConfig `yaml:"memory"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the LLM client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai-compatible endpoint
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // ollama, genai, or hash
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// BuildConfig configures the scheduler and build driver.
type BuildConfig struct {
	Concurrency int    `yaml:"concurrency"`  // parallel tasks per batch
	TaskTimeout string `yaml:"task_timeout"` // per-task executor budget
	HookTimeout string `yaml:"hook_timeout"` // per-handler budget
	MaxRetries  int    `yaml:"max_retries"`

	// Optional subsystems
	EnableEventStore bool `yaml:"enable_event_store"`
	EnableGit        bool `yaml:"enable_git"`
	EnableRemoteSync bool `yaml:"enable_remote_sync"`
}

// PlaybookConfig configures the playbook store.
type PlaybookConfig struct {
	Dir         string `yaml:"dir"` // default .forge/playbooks
	Persistence bool   `yaml:"persistence"`
	MaxRules    int    `yaml:"max_rules"`
	WatchDir    bool   `yaml:"watch_dir"` // fsnotify reload on external edits
}

// MemoryConfig configures the Hindsight memory store.
type MemoryConfig struct {
	Adapter            string  `yaml:"adapter"` // memory or sqlite
	DBPath             string  `yaml:"db_path"` // default .forge/memory.db
	Dimensions         int     `yaml:"dimensions"`
	Capacity           int     `yaml:"capacity"` // max fragments before eviction
	SimilarityWeight   float64 `yaml:"similarity_weight"`
	RecencyWeight      float64 `yaml:"recency_weight"`
	FrequencyWeight    float64 `yaml:"frequency_weight"`
	DefaultNamespace   string  `yaml:"default_namespace"`
	NamespaceIsolation bool    `yaml:"namespace_isolation"`
}

// LoggingConfig mirrors .forge/config.json logging block for YAML users.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Name:    "forgemind",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			BaseURL:  "https://api.openai.com/v1",
			Timeout:  "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "hash",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			GenAIModel:     "gemini-embedding-001",
			Dimensions:     768,
		},
		Build: BuildConfig{
			Concurrency: 4,
			TaskTimeout: "5m",
			HookTimeout: "30s",
			MaxRetries:  2,
		},
		Playbook: PlaybookConfig{
			Dir:         filepath.Join(".forge", "playbooks"),
			Persistence: true,
			MaxRules:    50,
		},
		Memory: MemoryConfig{
			Adapter:          "memory",
			DBPath:           filepath.Join(".forge", "memory.db"),
			Dimensions:       768,
			Capacity:         10000,
			SimilarityWeight: 0.5,
			RecencyWeight:    0.3,
			FrequencyWeight:  0.2,
			DefaultNamespace: "default:default",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads .forge/config.yaml under the workspace, overlays it on the
// defaults, and applies environment overrides. A missing file is not an
// error; the defaults are returned.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".forge", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets FORGE_* variables win over file values. Secrets in
// particular should come from the environment, not the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FORGE_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("FORGE_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("FORGE_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("FORGE_GENAI_API_KEY"); v != "" {
		c.Embedding.GenAIAPIKey = v
	}
	if v := os.Getenv("FORGE_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("FORGE_MEMORY_ADAPTER"); v != "" {
		c.Memory.Adapter = v
	}
}

// TaskTimeout parses the per-task budget, defaulting to 5 minutes.
func (c *BuildConfig) TaskTimeoutDuration() time.Duration {
	return parseDuration(c.TaskTimeout, 5*time.Minute)
}

// HookTimeoutDuration parses the per-handler budget, defaulting to 30s.
// The hook budget never exceeds the task budget.
func (c *BuildConfig) HookTimeoutDuration() time.Duration {
	d := parseDuration(c.HookTimeout, 30*time.Second)
	if task := c.TaskTimeoutDuration(); d > task {
		return task
	}
	return d
}

// LLMTimeoutDuration parses the LLM client timeout, defaulting to 2 minutes.
func (c *LLMConfig) LLMTimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 2*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
