// Package config loads the agent's configuration with the same layered
// viper strategy the gateway's config.go used: defaults, then a global
// ~/.seedgpt/config.yaml, then a local ./config.yaml, then SEEDGPT_ env
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is every externally-injected setting this agent needs. Everything
// not listed here (filesystem helpers, the CLI's own flag parsing, a
// specific vendor pricing table) is treated per SPEC_FULL.md as an external
// collaborator, not configuration.
type Config struct {
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Forge     ForgeConfig     `mapstructure:"forge"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Agent     AgentConfig     `mapstructure:"agent"`
}

type WorkspaceConfig struct {
	Path string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ForgeConfig configures the CI Bridge's remote forge connection.
type ForgeConfig struct {
	Token        string `mapstructure:"token"`
	Owner        string `mapstructure:"owner"`
	Repo         string `mapstructure:"repo"`
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// LLMConfig configures the LLM Gateway's vendor connection and per-phase
// model selection.
type LLMConfig struct {
	APIKey           string            `mapstructure:"api_key"`
	BaseURL          string            `mapstructure:"base_url"`
	Models           map[string]string `mapstructure:"models"` // phase -> model id
	MaxTokens        int               `mapstructure:"max_tokens"`
	ThinkingBudget   int               `mapstructure:"thinking_budget"`
	PollInterval     time.Duration     `mapstructure:"poll_interval"`
	PollBackoff      float64           `mapstructure:"poll_backoff"`
	MaxPollInterval  time.Duration     `mapstructure:"max_poll_interval"`
}

// AgentConfig configures the Iteration Controller and Memory Service.
type AgentConfig struct {
	MaxFixAttempts    int           `mapstructure:"max_fix_attempts"`
	MemoryTokenBudget int           `mapstructure:"memory_token_budget"`
	MemoryRetention   time.Duration `mapstructure:"memory_retention"`
	CiPollInterval    time.Duration `mapstructure:"ci_poll_interval"`
	CiNoChecksTimeout time.Duration `mapstructure:"ci_no_checks_timeout"`
	CiTimeout         time.Duration `mapstructure:"ci_timeout"`
	ToolTimeout       time.Duration `mapstructure:"tool_timeout"`
}

// Load reads configuration the way internal/infrastructure/config/config.go
// did: defaults, then global, then local, then environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".seedgpt")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, dir := range []string{"./config", "."} {
		localPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("SEEDGPT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workspace.path", "./workspace")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "seedgpt.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("forge.branch_prefix", "seedgpt/")

	v.SetDefault("llm.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.max_tokens", 8192)
	v.SetDefault("llm.thinking_budget", 4096)
	v.SetDefault("llm.poll_interval", "5s")
	v.SetDefault("llm.poll_backoff", 1.5)
	v.SetDefault("llm.max_poll_interval", "60s")
	v.SetDefault("llm.models", map[string]string{
		"planner": "claude-opus-4",
		"builder": "claude-sonnet-4",
		"fixer":   "claude-sonnet-4",
		"reflect": "claude-sonnet-4",
		"memory":  "claude-haiku-4",
	})

	v.SetDefault("agent.max_fix_attempts", 3)
	v.SetDefault("agent.memory_token_budget", 2000)
	v.SetDefault("agent.memory_retention", "720h")
	v.SetDefault("agent.ci_poll_interval", "30s")
	v.SetDefault("agent.ci_no_checks_timeout", "2m")
	v.SetDefault("agent.ci_timeout", "20m")
	v.SetDefault("agent.tool_timeout", "120s")
}
