// Package config loads and holds the typed runtime configuration.
package config

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration consumed by the runtime. Precedence:
// environment > config file > defaults.
type Config struct {
	Version    string           `mapstructure:"version" yaml:"version"`
	ProjectDir string           `mapstructure:"project_dir" yaml:"project_dir"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Providers  []ProviderConfig `mapstructure:"providers" yaml:"providers"`
	Router     RouterConfig     `mapstructure:"router" yaml:"router"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Sessions   SessionConfig    `mapstructure:"sessions" yaml:"sessions"`
	Workspace  WorkspaceConfig  `mapstructure:"workspace" yaml:"workspace"`
	Agents     AgentsConfig     `mapstructure:"agents" yaml:"agents"`
	Execution  ExecutionConfig  `mapstructure:"execution" yaml:"execution"`
	Delegation DelegationConfig `mapstructure:"delegation" yaml:"delegation"`
	Maintain   MaintainConfig   `mapstructure:"maintain" yaml:"maintain"`

	// MockProviders replaces subprocess backends with deterministic stubs.
	// Set from AUTOMATOSX_MOCK_PROVIDERS, never from the config file.
	MockProviders bool `mapstructure:"-" yaml:"-"`
}

// LogConfig mirrors pkg/logger.LogConfig to avoid a dependency from config
// onto the logger package.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// ProviderConfig describes one external LLM command-line backend.
type ProviderConfig struct {
	Name           string        `mapstructure:"name" yaml:"name"`
	Priority       int           `mapstructure:"priority" yaml:"priority"` // smaller = preferred
	Command        string        `mapstructure:"command" yaml:"command"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`

	// Detection hints.
	CustomPath string `mapstructure:"custom_path" yaml:"custom_path"`
	VersionArg string `mapstructure:"version_arg" yaml:"version_arg"`
	MinVersion string `mapstructure:"min_version" yaml:"min_version"`
}

// GetTimeout returns the per-request timeout, defaulting to 2 minutes.
func (c *ProviderConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 2 * time.Minute
	}
	return c.Timeout
}

// GetHealthInterval returns the probe interval, defaulting to 30 seconds.
func (c *ProviderConfig) GetHealthInterval() time.Duration {
	if c.HealthInterval <= 0 {
		return 30 * time.Second
	}
	return c.HealthInterval
}

// GetMaxRetries returns the per-provider retry budget, defaulting to 2.
func (c *ProviderConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 2
	}
	return c.MaxRetries
}

// GetRetryBaseDelay returns the base backoff delay, defaulting to 500ms.
func (c *ProviderConfig) GetRetryBaseDelay() time.Duration {
	if c.RetryBaseDelay <= 0 {
		return 500 * time.Millisecond
	}
	return c.RetryBaseDelay
}

// RouterConfig tunes provider selection and health caching.
type RouterConfig struct {
	FallbackEnabled bool          `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl" yaml:"availability_ttl"`
}

// GetAvailabilityTTL returns how long a health probe is trusted,
// defaulting to 60 seconds.
func (c *RouterConfig) GetAvailabilityTTL() time.Duration {
	if c.AvailabilityTTL <= 0 {
		return 60 * time.Second
	}
	return c.AvailabilityTTL
}

// MemoryConfig tunes the memory store and context injection.
type MemoryConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Path         string `mapstructure:"path" yaml:"path"` // empty = <project>/.automatosx/memory/memory.db
	MaxEntries   int    `mapstructure:"max_entries" yaml:"max_entries"`
	CleanupBatch int    `mapstructure:"cleanup_batch" yaml:"cleanup_batch"` // 0 = 10% of max_entries
	InjectLimit  int    `mapstructure:"inject_limit" yaml:"inject_limit"`   // top-k entries per prompt
	InjectBudget int    `mapstructure:"inject_budget" yaml:"inject_budget"` // character budget
	TrackAccess  bool   `mapstructure:"track_access" yaml:"track_access"`
}

// GetCleanupBatch returns the eviction batch size (default 10% of max).
func (c *MemoryConfig) GetCleanupBatch() int {
	if c.CleanupBatch > 0 {
		return c.CleanupBatch
	}
	batch := c.MaxEntries / 10
	if batch < 1 {
		batch = 1
	}
	return batch
}

// SessionConfig tunes session persistence.
type SessionConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"` // empty = <project>/.automatosx/sessions/sessions.json
	MaxSessions     int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	PersistDebounce time.Duration `mapstructure:"persist_debounce" yaml:"persist_debounce"`
	RetentionDays   int           `mapstructure:"retention_days" yaml:"retention_days"`
}

// WorkspaceConfig tunes the scoped filesystem.
type WorkspaceConfig struct {
	TmpRetentionDays int `mapstructure:"tmp_retention_days" yaml:"tmp_retention_days"`
}

// AgentsConfig locates profiles and abilities on disk.
type AgentsConfig struct {
	Dir          string `mapstructure:"dir" yaml:"dir"`                     // empty = <project>/.automatosx/agents
	AbilitiesDir string `mapstructure:"abilities_dir" yaml:"abilities_dir"` // empty = <project>/.automatosx/abilities
	Strict       bool   `mapstructure:"strict" yaml:"strict"`               // unknown abilities become errors
	Watch        bool   `mapstructure:"watch" yaml:"watch"`                 // fsnotify cache invalidation
}

// ExecutionConfig tunes stage execution and streaming.
type ExecutionConfig struct {
	StageTimeout           time.Duration `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	StageMaxRetries        int           `mapstructure:"stage_max_retries" yaml:"stage_max_retries"`
	StageRetryDelay        time.Duration `mapstructure:"stage_retry_delay" yaml:"stage_retry_delay"`
	ContinueOnFailure      bool          `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
	PromptTimeout          time.Duration `mapstructure:"prompt_timeout" yaml:"prompt_timeout"`
	ProgressUpdateInterval time.Duration `mapstructure:"progress_update_interval" yaml:"progress_update_interval"`
	Streaming              bool          `mapstructure:"streaming" yaml:"streaming"`
}

// DelegationConfig tunes agent-to-agent delegation.
type DelegationConfig struct {
	MaxDepth            int  `mapstructure:"max_depth" yaml:"max_depth"` // default when the profile has none
	MaxConcurrentAgents int  `mapstructure:"max_concurrent_agents" yaml:"max_concurrent_agents"`
	ContinueOnFailure   bool `mapstructure:"continue_on_failure" yaml:"continue_on_failure"`
}

// MaintainConfig schedules background cleanup jobs.
type MaintainConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Schedule string `mapstructure:"schedule" yaml:"schedule"` // cron spec
}

var (
	globalConfig *Config
	mu           sync.RWMutex
)

// Load loads configuration from the given path, applying defaults and
// AUTOMATOSX_* environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AUTOMATOSX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if env := os.Getenv("AUTOMATOSX_CONFIG_PATH"); env != "" {
		path = env
	}

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(expanded)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, err
			}
			// Missing file: proceed on defaults.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if os.Getenv("AUTOMATOSX_DEBUG") != "" {
		cfg.Log.Level = "debug"
	}
	if os.Getenv("AUTOMATOSX_QUIET") != "" {
		cfg.Log.Level = "error"
	}
	cfg.MockProviders = os.Getenv("AUTOMATOSX_MOCK_PROVIDERS") != ""

	if cfg.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.ProjectDir = wd
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get returns the most recently loaded configuration, or nil.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Reset clears the loaded configuration (for testing).
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
}
