package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults installs the default value for every configuration key.
func setDefaults(v *viper.Viper) {
	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")

	// Router
	v.SetDefault("router.fallback_enabled", true)
	v.SetDefault("router.availability_ttl", 60*time.Second)

	// Memory
	v.SetDefault("memory.enabled", true)
	v.SetDefault("memory.max_entries", 10000)
	v.SetDefault("memory.inject_limit", 5)
	v.SetDefault("memory.inject_budget", 4000)
	v.SetDefault("memory.track_access", true)

	// Sessions
	v.SetDefault("sessions.max_sessions", 100)
	v.SetDefault("sessions.persist_debounce", 100*time.Millisecond)
	v.SetDefault("sessions.retention_days", 30)

	// Workspace
	v.SetDefault("workspace.tmp_retention_days", 7)

	// Agents
	v.SetDefault("agents.strict", false)
	v.SetDefault("agents.watch", true)

	// Execution
	v.SetDefault("execution.stage_timeout", 5*time.Minute)
	v.SetDefault("execution.stage_max_retries", 0)
	v.SetDefault("execution.stage_retry_delay", 2*time.Second)
	v.SetDefault("execution.continue_on_failure", false)
	v.SetDefault("execution.prompt_timeout", 60*time.Second)
	v.SetDefault("execution.progress_update_interval", 2*time.Second)
	v.SetDefault("execution.streaming", false)

	// Delegation
	v.SetDefault("delegation.max_depth", 2)
	v.SetDefault("delegation.max_concurrent_agents", 4)
	v.SetDefault("delegation.continue_on_failure", false)

	// Maintenance
	v.SetDefault("maintain.enabled", false)
	v.SetDefault("maintain.schedule", "0 3 * * *")
}
