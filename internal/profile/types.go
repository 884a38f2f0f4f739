// Package profile loads agent profiles and abilities from disk.
package profile

import "time"

// Profile describes a named agent. Profiles are immutable inputs loaded
// from YAML files; the runtime always operates on the canonical Name.
type Profile struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name,omitempty"`
	Team        string `yaml:"team,omitempty"`
	Role        string `yaml:"role,omitempty"`
	Description string `yaml:"description,omitempty"`

	SystemPrompt string   `yaml:"system_prompt,omitempty"`
	Abilities    []string `yaml:"abilities,omitempty"`

	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	Orchestration *Orchestration `yaml:"orchestration,omitempty"`
	Stages        []Stage        `yaml:"stages,omitempty"`

	// Legacy workspace permission tokens. Read for migration only; the
	// simplified PRD/tmp model ignores them on write.
	CanReadWorkspaces []string `yaml:"can_read_workspaces,omitempty"`
	CanWriteToShared  bool     `yaml:"can_write_to_shared,omitempty"`
}

// Orchestration holds delegation settings for a profile.
type Orchestration struct {
	MaxDelegationDepth int `yaml:"max_delegation_depth,omitempty"`
}

// MaxDelegationDepth returns the profile's delegation depth limit, or the
// given default when unset.
func (p *Profile) MaxDelegationDepth(def int) int {
	if p.Orchestration != nil && p.Orchestration.MaxDelegationDepth > 0 {
		return p.Orchestration.MaxDelegationDepth
	}
	if def > 0 {
		return def
	}
	return 2
}

// HasStages reports whether the profile declares a multi-stage workflow.
func (p *Profile) HasStages() bool {
	return len(p.Stages) > 0
}

// Stage is one step of a multi-stage agent workflow.
type Stage struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty"`
	Parallel     bool     `yaml:"parallel,omitempty"`

	// Condition is a symbolic predicate over prior stage outcomes,
	// e.g. "impl.success" or "impl.failure". Empty means always run.
	Condition string `yaml:"condition,omitempty"`

	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries int           `yaml:"max_retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`

	Provider    string   `yaml:"provider,omitempty"`
	Model       string   `yaml:"model,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}
