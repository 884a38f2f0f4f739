// Package config provides configuration and project path utilities.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Project subtree layout. The hidden .automatosx tree holds runtime state;
// the visible automatosx tree is the agent workspace.
const (
	StateDirName     = ".automatosx"
	WorkspaceDirName = "automatosx"
)

// DefaultConfigPath returns the default configuration file path
// (<project>/.automatosx/config.yaml relative to the working directory).
func DefaultConfigPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	return filepath.Join(wd, StateDirName, "config.yaml"), nil
}

// StateDir returns <project>/.automatosx.
func StateDir(projectDir string) string {
	return filepath.Join(projectDir, StateDirName)
}

// SessionsFile returns the session persistence path.
func SessionsFile(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "sessions", "sessions.json")
}

// MemoryDBPath returns the memory database path.
func MemoryDBPath(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "memory", "memory.db")
}

// CheckpointsDir returns the stage checkpoint directory.
func CheckpointsDir(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "checkpoints")
}

// AgentsDir returns the agent profile directory.
func AgentsDir(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "agents")
}

// AbilitiesDir returns the ability snippet directory.
func AbilitiesDir(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "abilities")
}

// LegacyWorkspacesDir returns the pre-migration session workspace root.
func LegacyWorkspacesDir(projectDir string) string {
	return filepath.Join(StateDir(projectDir), "workspaces")
}

// WorkspaceDir returns <project>/automatosx, the visible agent workspace.
func WorkspaceDir(projectDir string) string {
	return filepath.Join(projectDir, WorkspaceDirName)
}

// ExpandPath expands a ~ prefix to the user home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}

	return path, nil
}
