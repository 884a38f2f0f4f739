package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"automatosx/internal/config"
)

const defaultConfigYAML = `# AutomatosX project configuration.
version: "1"

log:
  level: info
  format: console

providers:
  - name: claude
    command: claude
    args: ["--print"]
    priority: 1
  - name: gemini
    command: gemini
    priority: 2

router:
  fallback_enabled: true
  availability_ttl: 60s

memory:
  enabled: true
  max_entries: 10000
  inject_limit: 5

sessions:
  max_sessions: 100
  retention_days: 7

workspace:
  tmp_retention_days: 7

execution:
  stage_timeout: 5m
  streaming: false

delegation:
  max_depth: 2

maintain:
  enabled: false
  schedule: "0 3 * * *"
`

const exampleAgentYAML = `name: assistant
display_name: Assistant
role: General-purpose helper
system_prompt: |
  You are a helpful assistant. Answer concisely and cite your sources
  when you reference project files.
`

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the project directory",
		Long: `Create the .automatosx state tree, a starter configuration, and an
example agent profile in the current directory.`,
		Example: `  # Initialize the current directory
  automatosx init

  # Overwrite an existing configuration
  automatosx init --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return err
			}

			dirs := []string{
				config.StateDir(wd),
				config.AgentsDir(wd),
				config.AbilitiesDir(wd),
				filepath.Dir(config.SessionsFile(wd)),
				filepath.Dir(config.MemoryDBPath(wd)),
				config.CheckpointsDir(wd),
				config.WorkspaceDir(wd),
			}
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}

			configPath := filepath.Join(config.StateDir(wd), "config.yaml")
			if err := writeIfAbsent(configPath, defaultConfigYAML, force); err != nil {
				return err
			}

			agentPath := filepath.Join(config.AgentsDir(wd), "assistant.yaml")
			if err := writeIfAbsent(agentPath, exampleAgentYAML, force); err != nil {
				return err
			}

			fmt.Printf("✓ Initialized %s\n", config.StateDir(wd))
			fmt.Printf("  Config: %s\n", configPath)
			fmt.Printf("  Agents: %s\n", config.AgentsDir(wd))
			fmt.Println("\nNext steps:")
			fmt.Println("  automatosx agent list")
			fmt.Println("  automatosx run assistant \"hello\"")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}

func writeIfAbsent(path, content string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("  Keeping existing %s\n", path)
			return nil
		}
	}
	return os.WriteFile(path, []byte(content), 0644)
}
