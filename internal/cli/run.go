package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"automatosx/internal/orchestrator"
	"automatosx/internal/progress"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		providerName string
		model        string
		sessionID    string
		resumeRunID  string
		skipMemory   bool
		interactive  bool
		streaming    bool
		resumable    bool
		autoConfirm  bool
		jsonOutput   bool
	)

	cmd := &cobra.Command{
		Use:   "run <agent> <task>",
		Short: "Run an agent with a task",
		Long: `Run an agent with a task.

Single-prompt agents make one provider call. Agents with stages execute
their full workflow, honoring dependencies, conditions, retries, and
checkpoints. Use --resume with a run ID to continue an interrupted
multi-stage run.`,
		Example: `  # Run a simple agent
  automatosx run backend "add a health endpoint"

  # Run with a provider override and streaming output
  automatosx run writer "draft the release notes" --provider claude --stream

  # Resume an interrupted multi-stage run
  automatosx run writer "draft the release notes" --resume 4f7c2a...`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errNotInitialized()
			}
			rt, err := cliCtx.GetRuntime()
			if err != nil {
				return err
			}

			agent := args[0]
			task := strings.Join(args[1:], " ")

			if !cliCtx.Quiet {
				unsubscribe := rt.Bus.Subscribe(renderProgress(streaming))
				defer unsubscribe()
			}

			res, err := rt.Orch.Run(cmd.Context(), agent, task, orchestrator.RunOptions{
				Provider:    providerName,
				Model:       model,
				SessionID:   sessionID,
				ResumeRunID: resumeRunID,
				SkipMemory:  skipMemory,
				Interactive: interactive,
				Streaming:   streaming,
				Resumable:   resumable,
				AutoConfirm: autoConfirm || !interactive,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(res, "", "  ")
				fmt.Println(string(data))
				return nil
			}

			fmt.Println(res.Response)

			if cliCtx.Verbose {
				fmt.Fprintf(os.Stderr, "\nprovider=%s model=%s tokens=%d duration=%s\n",
					res.Provider, res.Model, res.TokensUsed, res.Duration.Round(time.Millisecond))
				if res.RunID != "" {
					fmt.Fprintf(os.Stderr, "run_id=%s\n", res.RunID)
				}
			}

			if !res.Success {
				if res.RunID != "" {
					fmt.Fprintf(os.Stderr, "\nRun finished with failed stages. Resume with:\n  automatosx run %s %q --resume %s\n",
						agent, task, res.RunID)
				}
				return fmt.Errorf("run finished with failed stages")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "preferred provider")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override")
	cmd.Flags().StringVar(&sessionID, "session", "", "join an existing session")
	cmd.Flags().StringVar(&resumeRunID, "resume", "", "resume a checkpointed run by ID")
	cmd.Flags().BoolVar(&skipMemory, "skip-memory", false, "skip memory injection")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "confirm between stage waves")
	cmd.Flags().BoolVar(&streaming, "stream", false, "stream tokens as they arrive")
	cmd.Flags().BoolVar(&resumable, "resumable", false, "keep the checkpoint after a successful run")
	cmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false, "answer yes to stage confirmations")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the full result as JSON")

	return cmd
}

// renderProgress prints stage lifecycle events to stderr, keeping stdout
// clean for the response itself.
func renderProgress(streaming bool) progress.Listener {
	return func(ev progress.Event) {
		switch ev.Kind {
		case progress.KindStageStart:
			fmt.Fprintf(os.Stderr, "▸ %s\n", ev.StageName)
		case progress.KindStageComplete:
			fmt.Fprintf(os.Stderr, "✓ %s\n", ev.StageName)
		case progress.KindStageError:
			fmt.Fprintf(os.Stderr, "✗ %s: %s\n", ev.StageName, ev.Message)
		case progress.KindStageProgress:
			if ev.Message != "" {
				fmt.Fprintf(os.Stderr, "  %s (%.0f%%)\n", ev.Message, ev.Percentage)
			}
		case progress.KindTokenStream:
			if streaming {
				fmt.Fprint(os.Stderr, ev.Token)
			}
		case progress.KindCheckpoint:
			fmt.Fprintf(os.Stderr, "⏸ checkpoint: %s\n", ev.Message)
		}
	}
}
