package provider

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"automatosx/internal/config"
	"automatosx/internal/errs"
)

// versionPattern extracts a semver-looking token from CLI version output.
var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:[-+][0-9A-Za-z.-]+)?`)

// CLIProvider executes prompts through an external CLI binary. The prompt
// goes to stdin; the response is the process's stdout.
type CLIProvider struct {
	cfg    config.ProviderConfig
	logger zerolog.Logger
}

// NewCLIProvider creates a provider backed by the configured CLI command.
func NewCLIProvider(cfg config.ProviderConfig, logger zerolog.Logger) *CLIProvider {
	return &CLIProvider{
		cfg:    cfg,
		logger: logger.With().Str("provider", cfg.Name).Logger(),
	}
}

func (p *CLIProvider) Name() string  { return p.cfg.Name }
func (p *CLIProvider) Priority() int { return p.cfg.Priority }

// command returns the binary path, honoring a custom path override.
func (p *CLIProvider) command() string {
	if p.cfg.CustomPath != "" {
		return p.cfg.CustomPath
	}
	return p.cfg.Command
}

// Execute runs the CLI to completion with the configured timeout. On
// cancellation the process gets SIGINT first and SIGKILL after a grace
// period, so the CLI can flush partial state.
func (p *CLIProvider) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResponse, error) {
	timeout := p.cfg.GetTimeout()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string(nil), p.cfg.Args...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}

	cmd := exec.CommandContext(ctx, p.command(), args...)
	cmd.Stdin = strings.NewReader(buildStdin(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	p.logger.Debug().Str("agent", req.Agent).Str("model", req.Model).Msg("executing provider CLI")

	err := cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = context.DeadlineExceeded
		}
		cerr := Classify(p.cfg.Name, err, stderr.String())
		p.logger.Warn().Err(cerr).Dur("duration", duration).Msg("provider execution failed")
		return nil, cerr
	}

	content := strings.TrimRight(stdout.String(), "\n")
	if content == "" {
		return nil, errs.New(errs.CodeProviderExec, "provider "+p.cfg.Name+" returned empty output").
			WithContext("provider", p.cfg.Name)
	}

	p.logger.Debug().Dur("duration", duration).Int("bytes", len(content)).Msg("provider execution complete")
	return &ExecutionResponse{
		Content:  content,
		Model:    req.Model,
		Provider: p.cfg.Name,
		Duration: duration,
	}, nil
}

// buildStdin joins the system prompt and task prompt into the text fed to
// the CLI's stdin.
func buildStdin(req ExecutionRequest) string {
	if req.SystemPrompt == "" {
		return req.Prompt
	}
	return req.SystemPrompt + "\n\n" + req.Prompt
}

// CheckAvailability probes the CLI with its version flag. A parseable
// version below the configured minimum counts as unavailable.
func (p *CLIProvider) CheckAvailability(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	start := time.Now()
	out, err := exec.CommandContext(ctx, p.command(), p.versionArg()).CombinedOutput()
	latency := time.Since(start)

	avail := Availability{Latency: latency, CheckedAt: time.Now()}
	if err != nil {
		avail.Error = err.Error()
		return avail
	}

	version := versionPattern.FindString(string(out))
	avail.Version = version

	if p.cfg.MinVersion != "" && version != "" {
		min, merr := semver.NewVersion(p.cfg.MinVersion)
		got, gerr := semver.NewVersion(version)
		if merr == nil && gerr == nil && got.LessThan(min) {
			avail.Error = "version " + version + " below minimum " + p.cfg.MinVersion
			return avail
		}
	}

	avail.Available = true
	return avail
}

func (p *CLIProvider) versionArg() string {
	if p.cfg.VersionArg != "" {
		return p.cfg.VersionArg
	}
	return "--version"
}
