// Package assembler builds execution contexts: profile, abilities, memory
// recall, and the task merged into a deterministic prompt.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"automatosx/internal/memory"
	"automatosx/internal/profile"
)

// Options tune one assembly.
type Options struct {
	Provider        string         // explicit provider override
	Model           string         // explicit model override
	SkipMemory      bool           // omit the memory section
	SessionID       string         // existing session, when delegated
	DelegationChain []string       // in-flight callers, oldest first
	SharedData      map[string]any // forwarded unchanged to children
}

// ExecutionContext is the assembled input for one agent run.
type ExecutionContext struct {
	Agent           string
	Profile         profile.Profile // by value; runs never mutate the loader's copy
	Task            string
	Prompt          string
	SystemPrompt    string
	Provider        string // chosen provider name; empty means router default
	Model           string
	Temperature     *float64
	MaxTokens       int
	SessionID       string
	DelegationChain []string
	SharedData      map[string]any
	MemoryIDs       []string // entries injected into the prompt
}

// ForChild derives the context handed to a delegated agent: the chain is
// extended with the current agent and shared data is forwarded unchanged.
func (c *ExecutionContext) ForChild() Options {
	chain := make([]string, 0, len(c.DelegationChain)+1)
	chain = append(chain, c.DelegationChain...)
	chain = append(chain, c.Agent)
	return Options{
		SessionID:       c.SessionID,
		DelegationChain: chain,
		SharedData:      c.SharedData,
	}
}

// MemorySearcher is the slice of the memory store the assembler needs. A
// nil searcher degrades to no memory injection.
type MemorySearcher interface {
	Search(query string, limit int, entryType, agent string) ([]memory.SearchResult, error)
}

// Assembler merges profile, abilities, memory recall, and task into a
// prompt. Sections appear exactly once, in a fixed order.
type Assembler struct {
	loader       *profile.Loader
	memory       MemorySearcher
	injectLimit  int
	injectBudget int
	logger       zerolog.Logger
}

// New creates an assembler. memory may be nil when the store is disabled
// or failed to initialize.
func New(loader *profile.Loader, mem MemorySearcher, injectLimit, injectBudget int, logger zerolog.Logger) *Assembler {
	if injectLimit <= 0 {
		injectLimit = 5
	}
	if injectBudget <= 0 {
		injectBudget = 4000
	}
	return &Assembler{
		loader:       loader,
		memory:       mem,
		injectLimit:  injectLimit,
		injectBudget: injectBudget,
		logger:       logger,
	}
}

// Assemble produces the execution context for an agent and task.
func (a *Assembler) Assemble(agentName, task string, opts Options) (*ExecutionContext, error) {
	prof, err := a.loader.Load(agentName)
	if err != nil {
		return nil, err
	}

	abilities, err := a.loader.LoadAbilities(prof.Abilities)
	if err != nil {
		return nil, err
	}

	var memSection string
	var memIDs []string
	if !opts.SkipMemory && a.memory != nil {
		memSection, memIDs = a.recallMemory(task)
	}

	ctx := &ExecutionContext{
		Agent:           prof.Name,
		Profile:         *prof,
		Task:            task,
		SystemPrompt:    prof.SystemPrompt,
		SessionID:       opts.SessionID,
		DelegationChain: append([]string(nil), opts.DelegationChain...),
		SharedData:      opts.SharedData,
		MemoryIDs:       memIDs,
		Temperature:     prof.Temperature,
		MaxTokens:       prof.MaxTokens,
	}

	// Provider precedence: option > profile > router default.
	switch {
	case opts.Provider != "":
		ctx.Provider = opts.Provider
	case prof.Provider != "":
		ctx.Provider = prof.Provider
	}
	switch {
	case opts.Model != "":
		ctx.Model = opts.Model
	case prof.Model != "":
		ctx.Model = prof.Model
	}

	ctx.Prompt = buildPrompt(prof.SystemPrompt, abilities, memSection, task)
	return ctx, nil
}

// recallMemory returns the formatted memory section and the injected IDs.
// Failures degrade to an empty section.
func (a *Assembler) recallMemory(task string) (string, []string) {
	results, err := a.memory.Search(task, a.injectLimit, "", "")
	if err != nil {
		a.logger.Warn().Err(err).Msg("memory recall failed, continuing without")
		return "", nil
	}
	if len(results) == 0 {
		return "", nil
	}

	var b strings.Builder
	var ids []string
	for _, r := range results {
		line := fmt.Sprintf("- %s\n", r.Content)
		if b.Len()+len(line) > a.injectBudget {
			break
		}
		b.WriteString(line)
		ids = append(ids, r.ID)
	}
	return b.String(), ids
}

// buildPrompt concatenates the sections in their contract order: system
// prompt, abilities, memory, task.
func buildPrompt(systemPrompt string, abilities map[string]string, memSection, task string) string {
	var b strings.Builder

	if systemPrompt != "" {
		b.WriteString(systemPrompt)
		b.WriteString("\n\n")
	}

	if len(abilities) > 0 {
		b.WriteString("## Abilities\n\n")
		names := make([]string, 0, len(abilities))
		for name := range abilities {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b.WriteString(strings.TrimRight(abilities[name], "\n"))
			b.WriteString("\n\n")
		}
	}

	if memSection != "" {
		b.WriteString("## Relevant Memory\n\n")
		b.WriteString(memSection)
		b.WriteString("\n")
	}

	b.WriteString("## Task\n\n")
	b.WriteString(task)
	return b.String()
}
