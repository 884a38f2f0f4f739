package assembler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/errs"
	"automatosx/internal/memory"
	"automatosx/internal/profile"
)

type fakeMemory struct {
	results []memory.SearchResult
	err     error
	queries []string
}

func (f *fakeMemory) Search(query string, limit int, entryType, agent string) ([]memory.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.results) {
		return f.results[:limit], nil
	}
	return f.results, nil
}

func memResult(id, content string) memory.SearchResult {
	return memory.SearchResult{Entry: memory.Entry{ID: id, Content: content}, Score: 1}
}

func setupLoader(t *testing.T, profiles map[string]string, abilities map[string]string) *profile.Loader {
	t.Helper()
	agentsDir := t.TempDir()
	abilitiesDir := t.TempDir()
	for name, content := range profiles {
		require.NoError(t, os.WriteFile(filepath.Join(agentsDir, name+".yaml"), []byte(content), 0644))
	}
	for name, content := range abilities {
		require.NoError(t, os.WriteFile(filepath.Join(abilitiesDir, name+".md"), []byte(content), 0644))
	}
	return profile.NewLoader(agentsDir, abilitiesDir, false, zerolog.Nop())
}

func TestAssembleSectionOrder(t *testing.T) {
	loader := setupLoader(t,
		map[string]string{"backend": `
name: backend
system_prompt: You are a backend engineer.
abilities: [api-design]
`},
		map[string]string{"api-design": "# API design\nUse REST."},
	)
	mem := &fakeMemory{results: []memory.SearchResult{memResult("m1", "auth uses JWT")}}
	a := New(loader, mem, 5, 4000, zerolog.Nop())

	ctx, err := a.Assemble("backend", "build the login endpoint", Options{})
	require.NoError(t, err)

	p := ctx.Prompt
	sys := strings.Index(p, "You are a backend engineer.")
	abl := strings.Index(p, "## Abilities")
	mems := strings.Index(p, "## Relevant Memory")
	task := strings.Index(p, "## Task")
	require.True(t, sys >= 0 && abl > sys && mems > abl && task > mems,
		"sections out of order: sys=%d abilities=%d memory=%d task=%d", sys, abl, mems, task)

	assert.Contains(t, p, "auth uses JWT")
	assert.Contains(t, p, "build the login endpoint")
	assert.Equal(t, []string{"m1"}, ctx.MemoryIDs)

	// Each section appears exactly once.
	assert.Equal(t, 1, strings.Count(p, "## Abilities"))
	assert.Equal(t, 1, strings.Count(p, "## Relevant Memory"))
	assert.Equal(t, 1, strings.Count(p, "## Task"))
}

func TestAssembleUnknownAgent(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": "name: backend\n"}, nil)
	a := New(loader, nil, 5, 4000, zerolog.Nop())

	_, err := a.Assemble("backnd", "task", Options{})
	require.Error(t, err)
	assert.Equal(t, errs.CodeAgentNotFound, errs.CodeOf(err))
}

func TestSkipMemory(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": "name: backend\n"}, nil)
	mem := &fakeMemory{results: []memory.SearchResult{memResult("m1", "irrelevant")}}
	a := New(loader, mem, 5, 4000, zerolog.Nop())

	ctx, err := a.Assemble("backend", "task", Options{SkipMemory: true})
	require.NoError(t, err)
	assert.NotContains(t, ctx.Prompt, "## Relevant Memory")
	assert.Empty(t, mem.queries)
}

func TestNilMemoryDegrades(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": "name: backend\n"}, nil)
	a := New(loader, nil, 5, 4000, zerolog.Nop())

	ctx, err := a.Assemble("backend", "task", Options{})
	require.NoError(t, err)
	assert.NotContains(t, ctx.Prompt, "## Relevant Memory")
}

func TestMemoryErrorDegrades(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": "name: backend\n"}, nil)
	mem := &fakeMemory{err: errors.New("db locked")}
	a := New(loader, mem, 5, 4000, zerolog.Nop())

	ctx, err := a.Assemble("backend", "task", Options{})
	require.NoError(t, err)
	assert.NotContains(t, ctx.Prompt, "## Relevant Memory")
}

func TestMemoryBudget(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": "name: backend\n"}, nil)
	long := strings.Repeat("x", 100)
	mem := &fakeMemory{results: []memory.SearchResult{
		memResult("m1", long), memResult("m2", long), memResult("m3", long),
	}}
	a := New(loader, mem, 5, 220, zerolog.Nop())

	ctx, err := a.Assemble("backend", "task", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ctx.MemoryIDs)
}

func TestProviderPrecedence(t *testing.T) {
	loader := setupLoader(t, map[string]string{"backend": `
name: backend
provider: gemini
model: gemini-pro
`}, nil)
	a := New(loader, nil, 5, 4000, zerolog.Nop())

	ctx, err := a.Assemble("backend", "task", Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini", ctx.Provider)
	assert.Equal(t, "gemini-pro", ctx.Model)

	ctx, err = a.Assemble("backend", "task", Options{Provider: "claude", Model: "opus"})
	require.NoError(t, err)
	assert.Equal(t, "claude", ctx.Provider)
	assert.Equal(t, "opus", ctx.Model)
}

func TestForChildExtendsChain(t *testing.T) {
	ctx := &ExecutionContext{
		Agent:           "backend",
		SessionID:       "s1",
		DelegationChain: []string{"planner"},
		SharedData:      map[string]any{"k": "v"},
	}

	opts := ctx.ForChild()
	assert.Equal(t, []string{"planner", "backend"}, opts.DelegationChain)
	assert.Equal(t, "s1", opts.SessionID)
	assert.Equal(t, "v", opts.SharedData["k"])

	// The parent chain is untouched.
	assert.Equal(t, []string{"planner"}, ctx.DelegationChain)
}
