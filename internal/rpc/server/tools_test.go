package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/assembler"
	"automatosx/internal/config"
	"automatosx/internal/errs"
	"automatosx/internal/memory"
	"automatosx/internal/orchestrator"
	"automatosx/internal/profile"
	"automatosx/internal/provider"
	"automatosx/internal/session"
	"automatosx/internal/stage"
	"automatosx/internal/tools"
)

func newServices(t *testing.T, withMemory bool) *Services {
	t.Helper()

	agentsDir := t.TempDir()
	body := "name: backend\nsystem_prompt: You are the backend engineer.\n"
	require.NoError(t, os.WriteFile(filepath.Join(agentsDir, "backend.yaml"), []byte(body), 0644))

	loader := profile.NewLoader(agentsDir, filepath.Join(agentsDir, "abilities"), false, zerolog.Nop())

	var store *memory.Store
	if withMemory {
		db, err := memory.Open(filepath.Join(t.TempDir(), "memory.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		store = memory.NewStore(db, memory.StoreOptions{}, zerolog.Nop())
	}

	mock := provider.NewMockProvider("mock", 1)
	router := provider.NewRouter(zerolog.Nop(), provider.WithFallback(true))
	router.Add(mock, 0, time.Millisecond)

	sessions := session.NewManager(filepath.Join(t.TempDir(), "sessions.json"), time.Millisecond, zerolog.Nop())

	controller := stage.NewController(stage.NewCheckpointStore(t.TempDir()), nil,
		stage.Config{StageRetryDelay: time.Millisecond}, zerolog.Nop())
	controller.SetConfirmer(stage.AutoConfirm)

	var searcher assembler.MemorySearcher
	if store != nil {
		searcher = store
	}
	asm := assembler.New(loader, searcher, 0, 0, zerolog.Nop())

	orch := orchestrator.New(orchestrator.Deps{
		Assembler: asm,
		Router:    router,
		Sessions:  sessions,
		Memory:    store,
		Stages:    controller,
		Execution: config.ExecutionConfig{},
		Logger:    zerolog.Nop(),
	})

	return &Services{
		Orchestrator: orch,
		Loader:       loader,
		Sessions:     sessions,
		Memory:       store,
		Router:       router,
		Version:      "test",
	}
}

func execTool(t *testing.T, r *tools.Registry, name string, args map[string]any) tools.ToolResult {
	t.Helper()
	res, err := r.Execute(context.Background(), name, args)
	require.NoError(t, err)
	return res
}

func TestRegistryCoversToolSurface(t *testing.T) {
	r := BuildRegistry(newServices(t, true))
	assert.Equal(t, 16, r.Len())

	names := r.Names()
	for _, name := range []string{
		"run_agent", "list_agents", "search_memory", "get_status",
		"session_create", "session_list", "session_status",
		"session_complete", "session_fail",
		"memory_add", "memory_list", "memory_delete",
		"memory_export", "memory_import", "memory_stats", "memory_clear",
	} {
		assert.Contains(t, names, name)
	}
}

func TestRunAgentTool(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	res := execTool(t, r, "run_agent", map[string]any{
		"agent": "backend",
		"task":  "add a health endpoint",
	})
	assert.False(t, res.IsError)

	var run orchestrator.RunResult
	require.NoError(t, json.Unmarshal([]byte(res.Content), &run))
	assert.True(t, run.Success)
	assert.Equal(t, "mock", run.Provider)
	assert.Contains(t, run.Response, "add a health endpoint")
}

func TestRunAgentToolValidatesInput(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	_, err := r.Execute(context.Background(), "run_agent", map[string]any{
		"agent": "../etc/passwd",
		"task":  "x",
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))

	_, err = r.Execute(context.Background(), "run_agent", map[string]any{
		"agent": "backend",
	})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err))
}

func TestListAgentsTool(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	res := execTool(t, r, "list_agents", nil)
	assert.Contains(t, res.Content, "backend")
}

func TestGetStatusTool(t *testing.T) {
	r := BuildRegistry(newServices(t, true))

	res := execTool(t, r, "get_status", nil)

	var status map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.Content), &status))
	assert.Equal(t, "test", status["version"])

	providers, ok := status["providers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, providers, "mock")
}

func TestMemoryToolsRequireStore(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	for _, name := range []string{"memory_stats", "memory_list", "memory_clear"} {
		_, err := r.Execute(context.Background(), name, nil)
		require.Error(t, err, name)
		assert.Equal(t, errs.CodeMemoryNotInitialized, errs.CodeOf(err), name)
	}
}

func TestMemoryAddSearchDelete(t *testing.T) {
	r := BuildRegistry(newServices(t, true))

	res := execTool(t, r, "memory_add", map[string]any{
		"content": "the release pipeline is green",
		"type":    "task",
		"agent":   "backend",
	})
	var entry memory.Entry
	require.NoError(t, json.Unmarshal([]byte(res.Content), &entry))
	require.NotEmpty(t, entry.ID)

	res = execTool(t, r, "search_memory", map[string]any{"query": "release"})
	assert.Contains(t, res.Content, "release pipeline")

	res = execTool(t, r, "memory_list", map[string]any{"agent": "backend"})
	assert.Contains(t, res.Content, entry.ID)

	execTool(t, r, "memory_delete", map[string]any{"id": entry.ID})

	res = execTool(t, r, "memory_stats", nil)
	var stats memory.Stats
	require.NoError(t, json.Unmarshal([]byte(res.Content), &stats))
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestMemoryExportRejectsUnsafePaths(t *testing.T) {
	r := BuildRegistry(newServices(t, true))

	for _, path := range []string{"/tmp/out.json", "../out.json", ""} {
		_, err := r.Execute(context.Background(), "memory_export", map[string]any{"path": path})
		require.Error(t, err, path)
		assert.Equal(t, errs.CodeInvalidInput, errs.CodeOf(err), path)
	}
}

func TestMemoryExportImportRoundTrip(t *testing.T) {
	svcs := newServices(t, true)
	r := BuildRegistry(svcs)

	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(old) })

	execTool(t, r, "memory_add", map[string]any{"content": "keep this entry"})

	res := execTool(t, r, "memory_export", map[string]any{"path": "export.json"})
	assert.Contains(t, res.Content, "exported 1 entries")

	require.NoError(t, svcs.Memory.Clear())

	res = execTool(t, r, "memory_import", map[string]any{"path": "export.json"})
	var imported memory.ImportResult
	require.NoError(t, json.Unmarshal([]byte(res.Content), &imported))
	assert.Equal(t, 1, imported.Imported)
	assert.Equal(t, 0, imported.Skipped)
}

func TestSessionToolLifecycle(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	res := execTool(t, r, "session_create", map[string]any{
		"task":      "ship the release",
		"initiator": "backend",
	})
	var sess session.Session
	require.NoError(t, json.Unmarshal([]byte(res.Content), &sess))
	require.NotEmpty(t, sess.ID)

	res = execTool(t, r, "session_list", nil)
	assert.Contains(t, res.Content, sess.ID)

	res = execTool(t, r, "session_status", map[string]any{"session_id": sess.ID})
	assert.Contains(t, res.Content, "ship the release")

	execTool(t, r, "session_complete", map[string]any{"session_id": sess.ID})

	res = execTool(t, r, "session_list", nil)
	assert.NotContains(t, res.Content, sess.ID)

	res = execTool(t, r, "session_list", map[string]any{"all": true})
	assert.Contains(t, res.Content, sess.ID)
}

func TestSessionFailTool(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	res := execTool(t, r, "session_create", map[string]any{
		"task":      "doomed work",
		"initiator": "backend",
	})
	var sess session.Session
	require.NoError(t, json.Unmarshal([]byte(res.Content), &sess))

	execTool(t, r, "session_fail", map[string]any{
		"session_id": sess.ID,
		"error":      "provider exploded",
	})

	res = execTool(t, r, "session_status", map[string]any{"session_id": sess.ID})
	assert.Contains(t, res.Content, string(session.StatusFailed))
}

func TestSessionStatusUnknown(t *testing.T) {
	r := BuildRegistry(newServices(t, false))

	_, err := r.Execute(context.Background(), "session_status",
		map[string]any{"session_id": "nope"})
	require.Error(t, err)
}
