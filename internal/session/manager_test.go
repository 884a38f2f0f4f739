package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/errs"
)

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sessions", "sessions.json")
	return NewManager(path, time.Millisecond, zerolog.Nop(), opts...), path
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("build the api", "backend")
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, []string{"backend"}, s.Agents)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestGetMissing(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get("nope")
	require.Error(t, err)
	assert.Equal(t, errs.CodeSessionNotFound, errs.CodeOf(err))
}

func TestAddAgentIdempotent(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("task", "backend")
	require.NoError(t, err)

	require.NoError(t, m.AddAgent(s.ID, "frontend"))
	require.NoError(t, m.AddAgent(s.ID, "frontend"))
	require.NoError(t, m.AddAgent(s.ID, "backend"))

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"backend", "frontend"}, got.Agents)
}

func TestLifecycleTransitions(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("task", "backend")
	require.NoError(t, err)

	require.NoError(t, m.Complete(s.ID))
	got, _ := m.Get(s.ID)
	assert.Equal(t, StatusCompleted, got.Status)

	// Terminal transitions are idempotent no-ops.
	require.NoError(t, m.Fail(s.ID, errors.New("late failure")))
	got, _ = m.Get(s.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Empty(t, got.Metadata)
}

func TestFailRecordsError(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("task", "backend")
	require.NoError(t, err)

	require.NoError(t, m.Fail(s.ID, errors.New("provider exploded")))
	got, _ := m.Get(s.ID)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "provider exploded", got.Metadata["error"])
}

func TestActiveForAgentOrder(t *testing.T) {
	m, _ := newTestManager(t)

	first, err := m.Create("first", "backend")
	require.NoError(t, err)
	second, err := m.Create("second", "backend")
	require.NoError(t, err)
	done, err := m.Create("done", "backend")
	require.NoError(t, err)
	require.NoError(t, m.Complete(done.ID))

	// Touch the first session so it becomes the most recently updated.
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, m.AddAgent(first.ID, "frontend"))

	active := m.ActiveForAgent("backend")
	require.Len(t, active, 2)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, second.ID, active[1].ID)

	assert.Empty(t, m.ActiveForAgent("devops"))
}

func TestUpdateMetadataShallowMerge(t *testing.T) {
	m, _ := newTestManager(t)

	s, err := m.Create("task", "backend")
	require.NoError(t, err)

	require.NoError(t, m.UpdateMetadata(s.ID, map[string]any{"a": 1, "b": "x"}))
	require.NoError(t, m.UpdateMetadata(s.ID, map[string]any{"b": "y"}))

	got, _ := m.Get(s.ID)
	assert.Equal(t, 1, got.Metadata["a"])
	assert.Equal(t, "y", got.Metadata["b"])
}

func TestPersistAndReload(t *testing.T) {
	m, path := newTestManager(t)

	s, err := m.Create("persisted", "backend")
	require.NoError(t, err)
	require.NoError(t, m.Flush())

	reloaded := NewManager(path, time.Millisecond, zerolog.Nop())
	got, err := reloaded.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Task)
}

func TestLoadMalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	m := NewManager(path, time.Millisecond, zerolog.Nop())
	assert.Empty(t, m.All())
}

func TestLoadDropsMalformedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	good := newSession("ok", "backend")
	data, _ := json.Marshal([]any{good, "garbage", map[string]any{"no": "id"}})
	require.NoError(t, os.WriteFile(path, data, 0644))

	m := NewManager(path, time.Millisecond, zerolog.Nop())
	all := m.All()
	require.Len(t, all, 1)
	assert.Equal(t, good.ID, all[0].ID)
}

func TestEvictionSparesActive(t *testing.T) {
	m, _ := newTestManager(t, WithMaxSessions(3))

	keep, err := m.Create("active stays", "backend")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s, err := m.Create("terminated", "backend")
		require.NoError(t, err)
		require.NoError(t, m.Complete(s.ID))
	}

	_, err = m.Get(keep.ID)
	assert.NoError(t, err)
	assert.LessOrEqual(t, len(m.All()), 3+1)
}

func TestCleanupOldSessions(t *testing.T) {
	m, _ := newTestManager(t)

	old, err := m.Create("old", "backend")
	require.NoError(t, err)
	require.NoError(t, m.Complete(old.ID))

	// Backdate the terminated session past the retention window.
	m.mu.Lock()
	m.sessions[old.ID].UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)
	m.mu.Unlock()

	activeOld, err := m.Create("active old", "backend")
	require.NoError(t, err)
	m.mu.Lock()
	m.sessions[activeOld.ID].UpdatedAt = time.Now().UTC().AddDate(0, 0, -60)
	m.mu.Unlock()

	removed := m.CleanupOldSessions(30)
	assert.Equal(t, 1, removed)

	_, err = m.Get(old.ID)
	assert.Error(t, err)
	_, err = m.Get(activeOld.ID)
	assert.NoError(t, err)
}
