package stage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/errs"
)

func TestCheckpointSaveLoad(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	started := time.Now().UTC().Truncate(time.Second)
	cp := &Checkpoint{
		RunID:     "run-1",
		AgentName: "backend",
		Task:      "implement the API",
		Chain:     []string{"product"},
		CreatedAt: started,
		Stages: []*StageState{
			{Name: "plan", Status: StatusCompleted, Output: "the plan", TokensUsed: 120, Model: "sonnet"},
			{Name: "impl", Status: StatusPending},
		},
	}
	require.NoError(t, store.Save(cp))
	assert.False(t, cp.UpdatedAt.IsZero())

	got, err := store.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, "backend", got.AgentName)
	assert.Equal(t, []string{"product"}, got.Chain)
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "the plan", got.StageByName("plan").Output)
	assert.Equal(t, StatusPending, got.StageByName("impl").Status)
	assert.Nil(t, got.StageByName("ghost"))
}

func TestCheckpointLoadMissing(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	_, err := store.Load("nope")
	require.Error(t, err)
	assert.Equal(t, errs.CodeCheckpointNotFound, errs.CodeOf(err))
}

func TestCheckpointLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0644))

	store := NewCheckpointStore(dir)
	_, err := store.Load("bad")
	require.Error(t, err)
	assert.Equal(t, errs.CodeCheckpointNotFound, errs.CodeOf(err))
}

func TestCheckpointListNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store := NewCheckpointStore(dir)

	require.NoError(t, store.Save(&Checkpoint{RunID: "old"}))
	require.NoError(t, store.Save(&Checkpoint{RunID: "new"}))
	// ReadDir mtimes need to differ for ordering to be observable.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.json"), past, past))

	ids, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids)
}

func TestCheckpointListMissingDir(t *testing.T) {
	store := NewCheckpointStore(filepath.Join(t.TempDir(), "never-created"))
	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCheckpointDelete(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	require.NoError(t, store.Save(&Checkpoint{RunID: "gone"}))
	require.NoError(t, store.Delete("gone"))

	_, err := store.Load("gone")
	require.Error(t, err)

	err = store.Delete("gone")
	assert.Equal(t, errs.CodeCheckpointNotFound, errs.CodeOf(err))
}
