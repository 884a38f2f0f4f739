package stage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"automatosx/internal/errs"
)

// Status is a stage's lifecycle state within a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// StageState is the persisted record of one stage within a run.
type StageState struct {
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	Output     string     `json:"output,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
	Model      string     `json:"model,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Checkpoint is the per-run persistent record enabling resume.
type Checkpoint struct {
	RunID     string        `json:"run_id"`
	AgentName string        `json:"agent_name"`
	Task      string        `json:"task"`
	Stages    []*StageState `json:"stages"`
	Chain     []string      `json:"chain,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StageByName returns the state record for a stage.
func (c *Checkpoint) StageByName(name string) *StageState {
	for _, st := range c.Stages {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// CheckpointStore persists one JSON file per run.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates a store under the given directory.
func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{dir: dir}
}

func (s *CheckpointStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the checkpoint atomically.
func (s *CheckpointStore) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeFileWrite, "encode checkpoint", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errs.Wrap(errs.CodeFileWrite, "create checkpoints directory", err)
	}

	tmp := s.path(cp.RunID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errs.Wrap(errs.CodeFileWrite, "write checkpoint", err)
	}
	if err := os.Rename(tmp, s.path(cp.RunID)); err != nil {
		os.Remove(tmp)
		return errs.Wrap(errs.CodeFileWrite, "finalize checkpoint", err)
	}
	return nil
}

// Load reads a checkpoint by run ID.
func (s *CheckpointStore) Load(runID string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Newf(errs.CodeCheckpointNotFound, "checkpoint not found: %s", runID)
		}
		return nil, errs.Wrap(errs.CodeCheckpointNotFound, "read checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errs.Wrap(errs.CodeCheckpointNotFound, "decode checkpoint", err)
	}
	return &cp, nil
}

// List returns the run IDs with stored checkpoints, newest first.
func (s *CheckpointStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type item struct {
		id  string
		mod time.Time
	}
	var items []item
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		items = append(items, item{id: name[:len(name)-len(".json")], mod: info.ModTime()})
	}

	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].mod.After(items[j-1].mod); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}

	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.id)
	}
	return ids, nil
}

// Delete removes a run's checkpoint.
func (s *CheckpointStore) Delete(runID string) error {
	err := os.Remove(s.path(runID))
	if os.IsNotExist(err) {
		return errs.Newf(errs.CodeCheckpointNotFound, "checkpoint not found: %s", runID)
	}
	return err
}
