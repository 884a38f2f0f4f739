package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	"automatosx/internal/errs"
)

// MaxSessions bounds the in-memory session map. When exceeded, terminated
// sessions are evicted oldest-first by UpdatedAt.
const MaxSessions = 100

// Manager owns all sessions. Mutations persist to a single JSON array file
// with debounced writes; Flush forces a synchronous write on shutdown.
type Manager struct {
	path        string
	maxSessions int
	logger      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	debounced    func(func())
	persistDirty bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxSessions overrides the in-memory session cap.
func WithMaxSessions(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// NewManager creates a manager persisting to path. Existing state is loaded
// leniently: malformed files yield an empty map with a warning.
func NewManager(path string, persistDebounce time.Duration, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	if persistDebounce <= 0 {
		persistDebounce = 100 * time.Millisecond
	}

	m := &Manager{
		path:        path,
		maxSessions: MaxSessions,
		logger:      logger,
		sessions:    make(map[string]*Session),
		debounced:   debounce.New(persistDebounce),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.load()
	return m
}

// load reads the persisted session list. Individual malformed entries are
// dropped; a malformed file starts empty.
func (m *Manager) load() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		m.logger.Warn().Err(err).Str("path", m.path).Msg("session file malformed, starting empty")
		return
	}

	for _, item := range raw {
		var s Session
		if err := json.Unmarshal(item, &s); err != nil || s.ID == "" {
			m.logger.Warn().Msg("dropping malformed session entry")
			continue
		}
		m.sessions[s.ID] = &s
	}
}

// schedulePersist queues a debounced write. Must be called with m.mu held.
func (m *Manager) schedulePersist() {
	m.persistDirty = true
	m.debounced(func() {
		if err := m.persist(); err != nil {
			m.logger.Error().Err(err).Msg("session persistence failed, will retry on next mutation")
		}
	})
}

// persist writes the session list atomically via temp file and rename.
func (m *Manager) persist() error {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return err
	}

	m.mu.Lock()
	m.persistDirty = false
	m.mu.Unlock()
	return nil
}

// Flush writes pending state synchronously. Call on shutdown.
func (m *Manager) Flush() error {
	return m.persist()
}

// Create starts a new active session.
func (m *Manager) Create(task, initiator string) (*Session, error) {
	if initiator == "" {
		return nil, errs.New(errs.CodeInvalidInput, "session initiator must not be empty")
	}

	s := newSession(task, initiator)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.evictLocked()
	m.schedulePersist()
	m.mu.Unlock()

	m.logger.Info().Str("session", s.ID).Str("initiator", initiator).Msg("session created")
	return s.clone(), nil
}

// evictLocked drops terminated sessions oldest-first when over the cap.
// Active sessions are never evicted.
func (m *Manager) evictLocked() {
	if len(m.sessions) <= m.maxSessions {
		return
	}

	var terminated []*Session
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			terminated = append(terminated, s)
		}
	}
	sort.Slice(terminated, func(i, j int) bool {
		return terminated[i].UpdatedAt.Before(terminated[j].UpdatedAt)
	})

	for _, s := range terminated {
		if len(m.sessions) <= m.maxSessions {
			break
		}
		delete(m.sessions, s.ID)
		m.logger.Debug().Str("session", s.ID).Msg("evicted terminated session")
	}
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, errs.Newf(errs.CodeSessionNotFound, "session not found: %s", id)
	}
	return s.clone(), nil
}

// AddAgent appends an agent to a session's participant list. Adding an
// agent that is already present is a no-op.
func (m *Manager) AddAgent(id, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return errs.Newf(errs.CodeSessionNotFound, "session not found: %s", id)
	}
	if s.hasAgent(agent) {
		return nil
	}

	s.Agents = append(s.Agents, agent)
	s.UpdatedAt = time.Now().UTC()
	m.schedulePersist()
	return nil
}

// Active returns all active sessions, newest activity first.
func (m *Manager) Active() []*Session {
	return m.filter(func(s *Session) bool { return s.Status == StatusActive })
}

// ActiveForAgent returns active sessions that include the given agent,
// newest activity first.
func (m *Manager) ActiveForAgent(agent string) []*Session {
	return m.filter(func(s *Session) bool { return s.Status == StatusActive && s.hasAgent(agent) })
}

// All returns every session, newest activity first.
func (m *Manager) All() []*Session {
	return m.filter(func(s *Session) bool { return true })
}

func (m *Manager) filter(keep func(*Session) bool) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Complete transitions a session to completed. Completing a terminated
// session is a warned no-op.
func (m *Manager) Complete(id string) error {
	return m.terminate(id, StatusCompleted, nil)
}

// Fail transitions a session to failed, recording the error in metadata.
func (m *Manager) Fail(id string, cause error) error {
	meta := map[string]any{}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	return m.terminate(id, StatusFailed, meta)
}

func (m *Manager) terminate(id string, status Status, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		m.logger.Warn().Str("session", id).Msg("terminating unknown session")
		return errs.Newf(errs.CodeSessionNotFound, "session not found: %s", id)
	}
	if s.Status != StatusActive {
		m.logger.Warn().Str("session", id).Str("status", string(s.Status)).
			Msg("session already terminated")
		return nil
	}

	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	for k, v := range meta {
		if s.Metadata == nil {
			s.Metadata = make(map[string]any)
		}
		s.Metadata[k] = v
	}

	m.schedulePersist()
	m.logger.Info().Str("session", id).Str("status", string(status)).Msg("session terminated")
	return nil
}

// UpdateMetadata shallow-merges a patch into a session's metadata.
func (m *Manager) UpdateMetadata(id string, patch map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return errs.Newf(errs.CodeSessionNotFound, "session not found: %s", id)
	}

	if s.Metadata == nil {
		s.Metadata = make(map[string]any)
	}
	for k, v := range patch {
		s.Metadata[k] = v
	}
	s.UpdatedAt = time.Now().UTC()
	m.schedulePersist()
	return nil
}

// CleanupOldSessions removes terminated sessions older than the retention
// window. Active sessions are never removed by age. Returns the count.
func (m *Manager) CleanupOldSessions(days int) int {
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int
	for id, s := range m.sessions {
		if s.Status != StatusActive && s.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.schedulePersist()
		m.logger.Info().Int("removed", removed).Msg("old sessions cleaned up")
	}
	return removed
}
