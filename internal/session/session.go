// Package session maintains multi-agent sessions and their persistence.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Session records one multi-agent collaboration. The agents list is unique,
// insertion-ordered, and always begins with the initiator.
type Session struct {
	ID        string         `json:"id"`
	Initiator string         `json:"initiator"`
	Task      string         `json:"task"`
	Agents    []string       `json:"agents"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// newSession creates an active session owned by the initiator.
func newSession(task, initiator string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:        uuid.NewString(),
		Initiator: initiator,
		Task:      task,
		Agents:    []string{initiator},
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// hasAgent reports whether name is already in the agents list.
func (s *Session) hasAgent(name string) bool {
	for _, a := range s.Agents {
		if a == name {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers cannot mutate manager state.
func (s *Session) clone() *Session {
	c := *s
	c.Agents = append([]string(nil), s.Agents...)
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
