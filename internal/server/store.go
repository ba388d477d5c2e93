// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jeranaias/chatsync/internal/api"
)

var (
	// ErrNotFound means no session has the id.
	ErrNotFound = errors.New("session not found")
	// ErrForbidden means the session belongs to another user.
	ErrForbidden = errors.New("session belongs to another user")
)

type sessionRow struct {
	id        string
	projectID string
	owner     string
	title     string
	createdAt time.Time
	messages  []api.Message
}

// Store holds sessions in memory.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionRow
	current  map[string]string
	projects map[string]string
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*sessionRow),
		current:  make(map[string]string),
		projects: make(map[string]string),
		now:      time.Now,
	}
}

// GetOrCreate returns the user's current session, creating one when the
// user has none or it was deleted.
func (s *Store) GetOrCreate(owner string) api.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.current[owner]; ok {
		if row, ok := s.sessions[id]; ok {
			return row.info()
		}
	}

	row := s.insert(owner, s.now())
	s.current[owner] = row.id
	return row.info()
}

// Create adds a session for owner with an explicit creation time.
func (s *Store) Create(owner string, createdAt time.Time) api.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(owner, createdAt).info()
}

// insert must be called with mu held.
func (s *Store) insert(owner string, createdAt time.Time) *sessionRow {
	project, ok := s.projects[owner]
	if !ok {
		project = ulid.Make().String()
		s.projects[owner] = project
	}
	row := &sessionRow{
		id:        ulid.Make().String(),
		projectID: project,
		owner:     owner,
		createdAt: createdAt.UTC(),
	}
	s.sessions[row.id] = row
	return row
}

// List returns up to limit of owner's sessions, newest first.
func (s *Store) List(owner string, limit int) []api.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]api.SessionSummary, 0)
	for _, row := range s.sessions {
		if row.owner == owner {
			out = append(out, row.summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Messages returns a page of a session's messages.
func (s *Store) Messages(owner, id string, limit, offset int) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.owned(owner, id)
	if err != nil {
		return nil, err
	}
	if offset >= len(row.messages) {
		return []api.Message{}, nil
	}
	end := len(row.messages)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]api.Message(nil), row.messages[offset:end]...), nil
}

// Append adds a message and returns it.
func (s *Store) Append(owner, id, role, content string) (api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := s.owned(owner, id)
	if err != nil {
		return api.Message{}, err
	}
	msg := api.Message{
		ID:        ulid.Make().String(),
		Role:      role,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}
	row.messages = append(row.messages, msg)
	if row.title == "" && role == "user" {
		row.title = truncate(content, 48)
	}
	return msg, nil
}

// Delete removes a session.
func (s *Store) Delete(owner, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(owner, id); err != nil {
		return err
	}
	delete(s.sessions, id)
	if s.current[owner] == id {
		delete(s.current, owner)
	}
	return nil
}

// Len returns the number of sessions across all users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// owned must be called with mu held.
func (s *Store) owned(owner, id string) (*sessionRow, error) {
	row, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if row.owner != owner {
		return nil, ErrForbidden
	}
	return row, nil
}

func (r *sessionRow) info() api.SessionInfo {
	project := r.projectID
	info := api.SessionInfo{
		SessionID:       r.id,
		ProjectID:       &project,
		IsAuthenticated: r.owner != AnonymousUser,
	}
	if r.owner != AnonymousUser {
		owner := r.owner
		info.UserID = &owner
	}
	return info
}

func (r *sessionRow) summary() api.SessionSummary {
	project := r.projectID
	return api.SessionSummary{
		ID:           r.id,
		ProjectID:    &project,
		Title:        r.title,
		CreatedAt:    r.createdAt,
		MessageCount: len(r.messages),
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
