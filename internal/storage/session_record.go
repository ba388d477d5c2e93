// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeranaias/chatsync/internal/util"
)

// DefaultSessionKey is the well-known key holding the session record.
const DefaultSessionKey = "chat_session"

// =============================================================================
// STORED SESSION TYPE
// =============================================================================

// StoredSession is the persisted pointer to the active conversation.
// A record without a SessionID is equivalent to no record.
type StoredSession struct {
	SessionID       string  `json:"sessionId"`
	ProjectID       *string `json:"projectId"`
	UserID          *string `json:"userId"`
	IsAuthenticated bool    `json:"isAuthenticated"`
	// LastValidated is epoch milliseconds of the last successful validation
	LastValidated *int64 `json:"lastValidated"`
	// ExpiresAt is epoch seconds; sessions currently carry no expiry
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
}

// Present reports whether the record names a session.
func (s *StoredSession) Present() bool {
	return s != nil && s.SessionID != ""
}

// Owner returns the owning user id, or "" when none was recorded.
func (s *StoredSession) Owner() string {
	if s == nil || s.UserID == nil {
		return ""
	}
	return *s.UserID
}

// Project returns the project id, or "" when none was recorded.
func (s *StoredSession) Project() string {
	if s == nil || s.ProjectID == nil {
		return ""
	}
	return *s.ProjectID
}

// LastValidatedAt returns the last validation time; zero when never validated.
func (s *StoredSession) LastValidatedAt() time.Time {
	if s == nil || s.LastValidated == nil {
		return time.Time{}
	}
	return util.FromEpochMillis(*s.LastValidated)
}

// Clone returns a deep copy so callers cannot alias stored pointers.
func (s StoredSession) Clone() StoredSession {
	out := s
	out.ProjectID = cloneString(s.ProjectID)
	out.UserID = cloneString(s.UserID)
	out.LastValidated = cloneInt64(s.LastValidated)
	out.ExpiresAt = cloneInt64(s.ExpiresAt)
	return out
}

// StringPtr returns nil for "" and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// =============================================================================
// SESSION STORE
// =============================================================================

// SessionStore reads and writes the session record at one key of a Local.
// Writes are last-writer-wins across processes; within one process the
// timestamp bump in MarkValidated is serialized against Save and Clear.
type SessionStore struct {
	mu    sync.Mutex
	local Local
	key   string
}

// NewSessionStore wraps local. An empty key selects DefaultSessionKey.
func NewSessionStore(local Local, key string) *SessionStore {
	if key == "" {
		key = DefaultSessionKey
	}
	return &SessionStore{local: local, key: key}
}

// Key returns the storage key of the record.
func (s *SessionStore) Key() string {
	return s.key
}

// Load returns the stored record, or nil when none is present.
// An unparseable record returns an error wrapping ErrCorrupted.
func (s *SessionStore) Load() (*StoredSession, error) {
	raw, ok, err := s.local.Get(s.key)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var rec StoredSession
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if !rec.Present() {
		return nil, nil
	}
	return &rec, nil
}

// Save replaces the stored record.
func (s *SessionStore) Save(rec StoredSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(rec)
}

func (s *SessionStore) save(rec StoredSession) error {
	if rec.SessionID == "" {
		return ErrEmptySessionID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session record: %w", err)
	}
	return s.local.Set(s.key, string(data))
}

// Clear erases the whole record. Clearing an absent record is a no-op.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local.Remove(s.key)
}

// ClearIf erases the record only while it still names sessionID, so an
// invalidation decided on an old record never wipes a newer one.
func (s *SessionStore) ClearIf(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Load()
	if err != nil {
		return false, err
	}
	if !rec.Present() || rec.SessionID != sessionID {
		return false, nil
	}
	if err := s.local.Remove(s.key); err != nil {
		return false, err
	}
	return true, nil
}

// MarkValidated bumps lastValidated on the stored record if it still names sessionID.
// It returns false when the record was replaced or erased in the meantime.
func (s *SessionStore) MarkValidated(sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Load()
	if err != nil {
		return false, err
	}
	if !rec.Present() || rec.SessionID != sessionID {
		return false, nil
	}
	rec.LastValidated = Int64Ptr(util.EpochMillis(at))
	if err := s.save(*rec); err != nil {
		return false, err
	}
	return true, nil
}

// ActiveSessionID returns the stored session id, or "" when none.
func (s *SessionStore) ActiveSessionID() (string, error) {
	rec, err := s.Load()
	if err != nil {
		return "", err
	}
	if !rec.Present() {
		return "", nil
	}
	return rec.SessionID, nil
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrCorrupted is returned when stored data cannot be decoded.
	// Use errors.Is(err, ErrCorrupted) to check for this error.
	ErrCorrupted = errors.New("stored data corrupted")

	// ErrEmptySessionID is returned when saving a record without a session id.
	ErrEmptySessionID = errors.New("session record has no session id")
)
