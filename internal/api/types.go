// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"time"
)

// Backend is the subset of the chat backend the session core talks to.
type Backend interface {
	// GetOrCreateSession returns the caller's current session, creating one
	// server-side when needed.
	GetOrCreateSession(ctx context.Context) (*SessionInfo, error)

	// GetSessionMessages returns up to limit messages starting at offset.
	GetSessionMessages(ctx context.Context, sessionID string, limit, offset int) ([]Message, error)

	// GetSessions lists up to limit of the caller's sessions, newest first.
	GetSessions(ctx context.Context, limit int) ([]SessionSummary, error)

	// DeleteSession removes a session server-side.
	DeleteSession(ctx context.Context, sessionID string) error
}

// SessionInfo is the backend's answer to get-or-create.
type SessionInfo struct {
	SessionID       string  `json:"session_id"`
	ProjectID       *string `json:"project_id"`
	UserID          *string `json:"user_id"`
	IsAuthenticated bool    `json:"is_authenticated"`
}

// Message is a single chat message. The core only counts them.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is one row of the session listing.
// CreatedAt is the zero time when the backend did not report it.
type SessionSummary struct {
	ID           string    `json:"id"`
	ProjectID    *string   `json:"project_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Envelopes used on the wire.

type messagesResponse struct {
	Messages []Message `json:"messages"`
}

type sessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ErrorBody is the JSON error envelope the backend returns.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the inner part of ErrorBody.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
