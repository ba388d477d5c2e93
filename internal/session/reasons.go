// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"net/http"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/storage"
)

// Reason explains why a stored session was judged invalid.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotFound           Reason = "not_found"
	ReasonAccessDenied       Reason = "access_denied"
	ReasonUserMismatch       Reason = "user_mismatch"
	ReasonCorrupted          Reason = "corrupted"
	ReasonSessionNotFound403 Reason = "session_not_found_403"
	ReasonSessionNotFound404 Reason = "session_not_found_404"
)

// ValidationResult is the outcome of Validator.Validate.
// Reason is set only when IsValid is false.
type ValidationResult struct {
	IsValid bool                  `json:"is_valid"`
	Reason  Reason                `json:"reason,omitempty"`
	Session storage.StoredSession `json:"session"`
}

// reasonForStatus maps the two authoritative statuses; everything else is "".
func reasonForStatus(status int) Reason {
	switch status {
	case http.StatusForbidden:
		return ReasonSessionNotFound403
	case http.StatusNotFound:
		return ReasonSessionNotFound404
	default:
		return ReasonNone
	}
}

// isGone reports whether err is a 403 or 404 from the backend.
func isGone(err error) bool {
	return reasonForStatus(api.StatusOf(err)) != ReasonNone
}
