// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/identity"
	"github.com/jeranaias/chatsync/internal/storage"
)

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator decides whether a stored session is still usable.
type Validator struct {
	backend api.Backend
	ids     identity.Provider
	log     zerolog.Logger
}

// NewValidator creates a validator. ids may be nil for anonymous clients.
func NewValidator(backend api.Backend, ids identity.Provider, log zerolog.Logger) *Validator {
	return &Validator{backend: backend, ids: ids, log: log}
}

// Validate classifies rec. It never fails: ownership mismatch is decided
// without a network call, 403/404 on a one-message read are authoritative,
// and any other failure of the read is treated as valid.
func (v *Validator) Validate(ctx context.Context, rec storage.StoredSession) (result ValidationResult) {
	result = ValidationResult{Session: rec}

	defer func() {
		if r := recover(); r != nil {
			v.log.Error().Str("session", rec.SessionID).Interface("panic", r).Msg("validation failed, record treated as corrupted")
			result = ValidationResult{IsValid: false, Reason: ReasonCorrupted, Session: rec}
		}
	}()

	if rec.SessionID == "" {
		result.Reason = ReasonCorrupted
		return result
	}

	if v.ids != nil {
		if id, ok := v.ids.Current(); ok && rec.UserID != nil && *rec.UserID != id.ID {
			v.log.Info().Str("session", rec.SessionID).Msg("stored session belongs to another user")
			result.Reason = ReasonUserMismatch
			return result
		}
	}

	err := v.probe(ctx, rec.SessionID)
	if err == nil {
		result.IsValid = true
		return result
	}

	if reason := reasonForStatus(api.StatusOf(err)); reason != ReasonNone {
		v.log.Info().Str("session", rec.SessionID).Str("reason", string(reason)).Msg("stored session is gone")
		result.Reason = reason
		return result
	}

	v.log.Warn().Str("session", rec.SessionID).Err(err).Msg("validation inconclusive, keeping session")
	result.IsValid = true
	return result
}

// probe reads at most one message. A panic inside the backend call counts
// as a read failure, not as corruption of the record.
func (v *Validator) probe(ctx context.Context, sessionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	_, err = v.backend.GetSessionMessages(ctx, sessionID, 1, 0)
	return err
}
