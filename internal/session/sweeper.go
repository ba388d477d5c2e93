// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatsync/internal/api"
	"github.com/jeranaias/chatsync/internal/storage"
)

const (
	// DefaultGracePeriod protects sessions that may still get a first message.
	DefaultGracePeriod = 5 * time.Minute

	// DefaultSweepListLimit is how many sessions one sweep inspects.
	DefaultSweepListLimit = 100
)

var errNoActiveSession = errors.New("no active session stored")

// SweepReport describes one sweep. Ids are grouped by what happened to them.
type SweepReport struct {
	Active     string   `json:"active"`
	Scanned    int      `json:"scanned"`
	TooRecent  []string `json:"too_recent,omitempty"`
	HasContent []string `json:"has_content,omitempty"`
	Skipped    []string `json:"skipped,omitempty"`
	Orphaned   []string `json:"orphaned,omitempty"`
	Deleted    []string `json:"deleted,omitempty"`
	Failed     []string `json:"failed,omitempty"`

	Aborted    bool   `json:"aborted"`
	AbortCause string `json:"abort_cause,omitempty"`
}

// =============================================================================
// SWEEPER
// =============================================================================

// Sweeper reclaims the user's empty sessions. The active session and
// sessions inside the grace window are never deleted.
type Sweeper struct {
	backend api.Backend
	store   *storage.SessionStore
	grace   time.Duration
	limit   int
	now     func() time.Time
	log     zerolog.Logger
}

// NewSweeper creates a sweeper; zero grace or limit select the defaults.
func NewSweeper(backend api.Backend, store *storage.SessionStore, grace time.Duration, limit int, log zerolog.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if limit <= 0 {
		limit = DefaultSweepListLimit
	}
	return &Sweeper{
		backend: backend,
		store:   store,
		grace:   grace,
		limit:   limit,
		now:     time.Now,
		log:     log,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Plan computes the deletion set without deleting anything.
func (s *Sweeper) Plan(ctx context.Context) SweepReport {
	var report SweepReport
	s.plan(ctx, &report)
	return report
}

// Sweep plans and then deletes every orphan, one at a time. A failed
// delete is recorded and the rest still run.
func (s *Sweeper) Sweep(ctx context.Context) SweepReport {
	var report SweepReport
	if !s.plan(ctx, &report) {
		return report
	}

	for _, id := range report.Orphaned {
		if err := ctx.Err(); err != nil {
			report.Aborted = true
			report.AbortCause = err.Error()
			break
		}
		if err := s.delete(ctx, id); err != nil {
			s.log.Warn().Str("session", id).Err(err).Msg("failed to delete orphaned session")
			report.Failed = append(report.Failed, id)
			continue
		}
		report.Deleted = append(report.Deleted, id)
	}

	if len(report.Deleted) > 0 || len(report.Failed) > 0 {
		s.log.Info().
			Int("deleted", len(report.Deleted)).
			Int("failed", len(report.Failed)).
			Int("scanned", report.Scanned).
			Msg("cleanup sweep finished")
	}
	return report
}

// plan fills report and returns false when the sweep was aborted.
func (s *Sweeper) plan(ctx context.Context, report *SweepReport) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("cleanup sweep panicked")
			report.Aborted = true
			report.AbortCause = "panic"
			report.Orphaned = nil
			ok = false
		}
	}()

	abort := func(err error) bool {
		s.log.Debug().Err(err).Msg("cleanup sweep aborted")
		report.Aborted = true
		report.AbortCause = err.Error()
		return false
	}

	active, err := s.store.ActiveSessionID()
	if err != nil {
		return abort(err)
	}
	if active == "" {
		return abort(errNoActiveSession)
	}
	report.Active = active

	sessions, err := s.backend.GetSessions(ctx, s.limit)
	if err != nil {
		return abort(err)
	}

	now := s.now()
	for _, sess := range sessions {
		if sess.ID == "" || sess.ID == active {
			continue
		}
		report.Scanned++

		// An unknown creation time cannot prove the session is past the window.
		if sess.CreatedAt.IsZero() || now.Sub(sess.CreatedAt) < s.grace {
			report.TooRecent = append(report.TooRecent, sess.ID)
			continue
		}

		msgs, err := s.backend.GetSessionMessages(ctx, sess.ID, 1, 0)
		switch {
		case err == nil && len(msgs) == 0:
			report.Orphaned = append(report.Orphaned, sess.ID)
		case err == nil:
			report.HasContent = append(report.HasContent, sess.ID)
		case isGone(err):
			report.Orphaned = append(report.Orphaned, sess.ID)
		default:
			s.log.Debug().Str("session", sess.ID).Err(err).Msg("skipping session this round")
			report.Skipped = append(report.Skipped, sess.ID)
		}
	}
	return true
}

func (s *Sweeper) delete(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("backend panic during delete")
		}
	}()
	return s.backend.DeleteSession(ctx, id)
}
