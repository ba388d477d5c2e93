// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/chatsync/internal/session"
	"github.com/jeranaias/chatsync/internal/ui/styles"
	"github.com/jeranaias/chatsync/internal/util"
)

// maxEvents is how many notifications the view keeps.
const maxEvents = 8

// refreshInterval drives the age column.
const refreshInterval = time.Second

// Syncer is the part of the sync manager the view drives.
type Syncer interface {
	ForceSync(ctx context.Context) session.SyncResult
	State() session.Status
	LastResult() session.SyncResult
}

// Resolver is the part of the acquirer the view drives.
type Resolver interface {
	Resolve(ctx context.Context, sessionID, projectID string) (session.State, error)
	CreateSession(ctx context.Context) (session.State, error)
	ClearSession() error
	State() session.State
}

// =============================================================================
// MESSAGES
// =============================================================================

type eventMsg struct{ ev session.Event }

type eventsClosedMsg struct{}

type syncDoneMsg struct{ result session.SyncResult }

type acquireDoneMsg struct {
	state session.State
	err   error
}

type tickMsg time.Time

// =============================================================================
// MODEL
// =============================================================================

// Model is the Bubble Tea model of the session monitor.
type Model struct {
	ctx      context.Context
	syncer   Syncer
	resolver Resolver
	events   <-chan session.Event
	theme    *styles.Theme
	now      func() time.Time

	state   session.State
	last    session.SyncResult
	recent  []session.Event
	busy    string
	lastErr error
	width   int
}

// New creates the monitor. events may be nil when no broker is attached.
func New(ctx context.Context, syncer Syncer, resolver Resolver, events <-chan session.Event) Model {
	return Model{
		ctx:      ctx,
		syncer:   syncer,
		resolver: resolver,
		events:   events,
		theme:    styles.NewTheme(),
		now:      time.Now,
		state:    resolver.State(),
		last:     syncer.LastResult(),
	}
}

// WithClock overrides the clock used for ages.
func (m Model) WithClock(now func() time.Time) Model {
	m.now = now
	return m
}

// Init resolves the session and starts listening for events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.resolveCmd(), m.waitForEvent(), tick())
}

// Update handles key presses, manager events and command results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case eventMsg:
		m.recent = append(m.recent, msg.ev)
		if len(m.recent) > maxEvents {
			m.recent = m.recent[len(m.recent)-maxEvents:]
		}
		m.state = m.resolver.State()
		m.last = m.syncer.LastResult()
		cmds := []tea.Cmd{m.waitForEvent()}
		// A cleared session is replaced by a fresh one.
		if msg.ev.Type == session.EventCleared && !m.state.HasSession() {
			m.busy = "creating session"
			cmds = append(cmds, m.resolveCmd())
		}
		return m, tea.Batch(cmds...)

	case eventsClosedMsg:
		m.events = nil
		return m, nil

	case syncDoneMsg:
		m.busy = ""
		m.last = msg.result
		m.state = m.resolver.State()
		return m, nil

	case acquireDoneMsg:
		m.busy = ""
		m.lastErr = msg.err
		m.state = msg.state
		return m, nil

	case tickMsg:
		return m, tick()
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "s":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "syncing"
		return m, m.syncCmd()
	case "n":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "creating session"
		return m, m.newSessionCmd()
	case "c":
		if err := m.resolver.ClearSession(); err != nil {
			m.lastErr = err
		} else {
			m.lastErr = nil
		}
		m.state = m.resolver.State()
		return m, nil
	case "r":
		if m.busy != "" {
			return m, nil
		}
		m.busy = "resolving"
		return m, m.resolveCmd()
	}
	return m, nil
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) waitForEvent() tea.Cmd {
	ch := m.events
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{ev: ev}
	}
}

func (m Model) syncCmd() tea.Cmd {
	ctx, syncer := m.ctx, m.syncer
	return func() tea.Msg {
		return syncDoneMsg{result: syncer.ForceSync(ctx)}
	}
}

func (m Model) resolveCmd() tea.Cmd {
	ctx, resolver := m.ctx, m.resolver
	return func() tea.Msg {
		st, err := resolver.Resolve(ctx, "", "")
		return acquireDoneMsg{state: st, err: err}
	}
}

func (m Model) newSessionCmd() tea.Cmd {
	ctx, resolver := m.ctx, m.resolver
	return func() tea.Msg {
		if err := resolver.ClearSession(); err != nil {
			return acquireDoneMsg{state: resolver.State(), err: err}
		}
		st, err := resolver.CreateSession(ctx)
		return acquireDoneMsg{state: st, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// =============================================================================
// VIEW
// =============================================================================

// View renders the monitor.
func (m Model) View() string {
	t := m.theme
	var b strings.Builder

	b.WriteString(t.Title.Render("chatsync monitor"))
	b.WriteString("  ")
	b.WriteString(t.Muted.Render("manager " + m.syncer.State().String()))
	b.WriteString("\n")

	b.WriteString(t.Section.Render("Session"))
	b.WriteString("\n")
	b.WriteString(m.sessionView())

	b.WriteString(t.Section.Render("Last sync"))
	b.WriteString("\n")
	b.WriteString(m.syncView())

	b.WriteString(t.Section.Render("Events"))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(t.Muted.Render("  none yet"))
		b.WriteString("\n")
	}
	for i := len(m.recent) - 1; i >= 0; i-- {
		b.WriteString("  ")
		b.WriteString(m.eventLine(m.recent[i]))
		b.WriteString("\n")
	}

	if m.busy != "" {
		b.WriteString("\n")
		b.WriteString(t.Warning.Render(styles.StatusIndicators.Pending + " " + m.busy + "..."))
		b.WriteString("\n")
	}
	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(t.Error.Render(styles.StatusIndicators.Error + " " + m.lastErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.keysView())
	return b.String()
}

func (m Model) sessionView() string {
	t := m.theme
	st := m.state
	var rows []string

	switch {
	case st.IsLoading:
		rows = append(rows, t.Row("State", t.Warning.Render(styles.StatusIndicators.Pending+" loading")))
	case st.HasSession():
		rows = append(rows, t.Row("Session", t.ID.Render(st.SessionID)))
	default:
		rows = append(rows, t.Row("Session", t.Muted.Render("none")))
	}
	if st.ProjectID != "" {
		rows = append(rows, t.Row("Project", st.ProjectID))
	}
	rows = append(rows, t.Row("Authenticated", yesNo(st.IsAuthenticated)))
	if st.ExpiresAt != 0 {
		exp := time.Unix(st.ExpiresAt, 0)
		label := exp.Format(time.RFC3339)
		if st.IsSessionExpired {
			label = t.Error.Render("expired " + label)
		}
		rows = append(rows, t.Row("Expires", label))
	}
	return t.Box.Render(strings.Join(rows, "\n")) + "\n"
}

func (m Model) syncView() string {
	t := m.theme
	r := m.last
	if r.At.IsZero() {
		return t.Muted.Render("  no pass yet") + "\n"
	}

	var rows []string
	rows = append(rows, t.Row("When", util.FormatAge(m.now().Sub(r.At))+" ago"))
	switch {
	case !r.Present:
		rows = append(rows, t.Row("Result", t.Muted.Render("no stored session")))
	case !r.Checked:
		rows = append(rows, t.Row("Result", t.Muted.Render("fresh, not rechecked")))
	case r.Valid:
		rows = append(rows, t.Row("Result", t.Indicator(true, "valid")))
	default:
		rows = append(rows, t.Row("Result", t.Indicator(false, string(r.Reason))))
	}
	if r.Erased {
		rows = append(rows, t.Row("Erased", r.SessionID))
	}
	if s := r.Sweep; s != nil {
		if s.Aborted {
			rows = append(rows, t.Row("Sweep", t.Warning.Render("aborted: "+s.AbortCause)))
		} else {
			rows = append(rows, t.Row("Sweep", fmt.Sprintf("%d scanned, %d deleted, %d failed",
				s.Scanned, len(s.Deleted), len(s.Failed))))
		}
	}
	return t.Box.Render(strings.Join(rows, "\n")) + "\n"
}

func (m Model) eventLine(ev session.Event) string {
	t := m.theme
	at := ev.At.Format("15:04:05")
	switch ev.Type {
	case session.EventCleared:
		return t.Muted.Render(at) + " " + t.Error.Render("cleared") + " " + ev.SessionID + " " + t.Muted.Render(string(ev.Reason))
	default:
		return t.Muted.Render(at) + " " + t.Success.Render(string(ev.Type)) + " " + ev.SessionID
	}
}

func (m Model) keysView() string {
	t := m.theme
	keys := []struct{ key, label string }{
		{"s", "sync"},
		{"n", "new session"},
		{"c", "clear"},
		{"r", "resolve"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, t.KeyHint.Render(k.key)+" "+t.KeyLabel.Render(k.label))
	}
	return strings.Join(parts, "  ")
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
