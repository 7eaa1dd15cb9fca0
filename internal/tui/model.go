// Package tui provides the interactive candidate review screen.
package tui

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/tui/themes"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// Stats counts the decisions made in one review session.
type Stats struct {
	Accepted  int
	Dismissed int
	Skipped   int
}

// Model holds the review screen state.
type Model struct {
	theme      themes.Theme
	lastError  error
	help       help.Model
	config     Config
	status     string
	keymap     KeyMap
	candidates []model.DetectionCandidate
	table      table.Model
	stats      Stats
	width      int
	height     int
	loading    bool
	busy       bool
	quitting   bool
}

// New creates a review model for userID's pending candidates.
func New(reviewer Reviewer, userID string, opts ...Option) Model {
	cfg := defaultConfig()
	cfg.Reviewer = reviewer
	cfg.UserID = userID
	for _, opt := range opts {
		opt(&cfg)
	}

	t := table.New(
		table.WithColumns(columns(cfg.Width)),
		table.WithFocused(true),
		table.WithHeight(tableHeight(cfg.Height)),
	)
	styles := table.DefaultStyles()
	styles.Header = cfg.Theme.Header
	styles.Selected = cfg.Theme.Selected
	t.SetStyles(styles)

	h := help.New()
	h.ShowAll = cfg.ShowHelp

	return Model{
		theme:   cfg.Theme,
		config:  cfg,
		keymap:  DefaultKeyMap(),
		help:    h,
		table:   t,
		width:   cfg.Width,
		height:  cfg.Height,
		loading: true,
	}
}

// Stats returns the decisions made so far.
func (m Model) Stats() Stats {
	return m.stats
}

// Remaining returns the candidates still awaiting a decision.
func (m Model) Remaining() []model.DetectionCandidate {
	return m.candidates
}

// Init loads the pending candidates.
func (m Model) Init() tea.Cmd {
	return m.loadCandidates()
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetColumns(columns(msg.Width))
		m.table.SetHeight(tableHeight(msg.Height))
		m.help.Width = msg.Width
		return m, nil

	case candidatesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		m.lastError = nil
		m.candidates = msg.candidates
		m.refreshRows()
		if len(m.candidates) == 0 {
			m.status = "No pending candidates."
		}
		return m, nil

	case decidedMsg:
		m.busy = false
		if msg.err != nil {
			m.lastError = msg.err
			return m, nil
		}
		m.lastError = nil
		m.remove(msg.candidateID)
		switch msg.decision {
		case decisionAccepted:
			m.stats.Accepted++
			m.status = fmt.Sprintf("Accepted %s as a %s subscription.", msg.name, msg.subscription.Cadence)
		case decisionDismissed:
			m.stats.Dismissed++
			m.status = fmt.Sprintf("Dismissed %s.", msg.name)
		}
		if len(m.candidates) == 0 {
			m.status += " All candidates reviewed."
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keymap.ForceQuit), key.Matches(msg, m.keymap.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keymap.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	}

	if m.loading || m.busy {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keymap.Accept):
		if c := m.selected(); c != nil {
			m.busy = true
			return m, m.accept(*c)
		}
		return m, nil
	case key.Matches(msg, m.keymap.Dismiss):
		if c := m.selected(); c != nil {
			m.busy = true
			return m, m.dismiss(*c)
		}
		return m, nil
	case key.Matches(msg, m.keymap.Skip):
		if m.selected() != nil {
			m.stats.Skipped++
			m.table.MoveDown(1)
		}
		return m, nil
	case key.Matches(msg, m.keymap.Refresh):
		m.loading = true
		return m, m.loadCandidates()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) selected() *model.DetectionCandidate {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.candidates) {
		return nil
	}
	return &m.candidates[i]
}

func (m *Model) remove(candidateID string) {
	for i, c := range m.candidates {
		if c.ID == candidateID {
			m.candidates = append(m.candidates[:i:i], m.candidates[i+1:]...)
			break
		}
	}
	m.refreshRows()
}

func (m *Model) refreshRows() {
	rows := make([]table.Row, 0, len(m.candidates))
	for _, c := range m.candidates {
		rows = append(rows, candidateRow(c))
	}
	m.table.SetRows(rows)
	if n := len(rows); n > 0 && m.table.Cursor() >= n {
		m.table.SetCursor(n - 1)
	}
}

func (m Model) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.config.Timeout)
}

func (m Model) loadCandidates() tea.Cmd {
	reviewer, userID := m.config.Reviewer, m.config.UserID
	status := model.CandidatePending
	filter := service.CandidateFilter{Status: &status, MinConfidence: m.config.MinConfidence}
	return func() tea.Msg {
		ctx, cancel := m.context()
		defer cancel()
		candidates, err := reviewer.Candidates(ctx, userID, filter)
		return candidatesLoadedMsg{candidates: candidates, err: err}
	}
}

func (m Model) accept(c model.DetectionCandidate) tea.Cmd {
	reviewer, userID := m.config.Reviewer, m.config.UserID
	return func() tea.Msg {
		ctx, cancel := m.context()
		defer cancel()
		sub, err := reviewer.Accept(ctx, lifecycle.AcceptCandidate{UserID: userID, CandidateID: c.ID})
		return decidedMsg{
			candidateID:  c.ID,
			name:         c.ProposedName,
			decision:     decisionAccepted,
			subscription: sub,
			err:          err,
		}
	}
}

func (m Model) dismiss(c model.DetectionCandidate) tea.Cmd {
	reviewer, userID := m.config.Reviewer, m.config.UserID
	return func() tea.Msg {
		ctx, cancel := m.context()
		defer cancel()
		_, err := reviewer.Dismiss(ctx, lifecycle.DismissCandidate{UserID: userID, CandidateID: c.ID})
		return decidedMsg{
			candidateID: c.ID,
			name:        c.ProposedName,
			decision:    decisionDismissed,
			err:         err,
		}
	}
}
