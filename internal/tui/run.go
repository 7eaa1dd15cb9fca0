package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
)

// Run opens the review screen for userID and blocks until the user quits.
func Run(ctx context.Context, reviewer Reviewer, userID string, opts ...Option) (Stats, error) {
	if reviewer == nil {
		return Stats{}, errors.New("reviewer is required")
	}

	p := tea.NewProgram(New(reviewer, userID, opts...), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return Stats{}, fmt.Errorf("review session failed: %w", err)
	}

	m, ok := final.(Model)
	if !ok {
		return Stats{}, fmt.Errorf("unexpected model type %T", final)
	}
	return m.Stats(), nil
}
