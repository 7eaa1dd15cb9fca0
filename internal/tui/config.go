package tui

import (
	"context"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/Veraticus/the-spice-must-recur/internal/tui/themes"
)

// Reviewer is the part of the candidate lifecycle the review screen drives.
type Reviewer interface {
	Candidates(ctx context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error)
	Accept(ctx context.Context, cmd lifecycle.AcceptCandidate) (*model.Subscription, error)
	Dismiss(ctx context.Context, cmd lifecycle.DismissCandidate) (*model.DetectionCandidate, error)
}

// Config holds TUI configuration.
type Config struct {
	Theme         themes.Theme
	Reviewer      Reviewer
	UserID        string
	MinConfidence float64
	Timeout       time.Duration
	Width         int
	Height        int
	ShowHelp      bool
}

// Option is a functional option for configuring the TUI.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		Theme:    themes.Default,
		Timeout:  10 * time.Second,
		Width:    100,
		Height:   24,
		ShowHelp: false,
	}
}

// WithTheme sets the theme.
func WithTheme(theme themes.Theme) Option {
	return func(c *Config) { c.Theme = theme }
}

// WithMinConfidence hides candidates below the given confidence.
func WithMinConfidence(minConfidence float64) Option {
	return func(c *Config) { c.MinConfidence = minConfidence }
}
