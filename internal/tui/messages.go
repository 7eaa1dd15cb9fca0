package tui

import "github.com/Veraticus/the-spice-must-recur/internal/model"

type candidatesLoadedMsg struct {
	err        error
	candidates []model.DetectionCandidate
}

type decision string

const (
	decisionAccepted  decision = "accepted"
	decisionDismissed decision = "dismissed"
)

type decidedMsg struct {
	err          error
	subscription *model.Subscription
	candidateID  string
	name         string
	decision     decision
}
