package renewal

import (
	"errors"
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
)

// ErrInvalidAction is returned for an unknown confirmation action or cost.
var ErrInvalidAction = errors.New("invalid renewal confirmation")

// Action is the user's answer to a renewal prompt.
type Action string

const (
	// ActionRenewed confirms the subscription charged again.
	ActionRenewed Action = "renewed"
	// ActionCancelled confirms the subscription was cancelled.
	ActionCancelled Action = "cancelled"
)

// ParseAction converts user input into an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionRenewed, ActionCancelled:
		return a, nil
	default:
		return "", fmt.Errorf("%w: action %q", ErrInvalidAction, s)
	}
}

// ConfirmRenewal records the user's answer for one subscription. NewCost is only
// honored for renewals.
type ConfirmRenewal struct {
	NewCost        *decimal.Decimal
	UserID         string
	SubscriptionID string
	Action         Action
}

func (c ConfirmRenewal) validate() error {
	if _, err := ParseAction(string(c.Action)); err != nil {
		return err
	}
	if c.NewCost != nil && c.NewCost.IsNegative() {
		return fmt.Errorf("%w: negative cost", ErrInvalidAction)
	}
	return nil
}

// Confirmation is the outcome of a ConfirmRenewal command.
type Confirmation struct {
	Subscription *model.Subscription
	// PriceChange is set when a renewal changed the cost.
	PriceChange *model.PriceChangeEntry
	// Savings is set for cancellations.
	Savings *Figures
}
