package renewal

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
)

// PriceHistory is the recorded cost changes of one subscription with derived stats.
type PriceHistory struct {
	Current       decimal.Decimal          `json:"current"`
	Starting      decimal.Decimal          `json:"starting"`
	Subscription  model.Subscription       `json:"-"`
	Changes       []model.PriceChangeEntry `json:"changes"`
	PercentChange float64                  `json:"percent_change"`
	Count         int                      `json:"count"`
}

// PriceHistory returns the price changes of a subscription owned by userID.
func (t *Tracker) PriceHistory(ctx context.Context, userID, subscriptionID string) (*PriceHistory, error) {
	sub, err := loadOwned(ctx, t.store, userID, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	changes, err := t.store.ListPriceChanges(ctx, sub.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history: %w", err)
	}

	h := &PriceHistory{
		Subscription: *sub,
		Changes:      changes,
		Current:      sub.Cost,
		Starting:     sub.Cost,
		Count:        len(changes),
	}
	if len(changes) > 0 {
		h.Starting = changes[0].OldPrice
	}
	if !h.Starting.IsZero() {
		pct, _ := h.Current.Sub(h.Starting).Div(h.Starting).Mul(decimal.NewFromInt(100)).Round(2).Float64()
		h.PercentChange = pct
	}
	return h, nil
}
