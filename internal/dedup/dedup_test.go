package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 4, 10, 15, 30, 0, 0, time.UTC)

func event(rawID, account, amount string, at time.Time) *model.RawEvent {
	return &model.RawEvent{
		ID:                   model.EventID("u1", model.SourceTransaction, rawID),
		UserID:               "u1",
		Source:               model.SourceTransaction,
		BodyOrMerchantString: "PLANET FITNESS",
		SenderOrAccountRef:   account,
		Amount:               model.MustMoney(amount, "USD"),
		OccurredAt:           at,
		RawIdentifier:        rawID,
		MerchantKey:          "PLANET FITNESS",
		IngestedAt:           at,
	}
}

func TestFingerprint(t *testing.T) {
	base := Fingerprint("acct-1", model.MustMoney("24.99", "USD"), day, "PLANET FITNESS")

	tests := []struct {
		name    string
		account string
		amount  model.Money
		date    time.Time
		key     model.MerchantKey
		same    bool
	}{
		{name: "identical", account: "acct-1", amount: model.MustMoney("24.99", "USD"), date: day, key: "PLANET FITNESS", same: true},
		{name: "same day different hour", account: "acct-1", amount: model.MustMoney("24.99", "USD"), date: day.Add(-3 * time.Hour), key: "PLANET FITNESS", same: true},
		{name: "equivalent decimal", account: "acct-1", amount: model.MustMoney("24.990", "USD"), date: day, key: "PLANET FITNESS", same: true},
		{name: "account case and spacing", account: " ACCT-1 ", amount: model.MustMoney("24.99", "USD"), date: day, key: "PLANET FITNESS", same: true},
		{name: "different account", account: "acct-2", amount: model.MustMoney("24.99", "USD"), date: day, key: "PLANET FITNESS"},
		{name: "different amount", account: "acct-1", amount: model.MustMoney("25.99", "USD"), date: day, key: "PLANET FITNESS"},
		{name: "different currency", account: "acct-1", amount: model.MustMoney("24.99", "EUR"), date: day, key: "PLANET FITNESS"},
		{name: "different day", account: "acct-1", amount: model.MustMoney("24.99", "USD"), date: day.AddDate(0, 0, 1), key: "PLANET FITNESS"},
		{name: "different merchant", account: "acct-1", amount: model.MustMoney("24.99", "USD"), date: day, key: "CRUNCH FITNESS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fingerprint(tt.account, tt.amount, tt.date, tt.key)
			assert.Len(t, got, 64)
			if tt.same {
				assert.Equal(t, base, got)
			} else {
				assert.NotEqual(t, base, got)
			}
		})
	}
}

func TestIngest_SecondIngestionIsSkipped(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	s := NewStore(mem)

	first, err := s.Ingest(ctx, event("txn-1", "acct-1", "24.99", day))
	require.NoError(t, err)
	assert.Equal(t, StatusInserted, first.Status)

	second, err := s.Ingest(ctx, event("txn-1", "acct-1", "24.99", day))
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Empty(t, second.DuplicateOf)

	events, err := mem.GetRawEventsByMerchant(ctx, "u1", "PLANET FITNESS")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestIngest_FlagsDuplicateCharge(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStore())

	first, err := s.Ingest(ctx, event("txn-1", "acct-1", "24.99", day))
	require.NoError(t, err)
	assert.Empty(t, first.DuplicateOf)

	second, err := s.Ingest(ctx, event("txn-2", "acct-1", "24.99", day.Add(2*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, StatusInserted, second.Status)
	assert.Equal(t, []string{first.EventID}, second.DuplicateOf)

	unrelated, err := s.Ingest(ctx, event("txn-3", "acct-1", "24.99", day.AddDate(0, 1, 0)))
	require.NoError(t, err)
	assert.Empty(t, unrelated.DuplicateOf)

	groups, err := s.DuplicateCharges(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Events, 2)
}

func TestIngest_EmailEventsHaveNoFingerprint(t *testing.T) {
	ctx := context.Background()
	s := NewStore(storage.NewMemoryStore())

	e := event("msg-1", "billing@example.com", "9.99", day)
	e.Source = model.SourceEmail
	e.ID = model.EventID("u1", model.SourceEmail, "msg-1")

	out, err := s.Ingest(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, StatusInserted, out.Status)
	assert.Empty(t, e.Fingerprint)
}

func TestIngest_InvalidEvent(t *testing.T) {
	s := NewStore(storage.NewMemoryStore())

	e := event("", "acct-1", "1.00", day)
	_, err := s.Ingest(context.Background(), e)
	assert.ErrorIs(t, err, storage.ErrInvalidEvent)
}
