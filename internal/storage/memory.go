package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
)

// MemoryStore is an in-process service.Store. Atomically holds the store lock for the
// whole callback and restores the previous state when the callback fails.
type MemoryStore struct {
	state *memState
	mu    sync.Mutex
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	users         map[string]time.Time
	events        map[string]model.RawEvent
	eventKeys     map[string]string
	candidates    map[string]model.DetectionCandidate
	subscriptions map[string]model.Subscription
	priceChanges  []model.PriceChangeEntry
	audit         []model.AuditEntry
}

func newMemState() *memState {
	return &memState{
		users:         make(map[string]time.Time),
		events:        make(map[string]model.RawEvent),
		eventKeys:     make(map[string]string),
		candidates:    make(map[string]model.DetectionCandidate),
		subscriptions: make(map[string]model.Subscription),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.eventKeys {
		c.eventKeys[k] = v
	}
	for k, v := range s.candidates {
		c.candidates[k] = copyCandidate(v)
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = copySubscription(v)
	}
	c.priceChanges = append([]model.PriceChangeEntry(nil), s.priceChanges...)
	c.audit = append([]model.AuditEntry(nil), s.audit...)
	return c
}

// Atomically runs fn with exclusive access to the store.
func (m *MemoryStore) Atomically(ctx context.Context, fn func(tx service.Store) error) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.state.clone()
	if err := fn(&memView{s: m.state}); err != nil {
		m.state = before
		return err
	}
	return nil
}

func (m *MemoryStore) locked(fn func(v *memView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memView{s: m.state})
}

// EnsureUser records a user if it does not exist yet.
func (m *MemoryStore) EnsureUser(ctx context.Context, userID string) error {
	return m.locked(func(v *memView) error { return v.EnsureUser(ctx, userID) })
}

// UserExists reports whether the user has been recorded.
func (m *MemoryStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := m.locked(func(v *memView) (err error) { ok, err = v.UserExists(ctx, userID); return })
	return ok, err
}

// InsertRawEvent stores an event unless its ingestion key was seen before.
func (m *MemoryStore) InsertRawEvent(ctx context.Context, event *model.RawEvent) (service.InsertResult, error) {
	var res service.InsertResult
	err := m.locked(func(v *memView) (err error) { res, err = v.InsertRawEvent(ctx, event); return })
	return res, err
}

// GetRawEvent retrieves an event by ID.
func (m *MemoryStore) GetRawEvent(ctx context.Context, id string) (*model.RawEvent, error) {
	var e *model.RawEvent
	err := m.locked(func(v *memView) (err error) { e, err = v.GetRawEvent(ctx, id); return })
	return e, err
}

// GetRawEventsByMerchant returns a user's events for one merchant, oldest first.
func (m *MemoryStore) GetRawEventsByMerchant(ctx context.Context, userID string, key model.MerchantKey) ([]model.RawEvent, error) {
	var events []model.RawEvent
	err := m.locked(func(v *memView) (err error) { events, err = v.GetRawEventsByMerchant(ctx, userID, key); return })
	return events, err
}

// GetRawEventsByFingerprint returns a user's events sharing a fingerprint.
func (m *MemoryStore) GetRawEventsByFingerprint(ctx context.Context, userID, fingerprint string) ([]model.RawEvent, error) {
	var events []model.RawEvent
	err := m.locked(func(v *memView) (err error) {
		events, err = v.GetRawEventsByFingerprint(ctx, userID, fingerprint)
		return
	})
	return events, err
}

// GetDuplicateGroups lists fingerprints shared by more than one event.
func (m *MemoryStore) GetDuplicateGroups(ctx context.Context, userID string) ([]service.DuplicateGroup, error) {
	var groups []service.DuplicateGroup
	err := m.locked(func(v *memView) (err error) { groups, err = v.GetDuplicateGroups(ctx, userID); return })
	return groups, err
}

// GetCandidate retrieves a candidate by ID.
func (m *MemoryStore) GetCandidate(ctx context.Context, id string) (*model.DetectionCandidate, error) {
	var c *model.DetectionCandidate
	err := m.locked(func(v *memView) (err error) { c, err = v.GetCandidate(ctx, id); return })
	return c, err
}

// GetCandidateByMerchant retrieves the candidate for a user's merchant.
func (m *MemoryStore) GetCandidateByMerchant(ctx context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, error) {
	var c *model.DetectionCandidate
	err := m.locked(func(v *memView) (err error) { c, err = v.GetCandidateByMerchant(ctx, userID, key); return })
	return c, err
}

// PutCandidate inserts or replaces a candidate.
func (m *MemoryStore) PutCandidate(ctx context.Context, candidate *model.DetectionCandidate) error {
	return m.locked(func(v *memView) error { return v.PutCandidate(ctx, candidate) })
}

// ListCandidates returns a user's candidates, most recently updated first.
func (m *MemoryStore) ListCandidates(ctx context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	var out []model.DetectionCandidate
	err := m.locked(func(v *memView) (err error) { out, err = v.ListCandidates(ctx, userID, filter); return })
	return out, err
}

// GetSubscription retrieves a subscription by ID.
func (m *MemoryStore) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var sub *model.Subscription
	err := m.locked(func(v *memView) (err error) { sub, err = v.GetSubscription(ctx, id); return })
	return sub, err
}

// PutSubscription inserts or replaces a subscription.
func (m *MemoryStore) PutSubscription(ctx context.Context, subscription *model.Subscription) error {
	return m.locked(func(v *memView) error { return v.PutSubscription(ctx, subscription) })
}

// ListSubscriptions returns subscriptions matching filter, soonest renewal first.
func (m *MemoryStore) ListSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	var out []model.Subscription
	err := m.locked(func(v *memView) (err error) { out, err = v.ListSubscriptions(ctx, filter); return })
	return out, err
}

// AppendPriceChange records a price change.
func (m *MemoryStore) AppendPriceChange(ctx context.Context, entry *model.PriceChangeEntry) error {
	return m.locked(func(v *memView) error { return v.AppendPriceChange(ctx, entry) })
}

// ListPriceChanges returns a subscription's price changes, oldest first.
func (m *MemoryStore) ListPriceChanges(ctx context.Context, subscriptionID string) ([]model.PriceChangeEntry, error) {
	var out []model.PriceChangeEntry
	err := m.locked(func(v *memView) (err error) { out, err = v.ListPriceChanges(ctx, subscriptionID); return })
	return out, err
}

// AppendAudit writes one audit trail entry.
func (m *MemoryStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	return m.locked(func(v *memView) error { return v.AppendAudit(ctx, entry) })
}

// ListAudit returns a user's audit trail, oldest first.
func (m *MemoryStore) ListAudit(ctx context.Context, userID string) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	err := m.locked(func(v *memView) (err error) { out, err = v.ListAudit(ctx, userID); return })
	return out, err
}

// memView operates on the state without locking. The caller holds MemoryStore.mu.
type memView struct {
	s *memState
}

func (v *memView) Atomically(_ context.Context, fn func(tx service.Store) error) error {
	return fn(v)
}

func (v *memView) EnsureUser(_ context.Context, userID string) error {
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if _, ok := v.s.users[userID]; !ok {
		v.s.users[userID] = time.Now().UTC()
	}
	return nil
}

func (v *memView) UserExists(_ context.Context, userID string) (bool, error) {
	_, ok := v.s.users[userID]
	return ok, nil
}

func ingestionKey(e *model.RawEvent) string {
	return e.UserID + "\x00" + string(e.Source) + "\x00" + e.RawIdentifier
}

func (v *memView) InsertRawEvent(_ context.Context, event *model.RawEvent) (service.InsertResult, error) {
	if err := validateEvent(event); err != nil {
		return service.InsertResult{}, err
	}
	key := ingestionKey(event)
	if _, ok := v.s.eventKeys[key]; ok {
		return service.InsertResult{Inserted: false}, nil
	}
	if _, ok := v.s.events[event.ID]; ok {
		return service.InsertResult{Inserted: false}, nil
	}
	v.s.events[event.ID] = *event
	v.s.eventKeys[key] = event.ID
	return service.InsertResult{Inserted: true}, nil
}

func (v *memView) GetRawEvent(_ context.Context, id string) (*model.RawEvent, error) {
	e, ok := v.s.events[id]
	if !ok {
		return nil, fmt.Errorf("raw event %s: %w", id, common.ErrNotFound)
	}
	return &e, nil
}

func (v *memView) filterEvents(keep func(e model.RawEvent) bool, less func(a, b model.RawEvent) bool) []model.RawEvent {
	var out []model.RawEvent
	for _, e := range v.s.events {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byOccurredAt(a, b model.RawEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}

func byIngestedAt(a, b model.RawEvent) bool {
	if !a.IngestedAt.Equal(b.IngestedAt) {
		return a.IngestedAt.Before(b.IngestedAt)
	}
	return a.ID < b.ID
}

func (v *memView) GetRawEventsByMerchant(_ context.Context, userID string, key model.MerchantKey) ([]model.RawEvent, error) {
	return v.filterEvents(func(e model.RawEvent) bool {
		return e.UserID == userID && e.MerchantKey == key
	}, byOccurredAt), nil
}

func (v *memView) GetRawEventsByFingerprint(_ context.Context, userID, fingerprint string) ([]model.RawEvent, error) {
	if fingerprint == "" {
		return nil, nil
	}
	return v.filterEvents(func(e model.RawEvent) bool {
		return e.UserID == userID && e.Fingerprint == fingerprint
	}, byIngestedAt), nil
}

func (v *memView) GetDuplicateGroups(ctx context.Context, userID string) ([]service.DuplicateGroup, error) {
	counts := make(map[string]int)
	first := make(map[string]time.Time)
	for _, e := range v.s.events {
		if e.UserID != userID || e.Fingerprint == "" {
			continue
		}
		counts[e.Fingerprint]++
		if t, ok := first[e.Fingerprint]; !ok || e.OccurredAt.Before(t) {
			first[e.Fingerprint] = e.OccurredAt
		}
	}

	var fingerprints []string
	for fp, n := range counts {
		if n > 1 {
			fingerprints = append(fingerprints, fp)
		}
	}
	sort.Slice(fingerprints, func(i, j int) bool {
		a, b := first[fingerprints[i]], first[fingerprints[j]]
		if !a.Equal(b) {
			return a.Before(b)
		}
		return fingerprints[i] < fingerprints[j]
	})

	groups := make([]service.DuplicateGroup, 0, len(fingerprints))
	for _, fp := range fingerprints {
		events, _ := v.GetRawEventsByFingerprint(ctx, userID, fp)
		groups = append(groups, service.DuplicateGroup{Fingerprint: fp, Events: events})
	}
	return groups, nil
}

func (v *memView) GetCandidate(_ context.Context, id string) (*model.DetectionCandidate, error) {
	c, ok := v.s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownCandidate)
	}
	c = copyCandidate(c)
	return &c, nil
}

func (v *memView) GetCandidateByMerchant(_ context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, error) {
	for _, c := range v.s.candidates {
		if c.UserID == userID && c.MerchantKey == key {
			c = copyCandidate(c)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("merchant %s: %w", key, common.ErrUnknownCandidate)
}

func (v *memView) PutCandidate(_ context.Context, candidate *model.DetectionCandidate) error {
	if err := validateCandidate(candidate); err != nil {
		return err
	}
	for id, c := range v.s.candidates {
		if id != candidate.ID && c.UserID == candidate.UserID && c.MerchantKey == candidate.MerchantKey {
			return fmt.Errorf("candidate for merchant %s: %w", candidate.MerchantKey, common.ErrDuplicateEntry)
		}
	}
	v.s.candidates[candidate.ID] = copyCandidate(*candidate)
	return nil
}

func (v *memView) ListCandidates(_ context.Context, userID string, filter service.CandidateFilter) ([]model.DetectionCandidate, error) {
	var out []model.DetectionCandidate
	for _, c := range v.s.candidates {
		if c.UserID != userID || c.Confidence < filter.MinConfidence {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		out = append(out, copyCandidate(c))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (v *memView) GetSubscription(_ context.Context, id string) (*model.Subscription, error) {
	sub, ok := v.s.subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, common.ErrUnknownSubscription)
	}
	sub = copySubscription(sub)
	return &sub, nil
}

func (v *memView) PutSubscription(_ context.Context, subscription *model.Subscription) error {
	if err := validateSubscription(subscription); err != nil {
		return err
	}
	if subscription.OriginatingCandidateID != nil {
		for id, existing := range v.s.subscriptions {
			if id != subscription.ID && existing.OriginatingCandidateID != nil &&
				*existing.OriginatingCandidateID == *subscription.OriginatingCandidateID {
				return fmt.Errorf("subscription for candidate: %w", common.ErrDuplicateEntry)
			}
		}
	}
	v.s.subscriptions[subscription.ID] = copySubscription(*subscription)
	return nil
}

func (v *memView) ListSubscriptions(_ context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, sub := range v.s.subscriptions {
		if matchesSubscription(sub, filter) {
			out = append(out, copySubscription(sub))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextOccurrence.Equal(out[j].NextOccurrence) {
			return out[i].NextOccurrence.Before(out[j].NextOccurrence)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func matchesSubscription(sub model.Subscription, filter service.SubscriptionFilter) bool {
	if filter.UserID != "" && sub.UserID != filter.UserID {
		return false
	}
	if filter.Active != nil && sub.IsActive != *filter.Active {
		return false
	}
	if len(filter.RenewalStatus) > 0 {
		found := false
		for _, status := range filter.RenewalStatus {
			if sub.RenewalStatus == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.DueBefore != nil && !sub.NextOccurrence.Before(*filter.DueBefore) {
		return false
	}
	if filter.CancelledFrom != nil && (sub.CancelledAt == nil || sub.CancelledAt.Before(*filter.CancelledFrom)) {
		return false
	}
	return true
}

func (v *memView) AppendPriceChange(_ context.Context, entry *model.PriceChangeEntry) error {
	if err := validatePriceChange(entry); err != nil {
		return err
	}
	v.s.priceChanges = append(v.s.priceChanges, *entry)
	return nil
}

func (v *memView) ListPriceChanges(_ context.Context, subscriptionID string) ([]model.PriceChangeEntry, error) {
	var out []model.PriceChangeEntry
	for _, p := range v.s.priceChanges {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (v *memView) AppendAudit(_ context.Context, entry *model.AuditEntry) error {
	if err := validateAudit(entry); err != nil {
		return err
	}
	v.s.audit = append(v.s.audit, *entry)
	return nil
}

func (v *memView) ListAudit(_ context.Context, userID string) ([]model.AuditEntry, error) {
	var out []model.AuditEntry
	for _, a := range v.s.audit {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func copyCandidate(c model.DetectionCandidate) model.DetectionCandidate {
	c.SupportingEventIDs = append([]string(nil), c.SupportingEventIDs...)
	if c.ReviewedAt != nil {
		t := *c.ReviewedAt
		c.ReviewedAt = &t
	}
	if c.ResultingSubscriptionID != nil {
		id := *c.ResultingSubscriptionID
		c.ResultingSubscriptionID = &id
	}
	return c
}

func copySubscription(s model.Subscription) model.Subscription {
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		s.CancelledAt = &t
	}
	if s.OriginatingCandidateID != nil {
		id := *s.OriginatingCandidateID
		s.OriginatingCandidateID = &id
	}
	return s
}

var (
	_ service.Store = (*MemoryStore)(nil)
	_ service.Store = (*memView)(nil)
)
