// Package engine runs a batch of provider records through normalization, filtering,
// deduplication and scoring, and feeds the scores to the candidate lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/common"
	"github.com/Veraticus/the-spice-must-recur/internal/dedup"
	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/merchant"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/normalize"
	"github.com/Veraticus/the-spice-must-recur/internal/prefilter"
	"github.com/Veraticus/the-spice-must-recur/internal/scoring"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"golang.org/x/sync/errgroup"
)

// Config holds configuration options for the detection engine.
type Config struct {
	// Workers bounds how many records, and later merchants, are processed at once.
	Workers int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Engine orchestrates one detection pass over a batch.
type Engine struct {
	store      service.Store
	normalizer *normalize.Normalizer
	filter     *prefilter.Filter
	dedup      *dedup.Store
	scorer     *scoring.Scorer
	lifecycle  *lifecycle.Manager
	known      map[model.MerchantKey]bool
	progress   func()
	logger     *slog.Logger
	workers    int
}

// Option configures an Engine.
type Option func(*Engine)

// WithProgress registers a callback invoked once per record after it is processed.
// It may be called from several goroutines.
func WithProgress(fn func()) Option {
	return func(e *Engine) { e.progress = fn }
}

// New creates an engine from its stages.
func New(store service.Store, normalizer *normalize.Normalizer, filter *prefilter.Filter, scorer *scoring.Scorer, manager *lifecycle.Manager, cfg Config, opts ...Option) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultConfig().Workers
	}
	e := &Engine{
		store:      store,
		normalizer: normalizer,
		filter:     filter,
		dedup:      dedup.NewStore(store),
		scorer:     scorer,
		lifecycle:  manager,
		known:      filter.KnownMerchantKeys(),
		progress:   func() {},
		logger:     slog.Default().With("component", "engine"),
		workers:    cfg.Workers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rejection explains why a record did not become a stored event.
type Rejection struct {
	RawIdentifier string `json:"raw_identifier"`
	Rule          string `json:"rule,omitempty"`
	Reason        string `json:"reason"`
}

// BatchReport summarizes one ProcessBatch call.
type BatchReport struct {
	Rejections        []Rejection   `json:"rejections,omitempty"`
	Candidates        []string      `json:"candidates,omitempty"`
	Duration          time.Duration `json:"duration"`
	Received          int           `json:"received"`
	Malformed         int           `json:"malformed"`
	Filtered          int           `json:"filtered"`
	Skipped           int           `json:"skipped"`
	Inserted          int           `json:"inserted"`
	DuplicateCharges  int           `json:"duplicate_charges"`
	MerchantsScored   int           `json:"merchants_scored"`
	CandidatesCreated int           `json:"candidates_created"`
	CandidatesUpdated int           `json:"candidates_updated"`
}

type recordOutcome struct {
	rejection *Rejection
	key       model.MerchantKey
	status    dedup.Status
	malformed bool
	duplicate bool
}

// ProcessBatch ingests records for userID and rescores every merchant that received
// a new event. Malformed and filtered records are counted and dropped; store failures
// abort the batch, leaving already committed events in place.
func (e *Engine) ProcessBatch(ctx context.Context, userID string, records []model.ProviderRecord) (*BatchReport, error) {
	start := time.Now()
	if err := e.store.EnsureUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to register user %s: %w", userID, err)
	}

	outcomes := make([]recordOutcome, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range records {
		g.Go(func() error {
			defer e.progress()
			out, err := e.ingest(gctx, userID, records[i])
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to ingest batch: %w", err)
	}

	report := &BatchReport{Received: len(records)}
	touched := make(map[model.MerchantKey]bool)
	for _, out := range outcomes {
		switch {
		case out.malformed:
			report.Malformed++
		case out.rejection != nil:
			report.Filtered++
		case out.status == dedup.StatusSkipped:
			report.Skipped++
		case out.status == dedup.StatusInserted:
			report.Inserted++
			touched[out.key] = true
		}
		if out.rejection != nil {
			report.Rejections = append(report.Rejections, *out.rejection)
		}
		if out.duplicate {
			report.DuplicateCharges++
		}
	}

	keys := make([]model.MerchantKey, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	if err := e.scoreMerchants(ctx, userID, keys, report); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	e.logger.Info("batch processed",
		"user", userID,
		"received", report.Received,
		"inserted", report.Inserted,
		"skipped", report.Skipped,
		"filtered", report.Filtered,
		"malformed", report.Malformed,
		"candidates_created", report.CandidatesCreated,
		"candidates_updated", report.CandidatesUpdated,
		"duration", report.Duration)
	return report, nil
}

func (e *Engine) ingest(ctx context.Context, userID string, rec model.ProviderRecord) (recordOutcome, error) {
	tier := model.TierMedium
	if rec.Source == model.SourceEmail {
		// Screen before parsing; the converted body is reused by the normalizer.
		rec.BodyOrMerchantString = e.normalizer.PlainText(rec.BodyOrMerchantString)
		decision := e.filter.Evaluate(prefilter.Input{
			Subject: rec.SubjectOrDescription,
			Body:    rec.BodyOrMerchantString,
			Sender:  rec.SenderOrAccountRef,
		})
		if !decision.Accept {
			e.logger.Debug("record filtered", "raw_identifier", rec.RawIdentifier, "rule", decision.Rule)
			return recordOutcome{
				rejection: &Rejection{RawIdentifier: rec.RawIdentifier, Rule: decision.Rule, Reason: decision.Reason},
			}, nil
		}
		tier = decision.Tier
	}

	event, err := e.normalizer.Normalize(userID, rec)
	if err != nil {
		if errors.Is(err, common.ErrMalformedRecord) {
			e.logger.Debug("dropping malformed record", "raw_identifier", rec.RawIdentifier, "error", err)
			return recordOutcome{
				malformed: true,
				rejection: &Rejection{RawIdentifier: rec.RawIdentifier, Reason: err.Error()},
			}, nil
		}
		return recordOutcome{}, err
	}
	event.FilterTier = tier
	event.MerchantKey = MerchantKeyFor(event)

	res, err := e.dedup.Ingest(ctx, event)
	if err != nil {
		return recordOutcome{}, err
	}
	return recordOutcome{
		key:       event.MerchantKey,
		status:    res.Status,
		duplicate: len(res.DuplicateOf) > 0,
	}, nil
}

// MerchantKeyFor derives the merchant key of an event: the sender for email, the
// merchant string (or description) for transactions.
func MerchantKeyFor(event *model.RawEvent) model.MerchantKey {
	if event.Source == model.SourceEmail {
		return merchant.Normalize(event.SenderOrAccountRef)
	}
	if event.BodyOrMerchantString != "" {
		return merchant.Normalize(event.BodyOrMerchantString)
	}
	return merchant.Normalize(event.SubjectOrDescription)
}

func (e *Engine) scoreMerchants(ctx context.Context, userID string, keys []model.MerchantKey, report *BatchReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, key := range keys {
		g.Go(func() error {
			candidate, outcome, err := e.Rescore(gctx, userID, key)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			report.MerchantsScored++
			switch outcome {
			case lifecycle.OutcomeCreated:
				report.CandidatesCreated++
				report.Candidates = append(report.Candidates, candidate.ID)
			case lifecycle.OutcomeUpdated:
				report.CandidatesUpdated++
				report.Candidates = append(report.Candidates, candidate.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to score merchants: %w", err)
	}
	sort.Strings(report.Candidates)
	return nil
}

// Rescore scores the full stored history of one merchant and hands the result to the
// lifecycle manager.
func (e *Engine) Rescore(ctx context.Context, userID string, key model.MerchantKey) (*model.DetectionCandidate, lifecycle.ObserveOutcome, error) {
	events, err := e.store.GetRawEventsByMerchant(ctx, userID, key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load history for %s: %w", key, err)
	}

	history := make([]scoring.Observation, 0, len(events))
	for _, ev := range events {
		history = append(history, scoring.Observation{
			OccurredAt: ev.OccurredAt,
			EventID:    ev.ID,
			Currency:   ev.Amount.Currency,
			Amount:     ev.Amount.Amount,
		})
	}

	result := e.scorer.Score(history, e.known[key])
	e.logger.Debug("merchant scored",
		"merchant", key,
		"observations", result.Observations,
		"cadence", result.Cadence,
		"confidence", result.Confidence)

	return e.lifecycle.Observe(ctx, userID, key, result)
}
