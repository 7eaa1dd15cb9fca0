package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/shopspring/decimal"
)

// Band is the range of median intervals, in days, that maps to a cadence.
type Band struct {
	Cadence   model.Cadence
	MinDays   float64
	MaxDays   float64
	Canonical float64
}

// DefaultBands returns the weekly, monthly and yearly bands.
func DefaultBands() []Band {
	return []Band{
		{Cadence: model.CadenceWeekly, MinDays: 6, MaxDays: 8, Canonical: 7},
		{Cadence: model.CadenceMonthly, MinDays: 28, MaxDays: 33, Canonical: 30},
		{Cadence: model.CadenceYearly, MinDays: 350, MaxDays: 380, Canonical: 365},
	}
}

// ClassifyCadence returns the band containing the median interval.
func ClassifyCadence(median float64, bands []Band) (Band, bool) {
	for _, b := range bands {
		if median >= b.MinDays && median <= b.MaxDays {
			return b, true
		}
	}
	return Band{}, false
}

// nearestBand is used only to report a periodicity figure when no band matched.
func nearestBand(median float64, bands []Band) Band {
	best := bands[0]
	bestDist := math.Inf(1)
	for _, b := range bands {
		if d := math.Abs(median-b.Canonical) / b.Canonical; d < bestDist {
			best, bestDist = b, d
		}
	}
	return best
}

// Config holds the blend weights and thresholds. The base weights sum to 0.9 and the
// known-merchant bonus fills the remaining headroom.
type Config struct {
	Bands              []Band
	PeriodicityWeight  float64
	AmountWeight       float64
	KnownMerchantBonus float64
	NoCadenceCeiling   float64
	MinConfidence      float64
	MinObservations    int
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Bands:              DefaultBands(),
		PeriodicityWeight:  0.6,
		AmountWeight:       0.3,
		KnownMerchantBonus: 0.1,
		NoCadenceCeiling:   0.25,
		MinConfidence:      0.5,
		MinObservations:    2,
	}
}

// Observation is one historical charge for a merchant.
type Observation struct {
	OccurredAt time.Time
	EventID    string
	Currency   string
	Amount     decimal.Decimal
}

// Result is the scorer's verdict for one merchant history.
type Result struct {
	NextOccurrence       time.Time
	Cadence              model.Cadence
	Currency             string
	EventIDs             []string
	LatestAmount         decimal.Decimal
	MedianInterval       float64
	PeriodicityScore     float64
	AmountStabilityScore float64
	Confidence           float64
	Observations         int
	Matched              bool
}

// Scorer computes cadence and confidence. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	cfg Config
}

// NewScorer creates a scorer, filling unset fields from DefaultConfig.
func NewScorer(cfg Config) *Scorer {
	def := DefaultConfig()
	if len(cfg.Bands) == 0 {
		cfg.Bands = def.Bands
	}
	if cfg.PeriodicityWeight == 0 && cfg.AmountWeight == 0 {
		cfg.PeriodicityWeight = def.PeriodicityWeight
		cfg.AmountWeight = def.AmountWeight
	}
	if cfg.MinObservations < 2 {
		cfg.MinObservations = def.MinObservations
	}
	return &Scorer{cfg: cfg}
}

// Config returns the effective configuration.
func (s *Scorer) Config() Config {
	return s.cfg
}

// Score evaluates a merchant history. knownMerchant adds the allow-list bonus.
func (s *Scorer) Score(history []Observation, knownMerchant bool) Result {
	obs := prepare(history)

	var result Result
	if len(obs) > 0 {
		latest := obs[len(obs)-1]
		result.LatestAmount = latest.Amount
		result.Currency = latest.Currency
	}
	result.Observations = len(obs)
	result.EventIDs = make([]string, 0, len(obs))
	for _, o := range obs {
		result.EventIDs = append(result.EventIDs, o.EventID)
	}

	if len(obs) < s.cfg.MinObservations {
		return result
	}

	dates := make([]time.Time, len(obs))
	amounts := make([]float64, len(obs))
	for i, o := range obs {
		dates[i] = o.OccurredAt
		amounts[i], _ = o.Amount.Float64()
	}

	intervals := Intervals(dates)
	result.MedianInterval = Median(intervals)

	band, matched := ClassifyCadence(result.MedianInterval, s.cfg.Bands)
	if !matched {
		band = nearestBand(result.MedianInterval, s.cfg.Bands)
	}

	result.PeriodicityScore = PeriodicityScore(intervals, band.Canonical)
	result.AmountStabilityScore = AmountStability(amounts)

	confidence := result.PeriodicityScore*s.cfg.PeriodicityWeight + result.AmountStabilityScore*s.cfg.AmountWeight
	if knownMerchant {
		confidence += s.cfg.KnownMerchantBonus
	}
	confidence = math.Min(confidence, 1.0)

	if !matched {
		result.Confidence = math.Min(confidence, s.cfg.NoCadenceCeiling)
		return result
	}

	result.Matched = true
	result.Cadence = band.Cadence
	result.Confidence = confidence
	result.NextOccurrence = dates[len(dates)-1].AddDate(0, 0, int(band.Canonical))
	return result
}

// Promotable reports whether a result is strong enough to surface as a candidate.
func (s *Scorer) Promotable(r Result) bool {
	return r.Matched && r.Confidence >= s.cfg.MinConfidence
}

// prepare sorts observations, keeps only the latest currency, and collapses
// same-day charges into one.
func prepare(history []Observation) []Observation {
	if len(history) == 0 {
		return nil
	}

	sorted := make([]Observation, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	currency := sorted[len(sorted)-1].Currency

	out := make([]Observation, 0, len(sorted))
	lastDay := ""
	for _, o := range sorted {
		if o.Currency != currency {
			continue
		}
		day := o.OccurredAt.UTC().Format("2006-01-02")
		if day == lastDay {
			continue
		}
		lastDay = day
		out = append(out, o)
	}
	return out
}
