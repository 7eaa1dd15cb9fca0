package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Veraticus/the-spice-must-recur/internal/lifecycle"
	"github.com/Veraticus/the-spice-must-recur/internal/model"
	"github.com/Veraticus/the-spice-must-recur/internal/renewal"
	"github.com/Veraticus/the-spice-must-recur/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// handleRecords ingests a JSON array of provider records.
// POST /api/v1/users/{userID}/records
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	var records []model.ProviderRecord
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBatchBytes)).Decode(&records); err != nil {
		s.writeError(w, r, badRequest("invalid records body: %v", err))
		return
	}

	report, err := s.engine.ProcessBatch(r.Context(), chi.URLParam(r, "userID"), records)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleListCandidates lists candidates, most recently updated first.
// GET /api/v1/users/{userID}/candidates?status=pending&min_confidence=0.7&limit=20
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter service.CandidateFilter

	if v := q.Get("status"); v != "" {
		status := model.CandidateStatus(v)
		switch status {
		case model.CandidatePending, model.CandidateAccepted, model.CandidateDismissed:
			filter.Status = &status
		default:
			s.writeError(w, r, badRequest("unknown status %q", v))
			return
		}
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			s.writeError(w, r, badRequest("min_confidence must be between 0 and 1"))
			return
		}
		filter.MinConfidence = f
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, r, badRequest("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	candidates, err := s.manager.Candidates(r.Context(), chi.URLParam(r, "userID"), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, newCandidateView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleAccept accepts a candidate. The body, if any, carries overrides.
// POST /api/v1/users/{userID}/candidates/{candidateID}/accept
func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var overrides lifecycle.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, badRequest("invalid overrides: %v", err))
		return
	}

	sub, err := s.manager.Accept(r.Context(), lifecycle.AcceptCandidate{
		UserID:      chi.URLParam(r, "userID"),
		CandidateID: chi.URLParam(r, "candidateID"),
		Overrides:   overrides,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSubscriptionView(*sub))
}

// handleDismiss dismisses a candidate.
// POST /api/v1/users/{userID}/candidates/{candidateID}/dismiss
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	c, err := s.manager.Dismiss(r.Context(), lifecycle.DismissCandidate{
		UserID:      chi.URLParam(r, "userID"),
		CandidateID: chi.URLParam(r, "candidateID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCandidateView(*c))
}

// GET /api/v1/users/{userID}/subscriptions?active=true
func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, r, badRequest("invalid active flag %q", v))
			return
		}
		activeOnly = b
	}

	subs, err := s.tracker.Subscriptions(r.Context(), chi.URLParam(r, "userID"), activeOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionViews(subs))
}

// GET /api/v1/users/{userID}/subscriptions/needs-confirmation
func (s *Server) handleNeedsConfirmation(w http.ResponseWriter, r *http.Request) {
	subs, err := s.tracker.NeedsConfirmation(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionViews(subs))
}

type confirmRequest struct {
	NewCost *decimal.Decimal `json:"new_cost,omitempty"`
	Action  string           `json:"action"`
}

// handleConfirm records a renewal answer.
// POST /api/v1/users/{userID}/subscriptions/{subscriptionID}/confirm
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid confirmation body: %v", err))
		return
	}

	result, err := s.tracker.Confirm(r.Context(), renewal.ConfirmRenewal{
		UserID:         chi.URLParam(r, "userID"),
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		Action:         renewal.Action(req.Action),
		NewCost:        req.NewCost,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newConfirmationView(result))
}

// GET /api/v1/users/{userID}/subscriptions/{subscriptionID}/price-history
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	h, err := s.tracker.PriceHistory(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "subscriptionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPriceHistoryView(h))
}

// handleSavings sums cancelled subscriptions. since accepts RFC3339 or YYYY-MM-DD.
// GET /api/v1/users/{userID}/savings?since=2024-01-01
func (s *Server) handleSavings(w http.ResponseWriter, r *http.Request) {
	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := parseSince(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		since = &t
	}

	summary, err := s.tracker.Savings(r.Context(), chi.URLParam(r, "userID"), since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func parseSince(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, badRequest("invalid since %q", v)
	}
	return t, nil
}

// GET /api/v1/users/{userID}/audit
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.manager.AuditTrail(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditView{
			CreatedAt:      e.CreatedAt,
			ID:             e.ID,
			Action:         string(e.Action),
			CandidateID:    e.CandidateID,
			SubscriptionID: e.SubscriptionID,
			MerchantName:   e.MerchantName,
			Confidence:     e.Confidence,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/users/{userID}/duplicates
func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.dedup.DuplicateCharges(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]duplicateGroupView, 0, len(groups))
	for _, g := range groups {
		view := duplicateGroupView{Fingerprint: g.Fingerprint}
		for _, e := range g.Events {
			view.Events = append(view.Events, eventView{
				OccurredAt:    e.OccurredAt,
				ID:            e.ID,
				RawIdentifier: e.RawIdentifier,
				MerchantKey:   string(e.MerchantKey),
				Currency:      e.Amount.Currency,
				Amount:        e.Amount.Amount,
			})
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSweep flags due subscriptions across all users.
// POST /api/v1/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	report, err := s.tracker.Sweep(r.Context(), s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
