package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/matching"
	"github.com/sells-group/matchscore/internal/model"
	"github.com/sells-group/matchscore/internal/optimistic"
	"github.com/sells-group/matchscore/internal/resilience"
	"github.com/sells-group/matchscore/internal/store"
)

const maxBodyBytes = 1 << 20

type handler struct {
	m Matcher
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type searchRequest struct {
	ProfileID string      `json:"profile_id,omitempty"`
	Profile   model.Raw   `json:"profile,omitempty"`
	Query     cache.Query `json:"query"`
}

type scoreRequest struct {
	ProfileID   string    `json:"profile_id,omitempty"`
	Profile     model.Raw `json:"profile,omitempty"`
	Opportunity model.Raw `json:"opportunity"`
	Persist     bool      `json:"persist"`
}

type outcomeRequest struct {
	Outcome string `json:"outcome"`
}

type analysisRequest struct {
	Types []string `json:"types,omitempty"`
}

type profileResponse struct {
	Profile model.Profile `json:"profile"`
	Pending []string      `json:"pending"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decode(w, r, &req) {
		return
	}
	profile, ok := h.resolveProfile(w, r, req.ProfileID, req.Profile)
	if !ok {
		return
	}
	page, err := h.m.Search(r.Context(), profile, req.Query)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Opportunity) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("opportunity is required"))
		return
	}
	opp := model.NormalizeOpportunity(req.Opportunity)

	status := http.StatusOK
	if req.Persist {
		status = http.StatusCreated
	}
	if req.ProfileID != "" {
		ms, err := h.m.ScoreProfile(r.Context(), req.ProfileID, opp, req.Persist)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, status, ms)
		return
	}
	if len(req.Profile) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("profile_id or profile is required"))
		return
	}
	ms, err := h.m.Score(r.Context(), model.NormalizeProfile(req.Profile), opp, req.Persist)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, status, ms)
}

func (h *handler) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decode(w, r, &req) {
		return
	}
	ms, err := h.m.RecordOutcome(r.Context(), chi.URLParam(r, "scoreID"), req.Outcome)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *handler) accuracy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	report, err := h.m.Accuracy(r.Context(), store.ScoreFilter{
		ProfileID:     q.Get("profile_id"),
		OpportunityID: q.Get("opportunity_id"),
		ConfigVersion: q.Get("config_version"),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "profileID")
	p, err := h.m.Profile(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Pending: pending(h.m.PendingFields(id))})
}

func (h *handler) putProfile(w http.ResponseWriter, r *http.Request) {
	var raw model.Raw
	if !decode(w, r, &raw) {
		return
	}
	p := model.NormalizeProfile(raw)
	p.ID = chi.URLParam(r, "profileID")
	if err := h.m.SaveProfile(r.Context(), p); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Pending: []string{}})
}

func (h *handler) patchProfile(w http.ResponseWriter, r *http.Request) {
	var updates optimistic.Fields
	if !decode(w, r, &updates) {
		return
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("no fields to update"))
		return
	}
	p, err := h.m.EditProfile(r.Context(), chi.URLParam(r, "profileID"), updates)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Profile: p, Pending: []string{}})
}

func (h *handler) requestAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	snap, err := h.m.RequestAnalysis(r.Context(), chi.URLParam(r, "opportunityID"), req.Types...)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *handler) analysisStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := h.m.AnalysisStatus(chi.URLParam(r, "opportunityID"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.CacheStats())
}

func (h *handler) weights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Weights())
}

// resolveProfile prefers a stored profile by id over an inline document.
func (h *handler) resolveProfile(w http.ResponseWriter, r *http.Request, id string, raw model.Raw) (model.Profile, bool) {
	if id != "" {
		p, err := h.m.Profile(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return model.Profile{}, false
		}
		return p, true
	}
	if len(raw) == 0 {
		writeError(w, http.StatusBadRequest, eris.New("profile_id or profile is required"))
		return model.Profile{}, false
	}
	return model.NormalizeProfile(raw), true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, eris.Wrap(err, "invalid request body"))
		return false
	}
	return true
}

func pending(fields []string) []string {
	if fields == nil {
		return []string{}
	}
	return fields
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{
		Code:    strings.ReplaceAll(strings.ToLower(http.StatusText(status)), " ", "_"),
		Message: err.Error(),
	})
}

// writeAppError maps service errors to status codes. Unclassified errors
// are logged and masked.
func writeAppError(w http.ResponseWriter, err error) {
	var httpErr *resilience.HTTPError
	switch {
	case errors.Is(err, matching.ErrInvalid), errors.Is(err, optimistic.ErrReadOnly):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, matching.ErrNoStore), errors.Is(err, matching.ErrNoOrchestrator):
		writeError(w, http.StatusNotImplemented, err)
	case errors.Is(err, resilience.ErrOpen):
		writeError(w, http.StatusServiceUnavailable, err)
	case errors.As(err, &httpErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, eris.New("internal error"))
	}
}
