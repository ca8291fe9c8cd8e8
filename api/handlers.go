package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/stylora/retrieval/core"
	"github.com/stylora/retrieval/engine"
	"github.com/stylora/retrieval/usermodel"
)

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   "1.0.0",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.engine.Stats())
}

// RecommendRequest is the /recommendations request body.
type RecommendRequest struct {
	UserID         string       `json:"user_id"`
	Context        string       `json:"context"`
	Filters        core.Filters `json:"filters"`
	K              int          `json:"k"`
	Offset         int          `json:"offset"`
	Explore        bool         `json:"explore"`
	IncludeSignals bool         `json:"include_signals"`
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	page, err := s.engine.Recommend(r.Context(), engine.RecommendRequest{
		UserID:         req.UserID,
		Context:        usermodel.BlendContext(req.Context),
		Filters:        req.Filters,
		K:              req.K,
		Offset:         req.Offset,
		Explore:        req.Explore,
		IncludeSignals: req.IncludeSignals,
	})
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, page)
}

// SearchRequest is the /search request body.
type SearchRequest struct {
	Query          string       `json:"query"`
	UserID         string       `json:"user_id,omitempty"`
	Filters        core.Filters `json:"filters"`
	K              int          `json:"k"`
	Offset         int          `json:"offset"`
	MinSimilarity  float64      `json:"min_similarity"`
	IncludeSignals bool         `json:"include_signals"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		s.respondWithError(w, http.StatusBadRequest, "Query text is required")
		return
	}

	page, err := s.engine.Search(r.Context(), engine.SearchRequest{
		Query:          req.Query,
		UserID:         req.UserID,
		Filters:        req.Filters,
		K:              req.K,
		Offset:         req.Offset,
		MinSimilarity:  req.MinSimilarity,
		IncludeSignals: req.IncludeSignals,
	})
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, page)
}

// SimilarRequest is the /items/{id}/similar request body.
type SimilarRequest struct {
	UserID         string       `json:"user_id,omitempty"`
	Filters        core.Filters `json:"filters"`
	K              int          `json:"k"`
	IncludeSelf    bool         `json:"include_self"`
	IncludeSignals bool         `json:"include_signals"`
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["id"]

	var req SimilarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	page, err := s.engine.Similar(r.Context(), engine.SimilarRequest{
		ItemID:         itemID,
		UserID:         req.UserID,
		Filters:        req.Filters,
		K:              req.K,
		ExcludeSelf:    !req.IncludeSelf,
		IncludeSignals: req.IncludeSignals,
	})
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, page)
}

// InteractionRequest is the /interactions request body.
type InteractionRequest struct {
	UserID    string    `json:"user_id"`
	ItemID    string    `json:"item_id"`
	Type      string    `json:"type"`
	Weight    float64   `json:"weight,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
	Context   string    `json:"context,omitempty"`
}

// InteractionResponse reports the updated profile state.
type InteractionResponse struct {
	UserID           string  `json:"user_id"`
	InteractionCount int     `json:"interaction_count"`
	Confidence       float64 `json:"confidence"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req InteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" || req.ItemID == "" || req.Type == "" {
		s.respondWithError(w, http.StatusBadRequest, "user_id, item_id, and type are required")
		return
	}

	state, err := s.engine.RecordInteraction(r.Context(), core.InteractionEvent{
		UserID:    req.UserID,
		ItemID:    req.ItemID,
		Type:      core.InteractionType(req.Type),
		Weight:    req.Weight,
		Timestamp: req.Timestamp,
		Context:   req.Context,
	})
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusAccepted, InteractionResponse{
		UserID:           state.UserID,
		InteractionCount: state.InteractionCount,
		Confidence:       state.Confidence,
	})
}

// OnboardingRequest is the /users/{id}/onboarding request body.
type OnboardingRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func (s *Server) handleCompleteOnboarding(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req OnboardingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := s.engine.CompleteOnboarding(r.Context(), userID, req.ItemIDs)
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusCreated, InteractionResponse{
		UserID:           state.UserID,
		InteractionCount: state.InteractionCount,
		Confidence:       state.Confidence,
	})
}

func (s *Server) handleRebuildProfile(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	state, err := s.engine.RebuildUserProfile(r.Context(), userID)
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, InteractionResponse{
		UserID:           state.UserID,
		InteractionCount: state.InteractionCount,
		Confidence:       state.Confidence,
	})
}

func (s *Server) handleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	if err := s.engine.InvalidateUser(r.Context(), userID); err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "user_id": userID})
}

func (s *Server) handleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RebuildIndex(r.Context()); err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleWarmCache(w http.ResponseWriter, r *http.Request) {
	topN := 100
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.respondWithError(w, http.StatusBadRequest, "top_n must be a positive integer")
			return
		}
		topN = n
	}

	warmed, err := s.engine.WarmCache(r.Context(), topN)
	if err != nil {
		s.respondWithEngineError(w, err)
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"warmed": warmed})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	scope := mux.Vars(r)["scope"]

	cleared, err := s.engine.ClearCache(r.Context(), scope)
	if err != nil {
		s.respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

// respondWithEngineError maps engine errors onto HTTP status codes.
func (s *Server) respondWithEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrIndexNotReady):
		s.respondWithError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, core.ErrItemNotIndexed):
		s.respondWithError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrEmptyQuery), core.IsDimensionError(err):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error().Err(err).Msg("request failed")
		s.respondWithError(w, http.StatusInternalServerError, err.Error())
	}
}
