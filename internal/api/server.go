// Package api exposes the prediction engine over HTTP and WebSocket.
//
// Handlers stay thin: they decode, call the engine, map errors onto
// statuses in one place, and push events to the hub. User ids arrive in
// requests pre-verified; authentication lives in the gateway in front of
// this service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lingamvamshikrishnareddy/calledit/internal/engine"
	"github.com/lingamvamshikrishnareddy/calledit/internal/metrics"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

// Server holds the HTTP handlers for the prediction API.
type Server struct {
	eng *engine.Engine
	hub *Hub
}

// NewServer creates the API server. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewServer(eng *engine.Engine, hub *Hub) *Server {
	return &Server{eng: eng, hub: hub}
}

// Routes mounts every handler on a fresh router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/predictions", func(r chi.Router) {
			r.Post("/", s.CreatePrediction)
			r.Get("/", s.ListPredictions)
			r.Get("/{predictionID}", s.GetPrediction)
			r.Post("/{predictionID}/close", s.ClosePrediction)
			r.Post("/{predictionID}/resolve", s.ResolvePrediction)
			r.Post("/{predictionID}/cancel", s.CancelPrediction)
			r.Get("/{predictionID}/stakes", s.ListPredictionStakes)
			r.Get("/{predictionID}/distribution", s.GetStakeDistribution)
		})
		r.Route("/stakes", func(r chi.Router) {
			r.Post("/", s.CastStake)
			r.Patch("/{stakeID}", s.UpdateStake)
			r.Delete("/{stakeID}", s.WithdrawStake)
		})
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/account", s.EnsureAccount)
			r.Get("/balance", s.GetBalance)
			r.Get("/stats", s.GetStats)
			r.Get("/ledger", s.GetLedger)
			r.Get("/stakes", s.ListUserStakes)
			r.Post("/daily-bonus", s.ClaimDailyBonus)
			r.Post("/referral-bonus", s.AwardReferralBonus)
			r.Post("/adjust", s.AdjustBalance)
		})
		r.Get("/leaderboard", s.GetLeaderboard)
		if s.hub != nil {
			r.Get("/ws", s.hub.HandleWS)
		}
	})

	return r
}

// --- Request/Response types ---

// CreatePredictionRequest is the JSON body for prediction creation.
type CreatePredictionRequest struct {
	CreatorID   string    `json:"creator_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ClosesAt    time.Time `json:"closes_at"`
}

// CastStakeRequest is the JSON body for POST /stakes.
type CastStakeRequest struct {
	UserID       string `json:"user_id"`
	PredictionID string `json:"prediction_id"`
	Side         *bool  `json:"side"` // true = yes
	Confidence   int    `json:"confidence"`
	Amount       int64  `json:"amount"`
}

// UpdateStakeRequest is the JSON body for PATCH /stakes/{stakeID}.
// Omitted fields keep their values.
type UpdateStakeRequest struct {
	UserID     string `json:"user_id"`
	Side       *bool  `json:"side,omitempty"`
	Confidence *int   `json:"confidence,omitempty"`
}

// ResolvePredictionRequest is the JSON body for resolve calls.
type ResolvePredictionRequest struct {
	Outcome *bool  `json:"outcome"` // true = yes
	Notes   string `json:"notes,omitempty"`
}

// CancelPredictionRequest is the JSON body for cancel calls.
type CancelPredictionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ReferralRequest is the JSON body for referral bonus awards.
type ReferralRequest struct {
	ReferredUserID string `json:"referred_user_id"`
}

// AdjustRequest is the JSON body for admin balance adjustments.
type AdjustRequest struct {
	Amount int64  `json:"amount"`
	Note   string `json:"note,omitempty"`
}

// BalanceResponse is the JSON body for GET /users/{userID}/balance.
type BalanceResponse struct {
	UserID  string `json:"user_id"`
	Balance int64  `json:"balance"`
}

// StatsResponse is the JSON body for GET /users/{userID}/stats.
type StatsResponse struct {
	UserID             string  `json:"user_id"`
	Balance            int64   `json:"balance"`
	TotalStaked        int64   `json:"total_staked"`
	TotalWon           int64   `json:"total_won"`
	PredictionsMade    int     `json:"predictions_made"`
	PredictionsCorrect int     `json:"predictions_correct"`
	Accuracy           float64 `json:"accuracy"`
	CurrentStreak      int     `json:"current_streak"`
	LongestStreak      int     `json:"longest_streak"`
	Rank               int     `json:"rank"`
}

// --- Prediction handlers ---

// CreatePrediction handles POST /api/v1/predictions
func (s *Server) CreatePrediction(w http.ResponseWriter, r *http.Request) {
	var req CreatePredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	p, err := s.eng.CreatePrediction(r.Context(), req.CreatorID, req.Title, req.Description, req.ClosesAt)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{Type: "prediction_created", PredictionID: p.ID, Status: string(p.Status)})
	writeJSON(w, http.StatusCreated, p)
}

// ListPredictions handles GET /api/v1/predictions?status=&limit=
func (s *Server) ListPredictions(w http.ResponseWriter, r *http.Request) {
	status := model.PredictionStatus(r.URL.Query().Get("status"))
	list, err := s.eng.ListPredictions(r.Context(), status, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Prediction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetPrediction handles GET /api/v1/predictions/{predictionID}
func (s *Server) GetPrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.GetPrediction(r.Context(), chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClosePrediction handles POST /api/v1/predictions/{predictionID}/close
func (s *Server) ClosePrediction(w http.ResponseWriter, r *http.Request) {
	p, err := s.eng.ClosePrediction(r.Context(), chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{Type: "prediction_closed", PredictionID: p.ID, Status: string(p.Status)})
	writeJSON(w, http.StatusOK, p)
}

// ResolvePrediction handles POST /api/v1/predictions/{predictionID}/resolve
// The response is the settlement report; repeated calls return the same
// report without paying anyone twice.
func (s *Server) ResolvePrediction(w http.ResponseWriter, r *http.Request) {
	var req ResolvePredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Outcome == nil {
		writeBadRequest(w, "outcome is required")
		return
	}

	id := chi.URLParam(r, "predictionID")
	report, err := s.eng.ResolvePrediction(r.Context(), id, *req.Outcome, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{
		Type:         "prediction_resolved",
		PredictionID: id,
		Status:       string(model.StatusResolved),
		Outcome:      metrics.SideLabel(report.Outcome),
	})
	writeJSON(w, http.StatusOK, report)
}

// CancelPrediction handles POST /api/v1/predictions/{predictionID}/cancel
func (s *Server) CancelPrediction(w http.ResponseWriter, r *http.Request) {
	var req CancelPredictionRequest
	if r.Body != nil {
		// A reason is optional; an empty body is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}

	p, err := s.eng.CancelPrediction(r.Context(), chi.URLParam(r, "predictionID"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{Type: "prediction_cancelled", PredictionID: p.ID, Status: string(p.Status)})
	writeJSON(w, http.StatusOK, p)
}

// ListPredictionStakes handles GET /api/v1/predictions/{predictionID}/stakes
func (s *Server) ListPredictionStakes(w http.ResponseWriter, r *http.Request) {
	stakes, err := s.eng.ListPredictionStakes(r.Context(), chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// GetStakeDistribution handles GET /api/v1/predictions/{predictionID}/distribution
func (s *Server) GetStakeDistribution(w http.ResponseWriter, r *http.Request) {
	d, err := s.eng.GetStakeDistribution(r.Context(), chi.URLParam(r, "predictionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- Stake handlers ---

// CastStake handles POST /api/v1/stakes
func (s *Server) CastStake(w http.ResponseWriter, r *http.Request) {
	var req CastStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Side == nil {
		writeBadRequest(w, "side is required")
		return
	}

	stake, err := s.eng.CastStake(r.Context(), req.UserID, req.PredictionID, *req.Side, req.Confidence, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{
		Type:         "stake_cast",
		PredictionID: stake.PredictionID,
		Side:         metrics.SideLabel(stake.Side),
		Amount:       stake.Amount,
	})
	writeJSON(w, http.StatusCreated, stake)
}

// UpdateStake handles PATCH /api/v1/stakes/{stakeID}
func (s *Server) UpdateStake(w http.ResponseWriter, r *http.Request) {
	var req UpdateStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	stake, err := s.eng.UpdateStake(r.Context(), req.UserID, chi.URLParam(r, "stakeID"), req.Side, req.Confidence)
	if err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{
		Type:         "stake_updated",
		PredictionID: stake.PredictionID,
		Side:         metrics.SideLabel(stake.Side),
		Amount:       stake.Amount,
	})
	writeJSON(w, http.StatusOK, stake)
}

// WithdrawStake handles DELETE /api/v1/stakes/{stakeID}?user_id=
func (s *Server) WithdrawStake(w http.ResponseWriter, r *http.Request) {
	stakeID := chi.URLParam(r, "stakeID")
	userID := r.URL.Query().Get("user_id")

	stake, err := s.eng.GetStake(r.Context(), stakeID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.eng.WithdrawStake(r.Context(), userID, stakeID); err != nil {
		writeError(w, err)
		return
	}

	s.broadcast(Event{
		Type:         "stake_withdrawn",
		PredictionID: stake.PredictionID,
		Side:         metrics.SideLabel(stake.Side),
		Amount:       stake.Amount,
	})
	w.WriteHeader(http.StatusNoContent)
}

// --- Account handlers ---

// EnsureAccount handles POST /api/v1/users/{userID}/account
func (s *Server) EnsureAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.eng.EnsureAccount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// GetBalance handles GET /api/v1/users/{userID}/balance
func (s *Server) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := s.eng.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// GetStats handles GET /api/v1/users/{userID}/stats
func (s *Server) GetStats(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	entry, err := s.eng.GetUserRank(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.eng.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		UserID:             a.UserID,
		Balance:            a.Balance,
		TotalStaked:        a.TotalStaked,
		TotalWon:           a.TotalWon,
		PredictionsMade:    a.PredictionsMade,
		PredictionsCorrect: a.PredictionsCorrect,
		Accuracy:           a.Accuracy(),
		CurrentStreak:      a.CurrentStreak,
		LongestStreak:      a.LongestStreak,
		Rank:               entry.Rank,
	})
}

// GetLedger handles GET /api/v1/users/{userID}/ledger?kind=&limit=
func (s *Server) GetLedger(w http.ResponseWriter, r *http.Request) {
	kind := model.EntryKind(r.URL.Query().Get("kind"))
	entries, err := s.eng.GetLedgerHistory(r.Context(), chi.URLParam(r, "userID"), kind, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []model.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ListUserStakes handles GET /api/v1/users/{userID}/stakes?limit=
func (s *Server) ListUserStakes(w http.ResponseWriter, r *http.Request) {
	stakes, err := s.eng.ListUserStakes(r.Context(), chi.URLParam(r, "userID"), queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if stakes == nil {
		stakes = []model.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// ClaimDailyBonus handles POST /api/v1/users/{userID}/daily-bonus
func (s *Server) ClaimDailyBonus(w http.ResponseWriter, r *http.Request) {
	claim, err := s.eng.ClaimDailyBonus(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// AwardReferralBonus handles POST /api/v1/users/{userID}/referral-bonus
func (s *Server) AwardReferralBonus(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	a, err := s.eng.AwardReferralBonus(r.Context(), chi.URLParam(r, "userID"), req.ReferredUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// AdjustBalance handles POST /api/v1/users/{userID}/adjust
func (s *Server) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	a, err := s.eng.AdjustBalance(r.Context(), chi.URLParam(r, "userID"), req.Amount, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- Leaderboard and health ---

// GetLeaderboard handles GET /api/v1/leaderboard?window=&limit=
func (s *Server) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	window := model.LeaderboardWindow(r.URL.Query().Get("window"))
	board, err := s.eng.GetLeaderboard(r.Context(), window, queryInt(r, "limit"))
	if err != nil {
		writeError(w, err)
		return
	}
	if board == nil {
		board = []model.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, board)
}

// Health handles GET /health
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Helpers ---

func (s *Server) broadcast(ev Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": message})
}

// writeError maps engine errors onto HTTP statuses in one place.
func writeError(w http.ResponseWriter, err error) {
	var cooldown *engine.CooldownError
	if errors.As(err, &cooldown) {
		retryAfter := int64((cooldown.Remaining + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "daily bonus on cooldown",
			"retry_after_seconds": retryAfter,
			"next_claim_at":       cooldown.NextClaimAt,
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrAccountNotFound),
		errors.Is(err, engine.ErrPredictionNotFound),
		errors.Is(err, engine.ErrStakeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidInput),
		errors.Is(err, engine.ErrInsufficientBalance):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrNotStakeOwner):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidTransition),
		errors.Is(err, engine.ErrNotAcceptingStakes),
		errors.Is(err, engine.ErrDuplicateStake),
		errors.Is(err, engine.ErrConflict):
		status = http.StatusConflict
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
