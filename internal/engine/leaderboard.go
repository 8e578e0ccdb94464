package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
	"github.com/lingamvamshikrishnareddy/calledit/internal/store"
)

// GetLeaderboard returns the top accounts for a window. The all-time
// board ranks current balances; weekly and monthly boards rank net ledger
// movement inside the current calendar window. An empty window means
// all-time.
func (e *Engine) GetLeaderboard(ctx context.Context, window model.LeaderboardWindow, limit int) ([]model.LeaderboardEntry, error) {
	if window == "" {
		window = model.WindowAllTime
	}
	if !window.Valid() {
		return nil, fmt.Errorf("%w: unknown leaderboard window %q", ErrInvalidInput, window)
	}
	limit = clampLimit(limit, 10, 100)

	if window == model.WindowAllTime {
		return e.store.TopByBalance(ctx, limit)
	}
	from, to := windowBounds(e.now().UTC(), window)
	return e.store.TopByWindow(ctx, from, to, limit)
}

// GetUserRank returns one user's all-time leaderboard row. Rank is
// count-of-richer-accounts plus one, so ties share a rank.
func (e *Engine) GetUserRank(ctx context.Context, userID string) (*model.LeaderboardEntry, error) {
	a, err := e.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	rank, err := e.store.BalanceRank(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
		}
		return nil, err
	}
	return &model.LeaderboardEntry{
		Rank:               rank,
		UserID:             a.UserID,
		Points:             a.Balance,
		PredictionsMade:    a.PredictionsMade,
		PredictionsCorrect: a.PredictionsCorrect,
		Accuracy:           a.Accuracy(),
		CurrentStreak:      a.CurrentStreak,
	}, nil
}

// windowBounds returns the half-open [from, to) UTC range for a calendar
// window: ISO weeks start Monday 00:00, months on the 1st.
func windowBounds(now time.Time, window model.LeaderboardWindow) (time.Time, time.Time) {
	switch window {
	case model.WindowWeekly:
		daysSinceMonday := (int(now.Weekday()) + 6) % 7
		from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
			AddDate(0, 0, -daysSinceMonday)
		return from, from.AddDate(0, 0, 7)
	case model.WindowMonthly:
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0)
	default:
		return time.Time{}, time.Time{}
	}
}
