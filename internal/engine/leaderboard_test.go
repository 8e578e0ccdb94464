package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/engine"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

// --- Leaderboard tests ---

func TestLeaderboard_AllTime(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedAccount(t, eng, "alice")
	seedAccount(t, eng, "bob")
	seedAccount(t, eng, "carol")
	if _, err := eng.AdjustBalance(context.Background(), "alice", 200, "prize"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if _, err := eng.AdjustBalance(context.Background(), "bob", 50, "prize"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	board, err := eng.GetLeaderboard(context.Background(), model.WindowAllTime, 10)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(board) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(board))
	}

	wantOrder := []struct {
		userID string
		points int64
	}{
		{"alice", 300},
		{"bob", 150},
		{"carol", 100},
	}
	for i, want := range wantOrder {
		if board[i].UserID != want.userID || board[i].Points != want.points {
			t.Errorf("row %d: expected %s with %d, got %s with %d",
				i, want.userID, want.points, board[i].UserID, board[i].Points)
		}
		if board[i].Rank != i+1 {
			t.Errorf("row %d: expected rank %d, got %d", i, i+1, board[i].Rank)
		}
	}
}

func TestLeaderboard_WeeklyCountsWindowMovementOnly(t *testing.T) {
	eng, _, clk := newTestEngine(t)

	// The veteran signs up during the first week.
	seedAccount(t, eng, "veteran")
	if _, err := eng.AdjustBalance(context.Background(), "veteran", 20, "prize"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	// A week later only in-window movement counts.
	clk.Advance(8 * 24 * time.Hour)
	seedAccount(t, eng, "newcomer")
	if _, err := eng.ClaimDailyBonus(context.Background(), "veteran"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	weekly, err := eng.GetLeaderboard(context.Background(), model.WindowWeekly, 10)
	if err != nil {
		t.Fatalf("weekly leaderboard failed: %v", err)
	}
	if len(weekly) != 2 {
		t.Fatalf("expected 2 weekly rows, got %d", len(weekly))
	}
	if weekly[0].UserID != "newcomer" || weekly[0].Points != 100 {
		t.Errorf("expected newcomer leading with 100, got %s with %d", weekly[0].UserID, weekly[0].Points)
	}
	if weekly[1].UserID != "veteran" || weekly[1].Points != 20 {
		t.Errorf("expected veteran with 20 in-window points, got %s with %d", weekly[1].UserID, weekly[1].Points)
	}

	// All-time still ranks total balances.
	allTime, err := eng.GetLeaderboard(context.Background(), model.WindowAllTime, 10)
	if err != nil {
		t.Fatalf("all-time leaderboard failed: %v", err)
	}
	if allTime[0].UserID != "veteran" || allTime[0].Points != 140 {
		t.Errorf("expected veteran leading all-time with 140, got %s with %d", allTime[0].UserID, allTime[0].Points)
	}
}

func TestLeaderboard_WeekStartsMonday(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	seedAccount(t, eng, "alice")

	// Sunday 23:00: alice claims a bonus just before the week rolls over.
	clk.Advance(6*24*time.Hour + 11*time.Hour)
	if _, err := eng.ClaimDailyBonus(context.Background(), "alice"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Monday 01:00: a fresh week; only bob has moved inside it.
	clk.Advance(2 * time.Hour)
	seedAccount(t, eng, "bob")

	weekly, err := eng.GetLeaderboard(context.Background(), model.WindowWeekly, 10)
	if err != nil {
		t.Fatalf("weekly leaderboard failed: %v", err)
	}
	if len(weekly) != 1 {
		t.Fatalf("expected only bob on the new week's board, got %d rows", len(weekly))
	}
	if weekly[0].UserID != "bob" || weekly[0].Points != 100 {
		t.Errorf("expected bob with 100, got %s with %d", weekly[0].UserID, weekly[0].Points)
	}
}

func TestLeaderboard_MonthlyRollsOnTheFirst(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	seedAccount(t, eng, "alice")

	// June movement: signup plus an adjustment.
	if _, err := eng.AdjustBalance(context.Background(), "alice", 80, "prize"); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}

	june, err := eng.GetLeaderboard(context.Background(), model.WindowMonthly, 10)
	if err != nil {
		t.Fatalf("monthly leaderboard failed: %v", err)
	}
	if len(june) != 1 || june[0].Points != 180 {
		t.Fatalf("expected alice with 180 in June, got %+v", june)
	}

	// July 1st: the monthly board starts from zero.
	clk.Advance(29 * 24 * time.Hour)
	if _, err := eng.ClaimDailyBonus(context.Background(), "alice"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	july, err := eng.GetLeaderboard(context.Background(), model.WindowMonthly, 10)
	if err != nil {
		t.Fatalf("monthly leaderboard failed: %v", err)
	}
	if len(july) != 1 || july[0].Points != 20 {
		t.Fatalf("expected alice with 20 in July, got %+v", july)
	}
}

func TestLeaderboard_DefaultsAndLimits(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	for i := 0; i < 12; i++ {
		seedAccount(t, eng, fmt.Sprintf("user%02d", i))
	}

	board, err := eng.GetLeaderboard(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("leaderboard failed: %v", err)
	}
	if len(board) != 10 {
		t.Errorf("expected default page of 10, got %d", len(board))
	}

	if _, err := eng.GetLeaderboard(context.Background(), "fortnightly", 10); !errors.Is(err, engine.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown window, got %v", err)
	}
}

// --- Rank tests ---

func TestUserRank_TiesShareRank(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	seedAccount(t, eng, "alice")
	seedAccount(t, eng, "bob")
	seedAccount(t, eng, "carol")
	seedAccount(t, eng, "dave")
	if _, err := eng.AdjustBalance(context.Background(), "alice", 200, ""); err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	for _, u := range []string{"bob", "carol"} {
		if _, err := eng.AdjustBalance(context.Background(), u, 100, ""); err != nil {
			t.Fatalf("adjust failed: %v", err)
		}
	}

	wantRanks := map[string]int{
		"alice": 1,
		"bob":   2,
		"carol": 2,
		"dave":  4,
	}
	for userID, want := range wantRanks {
		entry, err := eng.GetUserRank(context.Background(), userID)
		if err != nil {
			t.Fatalf("rank for %s failed: %v", userID, err)
		}
		if entry.Rank != want {
			t.Errorf("%s: expected rank %d, got %d", userID, want, entry.Rank)
		}
	}
}

func TestUserRank_NoAccount(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.GetUserRank(context.Background(), "ghost")
	if !errors.Is(err, engine.ErrAccountNotFound) {
		t.Errorf("expected ErrAccountNotFound, got %v", err)
	}
}
