package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/engine"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
	"github.com/lingamvamshikrishnareddy/calledit/internal/store"
)

// castField stakes 10 points per user; the first yesCount users take yes.
func castField(t *testing.T, eng *engine.Engine, predictionID string, yesCount, total int) []string {
	t.Helper()
	users := make([]string, total)
	for i := 0; i < total; i++ {
		u := fmt.Sprintf("user%02d", i)
		users[i] = u
		seedAccount(t, eng, u)
		mustCast(t, eng, u, predictionID, i < yesCount, 10)
	}
	return users
}

// --- Settlement tests ---

func TestResolve_MinorityBonusTiers(t *testing.T) {
	cases := []struct {
		name       string
		yesCount   int
		total      int
		payout     int64
		multiplier string
	}{
		{"lone winner gets full bonus", 1, 10, 30, "1"},
		{"small minority gets half bonus", 3, 10, 25, "0.5"},
		{"majority gets stake doubled only", 6, 10, 20, "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _, clk := newTestEngine(t)
			p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
			users := castField(t, eng, p.ID, tc.yesCount, tc.total)

			report, err := eng.ResolvePrediction(context.Background(), p.ID, true, "it happened")
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}

			if report.TotalStakes != tc.total {
				t.Errorf("expected %d total stakes, got %d", tc.total, report.TotalStakes)
			}
			if report.WinningStakes != tc.yesCount {
				t.Errorf("expected %d winners, got %d", tc.yesCount, report.WinningStakes)
			}
			if report.BonusMultiplier != tc.multiplier {
				t.Errorf("expected multiplier %s, got %s", tc.multiplier, report.BonusMultiplier)
			}
			if want := int64(tc.yesCount) * tc.payout; report.PointsPaid != want {
				t.Errorf("expected %d points paid, got %d", want, report.PointsPaid)
			}

			for i, u := range users {
				a, err := eng.GetAccount(context.Background(), u)
				if err != nil {
					t.Fatalf("failed to read account %s: %v", u, err)
				}
				if i < tc.yesCount {
					if want := 100 - 10 + tc.payout; a.Balance != want {
						t.Errorf("winner %s: expected balance %d, got %d", u, want, a.Balance)
					}
					if a.TotalWon != tc.payout {
						t.Errorf("winner %s: expected total_won %d, got %d", u, tc.payout, a.TotalWon)
					}
					if a.PredictionsCorrect != 1 || a.CurrentStreak != 1 {
						t.Errorf("winner %s: expected correct=1 streak=1, got %d/%d", u, a.PredictionsCorrect, a.CurrentStreak)
					}
				} else {
					if a.Balance != 90 {
						t.Errorf("loser %s: expected balance 90, got %d", u, a.Balance)
					}
					if a.PredictionsCorrect != 0 || a.CurrentStreak != 0 {
						t.Errorf("loser %s: expected correct=0 streak=0, got %d/%d", u, a.PredictionsCorrect, a.CurrentStreak)
					}
				}
			}
		})
	}
}

func TestResolve_BoundaryShares(t *testing.T) {
	// Exactly 20% winners lands in the half-bonus tier, exactly 40% in none.
	t.Run("one winner of five", func(t *testing.T) {
		eng, _, clk := newTestEngine(t)
		p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
		users := castField(t, eng, p.ID, 1, 5)

		report, err := eng.ResolvePrediction(context.Background(), p.ID, true, "")
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if report.BonusMultiplier != "0.5" {
			t.Errorf("expected multiplier 0.5 at the 20%% boundary, got %s", report.BonusMultiplier)
		}
		a, _ := eng.GetAccount(context.Background(), users[0])
		if a.Balance != 115 {
			t.Errorf("expected winner balance 115, got %d", a.Balance)
		}
	})

	t.Run("two winners of five", func(t *testing.T) {
		eng, _, clk := newTestEngine(t)
		p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
		users := castField(t, eng, p.ID, 2, 5)

		report, err := eng.ResolvePrediction(context.Background(), p.ID, true, "")
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		if report.BonusMultiplier != "0" {
			t.Errorf("expected no bonus at the 40%% boundary, got %s", report.BonusMultiplier)
		}
		a, _ := eng.GetAccount(context.Background(), users[0])
		if a.Balance != 110 {
			t.Errorf("expected winner balance 110, got %d", a.Balance)
		}
	})
}

func TestResolve_MarksStakes(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	seedAccount(t, eng, "alice")
	seedAccount(t, eng, "bob")
	win := mustCast(t, eng, "alice", p.ID, false, 10)
	lose := mustCast(t, eng, "bob", p.ID, true, 10)

	if _, err := eng.ResolvePrediction(context.Background(), p.ID, false, ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	ws, _ := eng.GetStake(context.Background(), win.ID)
	if !ws.IsResolved || ws.IsCorrect == nil || !*ws.IsCorrect {
		t.Errorf("expected winning stake resolved correct, got %+v", ws)
	}
	if ws.Payout != 20 {
		t.Errorf("expected doubled stake for a 1-of-2 winner, got %d", ws.Payout)
	}

	ls, _ := eng.GetStake(context.Background(), lose.ID)
	if !ls.IsResolved || ls.IsCorrect == nil || *ls.IsCorrect {
		t.Errorf("expected losing stake resolved incorrect, got %+v", ls)
	}
	if ls.Payout != 0 {
		t.Errorf("expected zero payout for loser, got %d", ls.Payout)
	}

	got, _ := eng.GetPrediction(context.Background(), p.ID)
	if got.Status != model.StatusResolved {
		t.Errorf("expected status resolved, got %s", got.Status)
	}
	if got.Resolution == nil || *got.Resolution {
		t.Error("expected stored resolution no")
	}
	if got.SettledAt == nil {
		t.Error("expected settled_at to be set")
	}
}

func TestResolve_Idempotent(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	castField(t, eng, p.ID, 1, 3)

	first, err := eng.ResolvePrediction(context.Background(), p.ID, true, "")
	if err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	second, err := eng.ResolvePrediction(context.Background(), p.ID, true, "")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}

	if *second != *first {
		t.Errorf("reports differ: first %+v second %+v", first, second)
	}

	// Winners were paid exactly once.
	a, _ := eng.GetAccount(context.Background(), "user00")
	if a.Balance != 115 {
		t.Errorf("expected balance 115 after repeat resolve, got %d", a.Balance)
	}
	payouts := mustLedger(t, eng, "user00", model.KindPayout)
	if len(payouts) != 1 {
		t.Errorf("expected 1 payout entry, got %d", len(payouts))
	}
}

func TestResolve_ConflictingOutcomeKeepsOriginal(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	castField(t, eng, p.ID, 1, 3)

	if _, err := eng.ResolvePrediction(context.Background(), p.ID, true, ""); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}
	report, err := eng.ResolvePrediction(context.Background(), p.ID, false, "changed my mind")
	if err != nil {
		t.Fatalf("second resolve failed: %v", err)
	}
	if !report.Outcome {
		t.Error("expected the stored outcome to win over the caller's")
	}

	// No re-settlement under the conflicting outcome.
	loser, _ := eng.GetAccount(context.Background(), "user01")
	if loser.Balance != 90 {
		t.Errorf("expected loser balance to stay 90, got %d", loser.Balance)
	}
}

func TestResolve_FromActive(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)

	if _, err := eng.ResolvePrediction(context.Background(), p.ID, true, ""); err != nil {
		t.Fatalf("resolving an active prediction should work: %v", err)
	}
}

func TestResolve_Guards(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	if _, err := eng.CancelPrediction(context.Background(), p.ID, "rained out"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if _, err := eng.ResolvePrediction(context.Background(), p.ID, true, ""); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition on cancelled prediction, got %v", err)
	}
	if _, err := eng.ResolvePrediction(context.Background(), "no-such-id", true, ""); !errors.Is(err, engine.ErrPredictionNotFound) {
		t.Errorf("expected ErrPredictionNotFound, got %v", err)
	}
}

func TestResolve_NoStakes(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)

	report, err := eng.ResolvePrediction(context.Background(), p.ID, false, "nothing happened")
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if report.TotalStakes != 0 || report.PointsPaid != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
	got, _ := eng.GetPrediction(context.Background(), p.ID)
	if got.SettledAt == nil {
		t.Error("expected empty prediction to still settle")
	}
}

func TestResolve_StreaksAcrossPredictions(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	seedAccount(t, eng, "alice")
	seedAccount(t, eng, "bob")

	outcomes := []bool{true, true, false}
	for i, outcome := range outcomes {
		p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
		mustCast(t, eng, "alice", p.ID, true, 10)
		mustCast(t, eng, "bob", p.ID, false, 10)
		if _, err := eng.ResolvePrediction(context.Background(), p.ID, outcome, ""); err != nil {
			t.Fatalf("resolve %d failed: %v", i, err)
		}
	}

	alice, _ := eng.GetAccount(context.Background(), "alice")
	if alice.CurrentStreak != 0 {
		t.Errorf("expected alice's streak reset to 0, got %d", alice.CurrentStreak)
	}
	if alice.LongestStreak != 2 {
		t.Errorf("expected alice's longest streak 2, got %d", alice.LongestStreak)
	}
	if alice.PredictionsCorrect != 2 || alice.PredictionsMade != 3 {
		t.Errorf("expected alice 2 of 3 correct, got %d of %d", alice.PredictionsCorrect, alice.PredictionsMade)
	}
	if acc := alice.Accuracy(); acc < 66.6 || acc > 66.7 {
		t.Errorf("expected accuracy near 66.7, got %.2f", acc)
	}

	bob, _ := eng.GetAccount(context.Background(), "bob")
	if bob.CurrentStreak != 1 || bob.LongestStreak != 1 {
		t.Errorf("expected bob on a fresh streak of 1, got %d/%d", bob.CurrentStreak, bob.LongestStreak)
	}
}

// failNthStore fails the nth Atomic call with a transient storage error.
type failNthStore struct {
	store.Store
	mu    sync.Mutex
	n     int
	calls int
}

func (f *failNthStore) Atomic(ctx context.Context, fn func(store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls == f.n
	f.mu.Unlock()
	if fail {
		return errors.New("storage hiccup")
	}
	return f.Store.Atomic(ctx, fn)
}

func TestResolve_PartialFailureRecovers(t *testing.T) {
	fs := &failNthStore{Store: store.NewMemoryStore()}
	clk := newFakeClock(baseTime)
	eng := engine.New(fs, engine.WithClock(clk.Now))

	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	castField(t, eng, p.ID, 2, 3)

	// Move past the per-stake transaction that will be made to fail.
	fs.mu.Lock()
	fs.calls = 0
	fs.n = 3
	fs.mu.Unlock()

	if _, err := eng.ResolvePrediction(context.Background(), p.ID, true, ""); err == nil {
		t.Fatal("expected first resolve to report the failed stake")
	}

	got, _ := eng.GetPrediction(context.Background(), p.ID)
	if got.Status != model.StatusResolved {
		t.Fatalf("expected claim to persist, got status %s", got.Status)
	}
	if got.SettledAt != nil {
		t.Fatal("expected settled_at to stay unset after a partial pass")
	}

	report, err := eng.ResolvePrediction(context.Background(), p.ID, true, "")
	if err != nil {
		t.Fatalf("retried resolve failed: %v", err)
	}
	if report.WinningStakes != 2 || report.PointsPaid != 40 {
		t.Errorf("expected 2 winners paid 40 total, got %d winners, %d paid", report.WinningStakes, report.PointsPaid)
	}

	for _, u := range []string{"user00", "user01"} {
		a, _ := eng.GetAccount(context.Background(), u)
		if a.Balance != 110 {
			t.Errorf("winner %s: expected balance 110, got %d", u, a.Balance)
		}
		if payouts := mustLedger(t, eng, u, model.KindPayout); len(payouts) != 1 {
			t.Errorf("winner %s: expected exactly one payout entry, got %d", u, len(payouts))
		}
	}
	got, _ = eng.GetPrediction(context.Background(), p.ID)
	if got.SettledAt == nil {
		t.Error("expected settled_at after the retried pass")
	}
}

// --- Cancellation tests ---

func TestCancelPrediction_Refunds(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	seedAccount(t, eng, "alice")
	seedAccount(t, eng, "bob")
	as := mustCast(t, eng, "alice", p.ID, true, 40)
	mustCast(t, eng, "bob", p.ID, false, 10)

	cancelled, err := eng.CancelPrediction(context.Background(), p.ID, "venue burned down")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("expected status cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancelReason != "venue burned down" {
		t.Errorf("expected cancel reason recorded, got %q", cancelled.CancelReason)
	}
	if cancelled.SettledAt == nil {
		t.Error("expected refunds marked complete")
	}

	for _, u := range []string{"alice", "bob"} {
		a, _ := eng.GetAccount(context.Background(), u)
		if a.Balance != 100 {
			t.Errorf("%s: expected balance restored to 100, got %d", u, a.Balance)
		}
		// Cancellation does not rewrite history the way a withdrawal does.
		if a.PredictionsMade != 1 {
			t.Errorf("%s: expected predictions_made to stay 1, got %d", u, a.PredictionsMade)
		}
	}

	s, _ := eng.GetStake(context.Background(), as.ID)
	if !s.IsResolved || s.IsCorrect != nil {
		t.Errorf("expected refunded stake resolved with no verdict, got %+v", s)
	}
	if s.Payout != 40 {
		t.Errorf("expected refund payout 40, got %d", s.Payout)
	}

	refunds := mustLedger(t, eng, "alice", model.KindRefund)
	if len(refunds) != 1 || refunds[0].Amount != 40 {
		t.Fatalf("expected one refund of 40, got %+v", refunds)
	}
}

func TestCancelPrediction_Idempotent(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	seedAccount(t, eng, "alice")
	mustCast(t, eng, "alice", p.ID, true, 10)

	if _, err := eng.CancelPrediction(context.Background(), p.ID, "first"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := eng.CancelPrediction(context.Background(), p.ID, "second"); err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}

	a, _ := eng.GetAccount(context.Background(), "alice")
	if a.Balance != 100 {
		t.Errorf("expected one refund only, balance %d", a.Balance)
	}
	if refunds := mustLedger(t, eng, "alice", model.KindRefund); len(refunds) != 1 {
		t.Errorf("expected 1 refund entry, got %d", len(refunds))
	}

	got, _ := eng.GetPrediction(context.Background(), p.ID)
	if got.CancelReason != "first" {
		t.Errorf("expected the original reason kept, got %q", got.CancelReason)
	}
}

func TestCancelPrediction_FromClosed(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	if _, err := eng.ClosePrediction(context.Background(), p.ID); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	cancelled, err := eng.CancelPrediction(context.Background(), p.ID, "source unavailable")
	if err != nil {
		t.Fatalf("cancel from closed failed: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("expected status cancelled, got %s", cancelled.Status)
	}
}

func TestCancelPrediction_AfterResolve(t *testing.T) {
	eng, _, clk := newTestEngine(t)
	p := seedPrediction(t, eng, clk, "creator", 24*time.Hour)
	if _, err := eng.ResolvePrediction(context.Background(), p.ID, true, ""); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if _, err := eng.CancelPrediction(context.Background(), p.ID, "too late"); !errors.Is(err, engine.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}
