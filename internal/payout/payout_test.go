package payout

import (
	"testing"

	"github.com/shopspring/decimal"
)

// --- Multiplier tier tests ---

func TestMultiplier_StrongMinority(t *testing.T) {
	// 1 winner of 10 stakes: 10% share, below the 20% threshold.
	m := Multiplier(1, 10)
	if !m.Equal(StrongMultiplier) {
		t.Errorf("expected multiplier 1.0 for 1/10 split, got %s", m)
	}
}

func TestMultiplier_MildMinority(t *testing.T) {
	// 3 winners of 10: 30% share, in [20%, 40%).
	m := Multiplier(3, 10)
	if !m.Equal(MildMultiplier) {
		t.Errorf("expected multiplier 0.5 for 3/10 split, got %s", m)
	}
}

func TestMultiplier_Majority(t *testing.T) {
	// 6 winners of 10: 60% share, no bonus.
	m := Multiplier(6, 10)
	if !m.IsZero() {
		t.Errorf("expected zero multiplier for 6/10 split, got %s", m)
	}
}

func TestMultiplier_ExactBoundaries(t *testing.T) {
	// Thresholds are strict: exactly 20% falls into the mild tier and
	// exactly 40% gets no bonus.
	tests := []struct {
		name           string
		winning, total int
		want           decimal.Decimal
	}{
		{"exactly 20 percent", 2, 10, MildMultiplier},
		{"just under 20 percent", 19, 100, StrongMultiplier},
		{"exactly 40 percent", 4, 10, NoBonus},
		{"just under 40 percent", 39, 100, MildMultiplier},
		{"one third", 1, 3, MildMultiplier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Multiplier(tt.winning, tt.total)
			if !got.Equal(tt.want) {
				t.Errorf("Multiplier(%d, %d) = %s, want %s",
					tt.winning, tt.total, got, tt.want)
			}
		})
	}
}

func TestMultiplier_DegenerateSplits(t *testing.T) {
	if m := Multiplier(0, 10); !m.IsZero() {
		t.Errorf("no winners should yield zero multiplier, got %s", m)
	}
	if m := Multiplier(10, 10); !m.IsZero() {
		t.Errorf("unanimous win should yield zero multiplier, got %s", m)
	}
	if m := Multiplier(0, 0); !m.IsZero() {
		t.Errorf("empty prediction should yield zero multiplier, got %s", m)
	}
}

// --- WinnerPayout tests ---

func TestWinnerPayout_SpecExamples(t *testing.T) {
	// The three canonical splits for 10 stakes of 10 points each.
	tests := []struct {
		name           string
		winning, total int
		amount, want   int64
	}{
		{"lone winner gets 3x", 1, 10, 10, 30},
		{"mild minority gets 2.5x", 3, 10, 10, 25},
		{"majority gets 2x", 6, 10, 10, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Multiplier(tt.winning, tt.total)
			got := WinnerPayout(tt.amount, m)
			if got != tt.want {
				t.Errorf("WinnerPayout(%d, %s) = %d, want %d",
					tt.amount, m, got, tt.want)
			}
		})
	}
}

func TestWinnerPayout_FloorsBonus(t *testing.T) {
	// 7 * 0.5 = 3.5 floors to 3: 14 + 3 = 17.
	got := WinnerPayout(7, MildMultiplier)
	if got != 17 {
		t.Errorf("expected payout 17 for amount 7 at 0.5x bonus, got %d", got)
	}

	// 1 * 0.5 floors to 0: the bonus can vanish entirely.
	got = WinnerPayout(1, MildMultiplier)
	if got != 2 {
		t.Errorf("expected payout 2 for amount 1 at 0.5x bonus, got %d", got)
	}
}

func TestWinnerPayout_ZeroMultiplier(t *testing.T) {
	got := WinnerPayout(50, NoBonus)
	if got != 100 {
		t.Errorf("expected plain 2x payout 100, got %d", got)
	}
}

// --- Plan tests ---

func TestCompute_YesOutcome(t *testing.T) {
	plan, err := Compute(true, 3, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.WinningStakes != 3 || plan.LosingStakes != 7 || plan.TotalStakes != 10 {
		t.Errorf("unexpected counts: %+v", plan)
	}
	if !plan.Multiplier.Equal(MildMultiplier) {
		t.Errorf("expected 0.5 multiplier, got %s", plan.Multiplier)
	}
}

func TestCompute_NoOutcome(t *testing.T) {
	// Outcome false makes the no-side the winners.
	plan, err := Compute(false, 9, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.WinningStakes != 1 || plan.LosingStakes != 9 {
		t.Errorf("unexpected counts: %+v", plan)
	}
	if !plan.Multiplier.Equal(StrongMultiplier) {
		t.Errorf("expected 1.0 multiplier for 1/10 winners, got %s", plan.Multiplier)
	}
}

func TestCompute_NegativeCounts(t *testing.T) {
	if _, err := Compute(true, -1, 5); err != ErrInvalidSplit {
		t.Errorf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestCompute_Empty(t *testing.T) {
	plan, err := Compute(true, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.TotalStakes != 0 || plan.WinningStakes != 0 || plan.LosingStakes != 0 {
		t.Errorf("empty prediction should settle trivially: %+v", plan)
	}
}

func TestPlanPayoutFor(t *testing.T) {
	plan, _ := Compute(true, 1, 9)

	if got := plan.PayoutFor(true, 10); got != 30 {
		t.Errorf("winner payout = %d, want 30", got)
	}
	if got := plan.PayoutFor(false, 10); got != 0 {
		t.Errorf("loser payout = %d, want 0", got)
	}
}

func TestPlanPayoutFor_MixedAmounts(t *testing.T) {
	// The multiplier comes from stake counts; amounts only scale each
	// winner's own payout.
	plan, _ := Compute(false, 8, 2)
	if !plan.Multiplier.Equal(MildMultiplier) {
		t.Fatalf("expected 0.5 multiplier for 2/10 winners, got %s", plan.Multiplier)
	}
	if got := plan.PayoutFor(false, 100); got != 250 {
		t.Errorf("payout for amount 100 = %d, want 250", got)
	}
	if got := plan.PayoutFor(false, 15); got != 37 { // 30 + floor(7.5)
		t.Errorf("payout for amount 15 = %d, want 37", got)
	}
}
