// Package model defines the core domain types shared across the prediction
// engine. Point amounts are integral and never represented as floats.
package model

import "time"

// PredictionStatus is the lifecycle state of a prediction.
// Legal transitions: active → closed → resolved, and active|closed →
// cancelled. Resolved and cancelled are terminal.
type PredictionStatus string

const (
	StatusActive    PredictionStatus = "active"
	StatusClosed    PredictionStatus = "closed"
	StatusResolved  PredictionStatus = "resolved"
	StatusCancelled PredictionStatus = "cancelled"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s PredictionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// EntryKind tags a ledger entry with the reason points moved. The set is
// closed; code that branches on it handles every kind.
type EntryKind string

const (
	KindStake           EntryKind = "stake"
	KindPayout          EntryKind = "payout"
	KindRefund          EntryKind = "refund"
	KindDailyBonus      EntryKind = "daily_bonus"
	KindSignupBonus     EntryKind = "signup_bonus"
	KindReferralBonus   EntryKind = "referral_bonus"
	KindAdminAdjustment EntryKind = "admin_adjustment"
)

// Valid reports whether k is one of the defined entry kinds.
func (k EntryKind) Valid() bool {
	switch k {
	case KindStake, KindPayout, KindRefund, KindDailyBonus,
		KindSignupBonus, KindReferralBonus, KindAdminAdjustment:
		return true
	}
	return false
}

// LeaderboardWindow selects the scoring period for a ranking query.
type LeaderboardWindow string

const (
	WindowAllTime LeaderboardWindow = "all_time"
	WindowWeekly  LeaderboardWindow = "weekly"
	WindowMonthly LeaderboardWindow = "monthly"
)

// Valid reports whether w is one of the defined windows.
func (w LeaderboardWindow) Valid() bool {
	switch w {
	case WindowAllTime, WindowWeekly, WindowMonthly:
		return true
	}
	return false
}

// Account holds a user's current point balance and derived stats. The user
// id is opaque; identity lives with an external collaborator. Balance is
// mutated only by applying ledger entries and never goes negative.
type Account struct {
	UserID             string     `json:"user_id" db:"user_id"`
	Balance            int64      `json:"balance" db:"balance"`
	TotalStaked        int64      `json:"total_staked" db:"total_staked"`
	TotalWon           int64      `json:"total_won" db:"total_won"`
	CurrentStreak      int        `json:"current_streak" db:"current_streak"`
	LongestStreak      int        `json:"longest_streak" db:"longest_streak"`
	PredictionsMade    int        `json:"predictions_made" db:"predictions_made"`
	PredictionsCorrect int        `json:"predictions_correct" db:"predictions_correct"`
	LastDailyBonusAt   *time.Time `json:"last_daily_bonus_at,omitempty" db:"last_daily_bonus_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// Accuracy returns the share of this user's casts that resolved correct,
// as a percentage in [0,100]. Zero casts yields zero.
func (a *Account) Accuracy() float64 {
	if a.PredictionsMade == 0 {
		return 0
	}
	return float64(a.PredictionsCorrect) / float64(a.PredictionsMade) * 100
}

// Prediction represents a binary proposition users stake points on.
// YesCount/NoCount are a cached projection over the prediction's stakes and
// must always be reconstructible by counting them.
type Prediction struct {
	ID              string           `json:"id" db:"id"`
	CreatorID       string           `json:"creator_id" db:"creator_id"`
	Title           string           `json:"title" db:"title"`
	Description     string           `json:"description,omitempty" db:"description"`
	Status          PredictionStatus `json:"status" db:"status"`
	YesCount        int              `json:"yes_count" db:"yes_count"`
	NoCount         int              `json:"no_count" db:"no_count"`
	Resolution      *bool            `json:"resolution,omitempty" db:"resolution"` // nil until resolved
	ResolutionNotes string           `json:"resolution_notes,omitempty" db:"resolution_notes"`
	CancelReason    string           `json:"cancel_reason,omitempty" db:"cancel_reason"`
	ClosesAt        time.Time        `json:"closes_at" db:"closes_at"`
	ResolvedAt      *time.Time       `json:"resolved_at,omitempty" db:"resolved_at"`
	SettledAt       *time.Time       `json:"settled_at,omitempty" db:"settled_at"` // set once the payout pass completed
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// TotalCount returns the cached total number of stakes.
func (p *Prediction) TotalCount() int { return p.YesCount + p.NoCount }

// AcceptingStakes reports whether a stake may be cast right now. The
// deadline is authoritative even when the status flip to closed has not
// happened yet.
func (p *Prediction) AcceptingStakes(now time.Time) bool {
	return p.Status == StatusActive && now.Before(p.ClosesAt)
}

// Terminal reports whether the prediction reached a terminal state.
func (p *Prediction) Terminal() bool {
	return p.Status == StatusResolved || p.Status == StatusCancelled
}

// Stake is one user's single binary bet on one prediction. At most one
// stake exists per (user, prediction) pair, enforced by the durable store.
// Amount is debited from the user's balance at cast time; it comes back
// only through a settlement payout or a refund.
type Stake struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"user_id" db:"user_id"`
	PredictionID string     `json:"prediction_id" db:"prediction_id"`
	Side         bool       `json:"side" db:"side"` // true = yes
	Confidence   int        `json:"confidence" db:"confidence"` // 1-100, informational only
	Amount       int64      `json:"amount" db:"amount"`
	IsResolved   bool       `json:"is_resolved" db:"is_resolved"`
	IsCorrect    *bool      `json:"is_correct,omitempty" db:"is_correct"` // nil until resolved, nil on refund
	Payout       int64      `json:"payout" db:"payout"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty" db:"updated_at"`
}

// LedgerEntry is an immutable record of one balance change. Entries are
// append-only and are the sole source of truth for balance history: a
// user's balance always equals the running sum of their entry amounts.
// Seq is assigned by the store and totally orders a user's entries by
// commit time.
type LedgerEntry struct {
	ID           string    `json:"id" db:"id"`
	Seq          int64     `json:"seq" db:"seq"`
	UserID       string    `json:"user_id" db:"user_id"`
	Kind         EntryKind `json:"kind" db:"kind"`
	Amount       int64     `json:"amount" db:"amount"` // signed: + credit, - debit
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	PredictionID *string   `json:"prediction_id,omitempty" db:"prediction_id"`
	Note         string    `json:"note,omitempty" db:"note"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// LeaderboardEntry is one row of the ranking read model. Points is the
// account balance for the all-time window and the net signed ledger sum
// inside the window for weekly/monthly.
type LeaderboardEntry struct {
	Rank               int     `json:"rank"`
	UserID             string  `json:"user_id"`
	Points             int64   `json:"points"`
	PredictionsMade    int     `json:"predictions_made"`
	PredictionsCorrect int     `json:"predictions_correct"`
	Accuracy           float64 `json:"accuracy"`
	CurrentStreak      int     `json:"current_streak"`
}

// SettlementReport summarizes one prediction's settlement. Resolving an
// already-resolved prediction returns the same report recomputed from the
// persisted stakes.
type SettlementReport struct {
	PredictionID    string    `json:"prediction_id"`
	Outcome         bool      `json:"outcome"`
	TotalStakes     int       `json:"total_stakes"`
	WinningStakes   int       `json:"winning_stakes"`
	LosingStakes    int       `json:"losing_stakes"`
	BonusMultiplier string    `json:"bonus_multiplier"` // decimal string, e.g. "0.5"
	PointsPaid      int64     `json:"points_paid"`
	ResolvedAt      time.Time `json:"resolved_at"`
}

// BonusClaim is the result of a successful daily bonus claim.
type BonusClaim struct {
	Amount      int64     `json:"amount"`
	NewBalance  int64     `json:"new_balance"`
	ClaimedAt   time.Time `json:"claimed_at"`
	NextClaimAt time.Time `json:"next_claim_at"`
}

// StakeDistribution summarizes how stakes split across the two sides of a
// prediction.
type StakeDistribution struct {
	PredictionID string  `json:"prediction_id"`
	YesCount     int     `json:"yes_count"`
	NoCount      int     `json:"no_count"`
	YesPoints    int64   `json:"yes_points"`
	NoPoints     int64   `json:"no_points"`
	YesPercent   float64 `json:"yes_percent"`
	NoPercent    float64 `json:"no_percent"`
}
