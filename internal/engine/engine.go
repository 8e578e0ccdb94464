// Package engine implements the core of the prediction system: the
// prediction lifecycle state machine, the points-staking ledger, the
// settlement pass with its minority bonus, and the account manager that
// owns every balance mutation.
//
// Every state-changing operation executes as one atomic store transaction.
// Operations that touch several rows lock them in a fixed order
// (stake, prediction, account) so concurrent callers serialize instead of
// deadlocking. Store conflicts are retried a bounded number of times
// before surfacing as ErrConflict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lingamvamshikrishnareddy/calledit/internal/metrics"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
	"github.com/lingamvamshikrishnareddy/calledit/internal/store"
)

var (
	// ErrAccountNotFound is returned when the acting user has no account.
	ErrAccountNotFound = errors.New("engine: account not found")

	// ErrPredictionNotFound is returned when the prediction does not exist.
	ErrPredictionNotFound = errors.New("engine: prediction not found")

	// ErrStakeNotFound is returned when the stake does not exist.
	ErrStakeNotFound = errors.New("engine: stake not found")

	// ErrInvalidTransition is returned for an illegal lifecycle move, e.g.
	// resolving a cancelled prediction. No state changes.
	ErrInvalidTransition = errors.New("engine: invalid lifecycle transition")

	// ErrNotAcceptingStakes is returned when casting against a prediction
	// that is closed, expired, resolved or cancelled.
	ErrNotAcceptingStakes = errors.New("engine: prediction is not accepting stakes")

	// ErrDuplicateStake is returned when the user already staked on the
	// prediction.
	ErrDuplicateStake = errors.New("engine: user already staked on this prediction")

	// ErrInsufficientBalance is returned when the stake exceeds the user's
	// balance.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrInvalidInput is returned for out-of-range or missing arguments.
	ErrInvalidInput = errors.New("engine: invalid input")

	// ErrNotStakeOwner is returned when a caller manipulates another
	// user's stake.
	ErrNotStakeOwner = errors.New("engine: stake belongs to another user")

	// ErrConflict is returned once the bounded conflict retries are
	// exhausted.
	ErrConflict = errors.New("engine: concurrent update conflict")
)

// CooldownError reports that the daily bonus is still on cooldown.
type CooldownError struct {
	Remaining   time.Duration
	NextClaimAt time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("engine: daily bonus on cooldown for %s", e.Remaining.Round(time.Second))
}

const (
	// DailyBonusCooldown is the rolling window between two bonus claims.
	// It is measured from the previous claim, not reset at midnight.
	DailyBonusCooldown = 24 * time.Hour

	maxConflictRetries = 3
	conflictBackoff    = 25 * time.Millisecond
	sweepBatchSize     = 100
)

// Params carries the configurable bonus amounts.
type Params struct {
	SignupBonus   int64
	DailyBonus    int64
	ReferralBonus int64
}

// DefaultParams returns the stock bonus amounts.
func DefaultParams() Params {
	return Params{
		SignupBonus:   100,
		DailyBonus:    20,
		ReferralBonus: 50,
	}
}

// Engine exposes every lifecycle, staking, settlement and account
// operation. It is safe for concurrent use.
type Engine struct {
	store  store.Store
	params Params
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithParams overrides the default bonus amounts.
func WithParams(p Params) Option {
	return func(e *Engine) { e.params = p }
}

// WithClock overrides the engine's clock. Tests use this to step time
// across deadlines and cooldowns.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine on top of the given store.
func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  st,
		params: DefaultParams(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// atomic runs fn through the store, retrying bounded times on conflicts.
func (e *Engine) atomic(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxConflictRetries; attempt++ {
		if attempt > 0 {
			metrics.ConflictRetries.Inc()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * conflictBackoff):
			}
		}
		err = e.store.Atomic(ctx, fn)
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("gave up after %d conflict retries: %w", maxConflictRetries, ErrConflict)
}

// newEntry builds a ledger entry; the id is assigned here, the sequence by
// the store on append.
func newEntry(userID string, kind model.EntryKind, amount, balanceAfter int64, predictionID *string, note string, at time.Time) *model.LedgerEntry {
	return &model.LedgerEntry{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		PredictionID: predictionID,
		Note:         note,
		CreatedAt:    at,
	}
}

// --- Account manager ---

// EnsureAccount provisions a points account for a user the identity layer
// has established, crediting the signup bonus through the ledger. Calling
// it again for the same user returns the existing account unchanged.
func (e *Engine) EnsureAccount(ctx context.Context, userID string) (*model.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}

	var acct *model.Account
	err := e.atomic(ctx, func(tx store.Tx) error {
		existing, err := tx.AccountForUpdate(ctx, userID)
		if err == nil {
			acct = existing
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := e.now().UTC()
		a := &model.Account{
			UserID:    userID,
			Balance:   e.params.SignupBonus,
			CreatedAt: now,
		}
		if err := tx.InsertAccount(ctx, a); err != nil {
			return err
		}
		if e.params.SignupBonus > 0 {
			entry := newEntry(userID, model.KindSignupBonus, e.params.SignupBonus, a.Balance, nil, "signup bonus", now)
			if err := tx.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}
		acct = a
		slog.Info("account provisioned", "user_id", userID, "signup_bonus", e.params.SignupBonus)
		return nil
	})
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a provisioning race; the winner's account is ours too.
		return e.GetAccount(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetAccount returns a user's account snapshot.
func (e *Engine) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := e.store.GetAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
		}
		return nil, err
	}
	return a, nil
}

// GetBalance returns a user's current point balance.
func (e *Engine) GetBalance(ctx context.Context, userID string) (int64, error) {
	a, err := e.GetAccount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return a.Balance, nil
}

// ClaimDailyBonus credits the daily bonus if the rolling 24h window has
// elapsed since the previous claim. When it has not, the returned error is
// a *CooldownError carrying the exact remaining duration.
func (e *Engine) ClaimDailyBonus(ctx context.Context, userID string) (*model.BonusClaim, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}

	var claim *model.BonusClaim
	err := e.atomic(ctx, func(tx store.Tx) error {
		a, err := tx.AccountForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
			}
			return err
		}

		now := e.now().UTC()
		if a.LastDailyBonusAt != nil {
			elapsed := now.Sub(*a.LastDailyBonusAt)
			if elapsed < DailyBonusCooldown {
				return &CooldownError{
					Remaining:   DailyBonusCooldown - elapsed,
					NextClaimAt: a.LastDailyBonusAt.Add(DailyBonusCooldown),
				}
			}
		}

		a.Balance += e.params.DailyBonus
		a.LastDailyBonusAt = &now
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		entry := newEntry(userID, model.KindDailyBonus, e.params.DailyBonus, a.Balance, nil, "daily bonus", now)
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}

		claim = &model.BonusClaim{
			Amount:      e.params.DailyBonus,
			NewBalance:  a.Balance,
			ClaimedAt:   now,
			NextClaimAt: now.Add(DailyBonusCooldown),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DailyBonusClaims.Inc()
	slog.Info("daily bonus claimed", "user_id", userID, "amount", claim.Amount, "new_balance", claim.NewBalance)
	return claim, nil
}

// AwardReferralBonus credits the referral bonus to the referrer once the
// identity layer confirms a referred signup. One bonus per referred user
// is the caller's contract; the engine records whatever it is told.
func (e *Engine) AwardReferralBonus(ctx context.Context, userID, referredUserID string) (*model.Account, error) {
	if userID == "" || referredUserID == "" {
		return nil, fmt.Errorf("%w: user id and referred user id required", ErrInvalidInput)
	}
	if userID == referredUserID {
		return nil, fmt.Errorf("%w: users cannot refer themselves", ErrInvalidInput)
	}

	var acct *model.Account
	err := e.atomic(ctx, func(tx store.Tx) error {
		a, err := tx.AccountForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
			}
			return err
		}

		now := e.now().UTC()
		a.Balance += e.params.ReferralBonus
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		note := fmt.Sprintf("referral bonus for %s", referredUserID)
		entry := newEntry(userID, model.KindReferralBonus, e.params.ReferralBonus, a.Balance, nil, note, now)
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("referral bonus awarded", "user_id", userID, "referred_user_id", referredUserID, "amount", e.params.ReferralBonus)
	return acct, nil
}

// AdjustBalance applies a signed admin adjustment. Adjustments that would
// drive the balance negative are rejected whole.
func (e *Engine) AdjustBalance(ctx context.Context, userID string, amount int64, note string) (*model.Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: adjustment amount must be nonzero", ErrInvalidInput)
	}

	var acct *model.Account
	err := e.atomic(ctx, func(tx store.Tx) error {
		a, err := tx.AccountForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
			}
			return err
		}

		if a.Balance+amount < 0 {
			return fmt.Errorf("balance %d cannot absorb adjustment %d: %w", a.Balance, amount, ErrInsufficientBalance)
		}

		now := e.now().UTC()
		a.Balance += amount
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		if note == "" {
			note = "admin adjustment"
		}
		entry := newEntry(userID, model.KindAdminAdjustment, amount, a.Balance, nil, note, now)
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}
		acct = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("balance adjusted", "user_id", userID, "amount", amount, "new_balance", acct.Balance)
	return acct, nil
}

// GetLedgerHistory returns a user's most recent ledger entries, newest
// first, optionally filtered to one kind.
func (e *Engine) GetLedgerHistory(ctx context.Context, userID string, kind model.EntryKind, limit int) ([]model.LedgerEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown ledger kind %q", ErrInvalidInput, kind)
	}
	return e.store.LedgerForUser(ctx, userID, kind, clampLimit(limit, 50, 200))
}

// clampLimit normalizes a caller-supplied page size.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
