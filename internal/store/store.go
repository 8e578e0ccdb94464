// Package store defines the persistence interface for the prediction
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing and single-node dev).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint, e.g. a second stake for the same (user, prediction).
	ErrDuplicate = errors.New("store: duplicate row")

	// ErrConflict is returned when a transaction loses a serialization or
	// deadlock race and can be retried.
	ErrConflict = errors.New("store: transaction conflict")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for hot read paths.
//
// All state-changing flows run through Atomic so that a balance check, its
// ledger entry, and the row it pays for commit or roll back as one unit.
type Store interface {
	// Atomic runs fn inside a single transaction. If fn returns an error
	// the transaction rolls back and no partial effect survives. Conflicts
	// surface as ErrConflict and are safe to retry.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// --- Account reads ---

	// GetAccount retrieves one user's account.
	GetAccount(ctx context.Context, userID string) (*model.Account, error)

	// --- Prediction reads ---

	// GetPrediction retrieves a prediction by id.
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// ListPredictions returns predictions filtered by status (empty status
	// means all), newest first.
	ListPredictions(ctx context.Context, status model.PredictionStatus, limit int) ([]model.Prediction, error)

	// ListExpired returns active predictions whose deadline has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error)

	// --- Stake reads ---

	// GetStake retrieves a stake by id.
	GetStake(ctx context.Context, id string) (*model.Stake, error)

	// GetUserStake retrieves the stake one user holds on one prediction.
	GetUserStake(ctx context.Context, userID, predictionID string) (*model.Stake, error)

	// StakesForPrediction returns all stakes on a prediction, oldest first.
	StakesForPrediction(ctx context.Context, predictionID string) ([]model.Stake, error)

	// StakesForUser returns a user's most recent stakes.
	StakesForUser(ctx context.Context, userID string, limit int) ([]model.Stake, error)

	// --- Immutable ledger reads ---

	// LedgerForUser returns a user's most recent ledger entries, optionally
	// filtered by kind (empty kind means all).
	LedgerForUser(ctx context.Context, userID string, kind model.EntryKind, limit int) ([]model.LedgerEntry, error)

	// --- Ranking reads ---

	// TopByBalance returns accounts ordered by balance descending.
	TopByBalance(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)

	// TopByWindow returns users ordered by their net signed ledger sum over
	// [from, to), descending.
	TopByWindow(ctx context.Context, from, to time.Time, limit int) ([]model.LeaderboardEntry, error)

	// BalanceRank returns 1 plus the number of accounts holding a balance
	// strictly above this user's.
	BalanceRank(ctx context.Context, userID string) (int, error)
}

// Tx is the write surface available inside an Atomic scope. ForUpdate
// reads take row locks so concurrent writers serialize per row instead of
// racing check-then-act.
type Tx interface {
	// AccountForUpdate reads an account and locks its row for the rest of
	// the transaction.
	AccountForUpdate(ctx context.Context, userID string) (*model.Account, error)

	// InsertAccount creates a new account. Returns ErrDuplicate if the
	// user already has one.
	InsertAccount(ctx context.Context, a *model.Account) error

	// SaveAccount writes back an account previously read for update.
	SaveAccount(ctx context.Context, a *model.Account) error

	// AppendLedger appends one immutable ledger entry and assigns its
	// sequence number.
	AppendLedger(ctx context.Context, e *model.LedgerEntry) error

	// PredictionForUpdate reads a prediction and locks its row.
	PredictionForUpdate(ctx context.Context, id string) (*model.Prediction, error)

	// InsertPrediction creates a new prediction.
	InsertPrediction(ctx context.Context, p *model.Prediction) error

	// SavePrediction writes back a prediction previously read for update.
	SavePrediction(ctx context.Context, p *model.Prediction) error

	// StakeForUpdate reads a stake and locks its row.
	StakeForUpdate(ctx context.Context, id string) (*model.Stake, error)

	// InsertStake creates a new stake. Returns ErrDuplicate if the user
	// already staked on the prediction.
	InsertStake(ctx context.Context, s *model.Stake) error

	// SaveStake writes back a stake previously read for update.
	SaveStake(ctx context.Context, s *model.Stake) error

	// DeleteStake removes a withdrawn stake.
	DeleteStake(ctx context.Context, id string) error
}
