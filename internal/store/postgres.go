package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Point amounts are BIGINT columns; the balance CHECK constraint and the
// (user_id, prediction_id) unique index back the invariants the engine
// relies on even if a code path slips.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const (
	accountCols = `user_id, balance, total_staked, total_won, current_streak, longest_streak,
	        predictions_made, predictions_correct, last_daily_bonus_at, created_at`
	predictionCols = `id, creator_id, title, description, status, yes_count, no_count,
	        resolution, resolution_notes, cancel_reason, closes_at, resolved_at, settled_at, created_at`
	stakeCols = `id, user_id, prediction_id, side, confidence, amount,
	        is_resolved, is_correct, payout, created_at, updated_at`
	ledgerCols = `id, seq, user_id, kind, amount, balance_after, prediction_id, note, created_at`
)

// translateErr maps pgx errors onto the store sentinels so callers can
// branch with errors.Is regardless of backend.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrDuplicate
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return err
}

// Atomic runs fn inside one database transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", translateErr(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateErr(err))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*model.Account, error) {
	var a model.Account
	err := row.Scan(&a.UserID, &a.Balance, &a.TotalStaked, &a.TotalWon,
		&a.CurrentStreak, &a.LongestStreak,
		&a.PredictionsMade, &a.PredictionsCorrect,
		&a.LastDailyBonusAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanPrediction(row rowScanner) (*model.Prediction, error) {
	var p model.Prediction
	err := row.Scan(&p.ID, &p.CreatorID, &p.Title, &p.Description, &p.Status,
		&p.YesCount, &p.NoCount,
		&p.Resolution, &p.ResolutionNotes, &p.CancelReason,
		&p.ClosesAt, &p.ResolvedAt, &p.SettledAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanStake(row rowScanner) (*model.Stake, error) {
	var st model.Stake
	err := row.Scan(&st.ID, &st.UserID, &st.PredictionID, &st.Side, &st.Confidence,
		&st.Amount, &st.IsResolved, &st.IsCorrect, &st.Payout,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func scanLedgerEntry(row rowScanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := row.Scan(&e.ID, &e.Seq, &e.UserID, &e.Kind, &e.Amount,
		&e.BalanceAfter, &e.PredictionID, &e.Note, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Account reads ---

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, translateErr(err))
	}
	return a, nil
}

// --- Prediction reads ---

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := scanPrediction(s.pool.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, translateErr(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, status model.PredictionStatus, limit int) ([]model.Prediction, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if status != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+predictionCols+` FROM predictions
			 WHERE status = $1 ORDER BY created_at DESC LIMIT NULLIF($2, 0)`, status, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+predictionCols+` FROM predictions
			 ORDER BY created_at DESC LIMIT NULLIF($1, 0)`, limit)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

func (s *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+predictionCols+` FROM predictions
		 WHERE status = $1 AND closes_at <= $2
		 ORDER BY closes_at LIMIT NULLIF($3, 0)`,
		model.StatusActive, now, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	return collectPredictions(rows)
}

func collectPredictions(rows pgx.Rows) ([]model.Prediction, error) {
	var result []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// --- Stake reads ---

func (s *PostgresStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	st, err := scanStake(s.pool.QueryRow(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get stake %s: %w", id, translateErr(err))
	}
	return st, nil
}

func (s *PostgresStore) GetUserStake(ctx context.Context, userID, predictionID string) (*model.Stake, error) {
	st, err := scanStake(s.pool.QueryRow(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE user_id = $1 AND prediction_id = $2`,
		userID, predictionID))
	if err != nil {
		return nil, fmt.Errorf("get stake for user %s on prediction %s: %w",
			userID, predictionID, translateErr(err))
	}
	return st, nil
}

func (s *PostgresStore) StakesForPrediction(ctx context.Context, predictionID string) ([]model.Stake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stakeCols+` FROM stakes
		 WHERE prediction_id = $1 ORDER BY created_at, id`, predictionID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	return collectStakes(rows)
}

func (s *PostgresStore) StakesForUser(ctx context.Context, userID string, limit int) ([]model.Stake, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stakeCols+` FROM stakes
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT NULLIF($2, 0)`,
		userID, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	return collectStakes(rows)
}

func collectStakes(rows pgx.Rows) ([]model.Stake, error) {
	var result []model.Stake
	for rows.Next() {
		st, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *st)
	}
	return result, rows.Err()
}

// --- Ledger reads ---

func (s *PostgresStore) LedgerForUser(ctx context.Context, userID string, kind model.EntryKind, limit int) ([]model.LedgerEntry, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if kind != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+ledgerCols+` FROM ledger_entries
			 WHERE user_id = $1 AND kind = $2 ORDER BY seq DESC LIMIT NULLIF($3, 0)`,
			userID, kind, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+ledgerCols+` FROM ledger_entries
			 WHERE user_id = $1 ORDER BY seq DESC LIMIT NULLIF($2, 0)`, userID, limit)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var result []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// --- Ranking reads ---

func (s *PostgresStore) TopByBalance(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, balance, predictions_made, predictions_correct, current_streak
		 FROM accounts ORDER BY balance DESC, user_id LIMIT NULLIF($1, 0)`, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Points, &e.PredictionsMade,
			&e.PredictionsCorrect, &e.CurrentStreak); err != nil {
			return nil, err
		}
		e.Rank = len(entries) + 1
		if e.PredictionsMade > 0 {
			e.Accuracy = float64(e.PredictionsCorrect) / float64(e.PredictionsMade) * 100
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) TopByWindow(ctx context.Context, from, to time.Time, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.user_id,
		        COALESCE(SUM(l.amount), 0) AS points,
		        COALESCE(a.predictions_made, 0),
		        COALESCE(a.predictions_correct, 0),
		        COALESCE(a.current_streak, 0)
		 FROM ledger_entries l
		 LEFT JOIN accounts a ON a.user_id = l.user_id
		 WHERE l.created_at >= $1 AND l.created_at < $2
		 GROUP BY l.user_id, a.predictions_made, a.predictions_correct, a.current_streak
		 ORDER BY points DESC, l.user_id LIMIT NULLIF($3, 0)`,
		from, to, limit)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Points, &e.PredictionsMade,
			&e.PredictionsCorrect, &e.CurrentStreak); err != nil {
			return nil, err
		}
		e.Rank = len(entries) + 1
		if e.PredictionsMade > 0 {
			e.Accuracy = float64(e.PredictionsCorrect) / float64(e.PredictionsMade) * 100
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) BalanceRank(ctx context.Context, userID string) (int, error) {
	var rank int
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM accounts b WHERE b.balance > a.balance) + 1
		 FROM accounts a WHERE a.user_id = $1`, userID).Scan(&rank)
	if err != nil {
		return 0, fmt.Errorf("rank for account %s: %w", userID, translateErr(err))
	}
	return rank, nil
}

// pgTx implements Tx on one pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", userID, translateErr(err))
	}
	return a, nil
}

func (t *pgTx) InsertAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO accounts (`+accountCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.UserID, a.Balance, a.TotalStaked, a.TotalWon,
		a.CurrentStreak, a.LongestStreak,
		a.PredictionsMade, a.PredictionsCorrect,
		a.LastDailyBonusAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.UserID, translateErr(err))
	}
	return nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *model.Account) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts
		 SET balance = $2, total_staked = $3, total_won = $4,
		     current_streak = $5, longest_streak = $6,
		     predictions_made = $7, predictions_correct = $8,
		     last_daily_bonus_at = $9
		 WHERE user_id = $1`,
		a.UserID, a.Balance, a.TotalStaked, a.TotalWon,
		a.CurrentStreak, a.LongestStreak,
		a.PredictionsMade, a.PredictionsCorrect,
		a.LastDailyBonusAt)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.UserID, translateErr(err))
	}
	return nil
}

func (t *pgTx) AppendLedger(ctx context.Context, e *model.LedgerEntry) error {
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, prediction_id, note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING seq`,
		e.ID, e.UserID, e.Kind, e.Amount, e.BalanceAfter,
		e.PredictionID, e.Note, e.CreatedAt).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append ledger entry for %s: %w", e.UserID, translateErr(err))
	}
	return nil
}

func (t *pgTx) PredictionForUpdate(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := scanPrediction(t.tx.QueryRow(ctx,
		`SELECT `+predictionCols+` FROM predictions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock prediction %s: %w", id, translateErr(err))
	}
	return p, nil
}

func (t *pgTx) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO predictions (`+predictionCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.CreatorID, p.Title, p.Description, p.Status,
		p.YesCount, p.NoCount,
		p.Resolution, p.ResolutionNotes, p.CancelReason,
		p.ClosesAt, p.ResolvedAt, p.SettledAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, translateErr(err))
	}
	return nil
}

func (t *pgTx) SavePrediction(ctx context.Context, p *model.Prediction) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE predictions
		 SET status = $2, yes_count = $3, no_count = $4,
		     resolution = $5, resolution_notes = $6, cancel_reason = $7,
		     resolved_at = $8, settled_at = $9
		 WHERE id = $1`,
		p.ID, p.Status, p.YesCount, p.NoCount,
		p.Resolution, p.ResolutionNotes, p.CancelReason,
		p.ResolvedAt, p.SettledAt)
	if err != nil {
		return fmt.Errorf("save prediction %s: %w", p.ID, translateErr(err))
	}
	return nil
}

func (t *pgTx) StakeForUpdate(ctx context.Context, id string) (*model.Stake, error) {
	st, err := scanStake(t.tx.QueryRow(ctx,
		`SELECT `+stakeCols+` FROM stakes WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock stake %s: %w", id, translateErr(err))
	}
	return st, nil
}

func (t *pgTx) InsertStake(ctx context.Context, s *model.Stake) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stakes (`+stakeCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.UserID, s.PredictionID, s.Side, s.Confidence,
		s.Amount, s.IsResolved, s.IsCorrect, s.Payout,
		s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert stake for user %s on prediction %s: %w",
			s.UserID, s.PredictionID, translateErr(err))
	}
	return nil
}

func (t *pgTx) SaveStake(ctx context.Context, s *model.Stake) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE stakes
		 SET side = $2, confidence = $3, is_resolved = $4, is_correct = $5,
		     payout = $6, updated_at = $7
		 WHERE id = $1`,
		s.ID, s.Side, s.Confidence, s.IsResolved, s.IsCorrect,
		s.Payout, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save stake %s: %w", s.ID, translateErr(err))
	}
	return nil
}

func (t *pgTx) DeleteStake(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM stakes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete stake %s: %w", id, translateErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete stake %s: %w", id, ErrNotFound)
	}
	return nil
}
