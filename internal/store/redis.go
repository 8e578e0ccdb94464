package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Reads of hot rows (predictions, accounts) check Redis first and
// fall back to the primary; Atomic delegates to the primary and invalidates
// the rows the transaction touched only after commit, so no lock is ever
// held across a Redis call. Leaderboard snapshots are cached by TTL alone
// and may lag the ledger.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Atomic runs fn on the primary store, recording which predictions and
// accounts the transaction writes, and drops their cache keys once the
// commit succeeded.
func (s *CachedStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	rec := &recordingTx{}
	err := s.primary.Atomic(ctx, func(tx Tx) error {
		rec.inner = tx
		return fn(rec)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(rec.predictions)+len(rec.accounts))
	for id := range rec.predictions {
		keys = append(keys, predictionKey(id))
	}
	for id := range rec.accounts {
		keys = append(keys, accountKey(id))
	}
	if len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	data, err := s.rdb.Get(ctx, predictionKey(id)).Bytes()
	if err == nil {
		var p model.Prediction
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, predictionKey(id), data, s.ttl)
	}
	return p, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(userID), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) TopByBalance(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	key := fmt.Sprintf("leaderboard:all_time:%d", limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.TopByBalance(ctx, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

func (s *CachedStore) TopByWindow(ctx context.Context, from, to time.Time, limit int) ([]model.LeaderboardEntry, error) {
	key := fmt.Sprintf("leaderboard:window:%d:%d:%d", from.Unix(), to.Unix(), limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.TopByWindow(ctx, from, to, limit)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPredictions(ctx context.Context, status model.PredictionStatus, limit int) ([]model.Prediction, error) {
	return s.primary.ListPredictions(ctx, status, limit)
}

func (s *CachedStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	return s.primary.ListExpired(ctx, now, limit)
}

func (s *CachedStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	return s.primary.GetStake(ctx, id)
}

func (s *CachedStore) GetUserStake(ctx context.Context, userID, predictionID string) (*model.Stake, error) {
	return s.primary.GetUserStake(ctx, userID, predictionID)
}

func (s *CachedStore) StakesForPrediction(ctx context.Context, predictionID string) ([]model.Stake, error) {
	return s.primary.StakesForPrediction(ctx, predictionID)
}

func (s *CachedStore) StakesForUser(ctx context.Context, userID string, limit int) ([]model.Stake, error) {
	return s.primary.StakesForUser(ctx, userID, limit)
}

func (s *CachedStore) LedgerForUser(ctx context.Context, userID string, kind model.EntryKind, limit int) ([]model.LedgerEntry, error) {
	return s.primary.LedgerForUser(ctx, userID, kind, limit)
}

func (s *CachedStore) BalanceRank(ctx context.Context, userID string) (int, error) {
	return s.primary.BalanceRank(ctx, userID)
}

// --- Cache helpers ---

func predictionKey(id string) string { return fmt.Sprintf("prediction:%s", id) }
func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }

// recordingTx forwards every call to the wrapped transaction while noting
// which rows were written, so the cache can drop exactly those keys after
// commit.
type recordingTx struct {
	inner       Tx
	predictions map[string]struct{}
	accounts    map[string]struct{}
}

func (t *recordingTx) touchPrediction(id string) {
	if t.predictions == nil {
		t.predictions = make(map[string]struct{})
	}
	t.predictions[id] = struct{}{}
}

func (t *recordingTx) touchAccount(id string) {
	if t.accounts == nil {
		t.accounts = make(map[string]struct{})
	}
	t.accounts[id] = struct{}{}
}

func (t *recordingTx) AccountForUpdate(ctx context.Context, userID string) (*model.Account, error) {
	return t.inner.AccountForUpdate(ctx, userID)
}

func (t *recordingTx) InsertAccount(ctx context.Context, a *model.Account) error {
	t.touchAccount(a.UserID)
	return t.inner.InsertAccount(ctx, a)
}

func (t *recordingTx) SaveAccount(ctx context.Context, a *model.Account) error {
	t.touchAccount(a.UserID)
	return t.inner.SaveAccount(ctx, a)
}

func (t *recordingTx) AppendLedger(ctx context.Context, e *model.LedgerEntry) error {
	t.touchAccount(e.UserID)
	return t.inner.AppendLedger(ctx, e)
}

func (t *recordingTx) PredictionForUpdate(ctx context.Context, id string) (*model.Prediction, error) {
	return t.inner.PredictionForUpdate(ctx, id)
}

func (t *recordingTx) InsertPrediction(ctx context.Context, p *model.Prediction) error {
	t.touchPrediction(p.ID)
	return t.inner.InsertPrediction(ctx, p)
}

func (t *recordingTx) SavePrediction(ctx context.Context, p *model.Prediction) error {
	t.touchPrediction(p.ID)
	return t.inner.SavePrediction(ctx, p)
}

func (t *recordingTx) StakeForUpdate(ctx context.Context, id string) (*model.Stake, error) {
	return t.inner.StakeForUpdate(ctx, id)
}

func (t *recordingTx) InsertStake(ctx context.Context, s *model.Stake) error {
	t.touchPrediction(s.PredictionID)
	return t.inner.InsertStake(ctx, s)
}

func (t *recordingTx) SaveStake(ctx context.Context, s *model.Stake) error {
	t.touchPrediction(s.PredictionID)
	return t.inner.SaveStake(ctx, s)
}

func (t *recordingTx) DeleteStake(ctx context.Context, id string) error {
	return t.inner.DeleteStake(ctx, id)
}
