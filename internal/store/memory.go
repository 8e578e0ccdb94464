package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Atomic clones the whole state, applies the transaction to the clone and
// swaps it in on commit, so a failed transaction leaves no partial effect.
// One mutex serializes writers, which also gives the per-user ledger its
// total order.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

type memState struct {
	accounts    map[string]*model.Account
	predictions map[string]*model.Prediction
	stakes      map[string]*model.Stake
	stakeByPair map[string]string // userID|predictionID → stakeID
	ledger      []model.LedgerEntry
	seq         int64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: &memState{
		accounts:    make(map[string]*model.Account),
		predictions: make(map[string]*model.Prediction),
		stakes:      make(map[string]*model.Stake),
		stakeByPair: make(map[string]string),
	}}
}

func pairKey(userID, predictionID string) string {
	return userID + "|" + predictionID
}

func (st *memState) clone() *memState {
	c := &memState{
		accounts:    make(map[string]*model.Account, len(st.accounts)),
		predictions: make(map[string]*model.Prediction, len(st.predictions)),
		stakes:      make(map[string]*model.Stake, len(st.stakes)),
		stakeByPair: make(map[string]string, len(st.stakeByPair)),
		ledger:      make([]model.LedgerEntry, len(st.ledger)),
		seq:         st.seq,
	}
	for id, a := range st.accounts {
		copy := *a
		c.accounts[id] = &copy
	}
	for id, p := range st.predictions {
		copy := *p
		c.predictions[id] = &copy
	}
	for id, s := range st.stakes {
		copy := *s
		c.stakes[id] = &copy
	}
	for k, v := range st.stakeByPair {
		c.stakeByPair[k] = v
	}
	copy(c.ledger, st.ledger)
	return c
}

// Atomic runs fn against a clone of the current state and swaps the clone
// in only when fn succeeds.
func (s *MemoryStore) Atomic(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(&memTx{state: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// --- Account reads ---

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

// --- Prediction reads ---

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.predictions[id]
	if !ok {
		return nil, fmt.Errorf("prediction %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) ListPredictions(_ context.Context, status model.PredictionStatus, limit int) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Prediction, 0, len(s.state.predictions))
	for _, p := range s.state.predictions {
		if status != "" && p.Status != status {
			continue
		}
		result = append(result, *p)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Prediction
	for _, p := range s.state.predictions {
		if p.Status == model.StatusActive && !now.Before(p.ClosesAt) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ClosesAt.Before(result[j].ClosesAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Stake reads ---

func (s *MemoryStore) GetStake(_ context.Context, id string) (*model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.state.stakes[id]
	if !ok {
		return nil, fmt.Errorf("stake %s: %w", id, ErrNotFound)
	}
	copy := *st
	return &copy, nil
}

func (s *MemoryStore) GetUserStake(_ context.Context, userID, predictionID string) (*model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.state.stakeByPair[pairKey(userID, predictionID)]
	if !ok {
		return nil, fmt.Errorf("stake for user %s on prediction %s: %w", userID, predictionID, ErrNotFound)
	}
	copy := *s.state.stakes[id]
	return &copy, nil
}

func (s *MemoryStore) StakesForPrediction(_ context.Context, predictionID string) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Stake
	for _, st := range s.state.stakes {
		if st.PredictionID == predictionID {
			result = append(result, *st)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *MemoryStore) StakesForUser(_ context.Context, userID string, limit int) ([]model.Stake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Stake
	for _, st := range s.state.stakes {
		if st.UserID == userID {
			result = append(result, *st)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Ledger reads ---

func (s *MemoryStore) LedgerForUser(_ context.Context, userID string, kind model.EntryKind, limit int) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LedgerEntry
	for _, e := range s.state.ledger {
		if e.UserID != userID {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		result = append(result, e)
	}
	// Newest first: the ledger slice is already in commit (seq) order.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// --- Ranking reads ---

func (s *MemoryStore) TopByBalance(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]*model.Account, 0, len(s.state.accounts))
	for _, a := range s.state.accounts {
		accounts = append(accounts, a)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].UserID < accounts[j].UserID
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}

	entries := make([]model.LeaderboardEntry, 0, len(accounts))
	for i, a := range accounts {
		entries = append(entries, model.LeaderboardEntry{
			Rank:               i + 1,
			UserID:             a.UserID,
			Points:             a.Balance,
			PredictionsMade:    a.PredictionsMade,
			PredictionsCorrect: a.PredictionsCorrect,
			Accuracy:           a.Accuracy(),
			CurrentStreak:      a.CurrentStreak,
		})
	}
	return entries, nil
}

func (s *MemoryStore) TopByWindow(_ context.Context, from, to time.Time, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[string]int64)
	for _, e := range s.state.ledger {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		sums[e.UserID] += e.Amount
	}

	users := make([]string, 0, len(sums))
	for id := range sums {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool {
		if sums[users[i]] != sums[users[j]] {
			return sums[users[i]] > sums[users[j]]
		}
		return users[i] < users[j]
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}

	entries := make([]model.LeaderboardEntry, 0, len(users))
	for i, id := range users {
		entry := model.LeaderboardEntry{
			Rank:   i + 1,
			UserID: id,
			Points: sums[id],
		}
		if a, ok := s.state.accounts[id]; ok {
			entry.PredictionsMade = a.PredictionsMade
			entry.PredictionsCorrect = a.PredictionsCorrect
			entry.Accuracy = a.Accuracy()
			entry.CurrentStreak = a.CurrentStreak
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *MemoryStore) BalanceRank(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.state.accounts[userID]
	if !ok {
		return 0, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	rank := 1
	for _, other := range s.state.accounts {
		if other.Balance > a.Balance {
			rank++
		}
	}
	return rank, nil
}

// memTx applies writes to the cloned state owned by one Atomic call.
type memTx struct {
	state *memState
}

func (t *memTx) AccountForUpdate(_ context.Context, userID string) (*model.Account, error) {
	a, ok := t.state.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	copy := *a
	return &copy, nil
}

func (t *memTx) InsertAccount(_ context.Context, a *model.Account) error {
	if _, ok := t.state.accounts[a.UserID]; ok {
		return fmt.Errorf("account %s: %w", a.UserID, ErrDuplicate)
	}
	copy := *a
	t.state.accounts[a.UserID] = &copy
	return nil
}

func (t *memTx) SaveAccount(_ context.Context, a *model.Account) error {
	if _, ok := t.state.accounts[a.UserID]; !ok {
		return fmt.Errorf("account %s: %w", a.UserID, ErrNotFound)
	}
	copy := *a
	t.state.accounts[a.UserID] = &copy
	return nil
}

func (t *memTx) AppendLedger(_ context.Context, e *model.LedgerEntry) error {
	t.state.seq++
	e.Seq = t.state.seq
	t.state.ledger = append(t.state.ledger, *e)
	return nil
}

func (t *memTx) PredictionForUpdate(_ context.Context, id string) (*model.Prediction, error) {
	p, ok := t.state.predictions[id]
	if !ok {
		return nil, fmt.Errorf("prediction %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (t *memTx) InsertPrediction(_ context.Context, p *model.Prediction) error {
	if _, ok := t.state.predictions[p.ID]; ok {
		return fmt.Errorf("prediction %s: %w", p.ID, ErrDuplicate)
	}
	copy := *p
	t.state.predictions[p.ID] = &copy
	return nil
}

func (t *memTx) SavePrediction(_ context.Context, p *model.Prediction) error {
	if _, ok := t.state.predictions[p.ID]; !ok {
		return fmt.Errorf("prediction %s: %w", p.ID, ErrNotFound)
	}
	copy := *p
	t.state.predictions[p.ID] = &copy
	return nil
}

func (t *memTx) StakeForUpdate(_ context.Context, id string) (*model.Stake, error) {
	s, ok := t.state.stakes[id]
	if !ok {
		return nil, fmt.Errorf("stake %s: %w", id, ErrNotFound)
	}
	copy := *s
	return &copy, nil
}

func (t *memTx) InsertStake(_ context.Context, s *model.Stake) error {
	key := pairKey(s.UserID, s.PredictionID)
	if _, ok := t.state.stakeByPair[key]; ok {
		return fmt.Errorf("stake for user %s on prediction %s: %w", s.UserID, s.PredictionID, ErrDuplicate)
	}
	copy := *s
	t.state.stakes[s.ID] = &copy
	t.state.stakeByPair[key] = s.ID
	return nil
}

func (t *memTx) SaveStake(_ context.Context, s *model.Stake) error {
	if _, ok := t.state.stakes[s.ID]; !ok {
		return fmt.Errorf("stake %s: %w", s.ID, ErrNotFound)
	}
	copy := *s
	t.state.stakes[s.ID] = &copy
	return nil
}

func (t *memTx) DeleteStake(_ context.Context, id string) error {
	s, ok := t.state.stakes[id]
	if !ok {
		return fmt.Errorf("stake %s: %w", id, ErrNotFound)
	}
	delete(t.state.stakeByPair, pairKey(s.UserID, s.PredictionID))
	delete(t.state.stakes, id)
	return nil
}
