package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lingamvamshikrishnareddy/calledit/internal/metrics"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
	"github.com/lingamvamshikrishnareddy/calledit/internal/store"
)

const (
	minConfidence = 1
	maxConfidence = 100
)

// CastStake places a user's points on one side of an open prediction.
// The stake amount is debited immediately and held until settlement;
// one stake per user per prediction.
func (e *Engine) CastStake(ctx context.Context, userID, predictionID string, side bool, confidence int, amount int64) (*model.Stake, error) {
	if userID == "" || predictionID == "" {
		return nil, fmt.Errorf("%w: user id and prediction id required", ErrInvalidInput)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: stake amount must be positive", ErrInvalidInput)
	}
	if confidence < minConfidence || confidence > maxConfidence {
		return nil, fmt.Errorf("%w: confidence must be between %d and %d", ErrInvalidInput, minConfidence, maxConfidence)
	}

	var s *model.Stake
	err := e.atomic(ctx, func(tx store.Tx) error {
		p, err := tx.PredictionForUpdate(ctx, predictionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("prediction %s: %w", predictionID, ErrPredictionNotFound)
			}
			return err
		}
		now := e.now().UTC()
		if !p.AcceptingStakes(now) {
			return fmt.Errorf("prediction %s: %w", predictionID, ErrNotAcceptingStakes)
		}

		a, err := tx.AccountForUpdate(ctx, userID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("account %s: %w", userID, ErrAccountNotFound)
			}
			return err
		}
		if a.Balance < amount {
			return fmt.Errorf("balance %d below stake %d: %w", a.Balance, amount, ErrInsufficientBalance)
		}

		stake := &model.Stake{
			ID:           uuid.NewString(),
			UserID:       userID,
			PredictionID: predictionID,
			Side:         side,
			Confidence:   confidence,
			Amount:       amount,
			CreatedAt:    now,
		}
		if err := tx.InsertStake(ctx, stake); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("user %s on prediction %s: %w", userID, predictionID, ErrDuplicateStake)
			}
			return err
		}

		a.Balance -= amount
		a.TotalStaked += amount
		a.PredictionsMade++
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		entry := newEntry(userID, model.KindStake, -amount, a.Balance, &predictionID, "stake cast", now)
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}

		if side {
			p.YesCount++
		} else {
			p.NoCount++
		}
		if err := tx.SavePrediction(ctx, p); err != nil {
			return err
		}

		s = stake
		return nil
	})
	if err != nil {
		return nil, err
	}

	label := metrics.SideLabel(side)
	metrics.StakesCast.WithLabelValues(label).Inc()
	metrics.PointsStaked.WithLabelValues(label).Add(float64(amount))
	slog.Info("stake cast",
		"stake_id", s.ID,
		"user_id", userID,
		"prediction_id", predictionID,
		"side", label,
		"amount", amount,
		"confidence", confidence,
	)
	return s, nil
}

// UpdateStake changes the side or confidence of an existing stake while
// its prediction still accepts stakes. Nil fields stay as they are; the
// amount is immutable.
func (e *Engine) UpdateStake(ctx context.Context, userID, stakeID string, side *bool, confidence *int) (*model.Stake, error) {
	if userID == "" || stakeID == "" {
		return nil, fmt.Errorf("%w: user id and stake id required", ErrInvalidInput)
	}
	if side == nil && confidence == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if confidence != nil && (*confidence < minConfidence || *confidence > maxConfidence) {
		return nil, fmt.Errorf("%w: confidence must be between %d and %d", ErrInvalidInput, minConfidence, maxConfidence)
	}

	var s *model.Stake
	err := e.atomic(ctx, func(tx store.Tx) error {
		cur, err := tx.StakeForUpdate(ctx, stakeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("stake %s: %w", stakeID, ErrStakeNotFound)
			}
			return err
		}
		if cur.UserID != userID {
			return fmt.Errorf("stake %s: %w", stakeID, ErrNotStakeOwner)
		}

		p, err := tx.PredictionForUpdate(ctx, cur.PredictionID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if !p.AcceptingStakes(now) {
			return fmt.Errorf("prediction %s: %w", p.ID, ErrNotAcceptingStakes)
		}

		if side != nil && *side != cur.Side {
			if cur.Side {
				p.YesCount--
				p.NoCount++
			} else {
				p.NoCount--
				p.YesCount++
			}
			if err := tx.SavePrediction(ctx, p); err != nil {
				return err
			}
			cur.Side = *side
		}
		if confidence != nil {
			cur.Confidence = *confidence
		}
		cur.UpdatedAt = &now
		if err := tx.SaveStake(ctx, cur); err != nil {
			return err
		}

		s = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("stake updated", "stake_id", stakeID, "user_id", userID, "side", metrics.SideLabel(s.Side), "confidence", s.Confidence)
	return s, nil
}

// WithdrawStake removes a stake before the prediction stops accepting
// stakes, returning the full amount and reversing the cast's effect on
// the account's lifetime counters.
func (e *Engine) WithdrawStake(ctx context.Context, userID, stakeID string) error {
	if userID == "" || stakeID == "" {
		return fmt.Errorf("%w: user id and stake id required", ErrInvalidInput)
	}

	var amount int64
	err := e.atomic(ctx, func(tx store.Tx) error {
		s, err := tx.StakeForUpdate(ctx, stakeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("stake %s: %w", stakeID, ErrStakeNotFound)
			}
			return err
		}
		if s.UserID != userID {
			return fmt.Errorf("stake %s: %w", stakeID, ErrNotStakeOwner)
		}

		p, err := tx.PredictionForUpdate(ctx, s.PredictionID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if !p.AcceptingStakes(now) {
			return fmt.Errorf("prediction %s: %w", p.ID, ErrNotAcceptingStakes)
		}

		a, err := tx.AccountForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		a.Balance += s.Amount
		a.TotalStaked -= s.Amount
		a.PredictionsMade--
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		entry := newEntry(userID, model.KindRefund, s.Amount, a.Balance, &s.PredictionID, "stake withdrawn", now)
		if err := tx.AppendLedger(ctx, entry); err != nil {
			return err
		}

		if s.Side {
			p.YesCount--
		} else {
			p.NoCount--
		}
		if err := tx.SavePrediction(ctx, p); err != nil {
			return err
		}

		amount = s.Amount
		return tx.DeleteStake(ctx, stakeID)
	})
	if err != nil {
		return err
	}

	metrics.StakesWithdrawn.Inc()
	slog.Info("stake withdrawn", "stake_id", stakeID, "user_id", userID, "amount", amount)
	return nil
}

// GetStake returns one stake by id.
func (e *Engine) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	s, err := e.store.GetStake(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("stake %s: %w", id, ErrStakeNotFound)
		}
		return nil, err
	}
	return s, nil
}

// ListUserStakes returns a user's stakes, newest first.
func (e *Engine) ListUserStakes(ctx context.Context, userID string, limit int) ([]model.Stake, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", ErrInvalidInput)
	}
	return e.store.StakesForUser(ctx, userID, clampLimit(limit, 50, 200))
}

// ListPredictionStakes returns every stake on a prediction, oldest first.
func (e *Engine) ListPredictionStakes(ctx context.Context, predictionID string) ([]model.Stake, error) {
	if _, err := e.GetPrediction(ctx, predictionID); err != nil {
		return nil, err
	}
	return e.store.StakesForPrediction(ctx, predictionID)
}

// GetStakeDistribution summarizes how stakes split across the two sides.
// Counts and points come from the stake rows themselves, not the cached
// tallies on the prediction.
func (e *Engine) GetStakeDistribution(ctx context.Context, predictionID string) (*model.StakeDistribution, error) {
	stakes, err := e.ListPredictionStakes(ctx, predictionID)
	if err != nil {
		return nil, err
	}

	d := &model.StakeDistribution{PredictionID: predictionID}
	for i := range stakes {
		if stakes[i].Side {
			d.YesCount++
			d.YesPoints += stakes[i].Amount
		} else {
			d.NoCount++
			d.NoPoints += stakes[i].Amount
		}
	}
	if total := d.YesCount + d.NoCount; total > 0 {
		d.YesPercent = float64(d.YesCount) / float64(total) * 100
		d.NoPercent = float64(d.NoCount) / float64(total) * 100
	}
	return d, nil
}
