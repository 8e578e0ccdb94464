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

const maxTitleLen = 500

// CreatePrediction opens a new binary prediction that accepts stakes
// until closesAt.
func (e *Engine) CreatePrediction(ctx context.Context, creatorID, title, description string, closesAt time.Time) (*model.Prediction, error) {
	if creatorID == "" {
		return nil, fmt.Errorf("%w: creator id required", ErrInvalidInput)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if len(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLen)
	}
	now := e.now().UTC()
	if !closesAt.After(now) {
		return nil, fmt.Errorf("%w: deadline must be in the future", ErrInvalidInput)
	}
	if _, err := e.GetAccount(ctx, creatorID); err != nil {
		return nil, err
	}

	p := &model.Prediction{
		ID:          uuid.NewString(),
		CreatorID:   creatorID,
		Title:       title,
		Description: description,
		Status:      model.StatusActive,
		ClosesAt:    closesAt.UTC(),
		CreatedAt:   now,
	}
	err := e.atomic(ctx, func(tx store.Tx) error {
		return tx.InsertPrediction(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	metrics.PredictionsCreated.Inc()
	slog.Info("prediction created", "prediction_id", p.ID, "creator_id", creatorID, "closes_at", p.ClosesAt)
	return p, nil
}

// GetPrediction returns one prediction by id.
func (e *Engine) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := e.store.GetPrediction(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("prediction %s: %w", id, ErrPredictionNotFound)
		}
		return nil, err
	}
	return p, nil
}

// ListPredictions returns predictions newest first, optionally filtered by
// status.
func (e *Engine) ListPredictions(ctx context.Context, status model.PredictionStatus, limit int) ([]model.Prediction, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return e.store.ListPredictions(ctx, status, clampLimit(limit, 50, 200))
}

// ClosePrediction stops stake intake ahead of resolution. Only active
// predictions can close.
func (e *Engine) ClosePrediction(ctx context.Context, id string) (*model.Prediction, error) {
	p, err := e.closePrediction(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.PredictionsClosed.WithLabelValues("manual").Inc()
	slog.Info("prediction closed", "prediction_id", id)
	return p, nil
}

func (e *Engine) closePrediction(ctx context.Context, id string) (*model.Prediction, error) {
	var p *model.Prediction
	err := e.atomic(ctx, func(tx store.Tx) error {
		cur, err := tx.PredictionForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("prediction %s: %w", id, ErrPredictionNotFound)
			}
			return err
		}
		if cur.Status != model.StatusActive {
			return fmt.Errorf("close prediction %s in status %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		cur.Status = model.StatusClosed
		if err := tx.SavePrediction(ctx, cur); err != nil {
			return err
		}
		p = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CloseExpired closes every active prediction whose deadline has passed
// and returns the predictions it closed. Races with manual closes and
// resolutions are skipped, not failed.
func (e *Engine) CloseExpired(ctx context.Context) ([]*model.Prediction, error) {
	expired, err := e.store.ListExpired(ctx, e.now().UTC(), sweepBatchSize)
	if err != nil {
		return nil, err
	}

	var closed []*model.Prediction
	for _, exp := range expired {
		p, err := e.closePrediction(ctx, exp.ID)
		if err != nil {
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrPredictionNotFound) {
				continue
			}
			return closed, err
		}
		metrics.PredictionsClosed.WithLabelValues("sweep").Inc()
		closed = append(closed, p)
	}
	if len(closed) > 0 {
		slog.Info("expired predictions closed", "count", len(closed))
	}
	return closed, nil
}

// CancelPrediction voids a prediction and refunds every stake at face
// value. Active and closed predictions can cancel; resolved ones cannot.
// Cancelling an already-cancelled prediction is idempotent and completes
// any refunds a previous attempt left behind.
func (e *Engine) CancelPrediction(ctx context.Context, id, reason string) (*model.Prediction, error) {
	var (
		p       *model.Prediction
		claimed bool
	)
	err := e.atomic(ctx, func(tx store.Tx) error {
		claimed = false
		cur, err := tx.PredictionForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("prediction %s: %w", id, ErrPredictionNotFound)
			}
			return err
		}
		switch cur.Status {
		case model.StatusActive, model.StatusClosed:
			cur.Status = model.StatusCancelled
			cur.CancelReason = reason
			if err := tx.SavePrediction(ctx, cur); err != nil {
				return err
			}
			claimed = true
		case model.StatusCancelled:
			// Idempotent; fall through to finish outstanding refunds.
		default:
			return fmt.Errorf("cancel prediction %s in status %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		p = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed {
		metrics.PredictionsCancelled.Inc()
		slog.Info("prediction cancelled", "prediction_id", id, "reason", reason)
	}

	if p.SettledAt == nil {
		if err := e.refundStakes(ctx, p); err != nil {
			return nil, err
		}
		p, err = e.GetPrediction(ctx, id)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// refundStakes returns every unresolved stake on a cancelled prediction to
// its owner at face value. Each stake refunds in its own transaction so
// one failure cannot strand the rest; the prediction is marked settled
// only after all refunds land.
func (e *Engine) refundStakes(ctx context.Context, p *model.Prediction) error {
	stakes, err := e.store.StakesForPrediction(ctx, p.ID)
	if err != nil {
		return err
	}

	var failed int
	for i := range stakes {
		if stakes[i].IsResolved {
			continue
		}
		if err := e.refundStake(ctx, p.ID, stakes[i].ID); err != nil {
			failed++
			slog.Error("stake refund failed", "prediction_id", p.ID, "stake_id", stakes[i].ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("refund of prediction %s left %d stakes outstanding", p.ID, failed)
	}

	return e.atomic(ctx, func(tx store.Tx) error {
		cur, err := tx.PredictionForUpdate(ctx, p.ID)
		if err != nil {
			return err
		}
		if cur.SettledAt != nil {
			return nil
		}
		now := e.now().UTC()
		cur.SettledAt = &now
		return tx.SavePrediction(ctx, cur)
	})
}

func (e *Engine) refundStake(ctx context.Context, predictionID, stakeID string) error {
	return e.atomic(ctx, func(tx store.Tx) error {
		s, err := tx.StakeForUpdate(ctx, stakeID)
		if err != nil {
			return err
		}
		if s.IsResolved {
			return nil
		}

		a, err := tx.AccountForUpdate(ctx, s.UserID)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		s.IsResolved = true
		s.IsCorrect = nil
		s.Payout = s.Amount
		s.UpdatedAt = &now
		if err := tx.SaveStake(ctx, s); err != nil {
			return err
		}

		a.Balance += s.Amount
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		entry := newEntry(s.UserID, model.KindRefund, s.Amount, a.Balance, &predictionID, "prediction cancelled", now)
		return tx.AppendLedger(ctx, entry)
	})
}
