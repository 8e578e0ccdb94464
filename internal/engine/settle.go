package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lingamvamshikrishnareddy/calledit/internal/metrics"
	"github.com/lingamvamshikrishnareddy/calledit/internal/model"
	"github.com/lingamvamshikrishnareddy/calledit/internal/payout"
	"github.com/lingamvamshikrishnareddy/calledit/internal/store"
)

// ResolvePrediction records the outcome of a prediction and settles every
// stake on it. Resolution happens in two phases: a single transaction
// claims the prediction by storing the outcome and flipping the status,
// then each stake settles in its own transaction so one bad stake cannot
// hold the rest hostage.
//
// Resolving an already-resolved prediction does not settle anything twice:
// the stored outcome wins, even if the caller passes a different one, and
// any stakes a previous attempt left unsettled are completed under it.
func (e *Engine) ResolvePrediction(ctx context.Context, id string, outcome bool, notes string) (*model.SettlementReport, error) {
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
			now := e.now().UTC()
			out := outcome
			cur.Status = model.StatusResolved
			cur.Resolution = &out
			cur.ResolutionNotes = notes
			cur.ResolvedAt = &now
			if err := tx.SavePrediction(ctx, cur); err != nil {
				return err
			}
			claimed = true
		case model.StatusResolved:
			// Idempotent; settle whatever a previous attempt left behind
			// under the outcome stored back then.
		default:
			return fmt.Errorf("resolve prediction %s in status %s: %w", id, cur.Status, ErrInvalidTransition)
		}
		p = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed {
		metrics.SettlementsTotal.WithLabelValues(metrics.SideLabel(*p.Resolution)).Inc()
		slog.Info("prediction resolved", "prediction_id", id, "outcome", metrics.SideLabel(*p.Resolution))
	}

	ranSettle := p.SettledAt == nil
	if ranSettle {
		start := time.Now()
		if err := e.settle(ctx, p); err != nil {
			return nil, err
		}
		metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	}

	report, err := e.settlementReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if ranSettle {
		metrics.SettlementPayouts.Add(float64(report.PointsPaid))
		slog.Info("settlement complete",
			"prediction_id", id,
			"outcome", metrics.SideLabel(report.Outcome),
			"stakes", report.TotalStakes,
			"winners", report.WinningStakes,
			"losers", report.LosingStakes,
			"multiplier", report.BonusMultiplier,
			"points_paid", report.PointsPaid,
		)
	}
	return report, nil
}

// settle pays out every unresolved stake on a resolved prediction. The
// bonus tier comes from the side split of all stakes present at
// settlement, resolved ones included, so a retried pass uses the same
// tier as the first.
func (e *Engine) settle(ctx context.Context, p *model.Prediction) error {
	stakes, err := e.store.StakesForPrediction(ctx, p.ID)
	if err != nil {
		return err
	}

	var yes, no int
	for i := range stakes {
		if stakes[i].Side {
			yes++
		} else {
			no++
		}
	}
	plan, err := payout.Compute(*p.Resolution, yes, no)
	if err != nil {
		return fmt.Errorf("settlement plan for prediction %s: %w", p.ID, err)
	}

	var failed int
	for i := range stakes {
		if stakes[i].IsResolved {
			continue
		}
		if err := e.settleStake(ctx, p.ID, stakes[i].ID, plan); err != nil {
			failed++
			slog.Error("stake settlement failed", "prediction_id", p.ID, "stake_id", stakes[i].ID, "error", err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("settlement of prediction %s left %d stakes outstanding", p.ID, failed)
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

// settleStake resolves one stake: winners get their payout credited and
// their streak extended, losers get their streak reset. A stake another
// pass resolved in the meantime is left alone.
func (e *Engine) settleStake(ctx context.Context, predictionID, stakeID string, plan payout.Plan) error {
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
		won := s.Side == plan.Outcome
		s.IsResolved = true
		s.IsCorrect = &won
		s.Payout = plan.PayoutFor(s.Side, s.Amount)
		s.UpdatedAt = &now
		if err := tx.SaveStake(ctx, s); err != nil {
			return err
		}

		if won {
			a.Balance += s.Payout
			a.TotalWon += s.Payout
			a.PredictionsCorrect++
			a.CurrentStreak++
			if a.CurrentStreak > a.LongestStreak {
				a.LongestStreak = a.CurrentStreak
			}
		} else {
			a.CurrentStreak = 0
		}
		if err := tx.SaveAccount(ctx, a); err != nil {
			return err
		}
		if won {
			entry := newEntry(s.UserID, model.KindPayout, s.Payout, a.Balance, &predictionID, "settlement payout", now)
			if err := tx.AppendLedger(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// settlementReport rebuilds the report from the persisted stakes so a
// repeated resolve returns the same numbers the first one did.
func (e *Engine) settlementReport(ctx context.Context, id string) (*model.SettlementReport, error) {
	p, err := e.GetPrediction(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Resolution == nil || p.ResolvedAt == nil {
		return nil, fmt.Errorf("prediction %s has no stored resolution: %w", id, ErrInvalidTransition)
	}
	stakes, err := e.store.StakesForPrediction(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &model.SettlementReport{
		PredictionID: id,
		Outcome:      *p.Resolution,
		TotalStakes:  len(stakes),
		ResolvedAt:   *p.ResolvedAt,
	}
	for i := range stakes {
		if stakes[i].Side == report.Outcome {
			report.WinningStakes++
			report.PointsPaid += stakes[i].Payout
		} else {
			report.LosingStakes++
		}
	}
	report.BonusMultiplier = payout.Multiplier(report.WinningStakes, report.TotalStakes).String()
	return report, nil
}
