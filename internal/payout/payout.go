// Package payout implements the settlement arithmetic for binary
// predictions: the tiered minority bonus and the per-stake payout applied
// exactly once at resolution.
//
// Every winner receives twice their stake. On top of that, a bonus rewards
// stakes on the side that ended up less popular, tiered on the winning
// side's share of all stakes:
//   - share < 20%: multiplier 1.0 (3x total payout)
//   - share < 40%: multiplier 0.5 (2.5x total payout)
//   - otherwise:   multiplier 0.0 (2x total payout)
//
// The share is taken from the global yes/no split at resolution time, not
// from the split at the moment each stake was cast, so all winners of one
// prediction land in the same tier.
//
// Fractional arithmetic uses shopspring/decimal so that tier boundaries
// such as an exact 20% share compare precisely rather than through float64.
package payout

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidSplit is returned when the winning count is negative or
	// exceeds the total count.
	ErrInvalidSplit = errors.New("payout: winning count must be within [0, total]")

	// StrongMinorityShare is the winning-side share below which the full
	// bonus multiplier applies.
	StrongMinorityShare = decimal.NewFromFloat(0.2)

	// MildMinorityShare is the winning-side share below which the half
	// bonus multiplier applies.
	MildMinorityShare = decimal.NewFromFloat(0.4)

	// StrongMultiplier is the bonus multiplier for a strong minority win.
	StrongMultiplier = decimal.NewFromFloat(1.0)

	// MildMultiplier is the bonus multiplier for a mild minority win.
	MildMultiplier = decimal.NewFromFloat(0.5)

	// NoBonus is the zero multiplier applied to majority wins.
	NoBonus = decimal.Zero
)

// Multiplier returns the bonus multiplier for a winning side holding
// winning of total stakes. A total of zero (no stakes at all) yields the
// zero multiplier; settlement of an empty prediction is trivial.
func Multiplier(winning, total int) decimal.Decimal {
	if total <= 0 || winning <= 0 {
		return NoBonus
	}
	share := decimal.NewFromInt(int64(winning)).Div(decimal.NewFromInt(int64(total)))
	switch {
	case share.LessThan(StrongMinorityShare):
		return StrongMultiplier
	case share.LessThan(MildMinorityShare):
		return MildMultiplier
	default:
		return NoBonus
	}
}

// WinnerPayout returns the total credit for one winning stake:
//
//	payout = amount*2 + floor(amount * multiplier)
//
// The floor keeps payouts integral without ever rounding a winner up.
func WinnerPayout(amount int64, multiplier decimal.Decimal) int64 {
	base := amount * 2
	bonus := decimal.NewFromInt(amount).Mul(multiplier).Floor().IntPart()
	return base + bonus
}

// Plan captures the settlement parameters for one prediction outcome,
// derived once from the final tallies and applied to every stake.
type Plan struct {
	Outcome       bool
	TotalStakes   int
	WinningStakes int
	LosingStakes  int
	Multiplier    decimal.Decimal
}

// Compute derives the settlement plan for a prediction that resolved to
// outcome with the given final yes/no stake counts.
func Compute(outcome bool, yesCount, noCount int) (Plan, error) {
	if yesCount < 0 || noCount < 0 {
		return Plan{}, ErrInvalidSplit
	}
	total := yesCount + noCount
	winning := noCount
	if outcome {
		winning = yesCount
	}
	return Plan{
		Outcome:       outcome,
		TotalStakes:   total,
		WinningStakes: winning,
		LosingStakes:  total - winning,
		Multiplier:    Multiplier(winning, total),
	}, nil
}

// PayoutFor returns the payout owed to a stake of the given side and
// amount under this plan. Losing stakes pay zero.
func (p Plan) PayoutFor(side bool, amount int64) int64 {
	if side != p.Outcome {
		return 0
	}
	return WinnerPayout(amount, p.Multiplier)
}
