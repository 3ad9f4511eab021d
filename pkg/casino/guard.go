package casino

import (
	"context"
	"time"

	"dicebot/pkg/embedlog"

	"github.com/shopspring/decimal"
)

const (
	// ChanceFloor is the lowest win allowance of the profit guard.
	ChanceFloor = 0.3
	// DefaultRerollAttempts bounds draws per bet.
	DefaultRerollAttempts = 40
	// MaxRerollAttempts caps a configured reroll budget.
	MaxRerollAttempts = 10 * DefaultRerollAttempts
)

// ChanceMultiplier maps current house profit onto [ChanceFloor, 1]. It is
// 1 when the guard is disabled (target ≤ 0) or profit reached target, and
// ChanceFloor when profit ≤ 0.
func ChanceMultiplier(profit, target decimal.Decimal) float64 {
	if !target.IsPositive() || profit.GreaterThanOrEqual(target) {
		return 1
	}
	if !profit.IsPositive() {
		return ChanceFloor
	}
	ratio, _ := profit.Div(target).Float64()
	chance := ChanceFloor + (1-ChanceFloor)*ratio
	switch {
	case chance < ChanceFloor:
		return ChanceFloor
	case chance > 1:
		return 1
	}
	return chance
}

// Directive is what the guard wants from the next draw.
type Directive int

const (
	// DirectiveNone keeps natural outcomes.
	DirectiveNone Directive = iota
	// DirectiveForceLoss redraws winning values.
	DirectiveForceLoss
)

func (d Directive) String() string {
	if d == DirectiveForceLoss {
		return "force-loss"
	}
	return "none"
}

// DrawResult is the value accepted by the guard.
type DrawResult struct {
	Value     int
	Attempts  int
	Directive Directive
	Exhausted bool
}

// Guard is the profit guard reroll controller.
type Guard struct {
	embedlog.Logger
	MaxAttempts int
	Delay       time.Duration
	rnd         Rand
}

func NewGuard(logger embedlog.Logger, maxAttempts int, delay time.Duration, rnd Rand) *Guard {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRerollAttempts
	}
	if rnd == nil {
		rnd = DefaultRand
	}
	return &Guard{Logger: logger, MaxAttempts: maxAttempts, Delay: delay, rnd: rnd}
}

// Decide draws a Bernoulli decision allowing a win with probability chance.
// It abstains when every possible value wins, since no loss can be forced.
func (g *Guard) Decide(winSet, possible ValueSet, chance float64) Directive {
	if chance >= 1 || g.rnd.Float64() < chance {
		return DirectiveNone
	}
	if winSet.Covers(possible) {
		return DirectiveNone
	}
	return DirectiveForceLoss
}

// Draw rolls src until the value agrees with directive or maxAttempts draws
// were made, zero maxAttempts means MaxAttempts. The budget never exceeds
// MaxRerollAttempts. On exhaustion the last value is kept.
func (g *Guard) Draw(ctx context.Context, src OutcomeSource, game GameKey, directive Directive, winSet ValueSet, maxAttempts int) (DrawResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = g.MaxAttempts
	}
	maxAttempts = min(maxAttempts, MaxRerollAttempts)

	res := DrawResult{Directive: directive}
	for {
		v, err := src.Roll(ctx, game)
		if err != nil {
			return res, err
		}
		res.Value = v
		res.Attempts++

		if directive == DirectiveNone || !winSet.Contains(v) {
			break
		}
		if res.Attempts >= maxAttempts {
			res.Exhausted = true
			rerollExhausted.WithLabelValues(string(game)).Inc()
			g.Printf("WARN reroll budget exhausted game=%s attempts=%d value=%d, keeping last draw", game, res.Attempts, v)
			break
		}
		if err := sleep(ctx, g.Delay); err != nil {
			return res, err
		}
	}

	if directive != DirectiveNone {
		rerollAttempts.WithLabelValues(string(game)).Observe(float64(res.Attempts))
	}
	return res, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
