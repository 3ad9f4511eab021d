package casino

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// BonusCeiling bounds bonus multipliers such as the darts bullseye.
var BonusCeiling = decimal.RequireFromString("10.00")

// MultiplierKind tells where the effective multiplier came from.
type MultiplierKind string

const (
	MultiplierBase  MultiplierKind = "base"
	MultiplierBonus MultiplierKind = "bonus"
	MultiplierEdge  MultiplierKind = "edge"
)

// Override replaces the base multiplier for a specific winning value.
type Override struct {
	Game    GameKey
	BetType string
	Target  string
	Value   int
	Kind    MultiplierKind
	Default decimal.Decimal
}

// Key returns settings key that overrides Default.
func (o Override) Key() string {
	return OverrideKey(o.Kind, o.Game, o.BetType, o.Target, o.Value)
}

// OverrideKey is {game}_{bet_type}_{bonus|edge}_{target}_{value}.
func OverrideKey(kind MultiplierKind, game GameKey, betType, target string, value int) string {
	return fmt.Sprintf("%s_%s_%s_%s_%d", game, betType, kind, target, value)
}

// DefaultOverrides returns built-in bonuses.
func DefaultOverrides() []Override {
	return []Override{
		// bullseye
		{Game: GameDarts, BetType: "outcome", Target: "hit", Value: 6, Kind: MultiplierBonus, Default: decimal.RequireFromString("5.00")},
	}
}

// WinningSet returns outcome values that satisfy target.
func WinningSet(rule BetRule, target string) (ValueSet, error) {
	switch rule.Kind {
	case TargetNumeric:
		n, err := strconv.Atoi(target)
		if err != nil {
			return nil, fmt.Errorf("%w: target %q is not a number", ErrUnresolvableBet, target)
		}
		possible, _ := PossibleValues(rule.Game)
		if !possible.Contains(n) {
			return nil, fmt.Errorf("%w: target %d is out of range", ErrUnresolvableBet, n)
		}
		return ValueSet{n}, nil
	case TargetChoice:
		c, ok := rule.Choice(target)
		if !ok || len(c.Values) == 0 {
			return nil, fmt.Errorf("%w: option %q has no values", ErrUnresolvableBet, target)
		}
		return c.Values, nil
	}
	return nil, fmt.Errorf("%w: unknown target kind", ErrUnresolvableBet)
}

// Evaluation is the outcome of one roll.
type Evaluation struct {
	Won        bool
	Value      int
	Multiplier decimal.Decimal
	Kind       MultiplierKind
}

// Payout is stake × multiplier floored to cents for a win, zero otherwise.
func (e Evaluation) Payout(stake decimal.Decimal) decimal.Decimal {
	if !e.Won {
		return decimal.Zero
	}
	return stake.Mul(e.Multiplier).RoundFloor(2)
}

// Evaluator decides win/loss for rolled values.
type Evaluator struct {
	registry  *Registry
	overrides map[overrideKey]Override
}

type overrideKey struct {
	game    GameKey
	betType string
	target  string
	value   int
}

func NewEvaluator(registry *Registry, overrides ...Override) *Evaluator {
	e := &Evaluator{registry: registry, overrides: make(map[overrideKey]Override, len(overrides))}
	for _, o := range overrides {
		e.overrides[overrideKey{game: o.Game, betType: o.BetType, target: o.Target, value: o.Value}] = o
	}
	return e
}

// Evaluate checks value against the winning set of spec. The winning set is
// computed from the current registry on every call.
func (e *Evaluator) Evaluate(spec BetSpec, value int, settings Settings) (Evaluation, error) {
	rule, ok := e.registry.Rule(spec.Game, spec.BetType)
	if !ok {
		return Evaluation{}, fmt.Errorf("%w: unknown bet type %s/%s", ErrUnresolvableBet, spec.Game, spec.BetType)
	}
	winSet, err := WinningSet(rule, spec.Target)
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{Value: value, Multiplier: spec.Multiplier, Kind: MultiplierBase}
	if !winSet.Contains(value) {
		return ev, nil
	}
	ev.Won = true
	ev.Multiplier, ev.Kind = e.effectiveMultiplier(spec, value, settings)

	return ev, nil
}

// effectiveMultiplier looks up a bonus, then an edge override, then falls
// back to the base multiplier of spec.
func (e *Evaluator) effectiveMultiplier(spec BetSpec, value int, settings Settings) (decimal.Decimal, MultiplierKind) {
	builtin, hasBuiltin := e.overrides[overrideKey{game: spec.Game, betType: spec.BetType, target: spec.Target, value: value}]

	if d, ok := settings.Decimal(OverrideKey(MultiplierBonus, spec.Game, spec.BetType, spec.Target, value)); ok && d.IsPositive() {
		return decimal.Min(d, BonusCeiling), MultiplierBonus
	}
	if hasBuiltin && builtin.Kind == MultiplierBonus && builtin.Default.IsPositive() {
		return decimal.Min(builtin.Default, BonusCeiling), MultiplierBonus
	}

	if d, ok := settings.Decimal(OverrideKey(MultiplierEdge, spec.Game, spec.BetType, spec.Target, value)); ok && d.IsPositive() {
		return decimal.Min(d, MultiplierCeiling), MultiplierEdge
	}
	if hasBuiltin && builtin.Kind == MultiplierEdge && builtin.Default.IsPositive() {
		return decimal.Min(builtin.Default, MultiplierCeiling), MultiplierEdge
	}

	return spec.Multiplier, MultiplierBase
}
