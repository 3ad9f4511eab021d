package casino

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// DefaultMultiplier is used when nothing is configured for a bet.
	DefaultMultiplier = decimal.RequireFromString("1.50")
	// MultiplierCeiling bounds every resolved base multiplier.
	MultiplierCeiling = decimal.RequireFromString("2.00")
	// DefaultMinBet applies when min_bet is not configured.
	DefaultMinBet = decimal.RequireFromString("1.00")
)

// BetSpec is one resolved wager.
type BetSpec struct {
	Game       GameKey
	BetType    string
	Target     string
	Stake      decimal.Decimal
	Multiplier decimal.Decimal
}

// Resolver validates bet requests against the registry.
type Resolver struct {
	registry *Registry
}

func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve validates a bet and returns its spec. It has no side effects.
func (r *Resolver) Resolve(game GameKey, betType, target, stakeText string, settings Settings) (BetSpec, error) {
	rule, err := r.rule(game, betType)
	if err != nil {
		return BetSpec{}, err
	}

	normalized, err := normalizeTarget(rule, target)
	if err != nil {
		return BetSpec{}, err
	}

	stake, err := ParseStake(stakeText, MinBet(settings))
	if err != nil {
		return BetSpec{}, err
	}

	return BetSpec{
		Game:       rule.Game,
		BetType:    rule.BetType,
		Target:     normalized,
		Stake:      stake,
		Multiplier: ResolveMultiplier(settings, rule.Game, rule.BetType, normalized),
	}, nil
}

func (r *Resolver) rule(game GameKey, betType string) (BetRule, error) {
	if _, ok := PossibleValues(game); !ok {
		return BetRule{}, fmt.Errorf("%w: game %q has no bet types", ErrUnresolvableBet, game)
	}
	rule, ok := r.registry.Rule(game, strings.TrimSpace(betType))
	if !ok {
		return BetRule{}, fmt.Errorf("%w: unknown bet type %q for %s", ErrUnresolvableBet, betType, game)
	}
	return rule, nil
}

func normalizeTarget(rule BetRule, target string) (string, error) {
	target = strings.ToLower(strings.TrimSpace(target))

	switch rule.Kind {
	case TargetNumeric:
		n, err := strconv.Atoi(target)
		if err != nil {
			return "", fmt.Errorf("%w: target %q is not a number", ErrUnresolvableBet, target)
		}
		possible, _ := PossibleValues(rule.Game)
		if !possible.Contains(n) {
			return "", fmt.Errorf("%w: target %d is out of range for %s", ErrUnresolvableBet, n, rule.Game)
		}
		return strconv.Itoa(n), nil
	case TargetChoice:
		if _, ok := rule.Choice(target); !ok {
			return "", fmt.Errorf("%w: unknown option %q for %s/%s", ErrUnresolvableBet, target, rule.Game, rule.BetType)
		}
		return target, nil
	}

	return "", fmt.Errorf("%w: %s/%s has unknown target kind", ErrUnresolvableBet, rule.Game, rule.BetType)
}

// MinBet returns configured minimum stake.
func MinBet(settings Settings) decimal.Decimal {
	if d, ok := settings.Decimal(KeyMinBet); ok && d.IsPositive() {
		return d
	}
	return DefaultMinBet
}

// ParseStake parses user input as a stake with at most two decimals.
func ParseStake(text string, minBet decimal.Decimal) (decimal.Decimal, error) {
	text = strings.TrimSpace(strings.Replace(text, ",", ".", 1))
	stake, err := decimal.NewFromString(text)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidStake, text)
	}
	if !stake.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: must be positive", ErrInvalidStake)
	}
	if !stake.Equal(stake.Truncate(2)) {
		return decimal.Zero, fmt.Errorf("%w: at most two decimals allowed", ErrInvalidStake)
	}
	if stake.LessThan(minBet) {
		return decimal.Zero, fmt.Errorf("%w: minimum is %s", ErrInvalidStake, minBet.StringFixed(2))
	}
	return stake, nil
}

// MultiplierKey returns the most specific settings key of a bet.
func MultiplierKey(game GameKey, betType, target string) string {
	return fmt.Sprintf("%s_%s_multiplier_%s", game, betType, target)
}

// BetTypeMultiplierKey returns the per bet type fallback key.
func BetTypeMultiplierKey(game GameKey, betType string) string {
	return fmt.Sprintf("%s_%s_multiplier", game, betType)
}

// ResolveMultiplier walks {game}_{bet_type}_multiplier_{target},
// {game}_{bet_type}_multiplier and DefaultMultiplier, skipping malformed
// values. The result never exceeds MultiplierCeiling.
func ResolveMultiplier(settings Settings, game GameKey, betType, target string) decimal.Decimal {
	m := DefaultMultiplier
	for _, key := range []string{MultiplierKey(game, betType, target), BetTypeMultiplierKey(game, betType)} {
		if d, ok := settings.Decimal(key); ok && d.IsPositive() {
			m = d
			break
		}
	}
	return decimal.Min(m, MultiplierCeiling)
}
