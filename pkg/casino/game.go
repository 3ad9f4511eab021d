package casino

import (
	"fmt"
	"slices"
	"strings"
)

// GameKey identifies a mini-game.
type GameKey string

const (
	GameDice   GameKey = "dice"
	GameBall   GameKey = "ball"
	GameDarts  GameKey = "darts"
	GameBasket GameKey = "basket"
	GameMines  GameKey = "mines"
)

// Games lists every known game in display order.
var Games = []GameKey{GameDice, GameDarts, GameBall, GameBasket, GameMines}

// ParseGameKey returns GameKey for a user supplied name.
func ParseGameKey(s string) (GameKey, bool) {
	g := GameKey(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Games {
		if g == known {
			return g, true
		}
	}
	return "", false
}

// possibleValues are the faces the Telegram dice animations can land on.
// Darts 6 is a bullseye, basketball and football only have five outcomes.
var possibleValues = map[GameKey]ValueSet{
	GameDice:   RangeSet(1, 6),
	GameDarts:  RangeSet(1, 6),
	GameBall:   RangeSet(1, 5),
	GameBasket: RangeSet(1, 5),
}

// PossibleValues returns every value the outcome source can produce for a game.
func PossibleValues(g GameKey) (ValueSet, bool) {
	vs, ok := possibleValues[g]
	return vs, ok
}

// ValueSet is a sorted set of outcome values.
type ValueSet []int

// NewValueSet returns sorted and deduplicated set.
func NewValueSet(values ...int) ValueSet {
	vs := slices.Clone(values)
	slices.Sort(vs)
	return ValueSet(slices.Compact(vs))
}

// RangeSet returns {lo, ..., hi}.
func RangeSet(lo, hi int) ValueSet {
	vs := make(ValueSet, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		vs = append(vs, v)
	}
	return vs
}

func (s ValueSet) Contains(v int) bool {
	_, ok := slices.BinarySearch(s, v)
	return ok
}

func (s ValueSet) Equal(o ValueSet) bool {
	return slices.Equal(s, o)
}

// Covers reports whether every value of o is in s.
func (s ValueSet) Covers(o ValueSet) bool {
	for _, v := range o {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

// TargetKind tells how the target of a bet type is interpreted.
type TargetKind int

const (
	// TargetNumeric targets are a literal face value.
	TargetNumeric TargetKind = iota + 1
	// TargetChoice targets name one of the configured options.
	TargetChoice
)

// Choice is a named option of a choice bet type.
type Choice struct {
	Name   string
	Values ValueSet
}

// BetRule describes one bet type of a game.
type BetRule struct {
	Game    GameKey
	BetType string
	Kind    TargetKind
	Choices []Choice
}

func (r BetRule) Choice(name string) (Choice, bool) {
	for _, c := range r.Choices {
		if c.Name == name {
			return c, true
		}
	}
	return Choice{}, false
}

// ChoiceNames returns option names in declaration order.
func (r BetRule) ChoiceNames() []string {
	names := make([]string, 0, len(r.Choices))
	for _, c := range r.Choices {
		names = append(names, c.Name)
	}
	return names
}

func (r BetRule) validate() error {
	possible, ok := PossibleValues(r.Game)
	if !ok {
		return fmt.Errorf("game %q has no one-shot bets", r.Game)
	}
	if r.BetType == "" || strings.ContainsAny(r.BetType, " _") {
		return fmt.Errorf("%s: invalid bet type %q", r.Game, r.BetType)
	}

	switch r.Kind {
	case TargetNumeric:
		if len(r.Choices) > 0 {
			return fmt.Errorf("%s/%s: numeric bet type must not declare choices", r.Game, r.BetType)
		}
		return nil
	case TargetChoice:
	default:
		return fmt.Errorf("%s/%s: unknown target kind %d", r.Game, r.BetType, r.Kind)
	}

	if len(r.Choices) < 2 {
		return fmt.Errorf("%s/%s: choice bet type needs at least two options", r.Game, r.BetType)
	}

	seen := map[int]string{}
	names := map[string]struct{}{}
	var union []int
	for _, c := range r.Choices {
		if c.Name == "" || strings.ContainsAny(c.Name, " _") {
			return fmt.Errorf("%s/%s: invalid option name %q", r.Game, r.BetType, c.Name)
		}
		if _, dup := names[c.Name]; dup {
			return fmt.Errorf("%s/%s: duplicated option %q", r.Game, r.BetType, c.Name)
		}
		names[c.Name] = struct{}{}
		if len(c.Values) == 0 {
			return fmt.Errorf("%s/%s/%s: empty option", r.Game, r.BetType, c.Name)
		}
		for _, v := range c.Values {
			if !possible.Contains(v) {
				return fmt.Errorf("%s/%s/%s: value %d is out of range", r.Game, r.BetType, c.Name, v)
			}
			if other, ok := seen[v]; ok {
				return fmt.Errorf("%s/%s: value %d belongs to both %q and %q", r.Game, r.BetType, v, other, c.Name)
			}
			seen[v] = c.Name
			union = append(union, v)
		}
	}
	if !NewValueSet(union...).Equal(possible) {
		return fmt.Errorf("%s/%s: options do not cover every outcome", r.Game, r.BetType)
	}

	return nil
}

type ruleKey struct {
	game    GameKey
	betType string
}

// Registry is an immutable lookup table of bet rules built once at startup.
type Registry struct {
	rules map[ruleKey]BetRule
	order []ruleKey
}

// NewRegistry validates rules and returns Registry.
func NewRegistry(rules ...BetRule) (*Registry, error) {
	r := &Registry{rules: make(map[ruleKey]BetRule, len(rules))}
	for _, rule := range rules {
		rule.BetType = strings.ToLower(rule.BetType)
		rule.Choices = slices.Clone(rule.Choices)
		for i := range rule.Choices {
			rule.Choices[i].Name = strings.ToLower(rule.Choices[i].Name)
			rule.Choices[i].Values = NewValueSet(rule.Choices[i].Values...)
		}
		if err := rule.validate(); err != nil {
			return nil, fmt.Errorf("invalid bet rule: %w", err)
		}
		key := ruleKey{game: rule.Game, betType: rule.BetType}
		if _, ok := r.rules[key]; ok {
			return nil, fmt.Errorf("invalid bet rule: %s/%s declared twice", rule.Game, rule.BetType)
		}
		r.rules[key] = rule
		r.order = append(r.order, key)
	}

	return r, nil
}

// Rule returns the rule for (game, betType).
func (r *Registry) Rule(game GameKey, betType string) (BetRule, bool) {
	rule, ok := r.rules[ruleKey{game: game, betType: strings.ToLower(betType)}]
	return rule, ok
}

// Rules returns all rules in declaration order.
func (r *Registry) Rules() []BetRule {
	res := make([]BetRule, 0, len(r.order))
	for _, k := range r.order {
		res = append(res, r.rules[k])
	}
	return res
}

// BetTypes returns bet types of a game in declaration order.
func (r *Registry) BetTypes(game GameKey) []string {
	var res []string
	for _, k := range r.order {
		if k.game == game {
			res = append(res, k.betType)
		}
	}
	return res
}

// DefaultRules returns the bet table of the bot.
func DefaultRules() []BetRule {
	return []BetRule{
		{Game: GameDice, BetType: "number", Kind: TargetNumeric},
		{Game: GameDice, BetType: "parity", Kind: TargetChoice, Choices: []Choice{
			{Name: "even", Values: ValueSet{2, 4, 6}},
			{Name: "odd", Values: ValueSet{1, 3, 5}},
		}},
		{Game: GameDice, BetType: "hilo", Kind: TargetChoice, Choices: []Choice{
			{Name: "low", Values: ValueSet{1, 2, 3}},
			{Name: "high", Values: ValueSet{4, 5, 6}},
		}},
		{Game: GameDarts, BetType: "outcome", Kind: TargetChoice, Choices: []Choice{
			{Name: "hit", Values: ValueSet{4, 5, 6}},
			{Name: "miss", Values: ValueSet{1, 2, 3}},
		}},
		{Game: GameBall, BetType: "outcome", Kind: TargetChoice, Choices: []Choice{
			{Name: "goal", Values: ValueSet{3, 4, 5}},
			{Name: "miss", Values: ValueSet{1, 2}},
		}},
		{Game: GameBasket, BetType: "outcome", Kind: TargetChoice, Choices: []Choice{
			{Name: "score", Values: ValueSet{4, 5}},
			{Name: "miss", Values: ValueSet{1, 2, 3}},
		}},
	}
}
