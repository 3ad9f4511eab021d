package casino

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dicebot/pkg/embedlog"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// Config holds engine tunables.
type Config struct {
	RerollAttempts   int
	RerollDelay      time.Duration
	SourceRetries    uint64
	SourceRetryDelay time.Duration
	SettleRetries    uint64
	SettleRetryDelay time.Duration
	MinesTTL         time.Duration
	SettingsTTL      time.Duration
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.RerollAttempts <= 0 {
		c.RerollAttempts = DefaultRerollAttempts
	}
	if c.SourceRetries == 0 {
		c.SourceRetries = 3
	}
	if c.SourceRetryDelay <= 0 {
		c.SourceRetryDelay = 300 * time.Millisecond
	}
	if c.SettleRetries == 0 {
		c.SettleRetries = 3
	}
	if c.SettleRetryDelay <= 0 {
		c.SettleRetryDelay = 100 * time.Millisecond
	}
	if c.MinesTTL <= 0 {
		c.MinesTTL = 24 * time.Hour
	}
	return c
}

// Deps are the external collaborators of Service.
type Deps struct {
	Settings SettingsSource
	Ledger   Ledger
	Settler  Settler
	Profit   ProfitSource
	Notifier Notifier
	Sessions SessionRepository
	Rand     Rand
}

// Service resolves, draws, evaluates and settles bets.
type Service struct {
	embedlog.Logger
	cfg Config

	registry  *Registry
	resolver  *Resolver
	evaluator *Evaluator
	guard     *Guard
	mines     *Mines

	settings SettingsSource
	ledger   Ledger
	settler  Settler
	profit   ProfitSource
	notifier Notifier

	locks *userLocks
}

func NewService(logger embedlog.Logger, cfg Config, registry *Registry, overrides []Override, deps Deps) *Service {
	cfg = cfg.WithDefaults()
	if deps.Sessions == nil {
		deps.Sessions = NewMemorySessions()
	}
	return &Service{
		Logger:    logger,
		cfg:       cfg,
		registry:  registry,
		resolver:  NewResolver(registry),
		evaluator: NewEvaluator(registry, overrides...),
		guard:     NewGuard(logger, cfg.RerollAttempts, cfg.RerollDelay, deps.Rand),
		mines:     NewMines(deps.Sessions, deps.Rand),
		settings:  deps.Settings,
		ledger:    deps.Ledger,
		settler:   deps.Settler,
		profit:    deps.Profit,
		notifier:  deps.Notifier,
		locks:     newUserLocks(),
	}
}

// Registry returns the bet table.
func (s *Service) Registry() *Registry { return s.registry }

// Config returns effective engine config.
func (s *Service) Config() Config { return s.cfg }

// BetRequest is a raw bet as typed by the user.
type BetRequest struct {
	UserID  int64
	Game    GameKey
	BetType string
	Target  string
	Stake   string
}

// BetResult is a settled one-shot bet.
type BetResult struct {
	Spec       BetSpec
	Evaluation Evaluation
	Draw       DrawResult
	Payout     decimal.Decimal
	Record     *BetRecord
}

// PlaceBet resolves req, draws an outcome from src and settles it.
// Nothing is debited when the outcome source fails.
func (s *Service) PlaceBet(ctx context.Context, src OutcomeSource, req BetRequest) (*BetResult, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	spec, err := s.resolver.Resolve(req.Game, req.BetType, req.Target, req.Stake, settings)
	if err != nil {
		return nil, err
	}
	rule, _ := s.registry.Rule(spec.Game, spec.BetType)
	winSet, err := WinningSet(rule, spec.Target)
	if err != nil {
		return nil, err
	}
	possible, _ := PossibleValues(spec.Game)

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	if err := s.settleParked(ctx, req.UserID); err != nil {
		return nil, err
	}
	if err := s.ensureFunds(ctx, req.UserID, spec.Stake); err != nil {
		return nil, err
	}

	directive := s.guard.Decide(winSet, possible, s.chance(ctx, settings))
	budget := s.cfg.RerollAttempts
	if d, ok := settings.Decimal(KeyRerollMaxAttempts); ok && d.IsPositive() {
		budget = MaxRerollAttempts
		if d.LessThan(decimal.NewFromInt(MaxRerollAttempts)) {
			budget = int(d.IntPart())
		}
	}
	draw, err := s.guard.Draw(ctx, WithRetry(src, s.cfg.SourceRetries, s.cfg.SourceRetryDelay), spec.Game, directive, winSet, budget)
	if err != nil {
		if !errors.Is(err, ErrOutcomeSourceUnavailable) {
			err = fmt.Errorf("%w: %v", ErrOutcomeSourceUnavailable, err)
		}
		return nil, err
	}

	ev, err := s.evaluator.Evaluate(spec, draw.Value, settings)
	if err != nil {
		return nil, err
	}

	payout := ev.Payout(spec.Stake)
	rec, err := s.settle(ctx, Settlement{
		BetID:       uuid.NewString(),
		UserID:      req.UserID,
		Game:        spec.Game,
		BetType:     spec.BetType,
		Target:      spec.Target,
		Stake:       spec.Stake,
		Payout:      payout,
		Multiplier:  ev.Multiplier,
		ResultValue: draw.Value,
		Won:         ev.Won,
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, rec)

	s.Debugf("bet user=%d game=%s type=%s target=%s value=%d won=%v attempts=%d directive=%s",
		req.UserID, spec.Game, spec.BetType, spec.Target, draw.Value, ev.Won, draw.Attempts, draw.Directive)

	return &BetResult{Spec: spec, Evaluation: ev, Draw: draw, Payout: payout, Record: rec}, nil
}

// chance computes the profit guard win allowance, any failure disables the guard.
func (s *Service) chance(ctx context.Context, settings Settings) float64 {
	target, ok := settings.Decimal(KeyProfitGuardTarget)
	if !ok || !target.IsPositive() || s.profit == nil {
		return 1
	}
	profit, err := s.profit.HouseProfit(ctx)
	if err != nil {
		s.Errorf("house profit err=%q, profit guard skipped", err)
		return 1
	}
	houseProfit.Set(profit.InexactFloat64())
	return ChanceMultiplier(profit, target)
}

// ensureFunds checks balance minus the stake locked in an active mines board.
func (s *Service) ensureFunds(ctx context.Context, userID int64, stake decimal.Decimal) error {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return err
	}
	active, err := s.mines.Active(ctx, userID)
	if err != nil {
		return err
	}
	if active != nil {
		balance = balance.Sub(active.Stake)
	}
	if balance.LessThan(stake) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, stake.StringFixed(2), balance.StringFixed(2))
	}
	return nil
}

// settle retries transient failures. Retries are safe because BetID is
// unique: ErrAlreadySettled after a failed attempt means the earlier
// attempt was committed.
func (s *Service) settle(ctx context.Context, st Settlement) (*BetRecord, error) {
	var (
		rec     *BetRecord
		attempt int
	)
	b := retry.WithMaxRetries(s.cfg.SettleRetries, retry.NewConstant(s.cfg.SettleRetryDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		r, err := s.settler.Settle(ctx, st)
		switch {
		case err == nil:
			rec = r
			return nil
		case errors.Is(err, ErrAlreadySettled) && attempt > 1:
			return nil
		case errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrUnknownUser):
			return err
		}
		settlementErrors.Inc()
		s.Errorf("settle bet=%s user=%d attempt=%d err=%q", st.BetID, st.UserID, attempt, err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("settle bet %s: %w", st.BetID, err)
	}

	betsTotal.WithLabelValues(string(st.Game), string(st.Result())).Inc()
	return rec, nil
}

func (s *Service) notify(ctx context.Context, rec *BetRecord) {
	if s.notifier == nil || rec == nil {
		return
	}
	if err := s.notifier.Notify(ctx, rec); err != nil {
		s.Errorf("notify user=%d bet=%s err=%q", rec.UserID, rec.BetID, err)
	}
}

// StartMines validates stake and opens a board with mineCount mines.
func (s *Service) StartMines(ctx context.Context, userID int64, stakeText string, mineCount int) (*MinesSession, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	stake, err := ParseStake(stakeText, MinBet(settings))
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.settleParked(ctx, userID); err != nil {
		return nil, err
	}
	active, err := s.mines.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrConflictingSession
	}
	if err := s.ensureFunds(ctx, userID, stake); err != nil {
		return nil, err
	}

	return s.mines.Start(ctx, userID, stake, mineCount, settings)
}

// ActiveMines returns the user's board or nil.
func (s *Service) ActiveMines(ctx context.Context, userID int64) (*MinesSession, error) {
	return s.mines.Active(ctx, userID)
}

// RevealMines opens a cell, a terminal reveal is settled immediately.
func (s *Service) RevealMines(ctx context.Context, userID int64, cell int) (RevealResult, *BetRecord, error) {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return RevealResult{}, nil, fmt.Errorf("load settings: %w", err)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.settleParked(ctx, userID); err != nil {
		return RevealResult{}, nil, err
	}
	res, err := s.mines.Reveal(ctx, userID, cell, settings)
	if err != nil || !res.Terminal() {
		return res, nil, err
	}

	rec, err := s.settle(ctx, MinesSettlement(res.Session))
	if err != nil {
		s.park(ctx, res.Session, err)
		return res, nil, err
	}
	s.notify(ctx, rec)

	return res, rec, nil
}

// CashOutMines ends the board as won and pays the current payout. The board
// is put back into play when settlement fails.
func (s *Service) CashOutMines(ctx context.Context, userID int64) (*MinesSession, *BetRecord, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if err := s.settleParked(ctx, userID); err != nil {
		return nil, nil, err
	}
	sess, err := s.mines.CashOut(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	rec, err := s.settle(ctx, MinesSettlement(sess))
	if err != nil {
		if rerr := s.mines.Restore(ctx, sess); rerr != nil {
			s.Errorf("restore mines session=%s user=%d err=%q", sess.ID, userID, rerr)
		}
		return nil, nil, err
	}
	s.notify(ctx, rec)

	return sess, rec, nil
}

// EvictStaleMines settles parked boards, then cashes out boards idle longer
// than MinesTTL and drops untouched ones. It returns the number of boards
// ended.
func (s *Service) EvictStaleMines(ctx context.Context) (int, error) {
	users, err := s.mines.ParkedUsers(ctx)
	if err != nil {
		return 0, err
	}
	for _, userID := range users {
		unlock := s.locks.Lock(userID)
		if err := s.settleParked(ctx, userID); err != nil {
			s.Errorf("parked mines user=%d is still unsettled: %v", userID, err)
		}
		unlock()
	}

	stale, err := s.mines.Stale(ctx, s.cfg.MinesTTL)
	if err != nil {
		return 0, err
	}
	var won, dropped int
	for _, candidate := range stale {
		sess, err := s.expireMines(ctx, candidate)
		if err != nil {
			return won + dropped, err
		}
		switch {
		case sess == nil:
		case sess.State == MinesWon:
			won++
		default:
			dropped++
		}
	}
	if n := won + dropped; n > 0 {
		s.Printf("mines eviction: cashed out=%d dropped=%d", won, dropped)
	}
	return won + dropped, nil
}

func (s *Service) expireMines(ctx context.Context, candidate *MinesSession) (*MinesSession, error) {
	unlock := s.locks.Lock(candidate.UserID)
	defer unlock()

	sess, ok, err := s.mines.Expire(ctx, candidate, s.cfg.MinesTTL)
	if err != nil || !ok {
		return nil, err
	}
	if sess.State != MinesWon {
		return sess, nil
	}

	rec, err := s.settle(ctx, MinesSettlement(sess))
	if err != nil {
		s.park(ctx, sess, err)
		return sess, nil
	}
	s.notify(ctx, rec)
	return sess, nil
}

// park keeps a finished board whose settlement failed, it is settled again
// on the next call for the user or by the eviction task.
func (s *Service) park(ctx context.Context, sess *MinesSession, cause error) {
	s.Errorf("mines session=%s user=%d finished as %s but was not settled: %v", sess.ID, sess.UserID, sess.State, cause)
	if err := s.mines.Park(ctx, sess); err != nil {
		s.Errorf("park mines session=%s user=%d err=%q", sess.ID, sess.UserID, err)
	}
}

// settleParked settles a parked board of the user. Callers hold the user lock.
func (s *Service) settleParked(ctx context.Context, userID int64) error {
	sess, err := s.mines.Parked(ctx, userID)
	if err != nil || sess == nil {
		return err
	}

	rec, err := s.settle(ctx, MinesSettlement(sess))
	if err != nil && !errors.Is(err, ErrAlreadySettled) {
		return err
	}
	if err := s.mines.Release(ctx, sess); err != nil {
		return err
	}
	s.Printf("mines session=%s user=%d settled late as %s", sess.ID, userID, sess.State)
	s.notify(ctx, rec)

	return nil
}

// RefreshProfit updates the house profit gauge.
func (s *Service) RefreshProfit(ctx context.Context) (decimal.Decimal, error) {
	if s.profit == nil {
		return decimal.Zero, nil
	}
	profit, err := s.profit.HouseProfit(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	houseProfit.Set(profit.InexactFloat64())
	return profit, nil
}

// Describe returns a short usage line of a bet type for help texts.
func Describe(rule BetRule) string {
	if rule.Kind == TargetNumeric {
		possible, _ := PossibleValues(rule.Game)
		return fmt.Sprintf("%s %s <%d-%d>", rule.Game, rule.BetType, possible[0], possible[len(possible)-1])
	}
	return fmt.Sprintf("%s %s <%s>", rule.Game, rule.BetType, strings.Join(rule.ChoiceNames(), "|"))
}
