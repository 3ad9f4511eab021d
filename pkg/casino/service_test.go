package casino

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dicebot/pkg/embedlog"

	"github.com/shopspring/decimal"
)

type serviceFixture struct {
	svc      *Service
	ledger   *memLedger
	notifier *recordingNotifier
	rnd      *scriptedRand
}

func newServiceFixture(t *testing.T, settings Settings, balances map[int64]string) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		ledger:   newMemLedger(balances),
		notifier: &recordingNotifier{},
		rnd:      &scriptedRand{},
	}
	f.svc = NewService(embedlog.Logger{}, Config{
		SourceRetries:    2,
		SourceRetryDelay: time.Millisecond,
		SettleRetries:    3,
		SettleRetryDelay: time.Millisecond,
		MinesTTL:         time.Hour,
	}, defaultRegistry(t), DefaultOverrides(), Deps{
		Settings: StaticSettings(settings),
		Ledger:   f.ledger,
		Settler:  f.ledger,
		Profit:   f.ledger,
		Notifier: f.notifier,
		Rand:     f.rnd,
	})
	return f
}

func TestPlaceBet(t *testing.T) {
	ctx := context.Background()

	t.Run("win", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		src, _ := sequence(4)
		res, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"})
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if !res.Evaluation.Won || res.Draw.Value != 4 {
			t.Fatalf("res = %+v", res)
		}
		assertDecimal(t, "payout", res.Payout, "15")
		assertDecimal(t, "balance", f.ledger.balance(1), "105")
		assertDecimal(t, "record balance", res.Record.Balance, "105")
		if res.Record.Result != ResultWin || res.Record.ResultValue != 4 {
			t.Fatalf("record = %+v", res.Record)
		}
		if f.notifier.count() != 1 {
			t.Fatalf("notifications = %d", f.notifier.count())
		}
	})

	t.Run("loss", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		src, _ := sequence(3)
		res, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"})
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if res.Evaluation.Won {
			t.Fatalf("res = %+v", res)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "90")
		assertDecimal(t, "net", res.Record.NetPayout, "-10")
	})

	t.Run("bullseye", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		src, _ := sequence(6)
		res, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDarts, BetType: "outcome", Target: "hit", Stake: "10"})
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		assertDecimal(t, "multiplier", res.Record.MultiplierUsed, "5")
		assertDecimal(t, "balance", f.ledger.balance(1), "140")
	})

	t.Run("insufficient funds", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "5"})
		src, calls := sequence(4)
		_, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"})
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("err = %v, want ErrInsufficientFunds", err)
		}
		if *calls != 0 || f.ledger.recordCount() != 0 {
			t.Fatalf("nothing must be drawn or recorded")
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newServiceFixture(t, nil, nil)
		src, _ := sequence(4)
		_, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 7, Game: GameDice, BetType: "number", Target: "4", Stake: "10"})
		if !errors.Is(err, ErrUnknownUser) {
			t.Fatalf("err = %v, want ErrUnknownUser", err)
		}
	})

	t.Run("unresolvable bet is never drawn", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		src, calls := sequence(4)
		_, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "color", Target: "red", Stake: "10"})
		if !errors.Is(err, ErrUnresolvableBet) || *calls != 0 {
			t.Fatalf("err = %v, calls = %d", err, *calls)
		}
	})

	t.Run("source failure debits nothing", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		_, err := f.svc.PlaceBet(ctx, failingSource(errors.New("flood wait")), BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"})
		if !errors.Is(err, ErrOutcomeSourceUnavailable) {
			t.Fatalf("err = %v, want ErrOutcomeSourceUnavailable", err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "100")
		if f.ledger.recordCount() != 0 || f.notifier.count() != 0 {
			t.Fatalf("nothing must be recorded")
		}
	})

	t.Run("notifier errors are ignored", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		f.notifier.err = errors.New("bot was blocked by the user")
		src, _ := sequence(4)
		if _, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"}); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "105")
	})
}

func TestPlaceBetSettlementRetries(t *testing.T) {
	ctx := context.Background()
	req := BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"}

	t.Run("transient failures", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		f.ledger.failBefore = 2
		src, _ := sequence(4)
		if _, err := f.svc.PlaceBet(ctx, src, req); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if f.ledger.recordCount() != 1 {
			t.Fatalf("records = %d, want 1", f.ledger.recordCount())
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "105")
	})

	t.Run("lost acknowledgement is applied once", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		f.ledger.failAfter = 1
		src, _ := sequence(4)
		if _, err := f.svc.PlaceBet(ctx, src, req); err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if f.ledger.recordCount() != 1 || f.ledger.settles != 2 {
			t.Fatalf("records = %d, settles = %d", f.ledger.recordCount(), f.ledger.settles)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "105")
	})

	t.Run("persistent failure", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		f.ledger.failBefore = 100
		src, _ := sequence(4)
		if _, err := f.svc.PlaceBet(ctx, src, req); err == nil {
			t.Fatalf("error expected")
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "100")
	})
}

func TestSettleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil, map[int64]string{1: "100"})
	st := Settlement{BetID: "bet-1", UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: dec("10"), Payout: dec("15"), Multiplier: dec("1.5"), ResultValue: 4, Won: true}

	if _, err := f.svc.settle(ctx, st); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if _, err := f.svc.settle(ctx, st); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("second settle err = %v, want ErrAlreadySettled", err)
	}
	assertDecimal(t, "balance", f.ledger.balance(1), "105")
}

func TestProfitGuard(t *testing.T) {
	ctx := context.Background()
	req := BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "10"}

	t.Run("forces loss below target", func(t *testing.T) {
		f := newServiceFixture(t, Settings{KeyProfitGuardTarget: "1000"}, map[int64]string{1: "100"})
		f.rnd.floats = []float64{0.9}
		src, calls := sequence(4, 4, 2)
		res, err := f.svc.PlaceBet(ctx, src, req)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if res.Draw.Directive != DirectiveForceLoss || res.Draw.Value != 2 || *calls != 3 || res.Evaluation.Won {
			t.Fatalf("draw = %+v, calls = %d", res.Draw, *calls)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "90")
	})

	t.Run("reroll budget from settings", func(t *testing.T) {
		f := newServiceFixture(t, Settings{KeyProfitGuardTarget: "1000", KeyRerollMaxAttempts: "3"}, map[int64]string{1: "100"})
		f.rnd.floats = []float64{0.9}
		src, calls := sequence(4)
		res, err := f.svc.PlaceBet(ctx, src, req)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if !res.Draw.Exhausted || *calls != 3 || !res.Evaluation.Won {
			t.Fatalf("draw = %+v, calls = %d", res.Draw, *calls)
		}
	})

	t.Run("configured reroll budget is capped", func(t *testing.T) {
		f := newServiceFixture(t, Settings{KeyProfitGuardTarget: "1000", KeyRerollMaxAttempts: "1e9"}, map[int64]string{1: "100"})
		f.rnd.floats = []float64{0.9}
		src, calls := sequence(4)
		res, err := f.svc.PlaceBet(ctx, src, req)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if !res.Draw.Exhausted || *calls != MaxRerollAttempts {
			t.Fatalf("draw = %+v, calls = %d, want %d", res.Draw, *calls, MaxRerollAttempts)
		}
	})

	t.Run("disabled when profit is unknown", func(t *testing.T) {
		f := newServiceFixture(t, Settings{KeyProfitGuardTarget: "1000"}, map[int64]string{1: "100"})
		f.ledger.profitErr = errors.New("timeout")
		f.rnd.floats = []float64{0.9}
		src, calls := sequence(4, 2)
		res, err := f.svc.PlaceBet(ctx, src, req)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if res.Draw.Directive != DirectiveNone || *calls != 1 || !res.Evaluation.Won {
			t.Fatalf("draw = %+v, calls = %d", res.Draw, *calls)
		}
	})

	t.Run("target reached", func(t *testing.T) {
		f := newServiceFixture(t, Settings{KeyProfitGuardTarget: "1000"}, map[int64]string{1: "100"})
		f.ledger.profit = dec("1500")
		f.rnd.floats = []float64{0.99}
		src, _ := sequence(4, 2)
		res, err := f.svc.PlaceBet(ctx, src, req)
		if err != nil {
			t.Fatalf("PlaceBet: %v", err)
		}
		if res.Draw.Directive != DirectiveNone || !res.Evaluation.Won {
			t.Fatalf("draw = %+v", res.Draw)
		}
	})
}

func TestPlaceBetConcurrentStakesNeverOverdraw(t *testing.T) {
	f := newServiceFixture(t, nil, map[int64]string{1: "100"})
	src := OutcomeSourceFunc(func(context.Context, GameKey) (int, error) { return 1, nil })

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.PlaceBet(context.Background(), src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "6", Stake: "10"})
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("accepted bets = %d, want 10", ok)
	}
	assertDecimal(t, "balance", f.ledger.balance(1), "0")
}

func TestServiceMines(t *testing.T) {
	ctx := context.Background()

	t.Run("cash out", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatalf("StartMines: %v", err)
		}
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); !errors.Is(err, ErrConflictingSession) {
			t.Fatalf("second StartMines err = %v", err)
		}

		src, _ := sequence(4)
		_, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "95"})
		if !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("stake on the board must be reserved, err = %v", err)
		}

		res, rec, err := f.svc.RevealMines(ctx, 1, 12)
		if err != nil || res.Outcome != RevealSafe || rec != nil {
			t.Fatalf("reveal = %+v, %v, %v", res, rec, err)
		}
		if f.ledger.recordCount() != 0 {
			t.Fatalf("safe reveal must not settle")
		}

		sess, rec, err := f.svc.CashOutMines(ctx, 1)
		if err != nil {
			t.Fatalf("CashOutMines: %v", err)
		}
		if sess.State != MinesWon || rec.Game != GameMines || rec.Result != ResultWin || rec.ResultValue != 1 || rec.Target != "3" {
			t.Fatalf("session = %+v, record = %+v", sess, rec)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "102")
		if active, _ := f.svc.ActiveMines(ctx, 1); active != nil {
			t.Fatalf("session must be finished")
		}
	})

	t.Run("mine", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatal(err)
		}
		res, rec, err := f.svc.RevealMines(ctx, 1, 0)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcome != RevealMine || rec == nil || rec.Result != ResultLose {
			t.Fatalf("res = %+v, rec = %+v", res, rec)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "90")
		if f.notifier.count() != 1 {
			t.Fatalf("notifications = %d", f.notifier.count())
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		if _, err := f.svc.StartMines(ctx, 1, "0", 3); !errors.Is(err, ErrInvalidStake) {
			t.Fatalf("err = %v", err)
		}
		if _, err := f.svc.StartMines(ctx, 1, "10", 25); !errors.Is(err, ErrInvalidMineCount) {
			t.Fatalf("err = %v", err)
		}
		if _, err := f.svc.StartMines(ctx, 1, "500", 3); !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("err = %v", err)
		}
		if _, _, err := f.svc.CashOutMines(ctx, 1); !errors.Is(err, ErrNoActiveSession) {
			t.Fatalf("err = %v", err)
		}
	})

	t.Run("failed settlement restores the board", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatal(err)
		}
		if _, _, err := f.svc.RevealMines(ctx, 1, 12); err != nil {
			t.Fatal(err)
		}
		f.ledger.failBefore = 100
		if _, _, err := f.svc.CashOutMines(ctx, 1); err == nil {
			t.Fatalf("error expected")
		}
		active, err := f.svc.ActiveMines(ctx, 1)
		if err != nil || active == nil || active.SafeSteps != 1 {
			t.Fatalf("active = %+v, err = %v", active, err)
		}

		f.ledger.failBefore = 0
		if _, _, err := f.svc.CashOutMines(ctx, 1); err != nil {
			t.Fatalf("second CashOutMines: %v", err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "102")
	})

	t.Run("unsettled mine hit is settled on the next call", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatal(err)
		}
		f.ledger.failBefore = 100
		if _, _, err := f.svc.RevealMines(ctx, 1, 0); err == nil {
			t.Fatalf("error expected")
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "100")

		if _, err := f.svc.StartMines(ctx, 1, "100", 3); err == nil {
			t.Fatalf("new board must wait for the lost one to be settled")
		}
		src, _ := sequence(4)
		if _, err := f.svc.PlaceBet(ctx, src, BetRequest{UserID: 1, Game: GameDice, BetType: "number", Target: "4", Stake: "95"}); err == nil {
			t.Fatalf("bet must wait for the lost board to be settled")
		}

		f.ledger.failBefore = 0
		if _, err := f.svc.StartMines(ctx, 1, "100", 3); !errors.Is(err, ErrInsufficientFunds) {
			t.Fatalf("StartMines err = %v, want ErrInsufficientFunds after the loss", err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "90")
		if rec := f.ledger.last(); f.ledger.recordCount() != 1 || rec.Result != ResultLose || rec.Game != GameMines {
			t.Fatalf("records = %d, last = %+v", f.ledger.recordCount(), rec)
		}
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatalf("StartMines: %v", err)
		}
	})

	t.Run("unsettled eviction is retried by the next run", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100"})
		now := time.Now()
		f.svc.mines.now = func() time.Time { return now }
		if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
			t.Fatal(err)
		}
		if _, _, err := f.svc.RevealMines(ctx, 1, 12); err != nil {
			t.Fatal(err)
		}

		now = now.Add(2 * time.Hour)
		f.ledger.failBefore = 100
		if n, err := f.svc.EvictStaleMines(ctx); err != nil || n != 1 {
			t.Fatalf("evicted = %d, err = %v", n, err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "100")

		f.ledger.failBefore = 0
		if n, err := f.svc.EvictStaleMines(ctx); err != nil || n != 0 {
			t.Fatalf("evicted = %d, err = %v", n, err)
		}
		assertDecimal(t, "balance", f.ledger.balance(1), "102")
		if f.ledger.recordCount() != 1 || f.notifier.count() != 1 {
			t.Fatalf("records = %d, notifications = %d", f.ledger.recordCount(), f.notifier.count())
		}
		if parked, _ := f.svc.mines.Parked(ctx, 1); parked != nil {
			t.Fatalf("settled board is still parked")
		}
	})

	t.Run("eviction", func(t *testing.T) {
		f := newServiceFixture(t, nil, map[int64]string{1: "100", 2: "100"})
		now := time.Now()
		f.svc.mines.now = func() time.Time { return now }

		for _, user := range []int64{1, 2} {
			if _, err := f.svc.StartMines(ctx, user, "10", 3); err != nil {
				t.Fatal(err)
			}
		}
		if _, _, err := f.svc.RevealMines(ctx, 1, 12); err != nil {
			t.Fatal(err)
		}

		now = now.Add(2 * time.Hour)
		n, err := f.svc.EvictStaleMines(ctx)
		if err != nil || n != 2 {
			t.Fatalf("evicted = %d, err = %v", n, err)
		}
		assertDecimal(t, "cashed out balance", f.ledger.balance(1), "102")
		assertDecimal(t, "dropped board balance", f.ledger.balance(2), "100")
		if f.ledger.recordCount() != 1 {
			t.Fatalf("records = %d, want 1", f.ledger.recordCount())
		}
	})
}

func TestServiceMinesConcurrentCashOut(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil, map[int64]string{1: "100"})
	if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
		t.Fatal(err)
	}
	if _, _, err := f.svc.RevealMines(ctx, 1, 12); err != nil {
		t.Fatal(err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.CashOutMines(ctx, 1)
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			} else if !errors.Is(err, ErrNoActiveSession) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || f.ledger.recordCount() != 1 {
		t.Fatalf("cash outs = %d, records = %d, want 1 and 1", ok, f.ledger.recordCount())
	}
	assertDecimal(t, "balance", f.ledger.balance(1), "102")
}

func TestServiceMinesConcurrentReveals(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t, nil, map[int64]string{1: "100"})
	if _, err := f.svc.StartMines(ctx, 1, "10", 3); err != nil {
		t.Fatal(err)
	}

	// mines are on cells 0..2
	cells := []int{3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	var wg sync.WaitGroup
	for _, cell := range cells {
		wg.Add(1)
		go func(cell int) {
			defer wg.Done()
			res, _, err := f.svc.RevealMines(ctx, 1, cell)
			if err != nil || res.Outcome != RevealSafe {
				t.Errorf("reveal %d = %s, %v", cell, res.Outcome, err)
			}
		}(cell)
	}
	wg.Wait()

	s, err := f.svc.ActiveMines(ctx, 1)
	if err != nil || s == nil {
		t.Fatalf("ActiveMines = %v, %v", s, err)
	}
	if s.SafeSteps != len(cells) || len(s.Revealed) != len(cells) {
		t.Fatalf("safe steps = %d, revealed = %d, want %d", s.SafeSteps, len(s.Revealed), len(cells))
	}
	steps := map[int]bool{}
	for _, step := range s.Revealed {
		steps[step] = true
	}
	for step := 1; step <= len(cells); step++ {
		if !steps[step] {
			t.Fatalf("step %d is missing from %v", step, s.Revealed)
		}
	}

	want := decimal.NewFromInt(1)
	for range cells {
		want = want.Mul(dec("1.20")).RoundFloor(2)
	}
	assertDecimal(t, "multiplier", s.CurrentMultiplier, want.String())
	if f.ledger.recordCount() != 0 {
		t.Fatalf("safe reveals must not settle")
	}
}

func TestRefreshProfit(t *testing.T) {
	f := newServiceFixture(t, nil, nil)
	f.ledger.profit = dec("42.5")
	profit, err := f.svc.RefreshProfit(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "profit", profit, "42.5")
}
