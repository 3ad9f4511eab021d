package casino

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

// scriptedRand returns queued values. An empty IntN queue yields 0, so mines
// are placed on cells 0..count-1. An empty Float64 queue yields 0.5.
type scriptedRand struct {
	mu     sync.Mutex
	ints   []int
	floats []float64
}

func (r *scriptedRand) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ints) == 0 {
		return 0
	}
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

func (r *scriptedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0.5
	}
	v := r.floats[0]
	r.floats = r.floats[1:]
	return v
}

// sequence rolls values in order and repeats the last one.
func sequence(values ...int) (OutcomeSource, *int) {
	var calls int
	var mu sync.Mutex
	return OutcomeSourceFunc(func(context.Context, GameKey) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		i := calls
		if i >= len(values) {
			i = len(values) - 1
		}
		calls++
		return values[i], nil
	}), &calls
}

func failingSource(err error) OutcomeSource {
	return OutcomeSourceFunc(func(context.Context, GameKey) (int, error) {
		return 0, err
	})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t testing.TB, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got.String(), want)
	}
}

func defaultRegistry(t testing.TB) *Registry {
	t.Helper()
	r, err := NewRegistry(DefaultRules()...)
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	return r
}

// memLedger is an in-memory Ledger, Settler and ProfitSource.
type memLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	records  map[string]*BetRecord
	order    []string

	// failBefore fails the given number of Settle calls before applying.
	failBefore int
	// failAfter applies the settlement and then reports an error this many times.
	failAfter int
	settles   int

	profit    decimal.Decimal
	profitErr error
}

func newMemLedger(balances map[int64]string) *memLedger {
	l := &memLedger{balances: map[int64]decimal.Decimal{}, records: map[string]*BetRecord{}}
	for id, b := range balances {
		l.balances[id] = dec(b)
	}
	return l
}

func (l *memLedger) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[userID]
	if !ok {
		return decimal.Zero, ErrUnknownUser
	}
	return b, nil
}

func (l *memLedger) Settle(_ context.Context, s Settlement) (*BetRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settles++

	if l.failBefore > 0 {
		l.failBefore--
		return nil, errors.New("connection reset")
	}
	if _, ok := l.records[s.BetID]; ok {
		return nil, ErrAlreadySettled
	}
	b, ok := l.balances[s.UserID]
	if !ok {
		return nil, ErrUnknownUser
	}

	b = b.Add(s.Net())
	l.balances[s.UserID] = b
	rec := &BetRecord{
		ID:             len(l.order) + 1,
		BetID:          s.BetID,
		UserID:         s.UserID,
		Game:           s.Game,
		BetType:        s.BetType,
		Target:         s.Target,
		Stake:          s.Stake,
		MultiplierUsed: s.Multiplier,
		ResultValue:    s.ResultValue,
		NetPayout:      s.Net(),
		Result:         s.Result(),
		Balance:        b,
	}
	l.records[s.BetID] = rec
	l.order = append(l.order, s.BetID)

	if l.failAfter > 0 {
		l.failAfter--
		return nil, errors.New("commit acknowledgement lost")
	}
	return rec, nil
}

func (l *memLedger) HouseProfit(context.Context) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.profit, l.profitErr
}

func (l *memLedger) balance(userID int64) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

func (l *memLedger) recordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *memLedger) last() *BetRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) == 0 {
		return nil
	}
	return l.records[l.order[len(l.order)-1]]
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []*BetRecord
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, rec *BetRecord) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, rec)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.records)
}
