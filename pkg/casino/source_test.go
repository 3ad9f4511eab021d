package casino

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestWithRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("transient failures", func(t *testing.T) {
		var calls int
		src := OutcomeSourceFunc(func(context.Context, GameKey) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("timeout")
			}
			return 3, nil
		})
		v, err := WithRetry(src, 3, time.Millisecond).Roll(ctx, GameDice)
		if err != nil {
			t.Fatalf("Roll: %v", err)
		}
		if v != 3 || calls != 3 {
			t.Fatalf("value = %d, calls = %d", v, calls)
		}
	})

	t.Run("out of range values are redrawn", func(t *testing.T) {
		src, calls := sequence(9, 0, 5)
		v, err := WithRetry(src, 3, 0).Roll(ctx, GameBall)
		if err != nil {
			t.Fatalf("Roll: %v", err)
		}
		if v != 5 || *calls != 3 {
			t.Fatalf("value = %d, calls = %d", v, *calls)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		var calls int
		src := OutcomeSourceFunc(func(context.Context, GameKey) (int, error) {
			calls++
			return 0, errors.New("telegram is down")
		})
		_, err := WithRetry(src, 2, time.Millisecond).Roll(ctx, GameDice)
		if !errors.Is(err, ErrOutcomeSourceUnavailable) {
			t.Fatalf("err = %v, want ErrOutcomeSourceUnavailable", err)
		}
		if calls < 2 || calls > 3 {
			t.Fatalf("calls = %d", calls)
		}
	})

	t.Run("uncertain failure is not retried", func(t *testing.T) {
		var calls int
		src := OutcomeSourceFunc(func(context.Context, GameKey) (int, error) {
			calls++
			return 0, fmt.Errorf("%w: response timeout", ErrOutcomeUncertain)
		})
		_, err := WithRetry(src, 3, time.Millisecond).Roll(ctx, GameDice)
		if !errors.Is(err, ErrOutcomeSourceUnavailable) || !errors.Is(err, ErrOutcomeUncertain) {
			t.Fatalf("err = %v", err)
		}
		if calls != 1 {
			t.Fatalf("calls = %d, want 1", calls)
		}
	})

	t.Run("unknown game", func(t *testing.T) {
		src, calls := sequence(1)
		if _, err := WithRetry(src, 2, 0).Roll(ctx, GameMines); !errors.Is(err, ErrOutcomeSourceUnavailable) {
			t.Fatalf("err = %v, want ErrOutcomeSourceUnavailable", err)
		}
		if *calls != 0 {
			t.Fatalf("source must not be called, calls = %d", *calls)
		}
	})
}

func TestRandomSourceProperty(t *testing.T) {
	games := []GameKey{GameDice, GameDarts, GameBall, GameBasket}

	rapid.Check(t, func(t *rapid.T) {
		game := rapid.SampledFrom(games).Draw(t, "game")
		seed := rapid.Uint64().Draw(t, "seed")

		src := RandomSource{Rand: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
		v, err := src.Roll(context.Background(), game)
		if err != nil {
			t.Fatal(err)
		}
		possible, _ := PossibleValues(game)
		if !possible.Contains(v) {
			t.Fatalf("%s rolled %d", game, v)
		}
	})
}

func TestRandomSourceUnknownGame(t *testing.T) {
	if _, err := (RandomSource{}).Roll(context.Background(), GameMines); !errors.Is(err, ErrOutcomeSourceUnavailable) {
		t.Fatalf("err = %v, want ErrOutcomeSourceUnavailable", err)
	}
}
