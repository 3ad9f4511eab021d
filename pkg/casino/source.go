package casino

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// OutcomeSource draws one fresh, independent value for a game.
type OutcomeSource interface {
	Roll(ctx context.Context, game GameKey) (int, error)
}

// OutcomeSourceFunc adapts a function to OutcomeSource.
type OutcomeSourceFunc func(ctx context.Context, game GameKey) (int, error)

func (f OutcomeSourceFunc) Roll(ctx context.Context, game GameKey) (int, error) {
	return f(ctx, game)
}

// Rand is the randomness used by the engine.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

type globalRand struct{}

func (globalRand) IntN(n int) int   { return rand.IntN(n) }
func (globalRand) Float64() float64 { return rand.Float64() }

// DefaultRand uses the goroutine safe top-level math/rand/v2 source.
var DefaultRand Rand = globalRand{}

// RandomSource draws uniformly from PossibleValues.
type RandomSource struct {
	Rand Rand
}

func (s RandomSource) Roll(_ context.Context, game GameKey) (int, error) {
	possible, ok := PossibleValues(game)
	if !ok {
		return 0, fmt.Errorf("%w: no values for %s", ErrOutcomeSourceUnavailable, game)
	}
	r := s.Rand
	if r == nil {
		r = DefaultRand
	}
	return possible[r.IntN(len(possible))], nil
}

// retryingSource retries transient failures and rejects out of range values.
type retryingSource struct {
	src      OutcomeSource
	attempts uint64
	delay    time.Duration
}

// WithRetry wraps src with a bounded constant backoff. When all attempts
// fail the error wraps ErrOutcomeSourceUnavailable. Errors wrapping
// ErrOutcomeUncertain stop the retries at once.
func WithRetry(src OutcomeSource, retries uint64, delay time.Duration) OutcomeSource {
	// NewConstant does not accept a zero interval
	if delay <= 0 {
		delay = time.Millisecond
	}
	return &retryingSource{src: src, attempts: retries, delay: delay}
}

func (s *retryingSource) Roll(ctx context.Context, game GameKey) (int, error) {
	possible, ok := PossibleValues(game)
	if !ok {
		return 0, fmt.Errorf("%w: no values for %s", ErrOutcomeSourceUnavailable, game)
	}

	var value int
	b := retry.WithMaxRetries(s.attempts, retry.NewConstant(s.delay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		v, err := s.src.Roll(ctx, game)
		if errors.Is(err, ErrOutcomeUncertain) {
			return err
		} else if err != nil {
			return retry.RetryableError(err)
		}
		if !possible.Contains(v) {
			return retry.RetryableError(fmt.Errorf("value %d is out of range for %s", v, game))
		}
		value = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOutcomeSourceUnavailable, err)
	}

	return value, nil
}
