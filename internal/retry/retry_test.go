package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cardvault/dualrepo/pkg/constants"
)

func TestExponentialBackoff(t *testing.T) {
	t.Run("without jitter", func(t *testing.T) {
		r := &ExponentialBackoff{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     1 * time.Second,
			Multiplier:   2.0,
			MaxRetries:   6,
		}

		delay, ok := r.NextDelay(0, nil)
		assert.True(t, ok)
		assert.Equal(t, 100*time.Millisecond, delay)

		delay, _ = r.NextDelay(2, nil)
		assert.Equal(t, 400*time.Millisecond, delay)

		// capped
		delay, _ = r.NextDelay(5, nil)
		assert.Equal(t, 1*time.Second, delay)

		_, ok = r.NextDelay(6, nil)
		assert.False(t, ok)
	})

	t.Run("with jitter", func(t *testing.T) {
		r := NewExponentialBackoff()
		for i := 0; i < 20; i++ {
			delay, ok := r.NextDelay(0, nil)
			assert.True(t, ok)
			assert.GreaterOrEqual(t, delay, 35*time.Millisecond) // 50ms - 30%
			assert.LessOrEqual(t, delay, 65*time.Millisecond)    // 50ms + 30%
		}
	})
}

func TestDo(t *testing.T) {
	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Fixed{MaxRetries: 3}, func(context.Context) error {
			calls++
			if calls < 3 {
				return constants.Transient(errors.New("throttled"))
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on permanent errors", func(t *testing.T) {
		calls := 0
		permanent := errors.New("bad request")
		err := Do(context.Background(), Fixed{MaxRetries: 3}, func(context.Context) error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Fixed{MaxRetries: 2}, func(context.Context) error {
			calls++
			return constants.Transient(errors.New("throttled"))
		})
		assert.True(t, constants.IsTransient(err))
		assert.Equal(t, 3, calls)
	})

	t.Run("honors cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := Do(ctx, Fixed{Delay: time.Hour, MaxRetries: 5}, func(context.Context) error {
			calls++
			return constants.Transient(errors.New("throttled"))
		})
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}
