package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agents-liminals/liminal/internal/clock"
)

// ledgerFactory builds a fresh, empty ledger driven by clk.
type ledgerFactory func(t *testing.T, clk clock.Clock) Ledger

var suiteStart = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func runLedgerSuite(t *testing.T, newLedger ledgerFactory) {
	t.Run("grants until per-resource limit", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		for i := 1; i <= 3; i++ {
			d, err := l.TryReserve(ctx, user, "accordeur", 3, 10)
			require.NoError(t, err)
			require.True(t, d.Granted, "reservation %d", i)
			assert.Equal(t, 3-i, d.Remaining.Resource)
			assert.Equal(t, 10-i, d.Remaining.Aggregate)
		}

		d, err := l.TryReserve(ctx, user, "accordeur", 3, 10)
		require.NoError(t, err)
		assert.False(t, d.Granted)
		assert.Equal(t, ReasonPerResource, d.Reason)
		assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), d.ResetsAt)
	})

	t.Run("aggregate limit spans resources", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		for _, r := range []string{"accordeur", "peseur", "denoueur"} {
			d, err := l.TryReserve(ctx, user, r, 3, 3)
			require.NoError(t, err)
			require.True(t, d.Granted)
		}

		d, err := l.TryReserve(ctx, user, "evideur", 3, 3)
		require.NoError(t, err)
		assert.False(t, d.Granted)
		assert.Equal(t, ReasonAggregate, d.Reason)
	})

	t.Run("per-resource reason wins when both are reached", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		for i := 0; i < 2; i++ {
			_, err := l.TryReserve(ctx, user, "peseur", 2, 2)
			require.NoError(t, err)
		}
		d, err := l.TryReserve(ctx, user, "peseur", 2, 2)
		require.NoError(t, err)
		assert.Equal(t, ReasonPerResource, d.Reason)
	})

	t.Run("users are independent", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()

		a, b := uuid.New(), uuid.New()
		_, err := l.TryReserve(ctx, a, "habitant", 1, 1)
		require.NoError(t, err)

		d, err := l.TryReserve(ctx, b, "habitant", 1, 1)
		require.NoError(t, err)
		assert.True(t, d.Granted)
	})

	t.Run("invalid limits are rejected without touching the store", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		_, err := l.TryReserve(ctx, user, "accordeur", 0, 3)
		assert.ErrorIs(t, err, ErrInvalidLimits)
		_, err = l.TryReserve(ctx, user, "accordeur", 3, 2)
		assert.ErrorIs(t, err, ErrInvalidLimits)
		_, err = l.TryReserve(ctx, user, "", 3, 3)
		assert.ErrorIs(t, err, ErrInvalidLimits)

		day, _ := l.Today()
		usage, err := l.Snapshot(ctx, user, day)
		require.NoError(t, err)
		assert.Equal(t, 0, usage.Total)
	})

	t.Run("midnight rollover starts a new counter", func(t *testing.T) {
		clk := clock.NewFake(time.Date(2026, 3, 10, 23, 59, 59, 900_000_000, time.UTC))
		l := newLedger(t, clk)
		ctx := context.Background()
		user := uuid.New()

		d, err := l.TryReserve(ctx, user, "accordeur", 1, 1)
		require.NoError(t, err)
		require.True(t, d.Granted)
		before, _ := l.Today()

		clk.Advance(200 * time.Millisecond)

		d, err = l.TryReserve(ctx, user, "accordeur", 1, 1)
		require.NoError(t, err)
		require.True(t, d.Granted)
		after, _ := l.Today()

		assert.Equal(t, Day("2026-03-10"), before)
		assert.Equal(t, Day("2026-03-11"), after)

		for _, day := range []Day{before, after} {
			usage, err := l.Snapshot(ctx, user, day)
			require.NoError(t, err)
			assert.Equal(t, 1, usage.Total)
			assert.Equal(t, 1, usage.Used("accordeur"))
		}
	})

	t.Run("snapshot sums match total", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		for _, r := range []string{"accordeur", "accordeur", "peseur"} {
			_, err := l.TryReserve(ctx, user, r, 3, 10)
			require.NoError(t, err)
		}

		day, _ := l.Today()
		usage, err := l.Snapshot(ctx, user, day)
		require.NoError(t, err)
		assert.Equal(t, 2, usage.Used("accordeur"))
		assert.Equal(t, 1, usage.Used("peseur"))
		assert.Equal(t, 0, usage.Used("habitant"))

		sum := 0
		for _, n := range usage.PerResource {
			sum += n
		}
		assert.Equal(t, usage.Total, sum)
	})

	t.Run("concurrent reservations never overspend", func(t *testing.T) {
		l := newLedger(t, clock.NewFake(suiteStart))
		ctx := context.Background()
		user := uuid.New()

		const (
			workers = 64
			limit   = 5
		)

		var (
			grantedCount atomic.Int32
			deniedCount  atomic.Int32
			wg           sync.WaitGroup
			start        = make(chan struct{})
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				d, err := l.TryReserve(ctx, user, "accordeur", limit, limit)
				if err != nil {
					t.Error(err)
					return
				}
				if d.Granted {
					grantedCount.Add(1)
				} else {
					deniedCount.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(limit), grantedCount.Load())
		assert.Equal(t, int32(workers-limit), deniedCount.Load())

		day, _ := l.Today()
		usage, err := l.Snapshot(ctx, user, day)
		require.NoError(t, err)
		assert.Equal(t, limit, usage.Total)
		assert.Equal(t, limit, usage.Used("accordeur"))
	})
}
