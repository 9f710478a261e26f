// Package quota implements the daily consultation ledger: per user and
// calendar day, one counter per resource plus an aggregate total, all
// mutated through a single atomic check-and-increment.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/clock"
)

var (
	// ErrUnavailable wraps every storage failure. Callers must not assume
	// anything about the reservation state when they see it.
	ErrUnavailable = errors.New("quota unavailable")

	ErrInvalidLimits = errors.New("invalid quota limits")
)

// Ledger decides and records daily consumption.
type Ledger interface {
	// TryReserve atomically consumes one unit of resource for userID on
	// the current day if both limits allow it.
	TryReserve(ctx context.Context, userID uuid.UUID, resource string, perResourceLimit, aggregateLimit int) (Decision, error)

	// Snapshot returns the counters for userID on day. It must not be
	// used to gate reservations.
	Snapshot(ctx context.Context, userID uuid.UUID, day Day) (Usage, error)

	// Today returns the current day and the time it ends.
	Today() (Day, time.Time)
}

// Purger removes counter rows for days strictly before the given day.
type Purger interface {
	PurgeBefore(ctx context.Context, day Day) (int64, error)
}

// Option configures a ledger backend.
type Option func(*options)

type options struct {
	clock     clock.Clock
	location  *time.Location
	keyPrefix string
	retention time.Duration
}

// WithClock sets the clock used to compute the current day.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLocation sets the timezone whose midnight starts a new day.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// WithKeyPrefix sets the Redis key prefix (default "liminal:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// WithRetention sets how long Redis keeps a day's counters.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.retention = d }
}

func buildOptions(opts []Option) options {
	o := options{
		clock:     clock.Real(),
		location:  time.UTC,
		keyPrefix: "liminal:quota:",
		retention: 60 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) today() (Day, time.Time) {
	now := o.clock.Now()
	return DayOf(now, o.location), NextReset(now, o.location)
}

func validateLimits(resource string, perLimit, aggLimit int) error {
	if resource == "" {
		return fmt.Errorf("%w: empty resource name", ErrInvalidLimits)
	}
	if perLimit < 1 {
		return fmt.Errorf("%w: per-resource limit %d < 1", ErrInvalidLimits, perLimit)
	}
	if aggLimit < perLimit {
		return fmt.Errorf("%w: aggregate limit %d < per-resource limit %d", ErrInvalidLimits, aggLimit, perLimit)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
