package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLedger stores one daily_limits row per (user, day) holding a
// JSONB map of per-resource counts and the total.
type PostgresLedger struct {
	pool *pgxpool.Pool
	opts options
}

var (
	_ Ledger = (*PostgresLedger)(nil)
	_ Purger = (*PostgresLedger)(nil)
)

// NewPostgresLedger creates a PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool, opts ...Option) *PostgresLedger {
	return &PostgresLedger{pool: pool, opts: buildOptions(opts)}
}

// The upsert either creates the row with a first unit or increments an
// existing row only while both limits hold. The row lock taken by
// ON CONFLICT serializes concurrent reservations for the same key.
const reserveQuery = `
	INSERT INTO daily_limits (user_id, day, counts, total)
	VALUES ($1, $2::date, jsonb_build_object($3::text, 1), 1)
	ON CONFLICT (user_id, day) DO UPDATE
	SET counts = jsonb_set(
	        daily_limits.counts,
	        ARRAY[$3::text],
	        to_jsonb(COALESCE((daily_limits.counts ->> $3::text)::int, 0) + 1)),
	    total = daily_limits.total + 1,
	    updated_at = NOW()
	WHERE COALESCE((daily_limits.counts ->> $3::text)::int, 0) < $4
	  AND daily_limits.total < $5
	RETURNING (counts ->> $3::text)::int, total`

func (l *PostgresLedger) Today() (Day, time.Time) {
	return l.opts.today()
}

func (l *PostgresLedger) TryReserve(ctx context.Context, userID uuid.UUID, resource string, perLimit, aggLimit int) (Decision, error) {
	if err := validateLimits(resource, perLimit, aggLimit); err != nil {
		return Decision{}, err
	}

	day, resetsAt := l.opts.today()

	var used, total int
	err := l.pool.QueryRow(ctx, reserveQuery, userID, string(day), resource, perLimit, aggLimit).Scan(&used, &total)
	if err == nil {
		return granted(perLimit, aggLimit, used, total, resetsAt), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Decision{}, unavailable("reserving in postgres", err)
	}

	// The conditional update matched nothing, so a limit was already
	// reached. Counters only grow within a day, so reading them now
	// yields the same reason.
	err = l.pool.QueryRow(ctx,
		`SELECT COALESCE((counts ->> $3::text)::int, 0), total
		 FROM daily_limits WHERE user_id = $1 AND day = $2::date`,
		userID, string(day), resource,
	).Scan(&used, &total)
	if err != nil {
		return Decision{}, unavailable("reading denied row", err)
	}

	reason, _ := deny(used, total, perLimit, aggLimit)
	if reason == "" {
		reason = ReasonAggregate
	}
	return denied(reason, resetsAt), nil
}

func (l *PostgresLedger) Snapshot(ctx context.Context, userID uuid.UUID, day Day) (Usage, error) {
	var (
		raw   []byte
		total int
	)
	err := l.pool.QueryRow(ctx,
		`SELECT counts, total FROM daily_limits WHERE user_id = $1 AND day = $2::date`,
		userID, string(day),
	).Scan(&raw, &total)

	usage := emptyUsage(userID, day)
	if errors.Is(err, pgx.ErrNoRows) {
		return usage, nil
	}
	if err != nil {
		return Usage{}, unavailable("reading postgres snapshot", err)
	}

	if err := json.Unmarshal(raw, &usage.PerResource); err != nil {
		return Usage{}, unavailable("decoding counts", err)
	}
	usage.Total = total
	return usage, nil
}

// PurgeBefore deletes rows for days strictly before day.
func (l *PostgresLedger) PurgeBefore(ctx context.Context, day Day) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM daily_limits WHERE day < $1::date`, string(day))
	if err != nil {
		return 0, fmt.Errorf("purging daily limits: %w", err)
	}
	return tag.RowsAffected(), nil
}
