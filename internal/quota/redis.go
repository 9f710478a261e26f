package quota

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	totalField     = "total"
	resourcePrefix = "r:"
)

// RedisLedger stores one hash per (user, day): a field per resource
// (prefixed "r:") plus "total". Keys expire after the retention window.
type RedisLedger struct {
	client redis.Cmdable
	opts   options
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client redis.Cmdable, opts ...Option) *RedisLedger {
	return &RedisLedger{client: client, opts: buildOptions(opts)}
}

func (l *RedisLedger) key(userID uuid.UUID, day Day) string {
	return l.opts.keyPrefix + userID.String() + ":" + string(day)
}

// reserveScript checks and increments in one step.
// KEYS[1] = counter hash
// ARGV[1] = resource field
// ARGV[2] = per-resource limit
// ARGV[3] = aggregate limit
// ARGV[4] = ttl seconds
//
// Returns {granted, reason, used, total}; reason is 1 for the
// per-resource limit and 2 for the aggregate limit.
var reserveScript = redis.NewScript(`
local key = KEYS[1]
local field = ARGV[1]
local per_limit = tonumber(ARGV[2])
local agg_limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local used = tonumber(redis.call("HGET", key, field) or "0")
local total = tonumber(redis.call("HGET", key, "total") or "0")

if used >= per_limit then
    return {0, 1, used, total}
end
if total >= agg_limit then
    return {0, 2, used, total}
end

used = redis.call("HINCRBY", key, field, 1)
total = redis.call("HINCRBY", key, "total", 1)
if ttl > 0 then
    redis.call("EXPIRE", key, ttl)
end
return {1, 0, used, total}
`)

func (l *RedisLedger) Today() (Day, time.Time) {
	return l.opts.today()
}

func (l *RedisLedger) TryReserve(ctx context.Context, userID uuid.UUID, resource string, perLimit, aggLimit int) (Decision, error) {
	if err := validateLimits(resource, perLimit, aggLimit); err != nil {
		return Decision{}, err
	}

	day, resetsAt := l.opts.today()
	ttl := int64(l.opts.retention / time.Second)

	res, err := reserveScript.Run(ctx, l.client,
		[]string{l.key(userID, day)},
		resourcePrefix+resource, perLimit, aggLimit, ttl,
	).Int64Slice()
	if err != nil {
		return Decision{}, unavailable("running reserve script", err)
	}
	if len(res) != 4 {
		return Decision{}, unavailable("running reserve script", fmt.Errorf("unexpected reply length %d", len(res)))
	}

	if res[0] == 0 {
		reason := ReasonPerResource
		if res[1] == 2 {
			reason = ReasonAggregate
		}
		return denied(reason, resetsAt), nil
	}
	return granted(perLimit, aggLimit, int(res[2]), int(res[3]), resetsAt), nil
}

func (l *RedisLedger) Snapshot(ctx context.Context, userID uuid.UUID, day Day) (Usage, error) {
	fields, err := l.client.HGetAll(ctx, l.key(userID, day)).Result()
	if err != nil {
		return Usage{}, unavailable("reading redis snapshot", err)
	}

	usage := emptyUsage(userID, day)
	for field, raw := range fields {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Usage{}, unavailable("reading redis snapshot", fmt.Errorf("field %s: %w", field, err))
		}
		switch {
		case field == totalField:
			usage.Total = n
		case strings.HasPrefix(field, resourcePrefix):
			usage.PerResource[strings.TrimPrefix(field, resourcePrefix)] = n
		}
	}
	return usage, nil
}
