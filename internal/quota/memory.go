package quota

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const shardCount = 32

// MemoryLedger keeps counters in-process, sharded by (user, day) so that
// unrelated users never contend on the same lock.
type MemoryLedger struct {
	opts   options
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu   sync.Mutex
	rows map[rowKey]*counterRow
}

type rowKey struct {
	userID uuid.UUID
	day    Day
}

type counterRow struct {
	perResource map[string]int
	total       int
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Purger = (*MemoryLedger)(nil)
)

// NewMemoryLedger creates an in-process ledger.
func NewMemoryLedger(opts ...Option) *MemoryLedger {
	l := &MemoryLedger{opts: buildOptions(opts)}
	for i := range l.shards {
		l.shards[i].rows = make(map[rowKey]*counterRow)
	}
	return l
}

func (l *MemoryLedger) shard(k rowKey) *memoryShard {
	h := fnv.New32a()
	h.Write(k.userID[:])
	h.Write([]byte(k.day))
	return &l.shards[h.Sum32()%shardCount]
}

func (l *MemoryLedger) Today() (Day, time.Time) {
	return l.opts.today()
}

func (l *MemoryLedger) TryReserve(ctx context.Context, userID uuid.UUID, resource string, perLimit, aggLimit int) (Decision, error) {
	if err := validateLimits(resource, perLimit, aggLimit); err != nil {
		return Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, unavailable("reserving in memory", err)
	}

	day, resetsAt := l.opts.today()
	k := rowKey{userID: userID, day: day}
	s := l.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[k]
	if !ok {
		row = &counterRow{perResource: make(map[string]int)}
		s.rows[k] = row
	}

	if reason, ok := deny(row.perResource[resource], row.total, perLimit, aggLimit); ok {
		return denied(reason, resetsAt), nil
	}

	row.perResource[resource]++
	row.total++
	return granted(perLimit, aggLimit, row.perResource[resource], row.total, resetsAt), nil
}

func (l *MemoryLedger) Snapshot(ctx context.Context, userID uuid.UUID, day Day) (Usage, error) {
	if err := ctx.Err(); err != nil {
		return Usage{}, unavailable("reading memory snapshot", err)
	}

	k := rowKey{userID: userID, day: day}
	s := l.shard(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	usage := emptyUsage(userID, day)
	if row, ok := s.rows[k]; ok {
		for name, n := range row.perResource {
			usage.PerResource[name] = n
		}
		usage.Total = row.total
	}
	return usage, nil
}

// PurgeBefore drops rows older than day. Day strings sort chronologically.
func (l *MemoryLedger) PurgeBefore(_ context.Context, day Day) (int64, error) {
	var removed int64
	for i := range l.shards {
		s := &l.shards[i]
		s.mu.Lock()
		for k := range s.rows {
			if k.day < day {
				delete(s.rows, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed, nil
}
