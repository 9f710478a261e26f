package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const dayLayout = "2006-01-02"

// Day is a calendar date in the ledger's location, formatted YYYY-MM-DD.
type Day string

// DayOf returns the calendar day containing t in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	return Day(t.In(loc).Format(dayLayout))
}

// ParseDay validates s as a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("parsing day %q: %w", s, err)
	}
	return Day(s), nil
}

// Start returns midnight at the beginning of d in loc.
func (d Day) Start(loc *time.Location) time.Time {
	t, err := time.ParseInLocation(dayLayout, string(d), loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

// AddDays returns the day n days after d (n may be negative).
func (d Day) AddDays(n int) Day {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return Day(t.AddDate(0, 0, n).Format(dayLayout))
}

func (d Day) String() string { return string(d) }

// NextReset returns the next midnight after t in loc.
func NextReset(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}

// Reason explains a denied reservation.
type Reason string

const (
	ReasonPerResource Reason = "per_resource_limit"
	ReasonAggregate   Reason = "aggregate_limit"
)

// Remaining is the headroom left after a granted reservation.
type Remaining struct {
	Resource  int `json:"resource"`
	Aggregate int `json:"aggregate"`
}

// Decision is the outcome of TryReserve. Granted decisions carry the
// remaining headroom; denied ones carry the reason and reset time.
type Decision struct {
	Granted   bool
	Remaining Remaining
	Reason    Reason
	ResetsAt  time.Time
}

func granted(perLimit, aggLimit, used, total int, resetsAt time.Time) Decision {
	return Decision{
		Granted: true,
		Remaining: Remaining{
			Resource:  perLimit - used,
			Aggregate: aggLimit - total,
		},
		ResetsAt: resetsAt,
	}
}

func denied(reason Reason, resetsAt time.Time) Decision {
	return Decision{Reason: reason, ResetsAt: resetsAt}
}

// deny reports whether a reservation must be refused given the current
// counters, checking the per-resource limit before the aggregate one.
func deny(used, total, perLimit, aggLimit int) (Reason, bool) {
	if used >= perLimit {
		return ReasonPerResource, true
	}
	if total >= aggLimit {
		return ReasonAggregate, true
	}
	return "", false
}

// Usage is a read-only view of one (user, day) counter row.
type Usage struct {
	UserID      uuid.UUID      `json:"user_id"`
	Day         Day            `json:"day"`
	PerResource map[string]int `json:"per_resource"`
	Total       int            `json:"total"`
}

// Used returns the count for resource, zero if never reserved.
func (u Usage) Used(resource string) int {
	return u.PerResource[resource]
}

func emptyUsage(userID uuid.UUID, day Day) Usage {
	return Usage{UserID: userID, Day: day, PerResource: map[string]int{}}
}
