package consultation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RecentLimit caps Stats.Recent.
const RecentLimit = 20

// StatsFilter selects the consultations a summary is computed over.
type StatsFilter struct {
	UserID uuid.UUID
	From   *time.Time
	To     *time.Time
}

// AgentStats summarizes one agent's consultations for a user.
type AgentStats struct {
	Agent         string    `json:"agent"`
	Total         int64     `json:"total"`
	Completed     int64     `json:"completed"`
	Rated         int64     `json:"rated"`
	AverageRating *float64  `json:"average_rating,omitempty"`
	LastAt        time.Time `json:"last_at"`
}

// Activity is one entry of the recent terminal consultations.
type Activity struct {
	ID        uuid.UUID `json:"id"`
	Agent     string    `json:"agent"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	Rating    *int      `json:"rating,omitempty"`
}

// Stats is a per-user summary of stored consultations.
type Stats struct {
	Total     int64           `json:"total"`
	Completed int64           `json:"completed"`
	ByState   map[State]int64 `json:"by_state"`
	ByAgent   []AgentStats    `json:"by_agent"`
	Recent    []Activity      `json:"recent"`
}

func statsWhere(filter StatsFilter) (string, []any) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *filter.From)
		argIdx++
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *filter.To)
	}
	return strings.Join(conditions, " AND "), args
}

func (r *postgresRepository) Stats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	where, args := statsWhere(filter)
	stats := &Stats{ByState: map[State]int64{}, ByAgent: []AgentStats{}, Recent: []Activity{}}

	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM consultations WHERE `+where+` GROUP BY state`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting consultations by state: %w", err)
	}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning state count: %w", err)
		}
		stats.ByState[State(state)] = n
		stats.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state counts: %w", err)
	}
	stats.Completed = stats.ByState[StateCompleted]

	rows, err = r.pool.Query(ctx, `
		SELECT agent,
			COUNT(*),
			COUNT(*) FILTER (WHERE state = 'completed'),
			COUNT(rating_score),
			AVG(rating_score)::float8,
			MAX(created_at)
		FROM consultations WHERE `+where+`
		GROUP BY agent
		ORDER BY COUNT(*) DESC, agent`, args...)
	if err != nil {
		return nil, fmt.Errorf("counting consultations by agent: %w", err)
	}
	for rows.Next() {
		var a AgentStats
		if err := rows.Scan(&a.Agent, &a.Total, &a.Completed, &a.Rated, &a.AverageRating, &a.LastAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning agent stats: %w", err)
		}
		stats.ByAgent = append(stats.ByAgent, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent stats: %w", err)
	}

	rows, err = r.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, agent, state, created_at, rating_score
		FROM consultations WHERE %s AND state IN ('completed', 'failed')
		ORDER BY created_at DESC
		LIMIT %d`, where, RecentLimit), args...)
	if err != nil {
		return nil, fmt.Errorf("querying recent consultations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a     Activity
			state string
			score *int16
		)
		if err := rows.Scan(&a.ID, &a.Agent, &state, &a.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scanning recent consultation: %w", err)
		}
		a.State = State(state)
		if score != nil {
			s := int(*score)
			a.Rating = &s
		}
		stats.Recent = append(stats.Recent, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating recent consultations: %w", err)
	}
	return stats, nil
}
