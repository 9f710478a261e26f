package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/audit"
	"github.com/agents-liminals/liminal/internal/consultation"
	inats "github.com/agents-liminals/liminal/internal/nats"
	"github.com/agents-liminals/liminal/internal/quota"
)

// AggregateLimit is the user's daily allowance across all agents.
type AggregateLimit struct {
	Limit     int `json:"limit"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// ResourceLimit is the user's daily allowance for one agent.
type ResourceLimit struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Limits is a read-only view of today's counters. It is not used to
// decide reservations.
type Limits struct {
	Aggregate   AggregateLimit           `json:"aggregate"`
	PerResource map[string]ResourceLimit `json:"per_resource"`
	Day         quota.Day                `json:"day"`
	ResetsAt    time.Time                `json:"resets_at"`
}

// Limits returns today's usage for every active agent.
func (o *Orchestrator) Limits(ctx context.Context, userID uuid.UUID) (*Limits, error) {
	aggLimit, err := o.plans.DailyLimit(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolving daily limit: %w", err)
	}

	day, resetsAt := o.ledger.Today()
	usage, err := o.ledger.Snapshot(ctx, userID, day)
	if err != nil {
		return nil, err
	}

	limits := &Limits{
		Aggregate: AggregateLimit{
			Limit:     aggLimit,
			Used:      usage.Total,
			Remaining: max(aggLimit-usage.Total, 0),
		},
		PerResource: map[string]ResourceLimit{},
		Day:         day,
		ResetsAt:    resetsAt,
	}
	for _, a := range o.router.Agents() {
		if !a.Active {
			continue
		}
		limit := min(a.DailyLimit, aggLimit)
		used := usage.Used(a.Name)
		limits.PerResource[a.Name] = ResourceLimit{
			Limit:     limit,
			Used:      used,
			Remaining: max(limit-used, 0),
			ResetsAt:  resetsAt,
		}
	}
	return limits, nil
}

// History lists the user's consultations, newest first.
func (o *Orchestrator) History(ctx context.Context, filter consultation.Filter) ([]consultation.Record, int64, error) {
	filter.Normalize()
	return o.repo.Find(ctx, filter)
}

// Stats summarizes the user's stored consultations.
func (o *Orchestrator) Stats(ctx context.Context, filter consultation.StatsFilter) (*consultation.Stats, error) {
	return o.repo.Stats(ctx, filter)
}

// Get returns one of the user's consultations. It returns
// consultation.ErrNotFound when the record does not exist or belongs to
// someone else.
func (o *Orchestrator) Get(ctx context.Context, userID, id uuid.UUID) (*consultation.Record, error) {
	rec, err := o.repo.GetByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, consultation.ErrNotFound
	}
	return rec, nil
}

// Rate stores the user's rating of a completed consultation. It returns
// consultation.ErrNotFound, ErrNotCompleted or ErrAlreadyRated when the
// rating is refused.
func (o *Orchestrator) Rate(ctx context.Context, userID, id uuid.UUID, score int, feedback string) (*consultation.Rating, error) {
	rating := consultation.Rating{
		Score:    score,
		Feedback: feedback,
		RatedAt:  o.clock.Now().UTC(),
	}
	if err := o.repo.Rate(ctx, userID, id, rating); err != nil {
		return nil, err
	}

	o.publishAudit(ctx, inats.AuditEvent{
		OwnerUserID:  userID,
		EventType:    audit.EventConsultationRated,
		Severity:     "info",
		ResourceType: "consultation",
		ResourceID:   id.String(),
		Details:      map[string]any{"score": score},
	})
	return &rating, nil
}
