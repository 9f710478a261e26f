// Package orchestrator runs a consultation end to end: validation, quota
// reservation, webhook generation with retries, and persistence.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/agents"
	"github.com/agents-liminals/liminal/internal/audit"
	"github.com/agents-liminals/liminal/internal/clock"
	"github.com/agents-liminals/liminal/internal/consultation"
	"github.com/agents-liminals/liminal/internal/generation"
	"github.com/agents-liminals/liminal/internal/metrics"
	inats "github.com/agents-liminals/liminal/internal/nats"
	"github.com/agents-liminals/liminal/internal/quota"
	"github.com/agents-liminals/liminal/internal/retry"
)

const persistTimeout = 5 * time.Second

// Generator produces the consultation text for one attempt.
type Generator interface {
	Invoke(ctx context.Context, webhookURL string, req generation.Request) (generation.Response, error)
}

// PlanLookup returns a user's aggregate daily limit.
type PlanLookup interface {
	DailyLimit(ctx context.Context, userID uuid.UUID) (int, error)
}

// EventPublisher receives consultation and audit events.
type EventPublisher interface {
	PublishConsultationEvent(ctx context.Context, event inats.ConsultationEvent) error
	PublishAuditEvent(ctx context.Context, event inats.AuditEvent) error
}

// Submission is one consultation request.
type Submission struct {
	UserID   uuid.UUID
	Agent    string
	Input    consultation.Input
	Metadata consultation.Metadata
}

// Orchestrator coordinates a submission across the ledger, the retrying
// caller and the repository. It holds no per-request state.
type Orchestrator struct {
	router    *Router
	validator *Validator
	ledger    quota.Ledger
	plans     PlanLookup
	caller    *retry.Caller
	generator Generator
	repo      consultation.Repository
	publisher EventPublisher
	clock     clock.Clock
	logger    *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPublisher sets where events go. Without it events are dropped.
func WithPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithClock sets the clock used for record timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	router *Router,
	ledger quota.Ledger,
	plans PlanLookup,
	caller *retry.Caller,
	generator Generator,
	repo consultation.Repository,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		router:    router,
		validator: NewValidator(),
		ledger:    ledger,
		plans:     plans,
		caller:    caller,
		generator: generator,
		repo:      repo,
		clock:     clock.Real(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit runs one consultation. On success the completed record is
// returned. Every failure is a *SubmissionError; once a record exists it
// is returned alongside the error in its terminal state. Quota is
// consumed once a reservation is granted and is never given back.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (*consultation.Record, error) {
	sub.Input = Normalize(sub.Input)
	if err := o.validator.Validate(sub.Agent, sub.Input); err != nil {
		return nil, err
	}
	agent, err := o.router.Route(sub.Agent)
	if err != nil {
		return nil, err
	}

	if err := o.reserve(ctx, sub, agent); err != nil {
		return nil, err
	}

	rec := consultation.New(sub.UserID, agent.Name, sub.Input, sub.Metadata, o.clock.Now())
	rec.Start()
	logger := o.logger.With("consultation_id", rec.ID, "agent", agent.Name, "user_id", sub.UserID)

	out, err := retry.Call(ctx, o.caller, o.operation(agent, rec),
		lifecycleObserver{rec: rec},
		retry.LogObserver{Logger: logger},
	)

	now := o.clock.Now()
	var serr *SubmissionError
	switch {
	case err == nil:
		rec.Complete(consultation.Output{
			Text:        out.Text,
			Signature:   out.Signature,
			SessionID:   out.SessionID,
			ExecutionID: out.ExecutionID,
		}, now)

	case errors.Is(err, retry.ErrCancelled) && errors.Is(err, context.DeadlineExceeded):
		rec.Fail("deadline exceeded", now)
		serr = &SubmissionError{Kind: KindCancelled, Reason: ReasonDeadlineExceeded, RecordID: rec.ID, Err: err}

	case errors.Is(err, retry.ErrCancelled):
		rec.Cancel("cancelled by caller", now)
		serr = &SubmissionError{Kind: KindCancelled, Reason: string(KindCancelled), RecordID: rec.ID, Err: err}

	default:
		rec.Fail(err.Error(), now)
		serr = &SubmissionError{Kind: KindGenerationFailed, Reason: string(KindGenerationFailed), RecordID: rec.ID, Err: err}
	}

	o.finish(ctx, rec, logger)

	if serr != nil {
		return rec, serr
	}
	return rec, nil
}

// stopped returns a KindCancelled error once ctx has ended, nil before.
// A store error seen after the caller left is the caller's stop, not an
// outage.
func stopped(ctx context.Context) *SubmissionError {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	reason := string(KindCancelled)
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonDeadlineExceeded
	}
	return &SubmissionError{Kind: KindCancelled, Reason: reason, Err: err}
}

func (o *Orchestrator) reserve(ctx context.Context, sub Submission, agent agents.Agent) error {
	if serr := stopped(ctx); serr != nil {
		return serr
	}

	aggLimit, err := o.plans.DailyLimit(ctx, sub.UserID)
	if err != nil {
		if serr := stopped(ctx); serr != nil {
			return serr
		}
		metrics.QuotaDecisionsTotal.WithLabelValues(agent.Name, "error").Inc()
		return &SubmissionError{Kind: KindQuotaUnavailable, Reason: string(KindQuotaUnavailable), Err: err}
	}
	perLimit := min(agent.DailyLimit, aggLimit)

	decision, err := o.ledger.TryReserve(ctx, sub.UserID, agent.Name, perLimit, aggLimit)
	if err != nil {
		if serr := stopped(ctx); serr != nil {
			return serr
		}
		metrics.QuotaDecisionsTotal.WithLabelValues(agent.Name, "error").Inc()
		o.logger.Error("reserving quota", "error", err, "user_id", sub.UserID, "agent", agent.Name)
		return &SubmissionError{Kind: KindQuotaUnavailable, Reason: string(KindQuotaUnavailable), Err: err}
	}

	if !decision.Granted {
		metrics.QuotaDecisionsTotal.WithLabelValues(agent.Name, string(decision.Reason)).Inc()
		o.publishAudit(ctx, inats.AuditEvent{
			OwnerUserID:  sub.UserID,
			EventType:    audit.EventQuotaDenied,
			Severity:     "warn",
			ResourceType: "agent",
			ResourceID:   agent.Name,
			Details: map[string]any{
				"reason":    decision.Reason,
				"resets_at": decision.ResetsAt.UTC(),
			},
			IPAddress: sub.Metadata.IPAddress,
		})
		return &SubmissionError{
			Kind:     KindQuotaExceeded,
			Reason:   string(decision.Reason),
			ResetsAt: decision.ResetsAt,
		}
	}

	metrics.QuotaDecisionsTotal.WithLabelValues(agent.Name, "granted").Inc()
	return nil
}

func (o *Orchestrator) operation(agent agents.Agent, rec *consultation.Record) retry.Operation[generation.Response] {
	req := generation.Request{
		Situation:      rec.Situation,
		Context:        rec.Context,
		UserID:         rec.UserID.String(),
		ConsultationID: rec.ID.String(),
		Agent:          agent.Name,
	}
	return func(ctx context.Context, _ int) (generation.Response, error) {
		// An abandoned attempt may still be running, so each one gets a copy.
		attemptReq := req
		attemptReq.Timestamp = o.clock.Now().UTC()
		return o.generator.Invoke(ctx, agent.WebhookURL, attemptReq)
	}
}

// finish persists the terminal record and emits its events. It runs on a
// context detached from the request so a cancelled caller still gets
// its record stored.
func (o *Orchestrator) finish(ctx context.Context, rec *consultation.Record, logger *slog.Logger) {
	metrics.ConsultationsTotal.WithLabelValues(rec.Agent, string(rec.State)).Inc()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := o.repo.Save(saveCtx, rec); err != nil {
		logger.Error("persisting consultation", "error", err, "state", rec.State)
	}

	logger.Info("consultation finished",
		"state", rec.State,
		"attempts", rec.AttemptCount,
		"processing_ms", rec.ProcessingMS,
	)

	if o.publisher == nil {
		return
	}
	event := inats.ConsultationEvent{
		ConsultationID: rec.ID,
		UserID:         rec.UserID,
		Agent:          rec.Agent,
		State:          string(rec.State),
		AttemptCount:   rec.AttemptCount,
		ProcessingMS:   rec.ProcessingMS,
		Error:          rec.LastError,
		Timestamp:      o.clock.Now().UTC(),
	}
	if err := o.publisher.PublishConsultationEvent(saveCtx, event); err != nil {
		logger.Warn("publishing consultation event", "error", err)
	}

	severity := "info"
	if rec.State != consultation.StateCompleted {
		severity = "warn"
	}
	o.publishAudit(saveCtx, inats.AuditEvent{
		OwnerUserID:  rec.UserID,
		EventType:    "consultation_" + string(rec.State),
		Severity:     severity,
		ResourceType: "consultation",
		ResourceID:   rec.ID.String(),
		Details: map[string]any{
			"agent":         rec.Agent,
			"attempts":      rec.AttemptCount,
			"processing_ms": rec.ProcessingMS,
		},
		IPAddress: rec.Metadata.IPAddress,
	})
}

// publishAudit publishes best effort on a detached context.
func (o *Orchestrator) publishAudit(ctx context.Context, event inats.AuditEvent) {
	if o.publisher == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = o.clock.Now().UTC()
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := o.publisher.PublishAuditEvent(pubCtx, event); err != nil {
		o.logger.Warn("publishing audit event", "error", err, "event_type", event.EventType)
	}
}
