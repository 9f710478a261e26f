package orchestrator

import (
	"github.com/agents-liminals/liminal/internal/consultation"
	"github.com/agents-liminals/liminal/internal/metrics"
	"github.com/agents-liminals/liminal/internal/retry"
)

// lifecycleObserver bumps the record's attempt count before each attempt
// and records attempt metrics. Call invokes it from the submitting
// goroutine, so the record needs no locking.
type lifecycleObserver struct {
	rec *consultation.Record
}

func (o lifecycleObserver) OnAttempt(retry.AttemptStart) {
	o.rec.BeginAttempt()
}

func (o lifecycleObserver) OnResult(e retry.AttemptResult) {
	metrics.GenerationAttemptsTotal.WithLabelValues(o.rec.Agent, string(e.Outcome)).Inc()
	metrics.GenerationAttemptDuration.WithLabelValues(o.rec.Agent).Observe(e.Duration.Seconds())
}
