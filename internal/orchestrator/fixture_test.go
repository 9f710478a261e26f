package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agents-liminals/liminal/internal/agents"
	"github.com/agents-liminals/liminal/internal/clock"
	"github.com/agents-liminals/liminal/internal/consultation"
	"github.com/agents-liminals/liminal/internal/generation"
	inats "github.com/agents-liminals/liminal/internal/nats"
	"github.com/agents-liminals/liminal/internal/quota"
	"github.com/agents-liminals/liminal/internal/retry"
)

const testCatalog = `
agents:
  - name: accordeur
    daily_limit: 3
  - name: peseur
    daily_limit: 3
  - name: dormant
    active: false
`

var testDay = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedPlan int

func (p fixedPlan) DailyLimit(context.Context, uuid.UUID) (int, error) { return int(p), nil }

type memRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]consultation.Record
	saves   int
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[uuid.UUID]consultation.Record{}}
}

func (r *memRepo) Save(_ context.Context, rec *consultation.Record) error {
	if !rec.State.Terminal() {
		return consultation.ErrNotTerminal
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	r.records[rec.ID] = *rec
	return nil
}

func (r *memRepo) GetByID(_ context.Context, userID, id uuid.UUID) (*consultation.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.UserID != userID {
		return nil, nil
	}
	return &rec, nil
}

func (r *memRepo) Find(_ context.Context, f consultation.Filter) ([]consultation.Record, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []consultation.Record
	for _, rec := range r.records {
		if rec.UserID != f.UserID {
			continue
		}
		if f.Agent != "" && rec.Agent != f.Agent {
			continue
		}
		if f.State != "" && rec.State != f.State {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	start := min((f.Page-1)*f.PageSize, len(out))
	end := min(start+f.PageSize, len(out))
	return out[start:end], total, nil
}

func (r *memRepo) Rate(_ context.Context, userID, id uuid.UUID, rating consultation.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	switch {
	case !ok || rec.UserID != userID:
		return consultation.ErrNotFound
	case rec.State != consultation.StateCompleted:
		return consultation.ErrNotCompleted
	case rec.Rating != nil:
		return consultation.ErrAlreadyRated
	}
	rec.Rating = &rating
	r.records[id] = rec
	return nil
}

func (r *memRepo) Stats(_ context.Context, f consultation.StatsFilter) (*consultation.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var recs []consultation.Record
	for _, rec := range r.records {
		if rec.UserID != f.UserID ||
			(f.From != nil && rec.CreatedAt.Before(*f.From)) ||
			(f.To != nil && rec.CreatedAt.After(*f.To)) {
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })

	stats := &consultation.Stats{ByState: map[consultation.State]int64{}, ByAgent: []consultation.AgentStats{}, Recent: []consultation.Activity{}}
	byAgent := map[string]*consultation.AgentStats{}
	ratingSum := map[string]int{}
	for _, rec := range recs {
		stats.Total++
		stats.ByState[rec.State]++
		a, ok := byAgent[rec.Agent]
		if !ok {
			a = &consultation.AgentStats{Agent: rec.Agent, LastAt: rec.CreatedAt}
			byAgent[rec.Agent] = a
		}
		a.Total++
		if rec.State == consultation.StateCompleted {
			a.Completed++
		}
		activity := consultation.Activity{ID: rec.ID, Agent: rec.Agent, State: rec.State, CreatedAt: rec.CreatedAt}
		if rec.Rating != nil {
			a.Rated++
			ratingSum[rec.Agent] += rec.Rating.Score
			score := rec.Rating.Score
			activity.Rating = &score
		}
		if (rec.State == consultation.StateCompleted || rec.State == consultation.StateFailed) &&
			len(stats.Recent) < consultation.RecentLimit {
			stats.Recent = append(stats.Recent, activity)
		}
	}
	stats.Completed = stats.ByState[consultation.StateCompleted]
	for name, a := range byAgent {
		if a.Rated > 0 {
			avg := float64(ratingSum[name]) / float64(a.Rated)
			a.AverageRating = &avg
		}
		stats.ByAgent = append(stats.ByAgent, *a)
	}
	sort.Slice(stats.ByAgent, func(i, j int) bool {
		if stats.ByAgent[i].Total != stats.ByAgent[j].Total {
			return stats.ByAgent[i].Total > stats.ByAgent[j].Total
		}
		return stats.ByAgent[i].Agent < stats.ByAgent[j].Agent
	})
	return stats, nil
}

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

type recordingPublisher struct {
	mu            sync.Mutex
	consultations []inats.ConsultationEvent
	audits        []inats.AuditEvent
}

func (p *recordingPublisher) PublishConsultationEvent(_ context.Context, e inats.ConsultationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consultations = append(p.consultations, e)
	return nil
}

func (p *recordingPublisher) PublishAuditEvent(_ context.Context, e inats.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audits = append(p.audits, e)
	return nil
}

func (p *recordingPublisher) auditTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.audits))
	for _, e := range p.audits {
		out = append(out, e.EventType)
	}
	return out
}

// webhookPeer stands in for the agent webhooks. The reply function gets
// the agent name taken from the request path.
type webhookPeer struct {
	srv   *httptest.Server
	hits  atomic.Int32
	reply atomic.Pointer[func(w http.ResponseWriter, r *http.Request, agent string)]
}

func newWebhookPeer(t *testing.T) *webhookPeer {
	t.Helper()
	p := &webhookPeer{}
	p.replyWith(func(w http.ResponseWriter, _ *http.Request, agent string) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"consultation":"Réponse de ` + agent + `","signature":"` + agent + `"}`))
	})
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.hits.Add(1)
		(*p.reply.Load())(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *webhookPeer) replyWith(fn func(w http.ResponseWriter, r *http.Request, agent string)) {
	p.reply.Store(&fn)
}

type fixture struct {
	orch   *Orchestrator
	ledger *quota.MemoryLedger
	repo   *memRepo
	pub    *recordingPublisher
	peer   *webhookPeer
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	plans  PlanLookup
	ledger quota.Ledger
	policy retry.Policy
}

func withPlans(p PlanLookup) fixtureOption {
	return func(c *fixtureConfig) { c.plans = p }
}

func withLedger(l quota.Ledger) fixtureOption {
	return func(c *fixtureConfig) { c.ledger = l }
}

func withPolicy(p retry.Policy) fixtureOption {
	return func(c *fixtureConfig) { c.policy = p }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	peer := newWebhookPeer(t)
	catalog, err := agents.ParseCatalog([]byte(testCatalog), agents.CatalogConfig{WebhookBaseURL: peer.srv.URL})
	require.NoError(t, err)

	memLedger := quota.NewMemoryLedger(quota.WithClock(clock.NewFake(testDay)))
	cfg := fixtureConfig{
		plans:  fixedPlan(3),
		ledger: memLedger,
		policy: retry.Policy{
			MaxAttempts:   3,
			BaseTimeout:   2 * time.Second,
			TimeoutGrowth: 0,
			BackoffUnit:   time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	repo := newMemRepo()
	pub := &recordingPublisher{}
	orch := NewOrchestrator(
		NewRouter(catalog),
		cfg.ledger,
		cfg.plans,
		retry.NewCaller(cfg.policy),
		generation.NewClient(),
		repo,
		WithPublisher(pub),
	)

	return &fixture{orch: orch, ledger: memLedger, repo: repo, pub: pub, peer: peer}
}

func submission(userID uuid.UUID, agent string) Submission {
	return Submission{
		UserID: userID,
		Agent:  agent,
		Input: consultation.Input{
			Situation: "je me sens perdu entre deux choix",
			Context:   "travail",
		},
		Metadata: consultation.Metadata{IPAddress: "203.0.113.7", UserAgent: "test"},
	}
}
