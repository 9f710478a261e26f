package agents

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/api"
	"github.com/agents-liminals/liminal/internal/auth"
	"github.com/agents-liminals/liminal/internal/quota"
)

// PlanLookup returns a user's aggregate daily limit.
type PlanLookup interface {
	DailyLimit(ctx context.Context, userID uuid.UUID) (int, error)
}

type Handler struct {
	catalog *Catalog
	ledger  quota.Ledger
	plans   PlanLookup
}

func NewHandler(catalog *Catalog, ledger quota.Ledger, plans PlanLookup) *Handler {
	return &Handler{
		catalog: catalog,
		ledger:  ledger,
		plans:   plans,
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	usage, aggLimit, resetsAt, err := h.today(r.Context(), userID)
	if err != nil {
		slog.Error("loading agent usage", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrQuotaUnavailable)
		return
	}

	list := h.catalog.List()
	out := make([]Usage, 0, len(list))
	for _, a := range list {
		out = append(out, view(a, usage, aggLimit, resetsAt))
	}

	api.JSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	a, found := h.catalog.Get(chi.URLParam(r, "name"))
	if !found {
		api.HandleError(w, api.NewNotFoundError("agent not found"))
		return
	}

	usage, aggLimit, resetsAt, err := h.today(r.Context(), userID)
	if err != nil {
		slog.Error("loading agent usage", "error", err, "user_id", userID, "agent", a.Name)
		api.HandleError(w, api.ErrQuotaUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, view(a, usage, aggLimit, resetsAt))
}

func (h *Handler) today(ctx context.Context, userID uuid.UUID) (quota.Usage, int, time.Time, error) {
	day, resetsAt := h.ledger.Today()
	usage, err := h.ledger.Snapshot(ctx, userID, day)
	if err != nil {
		return quota.Usage{}, 0, time.Time{}, err
	}
	aggLimit, err := h.plans.DailyLimit(ctx, userID)
	if err != nil {
		return quota.Usage{}, 0, time.Time{}, err
	}
	return usage, aggLimit, resetsAt, nil
}

func view(a Agent, usage quota.Usage, aggLimit int, resetsAt time.Time) Usage {
	used := usage.Used(a.Name)
	remaining := max(a.DailyLimit-used, 0)
	return Usage{
		Agent:          a,
		UsedToday:      used,
		RemainingToday: remaining,
		CanConsult:     a.Active && remaining > 0 && usage.Total < aggLimit,
		ResetsAt:       resetsAt.UTC().Format(time.RFC3339),
	}
}

func userFromRequest(r *http.Request) (uuid.UUID, bool) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
