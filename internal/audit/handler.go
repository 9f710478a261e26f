package audit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/api"
	"github.com/agents-liminals/liminal/internal/auth"
)

// Lister reads a user's audit trail.
type Lister interface {
	ListByOwner(ctx context.Context, ownerUserID uuid.UUID, params ListParams) ([]AuditLog, int64, error)
	ListByResource(ctx context.Context, ownerUserID, resourceID uuid.UUID, params ListParams) ([]AuditLog, int64, error)
}

// Handler serves the audit trail of the authenticated user.
type Handler struct {
	repo Lister
}

func NewHandler(repo Lister) *Handler {
	return &Handler{repo: repo}
}

// List returns paginated audit logs. A resource_id query parameter
// narrows the list to one consultation.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserClaims(r.Context())
	if claims == nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	params := parseListParams(r)

	var (
		logs  []AuditLog
		total int64
	)
	if rid := r.URL.Query().Get("resource_id"); rid != "" {
		resourceID, perr := uuid.Parse(rid)
		if perr != nil {
			api.HandleError(w, api.NewBadRequestError("invalid resource_id"))
			return
		}
		logs, total, err = h.repo.ListByResource(r.Context(), userID, resourceID, params)
	} else {
		logs, total, err = h.repo.ListByOwner(r.Context(), userID, params)
	}
	if err != nil {
		slog.Error("listing audit logs", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, logs, total, params.Page, params.PageSize)
}

func parseListParams(r *http.Request) ListParams {
	params := DefaultListParams()
	q := r.URL.Query()

	params.EventType = q.Get("event_type")
	params.Severity = q.Get("severity")
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		params.Page = p
	}
	if ps, err := strconv.Atoi(q.Get("page_size")); err == nil && ps > 0 && ps <= 100 {
		params.PageSize = ps
	}
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		params.From = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		params.To = &t
	}
	return params
}
