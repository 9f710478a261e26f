package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/agents-liminals/liminal/internal/api"
	"github.com/agents-liminals/liminal/internal/auth"
	"github.com/agents-liminals/liminal/internal/consultation"
	mw "github.com/agents-liminals/liminal/internal/middleware"
)

type SubmitRequest struct {
	Agent     string `json:"agent"`
	Situation string `json:"situation"`
	Context   string `json:"context"`
}

type RateRequest struct {
	Score    int    `json:"score" validate:"required,min=1,max=5"`
	Feedback string `json:"feedback" validate:"max=1000"`
}

// Handler exposes consultations over HTTP.
type Handler struct {
	orch          *Orchestrator
	submitTimeout time.Duration
	validate      *validator.Validate
}

// NewHandler creates a handler. submitTimeout bounds a whole submission
// on top of the request context; zero means no extra bound.
func NewHandler(orch *Orchestrator, submitTimeout time.Duration) *Handler {
	return &Handler{
		orch:          orch,
		submitTimeout: submitTimeout,
		validate:      validator.New(),
	}
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	ctx := r.Context()
	if h.submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.submitTimeout)
		defer cancel()
	}

	rec, err := h.orch.Submit(ctx, Submission{
		UserID: userID,
		Agent:  req.Agent,
		Input: consultation.Input{
			Situation: req.Situation,
			Context:   req.Context,
		},
		Metadata: consultation.Metadata{
			IPAddress: mw.ClientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		h.writeSubmissionError(w, err)
		return
	}

	api.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) writeSubmissionError(w http.ResponseWriter, err error) {
	var serr *SubmissionError
	if !errors.As(err, &serr) {
		slog.Error("submitting consultation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	switch serr.Kind {
	case KindInvalidInput:
		appErr := api.NewError(http.StatusBadRequest, serr.Reason, "invalid consultation request")
		if len(serr.Fields) > 0 {
			details := make(map[string]any, len(serr.Fields))
			for k, v := range serr.Fields {
				details[k] = v
			}
			appErr = appErr.WithDetails(details)
		}
		api.HandleError(w, appErr)

	case KindQuotaExceeded:
		retryAfter := int(math.Ceil(serr.ResetsAt.Sub(h.orch.clock.Now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		api.HandleError(w, api.NewError(http.StatusTooManyRequests, serr.Reason, "daily consultation limit reached").
			WithDetails(map[string]any{"resets_at": serr.ResetsAt.UTC().Format(time.RFC3339)}))

	case KindQuotaUnavailable:
		api.HandleError(w, api.ErrQuotaUnavailable)

	case KindGenerationFailed:
		api.HandleError(w, api.NewError(http.StatusBadGateway, serr.Reason, "the agent could not answer").
			WithDetails(map[string]any{"consultation_id": serr.RecordID}))

	case KindCancelled:
		appErr := api.NewError(http.StatusGatewayTimeout, serr.Reason, "consultation did not complete in time")
		if serr.RecordID != uuid.Nil {
			appErr = appErr.WithDetails(map[string]any{"consultation_id": serr.RecordID})
		}
		api.HandleError(w, appErr)

	default:
		api.HandleError(w, api.ErrInternalServer)
	}
}

func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	limits, err := h.orch.Limits(r.Context(), userID)
	if err != nil {
		slog.Error("loading limits", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrQuotaUnavailable)
		return
	}

	api.JSON(w, http.StatusOK, limits)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := consultation.Filter{
		UserID: userID,
		Agent:  q.Get("agent"),
		State:  consultation.State(q.Get("state")),
	}
	if filter.State != "" && !filter.State.Valid() {
		api.HandleError(w, api.NewBadRequestError("invalid state filter"))
		return
	}
	if p, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = p
	}
	if ps, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filter.PageSize = ps
	}
	var err error
	if filter.From, filter.To, err = parseRange(q); err != nil {
		api.HandleError(w, err)
		return
	}
	filter.Normalize()

	records, total, err := h.orch.History(r.Context(), filter)
	if err != nil {
		slog.Error("listing consultations", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, records, total, filter.Page, filter.PageSize)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	filter := consultation.StatsFilter{UserID: userID}
	var err error
	if filter.From, filter.To, err = parseRange(r.URL.Query()); err != nil {
		api.HandleError(w, err)
		return
	}

	stats, err := h.orch.Stats(r.Context(), filter)
	if err != nil {
		slog.Error("computing consultation stats", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, stats)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid consultation ID"))
		return
	}

	rec, err := h.orch.Get(r.Context(), userID, id)
	if errors.Is(err, consultation.ErrNotFound) {
		api.HandleError(w, api.NewNotFoundError("consultation not found"))
		return
	}
	if err != nil {
		slog.Error("getting consultation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, rec)
}

func (h *Handler) Rate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		api.HandleError(w, api.ErrUnauthorized)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid consultation ID"))
		return
	}

	var req RateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	rating, err := h.orch.Rate(r.Context(), userID, id, req.Score, req.Feedback)
	switch {
	case err == nil:
		api.JSON(w, http.StatusOK, rating)
	case errors.Is(err, consultation.ErrNotFound):
		api.HandleError(w, api.NewNotFoundError("consultation not found"))
	case errors.Is(err, consultation.ErrNotCompleted):
		api.HandleError(w, api.NewError(http.StatusConflict, "not_completed", err.Error()))
	case errors.Is(err, consultation.ErrAlreadyRated):
		api.HandleError(w, api.NewError(http.StatusConflict, "already_rated", err.Error()))
	default:
		slog.Error("rating consultation", "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}

// parseRange reads the optional RFC 3339 from/to query bounds.
func parseRange(q url.Values) (from, to *time.Time, err error) {
	for key, dst := range map[string]**time.Time{"from": &from, "to": &to} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return nil, nil, api.NewBadRequestError("invalid " + key + " timestamp, expected RFC 3339")
		}
		*dst = &t
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, api.NewBadRequestError("to must not be before from")
	}
	return from, to, nil
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
