package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agents-liminals/liminal/internal/auth"
)

type fakeLister struct {
	owner      uuid.UUID
	resourceID *uuid.UUID
	params     ListParams
}

func (f *fakeLister) ListByOwner(_ context.Context, owner uuid.UUID, params ListParams) ([]AuditLog, int64, error) {
	f.owner, f.params = owner, params
	return []AuditLog{{ID: uuid.New(), OwnerUserID: owner, EventType: EventQuotaDenied}}, 1, nil
}

func (f *fakeLister) ListByResource(_ context.Context, owner, resourceID uuid.UUID, params ListParams) ([]AuditLog, int64, error) {
	f.owner, f.resourceID, f.params = owner, &resourceID, params
	return []AuditLog{}, 0, nil
}

func authed(r *http.Request, userID uuid.UUID) *http.Request {
	return r.WithContext(auth.WithClaims(r.Context(), &auth.AccessClaims{UserID: userID.String()}))
}

func TestHandler_List(t *testing.T) {
	userID := uuid.New()
	repo := &fakeLister{}
	h := NewHandler(repo)

	req := authed(httptest.NewRequest(http.MethodGet, "/audit?event_type=quota_denied&page=2&page_size=5&from=2026-03-01T00:00:00Z", nil), userID)
	w := httptest.NewRecorder()
	h.List(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID, repo.owner)
	assert.Equal(t, "quota_denied", repo.params.EventType)
	assert.Equal(t, 2, repo.params.Page)
	assert.Equal(t, 5, repo.params.PageSize)
	require.NotNil(t, repo.params.From)

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(1), body["total_count"])
}

func TestHandler_ListByResource(t *testing.T) {
	userID, resourceID := uuid.New(), uuid.New()
	repo := &fakeLister{}
	h := NewHandler(repo)

	w := httptest.NewRecorder()
	h.List(w, authed(httptest.NewRequest(http.MethodGet, "/audit?resource_id="+resourceID.String(), nil), userID))
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, repo.resourceID)
	assert.Equal(t, resourceID, *repo.resourceID)

	w = httptest.NewRecorder()
	h.List(w, authed(httptest.NewRequest(http.MethodGet, "/audit?resource_id=nope", nil), userID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_ListUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()
	NewHandler(&fakeLister{}).List(w, httptest.NewRequest(http.MethodGet, "/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
