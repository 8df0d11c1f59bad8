package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("content type = %q", got)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestNormalizeShopDomain(t *testing.T) {
	cases := map[string]string{
		"https://acme.myshopify.com":  "acme.myshopify.com",
		"http://acme.myshopify.com/":  "acme.myshopify.com",
		"  acme.myshopify.com ":       "acme.myshopify.com",
		"acme-staging.myshopify.com":  "acme-staging.myshopify.com",
		"https://acme.myshopify.com/": "acme.myshopify.com",
	}
	for in, want := range cases {
		if got := normalizeShopDomain(in); got != want {
			t.Errorf("normalizeShopDomain(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScheduleRequestValidation(t *testing.T) {
	cases := []struct {
		name    string
		req     scheduleRequest
		wantErr bool
	}{
		{
			name: "valid daily",
			req:  scheduleRequest{Frequency: "daily", Hour: 3, Minute: 30},
		},
		{
			name: "valid weekly",
			req:  scheduleRequest{Frequency: "weekly", Hour: 6, DayOfWeek: 5},
		},
		{
			name:    "unknown frequency",
			req:     scheduleRequest{Frequency: "hourly"},
			wantErr: true,
		},
		{
			name:    "missing frequency",
			req:     scheduleRequest{Hour: 3},
			wantErr: true,
		},
		{
			name:    "hour out of range",
			req:     scheduleRequest{Frequency: "daily", Hour: 24},
			wantErr: true,
		},
		{
			name:    "minute out of range",
			req:     scheduleRequest{Frequency: "daily", Minute: 60},
			wantErr: true,
		},
		{
			name:    "day of week out of range",
			req:     scheduleRequest{Frequency: "weekly", DayOfWeek: 7},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Struct(tc.req)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

type stubNotificationService struct {
	notifications []models.Notification
	markReadErr   error
}

func (s *stubNotificationService) Publish(context.Context, notification.Event) (models.Notification, error) {
	return models.Notification{}, nil
}
func (s *stubNotificationService) NotifySyncCompleted(context.Context, string, string, string, string, int, int, int, int) error {
	return nil
}
func (s *stubNotificationService) NotifySyncFailed(context.Context, string, string, string, string) error {
	return nil
}
func (s *stubNotificationService) NotifyScheduleRunFailed(context.Context, string, string) error {
	return nil
}
func (s *stubNotificationService) NotifyConnectionInvalid(context.Context, string, string, string) error {
	return nil
}
func (s *stubNotificationService) ListRecent(_ context.Context, limit int) ([]models.Notification, error) {
	if limit < len(s.notifications) {
		return s.notifications[:limit], nil
	}
	return s.notifications, nil
}
func (s *stubNotificationService) MarkRead(_ context.Context, id string) (models.Notification, error) {
	if s.markReadErr != nil {
		return models.Notification{}, s.markReadErr
	}
	return models.Notification{ID: id}, nil
}

func TestNotificationListRespectsLimit(t *testing.T) {
	svc := &stubNotificationService{notifications: []models.Notification{
		{ID: "n-1", Title: "Sync completed"},
		{ID: "n-2", Title: "Sync failed"},
		{ID: "n-3", Title: "Schedule run failed"},
	}}
	h := NewNotificationHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/notifications?limit=2", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Notifications []models.Notification `json:"notifications"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Notifications) != 2 {
		t.Fatalf("got %d notifications, want 2", len(body.Notifications))
	}
}

func TestNotificationMarkReadNotFound(t *testing.T) {
	svc := &stubNotificationService{markReadErr: sql.ErrNoRows}
	h := NewNotificationHandler(svc, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/notifications/n-404/read", nil)
	req = mux.SetURLVars(req, map[string]string{"notificationID": "n-404"})
	rec := httptest.NewRecorder()
	h.MarkRead(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

type fakeHandlerMappingRepo struct {
	unmapped    []*models.UnmappedReference
	resolved    []string
	resolveErr  error
	mappings    []*models.ResourceMapping
	listOrderBy string
}

func (f *fakeHandlerMappingRepo) Upsert(context.Context, *models.ResourceMapping) (bool, error) {
	return false, nil
}
func (f *fakeHandlerMappingRepo) GetByProductionID(context.Context, string, string, string) (*models.ResourceMapping, error) {
	return nil, nil
}
func (f *fakeHandlerMappingRepo) List(_ context.Context, _, _ string, _, _ int, orderBy string) ([]*models.ResourceMapping, error) {
	f.listOrderBy = orderBy
	return f.mappings, nil
}
func (f *fakeHandlerMappingRepo) Count(context.Context, string, string) (int, error) {
	return len(f.mappings), nil
}
func (f *fakeHandlerMappingRepo) Stats(context.Context, string) ([]*models.MappingStat, error) {
	return nil, nil
}
func (f *fakeHandlerMappingRepo) DeleteByConnection(context.Context, string) (int64, error) {
	return int64(len(f.mappings)), nil
}
func (f *fakeHandlerMappingRepo) UpsertUnmapped(context.Context, *models.UnmappedReference) error {
	return nil
}
func (f *fakeHandlerMappingRepo) ListUnmapped(context.Context, string, bool, int, int) ([]*models.UnmappedReference, error) {
	return f.unmapped, nil
}
func (f *fakeHandlerMappingRepo) MarkUnmappedResolved(_ context.Context, id string) error {
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, id)
	return nil
}

func TestResolveUnmappedReference(t *testing.T) {
	repo := &fakeHandlerMappingRepo{}
	h := NewMappingHandler(mapping.NewStore(repo, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/unmapped-references/ref-1/resolve", nil)
	req = mux.SetURLVars(req, map[string]string{"refID": "ref-1"})
	rec := httptest.NewRecorder()
	h.ResolveUnmapped(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(repo.resolved) != 1 || repo.resolved[0] != "ref-1" {
		t.Fatalf("resolved = %v", repo.resolved)
	}
}

func TestResolveUnmappedReferenceNotFound(t *testing.T) {
	repo := &fakeHandlerMappingRepo{resolveErr: sql.ErrNoRows}
	h := NewMappingHandler(mapping.NewStore(repo, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/unmapped-references/ref-404/resolve", nil)
	req = mux.SetURLVars(req, map[string]string{"refID": "ref-404"})
	rec := httptest.NewRecorder()
	h.ResolveUnmapped(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListMappingsDefaultsOrder(t *testing.T) {
	title := "Widget"
	repo := &fakeHandlerMappingRepo{mappings: []*models.ResourceMapping{
		{ID: "m-1", ResourceType: "product", ProductionID: "7001", StagingID: "8001", Title: &title},
	}}
	h := NewMappingHandler(mapping.NewStore(repo, zerolog.Nop()), zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/api/connections/conn-1/mappings?resource_type=product", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "conn-1"})
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if repo.listOrderBy != "last_synced_at" {
		t.Fatalf("orderBy = %q, want last_synced_at", repo.listOrderBy)
	}
	var body struct {
		Mappings []models.ResourceMapping `json:"mappings"`
		Total    int                      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 || len(body.Mappings) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if !strings.Contains(rec.Body.String(), "Widget") {
		t.Fatal("expected mapping title in response")
	}
}

type stubHandlerConnRepo struct {
	conn *models.Connection
}

func (s *stubHandlerConnRepo) List() ([]*models.Connection, error) { return nil, nil }
func (s *stubHandlerConnRepo) Get(id string) (*models.Connection, error) {
	if s.conn != nil && s.conn.ID == id {
		return s.conn, nil
	}
	return nil, nil
}
func (s *stubHandlerConnRepo) Create(conn *models.Connection, _, _ []byte) (*models.Connection, error) {
	return conn, nil
}
func (s *stubHandlerConnRepo) Update(conn *models.Connection) (*models.Connection, error) {
	return conn, nil
}
func (s *stubHandlerConnRepo) UpdateTokens(string, []byte, []byte) error { return nil }
func (s *stubHandlerConnRepo) Tokens(string) ([]byte, []byte, error)     { return nil, nil, nil }
func (s *stubHandlerConnRepo) Delete(string) error                       { return nil }

func TestTriggerRejectsUnknownSyncType(t *testing.T) {
	h := NewSyncHandler(nil, &stubHandlerConnRepo{}, 0, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync/giftcards", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "conn-1", "syncType": "giftcards"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "giftcards") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestTriggerUnknownConnection(t *testing.T) {
	h := NewSyncHandler(nil, &stubHandlerConnRepo{}, 0, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-404/sync/pages", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "conn-404", "syncType": "pages"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestTriggerInactiveConnection(t *testing.T) {
	repo := &stubHandlerConnRepo{conn: &models.Connection{ID: "conn-1", Shop: "acme-staging.myshopify.com", Active: false}}
	h := NewSyncHandler(nil, repo, 0, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/connections/conn-1/sync/pages", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "conn-1", "syncType": "pages"})
	rec := httptest.NewRecorder()
	h.Trigger(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
