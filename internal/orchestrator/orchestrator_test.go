package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/sync"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/utils"
)

type stubConnections struct {
	conn       *models.Connection
	production []byte
	staging    []byte
}

func (s *stubConnections) List() ([]*models.Connection, error) { return nil, nil }

func (s *stubConnections) Get(id string) (*models.Connection, error) {
	if s.conn == nil || s.conn.ID != id {
		return nil, nil
	}
	cp := *s.conn
	return &cp, nil
}

func (s *stubConnections) Create(conn *models.Connection, productionToken, stagingToken []byte) (*models.Connection, error) {
	return conn, nil
}

func (s *stubConnections) Update(conn *models.Connection) (*models.Connection, error) {
	return conn, nil
}

func (s *stubConnections) UpdateTokens(id string, productionToken, stagingToken []byte) error {
	return nil
}

func (s *stubConnections) Tokens(id string) ([]byte, []byte, error) {
	return s.production, s.staging, nil
}

func (s *stubConnections) Delete(id string) error { return nil }

type stubSyncLogs struct {
	mu             gosync.Mutex
	logs           map[string]*models.SyncLog
	progressWrites int
}

func newStubSyncLogs() *stubSyncLogs {
	return &stubSyncLogs{logs: make(map[string]*models.SyncLog)}
}

func (s *stubSyncLogs) Create(ctx context.Context, log *models.SyncLog) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Status = models.SyncStatusInProgress
	log.StartedAt = time.Now()
	cp := *log
	s.logs[log.ID] = &cp
	return log, nil
}

func (s *stubSyncLogs) Get(ctx context.Context, id string) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok {
		return nil, nil
	}
	cp := *log
	return &cp, nil
}

func (s *stubSyncLogs) List(ctx context.Context, connectionID string, limit, offset int) ([]*models.SyncLog, error) {
	return nil, nil
}

func (s *stubSyncLogs) UpdateProgress(ctx context.Context, id string, summary, logs []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok || log.CompletedAt != nil {
		return nil
	}
	log.Summary = summary
	s.progressWrites++
	return nil
}

func (s *stubSyncLogs) Finalize(ctx context.Context, id, status string, summary, logs []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log, ok := s.logs[id]
	if !ok || log.CompletedAt != nil {
		return fmt.Errorf("sync log %s is already finalized or missing", id)
	}
	now := time.Now()
	log.Status = status
	log.Summary = summary
	log.Logs = logs
	log.CompletedAt = &now
	return nil
}

func (s *stubSyncLogs) FailStale(ctx context.Context, cutoff time.Time, summary []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, log := range s.logs {
		if log.Status == models.SyncStatusInProgress && log.StartedAt.Before(cutoff) {
			now := time.Now()
			log.Status = models.SyncStatusFailed
			log.Summary = summary
			log.CompletedAt = &now
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	mu        gosync.Mutex
	completed []string
	failed    []string
	invalid   int
}

func (n *recordingNotifier) Publish(ctx context.Context, evt notification.Event) (models.Notification, error) {
	return models.Notification{}, nil
}

func (n *recordingNotifier) NotifySyncCompleted(ctx context.Context, connectionID, syncType, logID, status string, created, updated, skipped, failed int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completed = append(n.completed, syncType+":"+status)
	return nil
}

func (n *recordingNotifier) NotifySyncFailed(ctx context.Context, connectionID, syncType, logID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, syncType+":"+reason)
	return nil
}

func (n *recordingNotifier) NotifyScheduleRunFailed(ctx context.Context, connectionID, reason string) error {
	return nil
}

func (n *recordingNotifier) NotifyConnectionInvalid(ctx context.Context, connectionID, shop, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.invalid++
	return nil
}

func (n *recordingNotifier) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (n *recordingNotifier) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return models.Notification{}, nil
}

type nullMappingRepo struct{}

func (nullMappingRepo) Upsert(ctx context.Context, m *models.ResourceMapping) (bool, error) {
	return false, nil
}

func (nullMappingRepo) GetByProductionID(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error) {
	return nil, nil
}

func (nullMappingRepo) List(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error) {
	return nil, nil
}

func (nullMappingRepo) Count(ctx context.Context, connectionID, resourceType string) (int, error) {
	return 0, nil
}

func (nullMappingRepo) Stats(ctx context.Context, connectionID string) ([]*models.MappingStat, error) {
	return nil, nil
}

func (nullMappingRepo) DeleteByConnection(ctx context.Context, connectionID string) (int64, error) {
	return 0, nil
}

func (nullMappingRepo) UpsertUnmapped(ctx context.Context, ref *models.UnmappedReference) error {
	return nil
}

func (nullMappingRepo) ListUnmapped(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error) {
	return nil, nil
}

func (nullMappingRepo) MarkUnmappedResolved(ctx context.Context, id string) error { return nil }

// emptyShop answers every list query with zero nodes.
const emptyShopPayload = `{"data":{
	"pages":{"nodes":[],"pageInfo":{"hasNextPage":false,"endCursor":""}},
	"products":{"nodes":[],"pageInfo":{"hasNextPage":false,"endCursor":""}}
}}`

func newEmptyShop(delay time.Duration) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, emptyShopPayload)
	}))
}

type fixture struct {
	orc      *Orchestrator
	syncLogs *stubSyncLogs
	notifier *recordingNotifier
	cipher   *utils.TokenCipher
	conns    *stubConnections
}

func newFixture(t *testing.T, server *httptest.Server) *fixture {
	t.Helper()
	cipher, err := utils.NewTokenCipher("orchestrator-test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	production, err := cipher.Encrypt("prod-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	staging, err := cipher.Encrypt("stag-token")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	conns := &stubConnections{
		conn: &models.Connection{
			ID:               "conn-1",
			Shop:             "acme-staging.myshopify.com",
			ProductionDomain: "acme.myshopify.com",
			Environment:      "staging",
			Active:           true,
		},
		production: production,
		staging:    staging,
	}
	syncLogs := newStubSyncLogs()
	notifier := &recordingNotifier{}
	store := mapping.NewStore(nullMappingRepo{}, zerolog.Nop())

	orc := New(conns, syncLogs, store, cipher, notifier, "", zerolog.Nop())
	orc.newClient = func(cfg shopify.ClientConfig) *shopify.Client {
		cfg.Endpoint = server.URL
		return shopify.NewClient(cfg)
	}
	return &fixture{orc: orc, syncLogs: syncLogs, notifier: notifier, cipher: cipher, conns: conns}
}

func waitForCompletion(t *testing.T, logs *stubSyncLogs, logID string) *models.SyncLog {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		log, err := logs.Get(context.Background(), logID)
		if err != nil {
			t.Fatalf("get log: %v", err)
		}
		if log != nil && log.CompletedAt != nil {
			return log
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sync log %s never finalized", logID)
	return nil
}

func TestRunRejectsUnknownSyncType(t *testing.T) {
	server := newEmptyShop(0)
	defer server.Close()
	f := newFixture(t, server)

	if _, err := f.orc.Run(context.Background(), "conn-1", "bogus"); err == nil {
		t.Fatal("expected error for unknown sync type")
	}
	if len(f.syncLogs.logs) != 0 {
		t.Fatalf("log rows = %d, want 0", len(f.syncLogs.logs))
	}
}

func TestRunCompletesAndFinalizesLog(t *testing.T) {
	server := newEmptyShop(0)
	defer server.Close()
	f := newFixture(t, server)

	result, err := f.orc.Run(context.Background(), "conn-1", sync.TypePages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.SyncStatusSuccess {
		t.Fatalf("status = %q, want %q", result.Status, models.SyncStatusSuccess)
	}

	log, err := f.syncLogs.Get(context.Background(), result.LogID)
	if err != nil || log == nil {
		t.Fatalf("log missing: %v", err)
	}
	if log.CompletedAt == nil {
		t.Fatal("log not finalized")
	}
	if log.Status != models.SyncStatusSuccess {
		t.Fatalf("log status = %q, want success", log.Status)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if len(f.notifier.completed) != 1 || !strings.HasPrefix(f.notifier.completed[0], sync.TypePages) {
		t.Fatalf("completed notifications = %v, want one for pages", f.notifier.completed)
	}
}

func TestRunDetachesLongRunningTypes(t *testing.T) {
	server := newEmptyShop(50 * time.Millisecond)
	defer server.Close()
	f := newFixture(t, server)

	result, err := f.orc.Run(context.Background(), "conn-1", sync.TypeProducts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.SyncStatusInProgress {
		t.Fatalf("status = %q, want in_progress immediately", result.Status)
	}

	log := waitForCompletion(t, f.syncLogs, result.LogID)
	if log.Status != models.SyncStatusSuccess {
		t.Fatalf("final status = %q, want success", log.Status)
	}
}

func TestRunDecryptFailureIsDistinct(t *testing.T) {
	server := newEmptyShop(0)
	defer server.Close()
	f := newFixture(t, server)
	f.conns.staging = []byte("garbage that is not a ciphertext")

	result, err := f.orc.Run(context.Background(), "conn-1", sync.TypePages)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Status != models.SyncStatusFailed {
		t.Fatalf("status = %q, want failed", result.Status)
	}
	if !strings.Contains(string(result.Summary), "re-enter credentials") {
		t.Fatalf("summary %s does not carry the credential message", result.Summary)
	}

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	if f.notifier.invalid != 1 {
		t.Fatalf("connection-invalid notifications = %d, want 1", f.notifier.invalid)
	}
}

func TestRunWithTimeoutKeepsRunGoing(t *testing.T) {
	server := newEmptyShop(150 * time.Millisecond)
	defer server.Close()
	f := newFixture(t, server)

	result, err := f.orc.RunWithTimeout(context.Background(), "conn-1", sync.TypePages, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("RunWithTimeout: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected TimedOut")
	}
	if result.Status != models.SyncStatusInProgress {
		t.Fatalf("status = %q, want in_progress", result.Status)
	}

	log := waitForCompletion(t, f.syncLogs, result.LogID)
	if log.Status != models.SyncStatusSuccess {
		t.Fatalf("final status = %q, want success after the guard expired", log.Status)
	}
}

func TestRecoverStaleRuns(t *testing.T) {
	server := newEmptyShop(0)
	defer server.Close()
	f := newFixture(t, server)

	stale := &models.SyncLog{ID: "stale", ConnectionID: "conn-1", SyncType: sync.TypePages}
	if _, err := f.syncLogs.Create(context.Background(), stale); err != nil {
		t.Fatalf("seed stale log: %v", err)
	}
	f.syncLogs.mu.Lock()
	f.syncLogs.logs["stale"].StartedAt = time.Now().Add(-3 * time.Hour)
	f.syncLogs.mu.Unlock()

	fresh := &models.SyncLog{ID: "fresh", ConnectionID: "conn-1", SyncType: sync.TypePages}
	if _, err := f.syncLogs.Create(context.Background(), fresh); err != nil {
		t.Fatalf("seed fresh log: %v", err)
	}

	n, err := f.orc.RecoverStaleRuns(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RecoverStaleRuns: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	staleLog, _ := f.syncLogs.Get(context.Background(), "stale")
	if staleLog.Status != models.SyncStatusFailed || staleLog.CompletedAt == nil {
		t.Fatalf("stale log = %+v, want finalized as failed", staleLog)
	}
	freshLog, _ := f.syncLogs.Get(context.Background(), "fresh")
	if freshLog.Status != models.SyncStatusInProgress {
		t.Fatalf("fresh log status = %q, want untouched", freshLog.Status)
	}
}
