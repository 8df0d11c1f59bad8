package scheduler

import (
	"context"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/orchestrator"
)

type runOutcome struct {
	runAt     time.Time
	status    string
	summary   []byte
	nextRunAt time.Time
}

type fakeScheduleRepo struct {
	mu               stdsync.Mutex
	schedule         *models.SyncSchedule
	outcomes         []runOutcome
	nextRunAtWrites  int
	listEnabledCalls int
}

func (r *fakeScheduleRepo) GetByConnection(ctx context.Context, connectionID string) (*models.SyncSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.schedule == nil || r.schedule.ConnectionID != connectionID {
		return nil, nil
	}
	cp := *r.schedule
	return &cp, nil
}

func (r *fakeScheduleRepo) ListEnabled(ctx context.Context) ([]*models.SyncSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listEnabledCalls++
	if r.schedule == nil || !r.schedule.Enabled {
		return nil, nil
	}
	cp := *r.schedule
	return []*models.SyncSchedule{&cp}, nil
}

func (r *fakeScheduleRepo) Upsert(ctx context.Context, schedule *models.SyncSchedule) (*models.SyncSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *schedule
	r.schedule = &cp
	return schedule, nil
}

func (r *fakeScheduleRepo) UpdateRunOutcome(ctx context.Context, connectionID string, runAt time.Time, status string, summary []byte, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, runOutcome{runAt: runAt, status: status, summary: summary, nextRunAt: nextRunAt})
	return nil
}

func (r *fakeScheduleRepo) UpdateNextRunAt(ctx context.Context, connectionID string, nextRunAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextRunAtWrites++
	return nil
}

func (r *fakeScheduleRepo) Delete(ctx context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedule = nil
	return nil
}

func (r *fakeScheduleRepo) lastOutcome() (runOutcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outcomes) == 0 {
		return runOutcome{}, false
	}
	return r.outcomes[len(r.outcomes)-1], true
}

type fakeRunner struct {
	mu       stdsync.Mutex
	calls    []string
	statuses map[string]string
}

func (r *fakeRunner) RunBlocking(ctx context.Context, connectionID, syncType string) (*orchestrator.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, syncType)
	status := models.SyncStatusSuccess
	if r.statuses != nil {
		if s, ok := r.statuses[syncType]; ok {
			status = s
		}
	}
	return &orchestrator.RunResult{LogID: "log-" + syncType, Status: status}, nil
}

func (r *fakeRunner) callOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

type schedConnections struct {
	conn *models.Connection
}

func (s *schedConnections) List() ([]*models.Connection, error) { return nil, nil }

func (s *schedConnections) Get(id string) (*models.Connection, error) {
	if s.conn == nil || s.conn.ID != id {
		return nil, nil
	}
	cp := *s.conn
	return &cp, nil
}

func (s *schedConnections) Create(conn *models.Connection, productionToken, stagingToken []byte) (*models.Connection, error) {
	return conn, nil
}

func (s *schedConnections) Update(conn *models.Connection) (*models.Connection, error) {
	return conn, nil
}

func (s *schedConnections) UpdateTokens(id string, productionToken, stagingToken []byte) error {
	return nil
}

func (s *schedConnections) Tokens(id string) ([]byte, []byte, error) { return nil, nil, nil }

func (s *schedConnections) Delete(id string) error { return nil }

type schedNotifier struct {
	mu        stdsync.Mutex
	runFailed []string
}

func (n *schedNotifier) Publish(ctx context.Context, evt notification.Event) (models.Notification, error) {
	return models.Notification{}, nil
}

func (n *schedNotifier) NotifySyncCompleted(ctx context.Context, connectionID, syncType, logID, status string, created, updated, skipped, failed int) error {
	return nil
}

func (n *schedNotifier) NotifySyncFailed(ctx context.Context, connectionID, syncType, logID, reason string) error {
	return nil
}

func (n *schedNotifier) NotifyScheduleRunFailed(ctx context.Context, connectionID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runFailed = append(n.runFailed, reason)
	return nil
}

func (n *schedNotifier) NotifyConnectionInvalid(ctx context.Context, connectionID, shop, reason string) error {
	return nil
}

func (n *schedNotifier) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (n *schedNotifier) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return models.Notification{}, nil
}

func testSchedule(types ...string) *models.SyncSchedule {
	return &models.SyncSchedule{
		ID:           "sched-1",
		ConnectionID: "conn-1",
		Enabled:      true,
		Frequency:    models.FrequencyDaily,
		Hour:         3,
		SyncTypes:    types,
	}
}

func newTestScheduler(repo *fakeScheduleRepo, runner *fakeRunner, notifier *schedNotifier) *Scheduler {
	conns := &schedConnections{conn: &models.Connection{ID: "conn-1", Shop: "acme-staging.myshopify.com", Active: true}}
	return New(repo, conns, runner, notifier, zerolog.Nop())
}

func waitForOutcome(t *testing.T, repo *fakeScheduleRepo) runOutcome {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if out, ok := repo.lastOutcome(); ok {
			return out
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("schedule run outcome never persisted")
	return runOutcome{}
}

func TestRunNowExecutesTypesInOrder(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages", "menus", "collections")}
	runner := &fakeRunner{}
	notifier := &schedNotifier{}
	s := newTestScheduler(repo, runner, notifier)

	if err := s.RunNow(context.Background(), "conn-1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	out := waitForOutcome(t, repo)
	if out.status != models.SyncStatusSuccess {
		t.Fatalf("status = %q, want success", out.status)
	}
	if !out.nextRunAt.After(time.Now().Add(-time.Minute)) {
		t.Fatalf("nextRunAt = %v, want advanced into the future", out.nextRunAt)
	}

	want := []string{"pages", "menus", "collections"}
	got := runner.callOrder()
	if len(got) != len(want) {
		t.Fatalf("runner calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("runner calls = %v, want %v", got, want)
		}
	}
}

func TestRunNowUnknownScheduleErrors(t *testing.T) {
	repo := &fakeScheduleRepo{}
	s := newTestScheduler(repo, &fakeRunner{}, &schedNotifier{})

	if err := s.RunNow(context.Background(), "conn-1"); err == nil {
		t.Fatal("expected error when no schedule exists")
	}
}

func TestMissingConnectionRecordsFailedRun(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages")}
	runner := &fakeRunner{}
	notifier := &schedNotifier{}
	conns := &schedConnections{} // no connection at all
	s := New(repo, conns, runner, notifier, zerolog.Nop())

	if err := s.RunNow(context.Background(), "conn-1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	out := waitForOutcome(t, repo)
	if out.status != models.SyncStatusFailed {
		t.Fatalf("status = %q, want failed", out.status)
	}
	if !strings.Contains(string(out.summary), "no longer exists") {
		t.Fatalf("summary = %s, want a descriptive reason", out.summary)
	}
	if out.nextRunAt.IsZero() {
		t.Fatal("nextRunAt not advanced after a failed run")
	}
	if calls := runner.callOrder(); len(calls) != 0 {
		t.Fatalf("runner calls = %v, want none", calls)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.runFailed) == 0 {
		t.Fatal("missing schedule-run-failed notification")
	}
}

func TestBatchPartialWhenOneTypeFails(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages", "menus")}
	runner := &fakeRunner{statuses: map[string]string{"menus": models.SyncStatusFailed}}
	notifier := &schedNotifier{}
	s := newTestScheduler(repo, runner, notifier)

	if err := s.RunNow(context.Background(), "conn-1"); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	out := waitForOutcome(t, repo)
	if out.status != models.SyncStatusPartial {
		t.Fatalf("status = %q, want %q", out.status, models.SyncStatusPartial)
	}
	if !strings.Contains(string(out.summary), "menus") {
		t.Fatalf("summary = %s, want the failed type named", out.summary)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.runFailed) == 0 {
		t.Fatal("missing schedule-run-failed notification for partial batch")
	}
}

func TestInitIsIdempotent(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages")}
	s := newTestScheduler(repo, &fakeRunner{}, &schedNotifier{})

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}

	repo.mu.Lock()
	listCalls := repo.listEnabledCalls
	repo.mu.Unlock()
	if listCalls != 1 {
		t.Fatalf("ListEnabled calls = %d, want 1", listCalls)
	}
	if _, ok := s.NextRunAt("conn-1"); !ok {
		t.Fatal("schedule not registered after Init")
	}
}

func TestReloadDropsDisabledSchedule(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages")}
	s := newTestScheduler(repo, &fakeRunner{}, &schedNotifier{})

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := s.NextRunAt("conn-1"); !ok {
		t.Fatal("schedule not registered")
	}

	repo.mu.Lock()
	repo.schedule.Enabled = false
	repo.mu.Unlock()

	if err := s.Reload(context.Background(), "conn-1"); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, ok := s.NextRunAt("conn-1"); ok {
		t.Fatal("disabled schedule still registered")
	}
}

func TestRemoveForgetsTimer(t *testing.T) {
	repo := &fakeScheduleRepo{schedule: testSchedule("pages")}
	s := newTestScheduler(repo, &fakeRunner{}, &schedNotifier{})

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s.Remove("conn-1")
	if _, ok := s.NextRunAt("conn-1"); ok {
		t.Fatal("removed schedule still registered")
	}
}
