package orchestrator

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/notification"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/sync"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/translator"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/utils"
)

// CredentialError marks a connection whose stored tokens cannot be used.
// Callers surface it differently from a sync failure: the fix is re-entering
// credentials, not retrying the run.
type CredentialError struct {
	Shop string
	Err  error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("access token for %s is invalid, please re-enter credentials", e.Shop)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// RunResult is what a trigger returns. For long-running types the status is
// still in_progress; the caller polls the log id.
type RunResult struct {
	LogID    string          `json:"log_id"`
	Status   string          `json:"status"`
	Summary  json.RawMessage `json:"summary,omitempty"`
	TimedOut bool            `json:"timed_out,omitempty"`
}

// Orchestrator owns the lifecycle of a sync run: log record, credentials,
// clients, module execution, finalization, notification.
type Orchestrator struct {
	connections repository.ConnectionRepository
	syncLogs    repository.SyncLogRepository
	mappings    *mapping.Store
	cipher      *utils.TokenCipher
	notifier    notification.Service
	apiVersion  string
	logger      zerolog.Logger

	// newClient is swapped in tests to point clients at a fake endpoint.
	newClient func(cfg shopify.ClientConfig) *shopify.Client
}

func New(
	connections repository.ConnectionRepository,
	syncLogs repository.SyncLogRepository,
	mappings *mapping.Store,
	cipher *utils.TokenCipher,
	notifier notification.Service,
	apiVersion string,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		connections: connections,
		syncLogs:    syncLogs,
		mappings:    mappings,
		cipher:      cipher,
		notifier:    notifier,
		apiVersion:  apiVersion,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		newClient:   shopify.NewClient,
	}
}

// Run starts one sync. Long-running types detach onto a goroutine and the
// result carries status in_progress; everything else completes before
// returning. The run itself is never bound to the caller's context: a
// dropped request must not leave staging half-written.
func (o *Orchestrator) Run(ctx context.Context, connectionID, syncType string) (*RunResult, error) {
	logID, err := o.begin(ctx, connectionID, syncType)
	if err != nil {
		return nil, err
	}

	if sync.LongRunning(syncType) {
		go o.execute(logID, connectionID, syncType)
		return &RunResult{LogID: logID, Status: models.SyncStatusInProgress}, nil
	}

	status, summary := o.execute(logID, connectionID, syncType)
	return &RunResult{LogID: logID, Status: status, Summary: summary}, nil
}

// RunBlocking executes one sync to completion regardless of type. The
// scheduler uses it to run a batch strictly in order.
func (o *Orchestrator) RunBlocking(ctx context.Context, connectionID, syncType string) (*RunResult, error) {
	logID, err := o.begin(ctx, connectionID, syncType)
	if err != nil {
		return nil, err
	}
	status, summary := o.execute(logID, connectionID, syncType)
	return &RunResult{LogID: logID, Status: status, Summary: summary}, nil
}

// RunWithTimeout bounds how long the caller waits, not how long the run
// takes. On expiry the result reports TimedOut with the log id to poll; the
// run keeps writing the same record until it finishes.
func (o *Orchestrator) RunWithTimeout(ctx context.Context, connectionID, syncType string, bound time.Duration) (*RunResult, error) {
	logID, err := o.begin(ctx, connectionID, syncType)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		status  string
		summary json.RawMessage
	}
	done := make(chan outcome, 1)
	go func() {
		status, summary := o.execute(logID, connectionID, syncType)
		done <- outcome{status: status, summary: summary}
	}()

	timer := time.NewTimer(bound)
	defer timer.Stop()
	select {
	case out := <-done:
		return &RunResult{LogID: logID, Status: out.status, Summary: out.summary}, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	return &RunResult{LogID: logID, Status: models.SyncStatusInProgress, TimedOut: true}, nil
}

// Status returns the run record, live or finalized. Nil when unknown.
func (o *Orchestrator) Status(ctx context.Context, logID string) (*models.SyncLog, error) {
	return o.syncLogs.Get(ctx, logID)
}

// ListLogs returns recent runs, newest first, optionally filtered by
// connection.
func (o *Orchestrator) ListLogs(ctx context.Context, connectionID string, limit, offset int) ([]*models.SyncLog, error) {
	return o.syncLogs.List(ctx, connectionID, limit, offset)
}

// RecoverStaleRuns finalizes runs left at in_progress by a process that died
// mid-sync. Called once at startup.
func (o *Orchestrator) RecoverStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	summary, err := json.Marshal(sync.Summary{
		Errors: []string{"run abandoned: the process restarted while this sync was in progress"},
	})
	if err != nil {
		return 0, err
	}
	n, err := o.syncLogs.FailStale(ctx, time.Now().Add(-olderThan), summary)
	if err != nil {
		return 0, errors.Wrap(err, "fail stale sync runs")
	}
	if n > 0 {
		o.logger.Warn().Int64("count", n).Msg("recovered sync runs orphaned by a previous process")
	}
	return n, nil
}

func (o *Orchestrator) begin(ctx context.Context, connectionID, syncType string) (string, error) {
	if !sync.ValidType(syncType) {
		return "", errors.Errorf("unknown sync type %q", syncType)
	}
	logID := uuid.New().String()
	if _, err := o.syncLogs.Create(ctx, &models.SyncLog{
		ID:           logID,
		ConnectionID: connectionID,
		SyncType:     syncType,
	}); err != nil {
		return "", errors.Wrap(err, "create sync log")
	}
	return logID, nil
}

// execute runs the module and owns everything after log creation. It never
// returns an error; failures end up in the finalized record.
func (o *Orchestrator) execute(logID, connectionID, syncType string) (string, json.RawMessage) {
	logger := o.logger.With().
		Str("log_id", logID).
		Str("connection_id", connectionID).
		Str("sync_type", syncType).
		Logger()
	logger.Info().Msg("sync run started")

	lastStage := ""
	lastPct := -1
	progress := func(p sync.Progress) {
		if p.Stage == lastStage && p.Percentage == lastPct {
			return
		}
		lastStage, lastPct = p.Stage, p.Percentage
		payload, merr := json.Marshal(p)
		if merr != nil {
			return
		}
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if uerr := o.syncLogs.UpdateProgress(pctx, logID, payload, nil); uerr != nil {
			logger.Warn().Err(uerr).Msg("failed to persist sync progress")
		}
	}

	rec := sync.NewRecorder(syncType, progress, logger)
	ctx := context.Background()

	deps, err := o.buildDeps(ctx, connectionID, logger)
	if err != nil {
		rec.Error(err.Error())
		status := rec.Finalize()
		o.finalizeLog(logID, status, rec, logger)

		nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var cerr *CredentialError
		if stderrors.As(err, &cerr) {
			if nerr := o.notifier.NotifyConnectionInvalid(nctx, connectionID, cerr.Shop, "stored access token could not be decrypted"); nerr != nil {
				logger.Warn().Err(nerr).Msg("failed to publish connection-invalid notification")
			}
		} else if nerr := o.notifier.NotifySyncFailed(nctx, connectionID, syncType, logID, err.Error()); nerr != nil {
			logger.Warn().Err(nerr).Msg("failed to publish sync-failed notification")
		}
		return status, rec.SummaryJSON()
	}

	module := sync.ModuleFor(syncType)
	if module == nil {
		rec.Error(fmt.Sprintf("no module registered for %s", syncType))
	} else if merr := module(ctx, deps, rec); merr != nil {
		logger.Error().Err(merr).Msg("sync module failed")
		rec.Error(merr.Error())
	}

	status := rec.Finalize()
	o.finalizeLog(logID, status, rec, logger)
	o.publishOutcome(connectionID, syncType, logID, status, rec.Summary(), logger)

	logger.Info().Str("status", status).Msg("sync run finished")
	return status, rec.SummaryJSON()
}

func (o *Orchestrator) buildDeps(ctx context.Context, connectionID string, logger zerolog.Logger) (sync.Deps, error) {
	conn, err := o.connections.Get(connectionID)
	if err != nil {
		return sync.Deps{}, errors.Wrap(err, "load connection")
	}
	if conn == nil {
		return sync.Deps{}, errors.Errorf("connection %s not found", connectionID)
	}
	if !conn.Active {
		return sync.Deps{}, errors.Errorf("connection %s is inactive", connectionID)
	}

	productionCipher, stagingCipher, err := o.connections.Tokens(connectionID)
	if err != nil {
		return sync.Deps{}, errors.Wrap(err, "load connection tokens")
	}
	productionToken, err := o.cipher.Decrypt(productionCipher)
	if err != nil {
		return sync.Deps{}, &CredentialError{Shop: conn.ProductionDomain, Err: err}
	}
	stagingToken, err := o.cipher.Decrypt(stagingCipher)
	if err != nil {
		return sync.Deps{}, &CredentialError{Shop: conn.Shop, Err: err}
	}

	production := o.newClient(shopify.ClientConfig{
		Shop:        conn.ProductionDomain,
		AccessToken: productionToken,
		APIVersion:  o.apiVersion,
		Logger:      logger,
	})
	staging := o.newClient(shopify.ClientConfig{
		Shop:        conn.Shop,
		AccessToken: stagingToken,
		APIVersion:  o.apiVersion,
		Logger:      logger,
	})

	return sync.Deps{
		ConnectionID: connectionID,
		Production:   production,
		Staging:      staging,
		Mappings:     o.mappings,
		Translator:   translator.New(o.mappings, logger),
		Logger:       logger,
	}, nil
}

func (o *Orchestrator) finalizeLog(logID, status string, rec *sync.Recorder, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.syncLogs.Finalize(ctx, logID, status, rec.SummaryJSON(), rec.LogsJSON()); err != nil {
		logger.Error().Err(err).Msg("failed to finalize sync log")
	}
}

func (o *Orchestrator) publishOutcome(connectionID, syncType, logID, status string, s sync.Summary, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if status == models.SyncStatusFailed {
		reason := "no changes were applied"
		if len(s.Errors) > 0 {
			reason = s.Errors[0]
		}
		err = o.notifier.NotifySyncFailed(ctx, connectionID, syncType, logID, reason)
	} else {
		err = o.notifier.NotifySyncCompleted(ctx, connectionID, syncType, logID, status, s.Created, s.Updated, s.Skipped, s.Failed)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("failed to publish sync outcome notification")
	}
}
