package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/metrics"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/translator"
)

// Sync type identifiers as they appear in API paths, schedule sync_types
// and sync_logs.sync_type.
const (
	TypeMetaobjectDefinitions = "metaobject_definitions"
	TypeMetafieldDefinitions  = "metafield_definitions"
	TypeLocations             = "locations"
	TypeFiles                 = "files"
	TypeProducts              = "products"
	TypeCollections           = "collections"
	TypePages                 = "pages"
	TypeMenus                 = "menus"
	TypeMarkets               = "markets"
	TypeDiscovery             = "discovery"
)

// DefaultOrder runs definition types before the resources that reference
// them: products before collections and discovery, pages and collections
// before menus.
var DefaultOrder = []string{
	TypeMetaobjectDefinitions,
	TypeMetafieldDefinitions,
	TypeLocations,
	TypeFiles,
	TypeProducts,
	TypeCollections,
	TypePages,
	TypeMenus,
	TypeMarkets,
	TypeDiscovery,
}

var validTypes = func() map[string]bool {
	m := make(map[string]bool, len(DefaultOrder))
	for _, t := range DefaultOrder {
		m[t] = true
	}
	return m
}()

// ValidType reports whether syncType names a known resource sync.
func ValidType(syncType string) bool { return validTypes[syncType] }

// LongRunning reports whether syncType should be detached rather than run
// inside the request that triggered it.
func LongRunning(syncType string) bool { return syncType == TypeProducts }

// Module is the entry point of one resource sync. A returned error is a
// fatal pre-loop failure; per-item failures stay inside the recorder.
type Module func(ctx context.Context, deps Deps, rec *Recorder) error

// ModuleFor returns the module registered for syncType, or nil.
func ModuleFor(syncType string) Module {
	switch syncType {
	case TypeMetaobjectDefinitions:
		return SyncMetaobjectDefinitions
	case TypeMetafieldDefinitions:
		return SyncMetafieldDefinitions
	case TypeLocations:
		return SyncLocations
	case TypeFiles:
		return SyncFiles
	case TypeProducts:
		return SyncProducts
	case TypeCollections:
		return SyncCollections
	case TypePages:
		return SyncPages
	case TypeMenus:
		return SyncMenus
	case TypeMarkets:
		return SyncMarkets
	case TypeDiscovery:
		return SyncDiscovery
	}
	return nil
}

// Run stages, in order.
const (
	StageFetchingProduction = "fetching-production"
	StageFetchingStaging    = "fetching-staging"
	StageProcessingItems    = "processing-items"
	StageFinalizing         = "finalizing"
)

// Summary is the final counts object persisted on a finished sync log.
type Summary struct {
	Total   int      `json:"total"`
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors,omitempty"`
}

// Changes counts the items that were actually written to staging.
func (s Summary) Changes() int { return s.Created + s.Updated }

// DeriveStatus classifies a finished run. A run with no errors is a
// success even when there was nothing to do; errors alongside changes make
// it partially successful; errors without any change make it failed.
func DeriveStatus(s Summary) string {
	hasErrors := s.Failed > 0 || len(s.Errors) > 0
	switch {
	case !hasErrors:
		return models.SyncStatusSuccess
	case s.Changes() > 0:
		return models.SyncStatusPartial
	default:
		return models.SyncStatusFailed
	}
}

// Progress is the live view of a running sync, persisted in place of the
// final summary until the run completes.
type Progress struct {
	Stage      string `json:"stage"`
	Message    string `json:"message,omitempty"`
	Percentage int    `json:"percentage"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
}

// ProgressFunc receives progress after each stage change and processed item.
type ProgressFunc func(Progress)

// LogEntry is one line of the per-run narrative stored with the sync log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Tag       string    `json:"tag,omitempty"`
}

const (
	TagSuccess = "success"
	TagError   = "error"
	TagSkipped = "skipped"
)

// Deps bundles what a resource sync needs: both store clients, the mapping
// store for persisting and resolving cross-store ids, and the reference
// translator.
type Deps struct {
	ConnectionID string
	Production   *shopify.Client
	Staging      *shopify.Client
	Mappings     *mapping.Store
	Translator   *translator.Translator
	Logger       zerolog.Logger
}

// Recorder accumulates the summary and log for one run and pushes progress
// to the caller. It is owned by a single run goroutine and is not safe for
// concurrent use.
type Recorder struct {
	syncType string
	summary  Summary
	logs     []LogEntry
	progress ProgressFunc
	logger   zerolog.Logger

	stage   string
	current int
	maxPct  int
}

func NewRecorder(syncType string, progress ProgressFunc, logger zerolog.Logger) *Recorder {
	return &Recorder{syncType: syncType, progress: progress, logger: logger}
}

// SetTotal fixes the item count used for percentage math.
func (r *Recorder) SetTotal(n int) {
	r.summary.Total = n
}

// Stage announces a new stage and re-emits progress.
func (r *Recorder) Stage(stage, message string) {
	r.stage = stage
	r.emit(message)
}

// Log appends an untagged informational entry.
func (r *Recorder) Log(message string) {
	r.append("", message)
}

func (r *Recorder) Created(label string) {
	r.summary.Created++
	r.item(TagSuccess, fmt.Sprintf("Created %s", label), "created")
}

func (r *Recorder) Updated(label string) {
	r.summary.Updated++
	r.item(TagSuccess, fmt.Sprintf("Updated %s", label), "updated")
}

func (r *Recorder) Skipped(label, reason string) {
	r.summary.Skipped++
	r.item(TagSkipped, fmt.Sprintf("Skipped %s: %s", label, reason), "skipped")
}

func (r *Recorder) Failed(label string, err error) {
	r.summary.Failed++
	r.summary.Errors = append(r.summary.Errors, fmt.Sprintf("%s: %v", label, err))
	r.item(TagError, fmt.Sprintf("Failed %s: %v", label, err), "failed")
}

// Error records a run-level error that is not attributable to one item.
func (r *Recorder) Error(message string) {
	r.summary.Errors = append(r.summary.Errors, message)
	r.append(TagError, message)
}

func (r *Recorder) item(tag, message, outcome string) {
	r.current++
	metrics.SyncItems.WithLabelValues(r.syncType, outcome).Inc()
	r.append(tag, message)
	r.emit(message)
}

func (r *Recorder) append(tag, message string) {
	r.logs = append(r.logs, LogEntry{Timestamp: time.Now().UTC(), Message: message, Tag: tag})
	evt := r.logger.Info()
	if tag == TagError {
		evt = r.logger.Warn()
	}
	evt.Str("sync_type", r.syncType).Msg(message)
}

// emit pushes progress. The percentage is monotonic and capped at 99 until
// Finalize.
func (r *Recorder) emit(message string) {
	if r.progress == nil {
		return
	}
	pct := r.maxPct
	if r.summary.Total > 0 {
		pct = r.current * 100 / r.summary.Total
	}
	if pct > 99 {
		pct = 99
	}
	if pct < r.maxPct {
		pct = r.maxPct
	}
	r.maxPct = pct
	r.progress(Progress{
		Stage:      r.stage,
		Message:    message,
		Percentage: pct,
		Current:    r.current,
		Total:      r.summary.Total,
	})
}

// Finalize computes the terminal status, emits the 100% progress event and
// bumps the run counter.
func (r *Recorder) Finalize() string {
	r.stage = StageFinalizing
	status := DeriveStatus(r.summary)
	if r.progress != nil {
		r.maxPct = 100
		r.progress(Progress{
			Stage:      r.stage,
			Message:    "done",
			Percentage: 100,
			Current:    r.current,
			Total:      r.summary.Total,
		})
	}
	metrics.SyncRuns.WithLabelValues(r.syncType, status).Inc()
	return status
}

func (r *Recorder) Summary() Summary  { return r.summary }
func (r *Recorder) Logs() []LogEntry { return r.logs }

func (r *Recorder) SummaryJSON() json.RawMessage {
	b, err := json.Marshal(r.summary)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// recordItemError classifies a mutation failure for one item: duplicates on
// the destination shop count as skipped, everything else as failed. The
// caller continues with the next item either way.
func recordItemError(rec *Recorder, label string, err error) {
	var uerr *shopify.UserErrorsError
	if errors.As(err, &uerr) && uerr.IsDuplicate() {
		rec.Skipped(label, uerr.Error())
		return
	}
	rec.Failed(label, err)
}

func (r *Recorder) LogsJSON() json.RawMessage {
	if len(r.logs) == 0 {
		return json.RawMessage(`[]`)
	}
	b, err := json.Marshal(r.logs)
	if err != nil {
		return json.RawMessage(`[]`)
	}
	return b
}
