package sync

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    string
	}{
		{
			name:    "all created",
			summary: Summary{Total: 3, Created: 3},
			want:    models.SyncStatusSuccess,
		},
		{
			name:    "changes with errors",
			summary: Summary{Total: 4, Created: 3, Failed: 1, Errors: []string{"x"}},
			want:    models.SyncStatusPartial,
		},
		{
			name:    "nothing to do",
			summary: Summary{Total: 5, Skipped: 5},
			want:    models.SyncStatusSuccess,
		},
		{
			name:    "empty run",
			summary: Summary{},
			want:    models.SyncStatusSuccess,
		},
		{
			name:    "only failures",
			summary: Summary{Total: 2, Failed: 2, Errors: []string{"a", "b"}},
			want:    models.SyncStatusFailed,
		},
		{
			name:    "run-level error without item changes",
			summary: Summary{Errors: []string{"fetch failed"}},
			want:    models.SyncStatusFailed,
		},
		{
			name:    "updates with skips",
			summary: Summary{Total: 3, Updated: 2, Skipped: 1},
			want:    models.SyncStatusSuccess,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveStatus(tt.summary); got != tt.want {
				t.Errorf("DeriveStatus(%+v) = %q, want %q", tt.summary, got, tt.want)
			}
		})
	}
}

func TestRecorderCounts(t *testing.T) {
	rec := NewRecorder(TypePages, nil, zerolog.Nop())
	rec.SetTotal(4)
	rec.Created("page one")
	rec.Updated("page two")
	rec.Skipped("page three", "duplicate handle")
	rec.Failed("page four", errors.New("boom"))

	s := rec.Summary()
	if s.Total != 4 || s.Created != 1 || s.Updated != 1 || s.Skipped != 1 || s.Failed != 1 {
		t.Errorf("summary = %+v", s)
	}
	if len(s.Errors) != 1 || s.Errors[0] != "page four: boom" {
		t.Errorf("errors = %v", s.Errors)
	}
	if got := rec.Finalize(); got != models.SyncStatusPartial {
		t.Errorf("Finalize status = %q, want partial", got)
	}
	if len(rec.Logs()) != 4 {
		t.Errorf("log entries = %d, want 4", len(rec.Logs()))
	}
}

func TestRecorderProgressMonotonic(t *testing.T) {
	var seen []Progress
	rec := NewRecorder(TypePages, func(p Progress) { seen = append(seen, p) }, zerolog.Nop())
	rec.Stage(StageFetchingProduction, "fetching pages")
	rec.SetTotal(3)
	rec.Stage(StageProcessingItems, "processing")
	rec.Created("a")
	rec.Created("b")
	rec.Created("c")
	rec.Finalize()

	if len(seen) == 0 {
		t.Fatal("no progress events")
	}
	last := -1
	for i, p := range seen {
		if p.Percentage < last {
			t.Errorf("progress went backwards at %d: %d -> %d", i, last, p.Percentage)
		}
		last = p.Percentage
		if p.Percentage == 100 && i != len(seen)-1 {
			t.Errorf("100%% emitted before finalize, event %d", i)
		}
	}
	final := seen[len(seen)-1]
	if final.Percentage != 100 || final.Stage != StageFinalizing {
		t.Errorf("final event = %+v", final)
	}
}

func TestValidType(t *testing.T) {
	for _, typ := range DefaultOrder {
		if !ValidType(typ) {
			t.Errorf("ValidType(%q) = false", typ)
		}
	}
	if ValidType("users") {
		t.Error("ValidType(users) = true")
	}
	if !LongRunning(TypeProducts) || LongRunning(TypePages) {
		t.Error("LongRunning classification wrong")
	}
}
