package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type fakeMappingRepo struct {
	rows     map[string]*models.ResourceMapping
	unmapped map[string]*models.UnmappedReference
	failOn   string
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{
		rows:     map[string]*models.ResourceMapping{},
		unmapped: map[string]*models.UnmappedReference{},
	}
}

func mappingKey(connectionID, resourceType, productionID string) string {
	return strings.Join([]string{connectionID, resourceType, productionID}, "|")
}

func (f *fakeMappingRepo) Upsert(ctx context.Context, m *models.ResourceMapping) (bool, error) {
	if f.failOn != "" && m.ProductionID == f.failOn {
		return false, fmt.Errorf("forced failure for %s", m.ProductionID)
	}
	key := mappingKey(m.ConnectionID, m.ResourceType, m.ProductionID)
	_, exists := f.rows[key]
	m.LastSyncedAt = time.Now()
	if !exists {
		m.CreatedAt = m.LastSyncedAt
	}
	copied := *m
	f.rows[key] = &copied
	return !exists, nil
}

func (f *fakeMappingRepo) GetByProductionID(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error) {
	m, ok := f.rows[mappingKey(connectionID, resourceType, productionID)]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

func (f *fakeMappingRepo) List(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error) {
	var out []*models.ResourceMapping
	for _, m := range f.rows {
		if m.ConnectionID != connectionID {
			continue
		}
		if resourceType != "" && resourceType != "all" && m.ResourceType != resourceType {
			continue
		}
		copied := *m
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeMappingRepo) Count(ctx context.Context, connectionID, resourceType string) (int, error) {
	list, _ := f.List(ctx, connectionID, resourceType, 0, 0, "")
	return len(list), nil
}

func (f *fakeMappingRepo) Stats(ctx context.Context, connectionID string) ([]*models.MappingStat, error) {
	counts := map[string]int{}
	for _, m := range f.rows {
		if m.ConnectionID == connectionID {
			counts[m.ResourceType]++
		}
	}
	var stats []*models.MappingStat
	for rt, n := range counts {
		stats = append(stats, &models.MappingStat{ResourceType: rt, Count: n})
	}
	return stats, nil
}

func (f *fakeMappingRepo) DeleteByConnection(ctx context.Context, connectionID string) (int64, error) {
	var deleted int64
	for key, m := range f.rows {
		if m.ConnectionID == connectionID {
			delete(f.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeMappingRepo) UpsertUnmapped(ctx context.Context, ref *models.UnmappedReference) error {
	key := strings.Join([]string{ref.ConnectionID, ref.ProductionGID, ref.Context}, "|")
	ref.AttemptedAt = time.Now()
	copied := *ref
	f.unmapped[key] = &copied
	return nil
}

func (f *fakeMappingRepo) ListUnmapped(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error) {
	var out []*models.UnmappedReference
	for _, ref := range f.unmapped {
		if ref.ConnectionID != connectionID {
			continue
		}
		if !includeResolved && ref.Resolved {
			continue
		}
		copied := *ref
		out = append(out, &copied)
	}
	return out, nil
}

func (f *fakeMappingRepo) MarkUnmappedResolved(ctx context.Context, id string) error {
	for _, ref := range f.unmapped {
		if ref.ID == id {
			ref.Resolved = true
			now := time.Now()
			ref.ResolvedAt = &now
			return nil
		}
	}
	return fmt.Errorf("unmapped reference %s not found", id)
}

func newTestStore(repo *fakeMappingRepo) *Store {
	return NewStore(repo, zerolog.Nop())
}

func TestSaveMappingRequiresMatchKey(t *testing.T) {
	store := newTestStore(newFakeMappingRepo())

	_, _, err := store.SaveMapping(context.Background(), "conn-1", "page", SaveMappingInput{
		ProductionID: "1",
		StagingID:    "2",
		MatchValue:   "about-us",
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want *ValidationError for missing match key, got %v", err)
	}

	_, _, err = store.SaveMapping(context.Background(), "conn-1", "page", SaveMappingInput{
		ProductionID: "1",
		StagingID:    "2",
		MatchKey:     "handle",
	})
	if !errors.As(err, &verr) {
		t.Fatalf("want *ValidationError for missing match value, got %v", err)
	}
}

func TestSaveMappingUpsertIdempotent(t *testing.T) {
	repo := newFakeMappingRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	first, created, err := store.SaveMapping(ctx, "conn-1", "page", SaveMappingInput{
		ProductionID: "100", StagingID: "200",
		ProductionGID: "gid://shopify/Page/100", StagingGID: "gid://shopify/Page/200",
		MatchKey: "handle", MatchValue: "about-us",
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if !created {
		t.Error("first save should report created")
	}

	second, created, err := store.SaveMapping(ctx, "conn-1", "page", SaveMappingInput{
		ProductionID: "100", StagingID: "999",
		ProductionGID: "gid://shopify/Page/100", StagingGID: "gid://shopify/Page/999",
		MatchKey: "handle", MatchValue: "about-us",
	})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if created {
		t.Error("second save of the same production id should report updated, not created")
	}
	if second.StagingID != "999" {
		t.Errorf("staging id after re-save = %q, want 999", second.StagingID)
	}

	if n, _ := repo.Count(ctx, "conn-1", "page"); n != 1 {
		t.Errorf("row count after two saves = %d, want exactly 1", n)
	}
	if !second.LastSyncedAt.After(first.LastSyncedAt) && !second.LastSyncedAt.Equal(first.LastSyncedAt) {
		t.Error("last synced at should move forward on re-save")
	}
}

func TestSaveMappingsPartialFailure(t *testing.T) {
	repo := newFakeMappingRepo()
	repo.failOn = "2"
	store := newTestStore(repo)

	inputs := []SaveMappingInput{
		{ProductionID: "1", StagingID: "10", MatchKey: "handle", MatchValue: "a"},
		{ProductionID: "2", StagingID: "20", MatchKey: "handle", MatchValue: "b"},
		{ProductionID: "3", StagingID: "30", MatchKey: "handle", MatchValue: "c"},
	}
	result := store.SaveMappings(context.Background(), "conn-1", "collection", inputs)

	if result.Created != 2 {
		t.Errorf("created = %d, want 2", result.Created)
	}
	if result.Failed != 1 {
		t.Errorf("failed = %d, want 1", result.Failed)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "collection 2") {
		t.Errorf("errors = %v, want one entry naming collection 2", result.Errors)
	}
}

func TestGetMappingByProductionGID(t *testing.T) {
	repo := newFakeMappingRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	// Stored under the normalized vocabulary, looked up by wire-level type.
	if _, _, err := store.SaveMapping(ctx, "conn-1", "variant", SaveMappingInput{
		ProductionID: "555", StagingID: "777",
		ProductionGID: "gid://shopify/ProductVariant/555",
		StagingGID:    "gid://shopify/ProductVariant/777",
		MatchKey:      "sku", MatchValue: "SKU-5",
	}); err != nil {
		t.Fatalf("seed mapping: %v", err)
	}

	m, err := store.GetMappingByProductionGID(ctx, "conn-1", "gid://shopify/ProductVariant/555")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m == nil || m.StagingID != "777" {
		t.Fatalf("lookup = %+v, want staging id 777", m)
	}

	m, err = store.GetMappingByProductionGID(ctx, "conn-1", "not a gid")
	if err != nil || m != nil {
		t.Errorf("malformed gid should yield (nil, nil), got (%v, %v)", m, err)
	}

	m, err = store.GetMappingByProductionGID(ctx, "conn-1", "gid://shopify/ProductVariant/404")
	if err != nil || m != nil {
		t.Errorf("unknown gid should yield (nil, nil), got (%v, %v)", m, err)
	}
}

func TestLogUnmappedReference(t *testing.T) {
	repo := newFakeMappingRepo()
	store := newTestStore(repo)
	ctx := context.Background()

	if err := store.LogUnmappedReference(ctx, "conn-1", "garbage", "product:1", "products"); err != nil {
		t.Errorf("malformed gid must not error, got %v", err)
	}
	if len(repo.unmapped) != 0 {
		t.Errorf("malformed gid should not be recorded, ledger has %d entries", len(repo.unmapped))
	}

	for i := 0; i < 2; i++ {
		if err := store.LogUnmappedReference(ctx, "conn-1", "gid://shopify/Product/9", "product:1 metafield:custom.related", "collections"); err != nil {
			t.Fatalf("log attempt %d: %v", i+1, err)
		}
	}
	if len(repo.unmapped) != 1 {
		t.Errorf("repeat of the same reference should refresh, not duplicate; ledger has %d entries", len(repo.unmapped))
	}
}
