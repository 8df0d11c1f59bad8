package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/translator"
)

// memMappingRepo is an in-memory stand-in for the Postgres mapping
// repository, good enough to drive module runs in tests.
type memMappingRepo struct {
	mu       sync.Mutex
	seq      int
	rows     map[string]*models.ResourceMapping
	unmapped map[string]*models.UnmappedReference
}

func newMemMappingRepo() *memMappingRepo {
	return &memMappingRepo{
		rows:     make(map[string]*models.ResourceMapping),
		unmapped: make(map[string]*models.UnmappedReference),
	}
}

func mappingKey(connectionID, resourceType, productionID string) string {
	return connectionID + "|" + resourceType + "|" + productionID
}

func (r *memMappingRepo) Upsert(ctx context.Context, m *models.ResourceMapping) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := mappingKey(m.ConnectionID, m.ResourceType, m.ProductionID)
	if existing, ok := r.rows[key]; ok {
		existing.StagingID = m.StagingID
		existing.ProductionGID = m.ProductionGID
		existing.StagingGID = m.StagingGID
		existing.MatchKey = m.MatchKey
		existing.MatchValue = m.MatchValue
		existing.LastSyncedAt = time.Now()
		*m = *existing
		return false, nil
	}
	r.seq++
	m.ID = fmt.Sprintf("mapping-%d", r.seq)
	m.LastSyncedAt = time.Now()
	m.CreatedAt = time.Now()
	cp := *m
	r.rows[key] = &cp
	return true, nil
}

func (r *memMappingRepo) GetByProductionID(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[mappingKey(connectionID, resourceType, productionID)]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *memMappingRepo) List(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ResourceMapping
	for _, m := range r.rows {
		if m.ConnectionID != connectionID {
			continue
		}
		if resourceType != "all" && resourceType != "" && m.ResourceType != resourceType {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memMappingRepo) Count(ctx context.Context, connectionID, resourceType string) (int, error) {
	rows, _ := r.List(ctx, connectionID, resourceType, 0, 0, "")
	return len(rows), nil
}

func (r *memMappingRepo) Stats(ctx context.Context, connectionID string) ([]*models.MappingStat, error) {
	return nil, nil
}

func (r *memMappingRepo) DeleteByConnection(ctx context.Context, connectionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for key, m := range r.rows {
		if m.ConnectionID == connectionID {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}

func (r *memMappingRepo) UpsertUnmapped(ctx context.Context, ref *models.UnmappedReference) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := ref.ConnectionID + "|" + ref.ProductionGID + "|" + ref.Context
	ref.AttemptedAt = time.Now()
	cp := *ref
	r.unmapped[key] = &cp
	return nil
}

func (r *memMappingRepo) ListUnmapped(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.UnmappedReference
	for _, ref := range r.unmapped {
		if ref.ConnectionID != connectionID {
			continue
		}
		cp := *ref
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memMappingRepo) MarkUnmappedResolved(ctx context.Context, id string) error {
	return nil
}

// graphqlHandler dispatches a fake shop. Handlers key on a substring of the
// operation, usually its name.
type graphqlHandler func(vars map[string]interface{}) (interface{}, error)

type fakeShop struct {
	mu       sync.Mutex
	handlers map[string]graphqlHandler
	calls    map[string]int
	server   *httptest.Server
}

func newFakeShop(t interface{ Fatalf(string, ...interface{}) }) *fakeShop {
	shop := &fakeShop{
		handlers: make(map[string]graphqlHandler),
		calls:    make(map[string]int),
	}
	shop.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode graphql request: %v", err)
		}
		shop.mu.Lock()
		var handler graphqlHandler
		var matched string
		for op, h := range shop.handlers {
			if strings.Contains(req.Query, op) {
				handler = h
				matched = op
				break
			}
		}
		if matched != "" {
			shop.calls[matched]++
		}
		shop.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if handler == nil {
			t.Fatalf("no handler for query: %s", req.Query)
			return
		}
		data, err := handler(req.Variables)
		if err != nil {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"errors": []map[string]interface{}{{"message": err.Error()}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	return shop
}

func (f *fakeShop) handle(op string, h graphqlHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[op] = h
}

func (f *fakeShop) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeShop) close() { f.server.Close() }

func (f *fakeShop) client(shop string) *shopify.Client {
	return shopify.NewClient(shopify.ClientConfig{
		Shop:        shop,
		AccessToken: "test-token",
		Endpoint:    f.server.URL,
		Logger:      zerolog.Nop(),
	})
}

const testConnectionID = "conn-test"

func newTestDeps(production, staging *fakeShop) (Deps, *memMappingRepo) {
	repo := newMemMappingRepo()
	store := mapping.NewStore(repo, zerolog.Nop())
	return Deps{
		ConnectionID: testConnectionID,
		Production:   production.client("production.myshopify.com"),
		Staging:      staging.client("staging.myshopify.com"),
		Mappings:     store,
		Translator:   translator.New(store, zerolog.Nop()),
		Logger:       zerolog.Nop(),
	}, repo
}

// pagesPayload builds a single-page pages response.
func pagesPayload(nodes []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"pages": map[string]interface{}{
			"nodes":    nodes,
			"pageInfo": map[string]interface{}{"hasNextPage": false, "endCursor": ""},
		},
	}
}

func userErrorsPayload(field, code, message string) []map[string]interface{} {
	return []map[string]interface{}{
		{"field": []string{field}, "code": code, "message": message},
	}
}
