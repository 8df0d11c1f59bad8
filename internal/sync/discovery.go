package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listDiscoveryMetafieldsQuery = `
query listDiscoveryMetafields($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    nodes {
      id
      handle
      recommendation: metafields(first: 20, namespace: "shopify--discovery--product_recommendation") {
        nodes { namespace key value type }
      }
      search: metafields(first: 20, namespace: "shopify--discovery--product_search_boost") {
        nodes { namespace key value type }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

type discoveryProduct struct {
	ID             string `json:"id"`
	Handle         string `json:"handle"`
	Recommendation struct {
		Nodes []metafieldNode `json:"nodes"`
	} `json:"recommendation"`
	Search struct {
		Nodes []metafieldNode `json:"nodes"`
	} `json:"search"`
}

func (p discoveryProduct) metafields() []metafieldNode {
	out := make([]metafieldNode, 0, len(p.Recommendation.Nodes)+len(p.Search.Nodes))
	out = append(out, p.Recommendation.Nodes...)
	out = append(out, p.Search.Nodes...)
	return out
}

func fetchDiscoveryProducts(ctx context.Context, client *shopify.Client) ([]discoveryProduct, error) {
	var products []discoveryProduct
	var after any
	for {
		var resp struct {
			Products struct {
				Nodes    []discoveryProduct `json:"nodes"`
				PageInfo shopify.PageInfo   `json:"pageInfo"`
			} `json:"products"`
		}
		vars := map[string]any{"first": 100, "after": after}
		if err := client.Query(ctx, listDiscoveryMetafieldsQuery, vars, &resp); err != nil {
			return nil, err
		}
		products = append(products, resp.Products.Nodes...)
		if !resp.Products.PageInfo.HasNextPage {
			return products, nil
		}
		after = resp.Products.PageInfo.EndCursor
	}
}

// SyncDiscovery copies search & discovery metafields, the complementary and
// related product recommendations. It runs after products so the embedded
// product references can translate; a product with no staging mapping yet is
// skipped and its reference recorded for reconciliation.
func SyncDiscovery(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production discovery metafields")
	all, err := fetchDiscoveryProducts(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production discovery metafields: %w", err)
	}

	withMetafields := make([]discoveryProduct, 0)
	for _, p := range all {
		if len(p.metafields()) > 0 {
			withMetafields = append(withMetafields, p)
		}
	}
	rec.SetTotal(len(withMetafields))
	rec.Log(fmt.Sprintf("Found %d products with discovery metafields in production", len(withMetafields)))

	rec.Stage(StageProcessingItems, "syncing discovery metafields")
	for _, p := range withMetafields {
		label := fmt.Sprintf("discovery metafields for product %q", p.Handle)

		m, err := deps.Mappings.GetMappingByProductionGID(ctx, deps.ConnectionID, p.ID)
		if err != nil {
			rec.Failed(label, err)
			continue
		}
		if m == nil {
			deps.Mappings.LogUnmappedReference(ctx, deps.ConnectionID, p.ID, "discovery:"+p.Handle, TypeDiscovery)
			rec.Skipped(label, "product not synced to staging yet")
			continue
		}

		n, merr := syncOwnerMetafields(ctx, deps, m.StagingGID, "discovery:"+p.Handle, TypeDiscovery, p.metafields())
		if merr != nil {
			rec.Failed(label, merr)
			continue
		}
		if n == 0 {
			rec.Skipped(label, "no metafield values to write")
			continue
		}
		rec.Updated(label)
	}
	return nil
}
