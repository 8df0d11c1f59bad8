package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listCollectionsQuery = `
query listCollections($first: Int!, $after: String) {
  collections(first: $first, after: $after) {
    nodes {
      id
      handle
      title
      descriptionHtml
      sortOrder
      templateSuffix
      ruleSet {
        appliedDisjunctively
        rules { column relation condition }
      }
      products(first: 250) {
        nodes { id handle }
      }
      metafields(first: 50) {
        nodes { namespace key value type }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const collectionCreateMutation = `
mutation collectionCreate($input: CollectionInput!) {
  collectionCreate(input: $input) {
    collection { id handle }
    userErrors { code field message }
  }
}`

const collectionUpdateMutation = `
mutation collectionUpdate($input: CollectionInput!) {
  collectionUpdate(input: $input) {
    collection { id handle }
    userErrors { code field message }
  }
}`

const collectionAddProductsMutation = `
mutation collectionAddProducts($id: ID!, $productIds: [ID!]!) {
  collectionAddProductsV2(id: $id, productIds: $productIds) {
    job { id }
    userErrors { code field message }
  }
}`

const findProductByHandleQuery = `
query findProduct($query: String!) {
  products(first: 1, query: $query) {
    nodes { id handle }
  }
}`

type collectionRule struct {
	Column    string `json:"column"`
	Relation  string `json:"relation"`
	Condition string `json:"condition"`
}

type collectionRuleSet struct {
	AppliedDisjunctively bool             `json:"appliedDisjunctively"`
	Rules                []collectionRule `json:"rules"`
}

type collectionNode struct {
	ID              string             `json:"id"`
	Handle          string             `json:"handle"`
	Title           string             `json:"title"`
	DescriptionHTML string             `json:"descriptionHtml"`
	SortOrder       string             `json:"sortOrder"`
	TemplateSuffix  *string            `json:"templateSuffix"`
	RuleSet         *collectionRuleSet `json:"ruleSet"`
	Products        struct {
		Nodes []struct {
			ID     string `json:"id"`
			Handle string `json:"handle"`
		} `json:"nodes"`
	} `json:"products"`
	Metafields struct {
		Nodes []metafieldNode `json:"nodes"`
	} `json:"metafields"`
}

func fetchAllCollections(ctx context.Context, client *shopify.Client) ([]collectionNode, error) {
	var collections []collectionNode
	var after any
	for {
		var resp struct {
			Collections struct {
				Nodes    []collectionNode `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"collections"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listCollectionsQuery, vars, &resp); err != nil {
			return nil, err
		}
		collections = append(collections, resp.Collections.Nodes...)
		if !resp.Collections.PageInfo.HasNextPage {
			return collections, nil
		}
		after = resp.Collections.PageInfo.EndCursor
	}
}

// SyncCollections copies smart and custom collections, matching by handle.
// Smart collections carry their rule set; custom collections get their
// membership re-resolved against staging products after the collection
// itself exists. Collection metafields go through the reference translator.
func SyncCollections(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production collections")
	production, err := fetchAllCollections(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production collections: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d collections in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging collections")
	staging, err := fetchAllCollections(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging collections: %w", err)
	}
	byHandle := make(map[string]collectionNode, len(staging))
	for _, c := range staging {
		byHandle[c.Handle] = c
	}

	rec.Stage(StageProcessingItems, "syncing collections")
	for _, coll := range production {
		label := fmt.Sprintf("collection %q", coll.Handle)

		description := coll.DescriptionHTML
		if deps.Translator.ContainsGIDs(description) {
			res, terr := deps.Translator.TranslateGIDsInString(ctx, deps.ConnectionID, description, "collection:"+coll.Handle, TypeCollections)
			if terr == nil {
				description = res.Value
			}
		}

		input := map[string]any{
			"title":           coll.Title,
			"descriptionHtml": description,
			"sortOrder":       coll.SortOrder,
			"templateSuffix":  coll.TemplateSuffix,
		}
		if coll.RuleSet != nil {
			rules := make([]map[string]any, 0, len(coll.RuleSet.Rules))
			for _, r := range coll.RuleSet.Rules {
				rules = append(rules, map[string]any{
					"column":    r.Column,
					"relation":  r.Relation,
					"condition": r.Condition,
				})
			}
			input["ruleSet"] = map[string]any{
				"appliedDisjunctively": coll.RuleSet.AppliedDisjunctively,
				"rules":                rules,
			}
		}

		var stagingGID string
		existing, found := byHandle[coll.Handle]
		if found {
			input["id"] = existing.ID
			id, merr := mutateCollection(ctx, deps.Staging, collectionUpdateMutation, "collectionUpdate", input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Updated(label)
		} else {
			input["handle"] = coll.Handle
			id, merr := mutateCollection(ctx, deps.Staging, collectionCreateMutation, "collectionCreate", input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "collection", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(coll.ID),
			StagingID:     shopify.ExtractID(stagingGID),
			ProductionGID: coll.ID,
			StagingGID:    stagingGID,
			MatchKey:      "handle",
			MatchValue:    coll.Handle,
			Title:         coll.Title,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}

		// Smart collections populate themselves from the rule set.
		if coll.RuleSet == nil && len(coll.Products.Nodes) > 0 {
			syncCollectionMembership(ctx, deps, rec, coll, stagingGID, label)
		}

		if len(coll.Metafields.Nodes) > 0 {
			n, merr := syncOwnerMetafields(ctx, deps, stagingGID, "collection:"+coll.Handle, TypeCollections, coll.Metafields.Nodes)
			if merr != nil {
				rec.Error(fmt.Sprintf("metafields for %s: %v", label, merr))
			} else if n > 0 {
				rec.Log(fmt.Sprintf("Set %d metafields on %s", n, label))
			}
		}
	}
	return nil
}

// syncCollectionMembership resolves each production member to its staging
// product, preferring the mapping store and falling back to a handle lookup
// for products synced outside this tool. Unresolvable members are recorded
// as unmapped references and do not fail the collection.
func syncCollectionMembership(ctx context.Context, deps Deps, rec *Recorder, coll collectionNode, stagingGID, label string) {
	productIDs := make([]string, 0, len(coll.Products.Nodes))
	missing := 0
	for _, p := range coll.Products.Nodes {
		m, err := deps.Mappings.GetMappingByProductionGID(ctx, deps.ConnectionID, p.ID)
		if err == nil && m != nil {
			productIDs = append(productIDs, m.StagingGID)
			continue
		}
		if gid, lerr := findStagingProductByHandle(ctx, deps.Staging, p.Handle); lerr == nil && gid != "" {
			productIDs = append(productIDs, gid)
			continue
		}
		missing++
		deps.Mappings.LogUnmappedReference(ctx, deps.ConnectionID, p.ID, fmt.Sprintf("collection:%s member:%s", coll.Handle, p.Handle), TypeCollections)
	}
	if missing > 0 {
		rec.Log(fmt.Sprintf("%d of %d products in %s have no staging match yet", missing, len(coll.Products.Nodes), label))
	}
	if len(productIDs) == 0 {
		return
	}

	var resp struct {
		CollectionAddProductsV2 struct {
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"collectionAddProductsV2"`
	}
	vars := map[string]any{"id": stagingGID, "productIds": productIDs}
	if err := deps.Staging.Query(ctx, collectionAddProductsMutation, vars, &resp); err != nil {
		rec.Error(fmt.Sprintf("add products to %s: %v", label, err))
		return
	}
	if err := shopify.UserErrorsToError(resp.CollectionAddProductsV2.UserErrors); err != nil {
		var uerr *shopify.UserErrorsError
		// Re-adding existing members reports a duplicate; membership is
		// already correct in that case.
		if errors.As(err, &uerr) && uerr.IsDuplicate() {
			return
		}
		rec.Error(fmt.Sprintf("add products to %s: %v", label, err))
	}
}

func mutateCollection(ctx context.Context, client *shopify.Client, mutation, field string, input map[string]any) (string, error) {
	var resp map[string]struct {
		Collection *struct {
			ID string `json:"id"`
		} `json:"collection"`
		UserErrors []shopify.UserError `json:"userErrors"`
	}
	if err := client.Query(ctx, mutation, map[string]any{"input": input}, &resp); err != nil {
		return "", err
	}
	payload := resp[field]
	if err := shopify.UserErrorsToError(payload.UserErrors); err != nil {
		return "", err
	}
	if payload.Collection == nil {
		return "", fmt.Errorf("%s returned no collection", field)
	}
	return payload.Collection.ID, nil
}

func findStagingProductByHandle(ctx context.Context, client *shopify.Client, handle string) (string, error) {
	var resp struct {
		Products struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"products"`
	}
	vars := map[string]any{"query": fmt.Sprintf("handle:'%s'", handle)}
	if err := client.Query(ctx, findProductByHandleQuery, vars, &resp); err != nil {
		return "", err
	}
	if len(resp.Products.Nodes) == 0 {
		return "", nil
	}
	return resp.Products.Nodes[0].ID, nil
}
