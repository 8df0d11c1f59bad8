package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listPagesQuery = `
query listPages($first: Int!, $after: String) {
  pages(first: $first, after: $after) {
    nodes {
      id
      title
      handle
      body
      isPublished
      templateSuffix
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const pageCreateMutation = `
mutation pageCreate($page: PageCreateInput!) {
  pageCreate(page: $page) {
    page { id title handle }
    userErrors { code field message }
  }
}`

const pageUpdateMutation = `
mutation pageUpdate($id: ID!, $page: PageUpdateInput!) {
  pageUpdate(id: $id, page: $page) {
    page { id title handle }
    userErrors { code field message }
  }
}`

type pageNode struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Handle         string  `json:"handle"`
	Body           string  `json:"body"`
	IsPublished    bool    `json:"isPublished"`
	TemplateSuffix *string `json:"templateSuffix"`
}

func fetchAllPages(ctx context.Context, client *shopify.Client) ([]pageNode, error) {
	var pages []pageNode
	var after any
	for {
		var resp struct {
			Pages struct {
				Nodes    []pageNode       `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"pages"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listPagesQuery, vars, &resp); err != nil {
			return nil, err
		}
		pages = append(pages, resp.Pages.Nodes...)
		if !resp.Pages.PageInfo.HasNextPage {
			return pages, nil
		}
		after = resp.Pages.PageInfo.EndCursor
	}
}

// SyncPages copies online-store pages, matching by handle. Page bodies run
// through the reference translator so embedded links to already-synced
// resources point at their staging equivalents.
func SyncPages(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production pages")
	production, err := fetchAllPages(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production pages: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d pages in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging pages")
	staging, err := fetchAllPages(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging pages: %w", err)
	}
	byHandle := make(map[string]pageNode, len(staging))
	for _, p := range staging {
		byHandle[p.Handle] = p
	}

	rec.Stage(StageProcessingItems, "syncing pages")
	for _, page := range production {
		label := fmt.Sprintf("page %q", page.Handle)

		body := page.Body
		if deps.Translator.ContainsGIDs(body) {
			res, terr := deps.Translator.TranslateGIDsInString(ctx, deps.ConnectionID, body, "page:"+page.Handle, TypePages)
			if terr == nil {
				body = res.Value
			}
		}

		input := map[string]any{
			"title":          page.Title,
			"body":           body,
			"isPublished":    page.IsPublished,
			"templateSuffix": page.TemplateSuffix,
		}

		existing, found := byHandle[page.Handle]
		var result pageNode
		if found {
			updated, merr := updatePage(ctx, deps.Staging, existing.ID, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			result = updated
			rec.Updated(label)
		} else {
			input["handle"] = page.Handle
			created, merr := createPage(ctx, deps.Staging, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			result = created
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "page", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(page.ID),
			StagingID:     shopify.ExtractID(result.ID),
			ProductionGID: page.ID,
			StagingGID:    result.ID,
			MatchKey:      "handle",
			MatchValue:    page.Handle,
			Title:         page.Title,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}
	}
	return nil
}

func createPage(ctx context.Context, client *shopify.Client, input map[string]any) (pageNode, error) {
	var resp struct {
		PageCreate struct {
			Page       *pageNode           `json:"page"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"pageCreate"`
	}
	if err := client.Query(ctx, pageCreateMutation, map[string]any{"page": input}, &resp); err != nil {
		return pageNode{}, err
	}
	if err := shopify.UserErrorsToError(resp.PageCreate.UserErrors); err != nil {
		return pageNode{}, err
	}
	if resp.PageCreate.Page == nil {
		return pageNode{}, fmt.Errorf("pageCreate returned no page")
	}
	return *resp.PageCreate.Page, nil
}

func updatePage(ctx context.Context, client *shopify.Client, id string, input map[string]any) (pageNode, error) {
	var resp struct {
		PageUpdate struct {
			Page       *pageNode           `json:"page"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"pageUpdate"`
	}
	if err := client.Query(ctx, pageUpdateMutation, map[string]any{"id": id, "page": input}, &resp); err != nil {
		return pageNode{}, err
	}
	if err := shopify.UserErrorsToError(resp.PageUpdate.UserErrors); err != nil {
		return pageNode{}, err
	}
	if resp.PageUpdate.Page == nil {
		return pageNode{}, fmt.Errorf("pageUpdate returned no page")
	}
	return *resp.PageUpdate.Page, nil
}
