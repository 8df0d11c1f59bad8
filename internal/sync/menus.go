package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listMenusQuery = `
query listMenus($first: Int!, $after: String) {
  menus(first: $first, after: $after) {
    nodes {
      id
      handle
      title
      isDefault
      items {
        title
        type
        url
        resourceId
        tags
        items {
          title
          type
          url
          resourceId
          tags
          items {
            title
            type
            url
            resourceId
            tags
          }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const menuCreateMutation = `
mutation menuCreate($title: String!, $handle: String!, $items: [MenuItemCreateInput!]!) {
  menuCreate(title: $title, handle: $handle, items: $items) {
    menu { id handle }
    userErrors { code field message }
  }
}`

const menuUpdateMutation = `
mutation menuUpdate($id: ID!, $title: String!, $items: [MenuItemUpdateInput!]!) {
  menuUpdate(id: $id, title: $title, items: $items) {
    menu { id handle }
    userErrors { code field message }
  }
}`

type menuItemNode struct {
	Title      string         `json:"title"`
	Type       string         `json:"type"`
	URL        *string        `json:"url"`
	ResourceID *string        `json:"resourceId"`
	Tags       []string       `json:"tags"`
	Items      []menuItemNode `json:"items"`
}

type menuNode struct {
	ID        string         `json:"id"`
	Handle    string         `json:"handle"`
	Title     string         `json:"title"`
	IsDefault bool           `json:"isDefault"`
	Items     []menuItemNode `json:"items"`
}

func fetchAllMenus(ctx context.Context, client *shopify.Client) ([]menuNode, error) {
	var menus []menuNode
	var after any
	for {
		var resp struct {
			Menus struct {
				Nodes    []menuNode       `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"menus"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listMenusQuery, vars, &resp); err != nil {
			return nil, err
		}
		menus = append(menus, resp.Menus.Nodes...)
		if !resp.Menus.PageInfo.HasNextPage {
			return menus, nil
		}
		after = resp.Menus.PageInfo.EndCursor
	}
}

// SyncMenus copies navigation menus, matching by handle. Item resource
// references are rewritten to staging ids; an item whose target has no
// mapping yet keeps its url and loses only the direct reference, so the
// menu still renders.
func SyncMenus(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production menus")
	production, err := fetchAllMenus(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production menus: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d menus in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging menus")
	staging, err := fetchAllMenus(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging menus: %w", err)
	}
	byHandle := make(map[string]menuNode, len(staging))
	for _, m := range staging {
		byHandle[m.Handle] = m
	}

	rec.Stage(StageProcessingItems, "syncing menus")
	for _, menu := range production {
		label := fmt.Sprintf("menu %q", menu.Handle)
		items := buildMenuItems(ctx, deps, menu.Items, "menu:"+menu.Handle)

		var resultID string
		if existing, found := byHandle[menu.Handle]; found {
			id, merr := updateMenu(ctx, deps.Staging, existing.ID, menu.Title, items)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			resultID = id
			rec.Updated(label)
		} else {
			id, merr := createMenu(ctx, deps.Staging, menu.Title, menu.Handle, items)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			resultID = id
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "menu", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(menu.ID),
			StagingID:     shopify.ExtractID(resultID),
			ProductionGID: menu.ID,
			StagingGID:    resultID,
			MatchKey:      "handle",
			MatchValue:    menu.Handle,
			Title:         menu.Title,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}
	}
	return nil
}

// buildMenuItems converts a production item tree into mutation input,
// translating each resourceId through the mapping store.
func buildMenuItems(ctx context.Context, deps Deps, items []menuItemNode, refContext string) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		input := map[string]any{
			"title": item.Title,
			"type":  item.Type,
		}
		if item.URL != nil {
			input["url"] = *item.URL
		}
		if len(item.Tags) > 0 {
			input["tags"] = item.Tags
		}
		if item.ResourceID != nil && *item.ResourceID != "" {
			res, err := deps.Translator.TranslateGID(ctx, deps.ConnectionID, *item.ResourceID, refContext+" item:"+item.Title, TypeMenus)
			if err == nil && res.Success {
				input["resourceId"] = res.StagingGID
			}
		}
		if len(item.Items) > 0 {
			input["items"] = buildMenuItems(ctx, deps, item.Items, refContext)
		}
		out = append(out, input)
	}
	return out
}

func createMenu(ctx context.Context, client *shopify.Client, title, handle string, items []map[string]any) (string, error) {
	var resp struct {
		MenuCreate struct {
			Menu       *menuNode           `json:"menu"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"menuCreate"`
	}
	vars := map[string]any{"title": title, "handle": handle, "items": items}
	if err := client.Query(ctx, menuCreateMutation, vars, &resp); err != nil {
		return "", err
	}
	if err := shopify.UserErrorsToError(resp.MenuCreate.UserErrors); err != nil {
		return "", err
	}
	if resp.MenuCreate.Menu == nil {
		return "", fmt.Errorf("menuCreate returned no menu")
	}
	return resp.MenuCreate.Menu.ID, nil
}

func updateMenu(ctx context.Context, client *shopify.Client, id, title string, items []map[string]any) (string, error) {
	var resp struct {
		MenuUpdate struct {
			Menu       *menuNode           `json:"menu"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"menuUpdate"`
	}
	vars := map[string]any{"id": id, "title": title, "items": items}
	if err := client.Query(ctx, menuUpdateMutation, vars, &resp); err != nil {
		return "", err
	}
	if err := shopify.UserErrorsToError(resp.MenuUpdate.UserErrors); err != nil {
		return "", err
	}
	if resp.MenuUpdate.Menu == nil {
		return "", fmt.Errorf("menuUpdate returned no menu")
	}
	return resp.MenuUpdate.Menu.ID, nil
}
