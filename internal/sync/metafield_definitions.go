package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listMetafieldDefinitionsQuery = `
query listMetafieldDefinitions($ownerType: MetafieldOwnerType!, $first: Int!, $after: String) {
  metafieldDefinitions(ownerType: $ownerType, first: $first, after: $after) {
    nodes {
      id
      name
      namespace
      key
      description
      ownerType
      pinnedPosition
      type { name }
      validations { name value }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const metafieldDefinitionCreateMutation = `
mutation metafieldDefinitionCreate($definition: MetafieldDefinitionInput!) {
  metafieldDefinitionCreate(definition: $definition) {
    createdDefinition { id namespace key }
    userErrors { code field message }
  }
}`

const metafieldDefinitionUpdateMutation = `
mutation metafieldDefinitionUpdate($definition: MetafieldDefinitionUpdateInput!) {
  metafieldDefinitionUpdate(definition: $definition) {
    updatedDefinition { id namespace key }
    userErrors { code field message }
  }
}`

// metafieldOwnerTypes are the owner surfaces copied between stores, in a
// fixed order so runs are reproducible.
var metafieldOwnerTypes = []string{
	"PRODUCT",
	"PRODUCTVARIANT",
	"COLLECTION",
	"CUSTOMER",
	"ORDER",
	"PAGE",
	"LOCATION",
	"MARKET",
	"SHOP",
}

type metafieldDefinitionNode struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Namespace      string  `json:"namespace"`
	Key            string  `json:"key"`
	Description    *string `json:"description"`
	OwnerType      string  `json:"ownerType"`
	PinnedPosition *int    `json:"pinnedPosition"`
	Type           struct {
		Name string `json:"name"`
	} `json:"type"`
	Validations []definitionValidation `json:"validations"`
}

func (d metafieldDefinitionNode) matchValue() string {
	return fmt.Sprintf("%s.%s:%s", d.Namespace, d.Key, d.OwnerType)
}

// pendingDefinitionCreate is a definition deferred because its type requires
// a metaobject-definition validation that has no staging mapping yet.
type pendingDefinitionCreate struct {
	def metafieldDefinitionNode
}

// requiresDefinitionRef reports whether the type cannot exist without its
// metaobject-definition validation.
func requiresDefinitionRef(typeName string) bool {
	return strings.Contains(typeName, "metaobject_reference") || strings.Contains(typeName, "mixed_reference")
}

func classifyNamespaceSkip(namespace string) string {
	switch {
	case namespace == "shopify" || strings.HasPrefix(namespace, "shopify--"):
		return "reserved namespace"
	case strings.HasPrefix(namespace, "app--"):
		return "owned by another app"
	}
	return ""
}

func fetchMetafieldDefinitions(ctx context.Context, client *shopify.Client, ownerType string) ([]metafieldDefinitionNode, error) {
	var defs []metafieldDefinitionNode
	var after any
	for {
		var resp struct {
			MetafieldDefinitions struct {
				Nodes    []metafieldDefinitionNode `json:"nodes"`
				PageInfo shopify.PageInfo          `json:"pageInfo"`
			} `json:"metafieldDefinitions"`
		}
		vars := map[string]any{"ownerType": ownerType, "first": 100, "after": after}
		if err := client.Query(ctx, listMetafieldDefinitionsQuery, vars, &resp); err != nil {
			return nil, err
		}
		defs = append(defs, resp.MetafieldDefinitions.Nodes...)
		if !resp.MetafieldDefinitions.PageInfo.HasNextPage {
			return defs, nil
		}
		after = resp.MetafieldDefinitions.PageInfo.EndCursor
	}
}

// SyncMetafieldDefinitions copies custom metafield definitions across every
// supported owner type, matching by namespace+key per owner. Reserved and
// foreign-app namespaces are skipped with distinct reasons. Definitions
// whose type requires a metaobject-definition validation are deferred to a
// second pass when the referenced definition has no staging mapping yet.
func SyncMetafieldDefinitions(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production metafield definitions")
	production := make([]metafieldDefinitionNode, 0)
	for _, ownerType := range metafieldOwnerTypes {
		defs, err := fetchMetafieldDefinitions(ctx, deps.Production, ownerType)
		if err != nil {
			return fmt.Errorf("fetch production metafield definitions for %s: %w", ownerType, err)
		}
		production = append(production, defs...)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d metafield definitions in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging metafield definitions")
	existing := make(map[string]metafieldDefinitionNode)
	for _, ownerType := range metafieldOwnerTypes {
		defs, err := fetchMetafieldDefinitions(ctx, deps.Staging, ownerType)
		if err != nil {
			return fmt.Errorf("fetch staging metafield definitions for %s: %w", ownerType, err)
		}
		for _, d := range defs {
			existing[d.matchValue()] = d
		}
	}

	var pending []pendingDefinitionCreate

	rec.Stage(StageProcessingItems, "syncing metafield definitions")
	for _, def := range production {
		label := fmt.Sprintf("metafield definition %s.%s (%s)", def.Namespace, def.Key, def.OwnerType)

		if reason := classifyNamespaceSkip(def.Namespace); reason != "" {
			rec.Skipped(label, reason)
			continue
		}

		validations, resolved := resolveDefinitionValidations(ctx, deps, def.Validations)
		if !resolved && requiresDefinitionRef(def.Type.Name) {
			pending = append(pending, pendingDefinitionCreate{def: def})
			continue
		}

		if _, found := existing[def.matchValue()]; found {
			update := map[string]any{
				"namespace": def.Namespace,
				"key":       def.Key,
				"ownerType": def.OwnerType,
				"name":      def.Name,
				"pin":       def.PinnedPosition != nil,
			}
			if def.Description != nil {
				update["description"] = *def.Description
			}
			if resolved && len(validations) > 0 {
				update["validations"] = validations
			}
			if merr := updateMetafieldDefinition(ctx, deps.Staging, update); merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			rec.Updated(label)
			saveDefinitionMapping(ctx, deps, rec, def, existing[def.matchValue()].ID, label)
			continue
		}

		stagingGID, merr := createMetafieldDefinition(ctx, deps.Staging, buildMetafieldDefinitionInput(def, validations))
		if merr != nil {
			recordItemError(rec, label, merr)
			continue
		}
		rec.Created(label)
		saveDefinitionMapping(ctx, deps, rec, def, stagingGID, label)
	}

	if len(pending) > 0 {
		rec.Log(fmt.Sprintf("Second pass: %d definitions waiting on metaobject definitions", len(pending)))
		for _, p := range pending {
			def := p.def
			label := fmt.Sprintf("metafield definition %s.%s (%s)", def.Namespace, def.Key, def.OwnerType)
			validations, resolved := resolveDefinitionValidations(ctx, deps, def.Validations)
			if !resolved {
				for _, v := range def.Validations {
					for _, gid := range shopify.FindGIDs(v.Value) {
						deps.Mappings.LogUnmappedReference(ctx, deps.ConnectionID, gid,
							fmt.Sprintf("metafield_definition:%s.%s owner:%s", def.Namespace, def.Key, def.OwnerType), TypeMetafieldDefinitions)
					}
				}
				rec.Skipped(label, "prerequisite metaobject definition not synced yet")
				continue
			}
			stagingGID, merr := createMetafieldDefinition(ctx, deps.Staging, buildMetafieldDefinitionInput(def, validations))
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			rec.Created(label)
			saveDefinitionMapping(ctx, deps, rec, def, stagingGID, label)
		}
	}
	return nil
}

func resolveDefinitionValidations(ctx context.Context, deps Deps, validations []definitionValidation) ([]map[string]any, bool) {
	resolved := true
	out := make([]map[string]any, 0, len(validations))
	for _, v := range validations {
		value, ok := resolveValidationRefs(ctx, deps, v.Value)
		if !ok {
			resolved = false
			continue
		}
		out = append(out, map[string]any{"name": v.Name, "value": value})
	}
	return out, resolved
}

func buildMetafieldDefinitionInput(def metafieldDefinitionNode, validations []map[string]any) map[string]any {
	input := map[string]any{
		"name":      def.Name,
		"namespace": def.Namespace,
		"key":       def.Key,
		"type":      def.Type.Name,
		"ownerType": def.OwnerType,
		"pin":       def.PinnedPosition != nil,
	}
	if def.Description != nil {
		input["description"] = *def.Description
	}
	if len(validations) > 0 {
		input["validations"] = validations
	}
	return input
}

func saveDefinitionMapping(ctx context.Context, deps Deps, rec *Recorder, def metafieldDefinitionNode, stagingGID, label string) {
	if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "metafield_definition", mapping.SaveMappingInput{
		ProductionID:  shopify.ExtractID(def.ID),
		StagingID:     shopify.ExtractID(stagingGID),
		ProductionGID: def.ID,
		StagingGID:    stagingGID,
		MatchKey:      "namespace_key",
		MatchValue:    def.matchValue(),
		Title:         def.Name,
	}); err != nil {
		rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
	}
}

func createMetafieldDefinition(ctx context.Context, client *shopify.Client, definition map[string]any) (string, error) {
	var resp struct {
		MetafieldDefinitionCreate struct {
			CreatedDefinition *struct {
				ID string `json:"id"`
			} `json:"createdDefinition"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"metafieldDefinitionCreate"`
	}
	if err := client.Query(ctx, metafieldDefinitionCreateMutation, map[string]any{"definition": definition}, &resp); err != nil {
		return "", err
	}
	if err := shopify.UserErrorsToError(resp.MetafieldDefinitionCreate.UserErrors); err != nil {
		return "", err
	}
	if resp.MetafieldDefinitionCreate.CreatedDefinition == nil {
		return "", fmt.Errorf("metafieldDefinitionCreate returned no definition")
	}
	return resp.MetafieldDefinitionCreate.CreatedDefinition.ID, nil
}

func updateMetafieldDefinition(ctx context.Context, client *shopify.Client, definition map[string]any) error {
	var resp struct {
		MetafieldDefinitionUpdate struct {
			UpdatedDefinition *struct {
				ID string `json:"id"`
			} `json:"updatedDefinition"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"metafieldDefinitionUpdate"`
	}
	if err := client.Query(ctx, metafieldDefinitionUpdateMutation, map[string]any{"definition": definition}, &resp); err != nil {
		return err
	}
	return shopify.UserErrorsToError(resp.MetafieldDefinitionUpdate.UserErrors)
}
