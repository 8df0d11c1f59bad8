package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listMetaobjectDefinitionsQuery = `
query listMetaobjectDefinitions($first: Int!, $after: String) {
  metaobjectDefinitions(first: $first, after: $after) {
    nodes {
      id
      type
      name
      description
      displayNameKey
      fieldDefinitions {
        key
        name
        description
        required
        type { name }
        validations { name value }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const metaobjectDefinitionCreateMutation = `
mutation metaobjectDefinitionCreate($definition: MetaobjectDefinitionCreateInput!) {
  metaobjectDefinitionCreate(definition: $definition) {
    metaobjectDefinition { id type }
    userErrors { code field message }
  }
}`

const metaobjectDefinitionUpdateMutation = `
mutation metaobjectDefinitionUpdate($id: ID!, $definition: MetaobjectDefinitionUpdateInput!) {
  metaobjectDefinitionUpdate(id: $id, definition: $definition) {
    metaobjectDefinition { id type }
    userErrors { code field message }
  }
}`

type definitionValidation struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type metaobjectFieldDefinition struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Required    bool    `json:"required"`
	Type        struct {
		Name string `json:"name"`
	} `json:"type"`
	Validations []definitionValidation `json:"validations"`
}

type metaobjectDefinitionNode struct {
	ID               string                      `json:"id"`
	Type             string                      `json:"type"`
	Name             string                      `json:"name"`
	Description      *string                     `json:"description"`
	DisplayNameKey   *string                     `json:"displayNameKey"`
	FieldDefinitions []metaobjectFieldDefinition `json:"fieldDefinitions"`
}

// pendingFieldPatch is a field omitted in the first pass because it
// references a definition that did not exist in staging yet.
type pendingFieldPatch struct {
	definitionType string
	stagingGID     string
	field          metaobjectFieldDefinition
}

func fetchAllMetaobjectDefinitions(ctx context.Context, client *shopify.Client) ([]metaobjectDefinitionNode, error) {
	var defs []metaobjectDefinitionNode
	var after any
	for {
		var resp struct {
			MetaobjectDefinitions struct {
				Nodes    []metaobjectDefinitionNode `json:"nodes"`
				PageInfo shopify.PageInfo           `json:"pageInfo"`
			} `json:"metaobjectDefinitions"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listMetaobjectDefinitionsQuery, vars, &resp); err != nil {
			return nil, err
		}
		defs = append(defs, resp.MetaobjectDefinitions.Nodes...)
		if !resp.MetaobjectDefinitions.PageInfo.HasNextPage {
			return defs, nil
		}
		after = resp.MetaobjectDefinitions.PageInfo.EndCursor
	}
}

// resolveValidationRefs rewrites production definition gids embedded in a
// validation value to their staging equivalents. ok is false while any of
// them has no mapping yet.
func resolveValidationRefs(ctx context.Context, deps Deps, value string) (string, bool) {
	if !shopify.ContainsGID(value) {
		return value, true
	}
	ok := true
	out := shopify.ReplaceGIDs(value, func(gid string) string {
		m, err := deps.Mappings.GetMappingByProductionGID(ctx, deps.ConnectionID, gid)
		if err != nil || m == nil {
			ok = false
			return gid
		}
		return m.StagingGID
	})
	return out, ok
}

// buildFieldDefinitionInput converts one field definition to mutation input.
// resolved reports whether every referenced definition already has a staging
// mapping; unresolved fields are the callers' cue to defer the field to the
// second pass.
func buildFieldDefinitionInput(ctx context.Context, deps Deps, f metaobjectFieldDefinition) (map[string]any, bool) {
	resolved := true
	validations := make([]map[string]any, 0, len(f.Validations))
	for _, v := range f.Validations {
		value, ok := resolveValidationRefs(ctx, deps, v.Value)
		if !ok {
			resolved = false
		}
		validations = append(validations, map[string]any{"name": v.Name, "value": value})
	}
	input := map[string]any{
		"key":      f.Key,
		"name":     f.Name,
		"required": f.Required,
		"type":     f.Type.Name,
	}
	if f.Description != nil {
		input["description"] = *f.Description
	}
	if len(validations) > 0 {
		input["validations"] = validations
	}
	return input, resolved
}

// SyncMetaobjectDefinitions copies metaobject definitions, matching by type.
// Definitions can reference each other before both exist, so the sync runs
// two passes: the first creates every definition with unresolvable reference
// fields omitted, the second adds those fields back once their targets have
// mappings.
func SyncMetaobjectDefinitions(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production metaobject definitions")
	production, err := fetchAllMetaobjectDefinitions(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production metaobject definitions: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d metaobject definitions in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging metaobject definitions")
	staging, err := fetchAllMetaobjectDefinitions(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging metaobject definitions: %w", err)
	}
	byType := make(map[string]metaobjectDefinitionNode, len(staging))
	for _, d := range staging {
		byType[d.Type] = d
	}

	var pending []pendingFieldPatch

	rec.Stage(StageProcessingItems, "syncing metaobject definitions")
	for _, def := range production {
		label := fmt.Sprintf("metaobject definition %q", def.Type)

		var stagingGID string
		deferred := make([]metaobjectFieldDefinition, 0)

		if existing, found := byType[def.Type]; found {
			have := make(map[string]bool, len(existing.FieldDefinitions))
			for _, f := range existing.FieldDefinitions {
				have[f.Key] = true
			}
			ops := make([]map[string]any, 0)
			for _, f := range def.FieldDefinitions {
				if have[f.Key] {
					continue
				}
				input, resolved := buildFieldDefinitionInput(ctx, deps, f)
				if !resolved {
					deferred = append(deferred, f)
					continue
				}
				ops = append(ops, map[string]any{"create": input})
			}
			update := map[string]any{"name": def.Name}
			if def.Description != nil {
				update["description"] = *def.Description
			}
			if len(ops) > 0 {
				update["fieldDefinitions"] = ops
			}
			id, merr := mutateMetaobjectDefinition(ctx, deps.Staging, metaobjectDefinitionUpdateMutation, "metaobjectDefinitionUpdate", map[string]any{"id": existing.ID, "definition": update})
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Updated(label)
		} else {
			fields := make([]map[string]any, 0, len(def.FieldDefinitions))
			for _, f := range def.FieldDefinitions {
				input, resolved := buildFieldDefinitionInput(ctx, deps, f)
				if !resolved {
					deferred = append(deferred, f)
					continue
				}
				fields = append(fields, input)
			}
			create := map[string]any{
				"type":             def.Type,
				"name":             def.Name,
				"fieldDefinitions": fields,
			}
			if def.Description != nil {
				create["description"] = *def.Description
			}
			if def.DisplayNameKey != nil {
				create["displayNameKey"] = *def.DisplayNameKey
			}
			id, merr := mutateMetaobjectDefinition(ctx, deps.Staging, metaobjectDefinitionCreateMutation, "metaobjectDefinitionCreate", map[string]any{"definition": create})
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "metaobject_definition", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(def.ID),
			StagingID:     shopify.ExtractID(stagingGID),
			ProductionGID: def.ID,
			StagingGID:    stagingGID,
			MatchKey:      "type",
			MatchValue:    def.Type,
			Title:         def.Name,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}

		for _, f := range deferred {
			pending = append(pending, pendingFieldPatch{definitionType: def.Type, stagingGID: stagingGID, field: f})
		}
	}

	if len(pending) > 0 {
		rec.Log(fmt.Sprintf("Second pass: %d deferred reference fields", len(pending)))
		applyPendingFieldPatches(ctx, deps, rec, pending)
	}
	return nil
}

// applyPendingFieldPatches re-resolves each omitted field now that every
// definition from the first pass has a mapping, and adds it with an update
// mutation. Fields whose target is still unknown stay off the staging
// definition and land in the unmapped ledger.
func applyPendingFieldPatches(ctx context.Context, deps Deps, rec *Recorder, pending []pendingFieldPatch) {
	for _, p := range pending {
		label := fmt.Sprintf("field %q on metaobject definition %q", p.field.Key, p.definitionType)
		input, resolved := buildFieldDefinitionInput(ctx, deps, p.field)
		if !resolved {
			for _, v := range p.field.Validations {
				for _, gid := range shopify.FindGIDs(v.Value) {
					deps.Mappings.LogUnmappedReference(ctx, deps.ConnectionID, gid,
						fmt.Sprintf("metaobject_definition:%s field:%s", p.definitionType, p.field.Key), TypeMetaobjectDefinitions)
				}
			}
			rec.Log(fmt.Sprintf("Skipped %s: referenced definition still missing", label))
			continue
		}
		update := map[string]any{
			"fieldDefinitions": []map[string]any{{"create": input}},
		}
		if _, merr := mutateMetaobjectDefinition(ctx, deps.Staging, metaobjectDefinitionUpdateMutation, "metaobjectDefinitionUpdate", map[string]any{"id": p.stagingGID, "definition": update}); merr != nil {
			rec.Error(fmt.Sprintf("add %s: %v", label, merr))
			continue
		}
		rec.Log(fmt.Sprintf("Added deferred %s", label))
	}
}

func mutateMetaobjectDefinition(ctx context.Context, client *shopify.Client, mutation, field string, vars map[string]any) (string, error) {
	var resp map[string]struct {
		MetaobjectDefinition *struct {
			ID string `json:"id"`
		} `json:"metaobjectDefinition"`
		UserErrors []shopify.UserError `json:"userErrors"`
	}
	if err := client.Query(ctx, mutation, vars, &resp); err != nil {
		return "", err
	}
	payload := resp[field]
	if err := shopify.UserErrorsToError(payload.UserErrors); err != nil {
		return "", err
	}
	if payload.MetaobjectDefinition == nil {
		return "", fmt.Errorf("%s returned no definition", field)
	}
	return payload.MetaobjectDefinition.ID, nil
}
