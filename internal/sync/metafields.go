package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/translator"
)

const metafieldsSetMutation = `
mutation metafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) {
    metafields { id namespace key }
    userErrors { code field message }
  }
}`

// metafieldsSet accepts at most 25 entries per call.
const metafieldsSetChunk = 25

type metafieldNode struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

func toTranslatorMetafields(nodes []metafieldNode) []translator.Metafield {
	out := make([]translator.Metafield, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, translator.Metafield{
			Namespace: n.Namespace,
			Key:       n.Key,
			Value:     n.Value,
			Type:      n.Type,
		})
	}
	return out
}

// syncOwnerMetafields translates the given production metafields and writes
// them onto the staging owner. It returns how many were written; translation
// misses are already best-effort and never block the write.
func syncOwnerMetafields(ctx context.Context, deps Deps, stagingOwnerGID, ownerContext, syncType string, nodes []metafieldNode) (int, error) {
	translated, _ := deps.Translator.TranslateMetafields(ctx, deps.ConnectionID, toTranslatorMetafields(nodes), ownerContext, syncType)

	inputs := make([]map[string]any, 0, len(translated))
	for _, mf := range translated {
		if mf.Value == "" {
			continue
		}
		inputs = append(inputs, map[string]any{
			"ownerId":   stagingOwnerGID,
			"namespace": mf.Namespace,
			"key":       mf.Key,
			"type":      mf.Type,
			"value":     mf.Value,
		})
	}

	written := 0
	for start := 0; start < len(inputs); start += metafieldsSetChunk {
		end := start + metafieldsSetChunk
		if end > len(inputs) {
			end = len(inputs)
		}
		chunk := inputs[start:end]

		var resp struct {
			MetafieldsSet struct {
				Metafields []struct {
					ID string `json:"id"`
				} `json:"metafields"`
				UserErrors []shopify.UserError `json:"userErrors"`
			} `json:"metafieldsSet"`
		}
		if err := deps.Staging.Query(ctx, metafieldsSetMutation, map[string]any{"metafields": chunk}, &resp); err != nil {
			return written, fmt.Errorf("metafieldsSet for %s: %w", ownerContext, err)
		}
		if err := shopify.UserErrorsToError(resp.MetafieldsSet.UserErrors); err != nil {
			return written, fmt.Errorf("metafieldsSet for %s: %w", ownerContext, err)
		}
		written += len(chunk)
	}
	return written, nil
}
