package sync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listProductsQuery = `
query listProducts($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    nodes {
      id
      handle
      title
      descriptionHtml
      vendor
      productType
      tags
      status
      options {
        name
        values
      }
      variants(first: 100) {
        nodes {
          id
          sku
          price
          compareAtPrice
          inventoryPolicy
          selectedOptions { name value }
        }
      }
      metafields(first: 50) {
        nodes { namespace key value type }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const listProductHandlesQuery = `
query listProductHandles($first: Int!, $after: String) {
  products(first: $first, after: $after) {
    nodes { id handle }
    pageInfo { hasNextPage endCursor }
  }
}`

const productSetMutation = `
mutation productSet($input: ProductSetInput!, $synchronous: Boolean!) {
  productSet(input: $input, synchronous: $synchronous) {
    product {
      id
      handle
      variants(first: 100) {
        nodes {
          id
          selectedOptions { name value }
        }
      }
    }
    userErrors { code field message }
  }
}`

// discoveryNamespacePrefix marks search & discovery metafields, which have
// their own sync so their product references translate after products exist
// on both sides.
const discoveryNamespacePrefix = "shopify--discovery"

type selectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type productVariantNode struct {
	ID              string           `json:"id"`
	SKU             *string          `json:"sku"`
	Price           string           `json:"price"`
	CompareAtPrice  *string          `json:"compareAtPrice"`
	InventoryPolicy string           `json:"inventoryPolicy"`
	SelectedOptions []selectedOption `json:"selectedOptions"`
}

type productNode struct {
	ID              string   `json:"id"`
	Handle          string   `json:"handle"`
	Title           string   `json:"title"`
	DescriptionHTML string   `json:"descriptionHtml"`
	Vendor          string   `json:"vendor"`
	ProductType     string   `json:"productType"`
	Tags            []string `json:"tags"`
	Status          string   `json:"status"`
	Options         []struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	} `json:"options"`
	Variants struct {
		Nodes []productVariantNode `json:"nodes"`
	} `json:"variants"`
	Metafields struct {
		Nodes []metafieldNode `json:"nodes"`
	} `json:"metafields"`
}

// optionSignature keys a variant by its option selections, the only identity
// that survives the move between stores.
func optionSignature(opts []selectedOption) string {
	parts := make([]string, 0, len(opts))
	for _, o := range opts {
		parts = append(parts, o.Name+"="+o.Value)
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

func fetchAllProducts(ctx context.Context, client *shopify.Client) ([]productNode, error) {
	var products []productNode
	var after any
	for {
		var resp struct {
			Products struct {
				Nodes    []productNode    `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"products"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listProductsQuery, vars, &resp); err != nil {
			return nil, err
		}
		products = append(products, resp.Products.Nodes...)
		if !resp.Products.PageInfo.HasNextPage {
			return products, nil
		}
		after = resp.Products.PageInfo.EndCursor
	}
}

func fetchStagingProductHandles(ctx context.Context, client *shopify.Client) (map[string]string, error) {
	handles := make(map[string]string)
	var after any
	for {
		var resp struct {
			Products struct {
				Nodes []struct {
					ID     string `json:"id"`
					Handle string `json:"handle"`
				} `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"products"`
		}
		vars := map[string]any{"first": 250, "after": after}
		if err := client.Query(ctx, listProductHandlesQuery, vars, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Products.Nodes {
			handles[p.Handle] = p.ID
		}
		if !resp.Products.PageInfo.HasNextPage {
			return handles, nil
		}
		after = resp.Products.PageInfo.EndCursor
	}
}

// SyncProducts copies the catalog, matching by handle. Each product becomes
// one productSet upsert carrying options and variants; variants map by their
// option selections and the selections are kept in the mapping metadata.
// Product metafields run through the reference translator, except search &
// discovery ones which have a dedicated sync.
func SyncProducts(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production products")
	production, err := fetchAllProducts(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production products: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d products in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging products")
	stagingByHandle, err := fetchStagingProductHandles(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging products: %w", err)
	}

	rec.Stage(StageProcessingItems, "syncing products")
	for _, product := range production {
		label := fmt.Sprintf("product %q", product.Handle)

		description := product.DescriptionHTML
		if deps.Translator.ContainsGIDs(description) {
			res, terr := deps.Translator.TranslateGIDsInString(ctx, deps.ConnectionID, description, "product:"+product.Handle, TypeProducts)
			if terr == nil {
				description = res.Value
			}
		}

		input := buildProductSetInput(product, description)
		stagingID, existed := stagingByHandle[product.Handle]
		if existed {
			input["id"] = stagingID
		}

		result, merr := productSet(ctx, deps.Staging, input)
		if merr != nil {
			recordItemError(rec, label, merr)
			continue
		}
		if existed {
			rec.Updated(label)
		} else {
			rec.Created(label)
			stagingByHandle[product.Handle] = result.ID
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "product", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(product.ID),
			StagingID:     shopify.ExtractID(result.ID),
			ProductionGID: product.ID,
			StagingGID:    result.ID,
			MatchKey:      "handle",
			MatchValue:    product.Handle,
			Title:         product.Title,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}

		saveVariantMappings(ctx, deps, rec, product, result, label)

		custom := make([]metafieldNode, 0, len(product.Metafields.Nodes))
		for _, mf := range product.Metafields.Nodes {
			if strings.HasPrefix(mf.Namespace, discoveryNamespacePrefix) {
				continue
			}
			custom = append(custom, mf)
		}
		if len(custom) > 0 {
			n, merr := syncOwnerMetafields(ctx, deps, result.ID, "product:"+product.Handle, TypeProducts, custom)
			if merr != nil {
				rec.Error(fmt.Sprintf("metafields for %s: %v", label, merr))
			} else if n > 0 {
				rec.Log(fmt.Sprintf("Set %d metafields on %s", n, label))
			}
		}
	}
	return nil
}

func buildProductSetInput(product productNode, description string) map[string]any {
	options := make([]map[string]any, 0, len(product.Options))
	for _, o := range product.Options {
		values := make([]map[string]any, 0, len(o.Values))
		for _, v := range o.Values {
			values = append(values, map[string]any{"name": v})
		}
		options = append(options, map[string]any{"name": o.Name, "values": values})
	}

	variants := make([]map[string]any, 0, len(product.Variants.Nodes))
	for _, v := range product.Variants.Nodes {
		optionValues := make([]map[string]any, 0, len(v.SelectedOptions))
		for _, o := range v.SelectedOptions {
			optionValues = append(optionValues, map[string]any{"optionName": o.Name, "name": o.Value})
		}
		variant := map[string]any{
			"optionValues":    optionValues,
			"price":           v.Price,
			"inventoryPolicy": v.InventoryPolicy,
		}
		if v.SKU != nil {
			variant["sku"] = *v.SKU
		}
		if v.CompareAtPrice != nil {
			variant["compareAtPrice"] = *v.CompareAtPrice
		}
		variants = append(variants, variant)
	}

	return map[string]any{
		"handle":          product.Handle,
		"title":           product.Title,
		"descriptionHtml": description,
		"vendor":          product.Vendor,
		"productType":     product.ProductType,
		"tags":            product.Tags,
		"status":          product.Status,
		"productOptions":  options,
		"variants":        variants,
	}
}

type productSetResult struct {
	ID       string `json:"id"`
	Handle   string `json:"handle"`
	Variants struct {
		Nodes []struct {
			ID              string           `json:"id"`
			SelectedOptions []selectedOption `json:"selectedOptions"`
		} `json:"nodes"`
	} `json:"variants"`
}

func productSet(ctx context.Context, client *shopify.Client, input map[string]any) (*productSetResult, error) {
	var resp struct {
		ProductSet struct {
			Product    *productSetResult   `json:"product"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"productSet"`
	}
	vars := map[string]any{"input": input, "synchronous": true}
	if err := client.Query(ctx, productSetMutation, vars, &resp); err != nil {
		return nil, err
	}
	if err := shopify.UserErrorsToError(resp.ProductSet.UserErrors); err != nil {
		return nil, err
	}
	if resp.ProductSet.Product == nil {
		return nil, fmt.Errorf("productSet returned no product")
	}
	return resp.ProductSet.Product, nil
}

// saveVariantMappings links each production variant to the staging variant
// with the same option selections. The selections travel in the mapping
// metadata so later runs can explain the match.
func saveVariantMappings(ctx context.Context, deps Deps, rec *Recorder, product productNode, result *productSetResult, label string) {
	bySignature := make(map[string]string, len(result.Variants.Nodes))
	for _, v := range result.Variants.Nodes {
		bySignature[optionSignature(v.SelectedOptions)] = v.ID
	}
	for _, v := range product.Variants.Nodes {
		sig := optionSignature(v.SelectedOptions)
		stagingGID, found := bySignature[sig]
		if !found {
			rec.Log(fmt.Sprintf("No staging variant matches options %q on %s", sig, label))
			continue
		}
		selections := make(map[string]interface{}, len(v.SelectedOptions))
		for _, o := range v.SelectedOptions {
			selections[o.Name] = o.Value
		}
		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "variant", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(v.ID),
			StagingID:     shopify.ExtractID(stagingGID),
			ProductionGID: v.ID,
			StagingGID:    stagingGID,
			MatchKey:      "option_selections",
			MatchValue:    sig,
			Title:         product.Title,
			Metadata:      map[string]interface{}{"options": selections},
		}); err != nil {
			rec.Error(fmt.Sprintf("save variant mapping for %s: %v", label, err))
		}
	}
}
