package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listMarketsQuery = `
query listMarkets($first: Int!, $after: String) {
  markets(first: $first, after: $after) {
    nodes {
      id
      name
      handle
      enabled
      primary
      regions(first: 250) {
        nodes {
          ... on MarketRegionCountry { code }
        }
      }
      currencySettings {
        baseCurrency { currencyCode }
        localCurrencies
      }
      webPresences(first: 10) {
        nodes {
          id
          subfolderSuffix
          rootUrls { locale url }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const marketCreateMutation = `
mutation marketCreate($input: MarketCreateInput!) {
  marketCreate(input: $input) {
    market { id handle }
    userErrors { code field message }
  }
}`

const marketUpdateMutation = `
mutation marketUpdate($id: ID!, $input: MarketUpdateInput!) {
  marketUpdate(id: $id, input: $input) {
    market { id handle }
    userErrors { code field message }
  }
}`

const marketCurrencySettingsUpdateMutation = `
mutation marketCurrencySettingsUpdate($marketId: ID!, $input: MarketCurrencySettingsUpdateInput!) {
  marketCurrencySettingsUpdate(marketId: $marketId, input: $input) {
    market { id }
    userErrors { code field message }
  }
}`

const marketWebPresenceCreateMutation = `
mutation marketWebPresenceCreate($marketId: ID!, $webPresence: MarketWebPresenceCreateInput!) {
  marketWebPresenceCreate(marketId: $marketId, webPresence: $webPresence) {
    market { id }
    userErrors { code field message }
  }
}`

type marketNode struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Handle  string `json:"handle"`
	Enabled bool   `json:"enabled"`
	Primary bool   `json:"primary"`
	Regions struct {
		Nodes []struct {
			Code string `json:"code"`
		} `json:"nodes"`
	} `json:"regions"`
	CurrencySettings *struct {
		BaseCurrency struct {
			CurrencyCode string `json:"currencyCode"`
		} `json:"baseCurrency"`
		LocalCurrencies bool `json:"localCurrencies"`
	} `json:"currencySettings"`
	WebPresences struct {
		Nodes []struct {
			ID              string  `json:"id"`
			SubfolderSuffix *string `json:"subfolderSuffix"`
			RootUrls        []struct {
				Locale string `json:"locale"`
				URL    string `json:"url"`
			} `json:"rootUrls"`
		} `json:"nodes"`
	} `json:"webPresences"`
}

func fetchAllMarkets(ctx context.Context, client *shopify.Client) ([]marketNode, error) {
	var markets []marketNode
	var after any
	for {
		var resp struct {
			Markets struct {
				Nodes    []marketNode     `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"markets"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listMarketsQuery, vars, &resp); err != nil {
			return nil, err
		}
		markets = append(markets, resp.Markets.Nodes...)
		if !resp.Markets.PageInfo.HasNextPage {
			return markets, nil
		}
		after = resp.Markets.PageInfo.EndCursor
	}
}

// SyncMarkets copies markets, matching by handle. Updates carry only name
// and enabled: region and company-location assignments belong to the
// destination store's own configuration and ids for them do not exist
// across stores. Currency settings and web presences cascade afterwards and
// skip gracefully when the destination forbids them structurally, e.g. on
// shops with unified markets.
func SyncMarkets(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production markets")
	production, err := fetchAllMarkets(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production markets: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d markets in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging markets")
	staging, err := fetchAllMarkets(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging markets: %w", err)
	}
	byHandle := make(map[string]marketNode, len(staging))
	for _, m := range staging {
		byHandle[m.Handle] = m
	}

	rec.Stage(StageProcessingItems, "syncing markets")
	for _, market := range production {
		label := fmt.Sprintf("market %q", market.Handle)

		existing, found := byHandle[market.Handle]
		if market.Primary && !found {
			rec.Skipped(label, "primary market has no staging match by handle")
			continue
		}

		var stagingGID string
		if found {
			input := map[string]any{
				"name":    market.Name,
				"enabled": market.Enabled,
			}
			id, merr := updateMarket(ctx, deps.Staging, existing.ID, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Updated(label)
		} else {
			regions := make([]map[string]any, 0, len(market.Regions.Nodes))
			for _, r := range market.Regions.Nodes {
				if r.Code == "" {
					continue
				}
				regions = append(regions, map[string]any{"countryCode": r.Code})
			}
			input := map[string]any{
				"name":    market.Name,
				"handle":  market.Handle,
				"enabled": market.Enabled,
				"regions": regions,
			}
			id, merr := createMarket(ctx, deps.Staging, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			stagingGID = id
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "market", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(market.ID),
			StagingID:     shopify.ExtractID(stagingGID),
			ProductionGID: market.ID,
			StagingGID:    stagingGID,
			MatchKey:      "handle",
			MatchValue:    market.Handle,
			Title:         market.Name,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}

		syncMarketCurrency(ctx, deps, rec, market, stagingGID, label)
		syncMarketWebPresences(ctx, deps, rec, market, existing, found, stagingGID, label)
	}
	return nil
}

func syncMarketCurrency(ctx context.Context, deps Deps, rec *Recorder, market marketNode, stagingGID, label string) {
	if market.CurrencySettings == nil || market.Primary {
		return
	}
	input := map[string]any{
		"baseCurrency":    market.CurrencySettings.BaseCurrency.CurrencyCode,
		"localCurrencies": market.CurrencySettings.LocalCurrencies,
	}
	var resp struct {
		MarketCurrencySettingsUpdate struct {
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"marketCurrencySettingsUpdate"`
	}
	vars := map[string]any{"marketId": stagingGID, "input": input}
	if err := deps.Staging.Query(ctx, marketCurrencySettingsUpdateMutation, vars, &resp); err != nil {
		rec.Error(fmt.Sprintf("currency settings for %s: %v", label, err))
		return
	}
	if err := shopify.UserErrorsToError(resp.MarketCurrencySettingsUpdate.UserErrors); err != nil {
		rec.Log(fmt.Sprintf("Currency settings not applied for %s: %v", label, err))
	}
}

func syncMarketWebPresences(ctx context.Context, deps Deps, rec *Recorder, market marketNode, existing marketNode, found bool, stagingGID, label string) {
	if len(market.WebPresences.Nodes) == 0 {
		return
	}
	if found && len(existing.WebPresences.Nodes) > 0 {
		// The staging market already publishes somewhere; domains and url
		// structures are store-specific, so leave them alone.
		return
	}
	for _, wp := range market.WebPresences.Nodes {
		input := map[string]any{}
		if wp.SubfolderSuffix != nil && *wp.SubfolderSuffix != "" {
			input["subfolderSuffix"] = *wp.SubfolderSuffix
		}
		if len(input) == 0 {
			// Dedicated-domain presences cannot carry over: the domain id
			// belongs to the production shop.
			rec.Log(fmt.Sprintf("Web presence for %s uses a store-specific domain, not copied", label))
			continue
		}
		var resp struct {
			MarketWebPresenceCreate struct {
				UserErrors []shopify.UserError `json:"userErrors"`
			} `json:"marketWebPresenceCreate"`
		}
		vars := map[string]any{"marketId": stagingGID, "webPresence": input}
		if err := deps.Staging.Query(ctx, marketWebPresenceCreateMutation, vars, &resp); err != nil {
			rec.Error(fmt.Sprintf("web presence for %s: %v", label, err))
			continue
		}
		if err := shopify.UserErrorsToError(resp.MarketWebPresenceCreate.UserErrors); err != nil {
			var uerr *shopify.UserErrorsError
			if errors.As(err, &uerr) && uerr.IsDuplicate() {
				continue
			}
			rec.Log(fmt.Sprintf("Web presence not applied for %s: %v", label, err))
		}
	}
}

func createMarket(ctx context.Context, client *shopify.Client, input map[string]any) (string, error) {
	var resp struct {
		MarketCreate struct {
			Market *struct {
				ID string `json:"id"`
			} `json:"market"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"marketCreate"`
	}
	if err := client.Query(ctx, marketCreateMutation, map[string]any{"input": input}, &resp); err != nil {
		return "", err
	}
	if err := shopify.UserErrorsToError(resp.MarketCreate.UserErrors); err != nil {
		return "", err
	}
	if resp.MarketCreate.Market == nil {
		return "", fmt.Errorf("marketCreate returned no market")
	}
	return resp.MarketCreate.Market.ID, nil
}

func updateMarket(ctx context.Context, client *shopify.Client, id string, input map[string]any) (string, error) {
	var resp struct {
		MarketUpdate struct {
			Market *struct {
				ID string `json:"id"`
			} `json:"market"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"marketUpdate"`
	}
	if err := client.Query(ctx, marketUpdateMutation, map[string]any{"id": id, "input": input}, &resp); err != nil {
		return "", err
	}
	if err := shopify.UserErrorsToError(resp.MarketUpdate.UserErrors); err != nil {
		return "", err
	}
	if resp.MarketUpdate.Market == nil {
		return "", fmt.Errorf("marketUpdate returned no market")
	}
	return resp.MarketUpdate.Market.ID, nil
}
