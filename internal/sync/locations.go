package sync

import (
	"context"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/mapping"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

const listLocationsQuery = `
query listLocations($first: Int!, $after: String) {
  locations(first: $first, after: $after, includeInactive: true) {
    nodes {
      id
      name
      fulfillsOnlineOrders
      address {
        address1
        address2
        city
        provinceCode
        countryCode
        zip
        phone
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const locationAddMutation = `
mutation locationAdd($input: LocationAddInput!) {
  locationAdd(input: $input) {
    location { id name }
    userErrors { code field message }
  }
}`

const locationEditMutation = `
mutation locationEdit($id: ID!, $input: LocationEditInput!) {
  locationEdit(id: $id, input: $input) {
    location { id name }
    userErrors { code field message }
  }
}`

type locationAddress struct {
	Address1     *string `json:"address1"`
	Address2     *string `json:"address2"`
	City         *string `json:"city"`
	ProvinceCode *string `json:"provinceCode"`
	CountryCode  string  `json:"countryCode"`
	Zip          *string `json:"zip"`
	Phone        *string `json:"phone"`
}

type locationNode struct {
	ID                   string          `json:"id"`
	Name                 string          `json:"name"`
	FulfillsOnlineOrders bool            `json:"fulfillsOnlineOrders"`
	Address              locationAddress `json:"address"`
}

// Numeric location ids differ across stores, and names alone collide for
// multi-site retailers, so locations match on name plus city.
func locationMatchValue(l locationNode) string {
	city := ""
	if l.Address.City != nil {
		city = *l.Address.City
	}
	return l.Name + "|" + city
}

func fetchAllLocations(ctx context.Context, client *shopify.Client) ([]locationNode, error) {
	var locations []locationNode
	var after any
	for {
		var resp struct {
			Locations struct {
				Nodes    []locationNode   `json:"nodes"`
				PageInfo shopify.PageInfo `json:"pageInfo"`
			} `json:"locations"`
		}
		vars := map[string]any{"first": 50, "after": after}
		if err := client.Query(ctx, listLocationsQuery, vars, &resp); err != nil {
			return nil, err
		}
		locations = append(locations, resp.Locations.Nodes...)
		if !resp.Locations.PageInfo.HasNextPage {
			return locations, nil
		}
		after = resp.Locations.PageInfo.EndCursor
	}
}

// SyncLocations copies inventory locations.
func SyncLocations(ctx context.Context, deps Deps, rec *Recorder) error {
	rec.Stage(StageFetchingProduction, "fetching production locations")
	production, err := fetchAllLocations(ctx, deps.Production)
	if err != nil {
		return fmt.Errorf("fetch production locations: %w", err)
	}
	rec.SetTotal(len(production))
	rec.Log(fmt.Sprintf("Found %d locations in production", len(production)))

	rec.Stage(StageFetchingStaging, "fetching staging locations")
	staging, err := fetchAllLocations(ctx, deps.Staging)
	if err != nil {
		return fmt.Errorf("fetch staging locations: %w", err)
	}
	byMatch := make(map[string]locationNode, len(staging))
	for _, l := range staging {
		byMatch[locationMatchValue(l)] = l
	}

	rec.Stage(StageProcessingItems, "syncing locations")
	for _, loc := range production {
		label := fmt.Sprintf("location %q", loc.Name)
		matchValue := locationMatchValue(loc)

		address := map[string]any{
			"address1":     loc.Address.Address1,
			"address2":     loc.Address.Address2,
			"city":         loc.Address.City,
			"provinceCode": loc.Address.ProvinceCode,
			"countryCode":  loc.Address.CountryCode,
			"zip":          loc.Address.Zip,
			"phone":        loc.Address.Phone,
		}
		input := map[string]any{
			"name":                 loc.Name,
			"address":              address,
			"fulfillsOnlineOrders": loc.FulfillsOnlineOrders,
		}

		var result locationNode
		if existing, found := byMatch[matchValue]; found {
			edited, merr := editLocation(ctx, deps.Staging, existing.ID, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			result = edited
			rec.Updated(label)
		} else {
			added, merr := addLocation(ctx, deps.Staging, input)
			if merr != nil {
				recordItemError(rec, label, merr)
				continue
			}
			result = added
			rec.Created(label)
		}

		if _, _, err := deps.Mappings.SaveMapping(ctx, deps.ConnectionID, "location", mapping.SaveMappingInput{
			ProductionID:  shopify.ExtractID(loc.ID),
			StagingID:     shopify.ExtractID(result.ID),
			ProductionGID: loc.ID,
			StagingGID:    result.ID,
			MatchKey:      "name_city",
			MatchValue:    matchValue,
			Title:         loc.Name,
		}); err != nil {
			rec.Error(fmt.Sprintf("save mapping for %s: %v", label, err))
		}
	}
	return nil
}

func addLocation(ctx context.Context, client *shopify.Client, input map[string]any) (locationNode, error) {
	var resp struct {
		LocationAdd struct {
			Location   *locationNode       `json:"location"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"locationAdd"`
	}
	if err := client.Query(ctx, locationAddMutation, map[string]any{"input": input}, &resp); err != nil {
		return locationNode{}, err
	}
	if err := shopify.UserErrorsToError(resp.LocationAdd.UserErrors); err != nil {
		return locationNode{}, err
	}
	if resp.LocationAdd.Location == nil {
		return locationNode{}, fmt.Errorf("locationAdd returned no location")
	}
	return *resp.LocationAdd.Location, nil
}

func editLocation(ctx context.Context, client *shopify.Client, id string, input map[string]any) (locationNode, error) {
	var resp struct {
		LocationEdit struct {
			Location   *locationNode       `json:"location"`
			UserErrors []shopify.UserError `json:"userErrors"`
		} `json:"locationEdit"`
	}
	if err := client.Query(ctx, locationEditMutation, map[string]any{"id": id, "input": input}, &resp); err != nil {
		return locationNode{}, err
	}
	if err := shopify.UserErrorsToError(resp.LocationEdit.UserErrors); err != nil {
		return locationNode{}, err
	}
	if resp.LocationEdit.Location == nil {
		return locationNode{}, fmt.Errorf("locationEdit returned no location")
	}
	return *resp.LocationEdit.Location, nil
}
