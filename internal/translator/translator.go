package translator

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/metrics"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

// MappingStore is the slice of the mapping service translation needs.
type MappingStore interface {
	GetMappingByProductionGID(ctx context.Context, connectionID, gid string) (*models.ResourceMapping, error)
	LogUnmappedReference(ctx context.Context, connectionID, gid, refContext, foundInSyncType string) error
}

// Translator rewrites production gids embedded in values to their staging
// equivalents. The policy is best-effort and partial: unmapped gids stay in
// the output as the original production identifiers, and no value is ever
// nulled or shortened because part of it could not be resolved.
type Translator struct {
	store  MappingStore
	logger zerolog.Logger
}

func New(store MappingStore, logger zerolog.Logger) *Translator {
	return &Translator{
		store:  store,
		logger: logger.With().Str("component", "translator").Logger(),
	}
}

// Metafield is the wire shape of one metafield.
type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

// Stats aggregates translation outcomes. Skipped counts metafields that
// needed no translation; it never means omission from the output.
type Stats struct {
	Translated int `json:"translated"`
	Unmapped   int `json:"unmapped"`
	Skipped    int `json:"skipped"`
}

func (s *Stats) add(other Stats) {
	s.Translated += other.Translated
	s.Unmapped += other.Unmapped
	s.Skipped += other.Skipped
}

// GIDResult is the outcome of a single-gid resolution.
type GIDResult struct {
	Success      bool
	StagingGID   string
	ResourceType string
}

// StringResult reports what happened inside one string value.
type StringResult struct {
	Value               string
	Translated          int
	Unmapped            int
	PartiallyTranslated bool
}

// ContainsGIDs reports whether the value embeds at least one gid. Stateless;
// repeated calls on the same input always agree.
func (t *Translator) ContainsGIDs(value string) bool {
	return shopify.ContainsGID(value)
}

// ExtractGIDs returns every gid in the value, in order, duplicates kept.
func (t *Translator) ExtractGIDs(value string) []string {
	return shopify.FindGIDs(value)
}

// TranslateGID resolves one production gid. On a miss it records an unmapped
// reference and returns Success=false with an empty staging gid; the caller
// decides what to do with the miss. It never invents a fallback value.
func (t *Translator) TranslateGID(ctx context.Context, connectionID, gid, refContext, syncType string) (GIDResult, error) {
	resourceType := shopify.NormalizeType(shopify.ExtractType(gid))
	mapping, err := t.store.GetMappingByProductionGID(ctx, connectionID, gid)
	if err != nil {
		return GIDResult{ResourceType: resourceType}, err
	}
	if mapping == nil || mapping.StagingGID == "" {
		if err := t.store.LogUnmappedReference(ctx, connectionID, gid, refContext, syncType); err != nil {
			t.logger.Warn().Err(err).Str("gid", gid).Msg("failed to record unmapped reference")
		}
		metrics.Translations.WithLabelValues("unmapped").Inc()
		return GIDResult{Success: false, ResourceType: resourceType}, nil
	}
	metrics.Translations.WithLabelValues("translated").Inc()
	return GIDResult{Success: true, StagingGID: mapping.StagingGID, ResourceType: resourceType}, nil
}

// TranslateGIDsInString replaces every mapped gid in place and leaves
// unmapped gids untouched. Counts are per occurrence.
func (t *Translator) TranslateGIDsInString(ctx context.Context, connectionID, value, refContext, syncType string) (StringResult, error) {
	occurrences := shopify.FindGIDs(value)
	if len(occurrences) == 0 {
		return StringResult{Value: value}, nil
	}

	resolved := map[string]string{}
	result := StringResult{}
	for _, gid := range occurrences {
		staged, seen := resolved[gid]
		if !seen {
			res, err := t.TranslateGID(ctx, connectionID, gid, refContext, syncType)
			if err != nil {
				return StringResult{Value: value}, err
			}
			staged = res.StagingGID
			resolved[gid] = staged
		}
		if staged != "" {
			result.Translated++
		} else {
			result.Unmapped++
		}
	}

	result.Value = shopify.ReplaceGIDs(value, func(gid string) string {
		if staged := resolved[gid]; staged != "" {
			return staged
		}
		return gid
	})
	result.PartiallyTranslated = result.Translated > 0 && result.Unmapped > 0
	return result, nil
}

// TranslateGIDsInArray applies the string rule per leaf. The output array
// always has the input's length.
func (t *Translator) TranslateGIDsInArray(ctx context.Context, connectionID string, values []interface{}, refContext, syncType string) ([]interface{}, Stats, error) {
	out := make([]interface{}, len(values))
	var stats Stats
	for i, v := range values {
		translated, leafStats, err := t.translateValue(ctx, connectionID, v, refContext, syncType)
		if err != nil {
			return nil, Stats{}, err
		}
		out[i] = translated
		stats.add(leafStats)
	}
	return out, stats, nil
}

// TranslateGIDsInObject applies the string rule per leaf. Keys are never
// dropped because a value could not be resolved.
func (t *Translator) TranslateGIDsInObject(ctx context.Context, connectionID string, obj map[string]interface{}, refContext, syncType string) (map[string]interface{}, Stats, error) {
	out := make(map[string]interface{}, len(obj))
	var stats Stats
	for k, v := range obj {
		translated, leafStats, err := t.translateValue(ctx, connectionID, v, refContext, syncType)
		if err != nil {
			return nil, Stats{}, err
		}
		out[k] = translated
		stats.add(leafStats)
	}
	return out, stats, nil
}

func (t *Translator) translateValue(ctx context.Context, connectionID string, value interface{}, refContext, syncType string) (interface{}, Stats, error) {
	switch v := value.(type) {
	case string:
		if !shopify.ContainsGID(v) {
			return v, Stats{}, nil
		}
		res, err := t.TranslateGIDsInString(ctx, connectionID, v, refContext, syncType)
		if err != nil {
			return nil, Stats{}, err
		}
		return res.Value, Stats{Translated: res.Translated, Unmapped: res.Unmapped}, nil
	case []interface{}:
		return t.TranslateGIDsInArray(ctx, connectionID, v, refContext, syncType)
	case map[string]interface{}:
		return t.TranslateGIDsInObject(ctx, connectionID, v, refContext, syncType)
	default:
		return v, Stats{}, nil
	}
}

// Metafield types holding exactly one reference gid.
var singleReferenceTypes = map[string]bool{
	"product_reference":    true,
	"collection_reference": true,
	"variant_reference":    true,
	"metaobject_reference": true,
	"page_reference":       true,
	"file_reference":       true,
	"resource_reference":   true,
}

// Scalar types whose value may embed gids inside free text.
var textScalarTypes = map[string]bool{
	"single_line_text_field": true,
	"multi_line_text_field":  true,
	"rich_text_field":        true,
	"url":                    true,
}

func isListReferenceType(t string) bool {
	return strings.HasPrefix(t, "list.") && strings.HasSuffix(t, "_reference")
}

func isJSONLikeType(t string) bool {
	return t == "json" || (strings.HasPrefix(t, "list.") && strings.Contains(t, "text"))
}

// TranslateMetafieldValue rewrites the references inside one metafield based
// on its declared type. A reference miss keeps the original production gid in
// place; the only error case is malformed JSON in a JSON or list field, and
// even then the metafield comes back unchanged for the caller to keep.
func (t *Translator) TranslateMetafieldValue(ctx context.Context, connectionID string, metafield Metafield, ownerContext, syncType string) (Metafield, Stats, error) {
	refContext := fmt.Sprintf("%s metafield:%s.%s", ownerContext, metafield.Namespace, metafield.Key)

	switch {
	case singleReferenceTypes[metafield.Type]:
		if !shopify.ContainsGID(metafield.Value) {
			return metafield, Stats{Skipped: 1}, nil
		}
		res, err := t.TranslateGID(ctx, connectionID, metafield.Value, refContext, syncType)
		if err != nil {
			return metafield, Stats{}, err
		}
		if !res.Success {
			// Keep the production gid; the unmapped ledger has the miss.
			return metafield, Stats{Unmapped: 1}, nil
		}
		metafield.Value = res.StagingGID
		return metafield, Stats{Translated: 1}, nil

	case isListReferenceType(metafield.Type):
		var refs []interface{}
		if err := json.Unmarshal([]byte(metafield.Value), &refs); err != nil {
			return metafield, Stats{}, fmt.Errorf("parse %s value of %s.%s: %w", metafield.Type, metafield.Namespace, metafield.Key, err)
		}
		out := make([]interface{}, len(refs))
		var stats Stats
		for i, ref := range refs {
			gid, ok := ref.(string)
			if !ok || !shopify.ContainsGID(gid) {
				out[i] = ref
				continue
			}
			res, err := t.TranslateGID(ctx, connectionID, gid, refContext, syncType)
			if err != nil {
				return metafield, Stats{}, err
			}
			if res.Success {
				out[i] = res.StagingGID
				stats.Translated++
			} else {
				out[i] = gid
				stats.Unmapped++
			}
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return metafield, Stats{}, fmt.Errorf("reserialize %s.%s: %w", metafield.Namespace, metafield.Key, err)
		}
		metafield.Value = string(raw)
		return metafield, stats, nil

	case isJSONLikeType(metafield.Type):
		var parsed interface{}
		if err := json.Unmarshal([]byte(metafield.Value), &parsed); err != nil {
			return metafield, Stats{}, fmt.Errorf("parse %s value of %s.%s: %w", metafield.Type, metafield.Namespace, metafield.Key, err)
		}
		translated, stats, err := t.translateValue(ctx, connectionID, parsed, refContext, syncType)
		if err != nil {
			return metafield, Stats{}, err
		}
		if stats.Translated == 0 && stats.Unmapped == 0 {
			return metafield, Stats{Skipped: 1}, nil
		}
		raw, err := json.Marshal(translated)
		if err != nil {
			return metafield, Stats{}, fmt.Errorf("reserialize %s.%s: %w", metafield.Namespace, metafield.Key, err)
		}
		metafield.Value = string(raw)
		return metafield, stats, nil

	case textScalarTypes[metafield.Type]:
		if !shopify.ContainsGID(metafield.Value) {
			return metafield, Stats{Skipped: 1}, nil
		}
		res, err := t.TranslateGIDsInString(ctx, connectionID, metafield.Value, refContext, syncType)
		if err != nil {
			return metafield, Stats{}, err
		}
		metafield.Value = res.Value
		return metafield, Stats{Translated: res.Translated, Unmapped: res.Unmapped}, nil

	default:
		return metafield, Stats{Skipped: 1}, nil
	}
}

// TranslateMetafields translates every metafield and always returns all of
// them, unmapped references included. Filtering on translation failure would
// silently destroy data; the stats exist so callers can report instead.
func (t *Translator) TranslateMetafields(ctx context.Context, connectionID string, metafields []Metafield, ownerContext, syncType string) ([]Metafield, Stats) {
	out := make([]Metafield, 0, len(metafields))
	var stats Stats
	for _, mf := range metafields {
		translated, mfStats, err := t.TranslateMetafieldValue(ctx, connectionID, mf, ownerContext, syncType)
		if err != nil {
			t.logger.Warn().Err(err).
				Str("namespace", mf.Namespace).
				Str("key", mf.Key).
				Msg("keeping metafield untranslated")
			out = append(out, mf)
			continue
		}
		out = append(out, translated)
		stats.add(mfStats)
	}
	return out, stats
}
