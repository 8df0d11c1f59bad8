package mapping

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/metrics"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/shopify"
)

// ValidationError reports a mapping input that cannot be persisted. Every
// mapping must be explainable by what matched it, so the match key and value
// are not optional.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid mapping input: %s %s", e.Field, e.Reason)
}

// SaveMappingInput carries one production→staging link. GIDs are stored
// alongside the numeric ids so reference translation can look rows up
// without re-deriving them.
type SaveMappingInput struct {
	ProductionID  string `validate:"required"`
	StagingID     string `validate:"required"`
	ProductionGID string
	StagingGID    string
	MatchKey      string `validate:"required"`
	MatchValue    string `validate:"required"`
	SyncID        string
	Title         string
	Metadata      map[string]interface{}
}

// BatchResult is the partial-failure report of a batched save.
type BatchResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// saveChunkSize bounds how many mappings one batch iteration touches.
const saveChunkSize = 50

// Store is the domain service over the mapping repository. It owns input
// validation, gid decoding, and the unmapped-reference ledger.
type Store struct {
	repo     repository.MappingRepository
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewStore(repo repository.MappingRepository, logger zerolog.Logger) *Store {
	return &Store{
		repo:     repo,
		validate: validator.New(),
		logger:   logger.With().Str("component", "mapping_store").Logger(),
	}
}

// SaveMapping upserts the row keyed by (connection, resource type,
// production id) and reports whether it was newly created.
func (s *Store) SaveMapping(ctx context.Context, connectionID, resourceType string, input SaveMappingInput) (*models.ResourceMapping, bool, error) {
	if err := s.validate.Struct(input); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return nil, false, &ValidationError{Field: verrs[0].Field(), Reason: "is required"}
		}
		return nil, false, err
	}

	m := &models.ResourceMapping{
		ConnectionID:  connectionID,
		ResourceType:  resourceType,
		ProductionID:  input.ProductionID,
		StagingID:     input.StagingID,
		ProductionGID: input.ProductionGID,
		StagingGID:    input.StagingGID,
		MatchKey:      input.MatchKey,
		MatchValue:    input.MatchValue,
	}
	if input.SyncID != "" {
		m.SyncID = &input.SyncID
	}
	if input.Title != "" {
		m.Title = &input.Title
	}
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, false, fmt.Errorf("marshal mapping metadata: %w", err)
		}
		m.Metadata = raw
	}

	created, err := s.repo.Upsert(ctx, m)
	if err != nil {
		return nil, false, err
	}
	return m, created, nil
}

// SaveMappings persists a batch in fixed-size chunks, continuing past
// per-item failures. The result is a report, never an all-or-nothing
// transaction.
func (s *Store) SaveMappings(ctx context.Context, connectionID, resourceType string, inputs []SaveMappingInput) BatchResult {
	var result BatchResult
	for start := 0; start < len(inputs); start += saveChunkSize {
		end := start + saveChunkSize
		if end > len(inputs) {
			end = len(inputs)
		}
		for _, input := range inputs[start:end] {
			_, created, err := s.SaveMapping(ctx, connectionID, resourceType, input)
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", resourceType, input.ProductionID, err))
				continue
			}
			if created {
				result.Created++
			} else {
				result.Updated++
			}
		}
	}
	return result
}

// GetMappingByProductionGID decodes the gid, normalizes its type and looks up
// the unique row. A malformed gid or a missing row both come back as
// (nil, nil); callers treat nil as "unmapped", not as an error.
func (s *Store) GetMappingByProductionGID(ctx context.Context, connectionID, gid string) (*models.ResourceMapping, error) {
	parsed, ok := shopify.ParseGID(gid)
	if !ok {
		return nil, nil
	}
	resourceType := shopify.NormalizeType(parsed.Type)
	return s.repo.GetByProductionID(ctx, connectionID, resourceType, parsed.ID)
}

// GetMapping looks a row up by its already-normalized resource type.
func (s *Store) GetMapping(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error) {
	return s.repo.GetByProductionID(ctx, connectionID, resourceType, productionID)
}

func (s *Store) GetMappings(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error) {
	return s.repo.List(ctx, connectionID, resourceType, limit, offset, orderBy)
}

func (s *Store) GetMappingsCount(ctx context.Context, connectionID, resourceType string) (int, error) {
	return s.repo.Count(ctx, connectionID, resourceType)
}

func (s *Store) GetMappingStats(ctx context.Context, connectionID string) ([]*models.MappingStat, error) {
	return s.repo.Stats(ctx, connectionID)
}

// LogUnmappedReference records a reference that could not be resolved.
// Diagnostic only: a malformed gid is logged and swallowed so the calling
// sync never aborts over bookkeeping.
func (s *Store) LogUnmappedReference(ctx context.Context, connectionID, gid, refContext, foundInSyncType string) error {
	parsed, ok := shopify.ParseGID(gid)
	if !ok {
		s.logger.Warn().Str("gid", gid).Str("context", refContext).Msg("skipping unmapped reference with malformed gid")
		return nil
	}
	ref := &models.UnmappedReference{
		ConnectionID:    connectionID,
		ResourceType:    shopify.NormalizeType(parsed.Type),
		ProductionID:    parsed.ID,
		ProductionGID:   gid,
		Context:         refContext,
		FoundInSyncType: foundInSyncType,
	}
	if err := s.repo.UpsertUnmapped(ctx, ref); err != nil {
		return err
	}
	metrics.UnmappedReferences.Inc()
	return nil
}

func (s *Store) GetUnmappedReferences(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error) {
	return s.repo.ListUnmapped(ctx, connectionID, includeResolved, limit, offset)
}

func (s *Store) MarkUnmappedReferenceResolved(ctx context.Context, id string) error {
	return s.repo.MarkUnmappedResolved(ctx, id)
}

// DeleteMappings removes every mapping for a connection. Used on disconnect.
func (s *Store) DeleteMappings(ctx context.Context, connectionID string) (int64, error) {
	deleted, err := s.repo.DeleteByConnection(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("connection_id", connectionID).Int64("deleted", deleted).Msg("deleted mappings for connection")
	return deleted, nil
}
