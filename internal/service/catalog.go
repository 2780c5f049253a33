package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bookhaven/bookhaven-server/internal/domain"
	"github.com/bookhaven/bookhaven-server/internal/id"
	"github.com/bookhaven/bookhaven-server/internal/store"
	"github.com/bookhaven/bookhaven-server/internal/validation"
)

// CatalogService manages titles and their copy counts.
type CatalogService struct {
	store    store.Store
	validate *validation.Validator
	logger   *slog.Logger
}

// NewCatalogService creates a new catalog service.
func NewCatalogService(st store.Store, logger *slog.Logger) *CatalogService {
	return &CatalogService{
		store:    st,
		validate: validation.New(),
		logger:   logger,
	}
}

// CreateTitleRequest is the payload for adding a title to the catalog.
type CreateTitleRequest struct {
	Title       string   `json:"title" validate:"required,max=500"`
	Subtitle    string   `json:"subtitle" validate:"max=500"`
	Authors     []string `json:"authors" validate:"required,min=1,dive,required,max=200"`
	TotalCopies int      `json:"total_copies" validate:"gte=0,lte=10000"`
}

// CreateTitle adds a title with all copies on the shelf.
func (s *CatalogService) CreateTitle(ctx context.Context, req CreateTitleRequest) (*domain.Title, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	titleID, err := id.Generate(id.PrefixTitle)
	if err != nil {
		return nil, fmt.Errorf("generate title ID: %w", err)
	}

	now := time.Now()
	title := &domain.Title{
		ID:              titleID,
		Title:           req.Title,
		Subtitle:        req.Subtitle,
		Authors:         req.Authors,
		IsActive:        true,
		TotalCopies:     req.TotalCopies,
		AvailableCopies: req.TotalCopies,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.store.CreateTitle(ctx, title); err != nil {
		return nil, err
	}

	s.logger.Info("title created",
		"title_id", title.ID,
		"title", title.Title,
		"total_copies", title.TotalCopies,
	)
	return title, nil
}

// Get retrieves a title by ID.
func (s *CatalogService) Get(ctx context.Context, titleID string) (*domain.Title, error) {
	return s.store.GetTitle(ctx, titleID)
}

// List returns a page of titles.
func (s *CatalogService) List(ctx context.Context, params store.PaginationParams) (*store.PaginatedResult[*domain.Title], error) {
	return s.store.ListTitles(ctx, params)
}

// UpdateTitleRequest is the payload for editing a title's descriptive fields.
// Copy counts are not editable here: they belong to the ledger.
type UpdateTitleRequest struct {
	Title    string   `json:"title" validate:"required,max=500"`
	Subtitle string   `json:"subtitle" validate:"max=500"`
	Authors  []string `json:"authors" validate:"required,min=1,dive,required,max=200"`
}

// Update edits a title's descriptive fields.
func (s *CatalogService) Update(ctx context.Context, titleID string, req UpdateTitleRequest) (*domain.Title, error) {
	if err := s.validate.Validate(req); err != nil {
		return nil, err
	}

	title, err := s.store.UpdateTitleInfo(ctx, titleID, req.Title, req.Subtitle, req.Authors)
	if err != nil {
		return nil, err
	}

	s.logger.Info("title updated", "title_id", title.ID)
	return title, nil
}

// SetActive toggles whether a title accepts new loans and reservations.
// Deactivation does not touch open loans or live reservations; they run
// their course.
func (s *CatalogService) SetActive(ctx context.Context, titleID string, active bool) (*domain.Title, error) {
	title, err := s.store.SetTitleActive(ctx, titleID, active)
	if err != nil {
		return nil, err
	}

	s.logger.Info("title active flag set", "title_id", title.ID, "active", active)
	return title, nil
}
