package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// redirectRepository implements the RedirectRepository interface
type redirectRepository struct {
	db *gorm.DB
}

// NewRedirectRepository creates a new redirect repository instance
func NewRedirectRepository(db *gorm.DB) RedirectRepository {
	return &redirectRepository{db: db}
}

// Get retrieves a redirect owned by the given application
func (r *redirectRepository) Get(ctx context.Context, applicationID, redirectID string) (*models.Redirect, error) {
	const op = "redirects.get"

	var redirect models.Redirect
	err := r.db.WithContext(ctx).
		Where("id = ? AND application_id = ?", redirectID, applicationID).
		First(&redirect).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound(op, "Redirect does not exist.")
	}
	if err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	return &redirect, nil
}

// Create validates and stores a new redirect, assigning an id when missing
func (r *redirectRepository) Create(ctx context.Context, redirect *models.Redirect) error {
	const op = "redirects.create"

	if err := redirect.Validate(); err != nil {
		return apperror.Validation(op, "invalid redirect: %v", err)
	}
	if redirect.ID == "" {
		redirect.ID = uuid.New().String()
	}
	return apperror.StoreWrite(op, r.db.WithContext(ctx).Create(redirect).Error)
}

// ReplaceMappings swaps the whole mapping table of a redirect in one transaction
func (r *redirectRepository) ReplaceMappings(ctx context.Context, redirectID string, mappings []models.RedirectMapping) error {
	const op = "redirects.replace_mappings"

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("redirect_id = ?", redirectID).Delete(&models.RedirectMapping{}).Error; err != nil {
			return fmt.Errorf("failed to clear mappings of redirect %s: %w", redirectID, err)
		}
		if len(mappings) == 0 {
			return nil
		}
		rows := make([]models.RedirectMapping, len(mappings))
		for i, m := range mappings {
			rows[i] = models.RedirectMapping{
				RedirectID: redirectID,
				Position:   i,
				FromHost:   m.FromHost,
				ToHost:     m.ToHost,
			}
		}
		if err := tx.CreateInBatches(&rows, 500).Error; err != nil {
			return fmt.Errorf("failed to insert mappings of redirect %s: %w", redirectID, err)
		}
		return nil
	})
	return apperror.StoreWrite(op, err)
}

// ListMappings returns the committed mapping table in insertion order
func (r *redirectRepository) ListMappings(ctx context.Context, redirectID string) ([]models.RedirectMapping, error) {
	var rows []models.RedirectMapping
	err := r.db.WithContext(ctx).
		Where("redirect_id = ?", redirectID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, apperror.StoreRead("redirects.list_mappings", err)
	}
	return rows, nil
}
