package repository

import (
	"context"

	"github.com/ManuelReschke/Redirector/app/models"
	"gorm.io/gorm"
)

// ApplicationRepository is the typed application store. Every method touches
// a single application key; multi-row changes run in one transaction.
type ApplicationRepository interface {
	Get(ctx context.Context, id string) (*models.Application, error)
	Insert(ctx context.Context, app *models.Application) error
	Update(ctx context.Context, id string, upd models.ApplicationUpdate) error
	Delete(ctx context.Context, id string) error
	RemoveUsersByIndex(ctx context.Context, id string, positions []int) error
	// ListByUser fails with NotFound when no application references userID.
	ListByUser(ctx context.Context, userID string) ([]models.Application, error)
}

// RedirectRepository stores redirects and their committed mapping tables.
type RedirectRepository interface {
	Get(ctx context.Context, applicationID, redirectID string) (*models.Redirect, error)
	Create(ctx context.Context, redirect *models.Redirect) error
	ReplaceMappings(ctx context.Context, redirectID string, mappings []models.RedirectMapping) error
	ListMappings(ctx context.Context, redirectID string) ([]models.RedirectMapping, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Application ApplicationRepository
	Redirect    RedirectRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Application: NewApplicationRepository(db),
		Redirect:    NewRedirectRepository(db),
	}
}
