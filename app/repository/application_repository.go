package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
	"gorm.io/gorm"
)

// applicationRepository implements the ApplicationRepository interface
type applicationRepository struct {
	db *gorm.DB
}

// NewApplicationRepository creates a new application repository instance
func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

// Get loads an application together with its ordered user list
func (r *applicationRepository) Get(ctx context.Context, id string) (*models.Application, error) {
	const op = "applications.get"

	var app models.Application
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.NotFound(op, "Application does not exist.")
	}
	if err != nil {
		return nil, apperror.StoreRead(op, err)
	}

	users, err := r.loadUsers(r.db.WithContext(ctx), []string{id})
	if err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	app.Users = users[id]
	return &app, nil
}

// Insert creates the application row and one row per user entry
func (r *applicationRepository) Insert(ctx context.Context, app *models.Application) error {
	const op = "applications.insert"

	if err := app.Validate(); err != nil {
		return apperror.Validation(op, "invalid application: %v", err)
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(app).Error; err != nil {
			return fmt.Errorf("failed to create application %s: %w", app.ID, err)
		}
		rows := make([]models.ApplicationUser, 0, len(app.Users))
		for i, userID := range app.Users {
			rows = append(rows, models.ApplicationUser{ApplicationID: app.ID, Position: i, UserID: userID})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("failed to create users of application %s: %w", app.ID, err)
		}
		return nil
	})
	return apperror.StoreWrite(op, err)
}

// Update merges the non-nil attributes of upd into the stored record
func (r *applicationRepository) Update(ctx context.Context, id string, upd models.ApplicationUpdate) error {
	const op = "applications.update"

	columns := make([]string, 0, 3)
	values := models.Application{}
	if upd.Card != nil {
		columns = append(columns, "card")
		values.Card = upd.Card
	}
	if upd.Subscription != nil {
		columns = append(columns, "subscription")
		values.Subscription = *upd.Subscription
	}
	if len(columns) == 0 {
		return nil
	}
	columns = append(columns, "updated_at")

	res := r.db.WithContext(ctx).
		Model(&models.Application{}).
		Where("id = ?", id).
		Select(columns).
		Updates(&values)
	if res.Error != nil {
		return apperror.StoreWrite(op, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// mysql reports changed rows, so an identical rewrite within the same
	// second affects none
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Application{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return apperror.StoreRead(op, err)
	}
	if count == 0 {
		return apperror.NotFound(op, "Application does not exist.")
	}
	return nil
}

// Delete removes the application and its user rows
func (r *applicationRepository) Delete(ctx context.Context, id string) error {
	const op = "applications.delete"

	var affected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("application_id = ?", id).Delete(&models.ApplicationUser{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Application{})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return apperror.StoreWrite(op, err)
	}
	if affected == 0 {
		return apperror.NotFound(op, "Application does not exist.")
	}
	return nil
}

// RemoveUsersByIndex drops the given positions from the user list and
// renumbers the remaining entries so positions stay dense.
func (r *applicationRepository) RemoveUsersByIndex(ctx context.Context, id string, positions []int) error {
	const op = "applications.remove_users"

	if len(positions) == 0 {
		return nil
	}
	drop := make(map[int]struct{}, len(positions))
	for _, p := range positions {
		drop[p] = struct{}{}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Application{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperror.NotFound(op, "Application does not exist.")
		}

		var rows []models.ApplicationUser
		if err := tx.Where("application_id = ?", id).Order("position ASC").Find(&rows).Error; err != nil {
			return err
		}
		for p := range drop {
			if p < 0 || p >= len(rows) {
				return apperror.Validation(op, "user index %d out of range for application %s", p, id)
			}
		}

		next := 0
		for _, row := range rows {
			if _, ok := drop[row.Position]; ok {
				if err := tx.Delete(&models.ApplicationUser{}, row.ID).Error; err != nil {
					return err
				}
				continue
			}
			if row.Position != next {
				if err := tx.Model(&models.ApplicationUser{}).Where("id = ?", row.ID).Update("position", next).Error; err != nil {
					return err
				}
			}
			next++
		}
		return nil
	})
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperror.StoreWrite(op, err)
}

// ListByUser returns every application whose user list contains userID
func (r *applicationRepository) ListByUser(ctx context.Context, userID string) ([]models.Application, error) {
	const op = "applications.list_by_user"

	db := r.db.WithContext(ctx)
	var ids []string
	if err := db.Model(&models.ApplicationUser{}).
		Where("user_id = ?", userID).
		Distinct().
		Pluck("application_id", &ids).Error; err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	if len(ids) == 0 {
		return nil, apperror.NotFound(op, "Applications do not exist.")
	}
	sort.Strings(ids)

	var apps []models.Application
	if err := db.Where("id IN ?", ids).Order("id ASC").Find(&apps).Error; err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	users, err := r.loadUsers(db, ids)
	if err != nil {
		return nil, apperror.StoreRead(op, err)
	}
	for i := range apps {
		apps[i].Users = users[apps[i].ID]
	}
	return apps, nil
}

func (r *applicationRepository) loadUsers(db *gorm.DB, ids []string) (map[string][]string, error) {
	var rows []models.ApplicationUser
	if err := db.Where("application_id IN ?", ids).
		Order("application_id ASC, position ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make(map[string][]string, len(ids))
	for _, row := range rows {
		users[row.ApplicationID] = append(users[row.ApplicationID], row.UserID)
	}
	return users, nil
}
