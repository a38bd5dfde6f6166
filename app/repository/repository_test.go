package repository

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Redirector/app/models"
	"github.com/ManuelReschke/Redirector/internal/pkg/apperror"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Application{},
		&models.ApplicationUser{},
		&models.Redirect{},
		&models.RedirectMapping{},
	))
	return db
}

func seedApplication(t *testing.T, repo ApplicationRepository, id string, users ...string) {
	t.Helper()
	app := &models.Application{
		ID:           id,
		BillingEmail: "billing@example.com",
		Users:        users,
		Subscription: models.Subscription{
			CurrentPeriodStart: 1700000000,
			CurrentPeriodEnd:   1702592000,
			Plan:               models.SubscriptionPlan{ID: "basic", Interval: models.PlanIntervalMonth},
		},
	}
	require.NoError(t, repo.Insert(context.Background(), app))
}

func TestApplicationRepository_InsertAndGet(t *testing.T) {
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_1", "u1", "u2")

	app, err := repo.Get(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "billing@example.com", app.BillingEmail)
	assert.Equal(t, []string{"u1", "u2"}, app.Users)
	assert.Equal(t, "basic", app.Subscription.Plan.ID)
	assert.Nil(t, app.Card)
}

func TestApplicationRepository_GetMissing(t *testing.T) {
	repo := NewApplicationRepository(newTestDB(t))

	_, err := repo.Get(context.Background(), "cus_missing")
	require.Error(t, err)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestApplicationRepository_InsertInvalid(t *testing.T) {
	repo := NewApplicationRepository(newTestDB(t))

	err := repo.Insert(context.Background(), &models.Application{ID: "cus_1", BillingEmail: "nope"})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestApplicationRepository_UpdateMergesAttributes(t *testing.T) {
	ctx := context.Background()
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_1", "u1")

	card := &models.Card{Brand: "Visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}
	require.NoError(t, repo.Update(ctx, "cus_1", models.ApplicationUpdate{Card: card}))

	app, err := repo.Get(ctx, "cus_1")
	require.NoError(t, err)
	require.NotNil(t, app.Card)
	assert.Equal(t, *card, *app.Card)
	assert.Equal(t, "basic", app.Subscription.Plan.ID, "subscription must be untouched by a card merge")

	sub := &models.Subscription{CurrentPeriodStart: 1, CurrentPeriodEnd: 2, Plan: models.SubscriptionPlan{ID: "pro", Interval: models.PlanIntervalYear}}
	require.NoError(t, repo.Update(ctx, "cus_1", models.ApplicationUpdate{Subscription: sub}))

	app, err = repo.Get(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "pro", app.Subscription.Plan.ID)
	assert.Equal(t, "4242", app.Card.Last4)
}

func TestApplicationRepository_UpdateMissing(t *testing.T) {
	repo := NewApplicationRepository(newTestDB(t))

	err := repo.Update(context.Background(), "cus_missing", models.ApplicationUpdate{Card: &models.Card{Last4: "1"}})
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

// reportChangedRows makes updates report zero affected rows, the way mysql
// does for a rewrite that changes nothing.
func reportChangedRows(t *testing.T, db *gorm.DB) {
	t.Helper()
	require.NoError(t, db.Callback().Update().After("gorm:update").Register("test:changed_rows", func(tx *gorm.DB) {
		tx.RowsAffected = 0
	}))
}

func TestApplicationRepository_UpdateUnchangedRow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewApplicationRepository(db)
	seedApplication(t, repo, "cus_1", "u1")
	reportChangedRows(t, db)

	sub := &models.Subscription{CurrentPeriodStart: 1, CurrentPeriodEnd: 2, Plan: models.SubscriptionPlan{ID: "pro", Interval: models.PlanIntervalMonth}}
	require.NoError(t, repo.Update(ctx, "cus_1", models.ApplicationUpdate{Subscription: sub}))
	require.NoError(t, repo.Update(ctx, "cus_1", models.ApplicationUpdate{Subscription: sub}))

	err := repo.Update(ctx, "cus_missing", models.ApplicationUpdate{Subscription: sub})
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestApplicationRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_1", "u1")

	require.NoError(t, repo.Delete(ctx, "cus_1"))

	_, err := repo.Get(ctx, "cus_1")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	err = repo.Delete(ctx, "cus_1")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = repo.ListByUser(ctx, "u1")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestApplicationRepository_RemoveUsersByIndex(t *testing.T) {
	ctx := context.Background()
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_1", "u1", "other", "u1", "last")

	require.NoError(t, repo.RemoveUsersByIndex(ctx, "cus_1", []int{0, 2}))

	app, err := repo.Get(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "last"}, app.Users)

	// positions are dense again, so index 1 now refers to "last"
	require.NoError(t, repo.RemoveUsersByIndex(ctx, "cus_1", []int{1}))
	app, err = repo.Get(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, app.Users)
}

func TestApplicationRepository_RemoveUsersByIndexErrors(t *testing.T) {
	ctx := context.Background()
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_1", "u1")

	err := repo.RemoveUsersByIndex(ctx, "cus_1", []int{3})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	err = repo.RemoveUsersByIndex(ctx, "cus_missing", []int{0})
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	assert.NoError(t, repo.RemoveUsersByIndex(ctx, "cus_1", nil))
}

func TestApplicationRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	repo := NewApplicationRepository(newTestDB(t))
	seedApplication(t, repo, "cus_a", "u1", "u1")
	seedApplication(t, repo, "cus_b", "u2", "u1")
	seedApplication(t, repo, "cus_c", "u2")

	apps, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "cus_a", apps[0].ID)
	assert.Equal(t, []string{"u1", "u1"}, apps[0].Users)
	assert.Equal(t, "cus_b", apps[1].ID)
	assert.Equal(t, []string{"u2", "u1"}, apps[1].Users)

	_, err = repo.ListByUser(ctx, "nobody")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestRedirectRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRedirectRepository(newTestDB(t))

	r := &models.Redirect{
		ApplicationID:  "cus_1",
		HostSources:    []string{"old.example.com"},
		TargetHost:     "new.example.com",
		TargetProtocol: models.TargetProtocolHTTPS,
	}
	require.NoError(t, repo.Create(ctx, r))
	require.NotEmpty(t, r.ID)

	got, err := repo.Get(ctx, "cus_1", r.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"old.example.com"}, got.HostSources)

	_, err = repo.Get(ctx, "cus_other", r.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestRedirectRepository_CreateInvalid(t *testing.T) {
	repo := NewRedirectRepository(newTestDB(t))

	err := repo.Create(context.Background(), &models.Redirect{ApplicationID: "cus_1", TargetProtocol: "gopher"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestRedirectRepository_ReplaceMappings(t *testing.T) {
	ctx := context.Background()
	repo := NewRedirectRepository(newTestDB(t))

	first := []models.RedirectMapping{
		{FromHost: "a.example.com", ToHost: "b.example.com"},
		{FromHost: "c.example.com", ToHost: "d.example.com"},
	}
	require.NoError(t, repo.ReplaceMappings(ctx, "r1", first))

	rows, err := repo.ListMappings(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a.example.com", rows[0].FromHost)
	assert.Equal(t, "d.example.com", rows[1].ToHost)

	require.NoError(t, repo.ReplaceMappings(ctx, "r1", []models.RedirectMapping{{FromHost: "x.example.com", ToHost: "y.example.com"}}))
	rows, err = repo.ListMappings(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "x.example.com", rows[0].FromHost)

	other, err := repo.ListMappings(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, other)
}
