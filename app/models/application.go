package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PlanIntervalMonth = "month"
	PlanIntervalYear  = "year"
)

// Application is an account whose id is also its payment gateway customer id.
// Card and Subscription are cached projections of the last successful gateway
// response and are never edited independently.
type Application struct {
	ID           string       `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required,max=64"`
	BillingEmail string       `gorm:"type:varchar(200);not null" json:"billingEmail" validate:"required,email,max=200"`
	Card         *Card        `gorm:"type:text;serializer:json" json:"card,omitempty"`
	Subscription Subscription `gorm:"type:text;serializer:json" json:"subscription"`
	Users        []string     `gorm:"-" json:"users" validate:"required,min=1,dive,required"`
	CreatedAt    time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// ApplicationUser stores one entry of Application.Users. Position is dense
// and zero-based; the same user may occupy several positions.
type ApplicationUser struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	ApplicationID string `gorm:"type:varchar(64);not null;index:idx_application_users_app_pos,priority:1" json:"application_id"`
	Position      int    `gorm:"not null;index:idx_application_users_app_pos,priority:2" json:"position"`
	UserID        string `gorm:"type:varchar(191);not null;index" json:"user_id"`
}

type Card struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

// Subscription timestamps are unix seconds as reported by the gateway.
type Subscription struct {
	CurrentPeriodStart int64            `json:"current_period_start"`
	CurrentPeriodEnd   int64            `json:"current_period_end"`
	TrialStart         *int64           `json:"trial_start"`
	TrialEnd           *int64           `json:"trial_end"`
	Plan               SubscriptionPlan `json:"plan"`
}

type SubscriptionPlan struct {
	ID       string  `json:"id"`
	Interval string  `json:"interval"`
	Upcoming *string `json:"upcoming"`
}

// ApplicationUpdate is a partial attribute merge; nil fields are left as is.
type ApplicationUpdate struct {
	Card         *Card
	Subscription *Subscription
}

func (a *Application) Validate() error {
	v := validator.New()
	return v.Struct(a)
}

// HasCard reports whether a usable payment instrument has been recorded.
func (a *Application) HasCard() bool {
	return a.Card != nil && a.Card.Last4 != ""
}

// UserPositions returns every index of userID in Users, in ascending order.
func (a *Application) UserPositions(userID string) []int {
	var positions []int
	for i, u := range a.Users {
		if u == userID {
			positions = append(positions, i)
		}
	}
	return positions
}
