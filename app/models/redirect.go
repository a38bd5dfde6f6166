package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TargetProtocolHTTP  = "http"
	TargetProtocolHTTPS = "https"
)

// Redirect sends requests for any of HostSources to TargetHost.
type Redirect struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"redirectId"`
	ApplicationID  string    `gorm:"type:varchar(64);not null;index" json:"applicationId" validate:"required"`
	HostSources    []string  `gorm:"type:text;serializer:json" json:"hostSources" validate:"required,min=1,dive,hostname_rfc1123"`
	TargetHost     string    `gorm:"type:varchar(253);not null" json:"targetHost" validate:"required,hostname_rfc1123"`
	TargetProtocol string    `gorm:"type:varchar(5);not null" json:"targetProtocol" validate:"required,oneof=http https"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RedirectMapping is one committed from→to row of a redirect's live table.
type RedirectMapping struct {
	ID         uint   `gorm:"primaryKey" json:"-"`
	RedirectID string `gorm:"type:varchar(36);not null;index:idx_redirect_mappings_redirect_pos,priority:1" json:"-"`
	Position   int    `gorm:"not null;index:idx_redirect_mappings_redirect_pos,priority:2" json:"-"`
	FromHost   string `gorm:"type:varchar(253);not null" json:"from"`
	ToHost     string `gorm:"type:varchar(253);not null" json:"to"`
}

func (r *Redirect) Validate() error {
	v := validator.New()
	return v.Struct(r)
}
