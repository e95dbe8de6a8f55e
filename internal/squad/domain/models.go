// Package domain contains the selectable server (squad) catalogue. Prices
// and display names are broker-owned; availability flags mirror the panel.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrSquadNotFound    = errors.New("squad_not_found")
	ErrSquadUnavailable = errors.New("squad_unavailable")
)

type Squad struct {
	ID                  snowflake.ID `gorm:"primaryKey"`
	SquadUUID           string       `gorm:"type:text;not null;uniqueIndex"`
	DisplayName         string       `gorm:"type:text;not null"`
	CountryCode         string       `gorm:"type:text;not null"`
	PriceKopeksPerMonth int64        `gorm:"not null;default:0"`
	IsAvailable         bool         `gorm:"not null;default:true"`
	IsFull              bool         `gorm:"not null;default:false"`
	CreatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Squad) TableName() string { return "squads" }

// Selectable reports whether the squad may appear in new configurations.
func (s Squad) Selectable() bool { return s.IsAvailable && !s.IsFull }

type Repository interface {
	ListAvailable(ctx context.Context, db *gorm.DB) ([]Squad, error)
	FindByUUIDs(ctx context.Context, db *gorm.DB, uuids []string) ([]Squad, error)
	UpsertFlags(ctx context.Context, db *gorm.DB, squadUUID string, available, full bool, at time.Time) error
}

type Service interface {
	// Available returns selectable squads through a short-TTL cache; the
	// menu render path calls this on every interaction.
	Available(ctx context.Context) ([]Squad, error)
	// ByUUIDs resolves squads bypassing the cache; writers use it to
	// re-check availability inside their own transaction.
	ByUUIDs(ctx context.Context, uuids []string) ([]Squad, error)
	// RefreshFromPanel reconciles availability flags with the panel.
	RefreshFromPanel(ctx context.Context) error
}
