// Package domain contains promo group models. A promo group carries
// per-category percentage discounts; the default group may additionally
// carry period-length discounts applied to the base price.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrPromoGroupNotFound = errors.New("promo_group_not_found")
	ErrNoDefaultGroup     = errors.New("no_default_promo_group")
)

type PromoGroup struct {
	ID                     snowflake.ID      `gorm:"primaryKey"`
	Name                   string            `gorm:"type:text;not null"`
	IsDefault              bool              `gorm:"not null;default:false;index"`
	ServerDiscountPercent  int               `gorm:"not null;default:0"`
	TrafficDiscountPercent int               `gorm:"not null;default:0"`
	DeviceDiscountPercent  int               `gorm:"not null;default:0"`
	// PeriodDiscounts maps period days (as string keys) to percent; only
	// meaningful on the default group.
	PeriodDiscounts datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PromoGroup) TableName() string { return "promo_groups" }

// Discounts is the promo group's view the pricing engine consumes.
type Discounts struct {
	ServerPercent  int
	TrafficPercent int
	DevicePercent  int
	// PeriodPercent maps period days to a base-price discount.
	PeriodPercent map[int]int
}

// DiscountsView flattens the stored row into engine inputs.
func (g PromoGroup) DiscountsView() Discounts {
	view := Discounts{
		ServerPercent:  g.ServerDiscountPercent,
		TrafficPercent: g.TrafficDiscountPercent,
		DevicePercent:  g.DeviceDiscountPercent,
		PeriodPercent:  map[int]int{},
	}
	if !g.IsDefault {
		return view
	}
	for key, raw := range g.PeriodDiscounts {
		days, err := atoiKey(key)
		if err != nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
			view.PeriodPercent[days] = int(v)
		case int:
			view.PeriodPercent[days] = v
		}
	}
	return view
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PromoGroup, error)
	FindDefault(ctx context.Context, db *gorm.DB) (*PromoGroup, error)
	Insert(ctx context.Context, db *gorm.DB, group *PromoGroup) error
}

type Service interface {
	// ResolveForUser returns the user's promo group, falling back to the
	// default group when none is assigned.
	ResolveForUser(ctx context.Context, promoGroupID *snowflake.ID) (PromoGroup, error)
}
