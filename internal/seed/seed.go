// Package seed bootstraps reference rows a fresh install needs. It only
// ever inserts what is missing.
package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	promodomain "github.com/nebulink/vpnbroker/internal/promogroup/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EnsureDefaultPromoGroup seeds the zero-discount default promo group
// every user without an assignment falls back to.
func EnsureDefaultPromoGroup(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var group promodomain.PromoGroup
		err := tx.WithContext(ctx).Where("is_default = ?", true).First(&group).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		now := time.Now().UTC()
		group = promodomain.PromoGroup{
			ID:              node.Generate(),
			Name:            "Base",
			IsDefault:       true,
			PeriodDiscounts: datatypes.JSONMap{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return tx.WithContext(ctx).Create(&group).Error
	})
}
