package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/promogroup/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PromoGroup, error) {
	var item domain.PromoGroup
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindDefault(ctx context.Context, db *gorm.DB) (*domain.PromoGroup, error) {
	var item domain.PromoGroup
	err := db.WithContext(ctx).Where("is_default = ?", true).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, group *domain.PromoGroup) error {
	return db.WithContext(ctx).Create(group).Error
}
