package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/subscription/domain"
	pkgdb "github.com/nebulink/vpnbroker/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Save(sub).Error
}

func (r *repo) FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := pkgdb.LockForUpdate(db.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repo) ReplaceSquads(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, rows []domain.SubscriptionSquad) error {
	if err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&domain.SubscriptionSquad{}).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&rows).Error
}

func (r *repo) ListSquads(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]domain.SubscriptionSquad, error) {
	var rows []domain.SubscriptionSquad
	err := db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListExpiringWithin(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND end_date > ? AND end_date <= ?", domain.StatusActive, from, to).
		Order("end_date").
		Find(&subs).Error
	return subs, err
}

func (r *repo) ListExpiredTrials(ctx context.Context, db *gorm.DB, before time.Time) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := db.WithContext(ctx).
		Where("is_trial = ? AND status <> ? AND end_date <= ?", true, domain.StatusDisabled, before).
		Order("end_date").
		Find(&subs).Error
	return subs, err
}

func (r *repo) ListAutopayDue(ctx context.Context, db *gorm.DB, now time.Time, horizon time.Duration) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	err := db.WithContext(ctx).
		Where("autopay_enabled = ? AND is_trial = ? AND status = ? AND end_date > ? AND end_date <= ?",
			true, false, domain.StatusActive, now, now.Add(horizon)).
		Order("end_date").
		Find(&subs).Error
	return subs, err
}

func (r *repo) CountByStatus(ctx context.Context, db *gorm.DB, status domain.Status) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *repo) CountTrials(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Subscription{}).
		Where("is_trial = ?", true).
		Count(&count).Error
	return count, err
}
