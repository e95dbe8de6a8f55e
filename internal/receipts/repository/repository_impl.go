package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/receipts/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.ReceiptItem) error {
	return db.WithContext(ctx).Create(item).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.ReceiptItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.ReceiptItem
	err := db.WithContext(ctx).
		Where("next_attempt_at <= ?", now).
		Order("created_at").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.ReceiptItem{}).Error
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, next time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE receipt_queue SET attempts = ?, next_attempt_at = ? WHERE id = ?`,
		attempts,
		next,
		id,
	).Error
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.ReceiptItem{}).Count(&count).Error
	return count, err
}
