package repository

import (
	"context"
	"time"

	"github.com/nebulink/vpnbroker/internal/events/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.SubscriptionEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) CountSince(ctx context.Context, db *gorm.DB, eventType domain.EventType, since time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.SubscriptionEvent{}).
		Where("event_type = ? AND occurred_at >= ?", eventType, since).
		Count(&count).Error
	return count, err
}

func (r *repo) SumAmountSince(ctx context.Context, db *gorm.DB, eventType domain.EventType, since time.Time) (int64, int64, error) {
	var row struct {
		Total int64
		Count int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount_kopeks), 0) AS total, COUNT(*) AS count
		 FROM subscription_events
		 WHERE event_type = ? AND occurred_at >= ?`,
		eventType,
		since,
	).Scan(&row).Error
	return row.Total, row.Count, err
}
