package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	Update(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)
	FindByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*Subscription, error)

	// ReplaceSquads swaps the join rows for the subscription in one shot.
	ReplaceSquads(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, rows []SubscriptionSquad) error
	ListSquads(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]SubscriptionSquad, error)

	// ListExpiringWithin returns non-disabled active subscriptions whose
	// end date falls inside (from, to].
	ListExpiringWithin(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Subscription, error)
	// ListExpiredTrials returns trial subscriptions expired before the
	// cutoff and not yet disabled.
	ListExpiredTrials(ctx context.Context, db *gorm.DB, before time.Time) ([]Subscription, error)
	// ListAutopayDue returns active autopay subscriptions ending within
	// horizon; callers filter per-row autopay_days_before themselves.
	ListAutopayDue(ctx context.Context, db *gorm.DB, now time.Time, horizon time.Duration) ([]Subscription, error)

	CountByStatus(ctx context.Context, db *gorm.DB, status Status) (int64, error)
	CountTrials(ctx context.Context, db *gorm.DB) (int64, error)
}
