// Package domain contains the append-only subscription event log used by
// reports and audits. Rows are only ever inserted.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType is a closed set; reports group by it.
type EventType string

const (
	EventTrialActivated        EventType = "trial_activated"
	EventSubscriptionPurchased EventType = "subscription_purchased"
	EventSubscriptionExtended  EventType = "subscription_extended"
	EventAddonPurchased        EventType = "addon_purchased"
	EventTrafficReset          EventType = "traffic_reset"
	EventPaymentReceived       EventType = "payment_received"
	EventAutopaySuccess        EventType = "autopay_success"
	EventAutopayFailed         EventType = "autopay_failed"
	EventTrialExpired          EventType = "trial_expired"
	EventMaintenanceToggled    EventType = "maintenance_toggled"
)

type SubscriptionEvent struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	EventType      EventType         `gorm:"type:text;not null;index"`
	UserID         snowflake.ID      `gorm:"not null;index"`
	SubscriptionID *snowflake.ID     `gorm:"index"`
	TransactionID  *snowflake.ID     `gorm:""`
	AmountKopeks   *int64            `gorm:""`
	OccurredAt     time.Time         `gorm:"not null;index"`
	Extra          datatypes.JSONMap `gorm:"type:jsonb"`
}

// TableName sets the database table name.
func (SubscriptionEvent) TableName() string { return "subscription_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *SubscriptionEvent) error
	CountSince(ctx context.Context, db *gorm.DB, eventType EventType, since time.Time) (int64, error)
	SumAmountSince(ctx context.Context, db *gorm.DB, eventType EventType, since time.Time) (int64, int64, error)
}

// Append describes one event to record. Appending inside the caller's
// transaction keeps the log consistent with the mutation it describes.
type Append struct {
	EventType      EventType
	UserID         snowflake.ID
	SubscriptionID *snowflake.ID
	TransactionID  *snowflake.ID
	AmountKopeks   *int64
	Extra          map[string]any
}

type Service interface {
	Append(ctx context.Context, db *gorm.DB, event Append) error
	CountSince(ctx context.Context, eventType EventType, since time.Time) (int64, error)
	// SumDepositsSince returns (total kopeks, count) of payment_received
	// events in the window.
	SumDepositsSince(ctx context.Context, since time.Time) (int64, int64, error)
}
