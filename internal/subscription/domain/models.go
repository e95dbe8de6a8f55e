// Package domain contains the subscription state machine: at most one
// subscription per user, moving trial → active → expired, with paid
// add-ons for traffic, devices, servers and the modem slot.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

type Subscription struct {
	ID     snowflake.ID `gorm:"primaryKey"`
	UserID snowflake.ID `gorm:"not null;uniqueIndex"`

	Status  Status `gorm:"type:text;not null"`
	IsTrial bool   `gorm:"not null;default:false"`

	StartDate time.Time `gorm:"not null"`
	EndDate   time.Time `gorm:"not null;index"`

	// TrafficLimitGB zero means unlimited. TrafficUsedGB mirrors the
	// panel's counter and is refreshed by SyncUsage.
	TrafficLimitGB int     `gorm:"not null;default:0"`
	TrafficUsedGB  float64 `gorm:"not null;default:0"`

	DeviceLimit int `gorm:"not null;default:1"`

	// ConnectedSquads is the ordered set of server UUIDs, mirrored into
	// subscription_squads join rows with price snapshots.
	ConnectedSquads datatypes.JSONSlice[string] `gorm:"type:jsonb"`

	ModemEnabled bool `gorm:"not null;default:false"`

	AutopayEnabled    bool `gorm:"not null;default:false"`
	AutopayDaysBefore int  `gorm:"not null;default:3"`

	SubscriptionURL string `gorm:"type:text;not null;default:''"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// ActualStatus derives the effective status: a stored active past its end
// date reads as expired. Disabled is terminal until an operator flips it.
func (s Subscription) ActualStatus(now time.Time) Status {
	if s.Status == StatusDisabled {
		return StatusDisabled
	}
	if !s.EndDate.After(now) {
		return StatusExpired
	}
	return s.Status
}

func (s Subscription) IsActive(now time.Time) bool {
	return s.ActualStatus(now) == StatusActive
}

// DaysLeft counts remaining paid days, rounding partial days up.
func (s Subscription) DaysLeft(now time.Time) int {
	if !s.EndDate.After(now) {
		return 0
	}
	return int((s.EndDate.Sub(now) + 24*time.Hour - time.Nanosecond) / (24 * time.Hour))
}

// IsUnlimited reports whether the subscription has no traffic cap.
func (s Subscription) IsUnlimited() bool { return s.TrafficLimitGB == 0 }

// SubscriptionSquad snapshots what the user paid for one server in the
// current period. Rows are replaced wholesale on purchase and extension.
type SubscriptionSquad struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SubscriptionID  snowflake.ID `gorm:"not null;index:idx_sub_squad,unique"`
	SquadUUID       string       `gorm:"type:text;not null;index:idx_sub_squad,unique"`
	PaidPriceKopeks int64        `gorm:"not null;default:0"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionSquad) TableName() string { return "subscription_squads" }

// PurchaseConfig is the full configuration committed at checkout.
type PurchaseConfig struct {
	PeriodDays   int
	TrafficGB    int
	DeviceLimit  int
	ModemEnabled bool
	SquadUUIDs   []string
}
