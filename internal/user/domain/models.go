// Package domain contains persistence models for broker users and their
// wallet balances.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// User is a chat user with an internal wallet. Balances are integer kopeks
// and never go negative inside a committed transaction.
type User struct {
	ID                      snowflake.ID `gorm:"primaryKey"`
	TelegramID              int64        `gorm:"not null;uniqueIndex"`
	Language                string       `gorm:"type:text;not null;default:ru"`
	BalanceKopeks           int64        `gorm:"not null;default:0"`
	HasHadPaidSubscription  bool         `gorm:"not null;default:false"`
	PromoGroupID            *snowflake.ID `gorm:"index"`
	PanelUUID               *string      `gorm:"type:text"`
	CreatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt               time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastActivity            time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }
