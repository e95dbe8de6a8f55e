// Package domain contains wallet transaction models and the canonical
// top-up event produced by provider webhook adapters.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionType fixes the sign of the amount: deposits and bonuses
// credit the wallet, withdrawals and subscription payments debit it.
type TransactionType string

const (
	TransactionDeposit             TransactionType = "deposit"
	TransactionWithdrawal          TransactionType = "withdrawal"
	TransactionSubscriptionPayment TransactionType = "subscription_payment"
	TransactionReferralBonus       TransactionType = "referral_bonus"
	TransactionPromocodeBonus      TransactionType = "promocode_bonus"
	TransactionRefund              TransactionType = "refund"
)

// Transaction is immutable once IsCompleted is true. Completed deposits
// are unique per (provider, external_id); that index is the exactly-once
// backstop for webhook replays.
type Transaction struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	UserID       snowflake.ID      `gorm:"not null;index"`
	Type         TransactionType   `gorm:"type:text;not null"`
	AmountKopeks int64             `gorm:"not null"`
	IsCompleted  bool              `gorm:"not null;default:false"`
	Provider     *string           `gorm:"type:text"`
	ExternalID   *string           `gorm:"type:text"`
	Description  string            `gorm:"type:text;not null;default:''"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// PaymentStatus tracks a provider-specific payment intent.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is one payment attempt at a provider; it is joined to its
// Transaction once the webhook confirms it.
type Payment struct {
	ID            snowflake.ID  `gorm:"primaryKey"`
	UserID        snowflake.ID  `gorm:"not null;index"`
	Provider      string        `gorm:"type:text;not null"`
	IntentID      string        `gorm:"type:text;not null;uniqueIndex"`
	AmountKopeks  int64         `gorm:"not null"`
	Status        PaymentStatus `gorm:"type:text;not null"`
	TransactionID *snowflake.ID `gorm:""`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// TopupEvent is the canonical credit event parsed by provider adapters.
type TopupEvent struct {
	Provider     string
	ExternalID   string
	TelegramID   int64
	AmountKopeks int64
	Currency     string
	Description  string
	OccurredAt   time.Time
	RawPayload   []byte
	Metadata     map[string]any
}
