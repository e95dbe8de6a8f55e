// Package domain contains the durable fiscal receipt queue. Successful
// deposits enqueue a receipt; a scheduler task drains the queue against
// the tax service out of band.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrServiceNotConfigured = errors.New("receipt_service_not_configured")
	ErrSubmitFailed         = errors.New("receipt_submit_failed")
)

// ReceiptItem is one queued fiscal receipt. Items survive transient tax
// service failures via the attempt counter; a hard cap prevents the queue
// from growing without bound.
type ReceiptItem struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	PaymentID     string       `gorm:"type:text;not null"`
	Name          string       `gorm:"type:text;not null"`
	AmountKopeks  int64        `gorm:"not null"`
	Quantity      int          `gorm:"not null;default:1"`
	ClientInfo    *string      `gorm:"type:text"`
	Attempts      int          `gorm:"not null;default:0"`
	NextAttemptAt time.Time    `gorm:"not null;index"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReceiptItem) TableName() string { return "receipt_queue" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *ReceiptItem) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]ReceiptItem, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, next time.Time) error
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}

// DrainReport summarizes one drain pass for logs and admin alerts.
type DrainReport struct {
	Submitted int
	Failed    int
	Dropped   int
	Remaining int64
}

type Service interface {
	// Enqueue records a receipt inside the caller's transaction so it
	// commits together with the deposit.
	Enqueue(ctx context.Context, db *gorm.DB, item ReceiptItem) error
	// DrainOnce submits due receipts, rescheduling failures with growing
	// delays and dropping items that exhausted the attempt cap.
	DrainOnce(ctx context.Context) (DrainReport, error)
	QueueDepth(ctx context.Context) (int64, error)
}
