package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertTransaction only ever INSERTs; the table is append-only.
	InsertTransaction(ctx context.Context, db *gorm.DB, tx *Transaction) error
	FindCompletedDeposit(ctx context.Context, db *gorm.DB, provider, externalID string) (*Transaction, error)
	ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]Transaction, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindPaymentByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*Payment, error)
	MarkPaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status PaymentStatus, transactionID *snowflake.ID, at time.Time) error
}
