package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, tx *domain.Transaction) error {
	return db.WithContext(ctx).Create(tx).Error
}

func (r *repo) FindCompletedDeposit(ctx context.Context, db *gorm.DB, provider, externalID string) (*domain.Transaction, error) {
	var item domain.Transaction
	err := db.WithContext(ctx).
		Where("type = ? AND is_completed = ? AND provider = ? AND external_id = ?",
			domain.TransactionDeposit, true, provider, externalID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	var items []domain.Transaction
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) FindPaymentByIntentID(ctx context.Context, db *gorm.DB, intentID string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Where("intent_id = ?", intentID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) MarkPaymentStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.PaymentStatus, transactionID *snowflake.ID, at time.Time) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": at,
	}
	if transactionID != nil {
		updates["transaction_id"] = *transactionID
	}
	return db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ?", id).
		Updates(updates).Error
}
