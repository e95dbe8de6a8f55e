package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/user/domain"
	pkgdb "github.com/nebulink/vpnbroker/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Create(user).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var item domain.User
	err := pkgdb.LockForUpdate(db.WithContext(ctx)).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) FindByTelegramID(ctx context.Context, db *gorm.DB, telegramID int64) (*domain.User, error) {
	var item domain.User
	err := db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// DebitBalance relies on a conditional UPDATE so the non-negative invariant
// holds without a prior read.
func (r *repo) DebitBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amountKopeks int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE users
		 SET balance_kopeks = balance_kopeks - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND balance_kopeks >= ?`,
		amountKopeks,
		id,
		amountKopeks,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) CreditBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amountKopeks int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET balance_kopeks = balance_kopeks + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		amountKopeks,
		id,
	).Error
}

func (r *repo) SetHasHadPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET has_had_paid_subscription = TRUE, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		id,
	).Error
}

func (r *repo) SetPanelUUID(ctx context.Context, db *gorm.DB, id snowflake.ID, panelUUID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users
		 SET panel_uuid = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		panelUUID,
		id,
	).Error
}

func (r *repo) Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE users SET last_activity = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) Count(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.User{}).Count(&count).Error
	return count, err
}
