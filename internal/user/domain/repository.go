package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, user *User) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindByTelegramID(ctx context.Context, db *gorm.DB, telegramID int64) (*User, error)

	// DebitBalance subtracts amount only when the post-state stays >= 0.
	// Returns false without mutating otherwise.
	DebitBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amountKopeks int64) (bool, error)
	CreditBalance(ctx context.Context, db *gorm.DB, id snowflake.ID, amountKopeks int64) error

	SetHasHadPaid(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	SetPanelUUID(ctx context.Context, db *gorm.DB, id snowflake.ID, panelUUID string) error
	Touch(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	Count(ctx context.Context, db *gorm.DB) (int64, error)
}
