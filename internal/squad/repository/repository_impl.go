package repository

import (
	"context"
	"time"

	"github.com/nebulink/vpnbroker/internal/squad/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListAvailable(ctx context.Context, db *gorm.DB) ([]domain.Squad, error) {
	var items []domain.Squad
	err := db.WithContext(ctx).
		Where("is_available = ?", true).
		Order("country_code, display_name").
		Find(&items).Error
	return items, err
}

func (r *repo) FindByUUIDs(ctx context.Context, db *gorm.DB, uuids []string) ([]domain.Squad, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var items []domain.Squad
	err := db.WithContext(ctx).
		Where("squad_uuid IN ?", uuids).
		Find(&items).Error
	return items, err
}

func (r *repo) UpsertFlags(ctx context.Context, db *gorm.DB, squadUUID string, available, full bool, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE squads
		 SET is_available = ?, is_full = ?, updated_at = ?
		 WHERE squad_uuid = ?`,
		available,
		full,
		at,
		squadUUID,
	).Error
}
