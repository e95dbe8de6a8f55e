package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/promogroup/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

type ServiceParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("promogroup.service"),
		repo: p.Repo,
	}
}

// ResolveForUser implements domain.Service.
func (s *Service) ResolveForUser(ctx context.Context, promoGroupID *snowflake.ID) (domain.PromoGroup, error) {
	if promoGroupID != nil {
		group, err := s.repo.FindByID(ctx, s.db, *promoGroupID)
		if err != nil {
			return domain.PromoGroup{}, err
		}
		if group != nil {
			return *group, nil
		}
		// Stale assignment falls back to the default group.
		s.log.Warn("assigned promo group missing", zap.Int64("promo_group_id", int64(*promoGroupID)))
	}

	group, err := s.repo.FindDefault(ctx, s.db)
	if err != nil {
		return domain.PromoGroup{}, err
	}
	if group == nil {
		return domain.PromoGroup{}, domain.ErrNoDefaultGroup
	}
	return *group, nil
}
