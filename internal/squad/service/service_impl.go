package service

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/panel"
	"github.com/nebulink/vpnbroker/internal/squad/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const availableCacheKey = "squads.available"

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
	panel panel.Client
	cache *gocache.Cache
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Panel panel.Client
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("squad.service"),
		clock: p.Clock,
		repo:  p.Repo,
		panel: p.Panel,
		cache: gocache.New(30*time.Second, time.Minute),
	}
}

// Available implements domain.Service.
func (s *Service) Available(ctx context.Context) ([]domain.Squad, error) {
	if cached, ok := s.cache.Get(availableCacheKey); ok {
		return cached.([]domain.Squad), nil
	}

	items, err := s.repo.ListAvailable(ctx, s.db)
	if err != nil {
		return nil, err
	}
	selectable := make([]domain.Squad, 0, len(items))
	for _, item := range items {
		if item.Selectable() {
			selectable = append(selectable, item)
		}
	}
	s.cache.SetDefault(availableCacheKey, selectable)
	return selectable, nil
}

// ByUUIDs implements domain.Service.
func (s *Service) ByUUIDs(ctx context.Context, uuids []string) ([]domain.Squad, error) {
	return s.repo.FindByUUIDs(ctx, s.db, uuids)
}

// RefreshFromPanel implements domain.Service. Only availability flags are
// taken from the panel; pricing stays broker-owned.
func (s *Service) RefreshFromPanel(ctx context.Context) error {
	remote, err := s.panel.ListSquads(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, squad := range remote {
		if err := s.repo.UpsertFlags(ctx, s.db, squad.UUID, squad.IsAvailable, squad.IsFull, now); err != nil {
			return err
		}
	}
	s.cache.Delete(availableCacheKey)

	s.log.Info("squad availability refreshed", zap.Int("count", len(remote)))
	return nil
}
