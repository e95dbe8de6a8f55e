package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/clock"
	pkgdb "github.com/nebulink/vpnbroker/pkg/db"
	"github.com/nebulink/vpnbroker/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("user.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// EnsureUser implements domain.Service.
func (s *Service) EnsureUser(ctx context.Context, req domain.EnsureUserRequest) (domain.User, error) {
	if req.TelegramID == 0 {
		return domain.User{}, domain.ErrInvalidTelegramID
	}

	existing, err := s.repo.FindByTelegramID(ctx, s.db, req.TelegramID)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		if err := s.repo.Touch(ctx, s.db, existing.ID, s.clock.Now()); err != nil {
			s.log.Warn("touch last activity failed", zap.Error(err))
		}
		return *existing, nil
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = "ru"
	}

	now := s.clock.Now()
	user := domain.User{
		ID:           s.genID.Generate(),
		TelegramID:   req.TelegramID,
		Language:     language,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActivity: now,
	}

	if err := s.repo.Insert(ctx, s.db, &user); err != nil {
		// Concurrent first contact: someone else inserted the row.
		if pkgdb.IsDuplicateKeyErr(err) {
			existing, findErr := s.repo.FindByTelegramID(ctx, s.db, req.TelegramID)
			if findErr == nil && existing != nil {
				return *existing, nil
			}
		}
		return domain.User{}, err
	}

	s.log.Info("user created",
		zap.Int64("telegram_id", user.TelegramID),
		zap.String("language", user.Language),
	)
	return user, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (domain.User, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *item, nil
}

// GetByTelegramID implements domain.Service.
func (s *Service) GetByTelegramID(ctx context.Context, telegramID int64) (domain.User, error) {
	item, err := s.repo.FindByTelegramID(ctx, s.db, telegramID)
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *item, nil
}
