package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/events/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
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
		log:   p.Log.Named("events.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Append implements domain.Service. The caller passes its own transaction
// handle so the event commits or rolls back with the mutation it records.
func (s *Service) Append(ctx context.Context, db *gorm.DB, event domain.Append) error {
	if db == nil {
		db = s.db
	}

	row := domain.SubscriptionEvent{
		ID:             s.genID.Generate(),
		EventType:      event.EventType,
		UserID:         event.UserID,
		SubscriptionID: event.SubscriptionID,
		TransactionID:  event.TransactionID,
		AmountKopeks:   event.AmountKopeks,
		OccurredAt:     s.clock.Now(),
		Extra:          datatypes.JSONMap(event.Extra),
	}
	return s.repo.Insert(ctx, db, &row)
}

// CountSince implements domain.Service.
func (s *Service) CountSince(ctx context.Context, eventType domain.EventType, since time.Time) (int64, error) {
	return s.repo.CountSince(ctx, s.db, eventType, since)
}

// SumDepositsSince implements domain.Service.
func (s *Service) SumDepositsSince(ctx context.Context, since time.Time) (int64, int64, error) {
	return s.repo.SumAmountSince(ctx, s.db, domain.EventPaymentReceived, since)
}
