package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/nebulink/vpnbroker/internal/clock"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/notify"
	"github.com/nebulink/vpnbroker/internal/payment/domain"
	receiptsdomain "github.com/nebulink/vpnbroker/internal/receipts/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	pkgdb "github.com/nebulink/vpnbroker/pkg/db"
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

	repo        domain.Repository
	userRepo    userdomain.Repository
	eventsSvc   eventsdomain.Service
	receiptsSvc receiptsdomain.Service
	bus         *notify.Bus
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	Repo        domain.Repository
	UserRepo    userdomain.Repository
	EventsSvc   eventsdomain.Service
	ReceiptsSvc receiptsdomain.Service
	Bus         *notify.Bus
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		userRepo:    p.UserRepo,
		eventsSvc:   p.EventsSvc,
		receiptsSvc: p.ReceiptsSvc,
		bus:         p.Bus,
	}
}

// ProcessTopup implements domain.Service. The credit path is idempotent
// on (provider, external_id): a replayed webhook finds the completed
// deposit and returns success without touching the wallet.
func (s *Service) ProcessTopup(ctx context.Context, event domain.TopupEvent) error {
	provider := strings.ToLower(strings.TrimSpace(event.Provider))
	externalID := strings.TrimSpace(event.ExternalID)
	if provider == "" || externalID == "" {
		return domain.ErrInvalidEvent
	}
	if event.AmountKopeks <= 0 {
		return domain.ErrInvalidAmount
	}

	existing, err := s.repo.FindCompletedDeposit(ctx, s.db, provider, externalID)
	if err != nil {
		return err
	}
	if existing != nil {
		s.log.Info("duplicate top-up ignored",
			zap.String("provider", provider),
			zap.String("external_id", externalID),
		)
		return nil
	}

	user, err := s.userRepo.FindByTelegramID(ctx, s.db, event.TelegramID)
	if err != nil {
		return err
	}
	if user == nil {
		return userdomain.ErrUserNotFound
	}

	description := event.Description
	if description == "" {
		description = fmt.Sprintf("Top-up via %s", provider)
	}

	txRow := domain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       user.ID,
		Type:         domain.TransactionDeposit,
		AmountKopeks: event.AmountKopeks,
		IsCompleted:  true,
		Provider:     &provider,
		ExternalID:   &externalID,
		Description:  description,
		Metadata: datatypes.JSONMap{
			"provider":    provider,
			"external_id": externalID,
			"currency":    event.Currency,
		},
		CreatedAt: s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.CreditBalance(ctx, tx, user.ID, event.AmountKopeks); err != nil {
			return err
		}
		if err := s.repo.InsertTransaction(ctx, tx, &txRow); err != nil {
			return err
		}
		if err := s.receiptsSvc.Enqueue(ctx, tx, receiptsdomain.ReceiptItem{
			PaymentID:    externalID,
			Name:         description,
			AmountKopeks: event.AmountKopeks,
			Quantity:     1,
		}); err != nil {
			return err
		}
		amount := event.AmountKopeks
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:     eventsdomain.EventPaymentReceived,
			UserID:        user.ID,
			TransactionID: &txRow.ID,
			AmountKopeks:  &amount,
			Extra: map[string]any{
				"provider":    provider,
				"external_id": externalID,
			},
		})
	})
	if err != nil {
		// A concurrent webhook replay may have won the unique index race;
		// that is the success case.
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil
		}
		return err
	}

	s.log.Info("top-up credited",
		zap.String("provider", provider),
		zap.String("external_id", externalID),
		zap.Int64("amount_kopeks", event.AmountKopeks),
	)

	s.bus.User(ctx, user.TelegramID, fmt.Sprintf("Баланс пополнен на %s.", notify.FormatKopeks(event.AmountKopeks)))
	s.bus.Admins(ctx, fmt.Sprintf("Deposit: user=%d provider=%s amount=%s", user.TelegramID, provider, notify.FormatKopeks(event.AmountKopeks)))
	return nil
}

// CreateIntent implements domain.Service.
func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (domain.Payment, error) {
	if req.AmountKopeks <= 0 {
		return domain.Payment{}, domain.ErrInvalidAmount
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		return domain.Payment{}, domain.ErrInvalidProvider
	}

	now := s.clock.Now()
	payment := domain.Payment{
		ID:           s.genID.Generate(),
		UserID:       req.UserID,
		Provider:     provider,
		IntentID:     ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		AmountKopeks: req.AmountKopeks,
		Status:       domain.PaymentPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.InsertPayment(ctx, s.db, &payment); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

// ListTransactions implements domain.Service.
func (s *Service) ListTransactions(ctx context.Context, userID snowflake.ID, limit int) ([]domain.Transaction, error) {
	return s.repo.ListTransactions(ctx, s.db, userID, limit)
}
