package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/notify"
	"github.com/nebulink/vpnbroker/internal/panel"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
	"github.com/nebulink/vpnbroker/internal/pricing"
	promodomain "github.com/nebulink/vpnbroker/internal/promogroup/domain"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	"github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"github.com/samber/lo"
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
	cfg   config.Config

	repo        domain.Repository
	userRepo    userdomain.Repository
	squadRepo   squaddomain.Repository
	promoSvc    promodomain.Service
	engine      *pricing.Engine
	panel       panel.Client
	paymentRepo paymentdomain.Repository
	eventsSvc   eventsdomain.Service
	bus         *notify.Bus
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Cfg   config.Config

	Repo        domain.Repository
	UserRepo    userdomain.Repository
	SquadRepo   squaddomain.Repository
	PromoSvc    promodomain.Service
	Engine      *pricing.Engine
	Panel       panel.Client
	PaymentRepo paymentdomain.Repository
	EventsSvc   eventsdomain.Service
	Bus         *notify.Bus
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		repo:        p.Repo,
		userRepo:    p.UserRepo,
		squadRepo:   p.SquadRepo,
		promoSvc:    p.PromoSvc,
		engine:      p.Engine,
		panel:       p.Panel,
		paymentRepo: p.PaymentRepo,
		eventsSvc:   p.EventsSvc,
		bus:         p.Bus,
	}
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

// CreateTrial implements domain.Service.
func (s *Service) CreateTrial(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	if user.HasHadPaidSubscription {
		return nil, domain.ErrTrialAlreadyUsed
	}

	now := s.clock.Now()
	trial := s.cfg.Trial

	var squads []string
	if trial.SquadUUID != "" {
		squads = []string{trial.SquadUUID}
	}

	sub := &domain.Subscription{
		ID:                s.genID.Generate(),
		UserID:            userID,
		Status:            domain.StatusActive,
		IsTrial:           true,
		StartDate:         now,
		EndDate:           now.Add(time.Duration(trial.DurationDays) * 24 * time.Hour),
		TrafficLimitGB:    trial.TrafficLimitGB,
		DeviceLimit:       trial.DeviceLimit,
		ConnectedSquads:   datatypes.NewJSONSlice(squads),
		AutopayDaysBefore: s.cfg.Autopay.DefaultDaysBefore,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrTrialAlreadyUsed
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		rows := lo.Map(squads, func(uuid string, _ int) domain.SubscriptionSquad {
			return domain.SubscriptionSquad{
				ID:             s.genID.Generate(),
				SubscriptionID: sub.ID,
				SquadUUID:      uuid,
				CreatedAt:      now,
			}
		})
		if err := s.repo.ReplaceSquads(ctx, tx, sub.ID, rows); err != nil {
			return err
		}
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventTrialActivated,
			UserID:         userID,
			SubscriptionID: &sub.ID,
			Extra:          map[string]any{"duration_days": trial.DurationDays},
		})
	})
	if err != nil {
		return nil, err
	}

	s.syncPanel(ctx, user, sub)
	s.bus.User(ctx, user.TelegramID, fmt.Sprintf("Пробный период активирован на %d дн.", trial.DurationDays))
	return sub, nil
}

// QuotePurchase implements domain.Service.
func (s *Service) QuotePurchase(ctx context.Context, userID snowflake.ID, cfg domain.PurchaseConfig) (pricing.Quote, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return pricing.Quote{}, err
	}
	if user == nil {
		return pricing.Quote{}, userdomain.ErrUserNotFound
	}
	discounts, err := s.discountsFor(ctx, user)
	if err != nil {
		return pricing.Quote{}, err
	}
	squads, err := s.selectableSquads(ctx, s.db, cfg.SquadUUIDs)
	if err != nil {
		return pricing.Quote{}, err
	}
	return s.engine.Price(pricing.Request{
		PeriodDays:   cfg.PeriodDays,
		TrafficGB:    cfg.TrafficGB,
		DeviceLimit:  cfg.DeviceLimit,
		ModemEnabled: cfg.ModemEnabled,
		Squads:       squadPrices(squads),
		Discounts:    discounts,
	})
}

// Purchase implements domain.Service.
func (s *Service) Purchase(ctx context.Context, userID snowflake.ID, cfg domain.PurchaseConfig) (*domain.Subscription, pricing.Quote, error) {
	if len(cfg.SquadUUIDs) == 0 {
		return nil, pricing.Quote{}, domain.ErrNoSquadsSelected
	}

	var (
		sub   *domain.Subscription
		quote pricing.Quote
		user  *userdomain.User
	)
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		// Availability and prices re-checked under the same transaction
		// the money moves in.
		squads, err := s.selectableSquads(ctx, tx, cfg.SquadUUIDs)
		if err != nil {
			return err
		}
		discounts, err := s.discountsFor(ctx, user)
		if err != nil {
			return err
		}
		quote, err = s.engine.Price(pricing.Request{
			PeriodDays:   cfg.PeriodDays,
			TrafficGB:    cfg.TrafficGB,
			DeviceLimit:  cfg.DeviceLimit,
			ModemEnabled: cfg.ModemEnabled,
			Squads:       squadPrices(squads),
			Discounts:    discounts,
		})
		if err != nil {
			return err
		}

		if err := s.debit(ctx, tx, user, quote.TotalKopeks); err != nil {
			return err
		}

		sub, err = s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		isNew := sub == nil
		if isNew {
			sub = &domain.Subscription{
				ID:                s.genID.Generate(),
				UserID:            userID,
				AutopayDaysBefore: s.cfg.Autopay.DefaultDaysBefore,
				CreatedAt:         now,
			}
		}
		sub.Status = domain.StatusActive
		sub.IsTrial = false
		sub.StartDate = now
		sub.EndDate = now.Add(time.Duration(cfg.PeriodDays) * 24 * time.Hour)
		sub.TrafficLimitGB = cfg.TrafficGB
		sub.TrafficUsedGB = 0
		sub.DeviceLimit = cfg.DeviceLimit
		sub.ModemEnabled = cfg.ModemEnabled
		sub.ConnectedSquads = datatypes.NewJSONSlice(cfg.SquadUUIDs)
		sub.UpdatedAt = now

		if isNew {
			if err := s.repo.Insert(ctx, tx, sub); err != nil {
				return err
			}
		} else if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		if err := s.repo.ReplaceSquads(ctx, tx, sub.ID, s.squadSnapshots(sub.ID, squads, discounts, quote.Months, now)); err != nil {
			return err
		}

		txRow, err := s.insertCharge(ctx, tx, userID, quote.TotalKopeks,
			fmt.Sprintf("Subscription purchase: %d days", cfg.PeriodDays),
			chargeMetadata(quote, cfg.SquadUUIDs))
		if err != nil {
			return err
		}

		if err := s.userRepo.SetHasHadPaid(ctx, tx, userID); err != nil {
			return err
		}

		amount := quote.TotalKopeks
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventSubscriptionPurchased,
			UserID:         userID,
			SubscriptionID: &sub.ID,
			TransactionID:  transactionRef(txRow),
			AmountKopeks:   &amount,
			Extra: map[string]any{
				"period_days": cfg.PeriodDays,
				"traffic_gb":  cfg.TrafficGB,
				"devices":     cfg.DeviceLimit,
				"squads":      cfg.SquadUUIDs,
			},
		})
	})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, user, sub)
	s.bus.User(ctx, user.TelegramID, fmt.Sprintf("Подписка оформлена до %s.", sub.EndDate.Format("02.01.2006")))
	s.bus.Admins(ctx, fmt.Sprintf("Purchase: user=%d period=%dd total=%s", user.TelegramID, cfg.PeriodDays, notify.FormatKopeks(quote.TotalKopeks)))
	return sub, quote, nil
}

// Extend implements domain.Service.
func (s *Service) Extend(ctx context.Context, userID snowflake.ID, periodDays int) (*domain.Subscription, pricing.Quote, error) {
	var (
		sub   *domain.Subscription
		quote pricing.Quote
		user  *userdomain.User
	)
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		user, err = s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		sub, err = s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if sub.IsTrial {
			return domain.ErrTrialImmutable
		}
		if sub.Status == domain.StatusDisabled {
			return domain.ErrSubscriptionInactive
		}

		// Extension re-prices the existing configuration at today's
		// tables, squad prices included.
		squads, err := s.connectedSquads(ctx, tx, sub)
		if err != nil {
			return err
		}
		discounts, err := s.discountsFor(ctx, user)
		if err != nil {
			return err
		}
		quote, err = s.engine.Price(pricing.Request{
			PeriodDays:   periodDays,
			TrafficGB:    sub.TrafficLimitGB,
			DeviceLimit:  sub.DeviceLimit,
			ModemEnabled: sub.ModemEnabled,
			Squads:       squadPrices(squads),
			Discounts:    discounts,
		})
		if err != nil {
			return err
		}

		if err := s.debit(ctx, tx, user, quote.TotalKopeks); err != nil {
			return err
		}

		from := sub.EndDate
		if from.Before(now) {
			from = now
		}
		sub.EndDate = from.Add(time.Duration(periodDays) * 24 * time.Hour)
		sub.Status = domain.StatusActive
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		if err := s.repo.ReplaceSquads(ctx, tx, sub.ID, s.squadSnapshots(sub.ID, squads, discounts, quote.Months, now)); err != nil {
			return err
		}

		txRow, err := s.insertCharge(ctx, tx, userID, quote.TotalKopeks,
			fmt.Sprintf("Subscription extension: %d days", periodDays),
			chargeMetadata(quote, sub.ConnectedSquads))
		if err != nil {
			return err
		}

		amount := quote.TotalKopeks
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventSubscriptionExtended,
			UserID:         userID,
			SubscriptionID: &sub.ID,
			TransactionID:  transactionRef(txRow),
			AmountKopeks:   &amount,
			Extra:          map[string]any{"period_days": periodDays},
		})
	})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, user, sub)
	s.bus.User(ctx, user.TelegramID, fmt.Sprintf("Подписка продлена до %s.", sub.EndDate.Format("02.01.2006")))
	return sub, quote, nil
}

// discountsFor resolves the user's promo group into engine inputs.
func (s *Service) discountsFor(ctx context.Context, user *userdomain.User) (pricing.Discounts, error) {
	group, err := s.promoSvc.ResolveForUser(ctx, user.PromoGroupID)
	if err != nil {
		if errors.Is(err, promodomain.ErrNoDefaultGroup) {
			return pricing.Discounts{}, nil
		}
		return pricing.Discounts{}, err
	}
	view := group.DiscountsView()
	return pricing.Discounts{
		ServerPercent:  view.ServerPercent,
		TrafficPercent: view.TrafficPercent,
		DevicePercent:  view.DevicePercent,
		PeriodPercent:  view.PeriodPercent,
	}, nil
}

// selectableSquads resolves UUIDs against the catalogue and refuses any
// that is missing, unavailable or full.
func (s *Service) selectableSquads(ctx context.Context, db *gorm.DB, uuids []string) ([]squaddomain.Squad, error) {
	uuids = lo.Uniq(uuids)
	squads, err := s.squadRepo.FindByUUIDs(ctx, db, uuids)
	if err != nil {
		return nil, err
	}
	if len(squads) != len(uuids) {
		return nil, squaddomain.ErrSquadNotFound
	}
	for _, squad := range squads {
		if !squad.Selectable() {
			return nil, domain.ErrSquadNotSelectable
		}
	}
	// Preserve the caller's ordering.
	byUUID := lo.KeyBy(squads, func(sq squaddomain.Squad) string { return sq.SquadUUID })
	ordered := make([]squaddomain.Squad, 0, len(uuids))
	for _, uuid := range uuids {
		ordered = append(ordered, byUUID[uuid])
	}
	return ordered, nil
}

// connectedSquads loads the subscription's current squads without the
// selectable filter; an already-connected squad stays priceable even if
// it has since filled up.
func (s *Service) connectedSquads(ctx context.Context, db *gorm.DB, sub *domain.Subscription) ([]squaddomain.Squad, error) {
	uuids := []string(sub.ConnectedSquads)
	if len(uuids) == 0 {
		return nil, nil
	}
	squads, err := s.squadRepo.FindByUUIDs(ctx, db, uuids)
	if err != nil {
		return nil, err
	}
	byUUID := lo.KeyBy(squads, func(sq squaddomain.Squad) string { return sq.SquadUUID })
	ordered := make([]squaddomain.Squad, 0, len(uuids))
	for _, uuid := range uuids {
		if sq, ok := byUUID[uuid]; ok {
			ordered = append(ordered, sq)
		}
	}
	return ordered, nil
}

// debit takes the quoted amount from the locked user row or fails with
// the exact missing amount.
func (s *Service) debit(ctx context.Context, tx *gorm.DB, user *userdomain.User, amountKopeks int64) error {
	if amountKopeks == 0 {
		return nil
	}
	ok, err := s.userRepo.DebitBalance(ctx, tx, user.ID, amountKopeks)
	if err != nil {
		return err
	}
	if !ok {
		return &userdomain.InsufficientFundsError{MissingKopeks: amountKopeks - user.BalanceKopeks}
	}
	user.BalanceKopeks -= amountKopeks
	return nil
}

// insertCharge records the withdrawal row. Zero-amount operations record
// nothing.
func (s *Service) insertCharge(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amountKopeks int64, description string, metadata datatypes.JSONMap) (*paymentdomain.Transaction, error) {
	if amountKopeks == 0 {
		return nil, nil
	}
	row := &paymentdomain.Transaction{
		ID:           s.genID.Generate(),
		UserID:       userID,
		Type:         paymentdomain.TransactionSubscriptionPayment,
		AmountKopeks: amountKopeks,
		IsCompleted:  true,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.paymentRepo.InsertTransaction(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// squadSnapshots builds join rows recording what the current period's
// server access actually cost.
func (s *Service) squadSnapshots(subID snowflake.ID, squads []squaddomain.Squad, discounts pricing.Discounts, months int, now time.Time) []domain.SubscriptionSquad {
	return lo.Map(squads, func(sq squaddomain.Squad, _ int) domain.SubscriptionSquad {
		return domain.SubscriptionSquad{
			ID:              s.genID.Generate(),
			SubscriptionID:  subID,
			SquadUUID:       sq.SquadUUID,
			PaidPriceKopeks: pricing.ApplyPercent(sq.PriceKopeksPerMonth, discounts.ServerPercent) * int64(months),
			CreatedAt:       now,
		}
	})
}

// syncPanel pushes the committed state to the panel. The database is
// authoritative: failures here are logged and reconciled on the next
// write, never rolled back.
func (s *Service) syncPanel(ctx context.Context, user *userdomain.User, sub *domain.Subscription) {
	spec := panel.UserSpec{
		TelegramID:     user.TelegramID,
		ExpireAt:       sub.EndDate,
		TrafficLimitGB: sub.TrafficLimitGB,
		DeviceLimit:    sub.DeviceLimit,
		SquadUUIDs:     sub.ConnectedSquads,
		Enabled:        sub.Status == domain.StatusActive,
	}

	var (
		remote panel.RemoteUser
		err    error
	)
	if user.PanelUUID == nil {
		remote, err = s.panel.CreateUser(ctx, spec)
	} else {
		spec.PanelUUID = *user.PanelUUID
		remote, err = s.panel.UpdateUser(ctx, spec)
	}
	if err != nil {
		if errors.Is(err, panel.ErrPermanent) {
			s.log.Error("panel sync rejected",
				zap.Int64("telegram_id", user.TelegramID),
				zap.Error(err),
			)
			s.bus.Admins(ctx, fmt.Sprintf("Panel rejected sync for user %d: %v", user.TelegramID, err))
		} else {
			s.log.Warn("panel sync deferred",
				zap.Int64("telegram_id", user.TelegramID),
				zap.Error(err),
			)
		}
		return
	}

	if user.PanelUUID == nil && remote.PanelUUID != "" {
		if err := s.userRepo.SetPanelUUID(ctx, s.db, user.ID, remote.PanelUUID); err != nil {
			s.log.Warn("panel uuid not persisted", zap.Error(err))
		} else {
			uuid := remote.PanelUUID
			user.PanelUUID = &uuid
		}
	}
	if remote.SubscriptionURL != "" && remote.SubscriptionURL != sub.SubscriptionURL {
		sub.SubscriptionURL = remote.SubscriptionURL
		if err := s.db.Model(&domain.Subscription{}).
			Where("id = ?", sub.ID).
			Update("subscription_url", remote.SubscriptionURL).Error; err != nil {
			s.log.Warn("subscription url not persisted", zap.Error(err))
		}
	}
}

func squadPrices(squads []squaddomain.Squad) []pricing.SquadPrice {
	return lo.Map(squads, func(sq squaddomain.Squad, _ int) pricing.SquadPrice {
		return pricing.SquadPrice{UUID: sq.SquadUUID, MonthlyKopeks: sq.PriceKopeksPerMonth}
	})
}

func chargeMetadata(quote pricing.Quote, squads []string) datatypes.JSONMap {
	return datatypes.JSONMap{
		"kind":         string(quote.Kind),
		"period_days":  quote.PeriodDays,
		"months":       quote.Months,
		"total_kopeks": quote.TotalKopeks,
		"squads":       squads,
	}
}

func transactionRef(row *paymentdomain.Transaction) *snowflake.ID {
	if row == nil {
		return nil
	}
	return &row.ID
}
