package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/checkout/domain"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/nebulink/vpnbroker/internal/pricing"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"github.com/samber/lo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Service struct {
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
	table config.PriceTable

	store    domain.Store
	squadSvc squaddomain.Service
	subSvc   subdomain.Service
}

type ServiceParam struct {
	fx.In

	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
	Table config.PriceTable

	Store    domain.Store
	SquadSvc squaddomain.Service
	SubSvc   subdomain.Service
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		log:      p.Log.Named("checkout.service"),
		clock:    p.Clock,
		cfg:      p.Cfg,
		table:    p.Table,
		store:    p.Store,
		squadSvc: p.SquadSvc,
		subSvc:   p.SubSvc,
	}
}

// Start implements domain.Service.
func (s *Service) Start(ctx context.Context, userID snowflake.ID) (domain.Draft, error) {
	draft := domain.Draft{
		UserID:  userID,
		Step:    domain.StepSelectingPeriod,
		SavedAt: s.clock.Now(),
	}
	if err := s.store.Save(ctx, draft); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}

// Current implements domain.Service.
func (s *Service) Current(ctx context.Context, userID snowflake.ID) (domain.Draft, error) {
	draft, err := s.store.Load(ctx, userID)
	if err != nil {
		return domain.Draft{}, err
	}
	if draft == nil {
		return domain.Draft{}, domain.ErrDraftNotFound
	}
	return *draft, nil
}

// SelectPeriod implements domain.Service.
func (s *Service) SelectPeriod(ctx context.Context, userID snowflake.ID, periodDays int) (domain.Draft, error) {
	draft, err := s.loadAt(ctx, userID, domain.StepSelectingPeriod)
	if err != nil {
		return domain.Draft{}, err
	}
	if _, ok := s.table.PeriodPrices[periodDays]; !ok {
		return domain.Draft{}, pricing.ErrUnknownPeriod
	}
	draft.Config.PeriodDays = periodDays
	draft.Step = domain.StepSelectingTraffic
	return s.save(ctx, draft)
}

// SelectTraffic implements domain.Service.
func (s *Service) SelectTraffic(ctx context.Context, userID snowflake.ID, trafficGB int) (domain.Draft, error) {
	draft, err := s.loadAt(ctx, userID, domain.StepSelectingTraffic)
	if err != nil {
		return domain.Draft{}, err
	}
	if _, ok := s.table.TrafficPrices[trafficGB]; !ok {
		return domain.Draft{}, pricing.ErrUnknownTrafficTier
	}
	draft.Config.TrafficGB = trafficGB
	draft.Step = domain.StepSelectingCountries
	return s.save(ctx, draft)
}

// SelectSquads implements domain.Service.
func (s *Service) SelectSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (domain.Draft, error) {
	draft, err := s.loadAt(ctx, userID, domain.StepSelectingCountries)
	if err != nil {
		return domain.Draft{}, err
	}
	squadUUIDs = lo.Uniq(squadUUIDs)
	if len(squadUUIDs) == 0 {
		return domain.Draft{}, subdomain.ErrNoSquadsSelected
	}

	available, err := s.squadSvc.Available(ctx)
	if err != nil {
		return domain.Draft{}, err
	}
	availableUUIDs := lo.Map(available, func(sq squaddomain.Squad, _ int) string { return sq.SquadUUID })
	for _, uuid := range squadUUIDs {
		if !lo.Contains(availableUUIDs, uuid) {
			return domain.Draft{}, subdomain.ErrSquadNotSelectable
		}
	}

	draft.Config.SquadUUIDs = squadUUIDs
	draft.Step = domain.StepSelectingDevices
	return s.save(ctx, draft)
}

// SelectDevices implements domain.Service.
func (s *Service) SelectDevices(ctx context.Context, userID snowflake.ID, deviceLimit int, modem bool) (domain.Draft, error) {
	draft, err := s.loadAt(ctx, userID, domain.StepSelectingDevices)
	if err != nil {
		return domain.Draft{}, err
	}
	if deviceLimit < 1 || deviceLimit > s.cfg.Devices.MaxLimit {
		return domain.Draft{}, pricing.ErrDeviceLimitRange
	}
	draft.Config.DeviceLimit = deviceLimit
	draft.Config.ModemEnabled = modem

	quote, err := s.subSvc.QuotePurchase(ctx, userID, draft.Config)
	if err != nil {
		return domain.Draft{}, err
	}
	draft.QuoteTotalKopeks = quote.TotalKopeks
	draft.Step = domain.StepConfirming
	return s.save(ctx, draft)
}

// Confirm implements domain.Service.
func (s *Service) Confirm(ctx context.Context, userID snowflake.ID) (*subdomain.Subscription, pricing.Quote, error) {
	draft, err := s.loadAt(ctx, userID, domain.StepConfirming)
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	// Prices or availability may have moved while the draft sat idle.
	// Charging a total the user never saw is worse than one extra tap.
	quote, err := s.subSvc.QuotePurchase(ctx, userID, draft.Config)
	if err != nil {
		return nil, pricing.Quote{}, err
	}
	if quote.TotalKopeks != draft.QuoteTotalKopeks {
		draft.QuoteTotalKopeks = quote.TotalKopeks
		if _, saveErr := s.save(ctx, draft); saveErr != nil {
			return nil, pricing.Quote{}, saveErr
		}
		return nil, quote, domain.ErrOrderChanged
	}

	sub, quote, err := s.subSvc.Purchase(ctx, userID, draft.Config)
	if err != nil {
		// An underfunded draft stays put so a top-up can resume it.
		if errors.Is(err, userdomain.ErrInsufficientFunds) {
			return nil, quote, err
		}
		return nil, pricing.Quote{}, err
	}

	if err := s.store.Delete(ctx, userID); err != nil {
		s.log.Warn("checkout draft not deleted", zap.Error(err))
	}
	return sub, quote, nil
}

func (s *Service) loadAt(ctx context.Context, userID snowflake.ID, step domain.Step) (domain.Draft, error) {
	draft, err := s.store.Load(ctx, userID)
	if err != nil {
		return domain.Draft{}, err
	}
	if draft == nil {
		return domain.Draft{}, domain.ErrDraftNotFound
	}
	if draft.Step != step {
		return domain.Draft{}, domain.ErrWrongStep
	}
	return *draft, nil
}

func (s *Service) save(ctx context.Context, draft domain.Draft) (domain.Draft, error) {
	draft.SavedAt = s.clock.Now()
	if err := s.store.Save(ctx, draft); err != nil {
		return domain.Draft{}, err
	}
	return draft, nil
}
