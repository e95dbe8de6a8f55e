package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/notify"
	"github.com/nebulink/vpnbroker/internal/panel"
	"github.com/nebulink/vpnbroker/internal/pricing"
	"github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// addOnOutcome is what one mid-cycle change produced inside its
// transaction.
type addOnOutcome struct {
	sub   *domain.Subscription
	user  *userdomain.User
	quote pricing.Quote
}

// runAddOn wraps the shared shape of every mid-cycle change: lock user
// and subscription, verify the subscription is active, let mutate price
// and apply the change, then charge and log it.
func (s *Service) runAddOn(
	ctx context.Context,
	userID snowflake.ID,
	description string,
	mutate func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error),
) (*addOnOutcome, error) {
	out := &addOnOutcome{}
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.userRepo.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}
		sub, err := s.repo.FindByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return domain.ErrSubscriptionNotFound
		}
		if sub.IsTrial {
			return domain.ErrTrialImmutable
		}
		if !sub.IsActive(now) {
			return domain.ErrSubscriptionInactive
		}

		quote, extra, err := mutate(tx, user, sub)
		if err != nil {
			return err
		}

		if err := s.debit(ctx, tx, user, quote.TotalKopeks); err != nil {
			return err
		}

		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		txRow, err := s.insertCharge(ctx, tx, userID, quote.TotalKopeks, description,
			chargeMetadata(quote, sub.ConnectedSquads))
		if err != nil {
			return err
		}

		amount := quote.TotalKopeks
		out.user, out.sub, out.quote = user, sub, quote
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventAddonPurchased,
			UserID:         userID,
			SubscriptionID: &sub.ID,
			TransactionID:  transactionRef(txRow),
			AmountKopeks:   &amount,
			Extra:          extra,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SwitchTraffic implements domain.Service.
func (s *Service) SwitchTraffic(ctx context.Context, userID snowflake.ID, trafficGB int) (*domain.Subscription, pricing.Quote, error) {
	now := s.clock.Now()
	out, err := s.runAddOn(ctx, userID, fmt.Sprintf("Traffic tier change to %d GB", trafficGB),
		func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error) {
			if trafficGB == sub.TrafficLimitGB {
				return pricing.Quote{}, nil, domain.ErrNothingToChange
			}
			newMonthly, err := s.engine.TrafficMonthly(trafficGB)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			oldMonthly, err := s.engine.TrafficMonthly(sub.TrafficLimitGB)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			discounts, err := s.discountsFor(ctx, user)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			quote, err := s.engine.AddOn(pricing.AddOnRequest{
				DaysLeft:                  sub.DaysLeft(now),
				TrafficMonthlyDeltaKopeks: newMonthly - oldMonthly,
				Discounts:                 discounts,
			})
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			extra := map[string]any{"from_gb": sub.TrafficLimitGB, "to_gb": trafficGB}
			sub.TrafficLimitGB = trafficGB
			return quote, extra, nil
		})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, out.user, out.sub)
	return out.sub, out.quote, nil
}

// ChangeDevices implements domain.Service.
func (s *Service) ChangeDevices(ctx context.Context, userID snowflake.ID, deviceLimit int) (*domain.Subscription, pricing.Quote, error) {
	if deviceLimit < 1 {
		return nil, pricing.Quote{}, domain.ErrDeviceLimitMinimum
	}
	if deviceLimit > s.cfg.Devices.MaxLimit {
		return nil, pricing.Quote{}, pricing.ErrDeviceLimitRange
	}

	now := s.clock.Now()
	out, err := s.runAddOn(ctx, userID, fmt.Sprintf("Device limit change to %d", deviceLimit),
		func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error) {
			if deviceLimit == sub.DeviceLimit {
				return pricing.Quote{}, nil, domain.ErrNothingToChange
			}
			discounts, err := s.discountsFor(ctx, user)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			quote, err := s.engine.AddOn(pricing.AddOnRequest{
				DaysLeft:     sub.DaysLeft(now),
				DevicesDelta: deviceLimit - sub.DeviceLimit,
				Discounts:    discounts,
			})
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			extra := map[string]any{"from": sub.DeviceLimit, "to": deviceLimit}
			sub.DeviceLimit = deviceLimit
			return quote, extra, nil
		})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, out.user, out.sub)
	return out.sub, out.quote, nil
}

// AddSquads implements domain.Service.
func (s *Service) AddSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (*domain.Subscription, pricing.Quote, error) {
	squadUUIDs = lo.Uniq(squadUUIDs)
	if len(squadUUIDs) == 0 {
		return nil, pricing.Quote{}, domain.ErrNoSquadsSelected
	}

	now := s.clock.Now()
	out, err := s.runAddOn(ctx, userID, fmt.Sprintf("Servers added: %d", len(squadUUIDs)),
		func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error) {
			for _, uuid := range squadUUIDs {
				if lo.Contains(sub.ConnectedSquads, uuid) {
					return pricing.Quote{}, nil, domain.ErrSquadAlreadyAdded
				}
			}
			added, err := s.selectableSquads(ctx, tx, squadUUIDs)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			discounts, err := s.discountsFor(ctx, user)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			var monthlyDelta int64
			for _, sq := range added {
				monthlyDelta += sq.PriceKopeksPerMonth
			}
			quote, err := s.engine.AddOn(pricing.AddOnRequest{
				DaysLeft:                  sub.DaysLeft(now),
				ServersMonthlyDeltaKopeks: monthlyDelta,
				Discounts:                 discounts,
			})
			if err != nil {
				return pricing.Quote{}, nil, err
			}

			sub.ConnectedSquads = datatypes.NewJSONSlice(append([]string(sub.ConnectedSquads), squadUUIDs...))

			existing, err := s.repo.ListSquads(ctx, tx, sub.ID)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			rows := append(existing, s.squadSnapshots(sub.ID, added, discounts, quote.Months, now)...)
			if err := s.repo.ReplaceSquads(ctx, tx, sub.ID, rows); err != nil {
				return pricing.Quote{}, nil, err
			}
			return quote, map[string]any{"added": squadUUIDs}, nil
		})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, out.user, out.sub)
	return out.sub, out.quote, nil
}

// RemoveSquads implements domain.Service.
func (s *Service) RemoveSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (*domain.Subscription, error) {
	squadUUIDs = lo.Uniq(squadUUIDs)
	if len(squadUUIDs) == 0 {
		return nil, domain.ErrNoSquadsSelected
	}

	out, err := s.runAddOn(ctx, userID, fmt.Sprintf("Servers removed: %d", len(squadUUIDs)),
		func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error) {
			for _, uuid := range squadUUIDs {
				if !lo.Contains(sub.ConnectedSquads, uuid) {
					return pricing.Quote{}, nil, domain.ErrSquadNotConnected
				}
			}
			remaining := lo.Without(sub.ConnectedSquads, squadUUIDs...)
			if len(remaining) == 0 {
				return pricing.Quote{}, nil, domain.ErrLastSquad
			}

			sub.ConnectedSquads = datatypes.NewJSONSlice([]string(remaining))

			existing, err := s.repo.ListSquads(ctx, tx, sub.ID)
			if err != nil {
				return pricing.Quote{}, nil, err
			}
			kept := lo.Filter(existing, func(row domain.SubscriptionSquad, _ int) bool {
				return !lo.Contains(squadUUIDs, row.SquadUUID)
			})
			if err := s.repo.ReplaceSquads(ctx, tx, sub.ID, kept); err != nil {
				return pricing.Quote{}, nil, err
			}
			// Removal is free and never refunds.
			return pricing.Quote{Kind: pricing.QuoteKindAddOn, Months: 1, Lines: []pricing.QuoteLine{}}, map[string]any{"removed": squadUUIDs}, nil
		})
	if err != nil {
		return nil, err
	}

	s.syncPanel(ctx, out.user, out.sub)
	return out.sub, nil
}

// ToggleModem implements domain.Service.
func (s *Service) ToggleModem(ctx context.Context, userID snowflake.ID, enabled bool) (*domain.Subscription, pricing.Quote, error) {
	now := s.clock.Now()
	out, err := s.runAddOn(ctx, userID, fmt.Sprintf("Modem slot: %t", enabled),
		func(tx *gorm.DB, user *userdomain.User, sub *domain.Subscription) (pricing.Quote, map[string]any, error) {
			if enabled == sub.ModemEnabled {
				return pricing.Quote{}, nil, domain.ErrNothingToChange
			}
			quote := pricing.Quote{Kind: pricing.QuoteKindAddOn, Months: 1, Lines: []pricing.QuoteLine{}}
			if enabled {
				discounts, err := s.discountsFor(ctx, user)
				if err != nil {
					return pricing.Quote{}, nil, err
				}
				var qerr error
				quote, qerr = s.engine.AddOn(pricing.AddOnRequest{
					DaysLeft:  sub.DaysLeft(now),
					AddModem:  true,
					Discounts: discounts,
				})
				if qerr != nil {
					return pricing.Quote{}, nil, qerr
				}
			}
			sub.ModemEnabled = enabled
			return quote, map[string]any{"modem_enabled": enabled}, nil
		})
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	s.syncPanel(ctx, out.user, out.sub)
	return out.sub, out.quote, nil
}

// ResetTraffic implements domain.Service.
func (s *Service) ResetTraffic(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	now := s.clock.Now()
	var (
		sub  *domain.Subscription
		user *userdomain.User
		fee  int64
	)

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
		if !sub.IsActive(now) {
			return domain.ErrSubscriptionInactive
		}
		if sub.IsUnlimited() {
			return domain.ErrTrafficUnlimited
		}

		fee, err = s.engine.ResetTrafficFee()
		if err != nil {
			return err
		}
		if err := s.debit(ctx, tx, user, fee); err != nil {
			return err
		}

		sub.TrafficUsedGB = 0
		sub.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}

		txRow, err := s.insertCharge(ctx, tx, userID, fee, "Traffic reset", datatypes.JSONMap{"fee_kopeks": fee})
		if err != nil {
			return err
		}
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventTrafficReset,
			UserID:         userID,
			SubscriptionID: &sub.ID,
			TransactionID:  transactionRef(txRow),
			AmountKopeks:   &fee,
		})
	})
	if err != nil {
		return nil, err
	}

	if user.PanelUUID != nil {
		if err := s.panel.ResetTraffic(ctx, *user.PanelUUID); err != nil {
			s.log.Warn("panel traffic reset deferred",
				zap.Int64("telegram_id", user.TelegramID),
				zap.Error(err),
			)
		}
	}
	s.bus.User(ctx, user.TelegramID, fmt.Sprintf("Трафик обнулён. Списано %s.", notify.FormatKopeks(fee)))
	return sub, nil
}

// SetAutopay implements domain.Service.
func (s *Service) SetAutopay(ctx context.Context, userID snowflake.ID, enabled bool, daysBefore int) (*domain.Subscription, error) {
	if daysBefore == 0 {
		daysBefore = s.cfg.Autopay.DefaultDaysBefore
	}
	if daysBefore < 1 || daysBefore > 14 {
		return nil, domain.ErrAutopayDaysRange
	}

	var sub *domain.Subscription
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
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
		sub.AutopayEnabled = enabled
		sub.AutopayDaysBefore = daysBefore
		sub.UpdatedAt = now
		return s.repo.Update(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SyncUsage implements domain.Service.
func (s *Service) SyncUsage(ctx context.Context, userID snowflake.ID) (*domain.Subscription, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if user.PanelUUID == nil {
		return sub, nil
	}

	used, err := s.panel.GetUsage(ctx, *user.PanelUUID)
	if err != nil {
		return nil, err
	}
	sub.TrafficUsedGB = used
	sub.UpdatedAt = s.clock.Now()
	if err := s.db.WithContext(ctx).Model(&domain.Subscription{}).
		Where("id = ?", sub.ID).
		Updates(map[string]any{"traffic_used_gb": used, "updated_at": sub.UpdatedAt}).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// DisableExpiredTrial implements domain.Service.
func (s *Service) DisableExpiredTrial(ctx context.Context, sub domain.Subscription) error {
	now := s.clock.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByUserIDForUpdate(ctx, tx, sub.UserID)
		if err != nil {
			return err
		}
		if current == nil || !current.IsTrial || current.Status == domain.StatusDisabled {
			return nil
		}
		if current.EndDate.After(now) {
			return nil
		}
		current.Status = domain.StatusDisabled
		current.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, current); err != nil {
			return err
		}
		return s.eventsSvc.Append(ctx, tx, eventsdomain.Append{
			EventType:      eventsdomain.EventTrialExpired,
			UserID:         current.UserID,
			SubscriptionID: &current.ID,
		})
	})
	if err != nil {
		return err
	}

	if !s.cfg.Trial.DeleteFromPanel {
		return nil
	}
	user, err := s.userRepo.FindByID(ctx, s.db, sub.UserID)
	if err != nil || user == nil || user.PanelUUID == nil {
		return err
	}
	if err := s.panel.DeleteUser(ctx, *user.PanelUUID); err != nil {
		s.log.Warn("trial panel delete failed",
			zap.Int64("telegram_id", user.TelegramID),
			zap.Error(err),
		)
	}
	return nil
}

// ListDevices implements domain.Service.
func (s *Service) ListDevices(ctx context.Context, userID snowflake.ID) ([]panel.Device, error) {
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	if user.PanelUUID == nil {
		return nil, nil
	}
	return s.panel.ListDevices(ctx, *user.PanelUUID)
}

// RemoveDevice implements domain.Service.
func (s *Service) RemoveDevice(ctx context.Context, userID snowflake.ID, hwid string) error {
	if hwid == "" {
		return domain.ErrDeviceNotFound
	}
	user, err := s.userRepo.FindByID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return userdomain.ErrUserNotFound
	}
	sub, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return err
	}
	if sub == nil {
		return domain.ErrSubscriptionNotFound
	}
	if user.PanelUUID == nil {
		return domain.ErrDeviceNotFound
	}
	devices, err := s.panel.ListDevices(ctx, *user.PanelUUID)
	if err != nil {
		return err
	}
	if !lo.ContainsBy(devices, func(d panel.Device) bool { return d.HWID == hwid }) {
		return domain.ErrDeviceNotFound
	}
	if err := s.panel.DeleteDevice(ctx, *user.PanelUUID, hwid); err != nil {
		return err
	}
	s.log.Info("device removed",
		zap.Int64("telegram_id", user.TelegramID),
		zap.String("hwid", hwid),
	)
	return nil
}
