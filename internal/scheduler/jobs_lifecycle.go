package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/notify"
	obsmetrics "github.com/nebulink/vpnbroker/internal/observability/metrics"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"go.uber.org/zap"
)

const autopayRenewalDays = 30

// ExpiryNotifierJob warns users whose paid subscription is about to end.
// Warnings fire once per bucket per subscription: the configured warning
// days, the final day, and a last 12-hour notice.
func (s *Scheduler) ExpiryNotifierJob(ctx context.Context) error {
	now := s.clock.Now()

	maxDays := 1
	for _, d := range s.appCfg.Autopay.WarningDays {
		if d > maxDays {
			maxDays = d
		}
	}

	subs, err := s.subRepo.ListExpiringWithin(ctx, s.db, now, now.Add(time.Duration(maxDays)*24*time.Hour))
	if err != nil {
		return fmt.Errorf("list expiring: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		if sub.IsTrial {
			continue
		}
		bucket, text := s.expiryBucket(sub, now)
		if bucket == "" {
			continue
		}
		if !s.bus.Once(ctx, fmt.Sprintf("expiry:%s:%d", bucket, sub.ID), 24*time.Hour) {
			continue
		}
		user, err := s.userRepo.FindByID(ctx, s.db, sub.UserID)
		if err != nil {
			s.log.Warn("expiry notice skipped, user lookup failed",
				zap.Int64("user_id", int64(sub.UserID)),
				zap.Error(err),
			)
			continue
		}
		s.bus.User(ctx, user.TelegramID, text,
			[]notify.Button{notify.Buttonf("Продлить", "extend:%d", sub.UserID)},
		)
		sent++
	}

	obsmetrics.Scheduler().AddBatchProcessed("expiry_notifier", sent)
	return nil
}

func (s *Scheduler) expiryBucket(sub subdomain.Subscription, now time.Time) (string, string) {
	left := sub.EndDate.Sub(now)
	if left <= 0 {
		return "", ""
	}
	if left <= 12*time.Hour {
		return "12h", "Подписка закончится менее чем через 12 часов. Продлите её, чтобы не потерять доступ."
	}
	days := sub.DaysLeft(now)
	if days == 1 {
		return "1d", "Подписка закончится завтра."
	}
	for _, d := range s.appCfg.Autopay.WarningDays {
		if days == d {
			return fmt.Sprintf("%dd", d), fmt.Sprintf("Подписка закончится через %d дн.", days)
		}
	}
	return "", ""
}

// AutopayJob renews subscriptions whose autopay window opened. A failed
// debit records an event and nudges the user at most once a day; renewal
// itself goes through the regular extension path.
func (s *Scheduler) AutopayJob(ctx context.Context) error {
	now := s.clock.Now()

	subs, err := s.subRepo.ListAutopayDue(ctx, s.db, now, 14*24*time.Hour)
	if err != nil {
		return fmt.Errorf("list autopay due: %w", err)
	}

	var joined error
	renewed := 0
	for _, sub := range subs {
		if renewed >= s.cfg.BatchSize {
			break
		}
		due := sub.EndDate.Add(-time.Duration(sub.AutopayDaysBefore) * 24 * time.Hour)
		if now.Before(due) {
			continue
		}

		_, quote, err := s.subSvc.Extend(ctx, sub.UserID, autopayRenewalDays)
		if err == nil {
			renewed++
			subID := sub.ID
			amount := quote.TotalKopeks
			if appendErr := s.eventsSvc.Append(ctx, s.db, eventsdomain.Append{
				EventType:      eventsdomain.EventAutopaySuccess,
				UserID:         sub.UserID,
				SubscriptionID: &subID,
				AmountKopeks:   &amount,
			}); appendErr != nil {
				s.log.Warn("autopay event not recorded", zap.Error(appendErr))
			}
			if user, findErr := s.userRepo.FindByID(ctx, s.db, sub.UserID); findErr == nil {
				s.bus.User(ctx, user.TelegramID,
					fmt.Sprintf("Автопродление: подписка продлена на %d дней за %s.",
						autopayRenewalDays, notify.FormatKopeks(quote.TotalKopeks)),
				)
			}
			continue
		}

		if errors.Is(err, userdomain.ErrInsufficientFunds) {
			subID := sub.ID
			if appendErr := s.eventsSvc.Append(ctx, s.db, eventsdomain.Append{
				EventType:      eventsdomain.EventAutopayFailed,
				UserID:         sub.UserID,
				SubscriptionID: &subID,
				Extra:          map[string]any{"reason": "insufficient_funds"},
			}); appendErr != nil {
				s.log.Warn("autopay event not recorded", zap.Error(appendErr))
			}
			if s.bus.Once(ctx, fmt.Sprintf("autopay_funds:%d", sub.UserID), 24*time.Hour) {
				if user, findErr := s.userRepo.FindByID(ctx, s.db, sub.UserID); findErr == nil {
					s.bus.User(ctx, user.TelegramID,
						"Не удалось продлить подписку: недостаточно средств. Пополните баланс, и мы повторим попытку.",
						[]notify.Button{notify.Buttonf("Пополнить", "topup:%d", sub.UserID)},
					)
				}
			}
			continue
		}

		joined = errors.Join(joined, fmt.Errorf("renew user %d: %w", sub.UserID, err))
	}

	obsmetrics.Scheduler().AddBatchProcessed("autopay", renewed)
	return joined
}

// TrialCleanupJob disables trials that stayed expired past the grace
// window and tells the user the trial is over.
func (s *Scheduler) TrialCleanupJob(ctx context.Context) error {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(s.appCfg.Trial.CleanupAfterHours) * time.Hour)

	trials, err := s.subRepo.ListExpiredTrials(ctx, s.db, cutoff)
	if err != nil {
		return fmt.Errorf("list expired trials: %w", err)
	}

	var joined error
	disabled := 0
	for _, sub := range trials {
		if disabled >= s.cfg.BatchSize {
			break
		}
		if err := s.subSvc.DisableExpiredTrial(ctx, sub); err != nil {
			joined = errors.Join(joined, fmt.Errorf("disable trial %d: %w", sub.ID, err))
			continue
		}
		disabled++
		if !s.bus.Once(ctx, fmt.Sprintf("trial_expired:%d", sub.ID), 7*24*time.Hour) {
			continue
		}
		if user, findErr := s.userRepo.FindByID(ctx, s.db, sub.UserID); findErr == nil {
			s.bus.User(ctx, user.TelegramID,
				"Пробный период закончился. Оформите подписку, чтобы продолжить пользоваться сервисом.",
				[]notify.Button{notify.Buttonf("Купить подписку", "buy:%d", sub.UserID)},
			)
		}
	}

	obsmetrics.Scheduler().AddBatchProcessed("trial_cleanup", disabled)
	return joined
}
