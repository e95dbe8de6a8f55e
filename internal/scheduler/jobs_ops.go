package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/logger"
	"github.com/nebulink/vpnbroker/internal/notify"
	obsmetrics "github.com/nebulink/vpnbroker/internal/observability/metrics"
	receiptsdomain "github.com/nebulink/vpnbroker/internal/receipts/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	"go.uber.org/zap"
)

const panelFailureThreshold = 3

// ReceiptDrainerJob pushes queued fiscal receipts to the tax service.
func (s *Scheduler) ReceiptDrainerJob(ctx context.Context) error {
	report, err := s.receiptsSvc.DrainOnce(ctx)
	if errors.Is(err, receiptsdomain.ErrServiceNotConfigured) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("drain receipts: %w", err)
	}

	obsmetrics.Scheduler().AddBatchProcessed("receipt_drainer", report.Submitted)
	if report.Dropped > 0 {
		s.bus.Admins(ctx, fmt.Sprintf(
			"Receipt queue dropped %d items after exhausting retries; %d still queued.",
			report.Dropped, report.Remaining,
		))
	}
	switch {
	case report.Remaining > s.receiptBacklog && report.Failed > 0:
		if s.bus.Once(ctx, "receipt_backlog", 6*time.Hour) {
			s.bus.Admins(ctx, fmt.Sprintf(
				"Receipt queue is growing: %d items pending, tax service failing.",
				report.Remaining,
			))
		}
	case report.Remaining == 0 && s.receiptBacklog > 0:
		s.bus.Admins(ctx, "Receipt queue fully drained.")
	}
	s.receiptBacklog = report.Remaining
	return nil
}

// SquadRefreshJob reconciles squad availability with the panel. The panel
// list changes rarely, so one refresh per ten minutes is plenty.
func (s *Scheduler) SquadRefreshJob(ctx context.Context) error {
	if !s.bus.Once(ctx, "squad_refresh", 10*time.Minute) {
		return nil
	}
	if err := s.squadSvc.RefreshFromPanel(ctx); err != nil {
		return fmt.Errorf("refresh squads: %w", err)
	}
	return nil
}

// MaintenanceWatchJob probes panel health. Three consecutive failures turn
// maintenance mode on; the first successful probe turns it back off, but
// only when the watcher was the one who set it.
func (s *Scheduler) MaintenanceWatchJob(ctx context.Context) error {
	if err := s.panel.Healthy(ctx); err != nil {
		s.panelFailures++
		s.log.Warn("panel health probe failed",
			zap.Int("consecutive", s.panelFailures),
			zap.Error(err),
		)
		if s.panelFailures >= panelFailureThreshold && !s.flag.Active() {
			s.flag.Set(ctx, true, "panel health check failing", "healthwatch")
		}
		return nil
	}

	s.panelFailures = 0
	state := s.flag.State()
	if state.Active && state.SetBy == "healthwatch" {
		s.flag.Set(ctx, false, "", "healthwatch")
	}
	return nil
}

// DailyReportJob posts a daily operations summary to the admin channel at
// the configured UTC hour.
func (s *Scheduler) DailyReportJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	if now.Hour() != s.cfg.ReportHour {
		return nil
	}
	date := now.Format("2006-01-02")
	if !s.bus.Once(ctx, "daily_report:"+date, 26*time.Hour) {
		return nil
	}

	text, err := s.ReportText(ctx, 24*time.Hour)
	if err != nil {
		return err
	}
	s.bus.Admins(ctx, text)
	return nil
}

// ReportText builds the operations summary over the given window; zero
// means the daily 24 hour window. The admin API reuses it for weekly and
// monthly reports on demand.
func (s *Scheduler) ReportText(ctx context.Context, window time.Duration) (string, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	now := s.clock.Now().UTC()
	since := now.Add(-window)

	users, err := s.userRepo.Count(ctx, s.db)
	if err != nil {
		return "", fmt.Errorf("count users: %w", err)
	}
	active, err := s.subRepo.CountByStatus(ctx, s.db, subdomain.StatusActive)
	if err != nil {
		return "", fmt.Errorf("count active subscriptions: %w", err)
	}
	trials, err := s.subRepo.CountTrials(ctx, s.db)
	if err != nil {
		return "", fmt.Errorf("count trials: %w", err)
	}
	depositKopeks, depositCount, err := s.eventsSvc.SumDepositsSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("sum deposits: %w", err)
	}
	purchases, err := s.eventsSvc.CountSince(ctx, eventsdomain.EventSubscriptionPurchased, since)
	if err != nil {
		return "", fmt.Errorf("count purchases: %w", err)
	}

	days := int(window / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return fmt.Sprintf(
		"Report %s (last %dd)\nUsers: %d\nActive subscriptions: %d (trials: %d)\nDeposits: %s across %d payments\nPurchases: %d",
		now.Format("2006-01-02"), days, users, active, trials,
		notify.FormatKopeks(depositKopeks), depositCount, purchases,
	), nil
}

// LogRotationJob archives yesterday's log files shortly after midnight UTC.
func (s *Scheduler) LogRotationJob(ctx context.Context) error {
	now := s.clock.Now().UTC()
	if now.Hour() != 0 {
		return nil
	}
	date := now.Format("2006-01-02")
	if !s.bus.Once(ctx, "log_rotation:"+date, 26*time.Hour) {
		return nil
	}
	if err := logger.Rotate(s.appCfg.LogDir, s.appCfg.LogRetentionDays, now); err != nil {
		return fmt.Errorf("rotate logs: %w", err)
	}
	s.log.Info("log files rotated", zap.String("date", date))
	return nil
}
