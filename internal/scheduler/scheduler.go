// Package scheduler runs the periodic background fleet: expiry warnings,
// autopay renewals, trial cleanup, reporting, log rotation, receipt
// draining and the panel health watch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/maintenance"
	"github.com/nebulink/vpnbroker/internal/notify"
	obsmetrics "github.com/nebulink/vpnbroker/internal/observability/metrics"
	"github.com/nebulink/vpnbroker/internal/panel"
	receiptsdomain "github.com/nebulink/vpnbroker/internal/receipts/domain"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	AppCfg config.Config
	Config Config `optional:"true"`

	SubRepo     subdomain.Repository
	SubSvc      subdomain.Service
	UserRepo    userdomain.Repository
	SquadSvc    squaddomain.Service
	ReceiptsSvc receiptsdomain.Service
	EventsSvc   eventsdomain.Service
	Panel       panel.Client
	Flag        *maintenance.Flag
	Bus         *notify.Bus
}

type Scheduler struct {
	db     *gorm.DB
	log    *zap.Logger
	cfg    Config
	appCfg config.Config
	genID  *snowflake.Node
	clock  clock.Clock

	subRepo     subdomain.Repository
	subSvc      subdomain.Service
	userRepo    userdomain.Repository
	squadSvc    squaddomain.Service
	receiptsSvc receiptsdomain.Service
	eventsSvc   eventsdomain.Service
	panel       panel.Client
	flag        *maintenance.Flag
	bus         *notify.Bus

	// panelFailures counts consecutive health probe failures.
	panelFailures int
	// receiptBacklog remembers the queue depth after the previous drain
	// pass, to notice growth and to announce a full drain once.
	receiptBacklog int64
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.SubRepo == nil || p.SubSvc == nil || p.UserRepo == nil ||
		p.ReceiptsSvc == nil || p.EventsSvc == nil || p.Panel == nil ||
		p.Flag == nil || p.Bus == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:          p.DB,
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		appCfg:      p.AppCfg,
		genID:       p.GenID,
		clock:       p.Clock,
		subRepo:     p.SubRepo,
		subSvc:      p.SubSvc,
		userRepo:    p.UserRepo,
		squadSvc:    p.SquadSvc,
		receiptsSvc: p.ReceiptsSvc,
		eventsSvc:   p.EventsSvc,
		panel:       p.Panel,
		flag:        p.Flag,
		bus:         p.Bus,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	log := s.log.With(zap.String("job", name))
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	log.Error("job failed", zap.Error(err))
	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce executes every enabled job exactly once. Errors are joined so
// one failing job never starves the rest.
func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context) error
	}{
		{"expiry_notifier", s.cfg.JobTimeout, s.ExpiryNotifierJob},
		{"autopay", 2 * time.Minute, s.AutopayJob},
		{"trial_cleanup", s.cfg.JobTimeout, s.TrialCleanupJob},
		{"receipt_drainer", 2 * time.Minute, s.ReceiptDrainerJob},
		{"squad_refresh", s.cfg.JobTimeout, s.SquadRefreshJob},
		{"maintenance_watch", 15 * time.Second, s.MaintenanceWatchJob},
		{"daily_report", s.cfg.JobTimeout, s.DailyReportJob},
		{"log_rotation", s.cfg.JobTimeout, s.LogRotationJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

// RunForever ticks RunOnce until the context is canceled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
