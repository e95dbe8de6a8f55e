package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/nebulink/vpnbroker/internal/receipts/domain"
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
	cfg   config.ReceiptConfig
	http  *http.Client
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Cfg   config.Config
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("receipts.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
		cfg:   p.Cfg.Receipts,
		http:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Enqueue implements domain.Service.
func (s *Service) Enqueue(ctx context.Context, db *gorm.DB, item domain.ReceiptItem) error {
	if db == nil {
		db = s.db
	}
	if item.ID == 0 {
		item.ID = s.genID.Generate()
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}
	now := s.clock.Now()
	item.NextAttemptAt = now
	item.CreatedAt = now
	return s.repo.Insert(ctx, db, &item)
}

// DrainOnce implements domain.Service.
func (s *Service) DrainOnce(ctx context.Context) (domain.DrainReport, error) {
	var report domain.DrainReport

	if s.cfg.ServiceURL == "" {
		// Receipts disabled; leave the queue untouched.
		return report, nil
	}

	now := s.clock.Now()
	due, err := s.repo.ListDue(ctx, s.db, now, 50)
	if err != nil {
		return report, err
	}

	for _, item := range due {
		if ctx.Err() != nil {
			break
		}

		if err := s.submit(ctx, item); err != nil {
			attempts := item.Attempts + 1
			if attempts >= s.cfg.MaxAttempts {
				report.Dropped++
				s.log.Error("receipt dropped after max attempts",
					zap.String("payment_id", item.PaymentID),
					zap.Int("attempts", attempts),
					zap.Error(err),
				)
				if delErr := s.repo.Delete(ctx, s.db, item.ID); delErr != nil {
					return report, delErr
				}
				continue
			}
			report.Failed++
			next := now.Add(retryDelay(attempts))
			if resErr := s.repo.Reschedule(ctx, s.db, item.ID, attempts, next); resErr != nil {
				return report, resErr
			}
			continue
		}

		report.Submitted++
		if err := s.repo.Delete(ctx, s.db, item.ID); err != nil {
			return report, err
		}
	}

	report.Remaining, err = s.repo.Count(ctx, s.db)
	return report, err
}

// QueueDepth implements domain.Service.
func (s *Service) QueueDepth(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, s.db)
}

// submit posts one receipt with a short in-pass retry; longer-term retry
// lives in the queue itself.
func (s *Service) submit(ctx context.Context, item domain.ReceiptItem) error {
	body, err := json.Marshal(map[string]any{
		"payment_id":  item.PaymentID,
		"name":        item.Name,
		"amount":      item.AmountKopeks,
		"quantity":    item.Quantity,
		"client_info": item.ClientInfo,
	})
	if err != nil {
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	return backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.ServiceURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: status %d", domain.ErrSubmitFailed, resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("%w: status %d", domain.ErrSubmitFailed, resp.StatusCode))
		}
	}, policy)
}

// retryDelay grows roughly exponentially with the attempt count, capped
// at six hours.
func retryDelay(attempts int) time.Duration {
	delay := time.Minute << uint(min(attempts, 8))
	if delay > 6*time.Hour {
		delay = 6 * time.Hour
	}
	return delay
}
