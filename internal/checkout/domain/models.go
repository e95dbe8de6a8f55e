// Package domain contains the purchase wizard state. A draft walks a
// fixed step order and survives process restarts in redis until the
// configured TTL runs out.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/pricing"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
)

type Step string

const (
	StepSelectingPeriod    Step = "selecting_period"
	StepSelectingTraffic   Step = "selecting_traffic"
	StepSelectingCountries Step = "selecting_countries"
	StepSelectingDevices   Step = "selecting_devices"
	StepConfirming         Step = "confirming_purchase"
)

var (
	ErrDraftNotFound = errors.New("checkout_draft_not_found")
	ErrWrongStep     = errors.New("checkout_wrong_step")
	ErrOrderChanged  = errors.New("checkout_order_changed")
)

// Draft is the wizard's saved position. QuoteTotalKopeks is what the user
// last saw; Confirm re-prices and refuses to charge a different total.
type Draft struct {
	UserID           snowflake.ID            `json:"user_id"`
	Step             Step                    `json:"step"`
	Config           subdomain.PurchaseConfig `json:"config"`
	QuoteTotalKopeks int64                   `json:"quote_total_kopeks"`
	SavedAt          time.Time               `json:"saved_at"`
}

// Store persists drafts keyed by user.
type Store interface {
	Save(ctx context.Context, draft Draft) error
	Load(ctx context.Context, userID snowflake.ID) (*Draft, error)
	Delete(ctx context.Context, userID snowflake.ID) error
}

type Service interface {
	// Start opens a fresh draft, discarding any previous one.
	Start(ctx context.Context, userID snowflake.ID) (Draft, error)
	Current(ctx context.Context, userID snowflake.ID) (Draft, error)

	SelectPeriod(ctx context.Context, userID snowflake.ID, periodDays int) (Draft, error)
	SelectTraffic(ctx context.Context, userID snowflake.ID, trafficGB int) (Draft, error)
	SelectSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (Draft, error)
	// SelectDevices completes the configuration and moves the draft to
	// confirmation with a fresh quote.
	SelectDevices(ctx context.Context, userID snowflake.ID, deviceLimit int, modem bool) (Draft, error)

	// Confirm re-prices and commits the purchase. The draft survives an
	// ErrOrderChanged (with the new total saved) and an insufficient
	// balance, so the user can top up and resume.
	Confirm(ctx context.Context, userID snowflake.ID) (*subdomain.Subscription, pricing.Quote, error)
}
