package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/panel"
	"github.com/nebulink/vpnbroker/internal/pricing"
)

// Service orchestrates every lifecycle operation. Paid operations follow
// one shape: quote, then a single transaction (re-read FOR UPDATE, debit,
// mutate, transaction row, event), then post-commit panel sync and
// notification. Panel failures after commit never roll the money back.
type Service interface {
	Get(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// CreateTrial activates the free trial. One per lifetime: refused once
	// the user has ever paid or already holds a subscription row.
	CreateTrial(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// QuotePurchase prices a configuration without committing anything.
	QuotePurchase(ctx context.Context, userID snowflake.ID, cfg PurchaseConfig) (pricing.Quote, error)

	// Purchase debits the balance and activates (or converts the trial to)
	// a paid subscription with the given configuration.
	Purchase(ctx context.Context, userID snowflake.ID, cfg PurchaseConfig) (*Subscription, pricing.Quote, error)

	// Extend pushes the end date out by periodDays at current prices,
	// re-snapshotting squad prices. Trials cannot be extended.
	Extend(ctx context.Context, userID snowflake.ID, periodDays int) (*Subscription, pricing.Quote, error)

	// SwitchTraffic moves to another traffic tier. Upgrades charge the
	// prorated delta; downgrades are free and never refund.
	SwitchTraffic(ctx context.Context, userID snowflake.ID, trafficGB int) (*Subscription, pricing.Quote, error)

	// ChangeDevices moves the device limit. Increases charge the prorated
	// delta; reductions are free.
	ChangeDevices(ctx context.Context, userID snowflake.ID, deviceLimit int) (*Subscription, pricing.Quote, error)

	// AddSquads connects additional servers, charging their prorated
	// monthly prices for the rest of the period.
	AddSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (*Subscription, pricing.Quote, error)

	// RemoveSquads disconnects servers for free. At least one must remain.
	RemoveSquads(ctx context.Context, userID snowflake.ID, squadUUIDs []string) (*Subscription, error)

	// ToggleModem enables (prorated charge) or disables (free) the modem
	// slot.
	ToggleModem(ctx context.Context, userID snowflake.ID, enabled bool) (*Subscription, pricing.Quote, error)

	// ResetTraffic zeroes the used counter for a flat fee. Refused on
	// unlimited plans.
	ResetTraffic(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// SetAutopay flips scheduled renewal; daysBefore must be in 1..14.
	SetAutopay(ctx context.Context, userID snowflake.ID, enabled bool, daysBefore int) (*Subscription, error)

	// SyncUsage pulls the used-traffic counter from the panel.
	SyncUsage(ctx context.Context, userID snowflake.ID) (*Subscription, error)

	// ListDevices enumerates the hardware registered on the panel. The
	// panel owns device identity; nothing is cached locally.
	ListDevices(ctx context.Context, userID snowflake.ID) ([]panel.Device, error)

	// RemoveDevice detaches one hardware entry on the panel, freeing a
	// slot within the subscription's device limit.
	RemoveDevice(ctx context.Context, userID snowflake.ID, hwid string) error

	// DisableExpiredTrial disables one expired trial, optionally removing
	// the panel user. Called by the cleanup job.
	DisableExpiredTrial(ctx context.Context, sub Subscription) error
}
