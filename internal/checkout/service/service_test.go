package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/checkout/domain"
	"github.com/nebulink/vpnbroker/internal/checkout/store"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/nebulink/vpnbroker/internal/pricing"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type squadServiceStub struct {
	available []squaddomain.Squad
}

func (s *squadServiceStub) Available(_ context.Context) ([]squaddomain.Squad, error) {
	return s.available, nil
}

func (s *squadServiceStub) ByUUIDs(_ context.Context, _ []string) ([]squaddomain.Squad, error) {
	return s.available, nil
}

func (s *squadServiceStub) RefreshFromPanel(_ context.Context) error { return nil }

// subServiceStub overrides only the two methods checkout uses; the
// embedded nil interface panics on anything else.
type subServiceStub struct {
	subdomain.Service

	quoteTotal  int64
	purchaseErr error
	purchased   []subdomain.PurchaseConfig
}

func (s *subServiceStub) QuotePurchase(_ context.Context, _ snowflake.ID, _ subdomain.PurchaseConfig) (pricing.Quote, error) {
	return pricing.Quote{Kind: pricing.QuoteKindPurchase, TotalKopeks: s.quoteTotal}, nil
}

func (s *subServiceStub) Purchase(_ context.Context, userID snowflake.ID, cfg subdomain.PurchaseConfig) (*subdomain.Subscription, pricing.Quote, error) {
	if s.purchaseErr != nil {
		return nil, pricing.Quote{TotalKopeks: s.quoteTotal}, s.purchaseErr
	}
	s.purchased = append(s.purchased, cfg)
	return &subdomain.Subscription{UserID: userID, Status: subdomain.StatusActive},
		pricing.Quote{Kind: pricing.QuoteKindPurchase, TotalKopeks: s.quoteTotal}, nil
}

type checkoutEnv struct {
	svc   domain.Service
	store domain.Store
	subs  *subServiceStub
	clk   *clock.FakeClock
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()

	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	subs := &subServiceStub{quoteTotal: 124000}
	drafts := store.NewMemoryStore()

	svc := NewService(ServiceParam{
		Log:   zaptest.NewLogger(t),
		Clock: clk,
		Cfg: config.Config{
			Devices: config.DeviceConfig{DefaultLimit: 1, MaxLimit: 10},
		},
		Table: config.DefaultPriceTable(),
		Store: drafts,
		SquadSvc: &squadServiceStub{available: []squaddomain.Squad{
			{SquadUUID: "nl-1", DisplayName: "Amsterdam", IsAvailable: true},
			{SquadUUID: "de-1", DisplayName: "Frankfurt", IsAvailable: true},
		}},
		SubSvc: subs,
	})

	return &checkoutEnv{svc: svc, store: drafts, subs: subs, clk: clk}
}

func walkToConfirm(t *testing.T, env *checkoutEnv, userID snowflake.ID) domain.Draft {
	t.Helper()
	ctx := context.Background()

	_, err := env.svc.Start(ctx, userID)
	require.NoError(t, err)
	_, err = env.svc.SelectPeriod(ctx, userID, 30)
	require.NoError(t, err)
	_, err = env.svc.SelectTraffic(ctx, userID, 10)
	require.NoError(t, err)
	_, err = env.svc.SelectSquads(ctx, userID, []string{"nl-1"})
	require.NoError(t, err)
	draft, err := env.svc.SelectDevices(ctx, userID, 2, false)
	require.NoError(t, err)
	return draft
}

func TestCheckout_WalksStepsInOrder(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(101)

	draft, err := env.svc.Start(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelectingPeriod, draft.Step)

	draft, err = env.svc.SelectPeriod(ctx, userID, 30)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelectingTraffic, draft.Step)
	assert.Equal(t, 30, draft.Config.PeriodDays)

	draft, err = env.svc.SelectTraffic(ctx, userID, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelectingCountries, draft.Step)

	draft, err = env.svc.SelectSquads(ctx, userID, []string{"nl-1", "de-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelectingDevices, draft.Step)

	draft, err = env.svc.SelectDevices(ctx, userID, 2, true)
	require.NoError(t, err)
	assert.Equal(t, domain.StepConfirming, draft.Step)
	assert.Equal(t, int64(124000), draft.QuoteTotalKopeks)
	assert.True(t, draft.Config.ModemEnabled)
}

func TestCheckout_StepOrderEnforced(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(102)

	_, err := env.svc.SelectPeriod(ctx, userID, 30)
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)

	_, err = env.svc.Start(ctx, userID)
	require.NoError(t, err)

	_, err = env.svc.SelectTraffic(ctx, userID, 10)
	assert.ErrorIs(t, err, domain.ErrWrongStep)

	_, _, err = env.svc.Confirm(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrWrongStep)
}

func TestCheckout_SelectionValidation(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(103)

	_, err := env.svc.Start(ctx, userID)
	require.NoError(t, err)

	_, err = env.svc.SelectPeriod(ctx, userID, 31)
	assert.ErrorIs(t, err, pricing.ErrUnknownPeriod)

	_, err = env.svc.SelectPeriod(ctx, userID, 30)
	require.NoError(t, err)

	_, err = env.svc.SelectTraffic(ctx, userID, 7)
	assert.ErrorIs(t, err, pricing.ErrUnknownTrafficTier)

	_, err = env.svc.SelectTraffic(ctx, userID, 10)
	require.NoError(t, err)

	_, err = env.svc.SelectSquads(ctx, userID, nil)
	assert.ErrorIs(t, err, subdomain.ErrNoSquadsSelected)

	_, err = env.svc.SelectSquads(ctx, userID, []string{"xx-9"})
	assert.ErrorIs(t, err, subdomain.ErrSquadNotSelectable)

	_, err = env.svc.SelectSquads(ctx, userID, []string{"nl-1"})
	require.NoError(t, err)

	_, err = env.svc.SelectDevices(ctx, userID, 0, false)
	assert.ErrorIs(t, err, pricing.ErrDeviceLimitRange)
}

func TestCheckout_ConfirmPurchases(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(104)
	walkToConfirm(t, env, userID)

	sub, quote, err := env.svc.Confirm(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, subdomain.StatusActive, sub.Status)
	assert.Equal(t, int64(124000), quote.TotalKopeks)
	require.Len(t, env.subs.purchased, 1)
	assert.Equal(t, []string{"nl-1"}, env.subs.purchased[0].SquadUUIDs)

	// The draft is gone once the purchase commits.
	_, err = env.svc.Current(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrDraftNotFound)
}

func TestCheckout_ConfirmRefusesChangedTotal(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(105)
	walkToConfirm(t, env, userID)

	// Price moved while the draft sat idle.
	env.subs.quoteTotal = 139000

	_, quote, err := env.svc.Confirm(ctx, userID)
	require.ErrorIs(t, err, domain.ErrOrderChanged)
	assert.Equal(t, int64(139000), quote.TotalKopeks)

	// The draft stays at confirmation with the new total saved, so the
	// next confirm goes through.
	current, err := env.svc.Current(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepConfirming, current.Step)
	assert.Equal(t, int64(139000), current.QuoteTotalKopeks)

	_, _, err = env.svc.Confirm(ctx, userID)
	require.NoError(t, err)
}

func TestCheckout_ConfirmKeepsDraftWhenUnderfunded(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(106)
	walkToConfirm(t, env, userID)

	env.subs.purchaseErr = &userdomain.InsufficientFundsError{MissingKopeks: 15000}

	_, _, err := env.svc.Confirm(ctx, userID)
	require.ErrorIs(t, err, userdomain.ErrInsufficientFunds)

	// A top-up can resume the same draft.
	current, err := env.svc.Current(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepConfirming, current.Step)

	env.subs.purchaseErr = nil
	_, _, err = env.svc.Confirm(ctx, userID)
	require.NoError(t, err)
}

func TestCheckout_StartDiscardsPreviousDraft(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()
	userID := snowflake.ID(107)
	walkToConfirm(t, env, userID)

	draft, err := env.svc.Start(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSelectingPeriod, draft.Step)
	assert.Zero(t, draft.Config.PeriodDays)
}
