package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/panel"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
	"github.com/nebulink/vpnbroker/internal/pricing"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	"github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// paidEnv seeds a user with a month-long paid subscription on nl-1 and a
// second selectable squad de-1.
func paidEnv(t *testing.T) (*testEnv, *userdomain.User) {
	t.Helper()
	env := newTestEnv(t)
	user := env.seedUser(t, 1000000)
	env.seedSquad(t, "nl-1", 15000)
	env.seedSquad(t, "de-1", 20000)

	_, _, err := env.svc.Purchase(context.Background(), user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   10,
		DeviceLimit: 2,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.NoError(t, err)
	return env, user
}

func (e *testEnv) transactionCount(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&paymentdomain.Transaction{}).
		Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func TestSwitchTraffic(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	t.Run("upgrade charges the prorated delta", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.SwitchTraffic(ctx, user.ID, 50)
		require.NoError(t, err)

		// One remaining month, 10000 - 5000 monthly delta.
		assert.Equal(t, int64(5000), quote.TotalKopeks)
		assert.Equal(t, before-5000, env.balance(t, user.ID))
		assert.Equal(t, 50, sub.TrafficLimitGB)
	})

	t.Run("same tier is refused", func(t *testing.T) {
		_, _, err := env.svc.SwitchTraffic(ctx, user.ID, 50)
		assert.ErrorIs(t, err, domain.ErrNothingToChange)
	})

	t.Run("downgrade is free and never refunds", func(t *testing.T) {
		before := env.balance(t, user.ID)
		txBefore := env.transactionCount(t, user.ID)

		sub, quote, err := env.svc.SwitchTraffic(ctx, user.ID, 5)
		require.NoError(t, err)

		assert.Equal(t, int64(0), quote.TotalKopeks)
		assert.Equal(t, before, env.balance(t, user.ID))
		assert.Equal(t, 5, sub.TrafficLimitGB)
		// Zero-amount operations record no transaction row.
		assert.Equal(t, txBefore, env.transactionCount(t, user.ID))
	})

	t.Run("unknown tier is refused", func(t *testing.T) {
		_, _, err := env.svc.SwitchTraffic(ctx, user.ID, 7)
		assert.ErrorIs(t, err, pricing.ErrUnknownTrafficTier)
	})
}

func TestChangeDevices(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	t.Run("increase charges per added slot", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.ChangeDevices(ctx, user.ID, 4)
		require.NoError(t, err)

		assert.Equal(t, int64(10000), quote.TotalKopeks)
		assert.Equal(t, before-10000, env.balance(t, user.ID))
		assert.Equal(t, 4, sub.DeviceLimit)
	})

	t.Run("reduction is free", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.ChangeDevices(ctx, user.ID, 1)
		require.NoError(t, err)

		assert.Equal(t, int64(0), quote.TotalKopeks)
		assert.Equal(t, before, env.balance(t, user.ID))
		assert.Equal(t, 1, sub.DeviceLimit)
	})

	t.Run("bounds are enforced", func(t *testing.T) {
		_, _, err := env.svc.ChangeDevices(ctx, user.ID, 0)
		assert.ErrorIs(t, err, domain.ErrDeviceLimitMinimum)

		_, _, err = env.svc.ChangeDevices(ctx, user.ID, 11)
		assert.ErrorIs(t, err, pricing.ErrDeviceLimitRange)
	})
}

func TestAddSquads(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	t.Run("connects and charges prorated price", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.AddSquads(ctx, user.ID, []string{"de-1"})
		require.NoError(t, err)

		assert.Equal(t, int64(20000), quote.TotalKopeks)
		assert.Equal(t, before-20000, env.balance(t, user.ID))
		assert.Equal(t, []string{"nl-1", "de-1"}, []string(sub.ConnectedSquads))

		var snapshots []domain.SubscriptionSquad
		require.NoError(t, env.db.Where("subscription_id = ?", sub.ID).Order("squad_uuid").Find(&snapshots).Error)
		assert.Len(t, snapshots, 2)
	})

	t.Run("already connected is refused", func(t *testing.T) {
		_, _, err := env.svc.AddSquads(ctx, user.ID, []string{"de-1"})
		assert.ErrorIs(t, err, domain.ErrSquadAlreadyAdded)
	})

	t.Run("unknown squad is refused", func(t *testing.T) {
		_, _, err := env.svc.AddSquads(ctx, user.ID, []string{"xx-1"})
		assert.ErrorIs(t, err, squaddomain.ErrSquadNotFound)
	})
}

func TestRemoveSquads(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	_, _, err := env.svc.AddSquads(ctx, user.ID, []string{"de-1"})
	require.NoError(t, err)

	t.Run("removal is free", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, err := env.svc.RemoveSquads(ctx, user.ID, []string{"de-1"})
		require.NoError(t, err)

		assert.Equal(t, before, env.balance(t, user.ID))
		assert.Equal(t, []string{"nl-1"}, []string(sub.ConnectedSquads))

		var snapshots []domain.SubscriptionSquad
		require.NoError(t, env.db.Where("subscription_id = ?", sub.ID).Find(&snapshots).Error)
		assert.Len(t, snapshots, 1)
	})

	t.Run("last squad cannot be removed", func(t *testing.T) {
		_, err := env.svc.RemoveSquads(ctx, user.ID, []string{"nl-1"})
		assert.ErrorIs(t, err, domain.ErrLastSquad)
	})

	t.Run("not connected is refused", func(t *testing.T) {
		_, err := env.svc.RemoveSquads(ctx, user.ID, []string{"de-1"})
		assert.ErrorIs(t, err, domain.ErrSquadNotConnected)
	})
}

func TestToggleModem(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	t.Run("enable charges the modem price", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.ToggleModem(ctx, user.ID, true)
		require.NoError(t, err)

		assert.Equal(t, int64(10000), quote.TotalKopeks)
		assert.Equal(t, before-10000, env.balance(t, user.ID))
		assert.True(t, sub.ModemEnabled)
	})

	t.Run("same state is refused", func(t *testing.T) {
		_, _, err := env.svc.ToggleModem(ctx, user.ID, true)
		assert.ErrorIs(t, err, domain.ErrNothingToChange)
	})

	t.Run("disable is free", func(t *testing.T) {
		before := env.balance(t, user.ID)

		sub, quote, err := env.svc.ToggleModem(ctx, user.ID, false)
		require.NoError(t, err)

		assert.Equal(t, int64(0), quote.TotalKopeks)
		assert.Equal(t, before, env.balance(t, user.ID))
		assert.False(t, sub.ModemEnabled)
	})
}

func TestResetTraffic(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	require.NoError(t, env.db.Model(&domain.Subscription{}).
		Where("user_id = ?", user.ID).
		Update("traffic_used_gb", 8.5).Error)

	before := env.balance(t, user.ID)
	sub, err := env.svc.ResetTraffic(ctx, user.ID)
	require.NoError(t, err)

	// Fee equals the monthly base price.
	assert.Equal(t, before-99000, env.balance(t, user.ID))
	assert.Equal(t, float64(0), sub.TrafficUsedGB)
	assert.Equal(t, []string{"panel-1"}, env.panel.resets)
}

func TestResetTraffic_UnlimitedRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 1000000)
	env.seedSquad(t, "nl-1", 15000)

	_, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   0,
		DeviceLimit: 1,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.NoError(t, err)

	_, err = env.svc.ResetTraffic(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrTrafficUnlimited)
}

func TestAddOns_InactiveSubscriptionRefused(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	env.clk.Advance(31 * 24 * time.Hour)

	_, _, err := env.svc.SwitchTraffic(ctx, user.ID, 50)
	assert.ErrorIs(t, err, domain.ErrSubscriptionInactive)

	_, _, err = env.svc.ToggleModem(ctx, user.ID, true)
	assert.ErrorIs(t, err, domain.ErrSubscriptionInactive)
}

func TestDevices(t *testing.T) {
	env, user := paidEnv(t)
	ctx := context.Background()

	env.panel.devices = []panel.Device{
		{HWID: "hw-1", Platform: "android", Model: "Pixel 8"},
		{HWID: "hw-2", Platform: "ios", Model: "iPhone 15"},
	}

	devices, err := env.svc.ListDevices(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "hw-1", devices[0].HWID)

	require.NoError(t, env.svc.RemoveDevice(ctx, user.ID, "hw-2"))
	assert.Equal(t, []string{"hw-2"}, env.panel.removed)

	err = env.svc.RemoveDevice(ctx, user.ID, "hw-9")
	assert.ErrorIs(t, err, domain.ErrDeviceNotFound)
}
