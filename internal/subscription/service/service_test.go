package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	eventsrepo "github.com/nebulink/vpnbroker/internal/events/repository"
	eventsservice "github.com/nebulink/vpnbroker/internal/events/service"
	"github.com/nebulink/vpnbroker/internal/notify"
	"github.com/nebulink/vpnbroker/internal/panel"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
	paymentrepo "github.com/nebulink/vpnbroker/internal/payment/repository"
	"github.com/nebulink/vpnbroker/internal/pricing"
	promodomain "github.com/nebulink/vpnbroker/internal/promogroup/domain"
	promorepo "github.com/nebulink/vpnbroker/internal/promogroup/repository"
	promoservice "github.com/nebulink/vpnbroker/internal/promogroup/service"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	squadrepo "github.com/nebulink/vpnbroker/internal/squad/repository"
	"github.com/nebulink/vpnbroker/internal/subscription/domain"
	"github.com/nebulink/vpnbroker/internal/subscription/repository"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	userrepo "github.com/nebulink/vpnbroker/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// panelStub records panel calls and answers with a fixed remote identity.
type panelStub struct {
	mu      sync.Mutex
	creates int
	updates int
	deletes []string
	resets  []string
	usage   float64
	devices []panel.Device
	removed []string
	err     error
}

func (p *panelStub) CreateUser(_ context.Context, _ panel.UserSpec) (panel.RemoteUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return panel.RemoteUser{}, p.err
	}
	p.creates++
	return panel.RemoteUser{PanelUUID: "panel-1", SubscriptionURL: "https://sub.example/panel-1"}, nil
}

func (p *panelStub) UpdateUser(_ context.Context, _ panel.UserSpec) (panel.RemoteUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return panel.RemoteUser{}, p.err
	}
	p.updates++
	return panel.RemoteUser{PanelUUID: "panel-1", SubscriptionURL: "https://sub.example/panel-1"}, nil
}

func (p *panelStub) DeleteUser(_ context.Context, panelUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes = append(p.deletes, panelUUID)
	return p.err
}

func (p *panelStub) ResetTraffic(_ context.Context, panelUUID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, panelUUID)
	return p.err
}

func (p *panelStub) GetUsage(_ context.Context, _ string) (float64, error) {
	return p.usage, p.err
}

func (p *panelStub) ListDevices(_ context.Context, _ string) ([]panel.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.devices, p.err
}

func (p *panelStub) DeleteDevice(_ context.Context, _, hwid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.removed = append(p.removed, hwid)
	return nil
}

func (p *panelStub) ListSquads(_ context.Context) ([]panel.RemoteSquad, error) {
	return nil, p.err
}

func (p *panelStub) Healthy(_ context.Context) error { return p.err }

// recorderMessenger captures outgoing chat messages.
type recorderMessenger struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recorderMessenger) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorderMessenger) toChat(chatID int64) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Message
	for _, m := range r.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func testConfig() config.Config {
	return config.Config{
		Trial: config.TrialConfig{
			DurationDays:      3,
			TrafficLimitGB:    10,
			DeviceLimit:       2,
			SquadUUID:         "trial-squad",
			CleanupAfterHours: 24,
		},
		Devices: config.DeviceConfig{
			DefaultLimit:         1,
			MaxLimit:             10,
			PricePerDeviceKopeks: 5000,
			ModemPriceKopeks:     10000,
		},
		Autopay: config.AutopayConfig{
			WarningDays:       []int{3, 1},
			DefaultDaysBefore: 3,
		},
		Admin: config.AdminConfig{ChatIDs: []int64{900}},
	}
}

type testEnv struct {
	db    *gorm.DB
	clk   *clock.FakeClock
	node  *snowflake.Node
	cfg   config.Config
	panel *panelStub
	msgr  *recorderMessenger
	svc   domain.Service

	nextTelegramID int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&userdomain.User{},
		&promodomain.PromoGroup{},
		&squaddomain.Squad{},
		&domain.Subscription{},
		&domain.SubscriptionSquad{},
		&paymentdomain.Transaction{},
		&paymentdomain.Payment{},
		&eventsdomain.SubscriptionEvent{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg := testConfig()
	stub := &panelStub{}
	msgr := &recorderMessenger{}

	bus := notify.NewBus(notify.BusParam{Log: log, Messenger: msgr, Cfg: cfg})

	eventsSvc := eventsservice.NewService(eventsservice.ServiceParam{
		DB:    conn,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  eventsrepo.Provide(),
	})
	promoSvc := promoservice.NewService(promoservice.ServiceParam{
		DB:   conn,
		Log:  log,
		Repo: promorepo.Provide(),
	})

	svc := NewService(ServiceParam{
		DB:          conn,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		Repo:        repository.Provide(),
		UserRepo:    userrepo.Provide(),
		SquadRepo:   squadrepo.Provide(),
		PromoSvc:    promoSvc,
		Engine:      pricing.NewEngine(config.DefaultPriceTable(), cfg.Devices),
		Panel:       stub,
		PaymentRepo: paymentrepo.Provide(),
		EventsSvc:   eventsSvc,
		Bus:         bus,
	})

	return &testEnv{
		db:             conn,
		clk:            clk,
		node:           node,
		cfg:            cfg,
		panel:          stub,
		msgr:           msgr,
		svc:            svc,
		nextTelegramID: 1000,
	}
}

func (e *testEnv) seedUser(t *testing.T, balanceKopeks int64) *userdomain.User {
	t.Helper()
	e.nextTelegramID++
	now := e.clk.Now()
	user := &userdomain.User{
		ID:            e.node.Generate(),
		TelegramID:    e.nextTelegramID,
		Language:      "ru",
		BalanceKopeks: balanceKopeks,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastActivity:  now,
	}
	require.NoError(t, e.db.Create(user).Error)
	return user
}

func (e *testEnv) seedSquad(t *testing.T, uuid string, monthlyKopeks int64) squaddomain.Squad {
	t.Helper()
	now := e.clk.Now()
	squad := squaddomain.Squad{
		ID:                  e.node.Generate(),
		SquadUUID:           uuid,
		DisplayName:         uuid,
		CountryCode:         "NL",
		PriceKopeksPerMonth: monthlyKopeks,
		IsAvailable:         true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	require.NoError(t, e.db.Create(&squad).Error)
	return squad
}

func (e *testEnv) balance(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	var user userdomain.User
	require.NoError(t, e.db.Where("id = ?", userID).First(&user).Error)
	return user.BalanceKopeks
}

func (e *testEnv) events(t *testing.T, userID snowflake.ID) []eventsdomain.SubscriptionEvent {
	t.Helper()
	var rows []eventsdomain.SubscriptionEvent
	require.NoError(t, e.db.Where("user_id = ?", userID).Order("id").Find(&rows).Error)
	return rows
}

func TestCreateTrial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 0)

	sub, err := env.svc.CreateTrial(ctx, user.ID)
	require.NoError(t, err)

	assert.True(t, sub.IsTrial)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, env.clk.Now().Add(72*time.Hour), sub.EndDate)
	assert.Equal(t, 10, sub.TrafficLimitGB)
	assert.Equal(t, 2, sub.DeviceLimit)
	assert.Equal(t, []string{"trial-squad"}, []string(sub.ConnectedSquads))

	assert.Equal(t, 1, env.panel.creates)
	require.Len(t, env.msgr.toChat(user.TelegramID), 1)

	events := env.events(t, user.ID)
	require.Len(t, events, 1)
	assert.Equal(t, eventsdomain.EventTrialActivated, events[0].EventType)
}

func TestCreateTrial_OncePerLifetime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("refused after any paid subscription", func(t *testing.T) {
		user := env.seedUser(t, 0)
		require.NoError(t, env.db.Model(&userdomain.User{}).
			Where("id = ?", user.ID).
			Update("has_had_paid_subscription", true).Error)

		_, err := env.svc.CreateTrial(ctx, user.ID)
		assert.ErrorIs(t, err, domain.ErrTrialAlreadyUsed)
	})

	t.Run("refused while a subscription row exists", func(t *testing.T) {
		user := env.seedUser(t, 0)
		_, err := env.svc.CreateTrial(ctx, user.ID)
		require.NoError(t, err)

		_, err = env.svc.CreateTrial(ctx, user.ID)
		assert.ErrorIs(t, err, domain.ErrTrialAlreadyUsed)
	})
}

func TestPurchase_ActivatesAndDebits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 200000)
	env.seedSquad(t, "nl-1", 15000)

	sub, quote, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   10,
		DeviceLimit: 2,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.NoError(t, err)

	// 99000 base + 5000 traffic + 15000 server + 5000 extra device.
	assert.Equal(t, int64(124000), quote.TotalKopeks)
	assert.Equal(t, int64(76000), env.balance(t, user.ID))

	assert.False(t, sub.IsTrial)
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Equal(t, env.clk.Now().Add(30*24*time.Hour), sub.EndDate)
	assert.Equal(t, "https://sub.example/panel-1", sub.SubscriptionURL)

	var fresh userdomain.User
	require.NoError(t, env.db.Where("id = ?", user.ID).First(&fresh).Error)
	assert.True(t, fresh.HasHadPaidSubscription)
	require.NotNil(t, fresh.PanelUUID)
	assert.Equal(t, "panel-1", *fresh.PanelUUID)

	var txRows []paymentdomain.Transaction
	require.NoError(t, env.db.Where("user_id = ?", user.ID).Find(&txRows).Error)
	require.Len(t, txRows, 1)
	assert.Equal(t, paymentdomain.TransactionSubscriptionPayment, txRows[0].Type)
	assert.Equal(t, int64(124000), txRows[0].AmountKopeks)
	assert.True(t, txRows[0].IsCompleted)

	var snapshots []domain.SubscriptionSquad
	require.NoError(t, env.db.Where("subscription_id = ?", sub.ID).Find(&snapshots).Error)
	require.Len(t, snapshots, 1)
	assert.Equal(t, int64(15000), snapshots[0].PaidPriceKopeks)

	// Operators get an audit line.
	assert.NotEmpty(t, env.msgr.toChat(900))
}

func TestPurchase_InsufficientFunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 123999)
	env.seedSquad(t, "nl-1", 15000)

	_, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   10,
		DeviceLimit: 2,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.ErrorIs(t, err, userdomain.ErrInsufficientFunds)

	var funds *userdomain.InsufficientFundsError
	require.True(t, errors.As(err, &funds))
	assert.Equal(t, int64(1), funds.MissingKopeks)

	// Nothing committed.
	assert.Equal(t, int64(123999), env.balance(t, user.ID))
	sub, err := env.svc.Get(ctx, user.ID)
	assert.Nil(t, sub)
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestPurchase_ConvertsTrialInPlace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 500000)
	env.seedSquad(t, "nl-1", 15000)

	trial, err := env.svc.CreateTrial(ctx, user.ID)
	require.NoError(t, err)

	sub, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   50,
		DeviceLimit: 1,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, trial.ID, sub.ID)
	assert.False(t, sub.IsTrial)
	assert.Equal(t, 50, sub.TrafficLimitGB)
	assert.Equal(t, []string{"nl-1"}, []string(sub.ConnectedSquads))
}

func TestPurchase_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 500000)
	full := env.seedSquad(t, "de-1", 20000)
	require.NoError(t, env.db.Model(&squaddomain.Squad{}).
		Where("id = ?", full.ID).
		Update("is_full", true).Error)

	_, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 1,
	})
	assert.ErrorIs(t, err, domain.ErrNoSquadsSelected)

	_, _, err = env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 1, SquadUUIDs: []string{"de-1"},
	})
	assert.ErrorIs(t, err, domain.ErrSquadNotSelectable)

	_, _, err = env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 1, SquadUUIDs: []string{"missing"},
	})
	assert.ErrorIs(t, err, squaddomain.ErrSquadNotFound)
}

func TestExtend(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 1000000)
	env.seedSquad(t, "nl-1", 15000)

	sub, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays:  30,
		TrafficGB:   10,
		DeviceLimit: 1,
		SquadUUIDs:  []string{"nl-1"},
	})
	require.NoError(t, err)
	firstEnd := sub.EndDate

	t.Run("before expiry extends from the end date", func(t *testing.T) {
		env.clk.Advance(10 * 24 * time.Hour)
		balanceBefore := env.balance(t, user.ID)

		extended, quote, err := env.svc.Extend(ctx, user.ID, 30)
		require.NoError(t, err)

		assert.Equal(t, firstEnd.Add(30*24*time.Hour), extended.EndDate)
		// 99000 base + 5000 traffic + 15000 server, re-priced today.
		assert.Equal(t, int64(119000), quote.TotalKopeks)
		assert.Equal(t, balanceBefore-119000, env.balance(t, user.ID))
	})

	t.Run("after expiry extends from now", func(t *testing.T) {
		env.clk.Advance(100 * 24 * time.Hour)

		extended, _, err := env.svc.Extend(ctx, user.ID, 30)
		require.NoError(t, err)

		assert.Equal(t, env.clk.Now().Add(30*24*time.Hour), extended.EndDate)
		assert.Equal(t, domain.StatusActive, extended.Status)
	})
}

func TestExtend_TrialRefused(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 1000000)

	_, err := env.svc.CreateTrial(ctx, user.ID)
	require.NoError(t, err)

	_, _, err = env.svc.Extend(ctx, user.ID, 30)
	assert.ErrorIs(t, err, domain.ErrTrialImmutable)
}

func TestSetAutopay(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 1000000)
	env.seedSquad(t, "nl-1", 15000)

	_, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 1, SquadUUIDs: []string{"nl-1"},
	})
	require.NoError(t, err)

	sub, err := env.svc.SetAutopay(ctx, user.ID, true, 7)
	require.NoError(t, err)
	assert.True(t, sub.AutopayEnabled)
	assert.Equal(t, 7, sub.AutopayDaysBefore)

	// Zero falls back to the configured default.
	sub, err = env.svc.SetAutopay(ctx, user.ID, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.AutopayDaysBefore)

	_, err = env.svc.SetAutopay(ctx, user.ID, true, 15)
	assert.ErrorIs(t, err, domain.ErrAutopayDaysRange)
}

func TestSyncUsage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 1000000)
	env.seedSquad(t, "nl-1", 15000)

	_, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 1, SquadUUIDs: []string{"nl-1"},
	})
	require.NoError(t, err)

	env.panel.usage = 4.25
	sub, err := env.svc.SyncUsage(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.25, sub.TrafficUsedGB)

	stored, err := env.svc.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 4.25, stored.TrafficUsedGB)
}

func TestDisableExpiredTrial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 0)

	sub, err := env.svc.CreateTrial(ctx, user.ID)
	require.NoError(t, err)

	t.Run("still running stays active", func(t *testing.T) {
		require.NoError(t, env.svc.DisableExpiredTrial(ctx, *sub))
		current, err := env.svc.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, current.Status)
	})

	t.Run("past its end date gets disabled", func(t *testing.T) {
		env.clk.Advance(4 * 24 * time.Hour)
		require.NoError(t, env.svc.DisableExpiredTrial(ctx, *sub))

		current, err := env.svc.Get(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusDisabled, current.Status)

		events := env.events(t, user.ID)
		assert.Equal(t, eventsdomain.EventTrialExpired, events[len(events)-1].EventType)
	})
}

func TestPurchase_PanelFailureKeepsCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, 200000)
	env.seedSquad(t, "nl-1", 15000)

	env.panel.err = &panel.Error{Op: "create_user", StatusCode: 502, Permanent: false}

	sub, _, err := env.svc.Purchase(ctx, user.ID, domain.PurchaseConfig{
		PeriodDays: 30, TrafficGB: 10, DeviceLimit: 2, SquadUUIDs: []string{"nl-1"},
	})
	require.NoError(t, err)

	// Money moved and the row committed; panel sync is reconciled later.
	assert.Equal(t, int64(76000), env.balance(t, user.ID))
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.Empty(t, sub.SubscriptionURL)
}
