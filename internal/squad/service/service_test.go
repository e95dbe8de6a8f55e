package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/panel"
	"github.com/nebulink/vpnbroker/internal/squad/domain"
	"github.com/nebulink/vpnbroker/internal/squad/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type panelStub struct {
	squads []panel.RemoteSquad
	err    error
}

func (p *panelStub) CreateUser(_ context.Context, _ panel.UserSpec) (panel.RemoteUser, error) {
	return panel.RemoteUser{}, nil
}
func (p *panelStub) UpdateUser(_ context.Context, _ panel.UserSpec) (panel.RemoteUser, error) {
	return panel.RemoteUser{}, nil
}
func (p *panelStub) DeleteUser(_ context.Context, _ string) error          { return nil }
func (p *panelStub) ResetTraffic(_ context.Context, _ string) error        { return nil }
func (p *panelStub) GetUsage(_ context.Context, _ string) (float64, error) { return 0, nil }
func (p *panelStub) ListDevices(_ context.Context, _ string) ([]panel.Device, error) {
	return nil, nil
}
func (p *panelStub) DeleteDevice(_ context.Context, _, _ string) error { return nil }
func (p *panelStub) Healthy(_ context.Context) error                   { return nil }

func (p *panelStub) ListSquads(_ context.Context) ([]panel.RemoteSquad, error) {
	return p.squads, p.err
}

func newSquadEnv(t *testing.T) (*gorm.DB, domain.Service, *panelStub, *snowflake.Node) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Squad{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	stub := &panelStub{}
	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zaptest.NewLogger(t),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Panel: stub,
	})
	return conn, svc, stub, node
}

func seedSquad(t *testing.T, db *gorm.DB, node *snowflake.Node, uuid string, available, full bool) {
	t.Helper()
	require.NoError(t, db.Create(&domain.Squad{
		ID:                  node.Generate(),
		SquadUUID:           uuid,
		DisplayName:         uuid,
		CountryCode:         "NL",
		PriceKopeksPerMonth: 15000,
		IsAvailable:         available,
		IsFull:              full,
	}).Error)
}

func TestAvailable_FiltersAndCaches(t *testing.T) {
	db, svc, _, node := newSquadEnv(t)
	ctx := context.Background()

	seedSquad(t, db, node, "nl-1", true, false)
	seedSquad(t, db, node, "de-1", false, false)
	seedSquad(t, db, node, "fr-1", true, true)

	squads, err := svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, squads, 1)
	assert.Equal(t, "nl-1", squads[0].SquadUUID)

	// The menu path hits the cache; a direct DB change is not visible
	// until the cache expires or a refresh invalidates it.
	seedSquad(t, db, node, "us-1", true, false)
	squads, err = svc.Available(ctx)
	require.NoError(t, err)
	assert.Len(t, squads, 1)
}

func TestRefreshFromPanel(t *testing.T) {
	db, svc, stub, node := newSquadEnv(t)
	ctx := context.Background()

	seedSquad(t, db, node, "nl-1", true, false)
	seedSquad(t, db, node, "de-1", false, false)

	_, err := svc.Available(ctx)
	require.NoError(t, err)

	stub.squads = []panel.RemoteSquad{
		{UUID: "nl-1", IsAvailable: true, IsFull: true},
		{UUID: "de-1", IsAvailable: true, IsFull: false},
	}
	require.NoError(t, svc.RefreshFromPanel(ctx))

	// Flags reconciled and the cache dropped.
	squads, err := svc.Available(ctx)
	require.NoError(t, err)
	require.Len(t, squads, 1)
	assert.Equal(t, "de-1", squads[0].SquadUUID)

	var nl domain.Squad
	require.NoError(t, db.Where("squad_uuid = ?", "nl-1").First(&nl).Error)
	assert.True(t, nl.IsFull)
}
