package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nebulink/vpnbroker/internal/cache"
	"github.com/nebulink/vpnbroker/internal/checkout"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	"github.com/nebulink/vpnbroker/internal/events"
	"github.com/nebulink/vpnbroker/internal/logger"
	"github.com/nebulink/vpnbroker/internal/maintenance"
	"github.com/nebulink/vpnbroker/internal/migration"
	"github.com/nebulink/vpnbroker/internal/notify"
	"github.com/nebulink/vpnbroker/internal/panel"
	"github.com/nebulink/vpnbroker/internal/payment"
	"github.com/nebulink/vpnbroker/internal/pricing"
	"github.com/nebulink/vpnbroker/internal/promogroup"
	"github.com/nebulink/vpnbroker/internal/receipts"
	"github.com/nebulink/vpnbroker/internal/scheduler"
	"github.com/nebulink/vpnbroker/internal/server"
	"github.com/nebulink/vpnbroker/internal/squad"
	"github.com/nebulink/vpnbroker/internal/subscription"
	"github.com/nebulink/vpnbroker/internal/user"
	"github.com/nebulink/vpnbroker/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		cache.Module,
		clock.Module,
		migration.Module,

		// Domains
		pricing.Module,
		panel.Module,
		notify.Module,
		maintenance.Module,
		user.Module,
		promogroup.Module,
		squad.Module,
		events.Module,
		receipts.Module,
		payment.Module,
		subscription.Module,
		checkout.Module,

		// Background fleet and HTTP surface
		scheduler.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
