package migration

import (
	"github.com/nebulink/vpnbroker/internal/config"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	paymentdomain "github.com/nebulink/vpnbroker/internal/payment/domain"
	promodomain "github.com/nebulink/vpnbroker/internal/promogroup/domain"
	receiptsdomain "github.com/nebulink/vpnbroker/internal/receipts/domain"
	"github.com/nebulink/vpnbroker/internal/seed"
	squaddomain "github.com/nebulink/vpnbroker/internal/squad/domain"
	subdomain "github.com/nebulink/vpnbroker/internal/subscription/domain"
	userdomain "github.com/nebulink/vpnbroker/internal/user/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			if err := conn.AutoMigrate(
				&userdomain.User{},
				&promodomain.PromoGroup{},
				&squaddomain.Squad{},
				&subdomain.Subscription{},
				&subdomain.SubscriptionSquad{},
				&paymentdomain.Transaction{},
				&paymentdomain.Payment{},
				&receiptsdomain.ReceiptItem{},
				&eventsdomain.SubscriptionEvent{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultPromoGroup(conn)
	}),
)
