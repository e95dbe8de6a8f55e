// Package maintenance holds the process-wide maintenance flag. While
// active, mutating traffic is rejected; operators and health probes pass.
package maintenance

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nebulink/vpnbroker/internal/clock"
	"github.com/nebulink/vpnbroker/internal/config"
	eventsdomain "github.com/nebulink/vpnbroker/internal/events/domain"
	"github.com/nebulink/vpnbroker/internal/notify"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// State is a point-in-time view of the flag.
type State struct {
	Active bool      `json:"active"`
	Reason string    `json:"reason,omitempty"`
	Since  time.Time `json:"since,omitempty"`
	SetBy  string    `json:"set_by,omitempty"`
}

type Flag struct {
	mu    sync.RWMutex
	state State

	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	eventsSvc eventsdomain.Service
	bus       *notify.Bus
}

type FlagParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	EventsSvc eventsdomain.Service
	Bus       *notify.Bus
}

func NewFlag(p FlagParam) *Flag {
	return &Flag{
		db:        p.DB,
		log:       p.Log.Named("maintenance"),
		clock:     p.Clock,
		eventsSvc: p.EventsSvc,
		bus:       p.Bus,
	}
}

func (f *Flag) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *Flag) Active() bool {
	return f.State().Active
}

// Set flips the flag. setBy names the actor: an operator chat id or the
// panel health watcher.
func (f *Flag) Set(ctx context.Context, active bool, reason, setBy string) {
	f.mu.Lock()
	changed := f.state.Active != active
	f.state = State{Active: active, Reason: reason, Since: f.clock.Now(), SetBy: setBy}
	f.mu.Unlock()

	if !changed {
		return
	}

	f.log.Warn("maintenance flag toggled",
		zap.Bool("active", active),
		zap.String("reason", reason),
		zap.String("set_by", setBy),
	)
	if err := f.eventsSvc.Append(ctx, f.db, eventsdomain.Append{
		EventType: eventsdomain.EventMaintenanceToggled,
		Extra:     map[string]any{"active": active, "reason": reason, "set_by": setBy},
	}); err != nil {
		f.log.Warn("maintenance event not recorded", zap.Error(err))
	}
	if active {
		f.bus.Admins(ctx, "Maintenance mode ON: "+reason)
	} else {
		f.bus.Admins(ctx, "Maintenance mode OFF")
	}
}

// Middleware rejects mutating calls while maintenance is active. Reads,
// health probes and authenticated admin calls pass through.
func Middleware(flag *Flag, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !flag.Active() || c.Request.Method == http.MethodGet {
			c.Next()
			return
		}
		token := c.GetHeader("X-Admin-Token")
		if cfg.Admin.APIToken != "" && token == cfg.Admin.APIToken {
			c.Next()
			return
		}
		state := flag.State()
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error":  "maintenance_active",
			"reason": state.Reason,
		})
	}
}

var Module = fx.Module("maintenance",
	fx.Provide(NewFlag),
)
