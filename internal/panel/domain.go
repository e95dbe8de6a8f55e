// Package panel is the typed client for the upstream VPN control plane.
// It exposes intent-level operations, not raw HTTP calls; the panel stays
// authoritative for remote identity, devices and traffic counters.
package panel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransient marks transport failures and 5xx responses that
	// survived the bounded retry. Callers treat it as "reconcile later",
	// never as a commit abort.
	ErrTransient = errors.New("panel_transient")
	// ErrPermanent marks 4xx responses: a bug or stale state. Logged
	// loudly and surfaced to admins.
	ErrPermanent = errors.New("panel_permanent")
)

// Error wraps a failed panel response.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Permanent  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("panel %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Is(target error) bool {
	if e.Permanent {
		return target == ErrPermanent
	}
	return target == ErrTransient
}

// UserSpec is the broker's snapshot pushed to the panel.
type UserSpec struct {
	PanelUUID      string
	TelegramID     int64
	ExpireAt       time.Time
	TrafficLimitGB int
	DeviceLimit    int
	SquadUUIDs     []string
	Enabled        bool
}

// RemoteUser is the panel's view returned after create/update.
type RemoteUser struct {
	PanelUUID       string
	ShortUUID       string
	SubscriptionURL string
	UsedTrafficGB   float64
}

// Device is one registered hardware entry.
type Device struct {
	HWID     string
	Platform string
	Model    string
}

// RemoteSquad is a selectable exit group as the panel reports it.
type RemoteSquad struct {
	UUID        string
	Name        string
	CountryCode string
	IsAvailable bool
	IsFull      bool
}

// Client is the intent-level panel surface consumed by the broker.
type Client interface {
	// CreateUser registers the subscription snapshot remotely. If the
	// user already exists it falls through to an update.
	CreateUser(ctx context.Context, spec UserSpec) (RemoteUser, error)
	UpdateUser(ctx context.Context, spec UserSpec) (RemoteUser, error)
	DeleteUser(ctx context.Context, panelUUID string) error
	ResetTraffic(ctx context.Context, panelUUID string) error
	GetUsage(ctx context.Context, panelUUID string) (float64, error)
	ListDevices(ctx context.Context, panelUUID string) ([]Device, error)
	DeleteDevice(ctx context.Context, panelUUID, hwid string) error
	ListSquads(ctx context.Context) ([]RemoteSquad, error)
	Healthy(ctx context.Context) error
}
