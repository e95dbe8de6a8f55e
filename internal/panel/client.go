package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
	"github.com/nebulink/vpnbroker/internal/config"
	"go.uber.org/zap"
)

type client struct {
	base  string
	token string
	http  *retryablehttp.Client
	log   *zap.Logger
}

// NewClient builds the shared panel HTTP client. Transport errors and 5xx
// responses are retried with backoff up to the configured cap; 4xx are
// returned immediately as permanent errors.
func NewClient(cfg config.Config, log *zap.Logger) Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.Panel.MaxRetries
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.HTTPClient.Timeout = cfg.Panel.Timeout
	rc.Logger = nil

	return &client{
		base:  cfg.Panel.BaseURL,
		token: cfg.Panel.Token,
		http:  rc,
		log:   log.Named("panel.client"),
	}
}

type userPayload struct {
	UUID           string   `json:"uuid,omitempty"`
	TelegramID     int64    `json:"telegramId"`
	ExpireAt       string   `json:"expireAt"`
	TrafficLimitGB int      `json:"trafficLimitGb"`
	HWIDLimit      int      `json:"hwidDeviceLimit"`
	ActiveSquads   []string `json:"activeInternalSquads"`
	Status         string   `json:"status"`
}

type userResponse struct {
	Response struct {
		UUID            string  `json:"uuid"`
		ShortUUID       string  `json:"shortUuid"`
		SubscriptionURL string  `json:"subscriptionUrl"`
		UsedTrafficGB   float64 `json:"usedTrafficGb"`
	} `json:"response"`
}

func specPayload(spec UserSpec) userPayload {
	status := "DISABLED"
	if spec.Enabled {
		status = "ACTIVE"
	}
	return userPayload{
		UUID:           spec.PanelUUID,
		TelegramID:     spec.TelegramID,
		ExpireAt:       spec.ExpireAt.UTC().Format(time.RFC3339),
		TrafficLimitGB: spec.TrafficLimitGB,
		HWIDLimit:      spec.DeviceLimit,
		ActiveSquads:   spec.SquadUUIDs,
		Status:         status,
	}
}

func (c *client) CreateUser(ctx context.Context, spec UserSpec) (RemoteUser, error) {
	var out userResponse
	err := c.do(ctx, http.MethodPost, "/api/users", specPayload(spec), &out)
	if err != nil {
		// The panel answers 409 for an already known telegram id;
		// fall through to an update so the call stays idempotent.
		var perr *Error
		if errors.As(err, &perr) && perr.StatusCode == http.StatusConflict && spec.PanelUUID != "" {
			return c.UpdateUser(ctx, spec)
		}
		return RemoteUser{}, err
	}
	return remoteUser(out), nil
}

func (c *client) UpdateUser(ctx context.Context, spec UserSpec) (RemoteUser, error) {
	if spec.PanelUUID == "" {
		return c.CreateUser(ctx, spec)
	}
	var out userResponse
	err := c.do(ctx, http.MethodPatch, "/api/users/"+url.PathEscape(spec.PanelUUID), specPayload(spec), &out)
	if err != nil {
		return RemoteUser{}, err
	}
	return remoteUser(out), nil
}

func (c *client) DeleteUser(ctx context.Context, panelUUID string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/"+url.PathEscape(panelUUID), nil, nil)
}

func (c *client) ResetTraffic(ctx context.Context, panelUUID string) error {
	path := fmt.Sprintf("/api/users/%s/actions/reset-traffic", url.PathEscape(panelUUID))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *client) GetUsage(ctx context.Context, panelUUID string) (float64, error) {
	var out userResponse
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(panelUUID), nil, &out); err != nil {
		return 0, err
	}
	return out.Response.UsedTrafficGB, nil
}

func (c *client) ListDevices(ctx context.Context, panelUUID string) ([]Device, error) {
	var out struct {
		Response struct {
			Devices []struct {
				HWID     string `json:"hwid"`
				Platform string `json:"platform"`
				Model    string `json:"deviceModel"`
			} `json:"devices"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/hwid/devices/"+url.PathEscape(panelUUID), nil, &out); err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(out.Response.Devices))
	for _, d := range out.Response.Devices {
		devices = append(devices, Device{HWID: d.HWID, Platform: d.Platform, Model: d.Model})
	}
	return devices, nil
}

func (c *client) DeleteDevice(ctx context.Context, panelUUID, hwid string) error {
	body := map[string]string{"userUuid": panelUUID, "hwid": hwid}
	return c.do(ctx, http.MethodPost, "/api/hwid/devices/delete", body, nil)
}

func (c *client) ListSquads(ctx context.Context) ([]RemoteSquad, error) {
	var out struct {
		Response struct {
			Squads []struct {
				UUID        string `json:"uuid"`
				Name        string `json:"name"`
				CountryCode string `json:"countryCode"`
				IsAvailable bool   `json:"isAvailable"`
				IsFull      bool   `json:"isFull"`
			} `json:"internalSquads"`
		} `json:"response"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/internal-squads", nil, &out); err != nil {
		return nil, err
	}
	squads := make([]RemoteSquad, 0, len(out.Response.Squads))
	for _, s := range out.Response.Squads {
		squads = append(squads, RemoteSquad{
			UUID:        s.UUID,
			Name:        s.Name,
			CountryCode: s.CountryCode,
			IsAvailable: s.IsAvailable,
			IsFull:      s.IsFull,
		})
	}
	return squads, nil
}

func (c *client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/system/health", nil, nil)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("panel request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return &Error{Op: method + " " + path, Permanent: false, Body: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Error{Op: method + " " + path, Permanent: false, Body: err.Error()}
	}

	if resp.StatusCode >= 400 {
		perr := &Error{
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(raw), 512),
			Permanent:  resp.StatusCode < 500,
		}
		if perr.Permanent {
			c.log.Error("panel rejected request", zap.String("op", perr.Op), zap.Int("status", perr.StatusCode))
		}
		return perr
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: method + " " + path, StatusCode: resp.StatusCode, Body: "malformed response", Permanent: true}
		}
	}
	return nil
}

func remoteUser(out userResponse) RemoteUser {
	return RemoteUser{
		PanelUUID:       out.Response.UUID,
		ShortUUID:       out.Response.ShortUUID,
		SubscriptionURL: out.Response.SubscriptionURL,
		UsedTrafficGB:   out.Response.UsedTrafficGB,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
