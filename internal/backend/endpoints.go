package backend

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"decoywatch/pkg/models"
)

// MaxLimit is the largest page the backend accepts; larger limits are
// rejected with 422.
const MaxLimit = 1000

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return min(limit, MaxLimit)
}

// LogQuery selects a page of the backend event log. Zero values fall
// back to the backend defaults.
type LogQuery struct {
	Skip    int
	Limit   int
	DecoyID string
	Hours   int
}

func (q LogQuery) values() url.Values {
	v := url.Values{}
	v.Set("skip", strconv.Itoa(max(q.Skip, 0)))
	v.Set("limit", strconv.Itoa(clampLimit(q.Limit)))
	if q.DecoyID != "" {
		v.Set("decoy_id", q.DecoyID)
	}
	hours := q.Hours
	if hours <= 0 {
		hours = 24
	}
	v.Set("hours", strconv.Itoa(hours))
	return v
}

func page(skip, limit int) url.Values {
	v := url.Values{}
	v.Set("skip", strconv.Itoa(max(skip, 0)))
	v.Set("limit", strconv.Itoa(clampLimit(limit)))
	return v
}

// Honeyfiles

func (c *Client) ListHoneyfiles(ctx context.Context, skip, limit int) ([]models.Honeyfile, error) {
	return get[[]models.Honeyfile](ctx, c, "honeyfiles.list", "/honeyfiles/list", page(skip, limit))
}

func (c *Client) GetHoneyfile(ctx context.Context, decoyID string) (models.Honeyfile, error) {
	return get[models.Honeyfile](ctx, c, "honeyfiles.get", "/honeyfiles/"+url.PathEscape(decoyID), nil)
}

func (c *Client) CreateHoneyfile(ctx context.Context, req models.HoneyfileCreateRequest) (models.Honeyfile, error) {
	if req.SeedLocations == nil {
		req.SeedLocations = []string{}
	}
	return send[models.Honeyfile](ctx, c, "honeyfiles.create", http.MethodPost, "/honeyfiles/create", nil, req)
}

func (c *Client) DeleteHoneyfile(ctx context.Context, id string) error {
	_, err := send[map[string]any](ctx, c, "honeyfiles.delete", http.MethodDelete, "/honeyfiles/"+url.PathEscape(id), nil, nil)
	return err
}

// Events

func (c *Client) EventLogs(ctx context.Context, q LogQuery) ([]models.EventRecord, error) {
	return get[[]models.EventRecord](ctx, c, "events.logs", "/events/logs", q.values())
}

func (c *Client) EventCount(ctx context.Context, decoyID string) (models.EventCount, error) {
	var q url.Values
	if decoyID != "" {
		q = url.Values{"decoy_id": {decoyID}}
	}
	return get[models.EventCount](ctx, c, "events.count", "/events/count", q)
}

// Monitoring

func (c *Client) MonitorStatus(ctx context.Context) (models.EngineStatus, error) {
	return get[models.EngineStatus](ctx, c, "monitor.status", "/monitor/status", nil)
}

// StartMonitoring sends the directories both as the JSON body and as
// repeated query parameters, which is where the backend reads them.
func (c *Client) StartMonitoring(ctx context.Context, directories []string) (models.MonitorResult, error) {
	var q url.Values
	if len(directories) > 0 {
		q = url.Values{"directories": directories}
	}
	body := map[string]any{"directories": directories}
	return send[models.MonitorResult](ctx, c, "monitor.start", http.MethodPost, "/monitor/start", q, body)
}

func (c *Client) StopMonitoring(ctx context.Context) (models.MonitorResult, error) {
	return send[models.MonitorResult](ctx, c, "monitor.stop", http.MethodPost, "/monitor/stop", nil, nil)
}

// Alerts

func (c *Client) AlertSettings(ctx context.Context) (models.AlertSettings, error) {
	return get[models.AlertSettings](ctx, c, "alerts.settings", "/alerts/settings", nil)
}

func (c *Client) UpdateAlertSettings(ctx context.Context, req models.AlertSettingRequest) (models.AlertSetting, error) {
	if req.Config == nil {
		req.Config = map[string]any{}
	}
	return send[models.AlertSetting](ctx, c, "alerts.update", http.MethodPost, "/alerts/settings", nil, req)
}

func (c *Client) TestAlert(ctx context.Context, alertType string) (map[string]any, error) {
	q := url.Values{"alert_type": {alertType}}
	return send[map[string]any](ctx, c, "alerts.test", http.MethodPost, "/alerts/test", q, map[string]any{})
}

// Dashboard

func (c *Client) DashboardStats(ctx context.Context) (models.DashboardStats, error) {
	return get[models.DashboardStats](ctx, c, "dashboard.stats", "/dashboard/stats", nil)
}

func (c *Client) Health(ctx context.Context) (models.Health, error) {
	return get[models.Health](ctx, c, "health", "/health", nil)
}

// File shares

func (c *Client) ListFileShares(ctx context.Context, skip, limit int) ([]models.FileShare, error) {
	return get[[]models.FileShare](ctx, c, "shares.list", "/file-shares/list", page(skip, limit))
}

func (c *Client) CreateFileShare(ctx context.Context, req models.FileShareCreateRequest) (models.FileShare, error) {
	return send[models.FileShare](ctx, c, "shares.create", http.MethodPost, "/file-shares/create", nil, req)
}

func (c *Client) DeleteFileShare(ctx context.Context, id string) error {
	_, err := send[map[string]any](ctx, c, "shares.delete", http.MethodDelete, "/file-shares/"+url.PathEscape(id), nil, nil)
	return err
}

func (c *Client) FileShareAccessLogs(ctx context.Context, id string, limit int) ([]models.ShareAccessLog, error) {
	var q url.Values
	if limit > 0 {
		q = url.Values{"limit": {strconv.Itoa(clampLimit(limit))}}
	}
	return get[[]models.ShareAccessLog](ctx, c, "shares.access_logs", "/file-shares/"+url.PathEscape(id)+"/access-logs", q)
}
