package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decoywatch/internal/retry"
	"decoywatch/pkg/models"
)

func fastPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.BaseDelay = time.Millisecond
	return p
}

func newTestClient(url string) *Client {
	return New(url, WithRetryPolicy(fastPolicy()))
}

func TestNew_Defaults(t *testing.T) {
	c := New("")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, 30*time.Second, c.client.Timeout)
	assert.Nil(t, c.limiter)

	c = New("http://backend:8000/api/", WithRateLimit(5, 0))
	assert.Equal(t, "http://backend:8000/api", c.BaseURL())
	require.NotNil(t, c.limiter)
	assert.Equal(t, 1, c.limiter.Burst())
}

func TestEventStreamURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://127.0.0.1:8000/api", "ws://127.0.0.1:8000/api/ws/events"},
		{"https://decoy.example.com/api/", "wss://decoy.example.com/api/ws/events"},
		{"http://localhost:8000", "ws://localhost:8000/ws/events"},
	}
	for _, tt := range tests {
		got, err := New(tt.base).EventStreamURL()
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := New("ftp://example.com").EventStreamURL()
	assert.Error(t, err)
}

func TestEventLogs_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/events/logs", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "0", r.URL.Query().Get("skip"))
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		assert.Equal(t, "DECOY_1", r.URL.Query().Get("decoy_id"))
		assert.Equal(t, "48", r.URL.Query().Get("hours"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"e2","decoy_id":"DECOY_1","event_type":"open","timestamp":"2024-11-17T10:00:01","accessed_path":"/a","username":"bob","hostname":"h"},
			{"id":"e1","decoy_id":"DECOY_1","event_type":"modified","timestamp":"2024-11-17T10:00:00","accessed_path":"/a","username":"bob","hostname":"h"}
		]`))
	}))
	defer server.Close()

	c := newTestClient(server.URL + "/api")
	events, err := c.EventLogs(context.Background(), LogQuery{Limit: 200, DecoyID: "DECOY_1", Hours: 48})

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e2", events[0].ID)
	assert.Equal(t, models.EventModified, events[1].EventType)
}

func TestLogQuery_Defaults(t *testing.T) {
	v := LogQuery{}.values()
	assert.Equal(t, "0", v.Get("skip"))
	assert.Equal(t, "100", v.Get("limit"))
	assert.Equal(t, "24", v.Get("hours"))
	assert.False(t, v.Has("decoy_id"))
}

func TestLimitsClampedToBackendMaximum(t *testing.T) {
	assert.Equal(t, "1000", LogQuery{Limit: 5000}.values().Get("limit"))
	assert.Equal(t, "1000", page(0, 1001).Get("limit"))
	assert.Equal(t, "1000", page(0, 1000).Get("limit"))
	assert.Equal(t, "100", page(0, 0).Get("limit"))
}

func TestDashboardStats_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "db locked", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(models.DashboardStats{TotalHoneyfiles: 4, TotalEvents: 12, MonitoringStatus: true})
	}))
	defer server.Close()

	stats, err := newTestClient(server.URL).DashboardStats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 4, stats.TotalHoneyfiles)
	assert.True(t, stats.MonitoringStatus)
}

func TestDashboardStats_Exhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).DashboardStats(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrFetchExhausted)
	assert.Equal(t, int32(3), calls.Load())

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestGetHoneyfile_NotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/honeyfiles/DECOY%2F1", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Honeyfile not found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetHoneyfile(context.Background(), "DECOY/1")

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.NotErrorIs(t, err, retry.ErrFetchExhausted)
	assert.Contains(t, err.Error(), "Honeyfile not found")
}

func TestWrites_AreNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := newTestClient(server.URL)
	_, err := c.CreateHoneyfile(context.Background(), models.HoneyfileCreateRequest{FileName: "salaries", FileType: "xlsx", TemplateType: "salaries"})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Contains(t, err.Error(), "honeyfiles.create")
}

func TestCreateHoneyfile_SendsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/honeyfiles/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "passwords", body["file_name"])
		assert.Equal(t, []any{}, body["seed_locations"])

		json.NewEncoder(w).Encode(map[string]any{
			"id": "hf-1", "decoy_id": "DECOY_9", "file_name": "passwords", "file_type": "docx",
			"template_type": "passwords", "created_at": "2024-11-17T00:00:00", "expected_hash": "abc",
		})
	}))
	defer server.Close()

	hf, err := newTestClient(server.URL).CreateHoneyfile(context.Background(),
		models.HoneyfileCreateRequest{FileName: "passwords", FileType: "docx", TemplateType: "passwords"})

	require.NoError(t, err)
	assert.Equal(t, "DECOY_9", hf.DecoyID)
	assert.False(t, hf.CreatedAt.IsZero())
}

func TestStartMonitoring_SendsDirectories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, []string{"/srv/a", "/srv/b"}, r.URL.Query()["directories"])

		var body struct {
			Directories []string `json:"directories"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []string{"/srv/a", "/srv/b"}, body.Directories)

		w.Write([]byte(`{"status":"started","honeyfiles_registered":3}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).StartMonitoring(context.Background(), []string{"/srv/a", "/srv/b"})

	require.NoError(t, err)
	assert.Equal(t, "started", res.Status)
	assert.Equal(t, 3, res.HoneyfilesRegistered)
}

func TestDeleteFileShare_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/file-shares/share-1", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	assert.NoError(t, newTestClient(server.URL).DeleteFileShare(context.Background(), "share-1"))
}

func TestTestAlert_QueryParam(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "slack", r.URL.Query().Get("alert_type"))
		w.Write([]byte(`{"test_sent":{"slack":true}}`))
	}))
	defer server.Close()

	res, err := newTestClient(server.URL).TestAlert(context.Background(), "slack")
	require.NoError(t, err)
	assert.Contains(t, res, "test_sent")
}

func TestAlertSettings_Decodes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"slack":{"id":"1","enabled":true,"config":{"webhook_url":"https://hooks"}},"email":{"id":"2","enabled":false,"config":{}}}`))
	}))
	defer server.Close()

	settings, err := newTestClient(server.URL).AlertSettings(context.Background())
	require.NoError(t, err)
	assert.True(t, settings["slack"].Enabled)
	assert.Equal(t, "https://hooks", settings["slack"].Config["webhook_url"])
	assert.False(t, settings["email"].Enabled)
}

func TestStatusError_Temporary(t *testing.T) {
	assert.True(t, (&StatusError{StatusCode: 502}).Temporary())
	assert.True(t, (&StatusError{StatusCode: 429}).Temporary())
	assert.False(t, (&StatusError{StatusCode: 400}).Temporary())
	assert.Equal(t, "GET /x: 404 Not Found", (&StatusError{Method: "GET", Path: "/x", StatusCode: 404}).Error())
}
