package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"rfc3339", "2024-11-17T10:30:00Z", time.Date(2024, 11, 17, 10, 30, 0, 0, time.UTC)},
		{"rfc3339 offset", "2024-11-17T12:30:00+02:00", time.Date(2024, 11, 17, 10, 30, 0, 0, time.UTC)},
		{"naive", "2024-11-17T10:30:00", time.Date(2024, 11, 17, 10, 30, 0, 0, time.UTC)},
		{"naive micros", "2024-11-17T10:30:00.123456", time.Date(2024, 11, 17, 10, 30, 0, 123456000, time.UTC)},
		{"space separated", "2024-11-17 10:30:00", time.Date(2024, 11, 17, 10, 30, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Time), "got %v want %v", got.Time, tt.want)
		})
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTimestamp_JSONNull(t *testing.T) {
	var payload struct {
		At Timestamp `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":null}`), &payload))
	assert.True(t, payload.At.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":null}`, string(out))
}

func TestEventRecord_DecodeBackendPayload(t *testing.T) {
	raw := `{
		"event_type": "open",
		"timestamp": "2024-11-17T00:00:00.5",
		"decoy_id": "DECOY_abc",
		"username": "alice",
		"hostname": "ws-01",
		"internal_ip": null,
		"process_name": "explorer.exe",
		"process_command": "explorer.exe /select",
		"accessed_path": "/srv/share/passwords.docx",
		"file_size": 1024
	}`

	var rec EventRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))

	assert.Equal(t, EventOpen, rec.EventType)
	assert.Equal(t, "DECOY_abc", rec.DecoyID)
	assert.Empty(t, rec.ID)
	assert.Empty(t, rec.InternalIP)
	assert.Equal(t, "explorer.exe /select", rec.ProcessCommand)
	assert.NoError(t, rec.Validate())
}

func TestEventRecord_Validate(t *testing.T) {
	rec := EventRecord{EventType: "read"}
	err := rec.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown event_type "read"`)
	assert.Contains(t, err.Error(), "missing decoy_id")
	assert.Contains(t, err.Error(), "missing accessed_path")
	assert.Contains(t, err.Error(), "missing timestamp")
}

func TestStatsSnapshot_Clone(t *testing.T) {
	started := NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	orig := StatsSnapshot{
		DashboardStats: DashboardStats{TotalEvents: 3},
		Engine:         EngineStatus{StartedAt: &started, WatchedDirectories: []string{"/srv"}},
	}

	clone := orig.Clone()
	clone.Engine.WatchedDirectories[0] = "/tmp"
	clone.Engine.StartedAt.Time = time.Time{}

	assert.Equal(t, "/srv", orig.Engine.WatchedDirectories[0])
	assert.False(t, orig.Engine.StartedAt.IsZero())
}

func TestStatsSnapshot_FlattensDashboardFields(t *testing.T) {
	snap := StatsSnapshot{DashboardStats: DashboardStats{TotalHoneyfiles: 2, MonitoringStatus: true}}
	out, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(2), decoded["total_honeyfiles"])
	assert.Equal(t, true, decoded["monitoring_status"])
	assert.Contains(t, decoded, "engine_status")
}
