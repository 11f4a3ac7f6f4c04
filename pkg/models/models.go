package models

import (
	"errors"
	"fmt"
	"strings"
)

type EventType string

const (
	EventModified EventType = "modified"
	EventAccessed EventType = "accessed"
	EventMoved    EventType = "moved"
	EventCreated  EventType = "created"
	EventOpen     EventType = "open"
	EventExecute  EventType = "execute"
)

var eventTypes = []EventType{EventModified, EventAccessed, EventMoved, EventCreated, EventOpen, EventExecute}

func EventTypes() []EventType {
	out := make([]EventType, len(eventTypes))
	copy(out, eventTypes)
	return out
}

func (t EventType) Valid() bool {
	for _, known := range eventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EventRecord is one observed interaction with a decoy file. Optional
// fields are empty strings when the backend did not report them.
type EventRecord struct {
	ID             string    `json:"id,omitempty"`
	EventType      EventType `json:"event_type"`
	DecoyID        string    `json:"decoy_id"`
	Username       string    `json:"username"`
	Hostname       string    `json:"hostname"`
	ProcessName    string    `json:"process_name"`
	ProcessCommand string    `json:"process_command,omitempty"`
	AccessedPath   string    `json:"accessed_path"`
	InternalIP     string    `json:"internal_ip,omitempty"`
	MACAddress     string    `json:"mac_address,omitempty"`
	FileHash       string    `json:"file_hash,omitempty"`
	Timestamp      Timestamp `json:"timestamp"`
}

// Validate reports every reason the record cannot be ingested.
func (e EventRecord) Validate() error {
	var problems []string
	if !e.EventType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown event_type %q", e.EventType))
	}
	if strings.TrimSpace(e.DecoyID) == "" {
		problems = append(problems, "missing decoy_id")
	}
	if strings.TrimSpace(e.AccessedPath) == "" {
		problems = append(problems, "missing accessed_path")
	}
	if e.Timestamp.IsZero() {
		problems = append(problems, "missing timestamp")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}

type DashboardStats struct {
	TotalHoneyfiles  int  `json:"total_honeyfiles"`
	TotalEvents      int  `json:"total_events"`
	AlertsToday      int  `json:"alerts_today"`
	EventsLastHour   int  `json:"events_last_hour"`
	MonitoringStatus bool `json:"monitoring_status"`
}

type EngineStatus struct {
	Running            bool       `json:"is_running"`
	StartedAt          *Timestamp `json:"started_at,omitempty"`
	LastHeartbeat      *Timestamp `json:"last_heartbeat,omitempty"`
	TotalEvents        int        `json:"total_events"`
	ErrorCount         int        `json:"error_count"`
	WatchedDirectories []string   `json:"watched_directories,omitempty"`
}

// StatsSnapshot is the aggregate view: dashboard counters plus the
// monitoring engine status.
type StatsSnapshot struct {
	DashboardStats
	Engine EngineStatus `json:"engine_status"`
}

// Clone returns a copy that shares no mutable memory with s.
func (s StatsSnapshot) Clone() StatsSnapshot {
	out := s
	if s.Engine.WatchedDirectories != nil {
		out.Engine.WatchedDirectories = append([]string(nil), s.Engine.WatchedDirectories...)
	}
	if s.Engine.StartedAt != nil {
		t := *s.Engine.StartedAt
		out.Engine.StartedAt = &t
	}
	if s.Engine.LastHeartbeat != nil {
		t := *s.Engine.LastHeartbeat
		out.Engine.LastHeartbeat = &t
	}
	return out
}

type Honeyfile struct {
	ID            string    `json:"id"`
	DecoyID       string    `json:"decoy_id"`
	FileName      string    `json:"file_name"`
	FileType      string    `json:"file_type"`
	TemplateType  string    `json:"template_type"`
	CreatedAt     Timestamp `json:"created_at"`
	ExpectedHash  string    `json:"expected_hash"`
	SeedLocations []string  `json:"seed_locations,omitempty"`
	FilePath      string    `json:"file_path,omitempty"`
}

type HoneyfileCreateRequest struct {
	FileName      string   `json:"file_name"`
	FileType      string   `json:"file_type"`
	TemplateType  string   `json:"template_type"`
	SeedLocations []string `json:"seed_locations"`
}

type EventCount struct {
	Count  int    `json:"count"`
	Period string `json:"period"`
}

type MonitorResult struct {
	Status               string     `json:"status"`
	Message              string     `json:"message,omitempty"`
	Timestamp            *Timestamp `json:"timestamp,omitempty"`
	HoneyfilesRegistered int        `json:"honeyfiles_registered,omitempty"`
}

type AlertSettingRequest struct {
	AlertType string         `json:"alert_type"`
	Enabled   bool           `json:"enabled"`
	Config    map[string]any `json:"config"`
}

// AlertSettings is keyed by alert type (slack, email).
type AlertSettings map[string]AlertSetting

type AlertSetting struct {
	ID        string         `json:"id,omitempty"`
	AlertType string         `json:"alert_type,omitempty"`
	Enabled   bool           `json:"enabled"`
	Config    map[string]any `json:"config,omitempty"`
}

type FileShare struct {
	ID               string     `json:"id"`
	ShareName        string     `json:"share_name"`
	SharePath        string     `json:"share_path"`
	Description      string     `json:"description,omitempty"`
	IsSensitive      bool       `json:"is_sensitive"`
	SharedWithUsers  []string   `json:"shared_with_users"`
	SharedWithGroups []string   `json:"shared_with_groups"`
	AccessCount      int        `json:"access_count"`
	LastAccessed     *Timestamp `json:"last_accessed,omitempty"`
	CreatedAt        Timestamp  `json:"created_at"`
	IsActive         bool       `json:"is_active"`
}

type FileShareCreateRequest struct {
	ShareName        string   `json:"share_name"`
	SharePath        string   `json:"share_path"`
	Description      string   `json:"description,omitempty"`
	IsSensitive      bool     `json:"is_sensitive"`
	SharedWithUsers  []string `json:"shared_with_users,omitempty"`
	SharedWithGroups []string `json:"shared_with_groups,omitempty"`
}

type ShareAccessLog struct {
	ID           string    `json:"id"`
	ShareID      string    `json:"share_id"`
	Username     string    `json:"username"`
	Hostname     string    `json:"hostname"`
	IPAddress    string    `json:"ip_address"`
	AccessType   string    `json:"access_type"`
	AccessedAt   Timestamp `json:"accessed_at"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ProcessName  string    `json:"process_name,omitempty"`
}

type Health struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}
