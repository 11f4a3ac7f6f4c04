package app

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Subsystem names an independently failing part of the application.
type Subsystem string

const (
	SubsystemStats  Subsystem = "stats"
	SubsystemEngine Subsystem = "engine"
	SubsystemLogs   Subsystem = "logs"
	SubsystemLink   Subsystem = "link"
	// SubsystemFeed covers inbound live messages dropped as invalid. It
	// recovers with the next valid event.
	SubsystemFeed   Subsystem = "feed"
)

// PartialFailure is returned when some subsystems of a reload failed.
// The others completed and their state is current.
type PartialFailure struct {
	Failed    []Subsystem
	// Attempted is the number of subsystems the reload covered.
	Attempted int
	Err       error
}

// Total reports whether every attempted subsystem failed.
func (p *PartialFailure) Total() bool {
	return p.Attempted > 0 && len(p.Failed) >= p.Attempted
}

func (p *PartialFailure) Error() string {
	names := make([]string, len(p.Failed))
	for i, s := range p.Failed {
		names[i] = string(s)
	}
	return fmt.Sprintf("partial failure (%s): %v", strings.Join(names, ", "), p.Err)
}

func (p *PartialFailure) Unwrap() []error { return multierr.Errors(p.Err) }

// Notice is the latest surfaced error of one subsystem.
type Notice struct {
	Subsystem Subsystem `json:"subsystem"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
	Err       error     `json:"-"`
}
