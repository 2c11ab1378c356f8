// Package logic contains pure business logic for door state tracking.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// RetentionHorizon is how long an observation stays relevant. Every flash code
// the door controller produces completes within this horizon.
const RetentionHorizon = 2 * time.Second

// Color is the composite LED color shown by the controller.
type Color int

const (
	ColorOff Color = iota
	ColorRed
	ColorGreen
	ColorOrange
)

func (c Color) String() string {
	switch c {
	case ColorOff:
		return "OFF"
	case ColorRed:
		return "RED"
	case ColorGreen:
		return "GREEN"
	case ColorOrange:
		return "ORANGE"
	}
	return "UNKNOWN"
}

// DoorState is the classified state of the door.
type DoorState int

const (
	StateNoInput DoorState = iota
	StateOpen
	StateOpening
	StateClosed
	StateClosing
	StateError
	// StateIndeterminate means the window could not be resolved yet.
	// It is never reported.
	StateIndeterminate
)

func (s DoorState) String() string {
	switch s {
	case StateNoInput:
		return "NO_INPUT"
	case StateOpen:
		return "OPEN"
	case StateOpening:
		return "OPENING"
	case StateClosed:
		return "CLOSED"
	case StateClosing:
		return "CLOSING"
	case StateError:
		return "ERROR"
	case StateIndeterminate:
		return "INDETERMINATE"
	}
	return "UNKNOWN"
}

// Output tokens written to the console and status file.
const (
	TokenStopped = "STOPPED"
	TokenOpen    = "OPEN"
	TokenOpening = "OPENING"
	TokenClosed  = "CLOSED"
	TokenClosing = "CLOSING"
)

// Token returns the external text for s. ERROR and NO_INPUT share STOPPED.
// INDETERMINATE has no token and returns "".
func (s DoorState) Token() string {
	switch s {
	case StateNoInput, StateError:
		return TokenStopped
	case StateOpen:
		return TokenOpen
	case StateOpening:
		return TokenOpening
	case StateClosed:
		return TokenClosed
	case StateClosing:
		return TokenClosing
	}
	return ""
}

// Record is a single color observation.
type Record struct {
	Time  time.Time
	Color Color
}

// Event represents a reported state change.
type Event struct {
	Timestamp time.Time
	State     DoorState
	// Previous is the last reported state. Meaningless when First is set.
	Previous DoorState
	First    bool
	Token    string
	// Target is where the door was last seen heading, StateOpen or
	// StateClosed. It survives STOPPED reports.
	Target DoorState
}

// Counts tracks capture and report activity since startup.
type Counts struct {
	Captures int64
	Dropped  int64
	Changes  int64
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
