// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/garage-door-monitor/internal/logic"
)

// Topic is the MQTT topic for door state changes. Messages are retained so
// a new subscriber learns the current state immediately.
const Topic = "home/garage/door/state"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "home/garage/door/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a door state change to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Door DoorPayload `json:"door"`
}

// DoorPayload contains the door event details.
type DoorPayload struct {
	Timestamp string `json:"timestamp"`
	// State is the token also written to the console and status file.
	State string `json:"state"`
	// Detail is the classified state, which tells ERROR from NO_INPUT.
	Detail   string       `json:"detail"`
	Previous string       `json:"previous,omitempty"`
	HomeKit  HomeKitState `json:"homekit"`
}

// HomeKitState is the door expressed as HomeKit GarageDoorOpener
// characteristics.
type HomeKitState struct {
	Current     int  `json:"current"`
	Target      int  `json:"target"`
	Obstruction bool `json:"obstruction"`
}

// HomeKit CurrentDoorState values. TargetDoorState uses the first two.
const (
	HomeKitOpen    = 0
	HomeKitClosed  = 1
	HomeKitOpening = 2
	HomeKitClosing = 3
	HomeKitStopped = 4
)

// HomeKitFor maps a reported event to HomeKit characteristics. The target
// comes from the event, so a stopped door keeps the target it was heading
// for; without one the door is assumed closed.
func HomeKitFor(event logic.Event) HomeKitState {
	target := HomeKitClosed
	if event.Target == logic.StateOpen {
		target = HomeKitOpen
	}

	switch event.Token {
	case logic.TokenOpen:
		return HomeKitState{Current: HomeKitOpen, Target: target}
	case logic.TokenClosed:
		return HomeKitState{Current: HomeKitClosed, Target: target}
	case logic.TokenOpening:
		return HomeKitState{Current: HomeKitOpening, Target: target}
	case logic.TokenClosing:
		return HomeKitState{Current: HomeKitClosing, Target: target}
	}
	return HomeKitState{Current: HomeKitStopped, Target: target, Obstruction: true}
}

// FormatPayload creates the JSON payload for a door event.
func FormatPayload(event logic.Event) ([]byte, error) {
	door := DoorPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		State:     event.Token,
		Detail:    event.State.String(),
		HomeKit:   HomeKitFor(event),
	}
	if !event.First {
		door.Previous = event.Previous.String()
	}
	return json.Marshal(Payload{Door: door})
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (last will, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
