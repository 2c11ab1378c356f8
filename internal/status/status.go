// Package status provides a thread-safe status tracker for the door monitor.
// It is read by HTTP handlers and by the MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/garage-door-monitor/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	SettleMs    int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
	StatusFile  string
	PinOpen     int
	PinClose    int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	State      logic.DoorState
	Token      string
	Reported   bool
	LastChange time.Time

	Color    logic.Color
	HasColor bool

	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	// Temperature in °C; nil when no thermometer is fitted or it failed.
	Temperature *float64
	Config      Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Report records a reported state change.
func (t *Tracker) Report(event logic.Event) {
	t.mu.Lock()
	t.snap.State = event.State
	t.snap.Token = event.Token
	t.snap.Reported = true
	t.snap.LastChange = event.Timestamp
	t.mu.Unlock()
}

// Update sets the newest observed color and the activity counts.
// Called from runLoop on every evaluation.
func (t *Tracker) Update(newest logic.Record, hasColor bool, counts logic.Counts) {
	t.mu.Lock()
	t.snap.Color = newest.Color
	t.snap.HasColor = hasColor
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetTemperature sets the last thermometer reading. nil clears it.
func (t *Tracker) SetTemperature(celsius *float64) {
	t.mu.Lock()
	if celsius == nil {
		t.snap.Temperature = nil
	} else {
		v := *celsius
		t.snap.Temperature = &v
	}
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
