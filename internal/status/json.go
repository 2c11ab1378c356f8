package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Door          string       `json:"door"`
	Detail        string       `json:"detail"`
	Color         string       `json:"color"`
	LastChange    string       `json:"last_change,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Temperature   *float64     `json:"temperature_c,omitempty"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"counts"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of activity counts.
type CountsJSON struct {
	Captures int64 `json:"captures"`
	Dropped  int64 `json:"dropped"`
	Changes  int64 `json:"changes"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	SettleMs    int64  `json:"settle_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
	StatusFile  string `json:"status_file,omitempty"`
	PinOpen     int    `json:"pin_open"`
	PinClose    int    `json:"pin_close"`
}

// DoorText returns the reported token, or UNKNOWN before the first report.
func (s Snapshot) DoorText() string {
	if !s.Reported {
		return "UNKNOWN"
	}
	return s.Token
}

// DetailText returns the internal state name behind the token.
func (s Snapshot) DetailText() string {
	if !s.Reported {
		return "UNKNOWN"
	}
	return s.State.String()
}

// ColorText returns the newest LED color, or UNKNOWN before any capture.
func (s Snapshot) ColorText() string {
	if !s.HasColor {
		return "UNKNOWN"
	}
	return s.Color.String()
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Door:          snap.DoorText(),
		Detail:        snap.DetailText(),
		Color:         snap.ColorText(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Temperature:   snap.Temperature,
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Captures: snap.Counts.Captures,
			Dropped:  snap.Counts.Dropped,
			Changes:  snap.Counts.Changes,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			SettleMs:    snap.Config.SettleMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
			StatusFile:  snap.Config.StatusFile,
			PinOpen:     snap.Config.PinOpen,
			PinClose:    snap.Config.PinClose,
		},
	}
	if !snap.LastChange.IsZero() {
		inner.LastChange = snap.LastChange.UTC().Format(time.RFC3339)
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
