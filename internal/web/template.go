package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/garage-door-monitor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"celsius": func(t *float64) string {
		if t == nil {
			return "n/a"
		}
		return fmt.Sprintf("%.1f °C", *t)
	},
	"doorClass": func(token string) string {
		switch token {
		case "OPEN", "OPENING":
			return "open"
		case "CLOSED", "CLOSING":
			return "closed"
		case "STOPPED":
			return "stopped"
		}
		return "unknown"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Garage Door</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.open { color: green; font-weight: bold; }
.closed { color: #c00; font-weight: bold; }
.stopped { color: orange; font-weight: bold; }
.unknown { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Garage Door</h1>

<h2>State</h2>
<table>
<tr><th>Door</th><td id="door-state" class="{{doorClass .DoorText}}">{{.DoorText}}</td></tr>
<tr><th>Detail</th><td>{{.DetailText}}</td></tr>
<tr><th>LED</th><td>{{.ColorText}}</td></tr>
<tr><th>Last change</th><td>{{if .LastChange.IsZero}}never{{else}}{{.LastChange.UTC.Format "2006-01-02T15:04:05Z"}}{{end}}</td></tr>
<tr><th>Temperature</th><td>{{celsius .Temperature}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Activity</h2>
<table>
<tr><th>Captures</th><td>{{.Counts.Captures}}</td></tr>
<tr><th>Dropped</th><td>{{.Counts.Dropped}}</td></tr>
<tr><th>State changes</th><td>{{.Counts.Changes}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Settle</th><td>{{.Config.SettleMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Pins</th><td>open {{.Config.PinOpen}}, close {{.Config.PinClose}}</td></tr>
<tr><th>Status file</th><td>{{if .Config.StatusFile}}{{.Config.StatusFile}}{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
