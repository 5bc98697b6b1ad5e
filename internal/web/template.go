package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/pulseox-sensor/internal/status"
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
	"levelOrUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"hex": func(b byte) string { return fmt.Sprintf("0x%02X", b) },
	"clock": func(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05Z") },
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Pulse Oximeter</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.pending { color: orange; }
.err { color: red; }
.muted { color: #888; }
</style>
</head>
<body>
<h1>Pulse Oximeter</h1>

<h2>Measurement</h2>
<table>
<tr><th>Running</th><td>{{if .Measuring}}yes{{else}}no{{end}}</td></tr>
<tr><th>Runs</th><td>{{.Runs}}</td></tr>
{{with .Last}}{{if .Valid}}<tr><th>Heart rate</th><td class="ok">{{.Reading.HeartRate}} bpm</td></tr>
<tr><th>SpO2</th><td class="ok">{{printf "%.2f" .Reading.SpO2}}%</td></tr>
<tr><th>Valid buffers</th><td>{{.Reading.Samples}}</td></tr>{{else}}<tr><th>Last run</th><td class="muted">no valid reading</td></tr>{{end}}
<tr><th>At</th><td>{{clock .At}}</td></tr>{{else}}<tr><th>Last run</th><td class="muted">none</td></tr>{{end}}
</table>

<h2>Sensor</h2>
<table>
{{if .SensorOK}}<tr><th>MAX30102</th><td class="ok">revision {{hex .SensorRevision}}, part {{hex .SensorPartID}}</td></tr>{{else}}<tr><th>MAX30102</th><td class="err">not detected</td></tr>{{end}}
<tr><th>Bus</th><td>{{.Config.I2CBus}}</td></tr>
</table>

<h2>Cloud</h2>
<table>
<tr><th>State</th><td class="{{if eq .Cloud.String "AUTHENTICATED"}}ok{{else if eq .Cloud.String "PROVISIONING"}}pending{{else}}err{{end}}">{{.Cloud}}</td></tr>
<tr><th>Scope</th><td>{{.Config.ScopeID}}</td></tr>
<tr><th>Poll period</th><td>{{.Period}}</td></tr>
<tr><th>Telemetry sent</th><td>{{.TelemetrySent}}</td></tr>
{{with .LastTelemetry}}<tr><th>Last telemetry</th><td>{{.Key}} = {{.Value}} ({{clock .At}})</td></tr>{{end}}
<tr><th>Status LED</th><td>{{if .LED}}on{{else}}off{{end}}</td></tr>
<tr><th>nprId</th><td>{{if .NprID}}{{.NprID}}{{else}}<span class="muted">unset</span>{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Buttons</h2>
<table>
<tr><th>A (heartbeat)</th><td>{{levelOrUnknown (printf "%s" .A)}}, {{.Counts.A}} presses</td></tr>
<tr><th>B (measure)</th><td>{{levelOrUnknown (printf "%s" .B)}}, {{.Counts.B}} presses</td></tr>
<tr><th>Ready</th><td>{{if .Baselined}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{clock .StartTime}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Run time</th><td>{{.Config.RunTimeMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
