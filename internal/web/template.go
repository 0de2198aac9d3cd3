package web

import (
	"fmt"
	"html/template"
	"io"
	"time"
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
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Device}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.count { font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.disabled { color: #888; }
input[type=text] { width: 8em; }
</style>
</head>
<body>
<h1>{{.Device}}</h1>

<h2>Counters</h2>
<table>
<tr><th>Channel</th><th>Pin</th><th>Count</th><th>Set</th><th>Rename</th></tr>
{{range .Channels}}<tr>
<td>{{.Name}}</td>
<td>GPIO{{.Pin}}</td>
<td class="count">{{.Count}}</td>
<td><form method="post" action="/counters/{{.Index}}"><input type="text" name="value" placeholder="{{.Count}}"><input type="submit" value="set"></form></td>
<td><form method="post" action="/names/{{.Index}}"><input type="text" name="name" placeholder="{{.Name}}"><input type="submit" value="rename"></form></td>
</tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
{{if .MQTTEnabled}}<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{else}}<tr><th>MQTT</th><td class="disabled">disabled (config mode)</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}}ms</td></tr>
<tr><th>Save threshold</th><td>{{.Config.SaveThreshold}}</td></tr>
<tr><th>Persist check</th><td>{{.Config.PersistIntervalMs}}ms</td></tr>
<tr><th>Publish period</th><td>{{.Config.PublishPeriodMs}}ms</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.TopicPrefix}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, v View) {
	indexTmpl.Execute(w, v)
}
