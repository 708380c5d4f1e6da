package report

const htmlTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body style="font-family: Arial, Helvetica, sans-serif; color: #1f2937;">
<h2 style="margin-bottom: 4px;">{{.Title}}</h2>
<p style="margin-top: 0; color: #6b7280;">{{.Company}} &middot; {{.Schedule}} &middot; {{.GeneratedAt}}</p>
{{- if .Intro}}
<div style="margin: 16px 0;">{{.Intro}}</div>
{{- end}}
{{- if .Filters}}
<p style="color: #6b7280;">{{range $i, $f := .Filters}}{{if $i}} &middot; {{end}}{{$f}}{{end}}</p>
{{- end}}
<table cellpadding="6" style="border-collapse: collapse; margin: 16px 0;">
<tr><td><strong>Total tickets</strong></td><td>{{.Stats.Total}}</td></tr>
<tr><td><strong>Average age</strong></td><td>{{.AvgAge}}</td></tr>
</table>
{{- if .ByStatus}}
<h3>By status</h3>
<table cellpadding="4" style="border-collapse: collapse;">
{{- range .ByStatus}}
<tr><td>{{.Label}}</td><td style="text-align: right;">{{.Count}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .ByCategory}}
<h3>By category</h3>
<table cellpadding="4" style="border-collapse: collapse;">
{{- range .ByCategory}}
<tr><td>{{.Label}}</td><td style="text-align: right;">{{.Count}}</td></tr>
{{- end}}
</table>
{{- end}}
{{- if .Tickets}}
<h3>Tickets</h3>
<table cellpadding="4" border="1" style="border-collapse: collapse; border-color: #e5e7eb;">
<tr><th>Number</th><th>Status</th><th>Category</th><th>Priority</th><th>Assigned to</th><th>Age (days)</th></tr>
{{- range .Tickets}}
<tr><td>{{.TicketNumber}}</td><td>{{.Status}}</td><td>{{.Category}}</td><td>{{.Priority}}</td><td>{{.AssignedTo}}</td><td style="text-align: right;">{{ageDays .}}</td></tr>
{{- end}}
</table>
{{- if .Remaining}}
<p style="color: #6b7280;">and {{.Remaining}} more tickets not shown.</p>
{{- end}}
{{- else}}
<p>No tickets matched this report's filters.</p>
{{- end}}
</body>
</html>
`

const textTemplate = `{{.Title}}
{{.Company}} / {{.Schedule}} / {{.GeneratedAt}}
{{if .IntroText}}
{{.IntroText}}
{{end}}{{range .Filters}}
{{.}}{{end}}

Total tickets: {{.Stats.Total}}
Average age: {{.AvgAge}}
{{if .ByStatus}}
By status:
{{range .ByStatus}}  {{.Label}}: {{.Count}}
{{end}}{{end}}{{if .ByCategory}}
By category:
{{range .ByCategory}}  {{.Label}}: {{.Count}}
{{end}}{{end}}{{if .Tickets}}
Tickets:
{{range .Tickets}}  {{.TicketNumber}}  {{.Status}}  {{.Category}}  {{.AssignedTo}}  {{ageDays .}}d
{{end}}{{if .Remaining}}  and {{.Remaining}} more tickets not shown.
{{end}}{{else}}
No tickets matched this report's filters.
{{end}}`
