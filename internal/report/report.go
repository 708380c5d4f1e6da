// Package report renders ticket reports into email subjects and bodies.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/ticketdesk/reportd/internal/tickets"
)

// Type is the report flavour chosen on the schedule.
type Type string

const (
	TypeDaily   Type = "daily"
	TypeWeekly  Type = "weekly"
	TypeMonthly Type = "monthly"
	TypeCustom  Type = "custom"
)

// Types lists the accepted report types.
var Types = []Type{TypeDaily, TypeWeekly, TypeMonthly, TypeCustom}

// Title returns the human label used in default subjects and headings.
func (t Type) Title() string {
	switch t {
	case TypeDaily:
		return "Daily Ticket Report"
	case TypeWeekly:
		return "Weekly Ticket Report"
	case TypeMonthly:
		return "Monthly Ticket Report"
	default:
		return "Ticket Report"
	}
}

// maxRows caps the ticket table; the remainder is summarised.
const maxRows = 100

// Request carries everything needed to render one report.
type Request struct {
	ScheduleName    string
	CompanyID       int64
	CompanyName     string
	Type            Type
	Filters         tickets.Filters
	SubjectOverride string
	BodyOverride    string
	GeneratedAt     time.Time
	Location        *time.Location
}

// Stats summarises the tickets in a report.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByCategory map[string]int `json:"by_category"`
	AvgAgeDays *float64       `json:"avg_age_days"`
}

// Rendered is a report ready to be mailed.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
	Stats   Stats
}

// Count is one row of a breakdown table.
type Count struct {
	Label string
	Count int
}

type view struct {
	Title       string
	Schedule    string
	Company     string
	GeneratedAt string
	Filters     []string
	Intro       template.HTML
	IntroText   string
	Stats       Stats
	AvgAge      string
	ByStatus    []Count
	ByCategory  []Count
	Tickets     []tickets.Ticket
	Remaining   int
}

// Renderer turns tickets into report emails.
type Renderer struct {
	html *template.Template
	text *texttemplate.Template
}

// NewRenderer parses the built-in templates.
func NewRenderer() (*Renderer, error) {
	funcs := map[string]any{
		"ageDays": func(t tickets.Ticket) string { return fmt.Sprintf("%.1f", t.AgeDays()) },
	}

	h, err := template.New("report.html").Funcs(funcs).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}
	txt, err := texttemplate.New("report.txt").Funcs(funcs).Parse(textTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}

	return &Renderer{html: h, text: txt}, nil
}

// Render builds the subject and bodies for req from list.
func (r *Renderer) Render(req Request, list []tickets.Ticket) (*Rendered, error) {
	loc := req.Location
	if loc == nil {
		loc = time.UTC
	}
	generated := req.GeneratedAt.In(loc)

	stats := Summarize(list)
	v := view{
		Title:       req.Type.Title(),
		Schedule:    req.ScheduleName,
		Company:     companyLabel(req),
		GeneratedAt: generated.Format("Mon, 02 Jan 2006 15:04 MST"),
		Filters:     describeFilters(req.Filters),
		Stats:       stats,
		AvgAge:      "n/a",
		ByStatus:    sortedCounts(stats.ByStatus),
		ByCategory:  sortedCounts(stats.ByCategory),
		Tickets:     list,
	}
	if stats.AvgAgeDays != nil {
		v.AvgAge = fmt.Sprintf("%.1f days", *stats.AvgAgeDays)
	}
	if len(list) > maxRows {
		v.Tickets = list[:maxRows]
		v.Remaining = len(list) - maxRows
	}
	if req.BodyOverride != "" {
		clean := SanitizeBody(req.BodyOverride)
		v.Intro = template.HTML(clean)
		v.IntroText = PlainText(clean)
	}

	var htmlBuf, textBuf bytes.Buffer
	if err := r.html.Execute(&htmlBuf, v); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}
	if err := r.text.Execute(&textBuf, v); err != nil {
		return nil, fmt.Errorf("rendering text body: %w", err)
	}

	return &Rendered{
		Subject: Subject(req, generated),
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
		Stats:   stats,
	}, nil
}

// Subject returns the override with placeholders expanded, or a default
// subject derived from the report type.
func Subject(req Request, at time.Time) string {
	date := at.Format("2006-01-02")
	company := companyLabel(req)

	if req.SubjectOverride != "" {
		return strings.NewReplacer(
			"{date}", date,
			"{company}", company,
			"{schedule}", req.ScheduleName,
		).Replace(req.SubjectOverride)
	}
	return fmt.Sprintf("%s - %s - %s", req.Type.Title(), company, date)
}

// Summarize computes ticket totals and breakdowns.
func Summarize(list []tickets.Ticket) Stats {
	stats := Stats{
		Total:      len(list),
		ByStatus:   map[string]int{},
		ByCategory: map[string]int{},
	}

	var ageSum float64
	for _, t := range list {
		stats.ByStatus[labelOr(t.Status, "unknown")]++
		stats.ByCategory[labelOr(t.Category, "uncategorized")]++
		ageSum += t.AgeDays()
	}
	if len(list) > 0 {
		avg := ageSum / float64(len(list))
		stats.AvgAgeDays = &avg
	}
	return stats
}

func companyLabel(req Request) string {
	if req.CompanyName != "" {
		return req.CompanyName
	}
	return fmt.Sprintf("Company #%d", req.CompanyID)
}

func describeFilters(f tickets.Filters) []string {
	var out []string
	if f.Status != "" {
		out = append(out, "Status: "+f.Status)
	}
	if f.Category != "" {
		out = append(out, "Category: "+f.Category)
	}
	if f.DateRangeDays > 0 {
		out = append(out, fmt.Sprintf("Created in the last %d days", f.DateRangeDays))
	}
	if f.Expression != "" {
		out = append(out, "Matching: "+f.Expression)
	}
	return out
}

func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
