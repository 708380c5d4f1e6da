package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticketdesk/reportd/internal/config"
	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/mailer"
	"github.com/ticketdesk/reportd/internal/scheduler"
	"github.com/ticketdesk/reportd/internal/tickets"
)

type stubTickets struct{}

func (stubTickets) Query(_ context.Context, companyID int64, _ tickets.Filters) ([]tickets.Ticket, error) {
	return []tickets.Ticket{{ID: 1, CompanyID: companyID, TicketNumber: "T-1", Status: "open"}}, nil
}

func (stubTickets) CompanyName(_ context.Context, id int64) (string, error) {
	if id != 42 {
		return "", errors.New("unknown company")
	}
	return "Acme Corp", nil
}

type nopMailer struct{}

func (nopMailer) Send(context.Context, *mailer.Message) error { return nil }

func testApp(t *testing.T) *app {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "reportd.db")
	cfg.Archive.Type = "filesystem"
	cfg.Archive.Path = t.TempDir()

	a, err := buildApp(context.Background(), cfg, appDeps{tickets: stubTickets{}, mailer: nopMailer{}})
	if err != nil {
		t.Fatalf("buildApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{input: "30d", expected: 30 * 24 * time.Hour},
		{input: "2w", expected: 14 * 24 * time.Hour},
		{input: "36h", expected: 36 * time.Hour},
		{input: "90m", expected: 90 * time.Minute},
		{input: "  7D ", expected: 7 * 24 * time.Hour},
		{input: "", wantErr: true},
		{input: "abc", wantErr: true},
		{input: "xd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseAge(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseAge(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAge(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("parseAge(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestPrintUpcoming(t *testing.T) {
	from := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	t.Run("utc", func(t *testing.T) {
		var buf bytes.Buffer
		def := scheduler.Definition{Kind: scheduler.KindCron, CronExpression: "0 9 * * *", Timezone: "UTC"}
		if err := printUpcoming(&buf, def, from, 2); err != nil {
			t.Fatalf("printUpcoming() error = %v", err)
		}

		want := "Every day at 9:00 AM\n\n 1. 2024-01-16T09:00:00Z\n 2. 2024-01-17T09:00:00Z\n"
		if buf.String() != want {
			t.Errorf("output = %q, want %q", buf.String(), want)
		}
	})

	t.Run("timezone", func(t *testing.T) {
		var buf bytes.Buffer
		def := scheduler.Definition{Kind: scheduler.KindCron, CronExpression: "daily_9am", Timezone: "America/New_York"}
		if err := printUpcoming(&buf, def, from, 1); err != nil {
			t.Fatalf("printUpcoming() error = %v", err)
		}

		out := buf.String()
		if !strings.Contains(out, "(America/New_York)") {
			t.Errorf("expected timezone in description, got %q", out)
		}
		if !strings.Contains(out, "2024-01-15T14:00:00Z  (Mon 2024-01-15 09:00 EST)") {
			t.Errorf("expected local time column, got %q", out)
		}
	})

	t.Run("interval", func(t *testing.T) {
		var buf bytes.Buffer
		def := scheduler.Definition{Kind: scheduler.KindInterval, IntervalMinutes: 90}
		if err := printUpcoming(&buf, def, from, 2); err != nil {
			t.Fatalf("printUpcoming() error = %v", err)
		}
		if !strings.Contains(buf.String(), "2024-01-15T13:00:00Z") {
			t.Errorf("expected second interval run, got %q", buf.String())
		}
	})

	t.Run("invalid", func(t *testing.T) {
		var buf bytes.Buffer
		def := scheduler.Definition{Kind: scheduler.KindCron, CronExpression: "0 25 * * *"}
		if err := printUpcoming(&buf, def, from, 1); err == nil {
			t.Error("expected error for invalid hour")
		}
	})
}

func TestPrintPresets(t *testing.T) {
	var buf bytes.Buffer
	printPresets(&buf)

	for _, p := range scheduler.Presets {
		if !strings.Contains(buf.String(), p.Name) {
			t.Errorf("preset %q missing from output", p.Name)
		}
	}
}

func TestParseImportFile(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    int
		wantErr string
	}{
		{
			name: "valid",
			data: `schedules:
  - company_id: 42
    name: Daily open tickets
    report_type: daily
    cron_expression: daily_9am
    recipients: [ops@example.com]
    filters:
      status: open
  - company_id: 42
    name: Every two hours
    schedule_type: interval
    interval_minutes: 120
    recipients: [ops@example.com]
`,
			want: 2,
		},
		{name: "empty", data: "", wantErr: "empty"},
		{name: "no schedules", data: "schedules: []\n", wantErr: "no schedules"},
		{name: "unknown field", data: "schedules:\n  - nmae: typo\n", wantErr: "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseImportFile([]byte(tt.data))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseImportFile() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseImportFile() error = %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d schedules, want %d", len(got), tt.want)
			}
			if got[0].Filters == nil || got[0].Filters.Status != "open" {
				t.Errorf("filters not decoded: %+v", got[0].Filters)
			}
			if got[1].Kind == nil || *got[1].Kind != scheduler.KindInterval {
				t.Errorf("schedule_type not decoded")
			}
		})
	}
}

func TestImportSchedules(t *testing.T) {
	a := testApp(t)

	inputs, err := parseImportFile([]byte(`schedules:
  - company_id: 42
    name: Daily open tickets
    report_type: daily
    cron_expression: "0 9 * * *"
    recipients: [ops@example.com]
  - company_id: 42
    name: Broken
    report_type: daily
    cron_expression: "not a cron"
    recipients: [ops@example.com]
`))
	if err != nil {
		t.Fatalf("parseImportFile() error = %v", err)
	}

	var buf bytes.Buffer
	err = importSchedules(context.Background(), a.store, inputs, &buf)
	if err == nil {
		t.Fatal("expected error for the invalid entry")
	}

	out := buf.String()
	if !strings.Contains(out, "Imported 1 of 2 schedules") {
		t.Errorf("missing summary in %q", out)
	}
	if !strings.Contains(out, `#2 "Broken"`) {
		t.Errorf("missing failed entry in %q", out)
	}

	list, err := a.store.List(context.Background(), scheduler.ScheduleFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("stored %d schedules, want 1", len(list))
	}
	if list[0].CreatedBy != "import" {
		t.Errorf("created_by = %q, want import", list[0].CreatedBy)
	}
	if list[0].CompanyName != "Acme Corp" {
		t.Errorf("company_name = %q, want Acme Corp", list[0].CompanyName)
	}
}

func TestRunNowThroughApp(t *testing.T) {
	a := testApp(t)

	name, cron, company := "Digest", "0 9 * * *", int64(42)
	s, err := a.store.Create(context.Background(), &scheduler.ScheduleInput{
		CompanyID:      &company,
		Name:           &name,
		CronExpression: &cron,
		Recipients:     []string{"ops@example.com"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	exec, err := a.sched.RunNow(context.Background(), s.ID)
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if exec.Status != executions.StatusSuccess {
		t.Fatalf("status = %s, error = %s", exec.Status, exec.ErrorMessage)
	}
	if exec.ArchiveKey == "" {
		t.Error("expected the report to be archived")
	}

	var buf bytes.Buffer
	printExecution(&buf, exec)
	if !strings.Contains(buf.String(), "Status:    success") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	list, err := a.execs.Recent(context.Background(), executions.ListFilter{CompanyID: 42})
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	printExecutions(&buf, list)
	if !strings.Contains(buf.String(), "manual") {
		t.Errorf("expected manual trigger in %q", buf.String())
	}

	buf.Reset()
	schedules, err := a.store.List(context.Background(), scheduler.ScheduleFilter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	printSchedules(&buf, schedules)
	if !strings.Contains(buf.String(), s.ID) {
		t.Errorf("expected schedule row in %q", buf.String())
	}
}

func TestPrintEmptyTables(t *testing.T) {
	var buf bytes.Buffer
	printSchedules(&buf, nil)
	printExecutions(&buf, nil)

	if buf.String() != "No schedules found.\nNo executions found.\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level   string
		verbose bool
		want    zerolog.Level
	}{
		{level: "warn", want: zerolog.WarnLevel},
		{level: "bogus", want: zerolog.InfoLevel},
		{level: "", want: zerolog.InfoLevel},
		{level: "error", verbose: true, want: zerolog.DebugLevel},
	}

	for _, tt := range tests {
		verbose = tt.verbose
		setupLogging(config.LoggingConfig{Level: tt.level, Format: "json"})
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("level %q verbose %v: got %v, want %v", tt.level, tt.verbose, got, tt.want)
		}
	}
	verbose = false
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("Wöchentlicher Bericht", 10); got != "Wöchentli…" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"version"}, want: "reportd version "},
		{args: []string{"cron", "presets"}, want: "weekly_monday"},
		{args: []string{"cron", "next", "0", "9", "*", "*", "1", "--from", "2024-01-15T10:00:00Z", "-n", "1"}, want: "2024-01-22T09:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			var buf bytes.Buffer
			rootCmd.SetOut(&buf)
			rootCmd.SetArgs(tt.args)
			t.Cleanup(func() {
				rootCmd.SetOut(nil)
				rootCmd.SetArgs(nil)
			})

			if err := rootCmd.Execute(); err != nil {
				t.Fatalf("Execute(%v) error = %v", tt.args, err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output %q does not contain %q", buf.String(), tt.want)
			}
		})
	}
}
