package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ticketdesk/reportd/internal/executions"
	"github.com/ticketdesk/reportd/internal/scheduler"
)

var (
	schedulesCompany  int64
	schedulesActive   bool
	schedulesInactive bool
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage scheduled reports",
	Long: `Manage scheduled reports from the command line.

Examples:
  reportd schedules list --company 42     List a company's schedules
  reportd schedules import schedules.yaml Create schedules from a file
  reportd schedules run <id>              Run a schedule now and wait`,
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	Args:  cobra.NoArgs,
	RunE:  runSchedulesList,
}

var schedulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create schedules from a YAML file",
	Long: `Create schedules from a YAML file of the form:

  schedules:
    - company_id: 42
      name: Daily open tickets
      report_type: daily
      cron_expression: daily_9am
      timezone: Europe/Berlin
      recipients: [ops@example.com]
      filters:
        status: open

Every entry is validated. Invalid entries are reported and skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedulesImport,
}

var schedulesRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Execute a schedule now and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runSchedulesRun,
}

func init() {
	schedulesListCmd.Flags().Int64Var(&schedulesCompany, "company", 0, "Only list this company's schedules")
	schedulesListCmd.Flags().BoolVar(&schedulesActive, "active", false, "Only list active schedules")
	schedulesListCmd.Flags().BoolVar(&schedulesInactive, "inactive", false, "Only list paused schedules")
	schedulesListCmd.MarkFlagsMutuallyExclusive("active", "inactive")

	schedulesCmd.AddCommand(schedulesListCmd)
	schedulesCmd.AddCommand(schedulesImportCmd)
	schedulesCmd.AddCommand(schedulesRunCmd)

	rootCmd.AddCommand(schedulesCmd)
}

func runSchedulesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	filter := scheduler.ScheduleFilter{CompanyID: schedulesCompany}
	switch {
	case schedulesActive:
		filter.IsActive = &schedulesActive
	case schedulesInactive:
		active := false
		filter.IsActive = &active
	}

	list, err := a.store.List(cmd.Context(), filter)
	if err != nil {
		return err
	}

	printSchedules(cmd.OutOrStdout(), list)
	return nil
}

func printSchedules(w io.Writer, list []*scheduler.Schedule) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No schedules found.")
		return
	}

	fmt.Fprintf(w, "%-36s %-24s %-8s %-8s %-20s %s\n", "ID", "NAME", "COMPANY", "ACTIVE", "NEXT RUN", "SCHEDULE")
	for _, s := range list {
		next := "-"
		if s.NextRun != nil {
			next = s.NextRun.Format("2006-01-02 15:04")
		}
		if s.SchedulingError != "" {
			next = "unschedulable"
		}
		fmt.Fprintf(w, "%-36s %-24s %-8d %-8t %-20s %s\n",
			s.ID, truncate(s.Name, 24), s.CompanyID, s.IsActive, next, s.ScheduleDescription)
	}
}

// importFile is the YAML layout accepted by `schedules import`.
type importFile struct {
	Schedules []scheduler.ScheduleInput `yaml:"schedules"`
}

func parseImportFile(data []byte) ([]scheduler.ScheduleInput, error) {
	var f importFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("import file is empty")
		}
		return nil, fmt.Errorf("parsing import file: %w", err)
	}
	if len(f.Schedules) == 0 {
		return nil, fmt.Errorf("import file has no schedules")
	}
	return f.Schedules, nil
}

func runSchedulesImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading import file: %w", err)
	}

	inputs, err := parseImportFile(data)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	return importSchedules(cmd.Context(), a.store, inputs, cmd.OutOrStdout())
}

func importSchedules(ctx context.Context, store *scheduler.Store, inputs []scheduler.ScheduleInput, w io.Writer) error {
	failed := 0
	for i := range inputs {
		in := &inputs[i]
		if in.CreatedBy == nil {
			by := "import"
			in.CreatedBy = &by
		}

		s, err := store.Create(ctx, in)
		if err != nil {
			failed++
			name := fmt.Sprintf("#%d", i+1)
			if in.Name != nil {
				name = fmt.Sprintf("#%d %q", i+1, *in.Name)
			}
			fmt.Fprintf(w, "✗ %s: %v\n", name, err)
			continue
		}
		fmt.Fprintf(w, "✓ %s  %s  next run %s\n", s.ID, s.Name, s.NextRun.Format(time.RFC3339))
	}

	fmt.Fprintf(w, "\nImported %d of %d schedules\n", len(inputs)-failed, len(inputs))
	if failed > 0 {
		return fmt.Errorf("%d schedules failed validation", failed)
	}
	return nil
}

func runSchedulesRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	exec, err := a.sched.RunNow(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	printExecution(cmd.OutOrStdout(), exec)
	if exec.Status == executions.StatusFailed {
		return fmt.Errorf("execution failed: %s", exec.ErrorMessage)
	}
	return nil
}

func printExecution(w io.Writer, e *executions.Execution) {
	fmt.Fprintf(w, "Execution: %s\n", e.ID)
	fmt.Fprintf(w, "Status:    %s\n", e.Status)
	if e.TicketsCount != nil {
		fmt.Fprintf(w, "Tickets:   %d\n", *e.TicketsCount)
	}
	if e.RecipientsCount != nil {
		fmt.Fprintf(w, "Sent to:   %d recipients\n", *e.RecipientsCount)
	}
	if e.DurationSeconds != nil {
		fmt.Fprintf(w, "Duration:  %.2fs\n", *e.DurationSeconds)
	}
	if e.ArchiveKey != "" {
		fmt.Fprintf(w, "Archived:  %s\n", e.ArchiveKey)
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:     %s\n", e.ErrorMessage)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
