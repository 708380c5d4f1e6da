package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketdesk/reportd/internal/executions"
)

var (
	recentCompany  int64
	recentStatus   string
	recentLimit    int
	pruneOlderThan string
)

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect and prune execution history",
	Long: `Inspect and prune execution history.

Examples:
  reportd executions recent --status failed    Latest failed runs
  reportd executions prune --older-than 30d    Delete history older than 30 days`,
}

var executionsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List recent executions",
	Args:  cobra.NoArgs,
	RunE:  runExecutionsRecent,
}

var executionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished executions older than a cutoff",
	Long: `Delete finished executions older than --older-than.

The default is scheduler.history_retention. Durations accept Go syntax
(36h) plus d (days) and w (weeks). Running executions are never removed.`,
	Args: cobra.NoArgs,
	RunE: runExecutionsPrune,
}

func init() {
	executionsRecentCmd.Flags().Int64Var(&recentCompany, "company", 0, "Only this company's executions")
	executionsRecentCmd.Flags().StringVar(&recentStatus, "status", "", "Filter by status (running, success, failed)")
	executionsRecentCmd.Flags().IntVarP(&recentLimit, "limit", "n", 20, "Maximum executions to show")

	executionsPruneCmd.Flags().StringVar(&pruneOlderThan, "older-than", "", "Age cutoff (default: scheduler.history_retention)")

	executionsCmd.AddCommand(executionsRecentCmd)
	executionsCmd.AddCommand(executionsPruneCmd)

	rootCmd.AddCommand(executionsCmd)
}

func runExecutionsRecent(cmd *cobra.Command, args []string) error {
	status := executions.Status(recentStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("--status must be one of: running, success, failed")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := executions.NewStore(db).Recent(cmd.Context(), executions.ListFilter{
		CompanyID: recentCompany,
		Status:    status,
		Limit:     recentLimit,
	})
	if err != nil {
		return err
	}

	printExecutions(cmd.OutOrStdout(), list)
	return nil
}

func printExecutions(w io.Writer, list []*executions.Execution) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No executions found.")
		return
	}

	fmt.Fprintf(w, "%-20s %-24s %-8s %-8s %-8s %s\n", "STARTED", "SCHEDULE", "TRIGGER", "STATUS", "TICKETS", "ERROR")
	for _, e := range list {
		name := e.ScheduleName
		if name == "" {
			name = e.ScheduleID
		}
		count := "-"
		if e.TicketsCount != nil {
			count = fmt.Sprint(*e.TicketsCount)
		}
		fmt.Fprintf(w, "%-20s %-24s %-8s %-8s %-8s %s\n",
			e.ExecutionTime.Format("2006-01-02 15:04:05"), truncate(name, 24), e.Trigger, e.Status, count, e.ErrorMessage)
	}
}

func runExecutionsPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	age := cfg.Scheduler.HistoryRetention
	if pruneOlderThan != "" {
		if age, err = parseAge(pruneOlderThan); err != nil {
			return fmt.Errorf("invalid --older-than: %w", err)
		}
	}
	if age <= 0 {
		return fmt.Errorf("retention must be positive")
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cutoff := time.Now().UTC().Add(-age)
	n, err := executions.NewStore(db).DeleteOlderThan(cmd.Context(), cutoff)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %d executions started before %s\n", n, cutoff.Format(time.RFC3339))
	return nil
}

// parseAge parses durations with day and week suffixes, e.g. "30d" or "2w".
func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	var multiplier time.Duration
	var numStr string

	switch {
	case strings.HasSuffix(s, "d"):
		numStr = strings.TrimSuffix(s, "d")
		multiplier = 24 * time.Hour
	case strings.HasSuffix(s, "w"):
		numStr = strings.TrimSuffix(s, "w")
		multiplier = 7 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %s", numStr)
	}

	return time.Duration(num) * multiplier, nil
}
