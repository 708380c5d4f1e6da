package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketdesk/reportd/internal/scheduler"
)

var (
	cronCount    int
	cronTimezone string
	cronFrom     string
	cronInterval int
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect schedule expressions",
	Long: `Inspect cron expressions and presets without touching the database.

Examples:
  reportd cron next "0 9 * * 1-5"              Next five weekday mornings (UTC)
  reportd cron next weekly_monday --tz Asia/Tokyo
  reportd cron next --interval 90 -n 3         A 90 minute interval
  reportd cron presets                         List preset names`,
}

var cronNextCmd = &cobra.Command{
	Use:   "next [expression]",
	Short: "Show the next run times of an expression",
	Long: `Show the next run times of a 5-field cron expression or preset name.

The expression may be passed quoted or as separate words. Day-of-week
accepts 0-7 where both 0 and 7 mean Sunday. Times are evaluated in --tz
and printed in UTC and in that zone.`,
	RunE: runCronNext,
}

var cronPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List schedule presets",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		printPresets(cmd.OutOrStdout())
	},
}

func init() {
	cronNextCmd.Flags().IntVarP(&cronCount, "count", "n", 5, "Number of run times to show")
	cronNextCmd.Flags().StringVar(&cronTimezone, "tz", "UTC", "IANA timezone the expression is evaluated in")
	cronNextCmd.Flags().StringVar(&cronFrom, "from", "", "Start instant in RFC 3339 (default: now)")
	cronNextCmd.Flags().IntVar(&cronInterval, "interval", 0, "Preview an interval schedule of this many minutes instead")

	cronCmd.AddCommand(cronNextCmd)
	cronCmd.AddCommand(cronPresetsCmd)

	rootCmd.AddCommand(cronCmd)
}

func runCronNext(cmd *cobra.Command, args []string) error {
	def := scheduler.Definition{
		Kind:     scheduler.KindCron,
		Timezone: cronTimezone,
	}

	switch {
	case cronInterval > 0:
		if len(args) > 0 {
			return fmt.Errorf("an expression and --interval are mutually exclusive")
		}
		def.Kind = scheduler.KindInterval
		def.IntervalMinutes = cronInterval
	case len(args) == 0:
		return fmt.Errorf("an expression or --interval is required")
	default:
		def.CronExpression = strings.Join(args, " ")
	}

	from := time.Now().UTC()
	if cronFrom != "" {
		t, err := time.Parse(time.RFC3339, cronFrom)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		from = t
	}

	if cronCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	return printUpcoming(cmd.OutOrStdout(), def, from, cronCount)
}

func printUpcoming(w io.Writer, def scheduler.Definition, from time.Time, n int) error {
	runs, err := scheduler.NewCronParser().Upcoming(def, from, n)
	if err != nil {
		return err
	}

	loc, err := time.LoadLocation(def.Timezone)
	if err != nil {
		loc = time.UTC
	}

	fmt.Fprintf(w, "%s\n\n", scheduler.Describe(def))
	for i, run := range runs {
		if loc == time.UTC {
			fmt.Fprintf(w, "%2d. %s\n", i+1, run.Format(time.RFC3339))
			continue
		}
		fmt.Fprintf(w, "%2d. %s  (%s)\n", i+1, run.Format(time.RFC3339), run.In(loc).Format("Mon 2006-01-02 15:04 MST"))
	}
	return nil
}

func printPresets(w io.Writer) {
	fmt.Fprintf(w, "%-16s %-12s %s\n", "NAME", "EXPRESSION", "DESCRIPTION")
	for _, p := range scheduler.Presets {
		fmt.Fprintf(w, "%-16s %-12s %s\n", p.Name, p.Expression, p.Description)
	}
}
