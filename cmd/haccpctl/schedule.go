package main

import (
	"fmt"
	"time"

	"haccp-core/internal/domain"
	"haccp-core/internal/schedule"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func scheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Monitoring schedule helpers",
	}
	cmd.AddCommand(scheduleNextCmd())
	return cmd
}

func scheduleNextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next monitoring due times for a schedule",
		Example: `  haccpctl schedule next --type interval --interval 30 --tolerance 5
  haccpctl schedule next --type cron --cron "0 */2 * * *" --count 3`,
		Args: cobra.NoArgs,
		RunE: runScheduleNext,
	}
	cmd.Flags().String("type", "interval", "interval, cron or manual")
	cmd.Flags().Int("interval", 0, "Interval in minutes")
	cmd.Flags().String("cron", "", "Cron expression (5 fields or @descriptor)")
	cmd.Flags().Int("tolerance", 0, "Tolerance window in minutes")
	cmd.Flags().String("from", "", "Start time (RFC3339), default now")
	cmd.Flags().IntP("count", "n", 1, "Number of due times to show")
	return cmd
}

type dueWindow struct {
	DueAt       time.Time `json:"due_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Degraded    bool      `json:"degraded,omitempty"`
}

func runScheduleNext(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	typ, _ := flags.GetString("type")
	tolerance, _ := flags.GetInt("tolerance")
	count, _ := flags.GetInt("count")

	sch := &domain.MonitoringSchedule{
		ScheduleType:           domain.ScheduleType(typ),
		ToleranceWindowMinutes: tolerance,
		IsActive:               true,
	}
	if flags.Changed("interval") {
		v, _ := flags.GetInt("interval")
		sch.IntervalMinutes = &v
	}
	if flags.Changed("cron") {
		v, _ := flags.GetString("cron")
		sch.CronExpression = &v
	}

	from := time.Now()
	if v, _ := flags.GetString("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		from = t
	}

	scheduler := schedule.NewScheduler(zap.NewNop())
	if err := scheduler.Validate(sch); err != nil {
		return err
	}

	var windows []dueWindow
	cursor := from
	for i := 0; i < count; i++ {
		next := scheduler.Advance(sch, cursor)
		if next.Time == nil {
			break
		}
		windows = append(windows, dueWindow{
			DueAt:       *next.Time,
			WindowStart: next.Time.Add(-sch.Tolerance()),
			WindowEnd:   next.Time.Add(sch.Tolerance()),
			Degraded:    next.Degraded,
		})
		cursor = *next.Time
	}

	if jsonOutput(cmd) {
		return writeJSON(cmd.OutOrStdout(), windows)
	}
	if len(windows) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no scheduled monitoring (manual schedule)")
		return nil
	}
	for _, w := range windows {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  window %s .. %s\n",
			w.DueAt.Format(time.RFC3339), w.WindowStart.Format("15:04"), w.WindowEnd.Format("15:04"))
	}
	return nil
}
