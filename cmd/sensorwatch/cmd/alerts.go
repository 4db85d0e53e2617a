package cmd

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
)

func newAlertsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Inspect the notification history",
		Long:  `List, count or clear the recorded alert events.`,
	}
	cmd.AddCommand(
		newAlertsListCmd(opts),
		newAlertsCountCmd(opts),
		newAlertsClearCmd(opts),
	)
	return cmd
}

func newAlertsListCmd(opts *options) *cobra.Command {
	var (
		limit  int
		newest bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("limit must not be negative")
			}
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				events := engine.History().List()
				if newest {
					slices.Reverse(events)
				}
				if limit > 0 && len(events) > limit {
					events = events[:limit]
				}
				return printAlerts(cmd.OutOrStdout(), opts.output, events)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of alerts to show (0 = all)")
	cmd.Flags().BoolVar(&newest, "newest", false, "show the newest alerts first")
	return cmd
}

func newAlertsCountCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of recorded alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				count := engine.History().Count()
				if opts.output == "json" {
					return printJSON(cmd.OutOrStdout(), map[string]int{"count": count})
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), count)
				return err
			})
		},
	}
}

func newAlertsClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete the notification history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				if err := engine.History().Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Notification history cleared.")
				return nil
			})
		},
	}
}

func printAlerts(out io.Writer, format string, events []models.AlertEvent) error {
	if format == "json" {
		if events == nil {
			events = []models.AlertEvent{}
		}
		return printJSON(out, events)
	}
	if len(events) == 0 {
		_, err := fmt.Fprintln(out, "No alerts.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tMESSAGE\tVALUE")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s%s\n",
			ev.Timestamp.Local().Format(time.DateTime),
			ev.Metric,
			ev.Message,
			models.FormatValue(ev.Value), ev.Metric.Unit())
	}
	return w.Flush()
}
