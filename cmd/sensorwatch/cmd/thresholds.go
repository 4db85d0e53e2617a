package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
)

func newThresholdsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thresholds",
		Short: "Manage alert thresholds",
		Long:  `Show, change, import or clear the per-metric alert thresholds.`,
	}
	cmd.AddCommand(
		newThresholdsGetCmd(opts),
		newThresholdsSetCmd(opts),
		newThresholdsClearCmd(opts),
		newThresholdsImportCmd(opts),
	)
	return cmd
}

func newThresholdsGetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the current thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				t, err := engine.Thresholds().Get(cmd.Context())
				if err != nil {
					return err
				}
				return printThresholds(cmd.OutOrStdout(), opts.output, t)
			})
		},
	}
}

func newThresholdsSetCmd(opts *options) *cobra.Command {
	values := make(map[models.Metric]*string, len(models.Metrics))
	conditions := make(map[models.Metric]*string, len(models.Metrics))

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one or more thresholds",
		Long: `Change one or more thresholds. Metrics not named on the command line
keep their current setting. An empty or non-numeric value unsets the
threshold so it never fires.

Examples:
  sensorwatch thresholds set --temperature 30 --temperature-condition exceeds
  sensorwatch thresholds set --moisture 40
  sensorwatch thresholds set --humidity ""`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				store := engine.Thresholds()
				current, err := store.Get(cmd.Context())
				if err != nil {
					return err
				}

				inputs := make(map[models.Metric]alerts.ThresholdInput, len(models.Metrics))
				changed := false
				for _, m := range models.Metrics {
					in := currentInput(current.For(m))
					if cmd.Flags().Changed(string(m)) {
						in.Value = *values[m]
						changed = true
					}
					if cmd.Flags().Changed(string(m) + "-condition") {
						in.Condition = *conditions[m]
						changed = true
					}
					inputs[m] = in
				}
				if !changed {
					return fmt.Errorf("nothing to set: pass at least one of --temperature, --humidity, --moisture or a condition flag")
				}

				saved, err := store.Save(cmd.Context(), inputs)
				if err != nil {
					return err
				}
				return printThresholds(cmd.OutOrStdout(), opts.output, saved)
			})
		},
	}

	for _, m := range models.Metrics {
		values[m] = cmd.Flags().String(string(m), "", fmt.Sprintf("%s threshold (%s)", m.Label(), m.Unit()))
		conditions[m] = cmd.Flags().String(string(m)+"-condition", "",
			fmt.Sprintf("%s condition: exceeds or below (default %s)", m.Label(), m.DefaultCondition()))
	}
	return cmd
}

func newThresholdsClearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				if err := engine.Thresholds().Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Thresholds cleared.")
				return nil
			})
		},
	}
}

func newThresholdsImportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the thresholds with the contents of a YAML file",
		Long: `Replace the thresholds with the contents of a YAML file. Metrics missing
from the file are unset.

File format:
  thresholds:
    temperature: {value: 30, condition: exceeds}
    moisture: {value: 40}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := alerts.LoadThresholdsFromFile(args[0])
			if err != nil {
				return err
			}
			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				saved, err := engine.Thresholds().Save(cmd.Context(), inputs)
				if err != nil {
					return err
				}
				return printThresholds(cmd.OutOrStdout(), opts.output, saved)
			})
		},
	}
}

// currentInput renders a stored threshold back into user input form.
func currentInput(th alerts.Threshold) alerts.ThresholdInput {
	in := alerts.ThresholdInput{Condition: string(th.Condition)}
	if th.Set {
		in.Value = models.FormatValue(th.Value)
	}
	return in
}

func printThresholds(out io.Writer, format string, t alerts.Thresholds) error {
	ordered := make([]alerts.Threshold, 0, len(models.Metrics))
	for _, m := range models.Metrics {
		ordered = append(ordered, t.For(m))
	}
	if format == "json" {
		return printJSON(out, ordered)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "METRIC\tCONDITION\tVALUE")
	for _, th := range ordered {
		value := "-"
		if th.Set {
			value = models.FormatValue(th.Value) + th.Metric.Unit()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", th.Metric, th.Condition, value)
	}
	return w.Flush()
}
