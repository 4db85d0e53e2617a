package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/models"
	"sensorwatch/internal/sensor"
)

func newEvaluateCmd(opts *options) *cobra.Command {
	var (
		reading   models.Reading
		jsonInput string
		record    bool
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Check a reading against the stored thresholds",
		Long: `Check one reading against the stored thresholds and print the alerts it
would raise. Nothing is recorded unless --record is given, in which case
the reading goes through the breach policy and the alerts are appended to
the notification history.

Examples:
  sensorwatch evaluate --temperature 32 --humidity 45 --moisture 38
  sensorwatch evaluate --json '{"temperature":"31.5","humidity":50,"moisture":60}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now().UTC()
			r := reading
			if jsonInput != "" {
				var err error
				if r, err = sensor.DecodeReading([]byte(jsonInput), now); err != nil {
					return err
				}
			} else {
				for _, m := range models.Metrics {
					if !cmd.Flags().Changed(string(m)) {
						return fmt.Errorf("--%s is required without --json", m)
					}
				}
				r.Normalize(now)
			}
			if err := r.Validate(); err != nil {
				return fmt.Errorf("invalid reading: %w", err)
			}

			return opts.withEngine(cmd.Context(), func(engine *alerts.Engine) error {
				if record {
					events, err := engine.Process(cmd.Context(), r)
					if err != nil {
						return err
					}
					return printAlerts(cmd.OutOrStdout(), opts.output, events)
				}

				t, err := engine.Thresholds().Get(cmd.Context())
				if err != nil {
					return err
				}
				return printAlerts(cmd.OutOrStdout(), opts.output, alerts.Evaluate(r, t))
			})
		},
	}

	cmd.Flags().Float64Var(&reading.Temperature, "temperature", 0, "temperature in °C")
	cmd.Flags().Float64Var(&reading.Humidity, "humidity", 0, "relative humidity in %")
	cmd.Flags().Float64Var(&reading.Moisture, "moisture", 0, "soil moisture in %")
	cmd.Flags().StringVar(&jsonInput, "json", "", "reading as a JSON object")
	cmd.Flags().BoolVar(&record, "record", false, "append the alerts to the notification history")
	return cmd
}
