package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sensorwatch/internal/logger"
	"sensorwatch/internal/processor"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr         string
		sensorURL    string
		breachPolicy string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the polling service and HTTP API",
		Long: `Run the sensorwatch service.

The service polls the sensor backend (when SENSOR_API_URL is set), evaluates
every reading against the stored thresholds, records the alerts and serves
the HTTP API, the websocket stream and Prometheus metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			if sensorURL != "" {
				cfg.Sensor.APIURL = sensorURL
			}
			if breachPolicy != "" {
				cfg.Alerts.BreachPolicy = breachPolicy
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger.Init(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log := logger.WithComponent("main")
			if err := processor.New(cfg).Run(ctx); err != nil {
				log.Error().Err(err).Msg("processor exited")
				return err
			}
			log.Info().Msg("exited")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&sensorURL, "sensor-url", "", "sensor backend base URL (overrides SENSOR_API_URL)")
	cmd.Flags().StringVar(&breachPolicy, "breach-policy", "", "every_tick or once_per_breach (overrides BREACH_POLICY)")
	return cmd
}
