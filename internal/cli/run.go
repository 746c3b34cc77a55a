package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mcpbridge/internal/bridge"
	"mcpbridge/internal/metrics"
	"mcpbridge/pkg/logger"
)

func runBridge(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}

	cfg := cliCtx.Config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log := cliCtx.Log()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	notifyShutdown(ctx, cancel, log)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		var err error
		if m, err = metrics.New(reg); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		// Stopped after the bridge has drained, not on signal.
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		metricsDone := make(chan struct{})
		go func() {
			defer close(metricsDone)
			if err := metrics.Serve(metricsCtx, cfg.MetricsAddr, reg, logger.Component("metrics")); err != nil {
				log.Error().Err(err).Str("address", cfg.MetricsAddr).Msg("metrics listener failed")
			}
		}()
		defer func() {
			stopMetrics()
			<-metricsDone
		}()
	}

	b := bridge.New(cfg,
		bridge.WithLogger(*log),
		bridge.WithMetrics(m),
	)
	if err := b.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
		log.Error().Err(err).Msg("bridge stopped with errors")
		return err
	}
	return nil
}

// notifyShutdown cancels ctx on SIGINT or SIGTERM.
func notifyShutdown(ctx context.Context, cancel context.CancelFunc, log *zerolog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
}
