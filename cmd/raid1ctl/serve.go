package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dreamware/raidbd/internal/admin"
	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/config"
	"github.com/dreamware/raidbd/internal/health"
	"github.com/dreamware/raidbd/internal/logging"
	"github.com/dreamware/raidbd/internal/observability"
)

type serveOptions struct {
	configPath string
	addr       string
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Assemble the configured arrays and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
	flags := cmd.Flags()
	addConfigFlag(flags, &opts.configPath)
	flags.StringVar(&opts.addr, "addr", "", "Admin listen address (overrides the configuration)")
	return cmd
}

func runServe(ctx context.Context, opts serveOptions) (err error) {
	log := logging.Component("serve")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.addr != "" {
		cfg.Admin.Addr = opts.addr
	}

	observability.RegisterMetrics()

	asm, err := assemble(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := asm.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	monitor, stopHealth := startHealth(ctx, cfg.Health, asm)
	defer stopHealth()

	httpSrv := &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           admin.NewServer(asm.registry, monitor).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Admin.Addr).Int("arrays", len(cfg.Arrays)).Msg("admin listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, "listen")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info().Msg("stopped")
	return nil
}

// startHealth starts a monitor probing every present mirror of asm. A mirror
// that fails its probes is removed from its array. The monitor is nil when
// health checking is disabled.
func startHealth(ctx context.Context, hc config.HealthConfig, asm *assembly) (*health.Monitor, func()) {
	if hc.Disabled {
		return nil, func() {}
	}
	log := logging.Component("health")

	probeThread := bdev.NewThread("probe")
	monitor := health.NewMonitor(hc.Interval.Duration, hc.MaxFailures)
	monitor.SetCheckFunction(health.NewProbe(probeThread))
	monitor.SetOnUnhealthy(func(target health.Target) {
		arr, err := asm.array(target.Array)
		if err != nil {
			log.Error().Err(err).Str("mirror", target.Key).Msg("unhealthy mirror has no array")
			return
		}
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := admin.RemoveMirror(rctx, arr, target.Slot); err != nil {
			log.Error().Err(err).Str("mirror", target.Key).Msg("could not remove unhealthy mirror")
			return
		}
		log.Warn().Str("mirror", target.Key).Msg("unhealthy mirror removed")
	})
	go monitor.Start(ctx, health.TargetsFromRegistry(asm.registry))

	return monitor, func() {
		monitor.Stop()
		probeThread.Stop()
	}
}
