// Package console registers the ownmailer commands on the root command.
package console

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pixelvide/ownmailer/pkg/app"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/schedule"
	"github.com/pixelvide/ownmailer/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// boot loads the configuration, sets up logging and tracing, and builds
// the application. The returned func releases everything boot acquired.
func boot(ctx context.Context, mutate func(*config.Config)) (*app.App, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if mutate != nil {
		mutate(cfg)
	}
	telemetry.SetGlobalLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	tp, err := telemetry.InitTracer(cfg.App.Name, cfg.App.Tracing)
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("error closing connections")
		}
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("error shutting down tracer")
		}
	}
	return a, cleanup, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// registerSchedule adds the scheduled jobs to the global kernel.
func registerSchedule(a *app.App) (*schedule.Kernel, error) {
	kernel := schedule.GetGlobalKernel()
	kernel.SetLockProvider(a.Locks)

	err := schedule.Register(a.Config.App.DispatchSchedule, func(ctx context.Context) error {
		_, err := a.Service.DispatchDue(ctx)
		return err
	}, schedule.OnOneServer("dispatch-due"), schedule.WithoutOverlapping())
	if err != nil {
		return nil, err
	}
	return kernel, nil
}
