package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pixelvide/ownmailer/pkg/api"
	"github.com/pixelvide/ownmailer/pkg/config"
	"github.com/pixelvide/ownmailer/pkg/root"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serveHost      string
	servePort      int
	serveAPIKey    string
	serveScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, cleanup, err := boot(ctx, func(cfg *config.Config) {
			flags := cmd.Flags()
			if flags.Changed("host") {
				cfg.App.Host = serveHost
			}
			if flags.Changed("port") {
				cfg.App.Port = servePort
			}
			if flags.Changed("api-key") {
				cfg.App.APIKey = serveAPIKey
			}
		})
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		opts := api.Options{
			APIKey:       a.Config.App.APIKey,
			WebhookToken: a.Config.App.WebhookToken,
			QueueName:    a.Config.Queue.Name,
		}
		if a.Publisher != nil {
			opts.Publisher = a.Publisher
		}
		if opts.WebhookToken == "" {
			log.Warn().Msg("APP_WEBHOOK_TOKEN is not set, webhooks accept any caller")
		}

		if serveScheduler {
			kernel, err := registerSchedule(a)
			if err != nil {
				return err
			}
			go kernel.Run(ctx)
		}

		srv := &http.Server{
			Addr:              a.Config.App.Addr(),
			Handler:           api.NewRouter(api.NewHandler(a.Service, opts)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("http server listening")
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
			log.Info().Msg("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "0.0.0.0", "Address to listen on")
	serveCmd.Flags().IntVar(&servePort, "port", 2206, "Port to listen on")
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "API key clients must send as a bearer token")
	serveCmd.Flags().BoolVar(&serveScheduler, "with-scheduler", false, "Also dispatch scheduled emails from this process")

	root.GetRoot().AddCommand(serveCmd)
}
