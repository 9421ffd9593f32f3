package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/telekom/owners-notify/pkg/api"
	"github.com/telekom/owners-notify/pkg/audit"
	"github.com/telekom/owners-notify/pkg/telemetry"
	"github.com/telekom/owners-notify/pkg/version"
)

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the notification API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.serve(cmd.Context())
		},
	}
}

func (rt *runtimeState) serve(parent context.Context) error {
	log := rt.log
	log.With("version", version.Version).Info("Starting owners-notify")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		Tracing:        rt.cfg.Tracing,
		ServiceVersion: version.Version,
		Logger:         log.Named("telemetry"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warnw("Error shutting down tracing", "error", err)
		}
	}()

	app, err := NewApp(ctx, rt.cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.GetShutdownTimeout())
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			log.Warnw("Error during shutdown", "error", err)
		}
	}()

	if err := app.StartMail(ctx); err != nil {
		return err
	}
	app.Audit.Emit(ctx, &audit.Event{
		Type:    audit.EventSystemStartup,
		Target:  audit.Target{Kind: "Server", Name: rt.cfg.Server.ListenAddress},
		Details: map[string]interface{}{"version": version.Version},
	})

	server := api.NewServer(log.Desugar(), rt.cfg, rt.debug, app.Store)
	notifications := api.NewNotificationController(log.Named("api"), app.Store, app.Composer, app.Audit)
	defer notifications.Stop()
	if err := server.RegisterAll([]api.APIController{notifications}); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := rt.reload(ctx, app); err != nil {
					log.Errorw("Failed to reload configuration", "error", err)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down owners-notify")
	app.Audit.Emit(context.Background(), &audit.Event{
		Type:   audit.EventSystemShutdown,
		Target: audit.Target{Kind: "Server", Name: rt.cfg.Server.ListenAddress},
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.GetShutdownTimeout())
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// reload re-reads the config file and applies the mail settings.
func (rt *runtimeState) reload(ctx context.Context, app *App) error {
	if err := rt.loadConfig(); err != nil {
		return err
	}
	return app.Reload(ctx, rt.cfg)
}
