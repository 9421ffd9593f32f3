package cli

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/audit"
	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/notify"
	"github.com/telekom/owners-notify/pkg/replyhandler"
	"github.com/telekom/owners-notify/pkg/store"
	"github.com/telekom/owners-notify/pkg/uri"
)

// App holds the wired components shared by the commands.
type App struct {
	Config   config.Config
	Log      *zap.SugaredLogger
	Store    *store.Store
	Mail     *mail.Service
	Audit    *audit.Manager
	Composer *notify.Composer
}

// NewApp opens the store and wires the composer on top of it. Mail delivery
// is not started; call StartMail for commands that deliver.
func NewApp(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) (*App, error) {
	factory, err := replyhandler.Lookup(cfg.Notify.ReplyHandler, replyhandler.Options{
		Domain: cfg.Notify.ReplyDomain,
		Secret: cfg.Notify.ReplySecret,
	})
	if err != nil {
		return nil, err
	}
	uris, err := uri.NewBuilder(cfg.Notify.BaseURL)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "notify.baseURL", Reason: err.Error()}
	}

	s, err := store.Open(ctx, cfg.Store.DSN, log.Named("store"))
	if err != nil {
		return nil, err
	}

	auditor := audit.NewManagerFromConfig(cfg.Audit, log.Desugar().Named("audit"))
	mailService := mail.NewService(s, log.Named("mail")).OnDelivery(auditor.MailResult)

	composer, err := notify.NewComposer(s, s, notify.Config{
		SubjectPrefix:       cfg.Notify.SubjectPrefix,
		ReplyHandlerFactory: factory,
		URIs:                uris,
		Transport:           mailService,
	}, log.Named("notify"))
	if err != nil {
		_ = auditor.Close()
		_ = s.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    s,
		Mail:     mailService,
		Audit:    auditor,
		Composer: composer,
	}, nil
}

// StartMail starts the delivery queue.
func (a *App) StartMail(ctx context.Context) error {
	return a.Mail.Start(ctx, a.Config.Mail)
}

// Reload applies a new configuration to the running mail service.
func (a *App) Reload(ctx context.Context, cfg config.Config) error {
	if err := a.Mail.Reload(ctx, cfg.Mail); err != nil {
		return fmt.Errorf("reloading mail service: %w", err)
	}
	a.Config.Mail = cfg.Mail
	a.Audit.Emit(ctx, &audit.Event{
		Type:    audit.EventSystemReload,
		Target:  audit.Target{Kind: "Config", Name: "mail"},
		Details: map[string]interface{}{"mailEnabled": a.Mail.IsEnabled()},
	})
	a.Log.Infow("Configuration reloaded", "mailEnabled", a.Mail.IsEnabled())
	return nil
}

// Close drains the mail queue, flushes the audit trail and closes the store.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(
		a.Mail.Stop(ctx),
		a.Audit.Close(),
		a.Store.Close(),
	)
}
