package notify

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/metrics"
	"github.com/telekom/owners-notify/pkg/owners"
	"github.com/telekom/owners-notify/pkg/replyhandler"
	"github.com/telekom/owners-notify/pkg/system"
	"github.com/telekom/owners-notify/pkg/telemetry"
	"github.com/telekom/owners-notify/pkg/uri"
)

// Config is the explicit configuration of a Composer.
type Config struct {
	SubjectPrefix       string
	ReplyHandlerFactory replyhandler.Factory
	URIs                *uri.Builder
	Transport           mail.Transport
}

// NeedSendFunc decides whether a notification should be composed at all.
type NeedSendFunc func(pkg owners.Package, v Variant) bool

// Option customizes a Composer.
type Option func(*Composer)

// WithNeedSend replaces the default guard, which always allows sending.
func WithNeedSend(fn NeedSendFunc) Option {
	return func(c *Composer) {
		if fn != nil {
			c.needSend = fn
		}
	}
}

// Composer builds and sends package notifications.
type Composer struct {
	store    owners.RecordStore
	resolver owners.HandleResolver
	cfg      Config
	needSend NeedSendFunc
	log      *zap.SugaredLogger
}

// NewComposer validates cfg and returns a Composer.
func NewComposer(store owners.RecordStore, resolver owners.HandleResolver, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Composer, error) {
	switch {
	case store == nil:
		return nil, &ConfigurationError{Field: "store", Reason: "no record store configured"}
	case resolver == nil:
		return nil, &ConfigurationError{Field: "resolver", Reason: "no handle resolver configured"}
	case cfg.ReplyHandlerFactory == nil:
		return nil, &ConfigurationError{Field: "notify.replyHandler", Reason: "no reply handler configured"}
	case cfg.URIs == nil:
		return nil, &ConfigurationError{Field: "notify.baseURL", Reason: "no URI builder configured"}
	case cfg.Transport == nil:
		return nil, &ConfigurationError{Field: "transport", Reason: "no mail transport configured"}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Composer{
		store:    store,
		resolver: resolver,
		cfg:      cfg,
		needSend: func(owners.Package, Variant) bool { return true },
		log:      log.Named("composer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// PrepareMails loads, renders and fans out the notification for pkg without
// sending it. It returns an empty slice when the need-send guard vetoes.
func (c *Composer) PrepareMails(ctx context.Context, pkg owners.Package, v Variant) (mails []*mail.Message, err error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.PrepareMails", attribute.String("package.id", pkg.ID))
	defer func() {
		span.SetAttributes(attribute.Int("notify.mails", len(mails)))
		telemetry.EndSpan(span, err)
	}()

	log := c.log.With(system.PackageFields(pkg)...)
	if v == nil || strings.TrimSpace(v.Verb()) == "" {
		metrics.ComposeFailures.WithLabelValues("configuration").Inc()
		return nil, &ConfigurationError{Field: "kind", Reason: "notification variant has no verb"}
	}
	kind := strings.ToLower(v.Verb())

	if !c.needSend(pkg, v) {
		log.Debugw("Notification skipped", "kind", kind)
		metrics.NotificationsSkipped.WithLabelValues(kind).Inc()
		return []*mail.Message{}, nil
	}

	prefix := c.cfg.SubjectPrefix

	draft, err := Load(ctx, c.store, c.resolver, pkg)
	if err != nil {
		c.fail(log, "load", err)
		return nil, err
	}
	body, err := Render(draft, v, c.cfg.URIs)
	if err != nil {
		c.fail(log, "render", err)
		return nil, err
	}

	tmpl := mail.NewMessage(c.cfg.Transport)
	tmpl.Subject = Subject(prefix, pkg.Name)
	tmpl.VarySubject = VarySubject(prefix, v.Verb(), pkg.Name)
	tmpl.From = pkg.ActorID
	tmpl.SetThreadID(ThreadID(pkg.ID), v.IsNewThread()).
		AddHeader(mail.HeaderThreadTopic, ThreadTopic(pkg.ID))
	tmpl.RelatedID = pkg.ID
	tmpl.IsBulk = true
	tmpl.Body = body

	handler, err := c.cfg.ReplyHandlerFactory()
	if err != nil {
		c.fail(log, "reply_handler", err)
		return nil, err
	}
	handler.SetMailReceiver(pkg)

	mails, err = handler.MultiplexMail(tmpl, draft.Recipients(), nil)
	if err != nil {
		c.fail(log, "multiplex", err)
		return nil, err
	}

	metrics.MailsPrepared.WithLabelValues(kind).Add(float64(len(mails)))
	log.Infow("Prepared notification mails", "kind", kind, "mails", len(mails), "recipients", len(draft.MailTo))
	return mails, nil
}

// Send prepares the notification and commits every message. The first
// delivery error is returned unchanged.
func (c *Composer) Send(ctx context.Context, pkg owners.Package, v Variant) (_ []*mail.Message, err error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.Send", attribute.String("package.id", pkg.ID))
	defer func() { telemetry.EndSpan(span, err) }()

	mails, err := c.PrepareMails(ctx, pkg, v)
	if err != nil {
		return nil, err
	}
	return c.Commit(ctx, pkg, mails)
}

// Commit hands prepared mails to the transport. A mail.BatchTransport
// commits them all or none. Other transports get one Commit per mail; on
// failure the mails committed so far are returned together with the error.
func (c *Composer) Commit(ctx context.Context, pkg owners.Package, mails []*mail.Message) ([]*mail.Message, error) {
	if len(mails) == 0 {
		return mails, nil
	}
	if batch, ok := c.cfg.Transport.(mail.BatchTransport); ok {
		if err := batch.CommitAll(ctx, mails); err != nil {
			c.log.Warnw("Failed to commit notification mails", append(system.PackageFields(pkg), "mails", len(mails), "error", err)...)
			return nil, err
		}
		return mails, nil
	}

	committed := make([]*mail.Message, 0, len(mails))
	for _, m := range mails {
		if err := m.SaveAndSend(ctx); err != nil {
			c.log.Warnw("Failed to commit notification mail",
				append(system.PackageFields(pkg), "messageID", m.ID, "committed", len(committed), "error", err)...)
			return committed, err
		}
		committed = append(committed, m)
	}
	return committed, nil
}

func (c *Composer) fail(log *zap.SugaredLogger, stage string, err error) {
	reason := stage
	var missing *MissingDataError
	var cfgErr *ConfigurationError
	switch {
	case errors.As(err, &missing):
		reason = "missing_data"
	case errors.As(err, &cfgErr):
		reason = "configuration"
	}
	metrics.ComposeFailures.WithLabelValues(reason).Inc()
	log.Warnw("Failed to compose notification", "stage", stage, "error", err)
}
