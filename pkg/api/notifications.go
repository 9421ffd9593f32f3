// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/owners-notify/pkg/apiresponses"
	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/notify"
	"github.com/telekom/owners-notify/pkg/owners"
	"github.com/telekom/owners-notify/pkg/ratelimit"
	"github.com/telekom/owners-notify/pkg/store"
	"github.com/telekom/owners-notify/pkg/system"
)

// PackageSource loads stored packages and their mail history.
type PackageSource interface {
	LoadPackage(ctx context.Context, id string) (owners.Package, error)
	ListMails(ctx context.Context, relatedID string) ([]store.MailRecord, error)
	DeletePackage(ctx context.Context, id string) (store.PackageRecord, error)
	RestorePackage(ctx context.Context, rec store.PackageRecord) error
}

// Notifier composes package notifications.
type Notifier interface {
	PrepareMails(ctx context.Context, pkg owners.Package, v notify.Variant) ([]*mail.Message, error)
	Send(ctx context.Context, pkg owners.Package, v notify.Variant) ([]*mail.Message, error)
	Commit(ctx context.Context, pkg owners.Package, mails []*mail.Message) ([]*mail.Message, error)
}

// Auditor receives the notification audit trail. *audit.Manager implements it.
type Auditor interface {
	NotificationPrepared(ctx context.Context, pkg owners.Package, kind string, mails []*mail.Message)
	NotificationSkipped(ctx context.Context, pkg owners.Package, kind string)
	NotificationFailed(ctx context.Context, pkg owners.Package, kind string, err error)
}

// NotificationRequest is the body of the notification endpoints.
type NotificationRequest struct {
	Kind  string `json:"kind" binding:"required"`
	Actor string `json:"actor"`
}

// DeleteRequest is the body of the package deletion endpoint.
type DeleteRequest struct {
	Actor string `json:"actor"`
}

// MailView is the API representation of a prepared mail.
type MailView struct {
	ID           string   `json:"id" yaml:"id"`
	Subject      string   `json:"subject" yaml:"subject"`
	VarySubject  string   `json:"varySubject" yaml:"varySubject"`
	From         string   `json:"from" yaml:"from"`
	To           []string `json:"to" yaml:"to"`
	ReplyTo      string   `json:"replyTo,omitempty" yaml:"replyTo,omitempty"`
	ThreadID     string   `json:"threadID" yaml:"threadID"`
	FirstMessage bool     `json:"firstMessage" yaml:"firstMessage"`
	Bulk         bool     `json:"bulk" yaml:"bulk"`
	Body         string   `json:"body,omitempty" yaml:"body,omitempty"`
}

// NotificationResponse lists the mails a notification request produced.
type NotificationResponse struct {
	PackageID string     `json:"packageID" yaml:"packageID"`
	Kind      string     `json:"kind" yaml:"kind"`
	Skipped   bool       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Mails     []MailView `json:"mails" yaml:"mails"`
}

// NewMailView converts a message. The body is only included when withBody is set.
func NewMailView(m *mail.Message, withBody bool) MailView {
	v := MailView{
		ID:           m.ID,
		Subject:      m.Subject,
		VarySubject:  m.VarySubject,
		From:         m.From,
		To:           m.RecipientIDs(),
		ReplyTo:      m.ReplyTo,
		ThreadID:     m.ThreadID,
		FirstMessage: m.IsFirstMessage,
		Bulk:         m.IsBulk,
	}
	if withBody {
		v.Body = m.Body
	}
	return v
}

type NotificationController struct {
	log      *zap.SugaredLogger
	packages PackageSource
	notifier Notifier
	auditor  Auditor
	limiter  *ratelimit.Limiter
}

func NewNotificationController(log *zap.SugaredLogger, packages PackageSource, notifier Notifier, auditor Auditor) *NotificationController {
	return &NotificationController{
		log:      log,
		packages: packages,
		notifier: notifier,
		auditor:  auditor,
		limiter:  ratelimit.New(ratelimit.DefaultPackageConfig()),
	}
}

func (nc *NotificationController) BasePath() string {
	return "packages"
}

func (nc *NotificationController) Handlers() []gin.HandlerFunc {
	return nil
}

func (nc *NotificationController) Register(rg *gin.RouterGroup) error {
	rg.POST(":id/notifications", nc.limiter.Middleware("notifications", ratelimit.ByParam("id")), nc.handleSend)
	rg.POST(":id/notifications/preview", nc.handlePreview)
	rg.GET(":id/mails", nc.handleListMails)
	rg.DELETE(":id", nc.limiter.Middleware("delete", ratelimit.ByParam("id")), nc.handleDelete)
	return nil
}

// Stop releases the per-package limiter.
func (nc *NotificationController) Stop() {
	nc.limiter.Stop()
}

func (nc *NotificationController) handleSend(c *gin.Context) {
	nc.handle(c, true)
}

func (nc *NotificationController) handlePreview(c *gin.Context) {
	nc.handle(c, false)
}

func (nc *NotificationController) handle(c *gin.Context, send bool) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid notification request", err.Error())
		return
	}
	kind, err := notify.ParseKind(req.Kind)
	if err != nil {
		apiresponses.RespondBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	pkg, err := nc.packages.LoadPackage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apiresponses.RespondNotFound(c, "package", id)
			return
		}
		apiresponses.RespondInternalError(c, "load package", err, nc.log)
		return
	}
	pkg.ActorID = req.Actor

	var mails []*mail.Message
	if send {
		mails, err = nc.notifier.Send(ctx, pkg, kind)
	} else {
		mails, err = nc.notifier.PrepareMails(ctx, pkg, kind)
	}
	if err != nil {
		if send {
			nc.auditFailure(ctx, pkg, kind, mails, err)
		}
		nc.respondError(c, err)
		return
	}

	resp := NotificationResponse{PackageID: pkg.ID, Kind: kind.String(), Mails: make([]MailView, 0, len(mails))}
	for _, m := range mails {
		resp.Mails = append(resp.Mails, NewMailView(m, !send))
	}

	if len(mails) == 0 {
		resp.Skipped = true
		if send {
			nc.auditor.NotificationSkipped(ctx, pkg, kind.String())
		}
		apiresponses.RespondOK(c, resp)
		return
	}
	if !send {
		apiresponses.RespondOK(c, resp)
		return
	}
	nc.auditor.NotificationPrepared(ctx, pkg, kind.String(), mails)
	nc.log.Infow("Notification queued", append(system.PackageFields(pkg), "kind", kind, "mails", len(mails))...)
	c.JSON(http.StatusAccepted, resp)
}

// auditFailure records a failed send. Mails that were committed before the
// failure are audited as prepared so the trail matches the outbox.
func (nc *NotificationController) auditFailure(ctx context.Context, pkg owners.Package, kind notify.Kind, committed []*mail.Message, err error) {
	if len(committed) > 0 {
		nc.auditor.NotificationPrepared(ctx, pkg, kind.String(), committed)
	}
	nc.auditor.NotificationFailed(ctx, pkg, kind.String(), err)
}

// handleDelete renders the deletion notice while the owners are still on
// record, removes the package and then commits the mails. The package is
// restored when the mails cannot be committed.
func (nc *NotificationController) handleDelete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid delete request", err.Error())
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	pkg, err := nc.packages.LoadPackage(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			apiresponses.RespondNotFound(c, "package", id)
			return
		}
		apiresponses.RespondInternalError(c, "load package", err, nc.log)
		return
	}
	pkg.ActorID = req.Actor
	kind := notify.KindDeleted

	mails, err := nc.notifier.PrepareMails(ctx, pkg, kind)
	if err != nil {
		nc.auditor.NotificationFailed(ctx, pkg, kind.String(), err)
		nc.respondError(c, err)
		return
	}
	rec, err := nc.packages.DeletePackage(ctx, id)
	if err != nil {
		apiresponses.RespondInternalError(c, "delete package", err, nc.log)
		return
	}

	committed, err := nc.notifier.Commit(ctx, pkg, mails)
	if err != nil {
		if len(committed) == 0 {
			if restoreErr := nc.packages.RestorePackage(ctx, rec); restoreErr != nil {
				nc.log.Errorw("Failed to restore package after failed deletion notice",
					append(system.PackageFields(pkg), "error", restoreErr)...)
			}
		}
		nc.auditFailure(ctx, pkg, kind, committed, err)
		nc.respondError(c, err)
		return
	}
	nc.log.Infow("Package deleted", append(system.PackageFields(pkg), "mails", len(committed))...)

	resp := NotificationResponse{PackageID: pkg.ID, Kind: kind.String(), Mails: make([]MailView, 0, len(committed))}
	for _, m := range committed {
		resp.Mails = append(resp.Mails, NewMailView(m, false))
	}
	if len(committed) == 0 {
		resp.Skipped = true
		nc.auditor.NotificationSkipped(ctx, pkg, kind.String())
	} else {
		nc.auditor.NotificationPrepared(ctx, pkg, kind.String(), committed)
	}
	c.JSON(http.StatusAccepted, resp)
}

func (nc *NotificationController) respondError(c *gin.Context, err error) {
	var missing *notify.MissingDataError
	if errors.As(err, &missing) {
		apiresponses.RespondUnprocessableEntity(c, missing.Error())
		return
	}
	var delivery *mail.DeliveryError
	if errors.As(err, &delivery) {
		apiresponses.RespondServiceUnavailable(c, "mail delivery")
		return
	}
	apiresponses.RespondInternalError(c, "compose notification", err, nc.log)
}

func (nc *NotificationController) handleListMails(c *gin.Context) {
	records, err := nc.packages.ListMails(c.Request.Context(), c.Param("id"))
	if err != nil {
		apiresponses.RespondInternalError(c, "list mails", err, nc.log)
		return
	}
	if records == nil {
		records = []store.MailRecord{}
	}
	apiresponses.RespondOK(c, records)
}
