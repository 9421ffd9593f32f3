package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/owners-notify/pkg/api"
	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/notify"
)

type notifyOptions struct {
	kind  string
	actor string
}

func (o *notifyOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.kind, "kind", string(notify.KindChanged), "Notification kind: created, changed, deleted")
	cmd.Flags().StringVar(&o.actor, "actor", "", "Identifier of the user who made the change")
	_ = cmd.MarkFlagRequired("actor")
}

func NewSendCommand() *cobra.Command {
	opts := &notifyOptions{}
	cmd := &cobra.Command{
		Use:   "send <package-id>",
		Short: "Compose and send the notification for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.runNotify(cmd.Context(), args[0], opts, true)
		},
	}
	opts.bind(cmd)
	return cmd
}

func NewPreviewCommand() *cobra.Command {
	opts := &notifyOptions{}
	cmd := &cobra.Command{
		Use:   "preview <package-id>",
		Short: "Print the mails a notification would produce without sending them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			return rt.runNotify(cmd.Context(), args[0], opts, false)
		},
	}
	opts.bind(cmd)
	return cmd
}

func (rt *runtimeState) runNotify(ctx context.Context, packageID string, opts *notifyOptions, send bool) (err error) {
	kind, err := notify.ParseKind(opts.kind)
	if err != nil {
		return err
	}

	app, err := NewApp(ctx, rt.cfg, rt.log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.GetShutdownTimeout())
		defer cancel()
		if closeErr := app.Close(closeCtx); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	pkg, err := app.Store.LoadPackage(ctx, packageID)
	if err != nil {
		return fmt.Errorf("loading package %s: %w", packageID, err)
	}
	pkg.ActorID = opts.actor

	var mails []*mail.Message
	if send {
		if err := app.StartMail(ctx); err != nil {
			return err
		}
		mails, err = app.Composer.Send(ctx, pkg, kind)
		if err != nil {
			if len(mails) > 0 {
				app.Audit.NotificationPrepared(ctx, pkg, kind.String(), mails)
			}
			app.Audit.NotificationFailed(ctx, pkg, kind.String(), err)
			return err
		}
		if len(mails) == 0 {
			app.Audit.NotificationSkipped(ctx, pkg, kind.String())
		} else {
			app.Audit.NotificationPrepared(ctx, pkg, kind.String(), mails)
		}
	} else {
		mails, err = app.Composer.PrepareMails(ctx, pkg, kind)
		if err != nil {
			return err
		}
	}

	resp := api.NotificationResponse{PackageID: pkg.ID, Kind: kind.String(), Skipped: len(mails) == 0, Mails: make([]api.MailView, 0, len(mails))}
	for _, m := range mails {
		resp.Mails = append(resp.Mails, api.NewMailView(m, !send))
	}

	w := rt.Writer()
	if rt.OutputFormat() != FormatText {
		return WriteObject(w, rt.OutputFormat(), resp)
	}
	if resp.Skipped {
		_, _ = fmt.Fprintf(w, "Notification for %s skipped\n", pkg.ID)
		return nil
	}
	WriteMails(w, resp.Mails)
	return nil
}

func NewMailsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mails <package-id>",
		Short: "List the stored mails of a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			app, err := NewApp(cmd.Context(), rt.cfg, rt.log)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			records, err := app.Store.ListMails(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rt.OutputFormat() != FormatText {
				return WriteObject(rt.Writer(), rt.OutputFormat(), records)
			}
			WriteMailTable(rt.Writer(), records)
			return nil
		},
	}
}
