package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/telekom/owners-notify/pkg/api"
	"github.com/telekom/owners-notify/pkg/store"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func WriteObject(w io.Writer, format Format, obj any) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(obj, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	case FormatText:
		return fmt.Errorf("text format requires a specific formatter")
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// WriteMails prints prepared mails as plain text, separated by a rule.
func WriteMails(w io.Writer, mails []api.MailView) {
	for i, m := range mails {
		if i > 0 {
			_, _ = fmt.Fprintln(w, strings.Repeat("-", 72))
		}
		_, _ = fmt.Fprintf(w, "Subject: %s\n", m.Subject)
		_, _ = fmt.Fprintf(w, "To: %s\n", strings.Join(m.To, ", "))
		if m.ReplyTo != "" {
			_, _ = fmt.Fprintf(w, "Reply-To: %s\n", m.ReplyTo)
		}
		_, _ = fmt.Fprintf(w, "Thread: %s (first: %t)\n", m.ThreadID, m.FirstMessage)
		if m.Body != "" {
			_, _ = fmt.Fprintf(w, "\n%s\n", m.Body)
		}
	}
}

func WriteMailTable(w io.Writer, records []store.MailRecord) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tSUBJECT\tRECIPIENTS\tCREATED")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Subject, strings.Join(r.Recipients, ","), formatTime(r.CreatedAt))
	}
	_ = tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
