package replyhandler

import (
	"fmt"

	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/owners"
)

// publicHandler sends a single mail to every recipient.
type publicHandler struct {
	receiver
	domain string
}

func newPublicHandler(opts Options) (Handler, error) {
	if err := requireDomain(opts); err != nil {
		return nil, err
	}
	return &publicHandler{domain: opts.Domain}, nil
}

func (h *publicHandler) MultiplexMail(template *mail.Message, to []owners.Handle, exclude []string) ([]*mail.Message, error) {
	id, err := h.receiverID()
	if err != nil {
		return nil, err
	}
	recipients := filterRecipients(to, exclude)
	if len(recipients) == 0 {
		return []*mail.Message{}, nil
	}

	m := template.Clone()
	m.To = recipients
	m.ReplyTo = fmt.Sprintf("package-%s+public@%s", id, h.domain)
	return []*mail.Message{m}, nil
}
