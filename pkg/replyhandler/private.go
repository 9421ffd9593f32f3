package replyhandler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/telekom/owners-notify/pkg/config"
	"github.com/telekom/owners-notify/pkg/mail"
	"github.com/telekom/owners-notify/pkg/owners"
)

const signatureLength = 16

// privateHandler sends one mail per recipient so that each reply address
// identifies the replying user.
type privateHandler struct {
	receiver
	domain string
	secret []byte
}

func newPrivateHandler(opts Options) (Handler, error) {
	if err := requireDomain(opts); err != nil {
		return nil, err
	}
	if opts.Secret == "" {
		return nil, &config.ConfigurationError{Field: "notify.replySecret", Reason: "required by the private reply handler"}
	}
	return &privateHandler{domain: opts.Domain, secret: []byte(opts.Secret)}, nil
}

func (h *privateHandler) MultiplexMail(template *mail.Message, to []owners.Handle, exclude []string) ([]*mail.Message, error) {
	id, err := h.receiverID()
	if err != nil {
		return nil, err
	}
	recipients := filterRecipients(to, exclude)

	mails := make([]*mail.Message, 0, len(recipients))
	for _, r := range recipients {
		m := template.Clone()
		m.To = []owners.Handle{r}
		m.ReplyTo = fmt.Sprintf("package-%s+%s+%s@%s", id, r.ID, h.sign(id, r.ID), h.domain)
		mails = append(mails, m)
	}
	return mails, nil
}

// sign returns the truncated HMAC of the receiver and user identifiers.
func (h *privateHandler) sign(receiverID, userID string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(receiverID + ":" + userID))
	return hex.EncodeToString(mac.Sum(nil))[:signatureLength]
}

// VerifyReplyAddress reports whether signature was issued for the receiver and user.
func VerifyReplyAddress(secret, receiverID, userID, signature string) bool {
	h := &privateHandler{secret: []byte(secret)}
	return hmac.Equal([]byte(h.sign(receiverID, userID)), []byte(signature))
}
